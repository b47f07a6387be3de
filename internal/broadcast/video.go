package broadcast

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/media"
)

type videoAttachment struct {
	sink media.VideoSink
	done chan struct{}
}

// Video forwards one video source to its viewers and arbitrates keyframe
// requests towards the source.
type Video struct {
	mode      media.VideoMode
	ownerID   uint32
	ownerData media.ClientData
	clock     clock.Clock
	log       *slog.Logger
	onEnded   func(*Video)

	mu           sync.Mutex
	source       media.VideoSource
	sinks        []*videoAttachment
	streaming    bool
	lastPacket   time.Time
	lastActivity time.Time
	closed       bool

	pliLast  time.Time
	pliTimer *clock.Timer
	pliGen   uint64

	keyframeInterval time.Duration
	lastKeyframe     time.Time
	seenKeyframe     bool

	fps       *fpsCounter
	fpsLogged time.Time
}

func NewVideo(mode media.VideoMode, source media.VideoSource, ownerID uint32, ownerData media.ClientData, cfg Config, onEnded func(*Video)) *Video {
	b := newVideo(mode, source, ownerID, ownerData, cfg, onEnded)
	go pumpVideo(weak.Make(b), source.Events())
	return b
}

func newVideo(mode media.VideoMode, source media.VideoSource, ownerID uint32, ownerData media.ClientData, cfg Config, onEnded func(*Video)) *Video {
	cfg = cfg.withDefaults()
	now := cfg.Clock.Now()
	return &Video{
		mode:      mode,
		ownerID:   ownerID,
		ownerData: ownerData,
		clock:     cfg.Clock,
		log: cfg.Log.With(
			"broadcast", "video",
			"mode", mode.String(),
			"client_id", ownerID,
			"stream_id", source.StreamID(),
		),
		onEnded:          onEnded,
		source:           source,
		lastActivity:     now,
		pliLast:          now,
		keyframeInterval: defaultKeyframeInterval,
		fps:              newFPSCounter(now),
		fpsLogged:        now,
	}
}

func pumpVideo(ref weak.Pointer[Video], events <-chan media.VideoEvent) {
	for {
		ev, ok := <-events
		b := ref.Value()
		if b == nil {
			return
		}
		if b.dispatch(ev, ok) {
			b.finish()
			return
		}
	}
}

func (b *Video) dispatch(ev media.VideoEvent, ok bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !ok {
		return true
	}
	b.handleLocked(ev)
	return b.drainLocked()
}

func (b *Video) finish() {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	b.log.Debug("video source ended")
	if b.onEnded != nil {
		b.onEnded(b)
	}
}

// PollSource handles every buffered source event and reports whether the
// source ended.
func (b *Video) PollSource() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return true
	}
	return b.drainLocked()
}

func (b *Video) drainLocked() bool {
	events := b.source.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return true
			}
			b.handleLocked(ev)
		default:
			return false
		}
	}
}

func (b *Video) handleLocked(ev media.VideoEvent) {
	now := b.clock.Now()

	switch ev.Kind {
	case media.VideoEventSequenceEnd:
		b.stopLocked(media.StopUser)
		b.lastActivity = now

	case media.VideoEventPacket:
		p := ev.Packet
		if !b.streaming {
			for _, a := range b.sinks {
				a.sink.SendStart()
			}
			b.streaming = true
		}

		if p.Marked {
			b.fps.logFrame(now)
			if now.Sub(b.fpsLogged) >= fpsLogInterval {
				b.fpsLogged = now
				b.log.Log(context.Background(), levelTrace, "video frame rate",
					"fps", b.fps.current(now),
					"average_fps", b.fps.average(),
				)
			}
		}

		if p.KeyFrame {
			b.lastKeyframe = now
			b.seenKeyframe = true
		} else if b.seenKeyframe && b.keyframeInterval > 0 && elapsedSince(now, b.lastKeyframe) >= b.keyframeInterval {
			b.requestPLILocked(false)
			b.lastKeyframe = now
		}

		b.lastActivity = now
		b.lastPacket = now
		for _, a := range b.sinks {
			a.sink.Send(p)
		}
	}
}

func (b *Video) stopLocked(reason media.StopReason) {
	b.cancelPLITimerLocked()
	b.seenKeyframe = false

	if !b.streaming {
		return
	}
	b.streaming = false
	b.fps.reset()
	for _, a := range b.sinks {
		a.sink.SendStop(reason)
	}
}

// TestTimeout stops the stream when no packet arrived within the video
// timeout window.
func (b *Video) TestTimeout(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streaming && elapsedSince(now, b.lastPacket) > videoTimeout {
		b.log.Debug("video stream timed out")
		b.stopLocked(media.StopTimeout)
	}
}

// RequestPLI asks the source for a keyframe. Unforced requests are limited
// to one per interval; a request inside the interval is deferred once.
func (b *Video) RequestPLI(force bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.requestPLILocked(force)
}

func (b *Video) requestPLILocked(force bool) {
	now := b.clock.Now()
	elapsed := elapsedSince(now, b.pliLast)

	if force || elapsed >= pliMinInterval {
		b.cancelPLITimerLocked()
		b.pliLast = now
		b.log.Log(context.Background(), levelTrace, "requesting keyframe", "forced", force)
		b.source.RequestPLI()
		return
	}

	if b.pliTimer != nil {
		return
	}

	b.pliGen++
	gen := b.pliGen
	ref := weak.Make(b)
	remaining := pliMinInterval - elapsed
	b.log.Log(context.Background(), levelTrace, "deferring keyframe request", "delay", remaining)
	b.pliTimer = b.clock.AfterFunc(remaining, func() {
		if v := ref.Value(); v != nil {
			v.deferredPLI(gen)
		}
	})
}

func (b *Video) deferredPLI(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.pliTimer == nil || gen != b.pliGen {
		return
	}
	b.pliTimer = nil
	b.requestPLILocked(true)
}

func (b *Video) cancelPLITimerLocked() {
	if b.pliTimer == nil {
		return
	}
	b.pliTimer.Stop()
	b.pliTimer = nil
	b.pliGen++
}

func (b *Video) PLIPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pliTimer != nil
}

// RegisterSink adds the client as a viewer and forces a keyframe so it can
// start decoding.
func (b *Video) RegisterSink(client VideoSinkFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.indexLocked(client.ID()) >= 0 {
		return
	}

	sink, ok := client.CreateVideoSink(b.mode.MediaType(), b.ownerID, b.ownerData)
	if !ok {
		b.log.Debug("client has no video sink", "target_id", client.ID())
		return
	}

	if b.streaming {
		sink.SendStart()
	}
	b.source.NotifyClientJoin(sink.OwnerID(), sink.OwnerData())

	a := &videoAttachment{sink: sink, done: make(chan struct{})}
	b.sinks = append(b.sinks, a)
	go watchVideoSink(weak.Make(b), a)

	b.requestPLILocked(true)
}

func watchVideoSink(ref weak.Pointer[Video], a *videoAttachment) {
	events := a.sink.Events()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-events:
			b := ref.Value()
			if b == nil {
				return
			}
			if !ok {
				b.reap(a)
				return
			}
			if ev == media.SinkEventRequestPLI {
				b.sinkRequestedPLI(a)
			}
		}
	}
}

func (b *Video) sinkRequestedPLI(a *videoAttachment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !slices.Contains(b.sinks, a) {
		return
	}
	b.requestPLILocked(false)
}

func (b *Video) reap(a *videoAttachment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.sinks, a)
	if i < 0 {
		return
	}
	b.log.Debug("reaping ended video sink", "target_id", a.sink.OwnerID())
	b.detachLocked(i)
}

// RemoveSink detaches the client's sink and reports whether one existed.
func (b *Video) RemoveSink(clientID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(clientID)
	if i < 0 {
		return false
	}
	b.detachLocked(i)
	return true
}

func (b *Video) detachLocked(i int) {
	a := b.sinks[i]
	b.sinks = slices.Delete(b.sinks, i, i+1)
	close(a.done)
	b.source.NotifyClientLeave(a.sink.OwnerID(), a.sink.OwnerData())
	a.sink.Close()
}

func (b *Video) indexLocked(clientID uint32) int {
	return slices.IndexFunc(b.sinks, func(a *videoAttachment) bool {
		return a.sink.OwnerID() == clientID
	})
}

// Configure applies the flagged options. The bitrate is forwarded to the
// source; the keyframe interval is given in milliseconds.
func (b *Video) Configure(opts Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if opts.Has(UpdateBitrate) {
		b.source.SetBitrate(opts.Bitrate)
	}
	if opts.Has(UpdateKeyframeInterval) {
		b.keyframeInterval = time.Duration(opts.KeyframeInterval) * time.Millisecond
	}
	return nil
}

// Config reports the effective options. Bitrate is zero when unlimited.
func (b *Video) Config() Options {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Options{
		UpdateMask:       UpdateBitrate | UpdateKeyframeInterval,
		Bitrate:          b.source.Bitrate(),
		KeyframeInterval: uint32(b.keyframeInterval / time.Millisecond),
	}
}

func (b *Video) FPS() (current uint32, average float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fps.current(b.clock.Now()), b.fps.average()
}

func (b *Video) ContainsClient(clientID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexLocked(clientID) >= 0
}

func (b *Video) ClientIDs() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uint32, 0, len(b.sinks))
	for _, a := range b.sinks {
		ids = append(ids, a.sink.OwnerID())
	}
	return ids
}

func (b *Video) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

func (b *Video) Streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streaming
}

func (b *Video) OwnerID() uint32 {
	return b.ownerID
}

func (b *Video) OwnerData() media.ClientData {
	return b.ownerData
}

func (b *Video) Mode() media.VideoMode {
	return b.mode
}

func (b *Video) StreamID() uint32 {
	return b.source.StreamID()
}

func (b *Video) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.streaming = false
	b.cancelPLITimerLocked()

	for _, a := range b.sinks {
		close(a.done)
		a.sink.Close()
	}
	b.sinks = nil
	b.source.Close()
}
