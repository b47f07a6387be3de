package broadcast

import (
	"log/slog"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/media"
)

type audioAttachment struct {
	sink media.AudioSink
	done chan struct{}
}

// Audio forwards the packets of one audio source to every registered sink.
// At most one sink exists per receiving client.
type Audio struct {
	mode      AudioMode
	ownerID   uint32
	ownerData media.ClientData
	clock     clock.Clock
	log       *slog.Logger
	onEnded   func(*Audio)

	mu           sync.Mutex
	source       media.AudioSource
	sinks        []*audioAttachment
	streaming    bool
	lastPacket   time.Time
	lastActivity time.Time
	closed       bool
}

// NewAudio creates the broadcast and starts pumping the source. onEnded runs
// once, outside any broadcast lock, when the source ends permanently.
func NewAudio(mode AudioMode, source media.AudioSource, ownerID uint32, ownerData media.ClientData, cfg Config, onEnded func(*Audio)) *Audio {
	b := newAudio(mode, source, ownerID, ownerData, cfg, onEnded)
	go pumpAudio(weak.Make(b), source.Events())
	return b
}

func newAudio(mode AudioMode, source media.AudioSource, ownerID uint32, ownerData media.ClientData, cfg Config, onEnded func(*Audio)) *Audio {
	cfg = cfg.withDefaults()
	return &Audio{
		mode:      mode,
		ownerID:   ownerID,
		ownerData: ownerData,
		clock:     cfg.Clock,
		log: cfg.Log.With(
			"broadcast", "audio",
			"mode", mode.String(),
			"client_id", ownerID,
			"stream_id", source.StreamID(),
		),
		onEnded:      onEnded,
		source:       source,
		lastActivity: cfg.Clock.Now(),
	}
}

func pumpAudio(ref weak.Pointer[Audio], events <-chan media.AudioEvent) {
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

func (b *Audio) dispatch(ev media.AudioEvent, ok bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return true
	}
	if !ok {
		return true
	}
	b.handleLocked(ev)
	return b.drainLocked()
}

func (b *Audio) finish() {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	b.log.Debug("audio source ended")
	if b.onEnded != nil {
		b.onEnded(b)
	}
}

// PollSource handles every event currently buffered on the source and
// reports whether the source ended.
func (b *Audio) PollSource() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return true
	}
	return b.drainLocked()
}

func (b *Audio) drainLocked() bool {
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

func (b *Audio) handleLocked(ev media.AudioEvent) {
	now := b.clock.Now()

	switch ev.Kind {
	case media.AudioEventEnd:
		b.stopLocked(media.StopUser)
		b.lastActivity = now

	case media.AudioEventPacket:
		if !b.streaming {
			for _, a := range b.sinks {
				a.sink.SendStart()
			}
			b.streaming = true
		}
		b.lastActivity = now
		b.lastPacket = now

		for _, a := range b.sinks {
			a.sink.Send(ev.Packet)
		}
	}
}

func (b *Audio) stopLocked(reason media.StopReason) {
	if !b.streaming {
		return
	}
	b.streaming = false
	for _, a := range b.sinks {
		a.sink.SendStop(reason)
	}
}

// TestTimeout stops the stream when no packet arrived within the audio
// timeout window.
func (b *Audio) TestTimeout(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streaming && elapsedSince(now, b.lastPacket) > audioTimeout {
		b.log.Debug("audio stream timed out")
		b.stopLocked(media.StopTimeout)
	}
}

// RegisterSink attaches the client as a receiver. Registering a client twice
// is a no-op, as is a client that cannot produce an audio sink.
func (b *Audio) RegisterSink(client AudioSinkFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.indexLocked(client.ID()) >= 0 {
		return
	}

	sink, ok := client.CreateAudioSink(b.mode.MediaType(), b.ownerID, b.ownerData)
	if !ok {
		b.log.Debug("client has no audio sink", "target_id", client.ID())
		return
	}

	if b.streaming {
		sink.SendStart()
	}

	a := &audioAttachment{sink: sink, done: make(chan struct{})}
	b.sinks = append(b.sinks, a)
	go watchAudioSink(weak.Make(b), a)
}

func watchAudioSink(ref weak.Pointer[Audio], a *audioAttachment) {
	events := a.sink.Events()
	for {
		select {
		case <-a.done:
			return
		case _, ok := <-events:
			if ok {
				continue
			}
			if b := ref.Value(); b != nil {
				b.reap(a)
			}
			return
		}
	}
}

func (b *Audio) reap(a *audioAttachment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.sinks, a)
	if i < 0 {
		return
	}
	b.log.Debug("reaping ended audio sink", "target_id", a.sink.OwnerID())
	b.detachLocked(i)
}

// RemoveSink detaches the client's sink and reports whether one existed.
func (b *Audio) RemoveSink(clientID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(clientID)
	if i < 0 {
		return false
	}
	b.detachLocked(i)
	return true
}

func (b *Audio) detachLocked(i int) {
	a := b.sinks[i]
	b.sinks = slices.Delete(b.sinks, i, i+1)
	close(a.done)
	a.sink.Close()
}

func (b *Audio) indexLocked(clientID uint32) int {
	return slices.IndexFunc(b.sinks, func(a *audioAttachment) bool {
		return a.sink.OwnerID() == clientID
	})
}

func (b *Audio) ContainsClient(clientID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexLocked(clientID) >= 0
}

func (b *Audio) ClientIDs() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uint32, 0, len(b.sinks))
	for _, a := range b.sinks {
		ids = append(ids, a.sink.OwnerID())
	}
	return ids
}

func (b *Audio) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

func (b *Audio) Streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streaming
}

func (b *Audio) OwnerID() uint32 {
	return b.ownerID
}

func (b *Audio) Mode() AudioMode {
	return b.mode
}

func (b *Audio) StreamID() uint32 {
	return b.source.StreamID()
}

// Close tears the broadcast down. Every sink is closed, which stops it with
// StopInternal, and the source is released. The ended callback does not run.
func (b *Audio) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.streaming = false

	for _, a := range b.sinks {
		close(a.done)
		a.sink.Close()
	}
	b.sinks = nil
	b.source.Close()
}
