package relay

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/broadcast"
	"github.com/eleven-am/voice-relay/internal/media"
)

const sweepInterval = 500 * time.Millisecond

type videoKey struct {
	mode     media.VideoMode
	clientID uint32
}

// Channel groups clients. Every member hears every channel audio broadcast
// and may view any video broadcast.
type Channel struct {
	id  uint32
	env *environment
	log *slog.Logger

	mu               sync.RWMutex
	clients          map[uint32]*Client
	audio            map[uint32]*broadcast.Audio
	video            map[videoKey]*broadcast.Video
	directoryPending bool
	closed           bool

	stop     chan struct{}
	stopOnce sync.Once
}

func newChannel(id uint32, env *environment) *Channel {
	ch := &Channel{
		id:      id,
		env:     env,
		log:     env.log.With("channel_id", id),
		clients: make(map[uint32]*Client),
		audio:   make(map[uint32]*broadcast.Audio),
		video:   make(map[videoKey]*broadcast.Video),
		stop:    make(chan struct{}),
	}
	go sweepChannel(weak.Make(ch), env.clock.Ticker(sweepInterval), ch.stop)
	return ch
}

func sweepChannel(ref weak.Pointer[Channel], ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ch := ref.Value()
			if ch == nil {
				return
			}
			ch.SweepTimeouts(ch.env.clock.Now())
		}
	}
}

func (ch *Channel) ID() uint32 {
	return ch.id
}

// SweepTimeouts runs the timeout check of every broadcast in the channel.
func (ch *Channel) SweepTimeouts(now time.Time) {
	ch.mu.RLock()
	audio := slices.Collect(maps.Values(ch.audio))
	video := slices.Collect(maps.Values(ch.video))
	ch.mu.RUnlock()

	for _, b := range audio {
		b.TestTimeout(now)
	}
	for _, b := range video {
		b.TestTimeout(now)
	}
}

// RegisterClient adds the client as a member. Existing audio broadcasts and
// the video directory are delivered to it asynchronously.
func (ch *Channel) RegisterClient(c *Client) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.clients[c.ID()] = c
	ch.mu.Unlock()

	go ch.catchUp(c)
}

func (ch *Channel) catchUp(c *Client) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if ch.clients[c.ID()] != c {
		return
	}

	for _, owner := range slices.Sorted(maps.Keys(ch.audio)) {
		if owner != c.ID() {
			ch.audio[owner].RegisterSink(c)
		}
	}

	if ch.directoryPending {
		return
	}
	ch.env.notifier.VideoDirectory([]media.ClientData{c.Data()}, ch.directoryLocked())
}

// UnregisterClient removes the client, ends all of its broadcasts and
// detaches it from every broadcast it was receiving. Directory updates
// caused by ending its video broadcasts are suppressed unless
// updateDirectory is set.
func (ch *Channel) UnregisterClient(clientID uint32, updateDirectory bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	delete(ch.clients, clientID)

	suppressed := false
	if !updateDirectory && !ch.directoryPending {
		ch.directoryPending = true
		suppressed = true
	}

	ch.shutdownAudioLocked(clientID, "owner left")
	ch.shutdownVideoLocked(videoKey{media.VideoModeCamera, clientID}, "owner left")
	ch.shutdownVideoLocked(videoKey{media.VideoModeScreen, clientID}, "owner left")

	if suppressed {
		ch.directoryPending = false
	}

	for _, b := range ch.audio {
		b.RemoveSink(clientID)
	}
	for _, b := range ch.video {
		b.RemoveSink(clientID)
	}
}

func (ch *Channel) shutdownAudioLocked(clientID uint32, reason string) {
	b, ok := ch.audio[clientID]
	if !ok {
		return
	}
	delete(ch.audio, clientID)
	b.Close()
	ch.env.recorder.BroadcastEnded(ch.id, clientID, media.MediaTypeAudio, reason)
}

func (ch *Channel) shutdownVideoLocked(key videoKey, reason string) {
	b, ok := ch.video[key]
	if !ok {
		return
	}
	delete(ch.video, key)
	b.Close()
	ch.env.recorder.BroadcastEnded(ch.id, key.clientID, key.mode.MediaType(), reason)
	ch.requestDirectoryUpdateLocked()
}

// BroadcastAudio replaces the client's channel audio broadcast with one fed
// by the given stream.
func (ch *Channel) BroadcastAudio(clientID, streamID uint32) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	c, ok := ch.clients[clientID]
	if !ok {
		return ErrInvalidClient
	}

	ch.shutdownAudioLocked(clientID, "replaced")

	source, ok := c.CreateAudioSource(streamID)
	if !ok {
		return ErrNoSource
	}

	b := broadcast.NewAudio(broadcast.AudioModeChannel, source, clientID, c.Data(), ch.broadcastConfig(), func(b *broadcast.Audio) {
		ch.endAudio(clientID, b)
	})
	ch.audio[clientID] = b
	ch.env.recorder.BroadcastStarted(ch.id, clientID, media.MediaTypeAudio, streamID)

	go ch.fillAudio(b)
	return nil
}

func (ch *Channel) fillAudio(b *broadcast.Audio) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if ch.audio[b.OwnerID()] != b {
		return
	}
	for _, id := range slices.Sorted(maps.Keys(ch.clients)) {
		if id != b.OwnerID() {
			b.RegisterSink(ch.clients[id])
		}
	}
}

func (ch *Channel) endAudio(clientID uint32, b *broadcast.Audio) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.audio[clientID] == b {
		ch.shutdownAudioLocked(clientID, "source ended")
	}
}

// BroadcastVideo replaces the client's video broadcast of the given mode.
// Viewers join explicitly; the directory is updated either way.
func (ch *Channel) BroadcastVideo(clientID, streamID uint32, mode media.VideoMode, opts broadcast.Options) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	c, ok := ch.clients[clientID]
	if !ok {
		return ErrInvalidClient
	}

	key := videoKey{mode, clientID}
	ch.shutdownVideoLocked(key, "replaced")

	source, ok := c.CreateVideoSource(streamID)
	if !ok {
		return ErrNoSource
	}

	b := broadcast.NewVideo(mode, source, clientID, c.Data(), ch.broadcastConfig(), func(b *broadcast.Video) {
		ch.endVideo(key, b)
	})
	if err := b.Configure(opts); err != nil {
		b.Close()
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	ch.video[key] = b
	ch.env.recorder.BroadcastStarted(ch.id, clientID, mode.MediaType(), streamID)
	ch.requestDirectoryUpdateLocked()
	return nil
}

func (ch *Channel) endVideo(key videoKey, b *broadcast.Video) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.video[key] == b {
		ch.shutdownVideoLocked(key, "source ended")
	}
}

func (ch *Channel) VideoBroadcast(clientID uint32, mode media.VideoMode) (*broadcast.Video, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	b, ok := ch.video[videoKey{mode, clientID}]
	return b, ok
}

func (ch *Channel) AudioBroadcast(clientID uint32) (*broadcast.Audio, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	b, ok := ch.audio[clientID]
	return b, ok
}

// JoinVideo attaches the client as a viewer of target's broadcast.
func (ch *Channel) JoinVideo(clientID, targetID uint32, mode media.VideoMode) error {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	c, ok := ch.clients[clientID]
	if !ok {
		return ErrInvalidClient
	}
	b, ok := ch.video[videoKey{mode, targetID}]
	if !ok {
		return ErrInvalidBroadcast
	}
	b.RegisterSink(c)
	return nil
}

func (ch *Channel) LeaveVideo(clientID, targetID uint32, mode media.VideoMode) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if b, ok := ch.video[videoKey{mode, targetID}]; ok {
		b.RemoveSink(clientID)
	}
}

// requestDirectoryUpdateLocked schedules one directory push for all members.
// Requests made while a push is pending are merged into it.
func (ch *Channel) requestDirectoryUpdateLocked() {
	if ch.directoryPending || ch.closed {
		return
	}
	ch.directoryPending = true
	go ch.pushDirectory()
}

func (ch *Channel) pushDirectory() {
	ch.mu.Lock()
	ch.directoryPending = false
	if ch.closed {
		ch.mu.Unlock()
		return
	}

	recipients := make([]media.ClientData, 0, len(ch.clients))
	for _, id := range slices.Sorted(maps.Keys(ch.clients)) {
		recipients = append(recipients, ch.clients[id].Data())
	}
	infos := ch.directoryLocked()
	ch.mu.Unlock()

	ch.env.notifier.VideoDirectory(recipients, infos)
}

func (ch *Channel) directoryLocked() []media.BroadcastInfo {
	keys := slices.SortedFunc(maps.Keys(ch.video), func(a, b videoKey) int {
		if a.clientID != b.clientID {
			return int(a.clientID) - int(b.clientID)
		}
		return int(a.mode) - int(b.mode)
	})

	infos := make([]media.BroadcastInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, media.BroadcastInfo{
			Mode:       k.mode,
			ClientID:   k.clientID,
			ClientData: ch.video[k].OwnerData(),
		})
	}
	return infos
}

func (ch *Channel) HasClient(clientID uint32) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.clients[clientID]
	return ok
}

func (ch *Channel) ClientIDs() []uint32 {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return slices.Sorted(maps.Keys(ch.clients))
}

func (ch *Channel) broadcastConfig() broadcast.Config {
	return broadcast.Config{Clock: ch.env.clock, Log: ch.log}
}

// Close ends every broadcast and stops the timeout sweep. Members are not
// notified.
func (ch *Channel) Close() {
	ch.stopOnce.Do(func() { close(ch.stop) })

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return
	}
	ch.closed = true

	for id := range ch.audio {
		ch.shutdownAudioLocked(id, "channel closed")
	}
	for key := range ch.video {
		ch.shutdownVideoLocked(key, "channel closed")
	}
	clear(ch.clients)
}
