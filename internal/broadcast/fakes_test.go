package broadcast

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/media"
)

func testConfig(clk clock.Clock) Config {
	return Config{
		Clock: clk,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeAudioSource struct {
	id     uint32
	events chan media.AudioEvent
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newFakeAudioSource(id uint32) *fakeAudioSource {
	return &fakeAudioSource{id: id, events: make(chan media.AudioEvent, 64)}
}

func (s *fakeAudioSource) StreamID() uint32                { return s.id }
func (s *fakeAudioSource) Events() <-chan media.AudioEvent { return s.events }

func (s *fakeAudioSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
}

func (s *fakeAudioSource) end() {
	s.once.Do(func() { close(s.events) })
}

func (s *fakeAudioSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeAudioSource) packet(seq uint16) {
	s.events <- media.AudioEvent{
		Kind:   media.AudioEventPacket,
		Packet: media.AudioPacket{Sequence: seq, Codec: media.AudioCodecOpusVoice},
	}
}

func (s *fakeAudioSource) stop() {
	s.events <- media.AudioEvent{Kind: media.AudioEventEnd}
}

type fakeVideoSource struct {
	id      uint32
	events  chan media.VideoEvent
	once    sync.Once
	mu      sync.Mutex
	plis    int
	bitrate uint32
	joins   []uint32
	leaves  []uint32
	closed  bool
}

func newFakeVideoSource(id uint32) *fakeVideoSource {
	return &fakeVideoSource{id: id, events: make(chan media.VideoEvent, 64)}
}

func (s *fakeVideoSource) StreamID() uint32                { return s.id }
func (s *fakeVideoSource) Events() <-chan media.VideoEvent { return s.events }

func (s *fakeVideoSource) RequestPLI() {
	s.mu.Lock()
	s.plis++
	s.mu.Unlock()
}

func (s *fakeVideoSource) SetBitrate(bps uint32) {
	s.mu.Lock()
	s.bitrate = bps
	s.mu.Unlock()
}

func (s *fakeVideoSource) Bitrate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrate
}

func (s *fakeVideoSource) NotifyClientJoin(id uint32, _ media.ClientData) {
	s.mu.Lock()
	s.joins = append(s.joins, id)
	s.mu.Unlock()
}

func (s *fakeVideoSource) NotifyClientLeave(id uint32, _ media.ClientData) {
	s.mu.Lock()
	s.leaves = append(s.leaves, id)
	s.mu.Unlock()
}

func (s *fakeVideoSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
}

func (s *fakeVideoSource) pliCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plis
}

func (s *fakeVideoSource) packet(seq uint16, marked, key bool) {
	s.events <- media.VideoEvent{
		Kind: media.VideoEventPacket,
		Packet: media.VideoPacket{
			Sequence: seq,
			Marked:   marked,
			KeyFrame: key,
			Codec:    media.VideoCodecVP8,
		},
	}
}

// fakeSink records every call as a short string, for both audio and video.
type fakeSink struct {
	owner  uint32
	events chan media.SinkEvent
	mu     sync.Mutex
	calls  []string
	closes int
}

func newFakeSink(owner uint32) *fakeSink {
	return &fakeSink{owner: owner, events: make(chan media.SinkEvent, 8)}
}

func (s *fakeSink) OwnerID() uint32                { return s.owner }
func (s *fakeSink) OwnerData() media.ClientData    { return fmt.Sprintf("client-%d", s.owner) }
func (s *fakeSink) Events() <-chan media.SinkEvent { return s.events }

func (s *fakeSink) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSink) SendStart()                  { s.record("start") }
func (s *fakeSink) SendStop(r media.StopReason) { s.record("stop:" + r.String()) }
func (s *fakeSink) Send(p media.AudioPacket)    { s.record(fmt.Sprintf("data:%d", p.Sequence)) }

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
}

func (s *fakeSink) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeVideoSink struct {
	*fakeSink
}

func (s fakeVideoSink) Send(p media.VideoPacket) { s.record(fmt.Sprintf("data:%d", p.Sequence)) }

type fakeClient struct {
	id      uint32
	mu      sync.Mutex
	created int
	sinks   []*fakeSink
	noSink  bool
}

func (c *fakeClient) ID() uint32 { return c.id }

func (c *fakeClient) newSink() (*fakeSink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	if c.noSink {
		return nil, false
	}
	s := newFakeSink(c.id)
	c.sinks = append(c.sinks, s)
	return s, true
}

func (c *fakeClient) CreateAudioSink(media.MediaType, uint32, media.ClientData) (media.AudioSink, bool) {
	s, ok := c.newSink()
	if !ok {
		return nil, false
	}
	return s, true
}

func (c *fakeClient) CreateVideoSink(media.MediaType, uint32, media.ClientData) (media.VideoSink, bool) {
	s, ok := c.newSink()
	if !ok {
		return nil, false
	}
	return fakeVideoSink{s}, true
}

func (c *fakeClient) lastSink() *fakeSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sinks) == 0 {
		return nil
	}
	return c.sinks[len(c.sinks)-1]
}
