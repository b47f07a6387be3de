package relay

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/media"
)

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

type testRelay struct {
	server     *Server
	clock      *clock.Mock
	notifier   *recordingNotifier
	recorder   *recordingRecorder
	transports map[uint32]*fakeTransport
	mu         sync.Mutex
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{
		clock:      clock.NewMock(),
		notifier:   &recordingNotifier{},
		recorder:   &recordingRecorder{},
		transports: make(map[uint32]*fakeTransport),
	}
	tr.server = NewServer(Options{
		Clock:    tr.clock,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: tr.notifier,
		Recorder: tr.recorder,
		RTC: RTCFactoryFunc(func(id uint32, _ media.ClientData) (RTCTransport, error) {
			ft := newFakeTransport(id)
			tr.mu.Lock()
			tr.transports[id] = ft
			tr.mu.Unlock()
			return ft, nil
		}),
	})
	t.Cleanup(tr.server.Close)
	return tr
}

// client creates a client with an rtc connection that knows the streams.
func (tr *testRelay) client(t *testing.T, streams ...uint32) (uint32, *fakeTransport) {
	t.Helper()
	id, err := tr.server.CreateClient(fmt.Sprintf("client-%d", len(tr.transports)+1))
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := tr.server.InitializeRTC(id); err != nil {
		t.Fatalf("initialize rtc: %v", err)
	}
	tr.mu.Lock()
	ft := tr.transports[id]
	tr.mu.Unlock()
	for _, s := range streams {
		ft.streams[s] = true
	}
	return id, ft
}

func (tr *testRelay) channel(t *testing.T) uint32 {
	t.Helper()
	id, err := tr.server.CreateChannel()
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return id
}

type fakeSink struct {
	owner    uint32
	kind     media.MediaType
	sourceID uint32
	events   chan media.SinkEvent

	mu     sync.Mutex
	calls  []string
	closed int
}

func (s *fakeSink) OwnerID() uint32                { return s.owner }
func (s *fakeSink) OwnerData() media.ClientData    { return fmt.Sprintf("viewer-%d", s.owner) }
func (s *fakeSink) Events() <-chan media.SinkEvent { return s.events }
func (s *fakeSink) SendStart()                     { s.record("start") }
func (s *fakeSink) SendStop(r media.StopReason)    { s.record("stop:" + r.String()) }
func (s *fakeSink) Send(p media.AudioPacket)       { s.record(fmt.Sprintf("data:%d", p.Sequence)) }

func (s *fakeSink) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeVideoSink struct{ *fakeSink }

func (s fakeVideoSink) Send(p media.VideoPacket) { s.record(fmt.Sprintf("data:%d", p.Sequence)) }

type fakeAudioSource struct {
	id     uint32
	events chan media.AudioEvent
	once   sync.Once
}

func (s *fakeAudioSource) StreamID() uint32                { return s.id }
func (s *fakeAudioSource) Events() <-chan media.AudioEvent { return s.events }
func (s *fakeAudioSource) Close()                          { s.once.Do(func() { close(s.events) }) }

type fakeVideoSource struct {
	id     uint32
	events chan media.VideoEvent
	once   sync.Once

	mu      sync.Mutex
	bitrate uint32
	joins   []uint32
	leaves  []uint32
}

func (s *fakeVideoSource) StreamID() uint32                { return s.id }
func (s *fakeVideoSource) Events() <-chan media.VideoEvent { return s.events }
func (s *fakeVideoSource) RequestPLI()                     {}
func (s *fakeVideoSource) Close()                          { s.once.Do(func() { close(s.events) }) }

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

func (s *fakeVideoSource) joined() ([]uint32, []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.joins), slices.Clone(s.leaves)
}

type fakeTransport struct {
	id      uint32
	streams map[uint32]bool

	mu     sync.Mutex
	audio  map[uint32]*fakeAudioSource
	video  map[uint32]*fakeVideoSource
	sinks  []*fakeSink
	closed bool
}

func newFakeTransport(id uint32) *fakeTransport {
	return &fakeTransport{
		id:      id,
		streams: make(map[uint32]bool),
		audio:   make(map[uint32]*fakeAudioSource),
		video:   make(map[uint32]*fakeVideoSource),
	}
}

func (f *fakeTransport) CreateAudioSource(streamID uint32) (media.AudioSource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.streams[streamID] {
		return nil, false
	}
	s := &fakeAudioSource{id: streamID, events: make(chan media.AudioEvent, 16)}
	f.audio[streamID] = s
	return s, true
}

func (f *fakeTransport) CreateVideoSource(streamID uint32) (media.VideoSource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.streams[streamID] {
		return nil, false
	}
	s := &fakeVideoSource{id: streamID, events: make(chan media.VideoEvent, 16)}
	f.video[streamID] = s
	return s, true
}

func (f *fakeTransport) newSink(kind media.MediaType, sourceID uint32) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSink{owner: f.id, kind: kind, sourceID: sourceID, events: make(chan media.SinkEvent, 4)}
	f.sinks = append(f.sinks, s)
	return s
}

func (f *fakeTransport) CreateAudioSink(kind media.MediaType, sourceID uint32, _ media.ClientData) (media.AudioSink, bool) {
	return f.newSink(kind, sourceID), true
}

func (f *fakeTransport) CreateVideoSink(kind media.MediaType, sourceID uint32, _ media.ClientData) (media.VideoSink, bool) {
	return fakeVideoSink{f.newSink(kind, sourceID)}, true
}

func (f *fakeTransport) StreamCount() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var camera, screen int
	for _, s := range f.sinks {
		if s.closeCount() > 0 || s.sourceID == f.id {
			continue
		}
		switch s.kind {
		case media.MediaTypeCamera:
			camera++
		case media.MediaTypeScreen:
			screen++
		}
	}
	return camera, screen
}

func (f *fakeTransport) Reset() error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// sinksFrom returns the sinks of the given kind fed by sourceID.
func (f *fakeTransport) sinksFrom(kind media.MediaType, sourceID uint32) []*fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSink
	for _, s := range f.sinks {
		if s.kind == kind && s.sourceID == sourceID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) videoSource(streamID uint32) *fakeVideoSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video[streamID]
}

func (f *fakeTransport) audioSource(streamID uint32) *fakeAudioSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio[streamID]
}

type directoryCall struct {
	recipients []media.ClientData
	broadcasts []media.BroadcastInfo
}

type recordingNotifier struct {
	media.NopNotifier
	mu          sync.Mutex
	directories []directoryCall
	resets      []media.ClientData
}

func (n *recordingNotifier) VideoDirectory(recipients []media.ClientData, broadcasts []media.BroadcastInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.directories = append(n.directories, directoryCall{recipients, broadcasts})
}

func (n *recordingNotifier) WhisperSessionReset(owner media.ClientData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, owner)
}

func (n *recordingNotifier) directoryCalls() []directoryCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.directories)
}

func (n *recordingNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.resets)
}

type recordingRecorder struct {
	mu      sync.Mutex
	started []string
	ended   []string
}

func (r *recordingRecorder) BroadcastStarted(channelID, clientID uint32, kind media.MediaType, streamID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, fmt.Sprintf("%d/%d/%s/%d", channelID, clientID, kind, streamID))
}

func (r *recordingRecorder) BroadcastEnded(channelID, clientID uint32, kind media.MediaType, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, fmt.Sprintf("%d/%d/%s/%s", channelID, clientID, kind, reason))
}

func (r *recordingRecorder) endedCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ended)
}
