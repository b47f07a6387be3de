package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/eleven-am/voice-relay/internal/media"
)

func newTestPublisher(t *testing.T, queue int) (*Publisher, *clock.Mock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mock := clock.NewMock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(client, Config{Prefix: "test", QueueSize: queue, Clock: mock}, logger)
	t.Cleanup(func() { p.Close() })

	return p, mock
}

func subscribe(t *testing.T, p *Publisher, tag string) *Subscription {
	t.Helper()
	sub, err := p.Subscribe(context.Background(), tag)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublisher_Channel(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	if got := p.Channel("alice"); got != "test:client:alice" {
		t.Errorf("expected test:client:alice, got %s", got)
	}
}

func TestPublisher_StreamEvents(t *testing.T) {
	p, mock := newTestPublisher(t, 0)
	sub := subscribe(t, p, "alice")

	p.StreamAssignment("alice", 1234, media.MediaTypeCamera, "bob")
	p.StreamStart("alice", 1234, "bob")
	p.StreamStop("alice", 1234, "bob")

	ev := next(t, sub)
	if ev.Type != TypeStreamAssignment || ev.StreamID != 1234 || ev.Kind != "camera" || ev.Source != "bob" {
		t.Errorf("unexpected assignment %+v", ev)
	}
	if !ev.Time.Equal(mock.Now()) {
		t.Errorf("expected event time from clock, got %v", ev.Time)
	}
	if ev := next(t, sub); ev.Type != TypeStreamStart {
		t.Errorf("expected stream start, got %s", ev.Type)
	}
	if ev := next(t, sub); ev.Type != TypeStreamStop {
		t.Errorf("expected stream stop, got %s", ev.Type)
	}
}

func TestPublisher_VideoDirectory_FansOut(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	alice := subscribe(t, p, "alice")
	bob := subscribe(t, p, "bob")

	p.VideoDirectory([]media.ClientData{"alice", "bob"}, []media.BroadcastInfo{
		{Mode: media.VideoModeScreen, ClientID: 3, ClientData: "carol"},
	})

	for _, sub := range []*Subscription{alice, bob} {
		ev := next(t, sub)
		if ev.Type != TypeVideoDirectory || len(ev.Broadcasts) != 1 {
			t.Fatalf("unexpected directory %+v", ev)
		}
		if b := ev.Broadcasts[0]; b.Mode != "screen" || b.ClientID != 3 || b.Client != "carol" {
			t.Errorf("unexpected broadcast %+v", b)
		}
	}
}

func TestPublisher_AudioSenderData(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	sub := subscribe(t, p, "alice")

	payload := []byte{1, 2, 3}
	p.AudioSenderData("alice", "bob", 1, 42, media.AudioCodecOpusMusic, payload)
	payload[0] = 9

	ev := next(t, sub)
	if ev.Type != TypeAudioData || ev.Mode != 1 || ev.Sequence != 42 || ev.Codec != media.AudioCodecOpusMusic.String() {
		t.Errorf("unexpected audio event %+v", ev)
	}
	if len(ev.Payload) != 3 || ev.Payload[0] != 1 {
		t.Errorf("payload should be copied at enqueue, got %v", ev.Payload)
	}
}

func TestPublisher_AudioSenderData_StopMarker(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	sub := subscribe(t, p, "alice")

	p.AudioSenderData("alice", "bob", 0, 1, media.AudioCodecOpusVoice, []byte{})
	p.AudioSenderData("alice", "bob", 0, 2, media.AudioCodecOpusVoice, nil)

	if ev := next(t, sub); ev.Stop || ev.Sequence != 1 {
		t.Errorf("zero-length packet published as stop: %+v", ev)
	}
	if ev := next(t, sub); !ev.Stop || ev.Sequence != 2 || len(ev.Payload) != 0 {
		t.Errorf("expected stop marker, got %+v", ev)
	}
}

func TestPublisher_SignalingEvents(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	sub := subscribe(t, p, "alice")

	if err := p.RTCConfigure("alice"); err != nil {
		t.Fatalf("RTCConfigure: %v", err)
	}
	p.OfferGenerated("alice", "v=0")
	p.ICECandidate("alice", "candidate:1")
	p.WhisperSessionReset("alice")
	p.VideoJoin("alice", 7, "bob")
	p.VideoLeave("alice", 7, "bob")

	want := []Type{TypeRTCConfigure, TypeOffer, TypeICECandidate, TypeWhisperReset, TypeVideoJoin, TypeVideoLeave}
	for _, w := range want {
		if ev := next(t, sub); ev.Type != w {
			t.Errorf("expected %s, got %s", w, ev.Type)
		}
	}
}

func TestPublisher_Close(t *testing.T) {
	p, _ := newTestPublisher(t, 0)
	sub := subscribe(t, p, "alice")

	p.StreamStart("alice", 1, "bob")
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ev := next(t, sub); ev.Type != TypeStreamStart {
		t.Errorf("queued event should be published on close, got %s", ev.Type)
	}

	p.StreamStop("alice", 1, "bob")
	if err := p.RTCConfigure("alice"); err == nil {
		t.Error("expected error after close")
	}
}

func TestPublisher_QueueFull(t *testing.T) {
	p := &Publisher{
		queue:  make(chan Event, 1),
		ctx:    context.Background(),
		clock:  clock.NewMock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	p.StreamStart("alice", 1, "bob")
	p.StreamStop("alice", 1, "bob")

	if p.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %d", p.Dropped())
	}
	if ev := <-p.queue; ev.Type != TypeStreamStart {
		t.Errorf("expected the first event to be kept, got %s", ev.Type)
	}
}

func TestTag(t *testing.T) {
	tests := []struct {
		in   media.ClientData
		want string
	}{
		{nil, ""},
		{"alice", "alice"},
		{42, "42"},
		{media.VideoModeScreen, "screen"},
	}
	for _, tt := range tests {
		if got := Tag(tt.in); got != tt.want {
			t.Errorf("Tag(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
