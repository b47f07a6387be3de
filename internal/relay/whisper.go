package relay

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/broadcast"
	"github.com/eleven-am/voice-relay/internal/media"
)

const (
	whisperTick        = 500 * time.Millisecond
	whisperIdleTimeout = 10 * time.Second
)

var whisperSessionIDs atomic.Uint32

func nextWhisperSessionID() uint32 {
	for {
		if id := whisperSessionIDs.Add(1); id != 0 {
			return id
		}
	}
}

// WhisperSession sends one client's audio privately to a chosen set of
// targets. It finishes on its own after a period without activity.
type WhisperSession struct {
	id        uint32
	streamID  uint32
	broadcast *broadcast.Audio
	env       *environment
	owner     weak.Pointer[Client]

	mu      sync.Mutex
	targets []uint32

	stop     chan struct{}
	stopOnce sync.Once
}

func newWhisperSession(owner *Client, streamID uint32, source media.AudioSource) *WhisperSession {
	env := owner.env
	cfg := broadcast.Config{Clock: env.clock, Log: env.log}
	return &WhisperSession{
		id:        nextWhisperSessionID(),
		streamID:  streamID,
		broadcast: broadcast.NewAudio(broadcast.AudioModeWhisper, source, owner.id, owner.data, cfg, nil),
		env:       env,
		owner:     weak.Make(owner),
		stop:      make(chan struct{}),
	}
}

func (s *WhisperSession) start() {
	go watchWhisper(weak.Make(s), s.env.clock.Ticker(whisperTick), s.stop)
}

func watchWhisper(ref weak.Pointer[WhisperSession], ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := ref.Value()
			if s == nil {
				return
			}
			if !s.tick(s.env.clock.Now()) {
				continue
			}
			s.Close()
			if owner := s.owner.Value(); owner != nil {
				owner.finishWhisper(s.id)
			}
			return
		}
	}
}

func (s *WhisperSession) ID() uint32 {
	return s.id
}

func (s *WhisperSession) StreamID() uint32 {
	return s.streamID
}

// UpdateTargets drops every current target not in ids and returns the ids
// that still need to be registered.
func (s *WhisperSession) UpdateTargets(ids []uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.targets[:0:0]
	for _, id := range s.targets {
		if slices.Contains(ids, id) {
			kept = append(kept, id)
			continue
		}
		s.broadcast.RemoveSink(id)
	}
	s.targets = kept

	var missing []uint32
	for _, id := range ids {
		if !slices.Contains(s.targets, id) && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *WhisperSession) Register(target *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcast.RegisterSink(target)
	if !slices.Contains(s.targets, target.ID()) {
		s.targets = append(s.targets, target.ID())
	}
}

func (s *WhisperSession) Targets() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.targets)
}

// tick runs the timeout check and reports whether the session went idle.
func (s *WhisperSession) tick(now time.Time) bool {
	s.broadcast.TestTimeout(now)
	return now.Sub(s.broadcast.LastActivity()) > whisperIdleTimeout
}

func (s *WhisperSession) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.broadcast.Close()
}
