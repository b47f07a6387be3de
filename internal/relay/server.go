// Package relay holds clients, channels and whisper sessions and exposes
// the operations the host drives them with.
package relay

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/broadcast"
	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/native"
)

// Recorder is told about every channel broadcast that starts or ends.
// Implementations must not block.
type Recorder interface {
	BroadcastStarted(channelID, clientID uint32, kind media.MediaType, streamID uint32)
	BroadcastEnded(channelID, clientID uint32, kind media.MediaType, reason string)
}

type nopRecorder struct{}

func (nopRecorder) BroadcastStarted(uint32, uint32, media.MediaType, uint32) {}
func (nopRecorder) BroadcastEnded(uint32, uint32, media.MediaType, string)   {}

type Options struct {
	Clock    clock.Clock
	Log      *slog.Logger
	Notifier media.Notifier
	Recorder Recorder
	RTC      RTCFactory
}

type environment struct {
	clock    clock.Clock
	log      *slog.Logger
	notifier media.Notifier
	recorder Recorder
}

type Stats struct {
	Clients  int `json:"clients"`
	Channels int `json:"channels"`
}

// Server is the root of the relay. All ids it hands out start at 1; 0 never
// names a client or channel.
type Server struct {
	env *environment
	rtc RTCFactory
	log *slog.Logger

	mu            sync.RWMutex
	clients       map[uint32]*Client
	channels      map[uint32]*Channel
	assignments   map[uint32]uint32
	nextClientID  uint32
	nextChannelID uint32
	closed        bool
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = media.NopNotifier{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	log := opts.Log.With("component", "relay")
	return &Server{
		env: &environment{
			clock:    opts.Clock,
			log:      log,
			notifier: opts.Notifier,
			recorder: opts.Recorder,
		},
		rtc:         opts.RTC,
		log:         log,
		clients:     make(map[uint32]*Client),
		channels:    make(map[uint32]*Channel),
		assignments: make(map[uint32]uint32),
	}
}

func nextID(counter *uint32, taken func(uint32) bool) uint32 {
	for {
		*counter++
		if *counter != 0 && !taken(*counter) {
			return *counter
		}
	}
}

func (s *Server) CreateClient(data media.ClientData) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	id := nextID(&s.nextClientID, func(id uint32) bool {
		_, ok := s.clients[id]
		return ok
	})
	s.clients[id] = newClient(id, data, s.env)
	s.log.Debug("client created", "client_id", id)
	return id, nil
}

// DestroyClient removes the client from its channel and releases its
// connections. It reports whether the client existed.
func (s *Server) DestroyClient(clientID uint32) bool {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.assignLocked(clientID, 0)
	delete(s.clients, clientID)
	s.mu.Unlock()

	c.close()
	s.log.Debug("client destroyed", "client_id", clientID)
	return true
}

func (s *Server) CreateChannel() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	id := nextID(&s.nextChannelID, func(id uint32) bool {
		_, ok := s.channels[id]
		return ok
	})
	s.channels[id] = newChannel(id, s.env)
	s.log.Debug("channel created", "channel_id", id)
	return id, nil
}

// DestroyChannel moves every member out of the channel and closes it.
func (s *Server) DestroyChannel(channelID uint32) bool {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for _, clientID := range slices.Sorted(maps.Keys(s.assignments)) {
		if s.assignments[clientID] == channelID {
			s.assignLocked(clientID, 0)
		}
	}
	delete(s.channels, channelID)
	s.mu.Unlock()

	ch.Close()
	s.log.Debug("channel destroyed", "channel_id", channelID)
	return true
}

// AssignChannel moves the client to the channel. Channel 0 means no channel.
func (s *Server) AssignChannel(clientID, channelID uint32) AssignResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return AssignClientUnknown
	}
	if _, ok := s.channels[channelID]; !ok && channelID != 0 {
		return AssignTargetChannelUnknown
	}
	s.assignLocked(clientID, channelID)
	return AssignSuccess
}

func (s *Server) assignLocked(clientID, channelID uint32) {
	if old, ok := s.assignments[clientID]; ok {
		if old == channelID {
			return
		}
		if ch, ok := s.channels[old]; ok {
			ch.UnregisterClient(clientID, false)
		}
		delete(s.assignments, clientID)
	}

	if channelID == 0 {
		return
	}
	ch, ok := s.channels[channelID]
	if !ok {
		return
	}
	s.assignments[clientID] = channelID
	ch.RegisterClient(s.clients[clientID])
}

func (s *Server) client(clientID uint32) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	return c, ok
}

// channelOfLocked must be called with s.mu held.
func (s *Server) channelOfLocked(clientID uint32) (*Channel, bool) {
	id, ok := s.assignments[clientID]
	if !ok {
		return nil, false
	}
	ch, ok := s.channels[id]
	return ch, ok
}

// ClientData returns the opaque data the client was created with.
func (s *Server) ClientData(clientID uint32) (media.ClientData, bool) {
	c, ok := s.client(clientID)
	if !ok {
		return nil, false
	}
	return c.Data(), true
}

func (s *Server) ChannelOf(clientID uint32) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.assignments[clientID]
	return id, ok
}

// InitializeRTC creates the client's peer connection.
func (s *Server) InitializeRTC(clientID uint32) (RTCTransport, error) {
	c, ok := s.client(clientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	if s.rtc == nil {
		return nil, ErrNoTransport
	}
	if t, ok := c.RTC(); ok {
		return t, ErrAlreadyInitialized
	}

	t, err := s.rtc.NewConnection(c.ID(), c.Data())
	if err != nil {
		return nil, err
	}
	if err := c.attachRTC(t); err != nil {
		_ = t.Close()
		existing, _ := c.RTC()
		return existing, err
	}
	return t, nil
}

func (s *Server) RTC(clientID uint32) (RTCTransport, error) {
	c, ok := s.client(clientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	t, ok := c.RTC()
	if !ok {
		return nil, ErrNoTransport
	}
	return t, nil
}

// InitializeNative creates the client's native connection. Calling it again
// returns the existing one.
func (s *Server) InitializeNative(clientID uint32) (*native.Connection, error) {
	c, ok := s.client(clientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	return c.attachNative(), nil
}

// AudioSupplier returns the input the host pushes native audio into.
func (s *Server) AudioSupplier(clientID, streamID uint32) (*native.Supplier, error) {
	c, ok := s.client(clientID)
	if !ok {
		return nil, ErrInvalidClient
	}
	conn, ok := c.Native()
	if !ok {
		return nil, ErrNoTransport
	}
	return conn.Supplier(streamID), nil
}

func (s *Server) ResetRTPSession(clientID uint32) error {
	t, err := s.RTC(clientID)
	if err != nil {
		return err
	}
	return t.Reset()
}

func (s *Server) VideoStreamCount(clientID uint32) (camera, screen int, status StreamCountStatus) {
	c, ok := s.client(clientID)
	if !ok {
		return 0, 0, StreamCountInvalidClient
	}
	t, ok := c.RTC()
	if !ok {
		return 0, 0, StreamCountOK
	}
	camera, screen = t.StreamCount()
	return camera, screen, StreamCountOK
}

// BroadcastAudio starts the client's channel audio from the stream. Stream 0
// only stops the current broadcast.
func (s *Server) BroadcastAudio(clientID, streamID uint32) BroadcastStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channelOfLocked(clientID)
	if !ok {
		return BroadcastNoChannel
	}
	return broadcastStatus(ch.BroadcastAudio(clientID, streamID), streamID)
}

func (s *Server) BroadcastVideo(clientID, streamID uint32, mode media.VideoMode, opts broadcast.Options) BroadcastStatus {
	if !mode.Valid() {
		return BroadcastInvalidMode
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channelOfLocked(clientID)
	if !ok {
		return BroadcastNoChannel
	}
	return broadcastStatus(ch.BroadcastVideo(clientID, streamID, mode, opts), streamID)
}

func broadcastStatus(err error, streamID uint32) BroadcastStatus {
	switch {
	case err == nil:
		return BroadcastOK
	case errors.Is(err, ErrInvalidClient):
		return BroadcastNoChannel
	case errors.Is(err, ErrNoSource):
		if streamID == 0 {
			return BroadcastOK
		}
		return BroadcastInvalidStream
	case errors.Is(err, ErrConfig):
		return BroadcastConfigError
	}
	return BroadcastConfigError
}

func (s *Server) videoBroadcast(clientID uint32, mode media.VideoMode) (*broadcast.Video, ConfigStatus) {
	if !mode.Valid() {
		return nil, ConfigInvalidMode
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channelOfLocked(clientID)
	if !ok {
		return nil, ConfigNoChannel
	}
	b, ok := ch.VideoBroadcast(clientID, mode)
	if !ok {
		return nil, ConfigNotBroadcasting
	}
	return b, ConfigOK
}

func (s *Server) ConfigureVideo(clientID uint32, mode media.VideoMode, opts broadcast.Options) ConfigStatus {
	b, status := s.videoBroadcast(clientID, mode)
	if status != ConfigOK {
		return status
	}
	if err := b.Configure(opts); err != nil {
		return ConfigNotBroadcasting
	}
	return ConfigOK
}

func (s *Server) VideoConfig(clientID uint32, mode media.VideoMode) (broadcast.Options, ConfigStatus) {
	b, status := s.videoBroadcast(clientID, mode)
	if status != ConfigOK {
		return broadcast.Options{}, status
	}
	return b.Config(), ConfigOK
}

func (s *Server) JoinVideo(clientID, targetID uint32, mode media.VideoMode) JoinResult {
	if !mode.Valid() {
		return JoinInvalidMode
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channelOfLocked(clientID)
	if !ok {
		return JoinInvalidClient
	}

	switch err := ch.JoinVideo(clientID, targetID, mode); {
	case err == nil:
		return JoinSuccess
	case errors.Is(err, ErrInvalidBroadcast):
		return JoinInvalidBroadcast
	}
	return JoinInvalidClient
}

func (s *Server) LeaveVideo(clientID, targetID uint32, mode media.VideoMode) {
	if !mode.Valid() {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if ch, ok := s.channelOfLocked(clientID); ok {
		ch.LeaveVideo(clientID, targetID, mode)
	}
}

// WhisperConfigure points the client's whisper session at the targets,
// creating the session from the stream when needed. Unknown targets are
// ignored; the client may target itself.
func (s *Server) WhisperConfigure(clientID, streamID uint32, targets []uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return ErrInvalidClient
	}

	session, err := c.whisperSession(streamID)
	if err != nil {
		return err
	}

	for _, id := range session.UpdateTargets(targets) {
		if t, ok := s.clients[id]; ok {
			session.Register(t)
		}
	}
	return nil
}

func (s *Server) WhisperReset(clientID uint32) error {
	c, ok := s.client(clientID)
	if !ok {
		return ErrInvalidClient
	}
	c.ResetWhisper()
	return nil
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Clients: len(s.clients), Channels: len(s.channels)}
}

func (s *Server) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close destroys every channel and client.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	channels := s.channels
	clients := s.clients
	s.channels = make(map[uint32]*Channel)
	s.clients = make(map[uint32]*Client)
	clear(s.assignments)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	for _, c := range clients {
		c.close()
	}
	s.log.Info("relay server closed")
}
