package relay

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/native"
)

// AudioTransport is a connection able to carry audio in both directions.
type AudioTransport interface {
	CreateAudioSource(streamID uint32) (media.AudioSource, bool)
	CreateAudioSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.AudioSink, bool)
	Close() error
}

// RTCTransport is the peer connection of a client.
type RTCTransport interface {
	AudioTransport
	CreateVideoSource(streamID uint32) (media.VideoSource, bool)
	CreateVideoSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.VideoSink, bool)
	// StreamCount returns the number of video slots currently carrying
	// another client's camera and screen.
	StreamCount() (camera, screen int)
	Reset() error
}

type RTCFactory interface {
	NewConnection(ownerID uint32, ownerData media.ClientData) (RTCTransport, error)
}

type RTCFactoryFunc func(ownerID uint32, ownerData media.ClientData) (RTCTransport, error)

func (f RTCFactoryFunc) NewConnection(ownerID uint32, ownerData media.ClientData) (RTCTransport, error) {
	return f(ownerID, ownerData)
}

// Client is one participant. It owns at most one rtc and one native
// connection and at most one whisper session.
type Client struct {
	id   uint32
	data media.ClientData
	env  *environment
	log  *slog.Logger

	mu        sync.Mutex
	rtc       RTCTransport
	native    *native.Connection
	whisper   *WhisperSession
	whisperID uint32
	closed    bool
}

func newClient(id uint32, data media.ClientData, env *environment) *Client {
	return &Client{
		id:   id,
		data: data,
		env:  env,
		log:  env.log.With("client_id", id),
	}
}

func (c *Client) ID() uint32 {
	return c.id
}

func (c *Client) Data() media.ClientData {
	return c.data
}

func (c *Client) attachRTC(t RTCTransport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rtc != nil {
		return ErrAlreadyInitialized
	}
	c.rtc = t
	return nil
}

func (c *Client) RTC() (RTCTransport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtc, c.rtc != nil
}

func (c *Client) attachNative() *native.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.native == nil {
		c.native = native.NewConnection(c.id, c.data, c.env.notifier, c.env.log)
	}
	return c.native
}

func (c *Client) Native() (*native.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native, c.native != nil
}

// CreateAudioSource prefers the native connection over the rtc one.
func (c *Client) CreateAudioSource(streamID uint32) (media.AudioSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createAudioSourceLocked(streamID)
}

func (c *Client) createAudioSourceLocked(streamID uint32) (media.AudioSource, bool) {
	if c.native != nil {
		return c.native.CreateAudioSource(streamID)
	}
	if c.rtc != nil {
		return c.rtc.CreateAudioSource(streamID)
	}
	return nil, false
}

func (c *Client) CreateVideoSource(streamID uint32) (media.VideoSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rtc == nil {
		return nil, false
	}
	return c.rtc.CreateVideoSource(streamID)
}

func (c *Client) CreateAudioSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.AudioSink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.native != nil {
		return c.native.CreateAudioSink(kind, sourceID, sourceData)
	}
	if c.rtc != nil {
		return c.rtc.CreateAudioSink(kind, sourceID, sourceData)
	}
	return nil, false
}

func (c *Client) CreateVideoSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.VideoSink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rtc == nil {
		return nil, false
	}
	return c.rtc.CreateVideoSink(kind, sourceID, sourceData)
}

// whisperSession returns the running session for the stream or replaces the
// current one with a fresh session.
func (c *Client) whisperSession(streamID uint32) (*WhisperSession, error) {
	c.mu.Lock()

	if c.whisper != nil && c.whisper.streamID == streamID {
		s := c.whisper
		c.mu.Unlock()
		return s, nil
	}

	source, ok := c.createAudioSourceLocked(streamID)
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoSource
	}

	old := c.whisper
	s := newWhisperSession(c, streamID, source)
	c.whisper = s
	c.whisperID = s.id
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.start()
	c.log.Debug("whisper session created", "session_id", s.id, "stream_id", streamID)
	return s, nil
}

// ResetWhisper drops the current whisper session without notifying the host.
func (c *Client) ResetWhisper() {
	c.mu.Lock()
	s := c.whisper
	c.whisper = nil
	c.whisperID = 0
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// finishWhisper clears the session if it is still the current one and
// reports the reset to the host.
func (c *Client) finishWhisper(sessionID uint32) {
	c.mu.Lock()
	if c.whisperID != sessionID {
		c.mu.Unlock()
		return
	}
	c.whisper = nil
	c.whisperID = 0
	c.mu.Unlock()

	c.log.Debug("whisper session finished", "session_id", sessionID)
	c.env.notifier.WhisperSessionReset(c.data)
}

func (c *Client) close() {
	c.ResetWhisper()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.rtc != nil {
		if err := c.rtc.Close(); err != nil {
			c.log.Warn("failed to close rtc connection", "error", err)
		}
		c.rtc = nil
	}
	if c.native != nil {
		if err := c.native.Close(); err != nil {
			c.log.Warn("failed to close native connection", "error", err)
		}
		c.native = nil
	}
}
