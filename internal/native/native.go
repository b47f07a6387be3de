// Package native carries audio between the relay and a host-side client
// that does not speak WebRTC. Packets are exchanged as plain payloads.
package native

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-relay/internal/media"
)

const (
	StreamChannel uint32 = 1
	StreamWhisper uint32 = 2

	inputBuffer = 1024
)

const (
	modeChannel uint8 = 0
	modeWhisper uint8 = 1
)

// input is the event channel of the source currently bound to a stream.
type input struct {
	mu     sync.Mutex
	events chan media.AudioEvent
	log    *slog.Logger
}

func (in *input) replace() chan media.AudioEvent {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.events != nil {
		close(in.events)
	}
	in.events = make(chan media.AudioEvent, inputBuffer)
	return in.events
}

func (in *input) push(ev media.AudioEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.events == nil {
		return
	}
	select {
	case in.events <- ev:
	default:
		in.log.Warn("native audio input full, dropping event")
	}
}

func (in *input) detach(events chan media.AudioEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.events == events {
		close(in.events)
		in.events = nil
	}
}

func (in *input) close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.events != nil {
		close(in.events)
		in.events = nil
	}
}

// Connection is the native transport of one client. It has one input for
// channel audio and one for whisper audio.
type Connection struct {
	ownerID   uint32
	ownerData media.ClientData
	notifier  media.Notifier
	log       *slog.Logger

	channel *input
	whisper *input
}

func NewConnection(ownerID uint32, ownerData media.ClientData, notifier media.Notifier, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}
	log = log.With("component", "native", "client_id", ownerID)
	return &Connection{
		ownerID:   ownerID,
		ownerData: ownerData,
		notifier:  notifier,
		log:       log,
		channel:   &input{log: log.With("stream_id", StreamChannel)},
		whisper:   &input{log: log.With("stream_id", StreamWhisper)},
	}
}

func (c *Connection) inputFor(streamID uint32) (*input, bool) {
	switch streamID {
	case StreamChannel:
		return c.channel, true
	case StreamWhisper:
		return c.whisper, true
	}
	return nil, false
}

// CreateAudioSource binds a fresh source to the stream. The previous source
// of that stream ends.
func (c *Connection) CreateAudioSource(streamID uint32) (media.AudioSource, bool) {
	in, ok := c.inputFor(streamID)
	if !ok {
		return nil, false
	}
	return &source{streamID: streamID, input: in, events: in.replace()}, true
}

// Supplier returns the host-facing end of a stream. Unknown streams fall
// back to channel audio.
func (c *Connection) Supplier(streamID uint32) *Supplier {
	in, ok := c.inputFor(streamID)
	if !ok {
		in = c.channel
	}
	return &Supplier{input: in}
}

func (c *Connection) CreateAudioSink(kind media.MediaType, _ uint32, sourceData media.ClientData) (media.AudioSink, bool) {
	var mode uint8
	switch kind {
	case media.MediaTypeAudio:
		mode = modeChannel
	case media.MediaTypeWhisper:
		mode = modeWhisper
	default:
		return nil, false
	}

	s := &sink{
		ownerID:    c.ownerID,
		ownerData:  c.ownerData,
		sourceData: sourceData,
		mode:       mode,
		notifier:   c.notifier,
		lastCodec:  media.AudioCodecOpusVoice,
	}
	// Receivers reset their sequence tracking on a stop.
	s.SendStop(media.StopInternal)
	return s, true
}

func (c *Connection) Close() error {
	c.channel.close()
	c.whisper.close()
	return nil
}

type source struct {
	streamID uint32
	input    *input
	events   chan media.AudioEvent
}

func (s *source) StreamID() uint32 {
	return s.streamID
}

func (s *source) Events() <-chan media.AudioEvent {
	return s.events
}

func (s *source) Close() {
	s.input.detach(s.events)
}

// Supplier feeds host audio into a connection input. Stop packets are not
// part of the voice sequence, so they are subtracted from incoming numbers.
type Supplier struct {
	input *input

	mu        sync.Mutex
	stopCount uint16
}

func (s *Supplier) Send(payload []byte, seq uint16, marked bool, timestamp uint32, codec media.AudioCodec) {
	s.mu.Lock()
	seq -= s.stopCount
	s.mu.Unlock()

	s.input.push(media.AudioEvent{
		Kind: media.AudioEventPacket,
		Packet: media.AudioPacket{
			Payload:   bytes.Clone(payload),
			Sequence:  seq,
			Timestamp: timestamp,
			Marked:    marked,
			Codec:     codec,
		},
	})
}

func (s *Supplier) SendStop() {
	s.mu.Lock()
	s.stopCount++
	s.mu.Unlock()

	s.input.push(media.AudioEvent{Kind: media.AudioEventEnd})
}

// Supply is the raw host entry point. A nil payload is a stop; packets with
// an unsupported codec are ignored.
func (s *Supplier) Supply(seq uint16, marked bool, timestamp uint32, codec uint8, payload []byte) bool {
	c, ok := media.ParseAudioCodec(codec)
	if !ok {
		return false
	}
	if payload == nil {
		s.SendStop()
		return true
	}
	s.Send(payload, seq, marked, timestamp, c)
	return true
}

type sink struct {
	ownerID    uint32
	ownerData  media.ClientData
	sourceData media.ClientData
	mode       uint8
	notifier   media.Notifier

	mu        sync.Mutex
	lastCodec media.AudioCodec
	lastSeq   uint16
	stopCount uint16
}

func (s *sink) OwnerID() uint32 {
	return s.ownerID
}

func (s *sink) SendStart() {}

func (s *sink) Send(p media.AudioPacket) {
	s.mu.Lock()
	s.lastCodec = p.Codec
	s.lastSeq = p.Sequence
	seq := s.lastSeq + s.stopCount
	s.mu.Unlock()

	payload := p.Payload
	if payload == nil {
		// nil is reserved for the stop marker sent by SendStop.
		payload = []byte{}
	}
	s.notifier.AudioSenderData(s.ownerData, s.sourceData, s.mode, seq, p.Codec, payload)
}

func (s *sink) SendStop(media.StopReason) {
	s.mu.Lock()
	s.stopCount++
	seq := s.lastSeq + s.stopCount
	codec := s.lastCodec
	s.mu.Unlock()

	s.notifier.AudioSenderData(s.ownerData, s.sourceData, s.mode, seq, codec, nil)
}

// Events is nil: a native sink never ends by itself.
func (s *sink) Events() <-chan media.SinkEvent {
	return nil
}

func (s *sink) Close() {}
