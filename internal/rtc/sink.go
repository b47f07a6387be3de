package rtc

import (
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/sequence"
)

const sinkEventBuffer = 8

// sinkBase carries one borrowed slot towards the remote peer.
type sinkBase struct {
	conn       *Connection
	slot       *slot
	sourceData media.ClientData
	log        *slog.Logger

	mu      sync.Mutex
	rebase  sequence.Rebaser
	events  chan media.SinkEvent
	stopped bool
	gone    bool
	closed  bool
}

func newSinkBase(conn *Connection, s *slot, sourceData media.ClientData) sinkBase {
	return sinkBase{
		conn:       conn,
		slot:       s,
		sourceData: sourceData,
		log:        conn.log.With("slot", s.ssrc),
		events:     make(chan media.SinkEvent, sinkEventBuffer),
	}
}

func (s *sinkBase) OwnerID() uint32 {
	return s.conn.ownerID
}

func (s *sinkBase) OwnerData() media.ClientData {
	return s.conn.ownerData
}

func (s *sinkBase) Events() <-chan media.SinkEvent {
	return s.events
}

func (s *sinkBase) SendStart() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.transmissionEnd(false)
	s.conn.notifier.StreamStart(s.conn.ownerData, s.slot.ssrc, s.sourceData)
}

func (s *sinkBase) SendStop(reason media.StopReason) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.transmissionEnd(reason != media.StopInternal)
}

func (s *sinkBase) transmissionEnd(notify bool) {
	if notify {
		s.conn.notifier.StreamStop(s.conn.ownerData, s.slot.ssrc, s.sourceData)
	}
	err := s.conn.writeRTCP([]rtcp.Packet{
		&rtcp.Goodbye{Sources: []uint32{s.slot.ssrc}},
	})
	if err != nil {
		s.log.Debug("failed to send bye", "error", err)
	}
}

func (s *sinkBase) write(h rtp.Header, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.slot.track.write(&s.rebase, h, payload); err != nil {
		s.log.Debug("failed to write rtp", "error", err)
	}
}

// requestPLI forwards a picture loss indication of the remote peer.
func (s *sinkBase) requestPLI() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return
	}
	select {
	case s.events <- media.SinkEventRequestPLI:
	default:
	}
}

// transportClosed ends the event stream once the slot is gone.
func (s *sinkBase) transportClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gone {
		s.gone = true
		close(s.events)
	}
}

func (s *sinkBase) closeSink(self slotUser) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.transmissionEnd(false)
	s.conn.release(s.slot, self)
}

type audioSink struct {
	sinkBase
}

func (s *audioSink) Send(p media.AudioPacket) {
	b := s.slot.track.current()
	if b == nil {
		return
	}

	h := rtp.Header{
		PayloadType:    audioPayloadType(b.codecs, p.Codec),
		SequenceNumber: p.Sequence,
		Timestamp:      p.Timestamp,
		Marker:         p.Marked,
	}
	if p.HasLevel && b.levelID != 0 {
		if err := h.SetExtension(b.levelID, []byte{p.Level}); err != nil {
			s.log.Debug("failed to set audio level", "error", err)
		}
	}
	s.write(h, p.Payload)
}

func (s *audioSink) Close() {
	s.closeSink(s)
}

type videoSink struct {
	sinkBase

	codecMu     sync.Mutex
	unsupported bool
}

func (s *videoSink) Send(p media.VideoPacket) {
	b := s.slot.track.current()
	if b == nil {
		return
	}

	pt, ok := videoPayloadType(b.codecs, p.Codec)

	s.codecMu.Lock()
	report := !ok && !s.unsupported
	s.unsupported = !ok
	s.codecMu.Unlock()

	if report {
		s.log.Info("peer does not support the video codec, dropping data", "codec", p.Codec.String())
	}
	if !ok {
		return
	}

	s.write(rtp.Header{
		PayloadType:    pt,
		SequenceNumber: p.Sequence,
		Timestamp:      p.Timestamp,
		Marker:         p.Marked,
	}, p.Payload)
}

func (s *videoSink) Close() {
	s.closeSink(s)
}
