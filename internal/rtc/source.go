package rtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/sequence"
)

const (
	sourceBuffer  = 512
	silenceLevel  = 127
	levelTrace    = slog.LevelDebug - 4
	voiceActivity = 0x80
)

type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// attachment receives the traffic of a remote stream while it is attached.
type attachment interface {
	deliver(pkt *rtp.Packet)
	bye()
	end()
}

// remoteStream is one inbound track, keyed by its SSRC. At most one source
// is attached at a time; attaching a new one ends the previous.
type remoteStream struct {
	ssrc    uint32
	kind    webrtc.RTPCodecType
	levelID uint8

	mu      sync.Mutex
	current attachment
	ended   bool
}

func (r *remoteStream) attach(a attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended {
		a.end()
		return
	}
	if r.current != nil {
		r.current.end()
	}
	r.current = a
}

func (r *remoteStream) detach(a attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == a {
		r.current = nil
	}
}

func (r *remoteStream) deliver(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.deliver(pkt)
	}
}

func (r *remoteStream) bye() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.bye()
	}
}

func (r *remoteStream) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ended = true
	if r.current != nil {
		r.current.end()
		r.current = nil
	}
}

// parseAudio turns an inbound packet into an audio packet. Packets without
// the audio level extension, silence and unknown payload types are dropped.
func parseAudio(pkt *rtp.Packet, levelID uint8, virtSeq uint16) (media.AudioPacket, bool) {
	if levelID == 0 {
		return media.AudioPacket{}, false
	}
	ext := pkt.GetExtension(levelID)
	if len(ext) == 0 {
		return media.AudioPacket{}, false
	}

	voice := ext[0]&voiceActivity != 0
	level := ext[0] &^ voiceActivity
	if level == silenceLevel && !voice {
		return media.AudioPacket{}, false
	}

	var codec media.AudioCodec
	switch pkt.PayloadType {
	case opusVoicePayloadType:
		codec = media.AudioCodecOpusVoice
	case opusMusicPayloadType:
		codec = media.AudioCodecOpusMusic
	default:
		return media.AudioPacket{}, false
	}

	return media.AudioPacket{
		Payload:   pkt.Payload,
		Sequence:  virtSeq,
		Timestamp: pkt.Timestamp,
		Marked:    pkt.Marker,
		Codec:     codec,
		Level:     level,
		HasLevel:  true,
	}, true
}

// parseVideo turns an inbound packet into a video packet and detects key
// frames. Unknown payload types are dropped.
func parseVideo(pkt *rtp.Packet, virtSeq uint16) (media.VideoPacket, bool, error) {
	out := media.VideoPacket{
		Payload:   pkt.Payload,
		Sequence:  virtSeq,
		Timestamp: pkt.Timestamp,
		Marked:    pkt.Marker,
	}

	switch pkt.PayloadType {
	case h264PayloadType:
		out.Codec = media.VideoCodecH264
		out.KeyFrame = isH264Keyframe(pkt.Payload)
	case vp8PayloadType:
		out.Codec = media.VideoCodecVP8
		key, err := isVP8Keyframe(pkt.Payload)
		if err != nil {
			return out, false, err
		}
		out.KeyFrame = key
	default:
		return out, false, nil
	}
	return out, true, nil
}

type audioSource struct {
	stream *remoteStream
	log    *slog.Logger

	mu     sync.Mutex
	norm   sequence.Normalizer
	events chan media.AudioEvent
	closed bool
}

func newAudioSource(stream *remoteStream, log *slog.Logger) *audioSource {
	return &audioSource{
		stream: stream,
		log:    log.With("source", "audio", "stream_id", stream.ssrc),
		events: make(chan media.AudioEvent, sourceBuffer),
	}
}

func (s *audioSource) StreamID() uint32 {
	return s.stream.ssrc
}

func (s *audioSource) Events() <-chan media.AudioEvent {
	return s.events
}

func (s *audioSource) Close() {
	s.stream.detach(s)
	s.end()
}

func (s *audioSource) deliver(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	p, ok := parseAudio(pkt, s.stream.levelID, s.norm.Virtual(pkt.SequenceNumber))
	if !ok {
		return
	}
	s.pushLocked(media.AudioEvent{Kind: media.AudioEventPacket, Packet: p})
}

func (s *audioSource) bye() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.log.Log(context.Background(), levelTrace, "received bye")
		s.pushLocked(media.AudioEvent{Kind: media.AudioEventEnd})
	}
}

func (s *audioSource) pushLocked(ev media.AudioEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("audio source buffer full, dropping event")
	}
}

func (s *audioSource) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

type videoSource struct {
	stream    *remoteStream
	ownerData media.ClientData
	notifier  media.Notifier
	rtcp      rtcpWriter
	maxRate   uint32
	log       *slog.Logger

	mu      sync.Mutex
	norm    sequence.Normalizer
	bitrate uint32
	events  chan media.VideoEvent
	closed  bool
}

func newVideoSource(stream *remoteStream, ownerData media.ClientData, notifier media.Notifier, w rtcpWriter, maxRate uint32, log *slog.Logger) *videoSource {
	return &videoSource{
		stream:    stream,
		ownerData: ownerData,
		notifier:  notifier,
		rtcp:      w,
		maxRate:   maxRate,
		log:       log.With("source", "video", "stream_id", stream.ssrc),
		events:    make(chan media.VideoEvent, sourceBuffer),
	}
}

func (s *videoSource) StreamID() uint32 {
	return s.stream.ssrc
}

func (s *videoSource) Events() <-chan media.VideoEvent {
	return s.events
}

func (s *videoSource) RequestPLI() {
	err := s.rtcp.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: s.stream.ssrc},
	})
	if err != nil {
		s.log.Debug("failed to send pli", "error", err)
	}
}

func (s *videoSource) SetBitrate(bps uint32) {
	s.mu.Lock()
	s.bitrate = bps
	s.mu.Unlock()

	s.sendBitrate(bps)
}

func (s *videoSource) Bitrate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrate
}

func (s *videoSource) sendBitrate(bps uint32) {
	if bps == 0 || bps > s.maxRate {
		bps = s.maxRate
	}
	err := s.rtcp.WriteRTCP([]rtcp.Packet{
		&rtcp.ReceiverEstimatedMaximumBitrate{
			Bitrate: float32(bps),
			SSRCs:   []uint32{s.stream.ssrc},
		},
	})
	if err != nil {
		s.log.Debug("failed to send remb", "error", err)
	}
}

func (s *videoSource) NotifyClientJoin(clientID uint32, data media.ClientData) {
	s.log.Debug("viewer joined", "viewer_id", clientID)
	s.notifier.VideoJoin(s.ownerData, s.stream.ssrc, data)
}

func (s *videoSource) NotifyClientLeave(clientID uint32, data media.ClientData) {
	s.log.Debug("viewer left", "viewer_id", clientID)
	s.notifier.VideoLeave(s.ownerData, s.stream.ssrc, data)
}

func (s *videoSource) Close() {
	s.stream.detach(s)
	s.end()
}

func (s *videoSource) deliver(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	p, ok, err := parseVideo(pkt, s.norm.Virtual(pkt.SequenceNumber))
	if err != nil {
		s.log.Warn("dropping packet with malformed vp8 descriptor", "error", err)
		return
	}
	if !ok {
		s.log.Log(context.Background(), levelTrace, "dropping packet with unknown payload type", "payload_type", pkt.PayloadType)
		return
	}
	s.pushLocked(media.VideoEvent{Kind: media.VideoEventPacket, Packet: p})
}

func (s *videoSource) bye() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.log.Log(context.Background(), levelTrace, "received bye")
		s.pushLocked(media.VideoEvent{Kind: media.VideoEventSequenceEnd})
	}
}

func (s *videoSource) pushLocked(ev media.VideoEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("video source buffer full, dropping event")
	}
}

func (s *videoSource) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
