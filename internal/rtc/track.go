package rtc

import (
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
)

const (
	opusVoicePayloadType = 111
	opusMusicPayloadType = 112
	vp8PayloadType       = 120
	h264PayloadType      = 126
)

type rtpWriter interface {
	WriteRTP(header *rtp.Header, payload []byte) (int, error)
}

// binding is what a negotiated transceiver hands to a slot track.
type binding struct {
	writer  rtpWriter
	ssrc    uint32
	codecs  []webrtc.RTPCodecParameters
	levelID uint8
}

// slotTrack is a local track whose payload type is picked per packet from
// the codecs the remote accepted. Sequence numbering continues across the
// sinks borrowing it.
type slotTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType

	mu      sync.RWMutex
	bound   *binding
	nextSeq uint16
	lastTS  uint32
}

func newSlotTrack(id string, kind webrtc.RTPCodecType, firstSeq uint16) *slotTrack {
	return &slotTrack{
		id:       id,
		streamID: "relay-" + id,
		kind:     kind,
		nextSeq:  firstSeq,
	}
}

func (t *slotTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	codecs := ctx.CodecParameters()
	chosen, ok := t.preferredCodec(codecs)
	if !ok {
		return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
	}

	var levelID uint8
	for _, ext := range ctx.HeaderExtensions() {
		if ext.URI == sdp.AudioLevelURI {
			levelID = uint8(ext.ID)
		}
	}

	t.bind(&binding{
		writer:  ctx.WriteStream(),
		ssrc:    uint32(ctx.SSRC()),
		codecs:  codecs,
		levelID: levelID,
	})
	return chosen, nil
}

func (t *slotTrack) Unbind(webrtc.TrackLocalContext) error {
	t.bind(nil)
	return nil
}

func (t *slotTrack) ID() string                { return t.id }
func (t *slotTrack) RID() string               { return "" }
func (t *slotTrack) StreamID() string          { return t.streamID }
func (t *slotTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *slotTrack) bind(b *binding) {
	t.mu.Lock()
	t.bound = b
	t.mu.Unlock()
}

func (t *slotTrack) current() *binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bound
}

func (t *slotTrack) preferredCodec(codecs []webrtc.RTPCodecParameters) (webrtc.RTPCodecParameters, bool) {
	for _, c := range codecs {
		switch t.kind {
		case webrtc.RTPCodecTypeAudio:
			if isMime(c, webrtc.MimeTypeOpus) {
				return c, true
			}
		case webrtc.RTPCodecTypeVideo:
			if isMime(c, webrtc.MimeTypeVP8) || isMime(c, webrtc.MimeTypeH264) {
				return c, true
			}
		}
	}
	return webrtc.RTPCodecParameters{}, false
}

// write rebases the packet through r and sends it. Packets are dropped
// silently while the track is not negotiated.
func (t *slotTrack) write(r rebaser, h rtp.Header, payload []byte) error {
	t.mu.Lock()
	b := t.bound
	h.SequenceNumber, h.Timestamp = r.Map(t.nextSeq, t.lastTS, h.SequenceNumber, h.Timestamp)
	t.nextSeq = h.SequenceNumber + 1
	t.lastTS = h.Timestamp
	t.mu.Unlock()

	if b == nil {
		return nil
	}
	h.Version = 2
	h.SSRC = b.ssrc
	_, err := b.writer.WriteRTP(&h, payload)
	return err
}

type rebaser interface {
	Map(nextSeq uint16, lastTS uint32, virtSeq uint16, virtTS uint32) (uint16, uint32)
}

func isMime(c webrtc.RTPCodecParameters, mime string) bool {
	return strings.EqualFold(c.MimeType, mime)
}

func isStereo(c webrtc.RTPCodecParameters) bool {
	return strings.Contains(c.SDPFmtpLine, "stereo=1")
}

// audioPayloadTypes resolves the payload types for opus voice and music from
// the remote codecs. A remote that offers a single opus flavour gets it for
// both.
func audioPayloadTypes(codecs []webrtc.RTPCodecParameters) (voice, music uint8) {
	voice, music = opusVoicePayloadType, opusMusicPayloadType

	var mono, stereo *webrtc.RTPCodecParameters
	for i := range codecs {
		c := &codecs[i]
		if !isMime(*c, webrtc.MimeTypeOpus) {
			continue
		}
		if isStereo(*c) {
			if stereo == nil {
				stereo = c
			}
		} else if mono == nil {
			mono = c
		}
	}

	if len(codecs) == 1 {
		if mono != nil {
			return uint8(mono.PayloadType), uint8(mono.PayloadType)
		}
		if stereo != nil {
			return uint8(stereo.PayloadType), uint8(stereo.PayloadType)
		}
		return voice, music
	}

	if mono != nil {
		voice = uint8(mono.PayloadType)
	}
	if stereo != nil {
		music = uint8(stereo.PayloadType)
	}
	return voice, music
}

func audioPayloadType(codecs []webrtc.RTPCodecParameters, codec media.AudioCodec) uint8 {
	voice, music := audioPayloadTypes(codecs)
	if codec == media.AudioCodecOpusMusic {
		return music
	}
	return voice
}

func videoPayloadType(codecs []webrtc.RTPCodecParameters, codec media.VideoCodec) (uint8, bool) {
	mime := webrtc.MimeTypeVP8
	if codec == media.VideoCodecH264 {
		mime = webrtc.MimeTypeH264
	}
	for _, c := range codecs {
		if isMime(c, mime) {
			return uint8(c.PayloadType), true
		}
	}
	return 0, false
}
