package rtc

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/sequence"
)

func opus(pt uint8, fmtp string) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: fmtp},
		PayloadType:        webrtc.PayloadType(pt),
	}
}

func TestAudioPayloadTypes(t *testing.T) {
	tests := []struct {
		name      string
		codecs    []webrtc.RTPCodecParameters
		wantVoice uint8
		wantMusic uint8
	}{
		{"no codecs", nil, opusVoicePayloadType, opusMusicPayloadType},
		{"mono and stereo", []webrtc.RTPCodecParameters{opus(109, "minptime=10"), opus(110, "stereo=1")}, 109, 110},
		{"only mono", []webrtc.RTPCodecParameters{opus(109, "minptime=10")}, 109, 109},
		{"only stereo", []webrtc.RTPCodecParameters{opus(110, "stereo=1")}, 110, 110},
		{"mono among others", []webrtc.RTPCodecParameters{opus(109, ""), {RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "audio/PCMU"}, PayloadType: 0}}, 109, opusMusicPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voice, music := audioPayloadTypes(tt.codecs)
			if voice != tt.wantVoice || music != tt.wantMusic {
				t.Errorf("expected (%d, %d), got (%d, %d)", tt.wantVoice, tt.wantMusic, voice, music)
			}
		})
	}
}

func TestAudioPayloadType_ByCodec(t *testing.T) {
	if got := audioPayloadType(testCodecs, media.AudioCodecOpusVoice); got != 109 {
		t.Errorf("expected voice payload type 109, got %d", got)
	}
	if got := audioPayloadType(testCodecs, media.AudioCodecOpusMusic); got != 110 {
		t.Errorf("expected music payload type 110, got %d", got)
	}
}

func TestVideoPayloadType(t *testing.T) {
	pt, ok := videoPayloadType(testCodecs, media.VideoCodecVP8)
	if !ok || pt != 96 {
		t.Errorf("expected VP8 payload type 96, got %d (ok=%v)", pt, ok)
	}
	if _, ok := videoPayloadType(testCodecs, media.VideoCodecH264); ok {
		t.Error("H264 should not be supported by the test codecs")
	}
}

func TestSlotTrack_PreferredCodec(t *testing.T) {
	audio := newSlotTrack("a", webrtc.RTPCodecTypeAudio, 0)
	c, ok := audio.preferredCodec(testCodecs)
	if !ok || c.PayloadType != 109 {
		t.Errorf("expected opus 109, got %d (ok=%v)", c.PayloadType, ok)
	}

	video := newSlotTrack("v", webrtc.RTPCodecTypeVideo, 0)
	c, ok = video.preferredCodec(testCodecs)
	if !ok || c.PayloadType != 96 {
		t.Errorf("expected VP8 96, got %d (ok=%v)", c.PayloadType, ok)
	}

	if _, ok := video.preferredCodec(testCodecs[:2]); ok {
		t.Error("video track should reject audio only codecs")
	}
}

func TestSlotTrack_Write_ContinuesAcrossBorrowers(t *testing.T) {
	w := &fakeRTPWriter{}
	track := newSlotTrack("a", webrtc.RTPCodecTypeAudio, 500)
	track.bind(&binding{writer: w, ssrc: 42})

	var first sequence.Rebaser
	for i := uint16(0); i < 3; i++ {
		if err := track.write(&first, rtp.Header{SequenceNumber: 7000 + i, Timestamp: 960 * uint32(i)}, []byte{1}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var second sequence.Rebaser
	if err := track.write(&second, rtp.Header{SequenceNumber: 10, Timestamp: 5}, []byte{2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := w.written()
	if len(got) != 4 {
		t.Fatalf("expected 4 packets, got %d", len(got))
	}
	for i, p := range got {
		if want := uint16(500 + i); p.header.SequenceNumber != want {
			t.Errorf("packet %d: expected seq %d, got %d", i, want, p.header.SequenceNumber)
		}
		if p.header.SSRC != 42 {
			t.Errorf("packet %d: expected ssrc 42, got %d", i, p.header.SSRC)
		}
	}
	if got[3].header.Timestamp != got[2].header.Timestamp {
		t.Errorf("second borrower should continue at the last timestamp %d, got %d", got[2].header.Timestamp, got[3].header.Timestamp)
	}
}

func TestSlotTrack_Write_Unbound(t *testing.T) {
	track := newSlotTrack("a", webrtc.RTPCodecTypeAudio, 0)
	var r sequence.Rebaser
	if err := track.write(&r, rtp.Header{}, []byte{1}); err != nil {
		t.Errorf("unbound write should be dropped silently, got %v", err)
	}
	if track.current() != nil {
		t.Error("track should not be bound")
	}
}
