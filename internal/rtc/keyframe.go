package rtc

import (
	"github.com/pion/rtp/codecs"
)

const (
	naluIDR   = 5
	naluSPS   = 7
	naluSTAPA = 24
	naluFUA   = 28
)

var vp8StartCode = [3]byte{0x9d, 0x01, 0x2a}

// isVP8Keyframe reports whether the payload starts the first partition of a
// VP8 key frame.
func isVP8Keyframe(payload []byte) (bool, error) {
	var pkt codecs.VP8Packet
	frame, err := pkt.Unmarshal(payload)
	if err != nil {
		return false, err
	}
	if pkt.S != 1 || pkt.PID != 0 {
		return false, nil
	}
	if len(frame) < 6 {
		return false, nil
	}
	// P bit clear marks a key frame, which always carries the start code.
	if frame[0]&0x01 != 0 {
		return false, nil
	}
	return [3]byte(frame[3:6]) == vp8StartCode, nil
}

func isH264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	switch nalu := payload[0] & 0x1f; {
	case nalu == 0:
		return false
	case nalu < naluSTAPA:
		return nalu == naluIDR || nalu == naluSPS
	case nalu == naluSTAPA:
		for i := 1; i+2 <= len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if size == 0 || i+size > len(payload) {
				return false
			}
			if t := payload[i] & 0x1f; t == naluIDR || t == naluSPS {
				return true
			}
			i += size
		}
		return false
	case nalu == naluFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1f == naluIDR
	default:
		return false
	}
}
