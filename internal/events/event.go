// Package events publishes relay notifications to Redis so that hosts and
// frontends can follow what happens to their clients.
package events

import (
	"fmt"
	"time"

	"github.com/eleven-am/voice-relay/internal/media"
)

type Type string

const (
	TypeStreamAssignment Type = "stream_assignment"
	TypeStreamStart      Type = "stream_start"
	TypeStreamStop       Type = "stream_stop"
	TypeVideoJoin        Type = "video_join"
	TypeVideoLeave       Type = "video_leave"
	TypeVideoDirectory   Type = "video_directory"
	TypeAudioData        Type = "audio_data"
	TypeWhisperReset     Type = "whisper_reset"
	TypeOffer            Type = "offer"
	TypeICECandidate     Type = "ice_candidate"
	TypeRTCConfigure     Type = "rtc_configure"
)

// Event is the JSON message published on a client's channel.
type Event struct {
	Type       Type        `json:"type"`
	Client     string      `json:"client"`
	StreamID   uint32      `json:"stream_id,omitempty"`
	Kind       string      `json:"kind,omitempty"`
	Source     string      `json:"source,omitempty"`
	Viewer     string      `json:"viewer,omitempty"`
	Broadcasts []Broadcast `json:"broadcasts,omitempty"`
	Mode       uint8       `json:"mode,omitempty"`
	Sequence   uint16      `json:"sequence,omitempty"`
	Codec      string      `json:"codec,omitempty"`
	Payload    []byte      `json:"payload,omitempty"`
	Stop       bool        `json:"stop,omitempty"`
	SDP        string      `json:"sdp,omitempty"`
	Candidate  string      `json:"candidate,omitempty"`
	Time       time.Time   `json:"time"`
}

type Broadcast struct {
	Mode     string `json:"mode"`
	ClientID uint32 `json:"client_id"`
	Client   string `json:"client"`
}

// Tag returns the string form of client data. Clients created through the
// API carry their tag as a string.
func Tag(data media.ClientData) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
