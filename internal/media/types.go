package media

import "fmt"

// ClientData is the opaque value the host attaches to a client. The relay
// never inspects it and only hands it back through the Notifier.
type ClientData = any

type AudioCodec uint8

const (
	AudioCodecOpusVoice AudioCodec = 4
	AudioCodecOpusMusic AudioCodec = 5
)

func ParseAudioCodec(v uint8) (AudioCodec, bool) {
	switch c := AudioCodec(v); c {
	case AudioCodecOpusVoice, AudioCodecOpusMusic:
		return c, true
	}
	return 0, false
}

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpusVoice:
		return "opus-voice"
	case AudioCodecOpusMusic:
		return "opus-music"
	}
	return fmt.Sprintf("audio-codec(%d)", uint8(c))
}

type VideoCodec uint8

const (
	VideoCodecH264 VideoCodec = 0
	VideoCodecVP8  VideoCodec = 1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "h264"
	case VideoCodecVP8:
		return "vp8"
	}
	return fmt.Sprintf("video-codec(%d)", uint8(c))
}

// VideoMode distinguishes the two video broadcasts a client may run at once.
type VideoMode uint8

const (
	VideoModeCamera VideoMode = 0
	VideoModeScreen VideoMode = 1
)

func ParseVideoMode(v uint8) (VideoMode, bool) {
	m := VideoMode(v)
	return m, m.Valid()
}

func (m VideoMode) Valid() bool {
	return m == VideoModeCamera || m == VideoModeScreen
}

func (m VideoMode) MediaType() MediaType {
	if m == VideoModeScreen {
		return MediaTypeScreen
	}
	return MediaTypeCamera
}

func (m VideoMode) String() string {
	switch m {
	case VideoModeCamera:
		return "camera"
	case VideoModeScreen:
		return "screen"
	}
	return fmt.Sprintf("video-mode(%d)", uint8(m))
}

// MediaType labels what a sender slot carries when it is assigned.
type MediaType uint8

const (
	MediaTypeAudio   MediaType = 0
	MediaTypeWhisper MediaType = 1
	MediaTypeCamera  MediaType = 2
	MediaTypeScreen  MediaType = 3
)

func (t MediaType) IsVideo() bool {
	return t == MediaTypeCamera || t == MediaTypeScreen
}

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeWhisper:
		return "whisper"
	case MediaTypeCamera:
		return "camera"
	case MediaTypeScreen:
		return "screen"
	}
	return fmt.Sprintf("media-type(%d)", uint8(t))
}

type StopReason uint8

const (
	StopUser StopReason = iota
	StopTimeout
	// StopInternal is used when a sink is torn down by the relay itself.
	// Sinks must not report it to the host.
	StopInternal
)

func (r StopReason) String() string {
	switch r {
	case StopUser:
		return "user"
	case StopTimeout:
		return "timeout"
	case StopInternal:
		return "internal"
	}
	return fmt.Sprintf("stop-reason(%d)", uint8(r))
}

type AudioPacket struct {
	Payload   []byte
	Sequence  uint16
	Timestamp uint32
	Marked    bool
	Codec     AudioCodec
	Level     uint8
	HasLevel  bool
}

type VideoPacket struct {
	Payload   []byte
	Sequence  uint16
	Timestamp uint32
	Marked    bool
	KeyFrame  bool
	Codec     VideoCodec
}

type AudioEventKind uint8

const (
	AudioEventPacket AudioEventKind = iota
	AudioEventEnd
)

// AudioEvent is one item of an audio source's stream. The stream ending
// permanently is signalled by closing the channel.
type AudioEvent struct {
	Kind   AudioEventKind
	Packet AudioPacket
}

type VideoEventKind uint8

const (
	VideoEventPacket VideoEventKind = iota
	VideoEventSequenceEnd
)

type VideoEvent struct {
	Kind   VideoEventKind
	Packet VideoPacket
}

type SinkEvent uint8

const (
	SinkEventRequestPLI SinkEvent = iota + 1
)
