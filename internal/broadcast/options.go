// Package broadcast fans one media source out to any number of sinks.
package broadcast

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/voice-relay/internal/media"
)

const (
	audioTimeout = 500 * time.Millisecond
	videoTimeout = 5000 * time.Millisecond

	pliMinInterval          = 500 * time.Millisecond
	defaultKeyframeInterval = 7 * time.Second
	fpsLogInterval          = 5 * time.Second

	levelTrace = slog.LevelDebug - 4
)

var ErrClosed = errors.New("broadcast closed")

// AudioMode selects how an audio broadcast is presented to its receivers.
type AudioMode uint8

const (
	AudioModeChannel AudioMode = iota
	AudioModeWhisper
)

func (m AudioMode) MediaType() media.MediaType {
	if m == AudioModeWhisper {
		return media.MediaTypeWhisper
	}
	return media.MediaTypeAudio
}

func (m AudioMode) String() string {
	if m == AudioModeWhisper {
		return "whisper"
	}
	return "channel"
}

// AudioSinkFactory is a client able to receive audio.
type AudioSinkFactory interface {
	ID() uint32
	CreateAudioSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.AudioSink, bool)
}

type VideoSinkFactory interface {
	ID() uint32
	CreateVideoSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.VideoSink, bool)
}

type Config struct {
	Clock clock.Clock
	Log   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

type OptionMask uint16

const (
	UpdateBitrate          OptionMask = 0x01
	UpdateKeyframeInterval OptionMask = 0x02
)

// Options configures a video broadcast. Only the fields flagged in
// UpdateMask are applied. A Bitrate of zero means unlimited and a
// KeyframeInterval of zero disables automatic keyframe requests.
type Options struct {
	UpdateMask       OptionMask `json:"update_mask"`
	Bitrate          uint32     `json:"bitrate"`
	KeyframeInterval uint32     `json:"keyframe_interval"`
}

func (o Options) Has(m OptionMask) bool {
	return o.UpdateMask&m != 0
}

func elapsedSince(now, then time.Time) time.Duration {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return d
}
