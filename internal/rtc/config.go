package rtc

const (
	defaultMaxVideoBitrate = 10_000_000
	defaultMaxSDPSize      = 64 * 1024
	defaultSlotGrowth      = 6
	maxOfferMediaLines     = 32
)

type Config struct {
	ICEServers []ICEServerConfig
	PortRange  PortRange
	// AudioSlots and VideoSlots are the sender slots added up front for
	// each new connection.
	AudioSlots      int
	VideoSlots      int
	MaxVideoBitrate uint32
	MaxSDPSize      int
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type PortRange struct {
	Min int
	Max int
}

func (c Config) withDefaults() Config {
	if c.MaxVideoBitrate == 0 {
		c.MaxVideoBitrate = defaultMaxVideoBitrate
	}
	if c.MaxSDPSize <= 0 {
		c.MaxSDPSize = defaultMaxSDPSize
	}
	if c.AudioSlots < 0 {
		c.AudioSlots = 0
	}
	if c.VideoSlots < 0 {
		c.VideoSlots = 0
	}
	return c
}
