package bootstrap

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/eleven-am/voice-relay/internal/events"
	"github.com/eleven-am/voice-relay/internal/journal"
	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/rtc"
)

var _ relay.RTCTransport = (*rtc.Connection)(nil)

func ProvideRTCConfig(cfg *Config) rtc.Config {
	servers := make([]rtc.ICEServerConfig, len(cfg.RTCICEServers))
	for i, s := range cfg.RTCICEServers {
		servers[i] = rtc.ICEServerConfig{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		}
	}
	return rtc.Config{
		ICEServers:      servers,
		PortRange:       rtc.PortRange{Min: cfg.RTCPortMin, Max: cfg.RTCPortMax},
		AudioSlots:      cfg.RTCAudioSlots,
		VideoSlots:      cfg.RTCVideoSlots,
		MaxVideoBitrate: cfg.RTCMaxVideoBitrate,
	}
}

func ProvideEventPublisher(lc fx.Lifecycle, client *redis.Client, cfg *Config, clk clock.Clock, logger *slog.Logger) *events.Publisher {
	p := events.NewPublisher(client, events.Config{
		Prefix: cfg.EventsPrefix,
		Clock:  clk,
	}, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.Close()
		},
	})
	return p
}

func ProvideRTCManager(cfg rtc.Config, publisher *events.Publisher, logger *slog.Logger) (*rtc.Manager, error) {
	return rtc.NewManager(cfg, publisher, logger)
}

type RelayParams struct {
	fx.In

	Clock     clock.Clock
	Logger    *slog.Logger
	Publisher *events.Publisher
	Journal   *journal.Journal
	Manager   *rtc.Manager
}

func ProvideRelayServer(lc fx.Lifecycle, p RelayParams) *relay.Server {
	opts := relay.Options{
		Clock:    p.Clock,
		Log:      p.Logger,
		Notifier: media.MultiNotifier{p.Publisher},
		RTC: relay.RTCFactoryFunc(func(ownerID uint32, ownerData media.ClientData) (relay.RTCTransport, error) {
			conn, err := p.Manager.NewConnection(ownerID, ownerData)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
	}
	if p.Journal != nil {
		opts.Recorder = p.Journal
	}

	server := relay.NewServer(opts)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			server.Close()
			return nil
		},
	})
	return server
}

var RelayModule = fx.Options(
	fx.Provide(
		ProvideRTCConfig,
		ProvideEventPublisher,
		ProvideRTCManager,
		ProvideRelayServer,
	),
)
