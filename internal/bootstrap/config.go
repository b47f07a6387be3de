package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	ServerAddr string
	GRPCAddr   string
	LogLevel   string

	AdminToken     string
	RateLimitRPS   float64
	RateLimitBurst int

	RTCICEServers      []ICEServerConfig
	RTCPortMin         int
	RTCPortMax         int
	RTCAudioSlots      int
	RTCVideoSlots      int
	RTCMaxVideoBitrate uint32

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventsPrefix  string

	TokenAPIKey    string
	TokenAPISecret string
	TokenURL       string
	TokenTTL       time.Duration
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":50051"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 100),

		RTCICEServers: parseICEServers(
			getEnv("RTC_ICE_SERVERS", defaultSTUN),
			getEnv("RTC_ICE_USERNAME", ""),
			getEnv("RTC_ICE_CREDENTIAL", ""),
		),
		RTCPortMin:         getEnvInt("RTC_PORT_MIN", 10000),
		RTCPortMax:         getEnvInt("RTC_PORT_MAX", 20000),
		RTCAudioSlots:      getEnvInt("RTC_AUDIO_SLOTS", 6),
		RTCVideoSlots:      getEnvInt("RTC_VIDEO_SLOTS", 6),
		RTCMaxVideoBitrate: uint32(getEnvInt("RTC_MAX_VIDEO_BITRATE", 10_000_000)),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		EventsPrefix:  getEnv("EVENTS_PREFIX", "relay"),

		TokenAPIKey:    getEnv("TOKEN_API_KEY", ""),
		TokenAPISecret: getEnv("TOKEN_API_SECRET", ""),
		TokenURL:       getEnv("TOKEN_URL", ""),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 6*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseICEServers splits a comma separated URL list. The credentials apply
// to every turn: URL.
func parseICEServers(envValue, username, credential string) []ICEServerConfig {
	var servers []ICEServerConfig
	for _, url := range strings.Split(envValue, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		s := ICEServerConfig{URLs: []string{url}}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}

	if len(servers) == 0 {
		return []ICEServerConfig{{URLs: []string{defaultSTUN}}}
	}
	return servers
}
