package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chat-client/internal/logging"
)

type Config struct {
	API           APIConfig
	Socket        SocketConfig
	Session       SessionConfig
	Chat          ChatConfig
	Notifications NotificationsConfig
	Archive       ArchiveConfig
	AMQP          AMQPConfig
	Tracing       TracingConfig
	Debug         DebugConfig
	Log           logging.Config
	Environment   string
}

type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RefreshSkew time.Duration `mapstructure:"refresh_skew"`
}

type SocketConfig struct {
	URL                  string        `mapstructure:"url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
}

type SessionConfig struct {
	Backend       string `mapstructure:"backend"`
	File          string `mapstructure:"file"`
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

type ChatConfig struct {
	UserID        int           `mapstructure:"user_id"`
	OpenChatID    int           `mapstructure:"open_chat_id"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	TypingTimeout time.Duration `mapstructure:"typing_timeout"`
	TypingIdle    time.Duration `mapstructure:"typing_idle"`
}

type NotificationsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageSize     int           `mapstructure:"page_size"`
}

type ArchiveConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config.yaml from configPath (if present) and overlays environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("api.base_url", "http://localhost:3001")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.refresh_skew", "30s")
	v.SetDefault("socket.url", "ws://localhost:3001/ws")
	v.SetDefault("socket.max_reconnect_attempts", 5)
	v.SetDefault("socket.reconnect_delay", "1s")
	v.SetDefault("socket.max_reconnect_delay", "10s")
	v.SetDefault("socket.handshake_timeout", "10s")
	v.SetDefault("socket.ping_interval", "25s")
	v.SetDefault("socket.pong_wait", "60s")
	v.SetDefault("socket.write_wait", "10s")
	v.SetDefault("socket.max_message_size", 1<<20)
	v.SetDefault("session.backend", "file")
	v.SetDefault("session.file", "session.json")
	v.SetDefault("session.redis_address", "localhost:6379")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.redis_key", "chat-client:session")
	v.SetDefault("chat.stale_after", "15s")
	v.SetDefault("chat.typing_timeout", "2s")
	v.SetDefault("chat.typing_idle", "2s")
	v.SetDefault("notifications.poll_interval", "30s")
	v.SetDefault("notifications.page_size", 20)
	v.SetDefault("amqp.exchange", "client_events")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("debug.enabled", true)
	v.SetDefault("debug.addr", "127.0.0.1:8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-client")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("socket.url", "SOCKET_URL")
	v.BindEnv("chat.user_id", "USER_ID")
	v.BindEnv("chat.open_chat_id", "CHAT_ID")
	v.BindEnv("session.file", "SESSION_FILE")
	v.BindEnv("session.backend", "SESSION_BACKEND")
	v.BindEnv("session.redis_address", "REDIS_ADDRESS")
	v.BindEnv("session.redis_password", "REDIS_PASSWORD")
	v.BindEnv("archive.dsn", "ARCHIVE_DSN")
	v.BindEnv("amqp.url", "AMQP_URL")
	v.BindEnv("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("debug.addr", "DEBUG_ADDR")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")
	v.BindEnv("environment", "APP_ENV")
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Socket.URL == "" {
		return errors.New("socket.url is required")
	}
	if c.Socket.MaxReconnectAttempts < 0 {
		return fmt.Errorf("socket.max_reconnect_attempts must not be negative, got %d", c.Socket.MaxReconnectAttempts)
	}
	switch c.Session.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}
	return nil
}
