package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "WORMHOLE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "wormhole.db"
	defaultLogLevel          = "info"
	defaultUserHeaders       = "X-User-Id,X-Openid,X-Userid"
	defaultAllowedOrigins    = "*"
	defaultNotifyWorkers     = 2
	defaultNotifyQueueSize   = 256
	defaultNotifyTimeout     = 8
	defaultNotifyMaxAttempts = 1
	defaultPushbearEndpoint  = "https://pushbear.ftqq.com/sub"
	defaultPushdeerEndpoint  = "https://api2.pushdeer.com/message/push"
	maxNotifyTimeoutSeconds  = 60
	maxNotifyAttempts        = 5
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	SigningSecret      string
	UserHeaders        []string
	AllowedOrigins     []string
	MediaBaseURL       string
	MediaProcessChat   string
	MediaProcessAvatar string
	Notify             NotifyConfig
}

// NotifyConfig groups the notification queue and provider settings.
type NotifyConfig struct {
	Workers          int
	QueueSize        int
	Timeout          time.Duration
	MaxAttempts      int
	PushbearEndpoint string
	PushdeerEndpoint string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.user_headers", defaultUserHeaders)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("media.base_url", "")
	configViper.SetDefault("media.image_process_chat", "")
	configViper.SetDefault("media.image_process_avatar", "")
	configViper.SetDefault("notify.workers", defaultNotifyWorkers)
	configViper.SetDefault("notify.queue_size", defaultNotifyQueueSize)
	configViper.SetDefault("notify.timeout_seconds", defaultNotifyTimeout)
	configViper.SetDefault("notify.max_attempts", defaultNotifyMaxAttempts)
	configViper.SetDefault("notify.pushbear_endpoint", defaultPushbearEndpoint)
	configViper.SetDefault("notify.pushdeer_endpoint", defaultPushdeerEndpoint)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		UserHeaders:        splitList(configViper.GetString("auth.user_headers")),
		AllowedOrigins:     splitList(configViper.GetString("cors.allowed_origins")),
		MediaBaseURL:       strings.TrimRight(strings.TrimSpace(configViper.GetString("media.base_url")), "/"),
		MediaProcessChat:   strings.TrimSpace(configViper.GetString("media.image_process_chat")),
		MediaProcessAvatar: strings.TrimSpace(configViper.GetString("media.image_process_avatar")),
		Notify: NotifyConfig{
			Workers:          configViper.GetInt("notify.workers"),
			QueueSize:        configViper.GetInt("notify.queue_size"),
			Timeout:          time.Duration(configViper.GetInt("notify.timeout_seconds")) * time.Second,
			MaxAttempts:      configViper.GetInt("notify.max_attempts"),
			PushbearEndpoint: strings.TrimSpace(configViper.GetString("notify.pushbear_endpoint")),
			PushdeerEndpoint: strings.TrimSpace(configViper.GetString("notify.pushdeer_endpoint")),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if len(c.UserHeaders) == 0 {
		return fmt.Errorf("auth.user_headers is required")
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("notify.workers must be positive")
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be positive")
	}
	if c.Notify.Timeout <= 0 || c.Notify.Timeout > maxNotifyTimeoutSeconds*time.Second {
		return fmt.Errorf("notify.timeout_seconds must be between 1 and %d", maxNotifyTimeoutSeconds)
	}
	if c.Notify.MaxAttempts < 1 || c.Notify.MaxAttempts > maxNotifyAttempts {
		return fmt.Errorf("notify.max_attempts must be between 1 and %d", maxNotifyAttempts)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
