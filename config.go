package appkey

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings needed to talk to an identity API deployment.
type Config struct {
	// APIURL is the base URL of the identity API, without the /api suffix.
	APIURL string `env:"APPKEY_API_URL" envDefault:"http://localhost:8080"`

	// AppToken identifies the tenant on unauthenticated requests.
	AppToken string `env:"APPKEY_APP_TOKEN,notEmpty"`

	// HTTPTimeout bounds each request round trip.
	HTTPTimeout time.Duration `env:"APPKEY_HTTP_TIMEOUT" envDefault:"30s"`

	// RedisURL enables Redis-backed session persistence when set.
	RedisURL string `env:"APPKEY_REDIS_URL"`

	// SessionKey is the storage key for the persisted session snapshot.
	SessionKey string `env:"APPKEY_SESSION_KEY" envDefault:"appkey:session"`

	// EventTopic is the topic auth lifecycle events are published on.
	EventTopic string `env:"APPKEY_EVENT_TOPIC" envDefault:"appkey.auth"`
}

// ConfigFromEnv reads the configuration from APPKEY_* environment variables.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
