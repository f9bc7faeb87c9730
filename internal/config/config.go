package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr   string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath     string     `env:"DB_PATH" envDefault:"data/memoryhunt.db"`
	TokensPath string     `env:"TOKENS_PATH" envDefault:"data/tokens.json"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// AuthSecret signs device bearer tokens. The default is only suitable
	// for development on a closed venue network.
	AuthSecret string        `env:"AUTH_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// FacilitatorPasswordHash is a bcrypt hash. When empty, facilitator
	// devices are issued tokens without a password check.
	FacilitatorPasswordHash string `env:"FACILITATOR_PASSWORD_HASH"`

	// SessionIdleTimeout auto-pauses an active session that has seen no
	// transactions for this long. Zero disables the check.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// BatchCacheTTL bounds how long processed batch results are kept for
	// idempotent replay of offline uploads.
	BatchCacheTTL time.Duration `env:"BATCH_CACHE_TTL" envDefault:"1h"`

	// VideoURL is the external playback controller endpoint. Empty disables
	// video triggering.
	VideoURL string `env:"VIDEO_URL"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
