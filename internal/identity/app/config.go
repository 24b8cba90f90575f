package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, populated from the environment.
type Config struct {
	DatabaseFile string `env:"DEADBOLT_DATABASE_FILE" envDefault:"deadbolt.db"`
	PepperFile   string `env:"DEADBOLT_PEPPER_FILE"`

	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	Port      int    `env:"PORT" envDefault:"8080"`

	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	// SessionTTL is the sliding session window (default 14 days).
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"336h"`

	// ConfirmTokenTTL is how long an email confirmation link stays live.
	ConfirmTokenTTL time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"168h"`

	// ResetTokenTTL is how long a password reset token stays live.
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"24h"`

	TwoFactorTTL         time.Duration `env:"TWO_FACTOR_TTL" envDefault:"10m"`
	TwoFactorMaxAttempts int           `env:"TWO_FACTOR_MAX_ATTEMPTS" envDefault:"3"`

	// CodeFormat selects delivered code shape: digits or hex.
	CodeFormat string `env:"TWO_FACTOR_CODE_FORMAT" envDefault:"digits"`

	TOTPIssuer string `env:"TOTP_ISSUER" envDefault:"deadbolt"`
	TOTPSkew   uint   `env:"TOTP_SKEW" envDefault:"5"`

	// RequireApp rejects logins that do not name an application.
	RequireApp bool `env:"REQUIRE_APP" envDefault:"false"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
