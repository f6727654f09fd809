package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port            int    `env:"PORT" envDefault:"8080"`
	DatabaseURL     string `env:"DATABASE_URL,required"`
	RedisURL        string `env:"REDIS_URL,required"`
	TokenSecret     string `env:"TOKEN_SECRET,required"`
	PairingTTLHours int    `env:"PAIRING_TTL_HOURS" envDefault:"24"`
	SessionTTLHours int    `env:"SESSION_TTL_HOURS" envDefault:"2"`
	BcryptCost      int    `env:"BCRYPT_COST" envDefault:"10"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingTTLHours <= 0 || c.SessionTTLHours <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if isProduction {
		if err := validateSecret("TOKEN_SECRET", c.TokenSecret); err != nil {
			return err
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
