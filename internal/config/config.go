// Package config loads binary configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Gateway kinds
const (
	GatewayLocal  = "local"
	GatewayRemote = "remote"
	GatewayNone   = "none"
)

// Config controls the courtside CLI
type Config struct {
	Gateway    string `env:"COURTSIDE_GATEWAY"     envDefault:"local"`
	BackendURL string `env:"COURTSIDE_BACKEND_URL"`
	ClientID   string `env:"COURTSIDE_CLIENT_ID"   envDefault:"courtside-mobile"`

	// DataDir holds the session file and the local database.  Empty means the user config dir.
	DataDir string `env:"COURTSIDE_DATA_DIR"`

	InitTimeout     time.Duration `env:"COURTSIDE_INIT_TIMEOUT"     envDefault:"10s"`
	FallbackTimeout time.Duration `env:"COURTSIDE_FALLBACK_TIMEOUT" envDefault:"15s"`
	NavCooldown     time.Duration `env:"COURTSIDE_NAV_COOLDOWN"     envDefault:"750ms"`
	LoadingTimeout  time.Duration `env:"COURTSIDE_LOADING_TIMEOUT"  envDefault:"15s"`

	LogLevel  string `env:"COURTSIDE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"COURTSIDE_LOG_FORMAT" envDefault:"text"`
}

// Validate checks that the settings are consistent
func (c *Config) Validate() error {
	switch c.Gateway {
	case GatewayLocal, GatewayNone:
	case GatewayRemote:
		if strings.TrimSpace(c.BackendURL) == "" {
			return fmt.Errorf("COURTSIDE_BACKEND_URL is required for the remote gateway")
		}
	default:
		return fmt.Errorf("unknown gateway %q (want local, remote or none)", c.Gateway)
	}
	if c.InitTimeout < 0 || c.FallbackTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	return nil
}

// DevServerConfig controls the development backend
type DevServerConfig struct {
	Addr      string `env:"COURTSIDE_DEVSERVER_ADDR"       envDefault:":8080"`
	JWTSecret string `env:"COURTSIDE_DEVSERVER_JWT_SECRET"`
	Issuer    string `env:"COURTSIDE_DEVSERVER_ISSUER"     envDefault:"courtside-devserver"`
	DBPath    string `env:"COURTSIDE_DEVSERVER_DB"         envDefault:"courtside-dev.db"`

	AccessTokenExpiry  time.Duration `env:"COURTSIDE_DEVSERVER_ACCESS_TTL"  envDefault:"15m"`
	RefreshTokenExpiry time.Duration `env:"COURTSIDE_DEVSERVER_REFRESH_TTL" envDefault:"720h"`

	LogLevel  string `env:"COURTSIDE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"COURTSIDE_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from envFile into the environment without
// overriding ones already set.  A missing file is not an error.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env (%s): %w", envFile, err)
	}
	return nil
}

// Load reads envFile (if present) and then the CLI configuration from the environment
func Load(envFile string) (*Config, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDevServer reads envFile (if present) and then the dev server configuration
func LoadDevServer(envFile string) (*DevServerConfig, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	var cfg DevServerConfig
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("COURTSIDE_DEVSERVER_JWT_SECRET is required")
	}
	return &cfg, nil
}
