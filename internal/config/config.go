package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full service configuration, loaded from a YAML file with
// environment variable overrides.
type Config struct {
	Env        string `yaml:"env" env:"IDENTRA_ENV" env-default:"local"`
	PublicURL  string `yaml:"public_url" env:"IDENTRA_PUBLIC_URL" env-default:"http://localhost:8080"`
	DB         `yaml:"db"`
	HTTPServer `yaml:"http_server"`
	Tokens     `yaml:"tokens"`
	Actions    `yaml:"actions"`
	Password   `yaml:"password"`
	RateLimit  `yaml:"rate_limit"`
}

type DB struct {
	DSN string `yaml:"dsn" env:"IDENTRA_PG_DSN" env-default:""`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"IDENTRA_HTTP_ADDR" env-default:":8080"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"15s"`
}

// Tokens configures the signing codec. Access and refresh secrets are
// deliberately distinct so leaking one class does not compromise the other.
type Tokens struct {
	Issuer        string        `yaml:"issuer" env:"IDENTRA_TOKEN_ISSUER" env-default:"identra"`
	AccessSecret  string        `yaml:"access_secret" env:"IDENTRA_ACCESS_SECRET" env-required:"true"`
	RefreshSecret string        `yaml:"refresh_secret" env:"IDENTRA_REFRESH_SECRET" env-required:"true"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"IDENTRA_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"IDENTRA_REFRESH_TTL" env-default:"168h"`
}

// Actions configures the single-use email verification and password reset
// tokens and the cooldown between re-issues.
type Actions struct {
	VerificationTTL time.Duration `yaml:"verification_ttl" env:"IDENTRA_VERIFICATION_TTL" env-default:"24h"`
	ResetTTL        time.Duration `yaml:"reset_ttl" env:"IDENTRA_RESET_TTL" env-default:"1h"`
	ResendCooldown  time.Duration `yaml:"resend_cooldown" env:"IDENTRA_RESEND_COOLDOWN" env-default:"3m"`
}

type Password struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"IDENTRA_BCRYPT_COST" env-default:"10"`
}

type RateLimit struct {
	Burst     int `yaml:"burst" env:"IDENTRA_RATE_BURST" env-default:"20"`
	PerSecond int `yaml:"per_second" env:"IDENTRA_RATE_PER_SECOND" env-default:"10"`
}

// MustLoad reads configuration from path (when it exists) merged with the
// environment, and panics on failure. Intended for use from main only.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load reads configuration from the YAML file at path, falling back to
// environment variables only when path is empty.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
