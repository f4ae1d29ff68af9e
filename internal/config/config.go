package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config is built once at startup and handed to every component constructor.
type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Telegram struct {
		BotToken      string `env:"BOT_TOKEN,required"`
		AdminUser     string `env:"ADMIN_USER"`
		Language      string `env:"BOT_LANGUAGE" envDefault:"ru"`
		WebhookURL    string `env:"WEBHOOK_URL"`
		WebhookSecret string `env:"WEBHOOK_SECRET"`
		Port          int    `env:"PORT" envDefault:"8080"`
	}

	Store struct {
		Driver      string `env:"STORE_DRIVER" envDefault:"postgres"`
		DatabaseURL string `env:"DATABASE_URL"`
		Host        string `env:"DB_HOST" envDefault:"localhost"`
		Port        int    `env:"DB_PORT" envDefault:"5432"`
		User        string `env:"DB_USER"`
		Password    string `env:"DB_PASSWORD"`
		Name        string `env:"DB_NAME"`
		TablePrefix string `env:"DB_TABLE_PREFIX"`
		BoltPath    string `env:"BOLT_PATH" envDefault:"krasavchik.db"`

		ConnectAttempts   int           `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
		ConnectBackoff    time.Duration `env:"DB_CONNECT_BACKOFF" envDefault:"1s"`
		ConnectBackoffMax time.Duration `env:"DB_CONNECT_BACKOFF_MAX" envDefault:"30s"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
		Prefix   string `env:"REDIS_PREFIX" envDefault:"krasavchik:"`
	}

	Game struct {
		Timezone       string        `env:"TIMEZONE" envDefault:"Europe/Moscow"`
		HourlyCooldown time.Duration `env:"HOURLY_COOLDOWN" envDefault:"1h"`
		SeasonLength   time.Duration `env:"SEASON_LENGTH" envDefault:"2160h"`
		BuildupDelay   time.Duration `env:"BUILDUP_DELAY" envDefault:"1500ms"`
		LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"2m"`
	}

	loc *time.Location
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// a missing .env is fine, production sets variables directly
	_ = godotenv.Load()
	return Parse(env.Options{})
}

// Parse builds a Config from the environment using opts (tests pass Environment).
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	loc, err := time.LoadLocation(c.Game.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Game.Timezone, err)
	}
	c.loc = loc

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverPostgres:
		if c.PostgresURL() == "" {
			return errors.New("postgres store needs DATABASE_URL or DB_USER/DB_NAME")
		}
	case DriverBolt:
		if c.Store.BoltPath == "" {
			return errors.New("bolt store needs BOLT_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Store.ConnectAttempts < 1 {
		return errors.New("DB_CONNECT_ATTEMPTS must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"HOURLY_COOLDOWN":    c.Game.HourlyCooldown,
		"SEASON_LENGTH":      c.Game.SeasonLength,
		"LOCK_TTL":           c.Game.LockTTL,
		"DB_CONNECT_BACKOFF": c.Store.ConnectBackoff,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Game.BuildupDelay < 0 {
		return errors.New("BUILDUP_DELAY must not be negative")
	}
	if !validSecret(c.Telegram.WebhookSecret) {
		return errors.New("WEBHOOK_SECRET may only contain A-Z, a-z, 0-9, _ and - (at most 256)")
	}
	c.Telegram.AdminUser = NormalizeHandle(c.Telegram.AdminUser)
	return nil
}

// validSecret accepts what Telegram allows as a webhook secret_token. Empty means
// one is generated at startup.
func validSecret(s string) bool {
	if len(s) > 256 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Location is the civil time zone resolved from TIMEZONE.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// PostgresURL returns DATABASE_URL, or a URL assembled from the DB_* parts.
func (c *Config) PostgresURL() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	if c.Store.User == "" || c.Store.Name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Store.User, c.Store.Password),
		Host:   c.Store.Host + ":" + strconv.Itoa(c.Store.Port),
		Path:   "/" + c.Store.Name,
	}
	return u.String()
}

// NormalizeHandle strips a leading @ and lowercases a Telegram handle.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
