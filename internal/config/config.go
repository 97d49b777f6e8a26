// Package config loads service configuration from a YAML file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore, e.g. IDCORE_SESSION__SECRET or IDCORE_OAUTH__GITHUB__CLIENT_ID.
const EnvPrefix = "IDCORE_"

// Config is the full service configuration.
type Config struct {
	HTTP      HTTP      `koanf:"http"`
	GRPC      GRPC      `koanf:"grpc"`
	Database  Database  `koanf:"database"`
	Redis     Redis     `koanf:"redis"`
	Challenge Challenge `koanf:"challenge"`
	Email     Email     `koanf:"email"`
	Session   Session   `koanf:"session"`
	Storage   Storage   `koanf:"storage"`
	OAuth     OAuth     `koanf:"oauth"`
	Limiter   Limiter   `koanf:"limiter"`
	Events    Events    `koanf:"events"`
	Log       Log       `koanf:"log"`
}

// HTTP PublicURL is the externally visible origin used in LNURL and OAuth callbacks.
type HTTP struct {
	Addr      string `koanf:"addr"`
	PublicURL string `koanf:"public_url"`
}

// GRPC serves TLS when both TLSCert and TLSKey are set.
type GRPC struct {
	Addr       string `koanf:"addr"`
	TLSCert    string `koanf:"tls_cert"`
	TLSKey     string `koanf:"tls_key"`
	Reflection bool   `koanf:"reflection"`
}

type Database struct {
	DSN string `koanf:"dsn"`
}

type Redis struct {
	URL string `koanf:"url"`
}

// Challenge selects the k1 store. Backend is "postgres" or "redis".
type Challenge struct {
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
	Sweep   time.Duration `koanf:"sweep"`
}

type Email struct {
	TokenTTL time.Duration `koanf:"token_ttl"`
	BaseURL  string        `koanf:"base_url"`
}

type Session struct {
	Secret       string        `koanf:"secret"`
	TTL          time.Duration `koanf:"ttl"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

type Storage struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Provider holds OAuth client credentials. A provider without a client id is disabled.
type Provider struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

type OAuth struct {
	GitHub  Provider `koanf:"github"`
	Twitter Provider `koanf:"twitter"`
}

type Limiter struct {
	Window   time.Duration `koanf:"window"`
	MaxFails int           `koanf:"max_fails"`
	BlockFor time.Duration `koanf:"block_for"`
}

// Events configures the account-event sinks. An empty RedisStream disables the stream sink.
type Events struct {
	RedisStream string `koanf:"redis_stream"`
	QueueSize   int    `koanf:"queue_size"`
}

// Log format is "json" or "console".
type Log struct {
	Format string `koanf:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:      HTTP{Addr: ":8080", PublicURL: "http://localhost:8080"},
		GRPC:      GRPC{Addr: ":9090"},
		Challenge: Challenge{Backend: "postgres", TTL: 5 * time.Minute, Sweep: time.Minute},
		Email:     Email{TokenTTL: 15 * time.Minute, BaseURL: "http://localhost:8080"},
		Session:   Session{TTL: 30 * 24 * time.Hour, CookieSecure: true},
		Storage:   Storage{Timeout: 3 * time.Second},
		Limiter:   Limiter{Window: 15 * time.Minute, MaxFails: 10, BlockFor: 15 * time.Minute},
		Events:    Events{QueueSize: 256},
		Log:       Log{Format: "json"},
	}
}

// BindFlags registers the overridable keys on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http.addr", d.HTTP.Addr, "public HTTP listen address")
	fs.String("http.public_url", d.HTTP.PublicURL, "externally visible origin")
	fs.String("grpc.addr", d.GRPC.Addr, "internal gRPC listen address")
	fs.String("grpc.tls_cert", "", "gRPC TLS certificate (PEM)")
	fs.String("grpc.tls_key", "", "gRPC TLS private key (PEM)")
	fs.Bool("grpc.reflection", false, "enable gRPC server reflection (dev only)")
	fs.String("database.dsn", "", "PostgreSQL DSN")
	fs.String("redis.url", "", "Redis URL")
	fs.String("challenge.backend", d.Challenge.Backend, "challenge store: postgres or redis")
	fs.Duration("challenge.ttl", d.Challenge.TTL, "challenge lifetime")
	fs.Duration("storage.timeout", d.Storage.Timeout, "per-call storage timeout")
	fs.Bool("session.cookie_secure", d.Session.CookieSecure, "mark the session cookie Secure")
	fs.String("log.format", d.Log.Format, "log format: json or console")
}

// Load layers defaults, the YAML file at path (optional), IDCORE_* variables
// and changed flags from fs (optional).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, changedOnly), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// changedOnly keeps unset flags from shadowing file and env values with flag defaults.
func changedOnly(f *pflag.Flag) (string, any) {
	if !f.Changed {
		return "", nil
	}
	return f.Name, f.Value.String()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []error
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	if len(c.Session.Secret) < 16 {
		problems = append(problems, errors.New("session.secret must be at least 16 bytes"))
	}
	switch c.Challenge.Backend {
	case "postgres":
	case "redis":
		if c.Redis.URL == "" {
			problems = append(problems, errors.New("redis.url is required for the redis challenge backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown challenge.backend %q", c.Challenge.Backend))
	}
	if c.Events.RedisStream != "" && c.Redis.URL == "" {
		problems = append(problems, errors.New("redis.url is required for events.redis_stream"))
	}
	if c.Challenge.TTL <= 0 || c.Session.TTL <= 0 || c.Storage.Timeout <= 0 {
		problems = append(problems, errors.New("challenge.ttl, session.ttl and storage.timeout must be positive"))
	}
	if (c.GRPC.TLSCert == "") != (c.GRPC.TLSKey == "") {
		problems = append(problems, errors.New("grpc.tls_cert and grpc.tls_key must be set together"))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		problems = append(problems, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(problems...)
}
