package authority

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mainhub/authority/cache"
	"github.com/mainhub/authority/ratelimit"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the process configuration. Key material is not part of
// it; the three symmetric keys come from the environment only.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// FailureRedirect is where authorize failures land. No error detail
	// is ever appended to it.
	FailureRedirect string `yaml:"failure_redirect"`

	Lifetimes LifetimeConfig  `yaml:"lifetimes"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`

	// SweepInterval is how often business-expired records are purged.
	SweepInterval Duration `yaml:"sweep_interval"`

	// Audit enables security audit logging (sensitive fields hashed).
	Audit bool `yaml:"audit"`
}

// LifetimeConfig holds the business lifetimes of issued credentials.
type LifetimeConfig struct {
	// Code is the authorization code lifetime.
	Code Duration `yaml:"code"`

	// Token is the access and refresh token lifetime.
	Token Duration `yaml:"token"`
}

// CacheConfig holds the memory cache housekeeping parameters.
type CacheConfig struct {
	Lifetime             Duration `yaml:"lifetime"`
	HousekeepingInterval Duration `yaml:"housekeeping_interval"`
}

// QuotaConfig is one rate-limit budget.
type QuotaConfig struct {
	Points int      `yaml:"points"`
	Window Duration `yaml:"window"`
	Block  Duration `yaml:"block"`
}

// RateLimitConfig holds the distributed budgets, the per-route window,
// and the proxy trust settings used to resolve caller addresses.
type RateLimitConfig struct {
	Access QuotaConfig `yaml:"access"`
	Error  QuotaConfig `yaml:"error"`
	Route  QuotaConfig `yaml:"route"`

	// TrustedAddress bypasses every limiter tier.
	TrustedAddress string `yaml:"trusted_address"`

	// ExposeHeaders enables X-RateLimit-* headers on responses.
	ExposeHeaders bool `yaml:"expose_headers"`

	// TrustProxy enables X-Forwarded-For / X-Real-IP resolution. Only
	// enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`

	// TrustedProxyCount is how many trailing forwarding hops belong to
	// our own infrastructure.
	TrustedProxyCount int `yaml:"trusted_proxy_count"`
}

// DatabaseConfig selects the backing store. An empty DSN makes the
// binary fall back to the in-memory store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig selects the distributed counter store. An empty address
// makes the binary fall back to in-process counters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoadConfig reads a YAML config file and applies defaults. A missing
// path yields the pure defaults.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}
	config.applyDefaults()
	return config, nil
}

// applyDefaults fills every unset field with a production-safe value.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.FailureRedirect == "" {
		c.FailureRedirect = "/"
	}
	if c.Lifetimes.Code == 0 {
		c.Lifetimes.Code = Duration(time.Hour)
	}
	if c.Lifetimes.Token == 0 {
		c.Lifetimes.Token = Duration(7 * 24 * time.Hour)
	}
	if c.Cache.Lifetime == 0 {
		c.Cache.Lifetime = Duration(24 * time.Hour)
	}
	if c.Cache.HousekeepingInterval == 0 {
		c.Cache.HousekeepingInterval = Duration(time.Hour)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(time.Hour)
	}
	if c.RateLimit.Access.Points == 0 {
		c.RateLimit.Access = QuotaConfig{
			Points: 10,
			Window: Duration(time.Second),
			Block:  Duration(time.Hour),
		}
	}
	if c.RateLimit.Error.Points == 0 {
		c.RateLimit.Error = QuotaConfig{
			Points: 100,
			Window: Duration(time.Minute),
			Block:  Duration(30 * 24 * time.Hour),
		}
	}
	if c.RateLimit.Route.Points == 0 {
		c.RateLimit.Route = QuotaConfig{
			Points: 600,
			Window: Duration(time.Minute),
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
}

// CacheConfigValue converts the cache section for the cache package.
func (c *Config) CacheConfigValue() cache.Config {
	return cache.Config{
		Lifetime:             c.Cache.Lifetime.Std(),
		HousekeepingInterval: c.Cache.HousekeepingInterval.Std(),
	}
}

// LimiterConfigValue converts the rate-limit section for the limiter.
func (c *Config) LimiterConfigValue() ratelimit.Config {
	return ratelimit.Config{
		Access:         c.RateLimit.Access.Quota(),
		Error:          c.RateLimit.Error.Quota(),
		TrustedAddress: c.RateLimit.TrustedAddress,
		ExposeHeaders:  c.RateLimit.ExposeHeaders,
	}
}

// Quota converts one budget section.
func (q QuotaConfig) Quota() ratelimit.Quota {
	return ratelimit.Quota{
		Points: q.Points,
		Window: q.Window.Std(),
		Block:  q.Block.Std(),
	}
}
