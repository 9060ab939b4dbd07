package cloudgpt

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Providers []ProviderConfig `yaml:"providers"`
	Quota     QuotaConfig      `yaml:"quota"`
	Usage     UsageConfig      `yaml:"usage"`
	Auth      AuthConfig       `yaml:"auth"`
	Memory    MemoryConfig     `yaml:"memory"`
	FastPath  FastPath         `yaml:"fast_path"`
	Fallbacks FallbackTable    `yaml:"fallbacks"`
	Timeouts  Timeouts         `yaml:"timeouts"`
	PeakHours PeakHoursConfig  `yaml:"peak_hours"`

	// RoutingPolicy orders credentials: health_first or in_order.
	RoutingPolicy string `yaml:"routing_policy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	TrustProxy   bool   `yaml:"trust_proxy"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Attempts logs every upstream attempt.
	Attempts bool `yaml:"attempts"`
}

// Provider kinds.
const (
	KindOpenAI = "openai"
	KindCustom = "custom"
	KindHorde  = "horde"
)

// ProviderConfig configures one upstream provider family.
type ProviderConfig struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	BaseURL      string `yaml:"base_url"`
	ImageBaseURL string `yaml:"image_base_url"`
	// Keys are listed literally (usually as ${VAR}); KeysEnv names a
	// comma-separated environment variable with more keys.
	Keys         []string `yaml:"keys"`
	KeysEnv      string   `yaml:"keys_env"`
	MaxTokensCap int      `yaml:"max_tokens_cap"`
	Disabled     bool     `yaml:"disabled"`
}

// APIKeys returns the configured keys, trimmed and without blanks.
func (p ProviderConfig) APIKeys() []string {
	raw := append([]string(nil), p.Keys...)
	if p.KeysEnv != "" {
		raw = append(raw, strings.Split(os.Getenv(p.KeysEnv), ",")...)
	}
	var out []string
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// QuotaConfig selects the quota backend: memory, redis or postgres.
type QuotaConfig struct {
	Backend     string `yaml:"backend"`
	RedisURL    string `yaml:"redis_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	KeyPrefix   string `yaml:"key_prefix"`
	// SweepInterval is how often the postgres backend deletes closed windows.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// UsageConfig selects the usage sink: log, postgres, sqlite or none.
type UsageConfig struct {
	Sink        string `yaml:"sink"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	// Log also writes records to the logger when a durable sink is used.
	Log bool `yaml:"log"`
}

// AuthConfig configures caller identification.
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"`
	SessionCookie string `yaml:"session_cookie"`
	KeysFile      string `yaml:"keys_file"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// MemoryConfig points at the external memory service. Empty URL disables it.
type MemoryConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// PeakHoursConfig lists the operation classes dampened during peak hours.
type PeakHoursConfig struct {
	Modalities []Modality `yaml:"modalities"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cloudgpt: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("cloudgpt: parse config: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: ProviderPollinations, Kind: KindOpenAI, KeysEnv: "POLLINATIONS_API_KEYS"},
		{Name: ProviderOpenRouter, Kind: KindOpenAI, KeysEnv: "OPENROUTER_API_KEYS", MaxTokensCap: 4096},
		{Name: ProviderGitHub, Kind: KindOpenAI, KeysEnv: "GITHUB_TOKEN"},
		{Name: ProviderHorde, Kind: KindHorde, KeysEnv: "HORDE_API_KEY"},
	}
}

func (c Config) withDefaults() Config {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 32 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Providers) == 0 {
		c.Providers = defaultProviders()
	}
	for i := range c.Providers {
		if c.Providers[i].Kind == "" {
			c.Providers[i].Kind = defaultKind(c.Providers[i].Name)
		}
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = "memory"
	}
	if c.Quota.SweepInterval <= 0 {
		c.Quota.SweepInterval = time.Hour
	}
	if c.Usage.Sink == "" {
		c.Usage.Sink = "log"
	}
	if c.Usage.Workers <= 0 {
		c.Usage.Workers = 4
	}
	if c.Usage.QueueSize <= 0 {
		c.Usage.QueueSize = 1024
	}
	if c.Auth.SessionCookie == "" {
		c.Auth.SessionCookie = "session"
	}
	if c.Memory.Timeout <= 0 {
		c.Memory.Timeout = 5 * time.Second
	}
	if c.Fallbacks == nil {
		c.Fallbacks = FallbackTable{}
		for _, f := range DefaultFallbackTable() {
			if c.hasProvider(f.Provider) {
				c.Fallbacks = append(c.Fallbacks, f)
			}
		}
	}
	// An absent fast_path block gets the built-in one; `models: {}` turns it off.
	if c.FastPath.Provider == "" && c.FastPath.Models == nil {
		if def := DefaultFastPath(); c.hasProvider(def.Provider) {
			c.FastPath = def
		}
	}
	if c.FastPath.Provider != "" && c.FastPath.Timeout <= 0 {
		c.FastPath.Timeout = defaultFastPathTimeout
	}

	def := DefaultTimeouts()
	if c.Timeouts.Chat <= 0 {
		c.Timeouts.Chat = def.Chat
	}
	if c.Timeouts.Media <= 0 {
		c.Timeouts.Media = def.Media
	}
	if c.Timeouts.Stream <= 0 {
		c.Timeouts.Stream = def.Stream
	}
	if c.Timeouts.Attempt <= 0 {
		c.Timeouts.Attempt = def.Attempt
	}
	if c.Timeouts.MediaAttempt <= 0 {
		c.Timeouts.MediaAttempt = def.MediaAttempt
	}
	if c.Timeouts.Memory <= 0 {
		c.Timeouts.Memory = def.Memory
	}
	if c.PeakHours.Modalities == nil {
		c.PeakHours.Modalities = []Modality{ModalityVideo}
	}
	if c.RoutingPolicy == "" {
		c.RoutingPolicy = "health_first"
	}
	return c
}

func (c Config) hasProvider(name string) bool {
	for _, p := range c.Providers {
		if p.Name == name && !p.Disabled {
			return true
		}
	}
	return false
}

func defaultKind(name string) string {
	switch name {
	case ProviderCustom:
		return KindCustom
	case ProviderHorde:
		return KindHorde
	default:
		return KindOpenAI
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("cloudgpt: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("cloudgpt: config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true

		switch p.Kind {
		case KindOpenAI, KindHorde:
		case KindCustom:
			if p.BaseURL == "" && !p.Disabled {
				return fmt.Errorf("cloudgpt: config: providers[%d] (%s): base_url is required for custom providers", i, p.Name)
			}
		default:
			return fmt.Errorf("cloudgpt: config: providers[%d] (%s): invalid kind %q", i, p.Name, p.Kind)
		}
		if p.MaxTokensCap < 0 {
			return fmt.Errorf("cloudgpt: config: providers[%d] (%s): max_tokens_cap must not be negative", i, p.Name)
		}
	}

	switch c.Quota.Backend {
	case "memory":
	case "redis":
		if c.Quota.RedisURL == "" {
			return fmt.Errorf("cloudgpt: config: quota: redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Quota.PostgresDSN == "" {
			return fmt.Errorf("cloudgpt: config: quota: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cloudgpt: config: quota: invalid backend %q", c.Quota.Backend)
	}

	switch c.Usage.Sink {
	case "log", "none":
	case "postgres":
		if c.Usage.PostgresDSN == "" {
			return fmt.Errorf("cloudgpt: config: usage: postgres_dsn is required for the postgres sink")
		}
	case "sqlite":
		if c.Usage.SQLitePath == "" {
			return fmt.Errorf("cloudgpt: config: usage: sqlite_path is required for the sqlite sink")
		}
	default:
		return fmt.Errorf("cloudgpt: config: usage: invalid sink %q", c.Usage.Sink)
	}

	for i, f := range c.Fallbacks {
		if f.Model == "" || f.Provider == "" || f.Upstream == "" {
			return fmt.Errorf("cloudgpt: config: fallbacks[%d]: model, provider and upstream are required", i)
		}
		if !names[f.Provider] {
			return fmt.Errorf("cloudgpt: config: fallbacks[%d]: unknown provider %q", i, f.Provider)
		}
	}

	if c.FastPath.Provider != "" && !names[c.FastPath.Provider] {
		return fmt.Errorf("cloudgpt: config: fast_path: unknown provider %q", c.FastPath.Provider)
	}

	switch c.RoutingPolicy {
	case "health_first", "in_order":
	default:
		return fmt.Errorf("cloudgpt: config: routing_policy: invalid policy %q", c.RoutingPolicy)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("cloudgpt: config: logging: invalid format %q", c.Logging.Format)
	}

	for i, m := range c.PeakHours.Modalities {
		switch m {
		case ModalityChat, ModalityImage, ModalityVideo, ModalityEmbedding:
		default:
			return fmt.Errorf("cloudgpt: config: peak_hours.modalities[%d]: invalid modality %q", i, m)
		}
	}

	return nil
}
