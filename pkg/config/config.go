package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Agent   AgentConfig   `toml:"agent"`
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`
	Tracing TracingConfig `toml:"tracing"`
}

type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	AuthToken   string   `toml:"auth_token"`
	ExternalURL string   `toml:"external_url"`
	CORSOrigins []string `toml:"cors_origins"`
}

type ClientConfig struct {
	URL       string   `toml:"url"`
	Stream    bool     `toml:"stream"`
	Timeout   Duration `toml:"timeout"`
	AuthToken string   `toml:"auth_token"`
}

type AgentConfig struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	BaseURL         string `toml:"base_url"`
	APIKeyEnv       string `toml:"api_key_env"`
	SchemaPath      string `toml:"schema_path"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
}

type StoreConfig struct {
	Driver        string   `toml:"driver"`
	DSN           string   `toml:"dsn"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	TTL           Duration `toml:"ttl"`
	PruneSchedule string   `toml:"prune_schedule"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Duration reads Go duration strings such as "5m" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 10002,
		},
		Client: ClientConfig{
			URL:     "http://localhost:10002/",
			Stream:  true,
			Timeout: Duration{5 * time.Minute},
		},
		Agent: AgentConfig{
			Provider:        "groq",
			Model:           "meta-llama/llama-4-scout-17b-16e-instruct",
			BaseURL:         "https://api.groq.com/openai/v1/chat/completions",
			APIKeyEnv:       "GROQ_API_KEY",
			MaxOutputTokens: 2048,
		},
		Store: StoreConfig{
			Driver:        StoreSQLite,
			DSN:           filepath.Join(DataDir(), "sqlagent.db"),
			RedisAddr:     "localhost:6379",
			TTL:           Duration{24 * time.Hour},
			PruneSchedule: "@hourly",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "sqlagent.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Client.URL != "" {
		if err := ValidateURL(c.Client.URL); err != nil {
			errs = append(errs, fmt.Errorf("client.url: %w", err))
		}
	}
	if c.Client.Timeout.Duration < 0 {
		errs = append(errs, errors.New("client.timeout must not be negative"))
	}
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory, sqlite or redis", c.Store.Driver))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v out of range [0,1]", r))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}

// Addr is the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PublicURL is the URL advertised in the agent card.
func (s ServerConfig) PublicURL() string {
	if s.ExternalURL != "" {
		return s.ExternalURL
	}
	return fmt.Sprintf("http://%s/", s.Addr())
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("SQLAGENT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sqlagent"
	}
	return filepath.Join(home, ".sqlagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "sqlagent.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
