package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pitchql/pitchql/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all pitchql configuration.
type Config struct {
	Listen        string             `yaml:"listen"`
	PromptVersion string             `yaml:"prompt_version"`
	Server        ServerConfig       `yaml:"server"`
	Cache         CacheConfig        `yaml:"cache"`
	Providers     []ProviderConfig   `yaml:"providers"`
	LLM           LLMConfig          `yaml:"llm"`
	Router        RouterConfig       `yaml:"router"`
	Database      DatabaseConfig     `yaml:"database"`
	Sandbox       SandboxConfig      `yaml:"sandbox"`
	Audit         models.AuditConfig `yaml:"audit"`
	Tracker       TrackerConfig      `yaml:"tracker"`
	Budget        BudgetConfig       `yaml:"budget"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Log           LogConfig          `yaml:"log"`
	CORS          CORSConfig         `yaml:"cors"`
}

// ServerConfig controls the HTTP front.
type ServerConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// CacheConfig controls the response cache.
// Backend is "redis" (default), "sqlite" or "memory".
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	RedisURL   string        `yaml:"redis_url"`
	DBPath     string        `yaml:"db_path"`
	MaxEntries int           `yaml:"max_entries"`
	FailOpen   bool          `yaml:"fail_open"`
}

// ProviderConfig defines an upstream model provider.
// Type is "gemini" (default) or "openai".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// LLMConfig controls model invocation.
type LLMConfig struct {
	MaxAttempts int                    `yaml:"max_attempts"`
	BaseDelay   time.Duration          `yaml:"base_delay"`
	Timeout     time.Duration          `yaml:"timeout"`
	Stages      map[string]StageConfig `yaml:"stages"`
}

// StageConfig sets the default model and sampling temperature for a pipeline
// stage. A nil Temperature keeps the stage's built-in value.
type StageConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
}

// SamplingTemperature returns the configured temperature, or 0 when unset.
func (s StageConfig) SamplingTemperature() float32 {
	if s.Temperature == nil {
		return 0
	}
	return *s.Temperature
}

// RouterConfig defines per-stage provider fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a pipeline stage to an ordered list of targets.
type RouteConfig struct {
	Stage   string        `yaml:"stage"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// DatabaseConfig holds Postgres connection parameters. URL, when set, takes
// precedence over the individual fields.
type DatabaseConfig struct {
	URL      string        `yaml:"url"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Name     string        `yaml:"name"`
	SSLMode  string        `yaml:"sslmode"`
	MinConns int32         `yaml:"min_conns"`
	MaxConns int32         `yaml:"max_conns"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxRows  int           `yaml:"max_rows"`
}

// DSN builds a libpq-style connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s", d.Host, d.Port, d.Name)
	if d.User != "" {
		dsn += " user=" + d.User
	}
	if d.Password != "" {
		dsn += " password=" + d.Password
	}
	if d.SSLMode != "" {
		dsn += " sslmode=" + d.SSLMode
	}
	return dsn
}

// SandboxConfig controls generated-code execution.
type SandboxConfig struct {
	Python         string        `yaml:"python"`
	Timeout        time.Duration `yaml:"timeout"`
	DefaultPalette string        `yaml:"default_palette"`
}

// TrackerConfig controls token usage tracking.
type TrackerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// BudgetConfig caps token spend per stage. Enforcement needs the tracker.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// ArchiveConfig controls archiving of rendered charts to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// LogConfig controls structured logging. Format is "json" or "console".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CORSConfig lists allowed origins; "*" allows any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Pipeline stages resolved by the router.
const (
	StageData = "data"
	StageCode = "code"
	StageSQL  = "sql"
	StageSpec = "spec"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:        ":5000",
		PromptVersion: "v1",
		Server: ServerConfig{
			RequestTimeout:  5 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    4 << 20,
		},
		Cache: CacheConfig{
			Backend:    "redis",
			TTL:        24 * time.Hour,
			RedisURL:   "redis://localhost:6379/0",
			DBPath:     "pitchql-cache.db",
			MaxEntries: 1024,
		},
		LLM: LLMConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Timeout:     2 * time.Minute,
			Stages: map[string]StageConfig{
				StageData: {Model: "gemini-2.5-pro", Temperature: temperature(0.2)},
				StageSQL:  {Model: "gemini-2.5-pro", Temperature: temperature(0.2)},
				StageSpec: {Model: "gemini-2.5-pro", Temperature: temperature(0.2)},
				StageCode: {Model: "gemini-2.5-pro", Temperature: temperature(0)},
			},
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "football_db",
			MinConns: 1,
			MaxConns: 5,
			Timeout:  30 * time.Second,
			MaxRows:  10000,
		},
		Sandbox: SandboxConfig{
			Python:         "python3",
			Timeout:        30 * time.Second,
			DefaultPalette: "px.colors.qualitative.Plotly",
		},
		Audit: models.AuditConfig{
			DBPath:        "pitchql-audit.db",
			RetentionDays: 30,
			Include:       []string{"questions", "diagnostics"},
			MaxBodySize:   8192,
		},
		Tracker: TrackerConfig{
			DBPath: "pitchql-usage.db",
		},
		Archive: ArchiveConfig{
			Bucket: "pitchql-charts",
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads an optional YAML config file, expands environment variables in
// it, and applies environment overrides. An empty path yields the defaults
// plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillStageDefaults()
	return cfg, nil
}

// applyEnv overlays the environment variables the service has always honoured.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PITCHQL_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PROMPT_VERSION"); v != "" {
		cfg.PromptVersion = v
	}
	if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("parse CACHE_TTL_SEC %q: must be a positive integer", v)
		}
		cfg.Cache.TTL = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASS"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DB_PORT %q: %w", v, err)
		}
		cfg.Database.Port = port
	}

	geminiKey := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GEMINI_2.5_API_KEY"))
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if len(cfg.Providers) == 0 {
		if geminiKey != "" {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "gemini", Type: "gemini", APIKey: geminiKey})
		}
		if openaiKey != "" {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "openai", Type: "openai", APIKey: openaiKey})
		}
		return nil
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Type {
		case "openai":
			p.APIKey = openaiKey
		default:
			p.APIKey = geminiKey
		}
	}
	return nil
}

// fillStageDefaults restores built-in stage settings a partial stages map left out.
func (c *Config) fillStageDefaults() {
	defaults := Default().LLM.Stages
	if c.LLM.Stages == nil {
		c.LLM.Stages = defaults
		return
	}
	for name, st := range defaults {
		cur, ok := c.LLM.Stages[name]
		if !ok {
			c.LLM.Stages[name] = st
			continue
		}
		if cur.Model == "" {
			cur.Model = st.Model
		}
		if cur.Temperature == nil {
			cur.Temperature = st.Temperature
		}
		c.LLM.Stages[name] = cur
	}
}

func temperature(t float32) *float32 { return &t }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
