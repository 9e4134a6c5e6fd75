package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvPort         = "PORT"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvSecretKey    = "SECRET_KEY"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvLogLevel     = "LOG_LEVEL"

	EnvGroqAPIKey      = "GROQ_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvSerperAPIKey    = "SERPER_API_KEY"
	EnvIngestionAPIKey = "INGESTION_API_KEY"

	EnvMaxRequestsPerHour = "LLM_MAX_REQUESTS_PER_HOUR"
	EnvRateWindowMinutes  = "LLM_RATE_LIMIT_WINDOW_MINUTES"
	EnvRedisAddr          = "REDIS_ADDR"
)

// Defaults applied when neither the config file nor the environment set a value.
const (
	DefaultPort             = 8000
	DefaultDatabaseDSN      = "file:devicefinder.db"
	DefaultJWTExpiry        = 24 * time.Hour
	DefaultMaxCalls         = 100
	DefaultWindowMinutes    = 60
	DefaultRedisPrefix      = "devicefinder:rl"
	DefaultLLMTimeout       = 60 * time.Second
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 2048
	DefaultSearchURL        = "https://google.serper.dev"
	DefaultSearchTimeout    = 10 * time.Second
	DefaultSearchResults    = 5
	DefaultTopK             = 5
	DefaultRetrievalTimeout = 10 * time.Second
	DefaultMemoryPath       = "./chat_memory.db"
	DefaultMaxMessages      = 6
	DefaultIngestTimeout    = 10 * time.Minute
	DefaultPollInterval     = 5 * time.Second
)

// AppConfig holds resolved process-level values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig configures the optional shared rate-limit backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig bounds outbound model calls per user.
type RateLimitConfig struct {
	MaxCalls      int         `yaml:"max-calls"`
	WindowMinutes int         `yaml:"window-minutes"`
	Redis         RedisConfig `yaml:"redis"`
}

// Window returns the rolling window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// BackendConfig describes one model endpoint.
type BackendConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base-url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api-key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max-tokens"`
}

// LLMConfig lists the primary and fallback backends.
type LLMConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Primary   BackendConfig `yaml:"primary"`
	Secondary BackendConfig `yaml:"secondary"`
}

// SearchConfig configures the web search client.
type SearchConfig struct {
	BaseURL    string        `yaml:"base-url"`
	APIKey     string        `yaml:"api-key"`
	Timeout    time.Duration `yaml:"timeout"`
	NumResults int           `yaml:"num-results"`
}

// RetrievalConfig configures catalog lookups.
type RetrievalConfig struct {
	TopK    int           `yaml:"top-k"`
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig configures conversation storage.
type MemoryConfig struct {
	Path        string `yaml:"path"`
	MaxMessages int    `yaml:"max-messages"`
}

// Preset is a canned search used to refresh the catalog.
type Preset struct {
	Category string  `yaml:"category"`
	Query    string  `yaml:"query"`
	Location string  `yaml:"location"`
	PriceMax float64 `yaml:"price-max"`
}

// IngestionConfig configures the catalog refresh job.
type IngestionConfig struct {
	APIKey     string        `yaml:"api-key"`
	Timeout    time.Duration `yaml:"timeout"`
	NumResults int           `yaml:"num-results"`
	Presets    []Preset      `yaml:"presets"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Config is the full service configuration.
type Config struct {
	Port        int    `yaml:"port"`
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT                  JWTConfig       `yaml:"jwt"`
	RateLimit            RateLimitConfig `yaml:"rate-limit"`
	LLM                  LLMConfig       `yaml:"llm"`
	Search               SearchConfig    `yaml:"search"`
	Retrieval            RetrievalConfig `yaml:"retrieval"`
	Memory               MemoryConfig    `yaml:"memory"`
	Ingestion            IngestionConfig `yaml:"ingestion"`
	Logging              LoggingConfig   `yaml:"logging"`
	SettingsPollInterval time.Duration   `yaml:"settings-poll-interval"`
}

// ErrMissingJWTSecret indicates no signing secret was configured.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret`, JWT_SECRET or SECRET_KEY)")

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{
		Port:        DefaultPort,
		DatabaseDSN: DefaultDatabaseDSN,
		JWT:         JWTConfig{Expiry: DefaultJWTExpiry},
		RateLimit: RateLimitConfig{
			MaxCalls:      DefaultMaxCalls,
			WindowMinutes: DefaultWindowMinutes,
			Redis:         RedisConfig{Prefix: DefaultRedisPrefix},
		},
		LLM: LLMConfig{
			Timeout: DefaultLLMTimeout,
			Primary: BackendConfig{
				Provider:    "openai",
				BaseURL:     "https://api.groq.com/openai/v1",
				Model:       "llama-3.1-8b-instant",
				Temperature: DefaultTemperature,
				MaxTokens:   DefaultMaxTokens,
			},
			Secondary: BackendConfig{
				Provider:    "gemini",
				BaseURL:     "https://generativelanguage.googleapis.com",
				Model:       "gemini-2.0-flash-exp",
				Temperature: DefaultTemperature,
				MaxTokens:   DefaultMaxTokens,
			},
		},
		Search: SearchConfig{
			BaseURL:    DefaultSearchURL,
			Timeout:    DefaultSearchTimeout,
			NumResults: DefaultSearchResults,
		},
		Retrieval: RetrievalConfig{TopK: DefaultTopK, Timeout: DefaultRetrievalTimeout},
		Memory:    MemoryConfig{Path: DefaultMemoryPath, MaxMessages: DefaultMaxMessages},
		Ingestion: IngestionConfig{
			Timeout:    DefaultIngestTimeout,
			NumResults: 10,
			Presets:    DefaultPresets(),
		},
		Logging:              LoggingConfig{Level: "info", Format: "text"},
		SettingsPollInterval: DefaultPollInterval,
	}
	return cfg
}

// DefaultPresets returns the built-in catalog refresh queries.
func DefaultPresets() []Preset {
	return []Preset{
		{Category: "phone", Query: "latest smartphones under 30000 KES Nairobi", Location: "Nairobi, Kenya", PriceMax: 30000},
		{Category: "phone", Query: "best camera phones Nairobi", Location: "Nairobi, Kenya"},
		{Category: "phone", Query: "budget Android phones Kenya", Location: "Kenya", PriceMax: 20000},
		{Category: "phone", Query: "gaming phones high refresh rate", Location: "Kenya"},
		{Category: "laptop", Query: "gaming laptops under 150000 KES Nairobi", Location: "Nairobi, Kenya", PriceMax: 150000},
		{Category: "laptop", Query: "ultrabook for students Kenya", Location: "Kenya"},
		{Category: "laptop", Query: "laptops for video editing", Location: "Kenya"},
		{Category: "tablet", Query: "best tablets for drawing Kenya", Location: "Kenya"},
		{Category: "tablet", Query: "affordable tablets with stylus support Nairobi", Location: "Nairobi, Kenya", PriceMax: 40000},
		{Category: "earpiece", Query: "best noise cancelling headphones Kenya", Location: "Kenya"},
		{Category: "earpiece", Query: "wireless earbuds with long battery life Nairobi", Location: "Nairobi, Kenya"},
		{Category: "prebuilt_pc", Query: "prebuilt gaming PCs under 200000 KES Kenya", Location: "Kenya", PriceMax: 200000},
		{Category: "prebuilt_pc", Query: "budget prebuilt desktop for office use Nairobi", Location: "Nairobi, Kenya", PriceMax: 80000},
	}
}

// Load reads the YAML file at configPath (a missing file yields defaults),
// applies environment overrides and normalizes the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", errRead)
	}

	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" && strings.TrimSpace(cfg.DatabaseDSN) == DefaultDatabaseDSN {
		cfg.DatabaseDSN = dsn
	}
	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil {
			cfg.Port = port
		}
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvSecretKey)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Logging.Level = level
	}
	if key := strings.TrimSpace(os.Getenv(EnvGroqAPIKey)); key != "" {
		cfg.LLM.Primary.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv(EnvGoogleAPIKey)); key != "" {
		cfg.LLM.Secondary.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv(EnvSerperAPIKey)); key != "" {
		cfg.Search.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv(EnvIngestionAPIKey)); key != "" {
		cfg.Ingestion.APIKey = key
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxRequestsPerHour)); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n >= 0 {
			cfg.RateLimit.MaxCalls = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateWindowMinutes)); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n > 0 {
			cfg.RateLimit.WindowMinutes = n
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.RateLimit.Redis.Addr = addr
		cfg.RateLimit.Redis.Enabled = true
	}
}

func (c *Config) normalize() {
	c.DatabaseDSN = strings.TrimSpace(c.DatabaseDSN)
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = DefaultDatabaseDSN
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = DefaultJWTExpiry
	}
	if c.RateLimit.MaxCalls < 0 {
		c.RateLimit.MaxCalls = 0
	}
	if c.RateLimit.WindowMinutes <= 0 {
		c.RateLimit.WindowMinutes = DefaultWindowMinutes
	}
	if strings.TrimSpace(c.RateLimit.Redis.Prefix) == "" {
		c.RateLimit.Redis.Prefix = DefaultRedisPrefix
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	normalizeBackend(&c.LLM.Primary)
	normalizeBackend(&c.LLM.Secondary)
	if c.Search.Timeout <= 0 {
		c.Search.Timeout = DefaultSearchTimeout
	}
	if c.Search.NumResults <= 0 {
		c.Search.NumResults = DefaultSearchResults
	}
	if strings.TrimSpace(c.Search.BaseURL) == "" {
		c.Search.BaseURL = DefaultSearchURL
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Retrieval.Timeout <= 0 {
		c.Retrieval.Timeout = DefaultRetrievalTimeout
	}
	if strings.TrimSpace(c.Memory.Path) == "" {
		c.Memory.Path = DefaultMemoryPath
	}
	if c.Memory.MaxMessages <= 0 {
		c.Memory.MaxMessages = DefaultMaxMessages
	}
	if c.Ingestion.Timeout <= 0 {
		c.Ingestion.Timeout = DefaultIngestTimeout
	}
	if c.Ingestion.NumResults <= 0 {
		c.Ingestion.NumResults = 10
	}
	if c.SettingsPollInterval <= 0 {
		c.SettingsPollInterval = DefaultPollInterval
	}
}

func normalizeBackend(b *BackendConfig) {
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	b.Model = strings.TrimSpace(b.Model)
	b.APIKey = strings.TrimSpace(b.APIKey)
	if b.Temperature < 0 {
		b.Temperature = DefaultTemperature
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = DefaultMaxTokens
	}
}

// Validate reports configuration errors that prevent the server from starting.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return ErrMissingJWTSecret
	}
	return nil
}
