package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Storage providers.
const (
	ProviderSQLite    = "sqlite"
	ProviderPostgres  = "postgres"
	ProviderOceanBase = "oceanbase"
	ProviderBadger    = "badger"
)

// DefaultMaxCommitRetries is how often an update is re-run after losing a
// version race.
const DefaultMaxCommitRetries = 3

// Config contains the complete configuration for a tag profile client.
//
// Example:
//
//	config := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider: core.ProviderSQLite,
//	        SQLite:   core.SQLiteConfig{Path: "./tagprofile.db"},
//	    },
//	    LLM: core.LLMConfig{
//	        Provider: "deepseek",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// Storage selects and configures the repository backend.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// LLM configures the model used for tag extraction. Without an API key
	// (except for ollama) only the rule-based behaviour analyzer runs.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Profile contains the engine tunables.
	Profile ProfileConfig `json:"profile" yaml:"profile"`

	// MaxCommitRetries bounds the re-runs after a version conflict.
	MaxCommitRetries int `json:"max_commit_retries,omitempty" yaml:"max_commit_retries,omitempty" validate:"gte=0,lte=20"`

	// Logger receives the client's structured logs. Defaults to
	// slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-" validate:"-"`
}

// StorageConfig contains the repository configuration. Only the section of
// the selected provider is read.
type StorageConfig struct {
	// Provider is the backend name (sqlite, postgres, oceanbase, badger).
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=sqlite postgres oceanbase badger"`

	// TablePrefix prefixes the SQL table names. Defaults to "tagprofile".
	TablePrefix string `json:"table_prefix,omitempty" yaml:"table_prefix,omitempty"`

	SQLite    SQLiteConfig    `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres  PostgresConfig  `json:"postgres,omitempty" yaml:"postgres,omitempty"`
	OceanBase OceanBaseConfig `json:"oceanbase,omitempty" yaml:"oceanbase,omitempty"`
	Badger    BadgerConfig    `json:"badger,omitempty" yaml:"badger,omitempty"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path          string `json:"path" yaml:"path"`
	BusyTimeoutMs int    `json:"busy_timeout_ms,omitempty" yaml:"busy_timeout_ms,omitempty" validate:"gte=0"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// OceanBaseConfig configures the OceanBase (MySQL mode) backend.
type OceanBaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// BadgerConfig configures the embedded Badger backend.
type BadgerConfig struct {
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	SyncWrites bool   `json:"sync_writes,omitempty" yaml:"sync_writes,omitempty"`
}

// LLMConfig contains configuration for the extraction model.
//
// Supported providers: openai, deepseek, qwen, ollama
type LLMConfig struct {
	// Provider is the LLM provider name. Defaults to openai.
	Provider string `json:"provider" yaml:"provider" validate:"omitempty,oneof=openai deepseek qwen ollama"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`

	// RateLimit caps extraction calls per second. Zero disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" validate:"gte=0"`

	// RateBurst is the limiter burst. Defaults to 1.
	RateBurst int `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty" validate:"gte=0"`
}

// Enabled reports whether an extraction model is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" || strings.EqualFold(c.Provider, "ollama")
}

// ProfileConfig contains the profile engine tunables. Zero values take the
// engine defaults.
type ProfileConfig struct {
	// Dimensions overrides the four standard dimensions.
	Dimensions []tag.DimensionSpec `json:"dimensions,omitempty" yaml:"dimensions,omitempty" validate:"dive"`

	// DecayRate is assigned to newly created tags.
	DecayRate float64 `json:"decay_rate,omitempty" yaml:"decay_rate,omitempty" validate:"gte=0,lte=1"`

	// MaxTagsPerDimension bounds each dimension's active tags.
	MaxTagsPerDimension int `json:"max_tags_per_dimension,omitempty" yaml:"max_tags_per_dimension,omitempty" validate:"gte=0"`

	// ConflictHistoryLimit bounds each dimension's conflict history.
	ConflictHistoryLimit int `json:"conflict_history_limit,omitempty" yaml:"conflict_history_limit,omitempty" validate:"gte=0"`

	// TagEventLimit bounds the per-user extraction timeline.
	TagEventLimit int `json:"tag_event_limit,omitempty" yaml:"tag_event_limit,omitempty" validate:"gte=0"`

	// RulesPath points to a YAML conflict rule table. Empty uses the
	// built-in rules.
	RulesPath string `json:"rules_path,omitempty" yaml:"rules_path,omitempty"`

	// WatchRules reloads RulesPath when the file changes.
	WatchRules bool `json:"watch_rules,omitempty" yaml:"watch_rules,omitempty"`
}

// DefaultConfig returns a configuration using a local SQLite file and the
// rule-based extractor only.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Provider: ProviderSQLite,
			SQLite:   SQLiteConfig{Path: "./tagprofile.db"},
		},
		LLM:              LLMConfig{Provider: "openai"},
		MaxCommitRetries: DefaultMaxCommitRetries,
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase, badger)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE
//   - BADGER_PATH
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, LLM_RATE_LIMIT
//   - TAG_DECAY_RATE, TAG_MAX_PER_DIMENSION, TAG_RULES_PATH, TAG_WATCH_RULES
//
// Malformed numbers are reported as ErrInvalidConfig.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
	return configFromEnv()
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
// Variables already set in the environment take precedence.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewTagError("LoadConfigFromEnvFile", fmt.Errorf("failed to load .env file: %w", err))
	}
	return configFromEnv()
}

func configFromEnv() (*Config, error) {
	var errs []string
	atoi := func(key, def string) int {
		v, err := strconv.Atoi(getEnvOrDefault(key, def))
		if err != nil {
			errs = append(errs, key)
		}
		return v
	}
	atof := func(key, def string) float64 {
		v, err := strconv.ParseFloat(getEnvOrDefault(key, def), 64)
		if err != nil {
			errs = append(errs, key)
		}
		return v
	}

	cfg := DefaultConfig()
	cfg.Storage.Provider = getEnvOrDefault("DATABASE_PROVIDER", ProviderSQLite)
	cfg.Storage.TablePrefix = os.Getenv("TAG_TABLE_PREFIX")

	switch cfg.Storage.Provider {
	case ProviderSQLite:
		cfg.Storage.SQLite.Path = getEnvOrDefault("SQLITE_PATH", "./tagprofile.db")
	case ProviderPostgres:
		cfg.Storage.Postgres = PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     atoi("POSTGRES_PORT", "5432"),
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: getEnvOrDefault("POSTGRES_DATABASE", "tagprofile"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case ProviderOceanBase:
		cfg.Storage.OceanBase = OceanBaseConfig{
			Host:     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			Port:     atoi("OCEANBASE_PORT", "2881"),
			User:     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			Password: os.Getenv("OCEANBASE_PASSWORD"),
			Database: getEnvOrDefault("OCEANBASE_DATABASE", "tagprofile"),
		}
	case ProviderBadger:
		cfg.Storage.Badger.Path = getEnvOrDefault("BADGER_PATH", "./tagprofile-badger")
	}

	cfg.LLM = LLMConfig{
		Provider:  getEnvOrDefault("LLM_PROVIDER", "openai"),
		APIKey:    os.Getenv("LLM_API_KEY"),
		Model:     os.Getenv("LLM_MODEL"),
		BaseURL:   os.Getenv("LLM_BASE_URL"),
		RateLimit: atof("LLM_RATE_LIMIT", "0"),
	}

	cfg.Profile = ProfileConfig{
		DecayRate:           atof("TAG_DECAY_RATE", "0.1"),
		MaxTagsPerDimension: atoi("TAG_MAX_PER_DIMENSION", "20"),
		RulesPath:           os.Getenv("TAG_RULES_PATH"),
		WatchRules:          os.Getenv("TAG_WATCH_RULES") == "true",
	}

	if len(errs) > 0 {
		return nil, NewTagError("LoadConfigFromEnv",
			fmt.Errorf("%w: malformed %s", ErrInvalidConfig, strings.Join(errs, ", ")))
	}
	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields missing
// from the file keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTagError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewTagError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Fields missing
// from the file keep their DefaultConfig values.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTagError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewTagError("LoadConfigFromYAML", err)
	}

	return config, nil
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
//
// Struct tags are checked first, then the settings the selected storage
// provider needs. Every failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return NewTagError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	var missing string
	s := c.Storage
	switch s.Provider {
	case ProviderSQLite:
		if s.SQLite.Path == "" {
			missing = "sqlite path"
		}
	case ProviderPostgres:
		if s.Postgres.Host == "" || s.Postgres.Port == 0 {
			missing = "postgres host and port"
		}
	case ProviderOceanBase:
		if s.OceanBase.Host == "" || s.OceanBase.Port == 0 {
			missing = "oceanbase host and port"
		}
	case ProviderBadger:
		if s.Badger.Path == "" && !s.Badger.InMemory {
			missing = "badger path"
		}
	}
	if missing != "" {
		return NewTagError("Validate", fmt.Errorf("%w: %s is required", ErrInvalidConfig, missing))
	}

	seen := make(map[string]bool, len(c.Profile.Dimensions))
	for _, d := range c.Profile.Dimensions {
		if d.Key == "" || seen[d.Key] {
			return NewTagError("Validate", fmt.Errorf("%w: dimension keys must be unique and non-empty", ErrInvalidConfig))
		}
		seen[d.Key] = true
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
