package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// MaxFallbackAttemptsCap bounds chat.max_fallback_attempts regardless of configuration.
const MaxFallbackAttemptsCap = 6

// Supported generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration for ekaya-bi.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database is the application metadata store (datasources, diagrams).
	Database DatabaseConfig `yaml:"database"`

	// Warehouse is the multi-tenant store holding imported datasets, one schema per dataset.
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// ExternalDatabases are named live connections, used when a datasource has
	// no explicit connection record.
	ExternalDatabases map[string]ExternalDatabaseConfig `yaml:"external_databases"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	LLM      LLMConfig      `yaml:"llm"`
	Import   ImportConfig   `yaml:"import"`
	Chat     ChatConfig     `yaml:"chat"`
	Cleaning CleaningConfig `yaml:"cleaning"`

	// CredentialsKey encrypts stored external connection passwords.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_bi"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// WarehouseConfig describes the store imported datasets are loaded into.
type WarehouseConfig struct {
	Host     string `yaml:"host" env:"WAREHOUSE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"WAREHOUSE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"WAREHOUSE_USER" env-default:"ekaya"`
	Password string `yaml:"-" env:"WAREHOUSE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"WAREHOUSE_DATABASE" env-default:"ekaya_warehouse"`
	SSLMode  string `yaml:"ssl_mode" env:"WAREHOUSE_SSLMODE" env-default:"disable"`
}

// ExternalDatabaseConfig is a named live database. The password is read from
// the environment variable named by PasswordEnv.
type ExternalDatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Database    string `yaml:"database"`
	Schema      string `yaml:"schema"`
	SSLMode     string `yaml:"ssl_mode"`
	PasswordEnv string `yaml:"password_env"`
}

// Password resolves the secret from the environment.
func (e ExternalDatabaseConfig) Password() string {
	if e.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(e.PasswordEnv)
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnectionsPerOwner limits concurrent datasource pools per owner.
	MaxConnectionsPerOwner int `yaml:"max_connections_per_owner" env:"DATASOURCE_MAX_CONNECTIONS_PER_OWNER" env-default:"10"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// LLMConfig selects and tunes the generation service.
type LLMConfig struct {
	Provider       string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint       string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model          string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens      int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`
	APIKey         string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
}

// ImportConfig tunes dump and file ingestion.
type ImportConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"IMPORT_MAX_UPLOAD_BYTES" env-default:"67108864"`
	// UseParser enables the MySQL grammar path of the transpiler.
	UseParser bool `yaml:"use_parser" env:"IMPORT_USE_PARSER" env-default:"true"`
}

// ChatConfig tunes query synthesis.
type ChatConfig struct {
	RowLimit            int `yaml:"row_limit" env:"CHAT_ROW_LIMIT" env-default:"200"`
	MaxFallbackAttempts int `yaml:"max_fallback_attempts" env:"CHAT_MAX_FALLBACK_ATTEMPTS" env-default:"4"`
}

// CleaningConfig tunes the cleaning prompt.
type CleaningConfig struct {
	SampleRows int `yaml:"sample_rows" env:"CLEANING_SAMPLE_ROWS" env-default:"10"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path. A missing file falls back to
// environment variables and defaults.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.Chat.MaxFallbackAttempts > MaxFallbackAttemptsCap {
		c.Chat.MaxFallbackAttempts = MaxFallbackAttemptsCap
	}
	if c.Chat.MaxFallbackAttempts < 0 {
		c.Chat.MaxFallbackAttempts = 0
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Chat.RowLimit <= 0 {
		return fmt.Errorf("chat.row_limit must be positive, got %d", c.Chat.RowLimit)
	}
	for name, ext := range c.ExternalDatabases {
		if ext.Host == "" || ext.Database == "" {
			return fmt.Errorf("external database %q needs host and database", name)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
