// Package config loads service configuration from an optional config.yaml
// and DATAFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"

	"github.com/rpattn/dataflow/internal/db"
)

const envPrefix = "DATAFLOW"

// Metadata backends.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverStatic   = "static"
)

// Policy providers.
const (
	PolicyNone     = "none"
	PolicyCatalog  = "catalog"
	PolicyPostgres = "postgres"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	db.Config      `mapstructure:",squash"`
	SkipMigrations bool `mapstructure:"skipMigrations"`
}

// MetadataConfig selects where source field lists and samples come from.
// Postgres reuses the database connection unless DSN is set.
type MetadataConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	Schema      string        `mapstructure:"schema"`
	CatalogFile string        `mapstructure:"catalogFile"`
	LoaderWait  time.Duration `mapstructure:"loaderWait"`
}

type PolicyConfig struct {
	Provider string `mapstructure:"provider"`
}

type ExecutionConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RegistryConfig struct {
	SampleCacheSize int `mapstructure:"sampleCacheSize"`
	SampleLimit     int `mapstructure:"sampleLimit"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Default returns the configuration used for every unset value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Config: db.DefaultConfig()},
		Metadata: MetadataConfig{Driver: DriverPostgres, Schema: "public", LoaderWait: time.Millisecond},
		Policy:   PolicyConfig{Provider: PolicyNone},
		Execution: ExecutionConfig{
			Timeout: 30 * time.Second,
		},
		Registry: RegistryConfig{SampleCacheSize: 256, SampleLimit: 20},
		Log:      LogConfig{Level: "info"},
	}
}

// keys lists every setting that may be overridden from the environment,
// e.g. DATAFLOW_DATABASE_HOST for database.host.
var keys = []string{
	"server.addr", "server.allowedOrigins", "server.readTimeout", "server.writeTimeout", "server.shutdownTimeout",
	"database.host", "database.port", "database.user", "database.password", "database.dbname",
	"database.sslmode", "database.maxConns", "database.skipMigrations",
	"metadata.driver", "metadata.dsn", "metadata.schema", "metadata.catalogFile", "metadata.loaderWait",
	"policy.provider",
	"execution.baseURL", "execution.timeout",
	"registry.sampleCacheSize", "registry.sampleLimit",
	"log.level", "log.json",
}

// Load reads config.yaml from path (a directory or a file), applies
// environment overrides and fills the remaining values from Default.
func Load(path string) (Config, error) {
	v := viper.New()
	if filepath.Ext(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Metadata.Driver {
	case DriverPostgres:
	case DriverMySQL:
		if c.Metadata.DSN == "" {
			return errors.New("metadata.dsn is required for the mysql driver")
		}
	case DriverStatic:
		if c.Metadata.CatalogFile == "" {
			return errors.New("metadata.catalogFile is required for the static driver")
		}
	default:
		return fmt.Errorf("unknown metadata.driver %q", c.Metadata.Driver)
	}
	switch c.Policy.Provider {
	case PolicyNone, PolicyCatalog, PolicyPostgres:
	default:
		return fmt.Errorf("unknown policy.provider %q", c.Policy.Provider)
	}
	if c.Policy.Provider == PolicyCatalog && c.Metadata.Driver != DriverStatic {
		return errors.New("policy.provider catalog requires the static metadata driver")
	}
	return nil
}
