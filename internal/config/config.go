// Package config loads the sigmac configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/prefilter"
)

// Config is the root of the configuration file.
type Config struct {
	Backend   BackendConfig    `yaml:"backend"`
	Rules     RulesConfig      `yaml:"rules"`
	Prefilter prefilter.Config `yaml:"prefilter"`
	Store     StoreConfig      `yaml:"store"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// BackendConfig selects a rendering profile and optional overrides.
type BackendConfig struct {
	Profile          string `yaml:"profile" validate:"oneof=default opensearch strict"`
	FieldMappingFile string `yaml:"field_mapping_file"`
	Workers          int    `yaml:"workers" validate:"gte=0,lte=256"`

	OrAsIn        *bool `yaml:"or_as_in"`
	AndAsIn       *bool `yaml:"and_as_in"`
	DeMorgans     *bool `yaml:"de_morgans"`
	ExistsGuard   *bool `yaml:"exists_guard"`
	CollectErrors *bool `yaml:"collect_errors"`
}

type RulesConfig struct {
	Paths []string `yaml:"paths"`
	// CollectErrors keeps loading a rule after its first problem and
	// reports all of them.
	CollectErrors bool `yaml:"collect_errors"`
}

type StoreConfig struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrations_dir"`
	MaxOpenConns  int    `yaml:"max_open_conns" validate:"gte=0"`
}

type CacheConfig struct {
	// Size is the number of compiled rules kept; 0 disables the cache.
	Size int `yaml:"size" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Profile: "opensearch",
			Workers: 0,
		},
		Rules: RulesConfig{
			CollectErrors: true,
		},
		Prefilter: prefilter.DefaultConfig(),
		Store: StoreConfig{
			MigrationsDir: "migrations",
			MaxOpenConns:  10,
		},
		Cache: CacheConfig{
			Size: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path uses the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if dsn := os.Getenv("SIGMAC_DB_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}
	if level := os.Getenv("SIGMAC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if workers := os.Getenv("SIGMAC_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid SIGMAC_WORKERS %q: %w", workers, err)
		}
		c.Backend.Workers = n
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// BackendProfile builds the rendering profile with the overrides applied.
func (b BackendConfig) BackendProfile() ruleengine.BackendConfig {
	var cfg ruleengine.BackendConfig
	switch b.Profile {
	case "opensearch":
		cfg = ruleengine.OpenSearchConfig()
	case "strict":
		cfg = ruleengine.StrictConfig()
	default:
		cfg = ruleengine.DefaultBackendConfig()
	}
	if b.OrAsIn != nil {
		cfg = cfg.WithOrAsIn(*b.OrAsIn)
	}
	if b.AndAsIn != nil {
		cfg = cfg.WithAndAsIn(*b.AndAsIn)
	}
	if b.DeMorgans != nil {
		cfg = cfg.WithDeMorgans(*b.DeMorgans)
	}
	if b.ExistsGuard != nil {
		cfg = cfg.WithExistsGuard(*b.ExistsGuard)
	}
	if b.CollectErrors != nil {
		cfg = cfg.WithCollectErrors(*b.CollectErrors)
	}
	return cfg
}
