package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding the optional YAML config path
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix prefixes every environment override, e.g. SUMMARY_SERVER_PORT -> server.port
const EnvPrefix = "SUMMARY_"

// Config is the service configuration
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Refresh RefreshConfig `koanf:"refresh"`
	Summary SummaryConfig `koanf:"summary"`
	Index   IndexConfig   `koanf:"index"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Port string `koanf:"port" validate:"required,numeric"`
}

type StorageConfig struct {
	// Badger data directory, ignored when InMemory is set
	Dir         string `koanf:"dir" validate:"required_unless=InMemory true"`
	InMemory    bool   `koanf:"in_memory"`
	MaxMemoryMB int64  `koanf:"max_memory_mb" validate:"gte=0"`
}

type RefreshConfig struct {
	// How often product extents and overviews are refreshed
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// Products refreshed more recently than this are skipped
	OlderThan time.Duration `koanf:"older_than" validate:"gte=0"`
}

type SummaryConfig struct {
	Concurrency     int           `koanf:"concurrency" validate:"min=1,max=64"`
	ProductCacheTTL time.Duration `koanf:"product_cache_ttl" validate:"gt=0"`
}

type IndexConfig struct {
	// Grid cell size in degrees
	GridSize float64 `koanf:"grid_size" validate:"gt=0,lte=90"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Storage: StorageConfig{
			Dir:         DefaultDataDir,
			MaxMemoryMB: DefaultMaxMemoryMB,
		},
		Refresh: RefreshConfig{
			Interval:  DefaultRefreshInterval,
			OlderThan: DefaultRefreshOlderThan,
		},
		Summary: SummaryConfig{
			Concurrency:     DefaultConcurrency,
			ProductCacheTTL: DefaultProductCacheTTL,
		},
		Index: IndexConfig{GridSize: DefaultGridSize},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load layers configuration: defaults, then the YAML file named by CONFIG_PATH
// (if set), then SUMMARY_* environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnvVar))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps SUMMARY_REFRESH_OLDER_THAN to refresh.older_than.
// Only the first underscore after the prefix separates section from field.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints
func (c *Config) Validate() error {
	return validate.Struct(c)
}
