package config

import (
	"context"
	"time"

	"github.com/compozy/tplwriter/pkg/reader"
)

const (
	// DefaultFile is the configuration file read when --config is not given.
	DefaultFile = "tplwriter.yaml"
	// DefaultInputDir holds the documents to render.
	DefaultInputDir = "content"
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "TPLWRITER_"
)

// Config represents the complete configuration of a tplwriter run.
type Config struct {
	Runtime RuntimeConfig `koanf:"runtime" validate:"required"`
	Input   InputConfig   `koanf:"input"   validate:"required"`
	// Writer is the raw writer options bag handed to the normalizer.
	Writer map[string]any `koanf:"writer,omitempty"`
}

// RuntimeConfig contains logging configuration.
type RuntimeConfig struct {
	LogLevel  string `koanf:"log_level"  validate:"oneof=debug info warn error disabled" env:"TPLWRITER_LOG_LEVEL"  flag:"log-level"`
	LogJSON   bool   `koanf:"log_json"                                                     env:"TPLWRITER_LOG_JSON"   flag:"log-json"`
	LogSource bool   `koanf:"log_source"                                                   env:"TPLWRITER_LOG_SOURCE" flag:"log-source"`
}

// InputConfig describes where documents are read from and how they are rendered.
type InputConfig struct {
	Dir         string        `koanf:"dir"         validate:"required"  env:"TPLWRITER_INPUT"          flag:"input"`
	Pattern     string        `koanf:"pattern"     validate:"doublestar" env:"TPLWRITER_PATTERN"       flag:"pattern"`
	Concurrency int           `koanf:"concurrency" validate:"min=1"     env:"TPLWRITER_CONCURRENCY"    flag:"concurrency"`
	Watch       bool          `koanf:"watch"                            env:"TPLWRITER_WATCH"          flag:"watch"`
	Debounce    time.Duration `koanf:"debounce"    validate:"min=0"     env:"TPLWRITER_WATCH_DEBOUNCE" flag:"debounce"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns which source (default, yaml, env, cli) provided a key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Watch monitors the source for changes.
	Watch(ctx context.Context, callback func()) error
	// Type returns the source type identifier.
	Type() SourceType
	// Close releases any resources held by the source.
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Default returns a Config holding the built-in defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
		Input: InputConfig{
			Dir:         DefaultInputDir,
			Pattern:     reader.DefaultPattern,
			Concurrency: 4,
			Debounce:    100 * time.Millisecond,
		},
	}
}
