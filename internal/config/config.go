package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/BDNK1/blockflow/internal/constants"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// runtime_command requires a non-empty, shell-splittable command line
	_ = validate.RegisterValidation("runtime_command", func(fl validator.FieldLevel) bool {
		argv, err := shlex.Split(fl.Field().String())
		return err == nil && len(argv) > 0
	})
}

// Config is the blockflow.yaml structure.
type Config struct {
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Model    ModelConfig    `yaml:"model"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// RuntimeConfig controls how generated programs are executed.
type RuntimeConfig struct {
	Command string `yaml:"command" default:"node" validate:"runtime_command"`
	// Timeout bounds each run's wall-clock time. A negative value disables it.
	Timeout     time.Duration `yaml:"timeout" default:"5m"`
	GracePeriod time.Duration `yaml:"gracePeriod" default:"2s" validate:"gt=0"`
	KillDelay   time.Duration `yaml:"killDelay" default:"500ms" validate:"gt=0"`
	EventBuffer int           `yaml:"eventBuffer" default:"64" validate:"gte=1"`
}

// SnapshotConfig locates the installed packages and the snapshot built
// from them.
type SnapshotConfig struct {
	// ModulesPath is the installed node_modules the snapshot is copied from.
	ModulesPath string   `yaml:"modulesPath" default:"node_modules" validate:"required"`
	Dir         string   `yaml:"dir" default:".blockflow/snapshot" validate:"required"`
	Packages    []string `yaml:"packages"`
}

// ModelConfig holds the defaults for the model endpoint. Requests may
// override every field.
type ModelConfig struct {
	Endpoint     string        `yaml:"endpoint" default:"http://localhost:11434" validate:"url"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature" default:"0.7" validate:"gte=0,lte=2"`
	MaxTokens    int           `yaml:"maxTokens" default:"512" validate:"gte=0"`
	CheckTimeout time.Duration `yaml:"checkTimeout" default:"5s" validate:"gt=0"`
}

// ServerConfig configures the HTTP API. The default address only listens
// on loopback because the API runs arbitrary code.
type ServerConfig struct {
	Address string        `yaml:"address" default:"127.0.0.1:8080" validate:"hostname_port"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig exposes run metrics in Prometheus format on the API server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return &cfg
}

// Load reads the config file at path. An empty path means blockflow.yaml in
// the working directory, which may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = constants.DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config from %q: %w", path, err)
	}

	return Parse(data, os.LookupEnv)
}

// Parse decodes a config document. Environment references are resolved with
// lookup before decoding, defaults fill unset fields and the result is
// validated.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if doc.Kind == 0 {
		return cfg, cfg.Validate()
	}
	if err := expandNode(&doc, lookup); err != nil {
		return nil, fmt.Errorf("failed to expand config: %w", err)
	}
	if err := doc.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks c against its validation tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
