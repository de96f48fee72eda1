// ABOUTME: Host configuration loaded from global and project YAML files, then FORSETI_* overrides
// ABOUTME: Later files override only the keys they set; the result is validated before use

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// Output formats.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
	FormatText   = "text"
)

// Config is the merged host configuration.
type Config struct {
	LogLevel     string                    `yaml:"logLevel" validate:"oneof=trace debug info warn warning error"`
	OutputFormat string                    `yaml:"outputFormat" validate:"oneof=json ndjson text"`
	Parallelism  int                       `yaml:"parallelism" validate:"gte=0,lte=1024"`
	FailOnError  bool                      `yaml:"failOnError"`
	SearchPaths  []string                  `yaml:"searchPaths" validate:"dive,required"`
	IdleTimeout  time.Duration             `yaml:"idleTimeout" validate:"gte=0"`
	StartTimeout time.Duration             `yaml:"startTimeout" validate:"gte=0"`
	CallTimeout  time.Duration             `yaml:"callTimeout" validate:"gte=0"`
	Engines      map[string]EngineSettings `yaml:"engines" validate:"dive,keys,required,endkeys"`
}

// EngineSettings configures one engine. Config is sent to the engine in
// initialize; Path registers a binary outside the search paths.
type EngineSettings struct {
	Enabled *bool          `yaml:"enabled"`
	Path    string         `yaml:"path"`
	Config  map[string]any `yaml:"config"`
}

// IsEnabled defaults to true when unset.
func (e EngineSettings) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// EngineConfig converts the free-form config into the wire form. The
// enabled flag is carried over so the engine sees it too.
func (e EngineSettings) EngineConfig() (protocol.EngineConfig, error) {
	var cfg protocol.EngineConfig
	if len(e.Config) > 0 {
		data, err := json.Marshal(e.Config)
		if err != nil {
			return protocol.EngineConfig{}, fmt.Errorf("encoding engine config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return protocol.EngineConfig{}, fmt.Errorf("engine config: %w", err)
		}
	}
	if e.Enabled != nil {
		v := *e.Enabled
		cfg.Enabled = &v
	}
	return cfg, nil
}

// Defaults returns the configuration used when no file sets anything.
func Defaults() *Config {
	return &Config{
		LogLevel:     "info",
		OutputFormat: FormatJSON,
		FailOnError:  true,
		Engines:      map[string]EngineSettings{},
	}
}

// Workers resolves Parallelism, where 0 means one worker per CPU.
func (c *Config) Workers() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return runtime.NumCPU()
}

// EngineIDs returns the configured engine ids, sorted.
func (c *Config) EngineIDs() []string {
	ids := make([]string, 0, len(c.Engines))
	for id := range c.Engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var configValidate = validator.New()

// Validate checks field ranges and that every engine config decodes.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, id := range c.EngineIDs() {
		if _, err := c.Engines[id].EngineConfig(); err != nil {
			return fmt.Errorf("invalid config for engine %s: %w", id, err)
		}
	}
	return nil
}

// Load reads the global and project config files, applies environment
// overrides from the process, and validates the result.
func Load(projectRoot string) (*Config, error) {
	return LoadFiles(os.LookupEnv, GlobalConfigFile(), ProjectConfigFile(projectRoot))
}

// LoadFiles layers paths in order over Defaults. Missing files are skipped.
// lookup supplies environment overrides; nil disables them.
func LoadFiles(lookup func(string) (string, bool), paths ...string) (*Config, error) {
	cfg := Defaults()
	for _, p := range paths {
		if err := loadFile(cfg, p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if cfg.Engines == nil {
		cfg.Engines = map[string]EngineSettings{}
	}
	ResolveEnvVars(cfg)
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	if len(cfg.SearchPaths) == 0 {
		cfg.SearchPaths = []string{CacheDir()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Keys absent from the file keep their
// current values; an engine entry replaces the earlier entry with that id.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
