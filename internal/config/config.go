// Package config loads datakit settings from defaults, a CUE or YAML file,
// the environment and command line flags, and validates the result against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/datakit/internal/preferences"
	"github.com/roach88/datakit/internal/rdb"
	"github.com/roach88/datakit/internal/storeerr"
)

//go:embed schema.cue
var schemaCUE string

// Config is the complete datakit configuration.
type Config struct {
	DataDir       string            `yaml:"data_dir" json:"data_dir"`
	Driver        string            `yaml:"driver" json:"driver"`
	BusyTimeoutMS int               `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	JournalMode   string            `yaml:"journal_mode" json:"journal_mode"`
	Preferences   PreferencesConfig `yaml:"preferences" json:"preferences"`
	Stores        []StoreConfig     `yaml:"stores" json:"stores"`
}

// PreferencesConfig bounds preference keys and values.
type PreferencesConfig struct {
	MaxKeyLength   int `yaml:"max_key_length" json:"max_key_length"`
	MaxValueLength int `yaml:"max_value_length" json:"max_value_length"`
}

// StoreConfig declares a named relational store.
type StoreConfig struct {
	Name          string `yaml:"name" json:"name"`
	Version       int32  `yaml:"version" json:"version"`
	SecurityLevel string `yaml:"security_level" json:"security_level"`
	Encrypted     bool   `yaml:"encrypted" json:"encrypted"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:       "./data",
		Driver:        rdb.DriverCgo,
		BusyTimeoutMS: 5000,
		JournalMode:   "WAL",
		Preferences: PreferencesConfig{
			MaxKeyLength:   preferences.DefaultLimits.MaxKeyLength,
			MaxValueLength: preferences.DefaultLimits.MaxValueLength,
		},
	}
}

// Load returns Default overlaid with the file at path, if path is not
// empty. The file format follows its extension: .cue, .yaml or .yml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, storeerr.Wrap(storeerr.CodeInvalidConfig, err, "read config file")
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".cue":
			err = decodeCUE(path, data, &cfg)
		case ".yaml", ".yml":
			err = decodeYAML(data, &cfg)
		default:
			err = storeerr.New(storeerr.CodeInvalidConfig, "unsupported config format %q", ext)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func decodeYAML(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, err, "parse yaml config")
	}
	return nil
}

// decodeCUE evaluates a CUE config and overlays the fields it sets.
func decodeCUE(path string, data []byte, cfg *Config) error {
	v := cuecontext.New().CompileBytes(data, cuecontext.Filename(path))
	if err := v.Err(); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, positioned(err), "compile cue config")
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, positioned(err), "cue config is not concrete")
	}
	js, err := v.MarshalJSON()
	if err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, err, "export cue config")
	}
	// JSON is YAML; unmarshalling leaves fields the file omits untouched.
	if err := yaml.Unmarshal(js, cfg); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, err, "decode cue config")
	}
	return nil
}

// Validate unifies c with the embedded schema.
func (c Config) Validate() error {
	if c.Stores == nil {
		c.Stores = []StoreConfig{}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, err, "compile config schema")
	}
	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return storeerr.Wrap(storeerr.CodeInvalidConfig, positioned(err), "invalid config")
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if seen[s.Name] {
			return storeerr.New(storeerr.CodeInvalidConfig, "store %q declared twice", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// PreferencesDir is where preference files live.
func (c Config) PreferencesDir() string { return filepath.Join(c.DataDir, "preferences") }

// DatabasesDir is where stores opened by name live.
func (c Config) DatabasesDir() string { return filepath.Join(c.DataDir, "databases") }

// BusyTimeout returns busy_timeout_ms as a duration.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// Store returns the declared store called name.
func (c Config) Store(name string) (StoreConfig, bool) {
	for _, s := range c.Stores {
		if s.Name == name {
			return s, true
		}
	}
	return StoreConfig{}, false
}

// StoreFor returns the declared store called name, or an S1 store with
// that name when none is declared.
func (c Config) StoreFor(name string) StoreConfig {
	if s, ok := c.Store(name); ok {
		return s
	}
	return StoreConfig{Name: name, SecurityLevel: rdb.S1.String()}
}

// RDB converts s into an rdb.Config.
func (s StoreConfig) RDB() (rdb.Config, error) {
	level, err := rdb.ParseSecurityLevel(s.SecurityLevel)
	if err != nil {
		return rdb.Config{}, err
	}
	return rdb.Config{
		Name:          s.Name,
		Version:       s.Version,
		SecurityLevel: level,
		Encrypted:     s.Encrypted,
	}, nil
}

// RDBOptions returns the manager options c implies.
func (c Config) RDBOptions() []rdb.Option {
	return []rdb.Option{
		rdb.WithDriver(c.Driver),
		rdb.WithJournalMode(c.JournalMode),
		rdb.WithBusyTimeout(c.BusyTimeout()),
	}
}

// PreferencesOptions returns the manager options c implies.
func (c Config) PreferencesOptions() []preferences.Option {
	return []preferences.Option{
		preferences.WithLimits(preferences.Limits{
			MaxKeyLength:   c.Preferences.MaxKeyLength,
			MaxValueLength: c.Preferences.MaxValueLength,
		}),
	}
}
