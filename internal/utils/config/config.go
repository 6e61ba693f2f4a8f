package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/gentoo-infra/crate-vendor/internal/utils/general/slice"
)

// knownFetchers mirrors the schema enum so environment overrides get the
// same validation as config files.
var knownFetchers = []string{"registry", "aria2c", "wget"}

// GlobalConfig holds the tool-wide settings. Values come from defaults, an
// optional YAML config file and CRATE_VENDOR_* environment overrides, in that
// order.
type GlobalConfig struct {
	// Concurrency bounds the number of downloads in flight at once.
	Concurrency int `yaml:"concurrency" json:"concurrency,omitempty"`
	// RequestRate caps new HTTP requests per second.
	RequestRate int `yaml:"requestRate" json:"requestRate,omitempty"`
	// Retries is the total number of attempts per download, including the
	// first one.
	Retries int `yaml:"retries" json:"retries,omitempty"`
	// Fetchers lists download strategies in fallback order.
	Fetchers []string `yaml:"fetchers" json:"fetchers,omitempty"`

	Logging LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level,omitempty"`
}

// GlConfig is the process-wide configuration, populated by Load.
var GlConfig *GlobalConfig

// DefaultConfig returns the built-in settings: concurrency scaled to the
// host CPU count and clamped to [4, 32], one request token per worker per
// second, and four attempts per download.
func DefaultConfig() *GlobalConfig {
	concurrency := 4 * runtime.NumCPU()
	if concurrency < 4 {
		concurrency = 4
	}
	if concurrency > 32 {
		concurrency = 32
	}
	return &GlobalConfig{
		Concurrency: concurrency,
		RequestRate: concurrency,
		Retries:     4,
		Fetchers:    []string{"registry", "aria2c", "wget"},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load builds the global configuration. path may be empty, in which case only
// defaults and environment overrides apply. The result is installed as
// GlConfig and returned.
func Load(path string) (*GlobalConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		cfg, err = parseYAMLConfig(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	GlConfig = cfg
	return cfg, nil
}

// parseYAMLConfig validates raw YAML against the config schema and unmarshals
// it on top of the defaults.
func parseYAMLConfig(data []byte) (*GlobalConfig, error) {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %v", err)
	}
	if err := ValidateConfigJSON(jsonData); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %v", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *GlobalConfig) error {
	for _, override := range []struct {
		env string
		dst *int
	}{
		{"CRATE_VENDOR_CONCURRENCY", &cfg.Concurrency},
		{"CRATE_VENDOR_REQUEST_RATE", &cfg.RequestRate},
		{"CRATE_VENDOR_RETRIES", &cfg.Retries},
	} {
		raw, ok := os.LookupEnv(override.env)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %v", override.env, raw, err)
		}
		*override.dst = v
	}

	if raw, ok := os.LookupEnv("CRATE_VENDOR_FETCHERS"); ok {
		var fetchers []string
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fetchers = append(fetchers, name)
			}
		}
		cfg.Fetchers = fetchers
	}
	return nil
}

func (c *GlobalConfig) check() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.RequestRate < 1 {
		return fmt.Errorf("requestRate must be positive, got %d", c.RequestRate)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be positive, got %d", c.Retries)
	}
	if len(c.Fetchers) == 0 {
		return fmt.Errorf("at least one fetcher must be configured")
	}
	for _, name := range c.Fetchers {
		if !slice.Contains(knownFetchers, name) {
			return fmt.Errorf("unknown fetcher %q (expected one of %s)",
				name, strings.Join(knownFetchers, ", "))
		}
	}
	return nil
}
