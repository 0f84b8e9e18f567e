package heap

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// configSchemaRange is the range of config file schema versions this
// build understands. Files declaring an incompatible schema_version are
// rejected rather than half-interpreted.
var configSchemaRange = mustConstraint("^1.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// fileConfig is the on-disk YAML shape of the sizing configuration.
type fileConfig struct {
	SchemaVersion string `yaml:"schema_version"`
	Sizing        struct {
		EvaluationIntervalMillis int64 `yaml:"evaluation_interval_ms"`
		UncommitDelayMillis      int64 `yaml:"uncommit_delay_ms"`
		MinRegionsToUncommit     int   `yaml:"min_regions_to_uncommit"`
		Enabled                  *bool `yaml:"enabled"`
	} `yaml:"sizing"`
}

// LoadSizingConfig reads a sizing configuration from a YAML file.
// Missing numeric fields inherit the defaults; the result is validated
// before it is returned, so a loaded config is always usable as-is.
func LoadSizingConfig(path string) (SizingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SizingConfig{}, &ConfigError{
			Code:    ConfigErrParse,
			Field:   path,
			Message: err.Error(),
		}
	}
	return ParseSizingConfig(data)
}

// ParseSizingConfig parses and validates YAML sizing configuration.
func ParseSizingConfig(data []byte) (SizingConfig, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return SizingConfig{}, &ConfigError{
			Code:    ConfigErrParse,
			Field:   "yaml",
			Message: err.Error(),
		}
	}

	if fc.SchemaVersion != "" {
		v, err := semver.NewVersion(fc.SchemaVersion)
		if err != nil {
			return SizingConfig{}, &ConfigError{
				Code:    ConfigErrSchema,
				Field:   "schema_version",
				Message: fmt.Sprintf("not a semantic version: %q", fc.SchemaVersion),
			}
		}
		if !configSchemaRange.Check(v) {
			return SizingConfig{}, &ConfigError{
				Code:    ConfigErrSchema,
				Field:   "schema_version",
				Message: fmt.Sprintf("%q outside supported range %q", fc.SchemaVersion, configSchemaRange),
			}
		}
	}

	cfg := DefaultSizingConfig()
	if fc.Sizing.EvaluationIntervalMillis != 0 {
		cfg.EvaluationInterval = time.Duration(fc.Sizing.EvaluationIntervalMillis) * time.Millisecond
	}
	if fc.Sizing.UncommitDelayMillis != 0 {
		cfg.UncommitDelay = time.Duration(fc.Sizing.UncommitDelayMillis) * time.Millisecond
	}
	if fc.Sizing.MinRegionsToUncommit != 0 {
		cfg.MinRegionsToUncommit = fc.Sizing.MinRegionsToUncommit
	}
	if fc.Sizing.Enabled != nil {
		cfg.Enabled = *fc.Sizing.Enabled
	}

	if err := cfg.Validate(); err != nil {
		return SizingConfig{}, err
	}
	return cfg, nil
}
