package heap

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// DefaultEvaluationInterval is the default cadence of the periodic
	// heap evaluation.
	DefaultEvaluationInterval = 60 * time.Second
	// DefaultUncommitDelay is the default minimum idle duration a region
	// must accumulate before it becomes an uncommit candidate.
	DefaultUncommitDelay = 5 * time.Minute
	// DefaultMinRegionsToUncommit is the default hysteresis batch size:
	// a shrink is only requested once at least this many regions are
	// uncommit candidates.
	DefaultMinRegionsToUncommit = 2
	// MinUncommitDelay is the floor below which an uncommit delay is
	// rejected at configuration time. Delays shorter than this would make
	// commit/uncommit thrash on ordinary allocation jitter.
	MinUncommitDelay = time.Second
)

// SizingConfig holds the tunables of the time-based sizing subsystem.
// Values are immutable once stored; dynamic updates replace the whole
// snapshot atomically through a ConfigStore.
type SizingConfig struct {
	EvaluationInterval   time.Duration // Time between evaluations (> 0)
	UncommitDelay        time.Duration // Idle duration before a region is a candidate
	MinRegionsToUncommit int           // Hysteresis batch threshold (>= 1)
	Enabled              bool          // Feature flag, toggleable at runtime
}

// DefaultSizingConfig returns the default sizing configuration.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		EvaluationInterval:   DefaultEvaluationInterval,
		UncommitDelay:        DefaultUncommitDelay,
		MinRegionsToUncommit: DefaultMinRegionsToUncommit,
		Enabled:              true,
	}
}

// Validate rejects invalid configuration values. This is the only
// validation surface: the policy itself tolerates any combination that
// passes here, including uncommit delays shorter than the evaluation
// interval (candidates then simply appear within one evaluation).
func (c SizingConfig) Validate() error {
	if c.EvaluationInterval <= 0 {
		return &ConfigError{
			Code:    ConfigErrInterval,
			Field:   "evaluation_interval",
			Message: fmt.Sprintf("must be positive, got %v", c.EvaluationInterval),
		}
	}
	if c.UncommitDelay < MinUncommitDelay {
		return &ConfigError{
			Code:    ConfigErrDelay,
			Field:   "uncommit_delay",
			Message: fmt.Sprintf("must be at least %v, got %v", MinUncommitDelay, c.UncommitDelay),
		}
	}
	if c.MinRegionsToUncommit < 1 {
		return &ConfigError{
			Code:    ConfigErrMinRegions,
			Field:   "min_regions_to_uncommit",
			Message: fmt.Sprintf("must be at least 1, got %d", c.MinRegionsToUncommit),
		}
	}
	return nil
}

// MinRegionSize is the smallest supported region size: one page on
// every supported platform, so regions can be committed and uncommitted
// independently.
const MinRegionSize = 4096

// Geometry describes the static shape of the heap, fixed at startup.
type Geometry struct {
	RegionSize   uint64  // Size of each region in bytes
	MinHeapBytes uint64  // Committed size never shrinks below this floor
	MaxHeapBytes uint64  // Reserved address range, committed size never exceeds it
	HighWater    float64 // Occupancy fraction above which the heap expands
}

// DefaultHighWater is the occupancy fraction that triggers expansion
// when no explicit value is configured.
const DefaultHighWater = 0.9

// Validate rejects inconsistent heap geometry.
func (g Geometry) Validate() error {
	if g.RegionSize < MinRegionSize || g.RegionSize&(g.RegionSize-1) != 0 {
		return &ConfigError{
			Code:    ConfigErrGeometry,
			Field:   "region_size",
			Message: fmt.Sprintf("must be a power of two >= %d, got %d", MinRegionSize, g.RegionSize),
		}
	}
	if g.MaxHeapBytes == 0 || g.MaxHeapBytes%g.RegionSize != 0 {
		return &ConfigError{
			Code:    ConfigErrGeometry,
			Field:   "max_heap",
			Message: fmt.Sprintf("must be a non-zero multiple of region size %d, got %d", g.RegionSize, g.MaxHeapBytes),
		}
	}
	if g.MinHeapBytes%g.RegionSize != 0 {
		return &ConfigError{
			Code:    ConfigErrGeometry,
			Field:   "min_heap",
			Message: fmt.Sprintf("must be a multiple of region size %d, got %d", g.RegionSize, g.MinHeapBytes),
		}
	}
	if g.MinHeapBytes > g.MaxHeapBytes {
		return &ConfigError{
			Code:    ConfigErrGeometry,
			Field:   "min_heap",
			Message: fmt.Sprintf("floor %d exceeds max heap %d", g.MinHeapBytes, g.MaxHeapBytes),
		}
	}
	if g.HighWater <= 0 || g.HighWater > 1 {
		return &ConfigError{
			Code:    ConfigErrGeometry,
			Field:   "high_water",
			Message: fmt.Sprintf("must be in (0, 1], got %g", g.HighWater),
		}
	}
	return nil
}

// ConfigStore holds the current sizing configuration as an immutable,
// versioned snapshot. Readers (the evaluation task) load the snapshot
// once per evaluation; dynamic updates swap the whole snapshot, so a
// change takes effect at the next scheduled evaluation, never mid-way
// through one.
type ConfigStore struct {
	current atomic.Pointer[SizingConfig]
	version atomic.Uint64
}

// NewConfigStore validates cfg and creates a store with it as version 1.
func NewConfigStore(cfg SizingConfig) (*ConfigStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &ConfigStore{}
	s.current.Store(&cfg)
	s.version.Store(1)
	return s, nil
}

// Snapshot returns the current configuration by value.
func (s *ConfigStore) Snapshot() SizingConfig {
	return *s.current.Load()
}

// Version returns the monotonically increasing snapshot version.
func (s *ConfigStore) Version() uint64 {
	return s.version.Load()
}

// Update validates cfg and, if valid, installs it as the new current
// snapshot. Invalid updates are refused and leave the store unchanged.
func (s *ConfigStore) Update(cfg SizingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(&cfg)
	s.version.Add(1)
	return nil
}

// SetEnabled toggles the feature flag, keeping all other values.
func (s *ConfigStore) SetEnabled(enabled bool) {
	cfg := s.Snapshot()
	cfg.Enabled = enabled
	s.current.Store(&cfg)
	s.version.Add(1)
}
