package heap

import "fmt"

// ConfigErrorCode identifies the kind of configuration violation.
type ConfigErrorCode int

const (
	ConfigErrInterval   ConfigErrorCode = iota // Non-positive evaluation interval
	ConfigErrDelay                             // Uncommit delay below the minimum floor
	ConfigErrMinRegions                        // Min regions to uncommit below 1
	ConfigErrGeometry                          // Invalid heap geometry
	ConfigErrSchema                            // Unsupported config schema version
	ConfigErrParse                             // Malformed config file
)

// String returns string representation of a config error code.
func (c ConfigErrorCode) String() string {
	switch c {
	case ConfigErrInterval:
		return "InvalidInterval"
	case ConfigErrDelay:
		return "InvalidUncommitDelay"
	case ConfigErrMinRegions:
		return "InvalidMinRegions"
	case ConfigErrGeometry:
		return "InvalidGeometry"
	case ConfigErrSchema:
		return "UnsupportedSchema"
	case ConfigErrParse:
		return "ParseFailure"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ConfigError is returned when a configuration value is rejected at the
// validation boundary. Invalid values are never silently clamped.
type ConfigError struct {
	Code    ConfigErrorCode
	Field   string
	Message string
}

// Error implements error interface.
func (ce *ConfigError) Error() string {
	return fmt.Sprintf("ConfigError[%s]: %s: %s", ce.Code.String(), ce.Field, ce.Message)
}

// HeapErrorCode identifies heap manager failure kinds.
type HeapErrorCode int

const (
	ErrOutOfMemory    HeapErrorCode = iota // Allocation cannot be satisfied
	ErrExpandFailed                        // Commit of new regions failed
	ErrUncommitFailed                      // Uncommit of idle regions failed
	ErrRegionNotFound                      // Unknown region identifier
	ErrHeapExhausted                       // Reserved address range exhausted
)

// String returns string representation of a heap error code.
func (c HeapErrorCode) String() string {
	switch c {
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrExpandFailed:
		return "ExpandFailed"
	case ErrUncommitFailed:
		return "UncommitFailed"
	case ErrRegionNotFound:
		return "RegionNotFound"
	case ErrHeapExhausted:
		return "HeapExhausted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// HeapError describes a failed heap operation.
type HeapError struct {
	Code    HeapErrorCode
	Message string
	Bytes   uint64 // Requested bytes, when applicable
	Cause   error
}

// Error implements error interface.
func (he *HeapError) Error() string {
	if he.Cause != nil {
		return fmt.Sprintf("HeapError[%s]: %s (bytes=%d): %v", he.Code.String(), he.Message, he.Bytes, he.Cause)
	}
	return fmt.Sprintf("HeapError[%s]: %s (bytes=%d)", he.Code.String(), he.Message, he.Bytes)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (he *HeapError) Unwrap() error {
	return he.Cause
}
