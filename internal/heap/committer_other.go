//go:build !darwin && !linux && !freebsd && !netbsd && !openbsd && !windows

package heap

// NewPlatformCommitter returns the native page committer for this OS.
// Platforms without a page-level primitive fall back to pure bookkeeping.
func NewPlatformCommitter() PageCommitter {
	return NopCommitter{}
}
