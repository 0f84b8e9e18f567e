//go:build darwin || linux || freebsd || netbsd || openbsd

package heap

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// madviseCommitter releases pages with madvise. MADV_DONTNEED is used on
// Linux where it synchronously drops the pages; the BSDs and Darwin get
// MADV_FREE, which lets the kernel reclaim lazily under pressure. Commit
// is a no-op: re-touching an advised page faults in a fresh zeroed page.
type madviseCommitter struct{}

// NewPlatformCommitter returns the native page committer for this OS.
func NewPlatformCommitter() PageCommitter {
	return madviseCommitter{}
}

func (madviseCommitter) Commit(pages []byte) error {
	return nil
}

func (madviseCommitter) Uncommit(pages []byte) error {
	if len(pages) == 0 {
		return nil
	}
	advice := unix.MADV_FREE
	if runtime.GOOS == "linux" {
		advice = unix.MADV_DONTNEED
	}
	return unix.Madvise(pages, advice)
}
