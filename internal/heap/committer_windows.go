//go:build windows

package heap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// virtualCommitter drives page state through VirtualAlloc/VirtualFree.
// Decommitted pages stay reserved; Commit makes them accessible again.
type virtualCommitter struct{}

// NewPlatformCommitter returns the native page committer for this OS.
func NewPlatformCommitter() PageCommitter {
	return virtualCommitter{}
}

func (virtualCommitter) Commit(pages []byte) error {
	if len(pages) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&pages[0]))
	_, err := windows.VirtualAlloc(addr, uintptr(len(pages)), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func (virtualCommitter) Uncommit(pages []byte) error {
	if len(pages) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&pages[0]))
	return windows.VirtualFree(addr, uintptr(len(pages)), windows.MEM_DECOMMIT)
}
