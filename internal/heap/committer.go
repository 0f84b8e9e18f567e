package heap

// PageCommitter commits and uncommits the physical pages backing a
// range of the heap's reserved address space. Implementations are
// platform-specific; the heap manager reserves the full address range
// up front and drives commit/uncommit per region through this interface.
type PageCommitter interface {
	// Commit ensures the pages backing the range are usable.
	Commit(pages []byte) error
	// Uncommit releases the physical pages backing the range back to
	// the operating system. The range contents are lost; re-touching
	// the range after a later Commit yields zeroed pages.
	Uncommit(pages []byte) error
}

// NopCommitter performs no page-level work. It is the default on
// platforms without a native implementation and the committer of choice
// in tests, where only the bookkeeping is under observation.
type NopCommitter struct{}

func (NopCommitter) Commit([]byte) error   { return nil }
func (NopCommitter) Uncommit([]byte) error { return nil }
