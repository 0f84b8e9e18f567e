package heap

// HeapOperationCallback is the narrow boundary through which the
// evaluation task asks the heap manager to uncommit memory without
// depending on the manager's concrete type. The heap manager implements
// it and decides whether to perform the uncommit synchronously or to
// defer it past an in-progress collection cycle.
type HeapOperationCallback interface {
	// RequestShrink asks the heap to uncommit up to bytes of idle
	// committed memory. The request is best-effort: the heap still
	// enforces the floor and collection-safety constraints, and a later
	// request supersedes an earlier deferred one.
	RequestShrink(bytes uint64)
}
