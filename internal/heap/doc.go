// Package heap implements a region-based heap memory manager with a
// time-based reclamation subsystem. The heap reserves a fixed virtual
// address range and commits/uncommits fixed-size regions within it. A
// periodic background evaluation tracks how long each committed region
// has been idle and decides, on a configured cadence, whether to give
// committed-but-unused memory back to the operating system or to expand
// the heap to relieve allocation pressure.
//
// The subsystem is split into four cooperating pieces:
//
//   - RegionActivityTracker: per-region last-active bookkeeping.
//   - SizingPolicy: pure decision function (expand / shrink / none).
//   - HeapEvaluationTask: self-rescheduling periodic evaluation.
//   - HeapManager: owns regions and performs the actual commit/uncommit.
//
// The evaluation task talks to the heap manager through the narrow
// HeapOperationCallback interface so the scheduling layer never depends
// on the manager's concrete type.
package heap
