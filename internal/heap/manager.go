package heap

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
	"unsafe"
)

// HeapManager owns the heap's regions and is the only entity with
// commit/uncommit authority. It reserves the full MaxHeapBytes address
// range up front and commits/uncommits fixed-size regions within it
// through a PageCommitter.
//
// All region-topology mutations (commit, uncommit, allocation bumps,
// collection gating) run under the manager's lock, so a shrink or
// expand can never interleave with in-progress region state changes.
type HeapManager struct {
	mu        sync.Mutex
	geom      Geometry
	store     *ConfigStore
	committer PageCommitter
	tracker   *RegionActivityTracker
	logger    *log.Logger
	now       func() time.Time
	observers []HeapObserver

	reserve        []byte
	regions        map[RegionID]*Region
	slots          []RegionID // slot index -> region ID, 0 when free
	committedBytes uint64
	usedBytes      uint64
	nextID         RegionID
	allocRegion    RegionID // current allocation region, 0 when none

	// Collection gate. While a collection cycle is in progress a shrink
	// request is deferred rather than raced against the pause; at most
	// one deferred intent is kept, later requests supersede it.
	inCollection  bool
	pendingShrink uint64
}

var _ HeapOperationCallback = (*HeapManager)(nil)

// NewHeapManager reserves the address range described by geom and
// commits the initial MinHeapBytes worth of regions. A nil committer
// selects the native platform committer.
func NewHeapManager(geom Geometry, store *ConfigStore, committer PageCommitter) (*HeapManager, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if committer == nil {
		committer = NewPlatformCommitter()
	}

	hm := &HeapManager{
		geom:      geom,
		store:     store,
		committer: committer,
		tracker:   NewRegionActivityTracker(),
		logger:    log.New(os.Stderr, "heap: ", log.LstdFlags),
		now:       time.Now,
		reserve:   reserveAligned(geom.MaxHeapBytes),
		regions:   make(map[RegionID]*Region),
		slots:     make([]RegionID, geom.MaxHeapBytes/geom.RegionSize),
		nextID:    1,
	}

	if geom.MinHeapBytes > 0 {
		hm.mu.Lock()
		_, err := hm.expandLocked(geom.MinHeapBytes)
		hm.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return hm, nil
}

// reserveAligned reserves size bytes starting on a page boundary. Page
// committers operate at page granularity, so region ranges must begin
// page-aligned.
func reserveAligned(size uint64) []byte {
	pageSize := uint64(os.Getpagesize())
	raw := make([]byte, size+pageSize)
	base := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(raw))))
	off := (pageSize - base%pageSize) % pageSize
	return raw[off : off+size]
}

// Tracker returns the region activity tracker owned by this heap.
func (hm *HeapManager) Tracker() *RegionActivityTracker {
	return hm.tracker
}

// SetLogger replaces the manager's logger.
func (hm *HeapManager) SetLogger(logger *log.Logger) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.logger = logger
}

// SetClock overrides the time source of the manager and its tracker.
func (hm *HeapManager) SetClock(now func() time.Time) {
	hm.mu.Lock()
	hm.now = now
	hm.mu.Unlock()
	hm.tracker.SetClock(now)
}

// AddObserver registers an observer for heap and region events.
func (hm *HeapManager) AddObserver(obs HeapObserver) {
	hm.mu.Lock()
	hm.observers = append(hm.observers, obs)
	hm.mu.Unlock()
	hm.tracker.AddObserver(obs)
}

// RegionSize returns the fixed region size in bytes.
func (hm *HeapManager) RegionSize() uint64 {
	return hm.geom.RegionSize
}

// CommittedBytes returns the currently committed heap size.
func (hm *HeapManager) CommittedBytes() uint64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.committedBytes
}

// UsedBytes returns the number of allocated bytes across all regions.
func (hm *HeapManager) UsedBytes() uint64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.usedBytes
}

// Occupancy captures the read-only occupancy view an evaluation runs
// against.
func (hm *HeapManager) Occupancy() HeapOccupancy {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return HeapOccupancy{
		CommittedBytes: hm.committedBytes,
		UsedBytes:      hm.usedBytes,
		RegionSize:     hm.geom.RegionSize,
		MinHeapBytes:   hm.geom.MinHeapBytes,
		MaxHeapBytes:   hm.geom.MaxHeapBytes,
		HighWater:      hm.geom.HighWater,
	}
}

// Expand commits enough additional regions to cover bytes, rounded up to
// whole regions. Failure to commit is an allocation-failure condition
// reported to the caller; regions committed before the failure stay
// committed.
func (hm *HeapManager) Expand(bytes uint64) error {
	hm.mu.Lock()
	grown, err := hm.expandLocked(roundUpRegions(bytes, hm.geom.RegionSize))
	observers := hm.observers
	hm.mu.Unlock()

	if grown > 0 {
		for _, obs := range observers {
			obs.OnHeapExpanded(grown)
		}
	}
	return err
}

// expandLocked commits bytes/regionSize fresh regions. Caller holds mu.
func (hm *HeapManager) expandLocked(bytes uint64) (uint64, error) {
	var grown uint64
	for bytes >= hm.geom.RegionSize {
		if hm.committedBytes+hm.geom.RegionSize > hm.geom.MaxHeapBytes {
			return grown, &HeapError{
				Code:    ErrHeapExhausted,
				Message: "reserved address range exhausted",
				Bytes:   bytes,
			}
		}
		slot := hm.freeSlotLocked()
		if slot < 0 {
			return grown, &HeapError{
				Code:    ErrHeapExhausted,
				Message: "no free region slot",
				Bytes:   bytes,
			}
		}
		if err := hm.committer.Commit(hm.regionPages(slot)); err != nil {
			return grown, &HeapError{
				Code:    ErrExpandFailed,
				Message: "page commit failed",
				Bytes:   hm.geom.RegionSize,
				Cause:   err,
			}
		}

		id := hm.nextID
		hm.nextID++
		hm.regions[id] = &Region{
			ID:         id,
			Slot:       slot,
			Size:       hm.geom.RegionSize,
			Generation: GenYoung,
		}
		hm.slots[slot] = id
		hm.committedBytes += hm.geom.RegionSize
		hm.tracker.OnRegionCommitted(id)

		grown += hm.geom.RegionSize
		bytes -= hm.geom.RegionSize
	}
	return grown, nil
}

// freeSlotLocked returns the lowest free slot index, or -1.
func (hm *HeapManager) freeSlotLocked() int {
	for i, id := range hm.slots {
		if id == 0 {
			return i
		}
	}
	return -1
}

// regionPages returns the backing byte range of a slot.
func (hm *HeapManager) regionPages(slot int) []byte {
	start := uint64(slot) * hm.geom.RegionSize
	return hm.reserve[start : start+hm.geom.RegionSize]
}

// RequestShrink implements HeapOperationCallback. Outside a collection
// cycle the uncommit is performed synchronously; during one it is
// deferred until EndCollection, and a later request supersedes an
// earlier deferred one.
func (hm *HeapManager) RequestShrink(bytes uint64) {
	hm.mu.Lock()
	if hm.inCollection {
		hm.pendingShrink = bytes
		hm.mu.Unlock()
		return
	}
	released, n := hm.shrinkLocked(bytes)
	observers := hm.observers
	hm.mu.Unlock()

	if released > 0 {
		for _, obs := range observers {
			obs.OnMemoryReleased(released, n)
		}
	}
}

// shrinkLocked uncommits up to bytes worth of empty uncommit-candidate
// regions, never dropping the committed size below the floor. Caller
// holds mu. Returns bytes released and the region count.
func (hm *HeapManager) shrinkLocked(bytes uint64) (uint64, int) {
	cfg := hm.store.Snapshot()

	want := bytes - bytes%hm.geom.RegionSize
	if max := hm.maxShrinkableLocked(); want > max {
		want = max
	}
	if want == 0 {
		return 0, 0
	}

	var released uint64
	var count int
	for _, id := range hm.tracker.Candidates(hm.now(), cfg.UncommitDelay) {
		if released >= want {
			break
		}
		region, ok := hm.regions[id]
		if !ok {
			continue
		}
		// A candidate that still holds data is waiting on evacuation;
		// uncommitting it would lose the data.
		if region.Used != 0 {
			continue
		}
		if err := hm.committer.Uncommit(hm.regionPages(region.Slot)); err != nil {
			hm.logger.Printf("uncommit of region %d failed: %v", id, err)
			continue
		}

		hm.slots[region.Slot] = 0
		delete(hm.regions, id)
		hm.committedBytes -= hm.geom.RegionSize
		if hm.allocRegion == id {
			hm.allocRegion = 0
		}
		hm.tracker.OnRegionUncommitted(id)
		released += hm.geom.RegionSize
		count++
	}
	return released, count
}

// maxShrinkableLocked returns the region-aligned number of bytes that
// can be uncommitted without violating the floor. Caller holds mu.
func (hm *HeapManager) maxShrinkableLocked() uint64 {
	if hm.committedBytes <= hm.geom.MinHeapBytes {
		return 0
	}
	max := hm.committedBytes - hm.geom.MinHeapBytes
	return max - max%hm.geom.RegionSize
}

// Allocate bump-allocates size bytes from a committed region, expanding
// the heap by one region when none has room. The touched region is
// marked active in the tracker.
func (hm *HeapManager) Allocate(size uint64) (RegionID, []byte, error) {
	if size == 0 || size > hm.geom.RegionSize {
		return 0, nil, &HeapError{
			Code:    ErrOutOfMemory,
			Message: fmt.Sprintf("allocation size must be in [1, %d]", hm.geom.RegionSize),
			Bytes:   size,
		}
	}

	hm.mu.Lock()
	region := hm.allocRegionLocked(size)
	if region == nil {
		if _, err := hm.expandLocked(hm.geom.RegionSize); err != nil {
			hm.mu.Unlock()
			return 0, nil, &HeapError{
				Code:    ErrOutOfMemory,
				Message: "heap cannot grow to satisfy allocation",
				Bytes:   size,
				Cause:   err,
			}
		}
		region = hm.allocRegionLocked(size)
	}

	start := uint64(region.Slot)*hm.geom.RegionSize + region.Used
	buf := hm.reserve[start : start+size]
	region.Used += size
	hm.usedBytes += size
	hm.allocRegion = region.ID
	id := region.ID
	hm.mu.Unlock()

	hm.tracker.MarkActive(id)
	return id, buf, nil
}

// allocRegionLocked finds a committed region with room for size bytes,
// preferring the current allocation region. Caller holds mu.
func (hm *HeapManager) allocRegionLocked(size uint64) *Region {
	if r, ok := hm.regions[hm.allocRegion]; ok && r.Free() >= size {
		return r
	}
	for _, r := range hm.regions {
		if r.Free() >= size {
			return r
		}
	}
	return nil
}

// MarkLive records a collector touch: the region still holds live data
// and is promoted to the old generation.
func (hm *HeapManager) MarkLive(id RegionID) error {
	hm.mu.Lock()
	region, ok := hm.regions[id]
	if !ok {
		hm.mu.Unlock()
		return &HeapError{Code: ErrRegionNotFound, Message: fmt.Sprintf("region %d", id)}
	}
	region.Generation = GenOld
	hm.mu.Unlock()

	hm.tracker.MarkActive(id)
	return nil
}

// ReclaimRegion records that evacuation emptied the region. The region
// deliberately stays untouched in the tracker so it can drift to idle
// and eventually be uncommitted.
func (hm *HeapManager) ReclaimRegion(id RegionID) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	region, ok := hm.regions[id]
	if !ok {
		return &HeapError{Code: ErrRegionNotFound, Message: fmt.Sprintf("region %d", id)}
	}
	hm.usedBytes -= region.Used
	region.Used = 0
	return nil
}

// BeginCollection marks a collection cycle in progress. Shrinks
// requested while the cycle runs are deferred past it.
func (hm *HeapManager) BeginCollection() {
	hm.mu.Lock()
	hm.inCollection = true
	hm.mu.Unlock()
}

// EndCollection clears the collection gate and drains the deferred
// shrink intent, if any.
func (hm *HeapManager) EndCollection() {
	hm.mu.Lock()
	hm.inCollection = false
	pending := hm.pendingShrink
	hm.pendingShrink = 0

	var released uint64
	var n int
	if pending > 0 {
		released, n = hm.shrinkLocked(pending)
	}
	observers := hm.observers
	hm.mu.Unlock()

	if released > 0 {
		for _, obs := range observers {
			obs.OnMemoryReleased(released, n)
		}
	}
}

// RegionInfo is the externally visible description of one committed
// region, used by the debug surface.
type RegionInfo struct {
	ID         RegionID `json:"id"`
	Slot       int      `json:"slot"`
	UsedBytes  uint64   `json:"used_bytes"`
	Generation string   `json:"generation"`
	State      string   `json:"state"`
	IdleMillis int64    `json:"idle_ms"`
}

// HeapSnapshot is a point-in-time description of the heap for the debug
// surface.
type HeapSnapshot struct {
	CommittedBytes uint64       `json:"committed_bytes"`
	UsedBytes      uint64       `json:"used_bytes"`
	RegionSize     uint64       `json:"region_size"`
	Regions        []RegionInfo `json:"regions"`
}

// Snapshot returns a read-only description of every committed region.
// It uses the tracker's non-mutating view, so taking a snapshot never
// perturbs classification state.
func (hm *HeapManager) Snapshot() HeapSnapshot {
	activity := make(map[RegionID]RegionActivity)
	for _, ra := range hm.tracker.View(hm.nowFn()()) {
		activity[ra.ID] = ra
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	snap := HeapSnapshot{
		CommittedBytes: hm.committedBytes,
		UsedBytes:      hm.usedBytes,
		RegionSize:     hm.geom.RegionSize,
		Regions:        make([]RegionInfo, 0, len(hm.regions)),
	}
	for id, region := range hm.regions {
		info := RegionInfo{
			ID:         id,
			Slot:       region.Slot,
			UsedBytes:  region.Used,
			Generation: region.Generation.String(),
		}
		if ra, ok := activity[id]; ok {
			info.State = ra.State.String()
			info.IdleMillis = ra.IdleDuration.Milliseconds()
		}
		snap.Regions = append(snap.Regions, info)
	}
	sort.Slice(snap.Regions, func(i, j int) bool {
		return snap.Regions[i].ID < snap.Regions[j].ID
	})
	return snap
}

// observersSnapshot returns the current observer list for callers that
// emit events without holding the manager lock.
func (hm *HeapManager) observersSnapshot() []HeapObserver {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.observers
}

func (hm *HeapManager) nowFn() func() time.Time {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.now
}
