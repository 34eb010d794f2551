// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

// debugNode is one entry in a region's owned-interval list: a
// disjoint, coalesced byte range [start, end) currently owned by the
// local endpoint (not yet handed to the peer via Enqueue). Nodes are
// addressed by arena index rather than pointer so the list can be
// unlinked and relinked symmetrically (prev.next = next, next.prev =
// prev) without aliasing bugs on a coalesce.
type debugNode struct {
	start, end uint64
	prev, next int32
}

const debugNilNode = -1

// debugRegion tracks ownership of one registered region's byte range
// as a sorted, coalesced list of locally-owned intervals, backed by a
// reusable node arena. consistent is false for a region the debug
// queue has only ever seen through a peer's descriptors, never through
// its own RegisterRegion/pool: such a region's length is a lower bound
// grown from observation, not a known fact.
type debugRegion struct {
	length     uint64
	nodes      []debugNode
	freeHead   int32 // arena freelist, linked through .next
	listHead   int32 // sorted owned-interval list, -1 if fully given away
	consistent bool
}

// newDebugRegion builds tracking state for a region the local endpoint
// actually registered: fully owned from the start, known length.
func newDebugRegion(length uint64) *debugRegion {
	r := &debugRegion{length: length, freeHead: debugNilNode, listHead: debugNilNode, consistent: true}
	r.listHead = r.alloc(0, length)
	return r
}

// newObservedDebugRegion builds tracking state for a region the debug
// queue has only inferred from a dequeued descriptor: the local
// endpoint owns none of it yet (everything is with the peer until a
// Dequeue releases a range back), and length is only as large as
// whatever has been observed so far.
func newObservedDebugRegion(length uint64) *debugRegion {
	return &debugRegion{length: length, freeHead: debugNilNode, listHead: debugNilNode}
}

// isFullSpan reports whether the entire region is a single locally-
// owned interval [0, length) — i.e. nothing is currently in flight to
// or from the peer.
func (r *debugRegion) isFullSpan() bool {
	if r.listHead == debugNilNode {
		return false
	}
	n := r.nodes[r.listHead]
	return n.prev == debugNilNode && n.next == debugNilNode && n.start == 0 && n.end == r.length
}

func (r *debugRegion) alloc(start, end uint64) int32 {
	if r.freeHead != debugNilNode {
		idx := r.freeHead
		r.freeHead = r.nodes[idx].next
		r.nodes[idx] = debugNode{start: start, end: end, prev: debugNilNode, next: debugNilNode}
		return idx
	}
	idx := int32(len(r.nodes))
	r.nodes = append(r.nodes, debugNode{start: start, end: end, prev: debugNilNode, next: debugNilNode})
	return idx
}

func (r *debugRegion) free(idx int32) {
	r.nodes[idx] = debugNode{next: r.freeHead, prev: debugNilNode}
	r.freeHead = idx
}

// unlink removes idx from the owned-interval list, relinking its
// neighbors symmetrically on both sides.
func (r *debugRegion) unlink(idx int32) {
	n := r.nodes[idx]
	if n.prev != debugNilNode {
		r.nodes[n.prev].next = n.next
	} else {
		r.listHead = n.next
	}
	if n.next != debugNilNode {
		r.nodes[n.next].prev = n.prev
	}
	r.free(idx)
}

// insertSorted splices a new [start,end) node into the list in start
// order, linking both neighbors symmetrically.
func (r *debugRegion) insertSorted(start, end uint64) int32 {
	idx := r.alloc(start, end)
	if r.listHead == debugNilNode || start < r.nodes[r.listHead].start {
		r.nodes[idx].next = r.listHead
		if r.listHead != debugNilNode {
			r.nodes[r.listHead].prev = idx
		}
		r.listHead = idx
		return idx
	}
	cur := r.listHead
	for r.nodes[cur].next != debugNilNode && r.nodes[r.nodes[cur].next].start < start {
		cur = r.nodes[cur].next
	}
	next := r.nodes[cur].next
	r.nodes[idx].prev = cur
	r.nodes[idx].next = next
	r.nodes[cur].next = idx
	if next != debugNilNode {
		r.nodes[next].prev = idx
	}
	return idx
}

// claim removes [start,end) from the owned set, splitting the
// containing node if the claim only covers part of it. Fails if
// [start,end) is not fully covered by a single owned node — either it
// overlaps a gap (already claimed/in flight) or straddles two nodes,
// both of which are ownership violations for a well-behaved caller.
func (r *debugRegion) claim(start, end uint64) bool {
	for idx := r.listHead; idx != debugNilNode; idx = r.nodes[idx].next {
		n := r.nodes[idx]
		if start < n.start {
			return false
		}
		if end > n.end {
			continue
		}
		switch {
		case start == n.start && end == n.end:
			r.unlink(idx)
		case start == n.start:
			r.nodes[idx].start = end
		case end == n.end:
			r.nodes[idx].end = start
		default:
			r.nodes[idx].end = start
			r.insertSorted(end, n.end)
		}
		return true
	}
	return false
}

// release adds [start,end) back to the owned set, coalescing with an
// immediately adjacent node on either side. Fails (overlap) if any
// part of [start,end) is already owned — a peer returning a buffer it
// never legitimately held, or returning the same buffer twice.
func (r *debugRegion) release(start, end uint64) bool {
	for idx := r.listHead; idx != debugNilNode; idx = r.nodes[idx].next {
		n := r.nodes[idx]
		if start < n.end && end > n.start {
			return false
		}
	}

	var prevIdx, nextIdx int32 = debugNilNode, debugNilNode
	for idx := r.listHead; idx != debugNilNode; idx = r.nodes[idx].next {
		n := r.nodes[idx]
		if n.end == start {
			prevIdx = idx
		}
		if n.start == end {
			nextIdx = idx
		}
	}

	switch {
	case prevIdx != debugNilNode && nextIdx != debugNilNode:
		r.nodes[prevIdx].end = r.nodes[nextIdx].end
		r.unlink(nextIdx)
	case prevIdx != debugNilNode:
		r.nodes[prevIdx].end = end
	case nextIdx != debugNilNode:
		r.nodes[nextIdx].start = start
	default:
		r.insertSorted(start, end)
	}
	return true
}

// HistoryOp identifies the operation a HistoryEntry recorded.
type HistoryOp int

const (
	HistorySend HistoryOp = iota
	HistoryRecv
	HistoryViolation
)

// HistoryEntry is one post-mortem record kept by DebugQueue's ring
// buffer of recent operations, for diagnosing an ownership violation
// after the fact.
type HistoryEntry struct {
	Op       HistoryOp
	RegionID uint32
	Offset   uint64
	Length   uint64
}

const debugHistorySize = 256

// DebugQueue wraps a Backend with ownership-violation detection: every
// Enqueue must claim a byte range the local endpoint currently owns
// and every Dequeue releases the dequeued range back into the local
// endpoint's owned set. Intended for development and testing, not hot-path
// production use.
type DebugQueue struct {
	backend Backend
	pool    *Pool
	regions map[uint32]*debugRegion

	history    [debugHistorySize]HistoryEntry
	historyLen int
	historyPos int
}

// NewDebugQueue wraps backend, tracking ownership against pool (the
// same pool passed to backend's own Hooks).
func NewDebugQueue(backend Backend, pool *Pool) *DebugQueue {
	return &DebugQueue{backend: backend, pool: pool, regions: make(map[uint32]*debugRegion)}
}

func (q *DebugQueue) record(op HistoryOp, d Descriptor) {
	q.history[q.historyPos] = HistoryEntry{Op: op, RegionID: d.RegionID, Offset: d.Offset, Length: d.Length}
	q.historyPos = (q.historyPos + 1) % debugHistorySize
	if q.historyLen < debugHistorySize {
		q.historyLen++
	}
}

// History returns recorded operations oldest-first, most recent last.
func (q *DebugQueue) History() []HistoryEntry {
	out := make([]HistoryEntry, q.historyLen)
	start := (q.historyPos - q.historyLen + debugHistorySize) % debugHistorySize
	for i := 0; i < q.historyLen; i++ {
		out[i] = q.history[(start+i)%debugHistorySize]
	}
	return out
}

// regionFor returns the tracking state for a region the local endpoint
// itself knows about (it was Registered through this same pool). It
// never creates tracking state for a region it cannot find there: that
// is reserved for observedRegionFor, used on the Dequeue path where a
// purely-observing debug queue is expected to encounter regions it
// never registered.
func (q *DebugQueue) regionFor(rid uint32) *debugRegion {
	dr, ok := q.regions[rid]
	if ok {
		return dr
	}
	r, ok := q.pool.Get(rid)
	if !ok {
		return nil
	}
	dr = newDebugRegion(r.Length)
	q.regions[rid] = dr
	return dr
}

// observedRegionFor returns the tracking state for a region seen on
// the Dequeue path, creating it on first sight if necessary. A debug
// queue only watches traffic pass by; it may never have witnessed the
// REGISTER that created a region the peer already knows about, so a
// region absent from both q.regions and the pool gets an observed
// (inconsistent) shadow region owning nothing, sized to min. An
// existing observed region's length grows monotonically as later
// dequeues reveal a larger extent.
func (q *DebugQueue) observedRegionFor(rid uint32, min uint64) *debugRegion {
	dr, ok := q.regions[rid]
	if !ok {
		if r, poolOK := q.pool.Get(rid); poolOK {
			dr = newDebugRegion(r.Length)
		} else {
			dr = newObservedDebugRegion(min)
		}
		q.regions[rid] = dr
	}
	if min > dr.length {
		dr.length = min
	}
	return dr
}

// Enqueue implements Backend: claims [d.Offset, d.Offset+d.Length)
// from the local endpoint's owned set before forwarding to backend.
// Returns ErrInvalidBufferArgs if the range is not (fully) owned —
// double-send or sending a buffer outside any claimed range.
func (q *DebugQueue) Enqueue(d Descriptor) error {
	dr := q.regionFor(d.RegionID)
	if dr == nil {
		return ErrInvalidRegionId
	}
	if !dr.claim(d.Offset, d.Offset+d.Length) {
		q.record(HistoryViolation, d)
		return ErrInvalidBufferArgs
	}
	if err := q.backend.Enqueue(d); err != nil {
		_ = dr.release(d.Offset, d.Offset+d.Length)
		return err
	}
	q.record(HistorySend, d)
	return nil
}

// Dequeue implements Backend: releases the returned descriptor's range
// back to the local endpoint's owned set, creating or growing an
// observed shadow region if this is the first or largest sighting of
// its RegionID. Returns ErrBufferNotInUse if the peer returned a range
// already owned locally — a protocol violation (duplicate return, or a
// forged descriptor).
func (q *DebugQueue) Dequeue() (Descriptor, error) {
	d, err := q.backend.Dequeue()
	if err != nil {
		return Descriptor{}, err
	}
	dr := q.observedRegionFor(d.RegionID, d.Offset+d.Length)
	if !dr.release(d.Offset, d.Offset+d.Length) {
		q.record(HistoryViolation, d)
		return Descriptor{}, ErrBufferNotInUse
	}
	q.record(HistoryRecv, d)
	return d, nil
}

// RegisterRegion implements Backend, forwarding to backend and
// starting ownership tracking for the new region at its next use.
func (q *DebugQueue) RegisterRegion(r Region) error {
	delete(q.regions, r.ID)
	return q.backend.RegisterRegion(r)
}

// DeregisterRegion implements Backend. A region with any buffer
// currently in flight — owned by the peer or split across more than
// one locally-owned interval — cannot be safely torn down yet, so
// DeregisterRegion rejects it with ErrRegionDestroy instead of
// forwarding. Only a region the debug queue has never tracked, or one
// that is a single full-span owned interval, is forwarded.
func (q *DebugQueue) DeregisterRegion(rid uint32) error {
	if dr, ok := q.regions[rid]; ok && !dr.isFullSpan() {
		return ErrRegionDestroy
	}
	delete(q.regions, rid)
	return q.backend.DeregisterRegion(rid)
}

// Notify implements Backend.
func (q *DebugQueue) Notify() error {
	return q.backend.Notify()
}

// Control implements Backend.
func (q *DebugQueue) Control(req, value uint64) (uint64, error) {
	return q.backend.Control(req, value)
}

// Close implements Backend.
func (q *DebugQueue) Close() error {
	return q.backend.Close()
}
