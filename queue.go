// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

// Backend is the capability interface a queue implementation binds to
// the abstract contract — each backend is a value type embedding its
// own ring/mapping state, with no inheritance needed.
//
// All methods are synchronous and non-blocking unless documented
// otherwise (only RegisterRegion/DeregisterRegion on IPCQ may spin).
type Backend interface {
	// Enqueue hands a descriptor to the backend. Returns QueueFull if
	// the ring has no free slot.
	Enqueue(d Descriptor) error

	// Dequeue retrieves the next descriptor. Returns QueueEmpty if
	// none is pending. Implementations must transparently process any
	// number of pending REGISTER/DEREGISTER commands — invoking the
	// hooks passed at construction — before returning the first data
	// descriptor.
	Dequeue() (Descriptor, error)

	// RegisterRegion notifies the backend that r has been added to
	// the local pool (for FFQ/IPCQ this sends a REGISTER command to
	// the peer; Loopback is a no-op).
	RegisterRegion(r Region) error

	// DeregisterRegion notifies the backend that rid has been removed
	// from the local pool.
	DeregisterRegion(rid uint32) error

	// Notify is backend-defined; shared-memory backends return nil
	// immediately because signaling is implicit in the write.
	Notify() error

	// Control is reserved for backend-specific tuning knobs.
	Control(req, value uint64) (uint64, error)

	// Close tears down backend-owned resources (e.g. unmaps shared
	// memory). The pool must already be empty; callers should go
	// through Queue.Destroy, which enforces that order.
	Close() error
}

// Hooks binds a backend to the region pool it mirrors commands into
// and the callbacks an application wants fired when a peer-originated
// REGISTER/DEREGISTER command is applied. Every shared-memory backend
// constructor takes a Hooks value; Queue retains the same Pool so its
// own bounds checks observe exactly what the backend has mirrored.
type Hooks struct {
	Pool *Pool

	// OnRegistered is invoked synchronously inside Dequeue after a
	// peer-originated REGISTER command has been applied to Pool.
	OnRegistered func(r Region, rid uint32)

	// OnDeregistered is invoked synchronously inside Dequeue after a
	// peer-originated DEREGISTER command has been applied to Pool.
	OnDeregistered func(rid uint32)
}

// Queue is the abstract, backend-agnostic operation surface: a region
// pool bound to a Backend's operations. Enqueue and Dequeue validate
// descriptors against the pool before or after delegating to the
// backend.
type Queue struct {
	pool    *Pool
	backend Backend
}

// NewQueue binds pool to backend. The backend constructors (NewFFQ,
// NewIPCQ, NewLoopback, NewDebugQueue) return only the Backend; pass
// it here together with the same pool to obtain a Queue.
func NewQueue(pool *Pool, backend Backend) *Queue {
	return &Queue{pool: pool, backend: backend}
}

// Pool returns the region pool backing this queue.
func (q *Queue) Pool() *Pool {
	return q.pool
}

// Enqueue validates d against the pool (offset+length <=
// region.Length, validData+validLength <= length) and, on success,
// forwards it to the backend.
//
// Returns ErrInvalidBufferArgs if validation fails, QueueFull if the
// backend has no free slot. QueueFull is a retriable non-error: no
// pool state is touched either way, so the caller may simply retry.
func (q *Queue) Enqueue(d Descriptor) error {
	if !d.selfConsistent() {
		return ErrInvalidBufferArgs
	}
	if !q.pool.CheckBounds(d.RegionID, d.Offset, d.Length, d.ValidData, d.ValidLength) {
		return ErrInvalidBufferArgs
	}
	return q.backend.Enqueue(d)
}

// Dequeue retrieves the next descriptor from the backend and
// validates it against the pool — protecting against a malicious or
// buggy peer. The ring cursor has already advanced by the time
// validation runs, so a failed validation does not wedge the ring:
// subsequent messages remain deliverable.
//
// Returns QueueEmpty if nothing is pending, ErrInvalidBufferArgs if
// the backend returned a descriptor outside any known region's
// bounds.
func (q *Queue) Dequeue() (Descriptor, error) {
	d, err := q.backend.Dequeue()
	if err != nil {
		return Descriptor{}, err
	}
	if !q.pool.CheckBounds(d.RegionID, d.Offset, d.Length, d.ValidData, d.ValidLength) {
		return Descriptor{}, ErrInvalidBufferArgs
	}
	return d, nil
}

// Register reserves a local region ID for r in the pool, then
// notifies the backend (FFQ/IPCQ send a REGISTER command to the
// peer). Returns the assigned ID.
func (q *Queue) Register(r Region) (uint32, error) {
	rid, err := q.pool.Add(r)
	if err != nil {
		return 0, err
	}
	r.ID = rid
	if err := q.backend.RegisterRegion(r); err != nil {
		_, _ = q.pool.Remove(rid)
		return 0, err
	}
	return rid, nil
}

// Deregister removes rid from the pool, then notifies the backend.
// Returns the region's last known parameters by value.
func (q *Queue) Deregister(rid uint32) (Region, error) {
	r, err := q.pool.Remove(rid)
	if err != nil {
		return Region{}, err
	}
	if err := q.backend.DeregisterRegion(rid); err != nil {
		_ = q.pool.AddWithID(r, rid)
		return Region{}, err
	}
	return r, nil
}

// Notify delegates to the backend.
func (q *Queue) Notify() error {
	return q.backend.Notify()
}

// Control delegates to the backend.
func (q *Queue) Control(req, value uint64) (uint64, error) {
	return q.backend.Control(req, value)
}

// Destroy tears down the region pool, then the backend. Destroy fails
// with ErrRegionDestroy if regions are still registered.
func (q *Queue) Destroy() error {
	if err := q.pool.Destroy(); err != nil {
		return err
	}
	return q.backend.Close()
}
