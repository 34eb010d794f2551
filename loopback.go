// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

// Loopback is a single-process reference backend: a plain in-memory
// ring with no shared-memory mapping and no peer to send
// REGISTER/DEREGISTER commands to, useful for tests and for
// applications that want the Queue contract without IPC.
type Loopback struct {
	ring       []Descriptor
	mask       uint64
	head, tail uint64
	count      uint64
	hooks      Hooks
}

// NewLoopback allocates a Loopback backend with n slots (n must be a
// power of two). Unlike FFQ/IPCQ, the pool passed in hooks is purely
// local bookkeeping: RegisterRegion/DeregisterRegion are no-ops since
// there is no peer to mirror them to.
func NewLoopback(n int, hooks Hooks) (*Loopback, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, ErrInitQueue
	}
	return &Loopback{ring: make([]Descriptor, n), mask: uint64(n - 1), hooks: hooks}, nil
}

// Enqueue implements Backend.
func (q *Loopback) Enqueue(d Descriptor) error {
	if q.count == uint64(len(q.ring)) {
		return QueueFull
	}
	q.ring[q.tail&q.mask] = d
	q.tail++
	q.count++
	return nil
}

// Dequeue implements Backend.
func (q *Loopback) Dequeue() (Descriptor, error) {
	if q.count == 0 {
		return Descriptor{}, QueueEmpty
	}
	d := q.ring[q.head&q.mask]
	q.head++
	q.count--
	return d, nil
}

// RegisterRegion implements Backend as a no-op: a Loopback queue has no
// peer process to mirror region metadata to.
func (q *Loopback) RegisterRegion(Region) error {
	return nil
}

// DeregisterRegion implements Backend as a no-op.
func (q *Loopback) DeregisterRegion(uint32) error {
	return nil
}

// Notify implements Backend as a no-op.
func (q *Loopback) Notify() error {
	return nil
}

// Control implements Backend; Loopback reserves no tuning knobs.
func (q *Loopback) Control(_, _ uint64) (uint64, error) {
	return 0, nil
}

// Close implements Backend; there is no backing resource to release.
func (q *Loopback) Close() error {
	return nil
}
