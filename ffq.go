// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/cleanq/internal/shm"
)

// ffqSlotSize is a cache line: six 64-bit words (word0 is the
// sentinel/publish word; words 1-5 carry offset, length, valid_data,
// valid_length, flags) padded out to 64 bytes.
const ffqSlotSize = 64

// ffqSentinel is the reserved "empty" value for a slot's word0. Any
// legitimate region_id (32 bits) can never equal it.
const ffqSentinel = ^uint64(0)

// ffqSlot mirrors one cache-line-aligned ring slot. It is never
// allocated directly: instances are carved out of a shared mapping via
// unsafe.Pointer, interpreting an mmap'd byte range as a fixed-layout
// struct. word0 is an atomix.Uint64 so producer/consumer can
// publish/observe it with acquire/release semantics; words 1-5 are
// plain fields — correctness relies on the release store to word0
// happening after they are written, and the acquire load of word0
// happening before they are read.
type ffqSlot struct {
	word0 atomix.Uint64
	word1 uint64
	word2 uint64
	word3 uint64
	word4 uint64
	word5 uint64
	_     [16]byte // pad to 64 bytes
}

func ffqSlotAt(b []byte, idx int) *ffqSlot {
	return (*ffqSlot)(unsafe.Pointer(&b[idx*ffqSlotSize]))
}

func ffqClearRing(b []byte, n int) {
	for i := 0; i < n; i++ {
		s := ffqSlotAt(b, i)
		s.word0.StoreRelaxed(ffqSentinel)
		s.word1, s.word2, s.word3, s.word4, s.word5 = 0, 0, 0, 0, 0
	}
}

// ffqRing is one direction of an FFQ channel: a Lamport-style ring
// where flow control is carried entirely in each slot's word0 rather
// than separate head/tail indices. pos is advanced
// post-increment-then-mask ((pos+1)&mask) so it always moves forward:
// applying the modulo without first incrementing would leave pos on
// the same slot forever.
type ffqRing struct {
	slots []byte
	n     uint64
	mask  uint64
	pos   uint64
}

func newFFQRing(b []byte, n int) *ffqRing {
	return &ffqRing{slots: b, n: uint64(n), mask: uint64(n - 1)}
}

// send is the producer side.
func (r *ffqRing) send(d Descriptor) error {
	s := ffqSlotAt(r.slots, int(r.pos&r.mask))
	if s.word0.LoadAcquire() != ffqSentinel {
		return QueueFull
	}
	s.word1 = d.Offset
	s.word2 = d.Length
	s.word3 = d.ValidData
	s.word4 = d.ValidLength
	s.word5 = d.Flags
	s.word0.StoreRelease(uint64(d.RegionID))
	r.pos = (r.pos + 1) & r.mask
	return nil
}

// recv is the consumer side.
func (r *ffqRing) recv() (Descriptor, bool) {
	s := ffqSlotAt(r.slots, int(r.pos&r.mask))
	regionID := s.word0.LoadAcquire()
	if regionID == ffqSentinel {
		return Descriptor{}, false
	}
	d := Descriptor{
		RegionID:    uint32(regionID),
		Offset:      s.word1,
		Length:      s.word2,
		ValidData:   s.word3,
		ValidLength: s.word4,
		Flags:       s.word5,
	}
	s.word0.StoreRelease(ffqSentinel)
	r.pos = (r.pos + 1) & r.mask
	return d, true
}

// FFQSize returns the byte size of the shared mapping an FFQ channel
// with n slots per direction requires: 2*n*slot_size.
func FFQSize(n int) int {
	return 2 * n * ffqSlotSize
}

// FFQ is a shared-memory backend built from two FFQ rings (tx/rx)
// mapped onto one shared segment, carrying an in-band
// REGISTER/DEREGISTER command protocol multiplexed into Flags.
type FFQ struct {
	tx, rx  *ffqRing
	hooks   Hooks
	seg     *shm.Segment
	creator bool
}

// NewFFQ creates or joins an FFQ channel named name with n slots per
// direction (n must be a power of two). The first caller to reach name
// becomes the creator and zeroes the mapping, initializing every slot
// to the empty sentinel, exactly once before the second caller (the
// joiner) attaches. The creator's first ring is its TX / the joiner's
// RX, and vice versa, so creator-TX-equals-joiner-RX falls out
// automatically.
func NewFFQ(name string, n int, pool *Pool, hooks Hooks) (*FFQ, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, ErrInitQueue
	}
	hooks.Pool = pool

	seg, created, err := shm.CreateOrOpen(name, FFQSize(n))
	if err != nil {
		return nil, ErrMallocFail
	}

	data := seg.Bytes()
	ring0 := data[:n*ffqSlotSize]
	ring1 := data[n*ffqSlotSize:]
	if created {
		ffqClearRing(ring0, n)
		ffqClearRing(ring1, n)
	}

	q := &FFQ{hooks: hooks, seg: seg, creator: created}
	if created {
		q.tx = newFFQRing(ring0, n)
		q.rx = newFFQRing(ring1, n)
	} else {
		q.tx = newFFQRing(ring1, n)
		q.rx = newFFQRing(ring0, n)
	}
	return q, nil
}

// Enqueue implements Backend.
func (q *FFQ) Enqueue(d Descriptor) error {
	return q.tx.send(d)
}

// Dequeue implements Backend. It transparently applies any number of
// pending REGISTER/DEREGISTER commands before returning the first
// data descriptor.
func (q *FFQ) Dequeue() (Descriptor, error) {
	for {
		d, ok := q.rx.recv()
		if !ok {
			return Descriptor{}, QueueEmpty
		}
		switch d.Flags & CmdMask {
		case CmdRegister:
			r := Region{Base: d.Offset, Length: d.Length}
			_ = q.hooks.Pool.AddWithID(r, d.RegionID)
			if q.hooks.OnRegistered != nil {
				q.hooks.OnRegistered(r, d.RegionID)
			}
		case CmdDeregister:
			_, _ = q.hooks.Pool.Remove(d.RegionID)
			if q.hooks.OnDeregistered != nil {
				q.hooks.OnDeregistered(d.RegionID)
			}
		default:
			return d, nil
		}
	}
}

// RegisterRegion sends a CMD_REGISTER frame to the peer. Region
// carries a single opaque Base rather than separate virtual/physical
// addresses, so Base travels in Offset and ValidData is left zero.
func (q *FFQ) RegisterRegion(r Region) error {
	return q.tx.send(Descriptor{RegionID: r.ID, Offset: r.Base, Length: r.Length, Flags: CmdRegister})
}

// DeregisterRegion sends a CMD_DEREGISTER frame to the peer.
func (q *FFQ) DeregisterRegion(rid uint32) error {
	return q.tx.send(Descriptor{RegionID: rid, Flags: CmdDeregister})
}

// Notify implements Backend: signaling is implicit in the shared write.
func (q *FFQ) Notify() error {
	return nil
}

// Control implements Backend; FFQ reserves no tuning knobs.
func (q *FFQ) Control(_, _ uint64) (uint64, error) {
	return 0, nil
}

// Close unmaps the shared segment. The creator also unlinks the name.
func (q *FFQ) Close() error {
	if q.creator {
		_ = q.seg.Unlink()
	}
	return q.seg.Close()
}
