// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/cleanq/internal/shm"
	"code.hybscloud.com/spin"
)

const (
	ipcqAckSize  = 64 // one cache line
	ipcqSlotSize = 64 // one cache line: seq + 6 descriptor fields + cmd
)

// ipcqEmptySeq marks a slot that has never been published. A reserved
// sentinel (rather than comparing rx_seq <= seq) avoids the ambiguity
// of what an all-zero initial slot means relative to a consumer
// starting at rx_seq==0; see DESIGN.md.
const ipcqEmptySeq = ^uint64(0)

// ipcqSlot is a 64-byte-aligned IPCQ descriptor: the six CleanQ
// descriptor fields plus a publish sequence number and a command
// discriminator.
type ipcqSlot struct {
	seq         atomix.Uint64
	regionID    uint64
	offset      uint64
	length      uint64
	validData   uint64
	validLength uint64
	flags       uint64
	cmd         uint64
}

func ipcqSlotAt(b []byte, idx int) *ipcqSlot {
	return (*ipcqSlot)(unsafe.Pointer(&b[idx*ipcqSlotSize]))
}

// ipcqChannel is one direction of an IPCQ: an N-slot descriptor array
// plus the dedicated, cache-line-isolated ack word a consumer
// publishes its rx_seq into. A channel is used either purely as a
// producer (send) or purely as a consumer (recv) by a given endpoint;
// both endpoints map the same bytes.
type ipcqChannel struct {
	desc   []byte
	ack    *atomix.Uint64
	n      uint64
	usable uint64 // n-1: one slot reserved to avoid full/empty ambiguity
	seq    uint64 // this endpoint's tx_seq (producer) or rx_seq (consumer)
}

func newIPCQChannel(block []byte, n int) *ipcqChannel {
	ack := (*atomix.Uint64)(unsafe.Pointer(&block[0]))
	return &ipcqChannel{desc: block[ipcqAckSize:], ack: ack, n: uint64(n), usable: uint64(n - 1)}
}

func ipcqClearBlock(block []byte, n int) {
	ack := (*atomix.Uint64)(unsafe.Pointer(&block[0]))
	ack.StoreRelaxed(0)
	descs := block[ipcqAckSize:]
	for i := 0; i < n; i++ {
		s := ipcqSlotAt(descs, i)
		s.seq.StoreRelaxed(ipcqEmptySeq)
		s.regionID, s.offset, s.length = 0, 0, 0
		s.validData, s.validLength, s.flags, s.cmd = 0, 0, 0, 0
	}
}

// send is the producer side: check the capacity predicate, populate
// fields, then publish by storing seq.
func (c *ipcqChannel) send(d Descriptor, cmd uint64) error {
	ackVal := c.ack.LoadAcquire()
	if c.seq-ackVal >= c.usable {
		return QueueFull
	}
	s := ipcqSlotAt(c.desc, int(c.seq&(c.n-1)))
	s.regionID = uint64(d.RegionID)
	s.offset = d.Offset
	s.length = d.Length
	s.validData = d.ValidData
	s.validLength = d.ValidLength
	s.flags = d.Flags
	s.cmd = cmd
	s.seq.StoreRelease(c.seq)
	c.seq++
	return nil
}

// recv is the consumer side: availability check, and (if available)
// extraction plus publishing the new rx_seq into the ack word.
func (c *ipcqChannel) recv() (Descriptor, uint64, bool) {
	s := ipcqSlotAt(c.desc, int(c.seq&(c.n-1)))
	pub := s.seq.LoadAcquire()
	if pub != c.seq {
		return Descriptor{}, 0, false
	}
	d := Descriptor{
		RegionID:    uint32(s.regionID),
		Offset:      s.offset,
		Length:      s.length,
		ValidData:   s.validData,
		ValidLength: s.validLength,
		Flags:       s.flags,
	}
	cmd := s.cmd
	c.seq++
	c.ack.StoreRelease(c.seq)
	return d, cmd, true
}

// IPCQSize returns the byte size of the shared mapping an IPCQ channel
// with n slots per direction requires:
// 2*(ack_cacheline + n*descriptor_size).
func IPCQSize(n int) int {
	return 2 * (ipcqAckSize + n*ipcqSlotSize)
}

// IPCQ is an alternative shared-memory backend built on an explicit
// 64-bit sequence per descriptor and a distinct command word, rather
// than FFQ's reserved sentinel and flags-multiplexed commands.
type IPCQ struct {
	tx, rx  *ipcqChannel
	hooks   Hooks
	seg     *shm.Segment
	creator bool
}

// NewIPCQ creates or joins an IPCQ channel named name with n slots per
// direction (n must be a power of two). The creator's first block is
// its TX, the joiner's mirror image of the same block is its RX: the
// two endpoints' TX/RX blocks are disjoint and mirror each other,
// never aliased.
func NewIPCQ(name string, n int, pool *Pool, hooks Hooks) (*IPCQ, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, ErrInitQueue
	}
	hooks.Pool = pool

	chanSize := ipcqAckSize + n*ipcqSlotSize
	seg, created, err := shm.CreateOrOpen(name, 2*chanSize)
	if err != nil {
		return nil, ErrMallocFail
	}

	data := seg.Bytes()
	block0 := data[:chanSize]
	block1 := data[chanSize:]
	if created {
		ipcqClearBlock(block0, n)
		ipcqClearBlock(block1, n)
	}

	q := &IPCQ{hooks: hooks, seg: seg, creator: created}
	if created {
		q.tx = newIPCQChannel(block0, n)
		q.rx = newIPCQChannel(block1, n)
	} else {
		q.tx = newIPCQChannel(block1, n)
		q.rx = newIPCQChannel(block0, n)
	}
	return q, nil
}

// Enqueue implements Backend.
func (q *IPCQ) Enqueue(d Descriptor) error {
	return q.tx.send(d, CmdData)
}

// Dequeue implements Backend, looping through any pending
// administrative commands before returning the first user-visible
// descriptor.
func (q *IPCQ) Dequeue() (Descriptor, error) {
	for {
		d, cmd, ok := q.rx.recv()
		if !ok {
			return Descriptor{}, QueueEmpty
		}
		switch cmd {
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

// RegisterRegion spins for a free command slot and sends a
// CMD_REGISTER frame. Commands must not be reordered with
// subsequently-sent data on the same direction, which holds here
// because both travel through the same tx channel in the order
// callers invoke them.
func (q *IPCQ) RegisterRegion(r Region) error {
	d := Descriptor{RegionID: r.ID, Offset: r.Base, Length: r.Length}
	sw := spin.Wait{}
	for {
		if err := q.tx.send(d, CmdRegister); err == nil {
			return nil
		}
		sw.Once()
	}
}

// DeregisterRegion spins for a free command slot and sends a
// CMD_DEREGISTER frame.
func (q *IPCQ) DeregisterRegion(rid uint32) error {
	d := Descriptor{RegionID: rid}
	sw := spin.Wait{}
	for {
		if err := q.tx.send(d, CmdDeregister); err == nil {
			return nil
		}
		sw.Once()
	}
}

// Notify implements Backend: signaling is implicit in the shared write.
func (q *IPCQ) Notify() error {
	return nil
}

// Control implements Backend; IPCQ reserves no tuning knobs.
func (q *IPCQ) Control(_, _ uint64) (uint64, error) {
	return 0, nil
}

// Close unmaps the shared segment. The creator also unlinks the name.
func (q *IPCQ) Close() error {
	if q.creator {
		_ = q.seg.Unlink()
	}
	return q.seg.Close()
}
