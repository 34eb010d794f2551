// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

// Command discriminators. A normal data descriptor has Cmd/Flags&CmdMask
// equal to CmdData. FFQ multiplexes the command into Descriptor.Flags;
// IPCQ carries it in a dedicated field, see ipcq.go.
const (
	CmdData       = 0
	CmdRegister   = 1
	CmdDeregister = 2

	// CmdMask isolates the command discriminator within an FFQ
	// descriptor's Flags field.
	CmdMask = 0x3
)

// FlagLast marks the end of a chain of descriptors. Opaque to CleanQ
// otherwise; callers may use the remaining bits of Flags freely as
// long as they don't collide with CmdMask on an FFQ backend.
const FlagLast = 1 << 30

// Descriptor identifies a buffer: a sub-range of a registered [Region].
//
// A descriptor enqueued by one endpoint transfers ownership of its
// [Offset, Offset+Length) sub-range to the peer; the sender
// must not touch that range again until the descriptor comes back
// through the reverse channel.
type Descriptor struct {
	RegionID    uint32
	Offset      uint64
	Length      uint64
	ValidData   uint64
	ValidLength uint64
	Flags       uint64
}

// selfConsistent checks the parts of buffer validity that don't
// require knowing the region: Length > 0 and
// ValidData+ValidLength <= Length. Bounds relative to the region
// (Offset+Length <= region.Length) are checked by [Pool.CheckBounds].
func (d Descriptor) selfConsistent() bool {
	if d.Length == 0 {
		return false
	}
	if d.ValidData+d.ValidLength > d.Length {
		return false
	}
	return true
}

// Region describes a registered memory region: an opaque base address
// (physical, virtual, or both — CleanQ never dereferences it) and a
// length in bytes. Regions registered on the same [Pool] must be
// pairwise non-overlapping.
type Region struct {
	ID     uint32
	Base   uint64
	Length uint64
}

func regionsOverlap(a, b Region) bool {
	return !(a.Base+a.Length <= b.Base || b.Base+b.Length <= a.Base)
}
