// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq

import "code.hybscloud.com/iox"

// Error is CleanQ's flat error enum. Every operation returns either nil
// or one of these values (or a would-block signal, see QueueFull and
// QueueEmpty below), except Close on FFQ and IPCQ, which passes through
// the operating system's error from unmapping the shared segment.
// There are no other error types in this package.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}

const (
	// ErrInvalidBufferArgs means a descriptor's bounds are inconsistent
	// with its region, or (enqueue-side) that the caller does not own
	// the buffer it is trying to send.
	ErrInvalidBufferArgs Error = "cleanq: invalid buffer arguments"

	// ErrInvalidRegionId means a region_id referenced a slot the pool
	// does not recognize (never registered, already deregistered, or
	// forged).
	ErrInvalidRegionId Error = "cleanq: invalid region id"

	// ErrInvalidRegionArgs means a candidate region overlaps a region
	// already live in the pool.
	ErrInvalidRegionArgs Error = "cleanq: invalid region arguments"

	// ErrRegionDestroy means a region could not be torn down because
	// buffers within it are still outstanding.
	ErrRegionDestroy Error = "cleanq: region has buffers in flight"

	// ErrBufferNotInUse means a dequeued descriptor returned a range
	// the local endpoint still believed it owned — a peer protocol
	// violation caught by the debug queue.
	ErrBufferNotInUse Error = "cleanq: buffer not in use"

	// ErrMallocFail means a shared mapping or other backing allocation
	// could not be created.
	ErrMallocFail Error = "cleanq: allocation failed"

	// ErrInitQueue means queue construction failed for a reason other
	// than allocation (e.g. a malformed shared mapping layout).
	ErrInitQueue Error = "cleanq: queue initialization failed"
)

// QueueFull and QueueEmpty are expected, non-exceptional outcomes: the
// ring has no free slot (Enqueue) or no pending descriptor (Dequeue).
// Callers are expected to retry, so both alias the same ecosystem
// would-block signal the rest of the hybscloud stack uses — exactly as
// a single SPSC ring in code.hybscloud.com/lfq returns the same
// ErrWouldBlock for both its full and empty conditions; the caller
// already knows which operation it invoked.
var (
	QueueFull  = iox.ErrWouldBlock
	QueueEmpty = iox.ErrWouldBlock
)

// IsWouldBlock reports whether err is QueueFull or QueueEmpty (i.e. a
// retriable, non-exceptional outcome rather than a protocol violation
// or resource failure).
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsRetriable reports whether err represents a condition the caller
// should retry rather than treat as a bug or fatal error.
func IsRetriable(err error) bool {
	return iox.IsNonFailure(err)
}
