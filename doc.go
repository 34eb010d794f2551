// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cleanq provides a shared-memory point-to-point descriptor
// queue for exchanging references to buffers between two endpoints
// without copying payloads.
//
// Endpoints register large memory regions with a [Pool], then enqueue
// and dequeue fixed-size [Descriptor] values that identify sub-ranges
// within those regions. Enqueuing a descriptor transfers ownership of
// its sub-range to the peer; the sender must not touch it again until
// it comes back through the reverse direction.
//
// # Backends
//
// Two shared-memory backends implement the same [Backend] contract:
//
//   - [FFQ]: six words per slot, flow control via a per-slot empty
//     sentinel, commands multiplexed into the descriptor's Flags field.
//   - [IPCQ]: a dedicated sequence number per slot and a distinct
//     command word, at the cost of two extra words per message.
//
// [Loopback] is a single-process reference backend used for testing
// and for exercising [DebugQueue] without shared memory.
//
// # Quick start
//
//	pool := cleanq.NewPool()
//	backend, _ := cleanq.NewFFQ("echo", 64, pool, cleanq.Hooks{})
//	q := cleanq.NewQueue(pool, backend)
//
//	rid, _ := q.Register(cleanq.Region{Base: 0, Length: 64 * 2048})
//	err := q.Enqueue(cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 2048, ValidLength: 2048})
//	if cleanq.IsWouldBlock(err) {
//	    // queue full, retry later
//	}
//
//	d, err := q.Dequeue()
//	if cleanq.IsWouldBlock(err) {
//	    // queue empty, retry later
//	}
//
// # Errors
//
// All operations return the flat [Error] enum (or a would-block signal
// aliased to [code.hybscloud.com/iox.ErrWouldBlock]). QueueFull and
// QueueEmpty are expected, retriable outcomes; the other variants
// indicate a protocol violation or a resource failure.
//
// # Concurrency
//
// Enqueue and Dequeue are synchronous and non-blocking on the calling
// goroutine. Each direction of a shared-memory ring is strictly
// single-producer/single-consumer; Register and Deregister are not
// safe to call concurrently with Enqueue/Dequeue on the same queue and
// must be externally serialized. On IPCQ, Register/Deregister may
// spin briefly waiting for a free command slot.
package cleanq
