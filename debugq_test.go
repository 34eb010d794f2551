// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/cleanq"
)

func newDebugLoopbackQueue(t *testing.T, n int) (*cleanq.Queue, *cleanq.DebugQueue) {
	t.Helper()
	pool := cleanq.NewPool(3)
	lb, err := cleanq.NewLoopback(n, cleanq.Hooks{Pool: pool})
	if err != nil {
		t.Fatalf("NewLoopback: %v", err)
	}
	dq := cleanq.NewDebugQueue(lb, pool)
	return cleanq.NewQueue(pool, dq), dq
}

func TestDebugQueueAllowsWellBehavedRoundTrip(t *testing.T) {
	q, _ := newDebugLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 256, ValidLength: 256}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	// The range was released back on Dequeue; sending it again must succeed.
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("Enqueue after round trip: %v", err)
	}
}

func TestDebugQueueCatchesDoubleSend(t *testing.T) {
	q, _ := newDebugLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 256, ValidLength: 256}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	// Without an intervening Dequeue, the range is still owned by the peer:
	// sending it again is an ownership violation.
	if err := q.Enqueue(d); !errors.Is(err, cleanq.ErrInvalidBufferArgs) {
		t.Fatalf("second Enqueue of same range: got %v, want ErrInvalidBufferArgs", err)
	}
}

func TestDebugQueueCatchesNonOverlappingSplitOwnership(t *testing.T) {
	q, _ := newDebugLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	first := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 256, ValidLength: 256}
	second := cleanq.Descriptor{RegionID: rid, Offset: 256, Length: 256, ValidLength: 256}

	if err := q.Enqueue(first); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	// Disjoint sub-range of the same region is still locally owned and may
	// be sent independently; the debug queue must not confuse the two.
	if err := q.Enqueue(second); err != nil {
		t.Fatalf("Enqueue disjoint range: %v", err)
	}
}

func TestDebugQueueHistoryRecordsOperations(t *testing.T) {
	q, dq := newDebugLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 64, ValidLength: 64}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if err := q.Enqueue(d); err == nil {
		t.Fatalf("third Enqueue: want an ownership violation")
	}

	hist := dq.History()
	if len(hist) != 4 {
		t.Fatalf("History length: got %d, want 4", len(hist))
	}
	wantOps := []cleanq.HistoryOp{cleanq.HistorySend, cleanq.HistoryRecv, cleanq.HistorySend, cleanq.HistoryViolation}
	for i, op := range wantOps {
		if hist[i].Op != op {
			t.Fatalf("History[%d].Op: got %v, want %v", i, hist[i].Op, op)
		}
	}
}

func TestDebugQueueRejectsDeregisterWithBufferInFlight(t *testing.T) {
	q, dq := newDebugLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 256, ValidLength: 256}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// The sent range is still with the peer; deregistering now would drop a
	// buffer the debug layer believes is still in flight.
	if err := dq.DeregisterRegion(rid); !errors.Is(err, cleanq.ErrRegionDestroy) {
		t.Fatalf("DeregisterRegion with buffer in flight: got %v, want ErrRegionDestroy", err)
	}

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	// Everything is back locally now: a full-span owned region may be torn down.
	if err := dq.DeregisterRegion(rid); err != nil {
		t.Fatalf("DeregisterRegion after round trip: %v", err)
	}
}

func TestDebugQueueTracksRegionNeverLocallyRegistered(t *testing.T) {
	pool := cleanq.NewPool(3)
	lb, err := cleanq.NewLoopback(8, cleanq.Hooks{Pool: pool})
	if err != nil {
		t.Fatalf("NewLoopback: %v", err)
	}
	dq := cleanq.NewDebugQueue(lb, pool)

	// Push raw descriptors straight through the wrapped backend, bypassing
	// Queue.Register entirely: the debug queue never sees a REGISTER for
	// this region id, only the peer's data.
	const rid = 42
	first := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 64, ValidLength: 64}
	if err := lb.Enqueue(first); err != nil {
		t.Fatalf("backend Enqueue: %v", err)
	}
	if _, err := dq.Dequeue(); err != nil {
		t.Fatalf("Dequeue of an unregistered region: %v", err)
	}

	// A later, larger observation must grow the shadow region rather than
	// be rejected as out of bounds.
	second := cleanq.Descriptor{RegionID: rid, Offset: 128, Length: 64, ValidLength: 64}
	if err := lb.Enqueue(second); err != nil {
		t.Fatalf("backend Enqueue: %v", err)
	}
	if _, err := dq.Dequeue(); err != nil {
		t.Fatalf("Dequeue of a grown shadow region: %v", err)
	}
}
