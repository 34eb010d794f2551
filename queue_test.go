// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cleanq_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/cleanq"
)

func newLoopbackQueue(t *testing.T, n int) *cleanq.Queue {
	t.Helper()
	pool := cleanq.NewPool(1)
	backend, err := cleanq.NewLoopback(n, cleanq.Hooks{Pool: pool})
	if err != nil {
		t.Fatalf("NewLoopback: %v", err)
	}
	return cleanq.NewQueue(pool, backend)
}

func TestQueueRegisterEnqueueDequeue(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 256, ValidLength: 256}
	if err := q.Enqueue(d); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != d {
		t.Fatalf("Dequeue: got %+v, want %+v", got, d)
	}
}

func TestQueueEnqueueRejectsOutOfBoundsDescriptor(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := cleanq.Descriptor{RegionID: rid, Offset: 4000, Length: 200, ValidLength: 200}
	if err := q.Enqueue(d); !errors.Is(err, cleanq.ErrInvalidBufferArgs) {
		t.Fatalf("Enqueue out-of-bounds: got %v, want ErrInvalidBufferArgs", err)
	}
}

func TestQueueEnqueueRejectsUnknownRegion(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	d := cleanq.Descriptor{RegionID: 999, Offset: 0, Length: 64, ValidLength: 64}
	if err := q.Enqueue(d); !errors.Is(err, cleanq.ErrInvalidBufferArgs) {
		t.Fatalf("Enqueue unknown region: got %v, want ErrInvalidBufferArgs", err)
	}
}

func TestQueueFullIsRetriable(t *testing.T) {
	q := newLoopbackQueue(t, 2)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 64, ValidLength: 64}

	for range 2 {
		if err := q.Enqueue(d); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	err = q.Enqueue(d)
	if !cleanq.IsWouldBlock(err) || !cleanq.IsRetriable(err) {
		t.Fatalf("Enqueue on full: got %v, want a retriable would-block error", err)
	}

	for range 2 {
		if _, err := q.Dequeue(); err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
	}
	if _, err := q.Dequeue(); !cleanq.IsWouldBlock(err) {
		t.Fatalf("Dequeue on empty: got %v, want would-block", err)
	}
}

func TestQueueDeregisterReturnsRegion(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	r := cleanq.Region{Base: 8192, Length: 4096}
	rid, err := q.Register(r)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := q.Deregister(rid)
	if err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if got.Base != r.Base || got.Length != r.Length {
		t.Fatalf("Deregister: got %+v, want Base=%d Length=%d", got, r.Base, r.Length)
	}
	if q.Pool().NumRegions() != 0 {
		t.Fatalf("NumRegions after Deregister: got %d, want 0", q.Pool().NumRegions())
	}
}

func TestQueueEnqueueRejectsInconsistentDescriptor(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	rid, err := q.Register(cleanq.Region{Base: 0, Length: 4096})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := []struct {
		name string
		d    cleanq.Descriptor
	}{
		{"zero length", cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 0}},
		{"valid range exceeds length", cleanq.Descriptor{RegionID: rid, Offset: 0, Length: 64, ValidData: 32, ValidLength: 48}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := q.Enqueue(c.d); !errors.Is(err, cleanq.ErrInvalidBufferArgs) {
				t.Fatalf("Enqueue: got %v, want ErrInvalidBufferArgs", err)
			}
		})
	}
}

func TestQueueDestroyFailsWithLiveRegions(t *testing.T) {
	q := newLoopbackQueue(t, 8)

	if _, err := q.Register(cleanq.Region{Base: 0, Length: 4096}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := q.Destroy(); !errors.Is(err, cleanq.ErrRegionDestroy) {
		t.Fatalf("Destroy with live region: got %v, want ErrRegionDestroy", err)
	}
}
