// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shm implements a named shared mapping primitive:
// create/open/clear/unlink over a POSIX shared-memory file. Naming and
// lifecycle are kept separate from the harder engineering above it
// (region pool, rings, command protocol); this package exists only so
// FFQ and IPCQ have something real to map end to end in tests.
//
// An mmap'd file under /dev/shm, opened with O_CREAT|O_EXCL, resolves
// the creator/joiner race: whichever side's exclusive create succeeds
// is the creator.
package shm

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Segment is a memory-mapped shared region backed by a file under
// /dev/shm (falling back to os.TempDir on platforms without it).
type Segment struct {
	data    []byte
	path    string
	creator bool
}

func dir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func pathFor(name string) string {
	return filepath.Join(dir(), "cleanq-"+name)
}

// Create exclusively creates and maps a new segment of size bytes.
// Returns os.ErrExist (wrapped) if a segment with this name already
// exists — callers use that to decide creator vs. joiner role.
func Create(name string, size int) (*Segment, error) {
	path := pathFor(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Segment{data: data, path: path, creator: true}, nil
}

// Open maps an existing segment of size bytes, as the joining
// endpoint.
func Open(name string, size int) (*Segment, error) {
	path := pathFor(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &Segment{data: data, path: path}, nil
}

// CreateOrOpen attempts Create first; if a segment with this name
// already exists, it falls back to Open. The returned bool reports
// whether this call created the segment (and is therefore the
// endpoint responsible for clearing it before the peer attaches).
func CreateOrOpen(name string, size int) (seg *Segment, created bool, err error) {
	seg, err = Create(name, size)
	if err == nil {
		return seg, true, nil
	}
	if !os.IsExist(err) {
		return nil, false, err
	}
	seg, err = Open(name, size)
	if err != nil {
		return nil, false, err
	}
	return seg, false, nil
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Clear zeroes the entire mapping. Only the creator should call this,
// and only before the peer attaches.
func (s *Segment) Clear() {
	clear(s.data)
}

// Close unmaps the segment.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Unlink removes the backing file. Only the endpoint that created the
// mapping should call this, and only after tearing down: the mapping
// itself stays valid for any endpoint that still has it mapped, and is
// released once all endpoints have unmapped.
func (s *Segment) Unlink() error {
	return os.Remove(s.path)
}

// IsCreator reports whether this handle was returned by Create (or by
// CreateOrOpen's creating branch).
func (s *Segment) IsCreator() bool {
	return s.creator
}
