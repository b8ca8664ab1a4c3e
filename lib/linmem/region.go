// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package linmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxSize is the largest region New will map: the full wasm32 address
// space.
const MaxSize = 1 << 32

// Region is a fixed-size, zero-initialized memory mapping outside the Go
// heap. A Region must not be copied after creation. After Close, any
// access to its contents panics.
type Region struct {
	data   []byte
	length uint64
	closed bool
}

// New maps a zero-filled region of exactly size bytes. The caller must
// call Close when the region is no longer needed.
func New(size uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("linmem: region size must be positive")
	}
	if size > MaxSize {
		return nil, fmt.Errorf("linmem: region size %d exceeds maximum %d", size, uint64(MaxSize))
	}

	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("linmem: mmap of %d bytes failed: %w", size, err)
	}

	// Best effort: older kernels reject MADV_DONTDUMP, and the region is
	// still usable without it.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Region{data: data, length: size}, nil
}

// Bytes returns the entire mapping. The slice aliases the region; it must
// not be retained beyond the region's lifetime. Panics if the region has
// been closed.
func (r *Region) Bytes() []byte {
	if r.closed {
		panic("linmem: access to closed region")
	}
	return r.data
}

// Len returns the size of the region in bytes. It remains valid after
// Close.
func (r *Region) Len() uint64 {
	return r.length
}

// Base returns the host address of the first byte of the region. The
// address is stable until Close. Panics if the region has been closed.
func (r *Region) Base() uintptr {
	if r.closed {
		panic("linmem: access to closed region")
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))
}

// Close unmaps the region. Close is idempotent.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return fmt.Errorf("linmem: munmap failed: %w", err)
	}
	return nil
}
