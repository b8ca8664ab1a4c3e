// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package linmem provides the backing store for a sandbox's linear memory.
//
// [Region] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS |
// MAP_NORESERVE). Because the garbage collector never sees the mapping,
// it cannot move it, so the host address of byte zero ([Region.Base]) is
// stable for the lifetime of the region. The sandbox layer relies on this
// to translate sandbox offsets into host addresses for scatter/gather
// I/O. MAP_NORESERVE lets a full 4 GiB wasm32 address space be reserved
// without committing physical memory up front; pages are backed on first
// touch and read as zero until written.
//
// The mapping is excluded from core dumps (MADV_DONTDUMP) where the
// kernel supports it, since sandbox memory is attacker-influenced and can
// be several gigabytes.
//
// A Region has exactly one owner and performs no locking. Bounds
// checking is the caller's job: Bytes returns the whole mapping and the
// sandbox package is the only code that indexes into it.
//
// Depends on golang.org/x/sys/unix. No wave-internal dependencies.
package linmem
