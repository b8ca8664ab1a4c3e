// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"math"
)

// iovEntrySize is the wire size of one WASI iovec: two little-endian
// uint32 values, base then length.
const iovEntrySize = 8

// MaxIovs is the largest iovec count ParseIovs accepts, the Linux
// IOV_MAX. Zeroed linear memory is a table of valid empty vectors, so
// without a cap the sandbox could make the host allocate an entry for
// every 8 bytes of its memory.
const MaxIovs = 1024

// WasmIoVec is an untrusted scatter/gather entry as the sandbox wrote
// it: an offset into linear memory and a length.
type WasmIoVec struct {
	Base SboxPtr
	Len  uint32
}

// NativeIoVec is a trusted host scatter/gather entry. Values are only
// produced by TranslateIov from a WasmIoVec that already passed the
// bounds check, so Base always points into the linear memory mapping.
type NativeIoVec struct {
	Base uintptr
	Len  uint
}

// ParseIovs reads iovcnt iovec entries from the table at iovs and
// validates each against linear memory. Entries are returned in table
// order. On the first failure the whole call fails and no partial list
// is returned: an iovcnt above MaxIovs or a table entry that runs off
// the end of memory is Eoverflow, and an entry whose buffer does not
// fit is Efault.
func ParseIovs(ctx *VmCtx, iovs SboxPtr, iovcnt uint32) ([]WasmIoVec, error) {
	if iovcnt > MaxIovs {
		return nil, Eoverflow
	}
	parsed := make([]WasmIoVec, 0, iovcnt)
	for index := range uint64(iovcnt) {
		start := uint64(iovs) + index*iovEntrySize
		if start > math.MaxUint {
			return nil, Eoverflow
		}
		base, length, err := ctx.ReadU32Pair(uint(start))
		if err != nil {
			return nil, err
		}
		if !ctx.FitsInLinMem(SboxPtr(base), length) {
			return nil, Efault
		}
		parsed = append(parsed, WasmIoVec{Base: SboxPtr(base), Len: length})
	}
	return parsed, nil
}

// TranslateIov converts a validated WasmIoVec into a host address range.
// It performs no bounds check: iov must have come from ParseIovs or
// otherwise passed FitsInLinMem. Builds tagged wavedebug panic on an
// unvalidated vector.
func (ctx *VmCtx) TranslateIov(iov WasmIoVec) NativeIoVec {
	if debugAssertions && !ctx.FitsInLinMem(iov.Base, iov.Len) {
		panic(fmt.Sprintf("sandbox: TranslateIov on unvalidated iovec {base: %d, len: %d}", iov.Base, iov.Len))
	}
	return NativeIoVec{
		Base: ctx.raw + uintptr(iov.Base),
		Len:  uint(iov.Len),
	}
}

// TranslateIovs applies TranslateIov to each entry, preserving order.
func (ctx *VmCtx) TranslateIovs(iovs []WasmIoVec) []NativeIoVec {
	translated := make([]NativeIoVec, len(iovs))
	for index, iov := range iovs {
		translated[index] = ctx.TranslateIov(iov)
	}
	return translated
}
