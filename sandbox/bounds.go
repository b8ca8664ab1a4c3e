// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// The bounds predicates below are the trusted kernel of the sandbox:
// every read or write of linear memory is gated by one of them, and the
// gate is evaluated before memory is touched, never after.
//
// The valid region is [0, memlen). A (buf, cnt) window fits only if
// buf+cnt < memlen, so the final byte of the mapping is never reachable.
// That is stricter than necessary and keeps the predicate identical to
// the one the rest of the runtime was written against.

// InLinMem reports whether ptr addresses a byte of linear memory.
func (ctx *VmCtx) InLinMem(ptr SboxPtr) bool {
	return uint64(ptr) < ctx.memlen
}

// InLinMemUsize is InLinMem over host-width offsets.
func (ctx *VmCtx) InLinMemUsize(ptr uint) bool {
	return uint64(ptr) < ctx.memlen
}

// FitsInLinMem reports whether the window of cnt bytes starting at buf
// lies entirely inside linear memory. The sum is taken in 64 bits so it
// cannot wrap; the trailing buf <= buf+cnt restates the no-wrap
// condition in the 32-bit domain the caller reasons in.
func (ctx *VmCtx) FitsInLinMem(buf SboxPtr, cnt uint32) bool {
	total := uint64(buf) + uint64(cnt)
	if total >= ctx.memlen {
		return false
	}
	return ctx.InLinMem(buf) && ctx.InLinMem(SboxPtr(cnt)) && buf <= buf+cnt
}

// FitsInLinMemUsize is FitsInLinMem over host-width offsets. Host-width
// addition can wrap, so the wrap is rejected explicitly.
func (ctx *VmCtx) FitsInLinMemUsize(buf, cnt uint) bool {
	total := buf + cnt
	if total < buf || uint64(total) >= ctx.memlen {
		return false
	}
	return ctx.InLinMemUsize(buf) && ctx.InLinMemUsize(cnt) && buf <= total
}
