// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/binary"

	"github.com/bureau-foundation/wave/lib/binhash"
)

// All accessors in this file check bounds with one of the predicates in
// bounds.go before touching linear memory and fail the call on a
// violation. No method returns a slice aliasing linear memory: data
// crosses the boundary by copy.

// window returns mem[start:start+n]. Callers must have checked
// FitsInLinMemUsize(start, n).
func (ctx *VmCtx) window(start, n uint) []byte {
	return ctx.mem.Bytes()[start : start+n : start+n]
}

// CopyBufFromSandbox returns a fresh host buffer holding the n bytes of
// linear memory starting at src. Callers are expected to have validated
// the window already; a window that does not fit still fails with
// Efault rather than reading out of bounds.
func (ctx *VmCtx) CopyBufFromSandbox(src SboxPtr, n uint32) ([]byte, error) {
	if !ctx.FitsInLinMem(src, n) {
		return nil, Efault
	}
	buffer := make([]byte, n)
	copy(buffer, ctx.window(uint(src), uint(n)))
	return buffer, nil
}

// CopyBufToSandbox copies the first n bytes of src into linear memory at
// dst. It fails with Efault if src is shorter than n or the destination
// window does not fit.
func (ctx *VmCtx) CopyBufToSandbox(dst SboxPtr, src []byte, n uint32) error {
	if uint64(len(src)) < uint64(n) || !ctx.FitsInLinMem(dst, n) {
		return Efault
	}
	copy(ctx.window(uint(dst), uint(n)), src[:n])
	ctx.assertSafe()
	return nil
}

// CopyArgBufferToSandbox copies the NUL-separated argument buffer into
// linear memory at dst. n must equal the buffer length exactly.
func (ctx *VmCtx) CopyArgBufferToSandbox(dst SboxPtr, n uint32) error {
	return ctx.copyOwnedBuffer(dst, ctx.argBuffer, n)
}

// CopyEnvironBufferToSandbox copies the NUL-separated environment buffer
// into linear memory at dst. n must equal the buffer length exactly.
func (ctx *VmCtx) CopyEnvironBufferToSandbox(dst SboxPtr, n uint32) error {
	return ctx.copyOwnedBuffer(dst, ctx.envBuffer, n)
}

func (ctx *VmCtx) copyOwnedBuffer(dst SboxPtr, buffer []byte, n uint32) error {
	if uint64(len(buffer)) != uint64(n) || !ctx.FitsInLinMem(dst, n) {
		return Efault
	}
	copy(ctx.window(uint(dst), uint(n)), buffer)
	ctx.assertSafe()
	return nil
}

// ReadU16 decodes a little-endian uint16 at start.
func (ctx *VmCtx) ReadU16(start uint) (uint16, error) {
	if !ctx.FitsInLinMemUsize(start, 2) {
		return 0, Efault
	}
	return binary.LittleEndian.Uint16(ctx.window(start, 2)), nil
}

// ReadU32 decodes a little-endian uint32 at start.
func (ctx *VmCtx) ReadU32(start uint) (uint32, error) {
	if !ctx.FitsInLinMemUsize(start, 4) {
		return 0, Efault
	}
	return binary.LittleEndian.Uint32(ctx.window(start, 4)), nil
}

// ReadU64 decodes a little-endian uint64 at start.
func (ctx *VmCtx) ReadU64(start uint) (uint64, error) {
	if !ctx.FitsInLinMemUsize(start, 8) {
		return 0, Efault
	}
	return binary.LittleEndian.Uint64(ctx.window(start, 8)), nil
}

// ReadU32Pair decodes the (ptr, len) pair stored as two consecutive
// little-endian uint32 values at start. This is the wire layout of a
// WASI iovec and of a string slice. A window that does not fit is
// Eoverflow: it means the length-prefixed structure ran off the end of
// memory.
func (ctx *VmCtx) ReadU32Pair(start uint) (uint32, uint32, error) {
	if !ctx.FitsInLinMemUsize(start, 8) {
		return 0, 0, Eoverflow
	}
	window := ctx.window(start, 8)
	return binary.LittleEndian.Uint32(window[0:4]), binary.LittleEndian.Uint32(window[4:8]), nil
}

// WriteU8 stores v at offset.
func (ctx *VmCtx) WriteU8(offset uint, v uint8) error {
	if !ctx.FitsInLinMemUsize(offset, 1) {
		return Efault
	}
	ctx.window(offset, 1)[0] = v
	ctx.assertSafe()
	return nil
}

// WriteU16 stores v little-endian at offset.
func (ctx *VmCtx) WriteU16(offset uint, v uint16) error {
	if !ctx.FitsInLinMemUsize(offset, 2) {
		return Efault
	}
	binary.LittleEndian.PutUint16(ctx.window(offset, 2), v)
	ctx.assertSafe()
	return nil
}

// WriteU32 stores v little-endian at offset.
func (ctx *VmCtx) WriteU32(offset uint, v uint32) error {
	if !ctx.FitsInLinMemUsize(offset, 4) {
		return Efault
	}
	binary.LittleEndian.PutUint32(ctx.window(offset, 4), v)
	ctx.assertSafe()
	return nil
}

// WriteU64 stores v little-endian at offset.
func (ctx *VmCtx) WriteU64(offset uint, v uint64) error {
	if !ctx.FitsInLinMemUsize(offset, 8) {
		return Efault
	}
	binary.LittleEndian.PutUint64(ctx.window(offset, 8), v)
	ctx.assertSafe()
	return nil
}

// ArgsSizes returns the argument count and the byte length of the
// NUL-separated argument buffer, the two values args_sizes_get reports.
func (ctx *VmCtx) ArgsSizes() (uint32, uint32) {
	return uint32(ctx.argc), uint32(len(ctx.argBuffer))
}

// EnvironSizes is ArgsSizes for the environment.
func (ctx *VmCtx) EnvironSizes() (uint32, uint32) {
	return uint32(ctx.envc), uint32(len(ctx.envBuffer))
}

// CopyArgvToSandbox implements the memory side of args_get: the argument
// buffer is copied to argvBuf and a table of argc little-endian uint32
// pointers, one per argument, is written at argv. Both windows are
// checked before either is written, so a failure leaves memory
// unchanged.
func (ctx *VmCtx) CopyArgvToSandbox(argv, argvBuf SboxPtr) error {
	return ctx.copyPointerTable(argv, argvBuf, ctx.argBuffer, ctx.argc)
}

// CopyEnvironToSandbox implements the memory side of environ_get. See
// CopyArgvToSandbox.
func (ctx *VmCtx) CopyEnvironToSandbox(environ, environBuf SboxPtr) error {
	return ctx.copyPointerTable(environ, environBuf, ctx.envBuffer, ctx.envc)
}

func (ctx *VmCtx) copyPointerTable(table, bufferStart SboxPtr, buffer []byte, count int) error {
	// count < MaxArgs and len(buffer) < MaxBufferSize, so neither
	// conversion below can truncate.
	tableSize := uint32(count) * 4
	bufferSize := uint32(len(buffer))
	if !ctx.FitsInLinMem(table, tableSize) || !ctx.FitsInLinMem(bufferStart, bufferSize) {
		return Efault
	}
	if err := ctx.copyOwnedBuffer(bufferStart, buffer, bufferSize); err != nil {
		return err
	}

	offset := uint32(0)
	for index := range count {
		entry := uint(table) + uint(index)*4
		if err := ctx.WriteU32(entry, uint32(bufferStart)+offset); err != nil {
			return err
		}
		for buffer[offset] != 0 {
			offset++
		}
		offset++
	}
	return nil
}

// Digest returns the BLAKE3 memory-domain digest of all of linear
// memory. Hashing reads every page, so it costs time proportional to
// MemLen even for pages the guest never touched.
func (ctx *VmCtx) Digest() binhash.Digest {
	return binhash.HashMemory(ctx.mem.Bytes())
}
