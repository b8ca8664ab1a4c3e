// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"errors"
	"testing"
)

func TestCopyBufRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})
	source := []byte("the quick brown fox jumps over the lazy dog")

	for _, dst := range []SboxPtr{0, 1, 4096, testMemorySize - uint32(len(source)) - 1} {
		for _, n := range []uint32{0, 1, 10, uint32(len(source))} {
			if err := ctx.CopyBufToSandbox(dst, source, n); err != nil {
				t.Fatalf("CopyBufToSandbox(%d, n=%d): %v", dst, n, err)
			}
			got, err := ctx.CopyBufFromSandbox(dst, n)
			if err != nil {
				t.Fatalf("CopyBufFromSandbox(%d, %d): %v", dst, n, err)
			}
			if !bytes.Equal(got, source[:n]) {
				t.Errorf("round trip at %d n=%d: expected %q, got %q", dst, n, source[:n], got)
			}
		}
	}
}

func TestCopyBufFromSandboxReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})
	if err := ctx.CopyBufToSandbox(100, []byte("abc"), 3); err != nil {
		t.Fatalf("CopyBufToSandbox: %v", err)
	}
	got, err := ctx.CopyBufFromSandbox(100, 3)
	if err != nil {
		t.Fatalf("CopyBufFromSandbox: %v", err)
	}
	got[0] = 'z'

	again, err := ctx.CopyBufFromSandbox(100, 3)
	if err != nil {
		t.Fatalf("CopyBufFromSandbox: %v", err)
	}
	if string(again) != "abc" {
		t.Errorf("mutating a copied buffer changed linear memory: got %q", again)
	}
}

func TestCopyBufFaults(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})

	if _, err := ctx.CopyBufFromSandbox(testMemorySize-4, 4); !errors.Is(err, Efault) {
		t.Errorf("read ending at memlen: expected Efault, got %v", err)
	}
	if _, err := ctx.CopyBufFromSandbox(0xFFFFFFFF, 2); !errors.Is(err, Efault) {
		t.Errorf("wrapping read: expected Efault, got %v", err)
	}
	if err := ctx.CopyBufToSandbox(0, []byte("ab"), 3); !errors.Is(err, Efault) {
		t.Errorf("short source: expected Efault, got %v", err)
	}
	if err := ctx.CopyBufToSandbox(testMemorySize, []byte("ab"), 2); !errors.Is(err, Efault) {
		t.Errorf("destination past memlen: expected Efault, got %v", err)
	}
}

func TestScalarRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})

	if err := ctx.WriteU16(10, 0xBEEF); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if value, err := ctx.ReadU16(10); err != nil || value != 0xBEEF {
		t.Errorf("ReadU16: expected 0xBEEF, got %#x (err %v)", value, err)
	}

	if err := ctx.WriteU64(32, 0x0102030405060708); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if value, err := ctx.ReadU64(32); err != nil || value != 0x0102030405060708 {
		t.Errorf("ReadU64: expected 0x0102030405060708, got %#x (err %v)", value, err)
	}
	// Little-endian: least significant byte first.
	if low, err := ctx.CopyBufFromSandbox(32, 1); err != nil || low[0] != 0x08 {
		t.Errorf("expected low byte 0x08 at offset 32, got %v (err %v)", low, err)
	}

	if err := ctx.WriteU8(5, 0x7F); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if value, err := ctx.CopyBufFromSandbox(5, 1); err != nil || value[0] != 0x7F {
		t.Errorf("WriteU8: expected 0x7f, got %v (err %v)", value, err)
	}
}

func TestReadU32PairMatchesReadU32(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})

	for _, start := range []uint{0, 3, 1000, testMemorySize - 9} {
		if err := ctx.WriteU32(start, 0xDEADBEEF); err != nil {
			t.Fatalf("WriteU32(%d): %v", start, err)
		}
		if err := ctx.WriteU32(start+4, 0x00C0FFEE); err != nil {
			t.Fatalf("WriteU32(%d): %v", start+4, err)
		}

		first, second, err := ctx.ReadU32Pair(start)
		if err != nil {
			t.Fatalf("ReadU32Pair(%d): %v", start, err)
		}
		low, err := ctx.ReadU32(start)
		if err != nil {
			t.Fatalf("ReadU32(%d): %v", start, err)
		}
		high, err := ctx.ReadU32(start + 4)
		if err != nil {
			t.Fatalf("ReadU32(%d): %v", start+4, err)
		}
		if first != low || second != high {
			t.Errorf("at %d: pair (%#x, %#x) disagrees with reads (%#x, %#x)", start, first, second, low, high)
		}
		if first != 0xDEADBEEF || second != 0x00C0FFEE {
			t.Errorf("at %d: expected (0xdeadbeef, 0xc0ffee), got (%#x, %#x)", start, first, second)
		}
	}
}

func TestScalarFaults(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{})
	end := uint(testMemorySize)

	if _, err := ctx.ReadU16(end - 2); !errors.Is(err, Efault) {
		t.Errorf("ReadU16 at end: expected Efault, got %v", err)
	}
	if _, err := ctx.ReadU32(end - 4); !errors.Is(err, Efault) {
		t.Errorf("ReadU32 at end: expected Efault, got %v", err)
	}
	if _, err := ctx.ReadU64(end); !errors.Is(err, Efault) {
		t.Errorf("ReadU64 past end: expected Efault, got %v", err)
	}
	if _, _, err := ctx.ReadU32Pair(end - 8); !errors.Is(err, Eoverflow) {
		t.Errorf("ReadU32Pair at end: expected Eoverflow, got %v", err)
	}
	if err := ctx.WriteU8(end-1, 1); !errors.Is(err, Efault) {
		t.Errorf("WriteU8 on last byte: expected Efault, got %v", err)
	}
	if err := ctx.WriteU32(end-2, 1); !errors.Is(err, Efault) {
		t.Errorf("WriteU32 straddling end: expected Efault, got %v", err)
	}
}

func TestCopyArgAndEnvironBuffers(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{
		Args: []string{"prog", "x"},
		Env:  []string{"A=1"},
	})

	argc, argSize := ctx.ArgsSizes()
	if argc != 2 || argSize != 7 {
		t.Fatalf("ArgsSizes: expected (2, 7), got (%d, %d)", argc, argSize)
	}
	if err := ctx.CopyArgBufferToSandbox(200, argSize); err != nil {
		t.Fatalf("CopyArgBufferToSandbox: %v", err)
	}
	got, _ := ctx.CopyBufFromSandbox(200, argSize)
	if string(got) != "prog\x00x\x00" {
		t.Errorf("argument buffer: expected %q, got %q", "prog\x00x\x00", got)
	}

	if err := ctx.CopyArgBufferToSandbox(200, argSize-1); !errors.Is(err, Efault) {
		t.Errorf("length mismatch: expected Efault, got %v", err)
	}
	if err := ctx.CopyArgBufferToSandbox(testMemorySize-2, argSize); !errors.Is(err, Efault) {
		t.Errorf("destination past end: expected Efault, got %v", err)
	}

	envc, envSize := ctx.EnvironSizes()
	if envc != 1 || envSize != 4 {
		t.Fatalf("EnvironSizes: expected (1, 4), got (%d, %d)", envc, envSize)
	}
	if err := ctx.CopyEnvironBufferToSandbox(300, envSize); err != nil {
		t.Fatalf("CopyEnvironBufferToSandbox: %v", err)
	}
	got, _ = ctx.CopyBufFromSandbox(300, envSize)
	if string(got) != "A=1\x00" {
		t.Errorf("environment buffer: expected %q, got %q", "A=1\x00", got)
	}
	if err := ctx.CopyEnvironBufferToSandbox(300, envSize+1); !errors.Is(err, Efault) {
		t.Errorf("length mismatch: expected Efault, got %v", err)
	}
}

func TestCopyArgvToSandbox(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{Args: []string{"prog", "-v", "input.wasm"}})

	const table, buffer = 64, 512
	if err := ctx.CopyArgvToSandbox(table, buffer); err != nil {
		t.Fatalf("CopyArgvToSandbox: %v", err)
	}

	expected := []string{"prog", "-v", "input.wasm"}
	for index, want := range expected {
		pointer, err := ctx.ReadU32(uint(table + index*4))
		if err != nil {
			t.Fatalf("reading argv[%d]: %v", index, err)
		}
		got, err := ctx.CopyBufFromSandbox(pointer, uint32(len(want)+1))
		if err != nil {
			t.Fatalf("reading argv[%d] string: %v", index, err)
		}
		if string(got) != want+"\x00" {
			t.Errorf("argv[%d]: expected %q, got %q", index, want+"\x00", got)
		}
	}
}

func TestCopyEnvironToSandboxLeavesMemoryOnFault(t *testing.T) {
	t.Parallel()

	ctx := newTestCtx(t, Config{Env: []string{"A=1", "B=2"}})

	// The table fits, the string buffer does not.
	if err := ctx.CopyEnvironToSandbox(0, testMemorySize-4); !errors.Is(err, Efault) {
		t.Fatalf("expected Efault, got %v", err)
	}
	table, _ := ctx.CopyBufFromSandbox(0, 8)
	if !bytes.Equal(table, make([]byte, 8)) {
		t.Errorf("pointer table written despite fault: %v", table)
	}
}
