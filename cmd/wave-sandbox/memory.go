// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wave/lib/binhash"
	"github.com/bureau-foundation/wave/sandbox"
)

// memoryReport describes a guest's initial argument and environment
// layout in linear memory.
type memoryReport struct {
	MemorySize     uint64          `json:"memory_size"`
	Argc           uint32          `json:"argc"`
	ArgvBufSize    uint32          `json:"argv_buf_size"`
	Environc       uint32          `json:"environc"`
	EnvironBufSize uint32          `json:"environ_buf_size"`
	Argv           sandbox.SboxPtr `json:"argv"`
	ArgvBuf        sandbox.SboxPtr `json:"argv_buf"`
	Environ        sandbox.SboxPtr `json:"environ"`
	EnvironBuf     sandbox.SboxPtr `json:"environ_buf"`
	End            sandbox.SboxPtr `json:"end"`
	Digest         binhash.Digest  `json:"digest"`
}

// guestLayout places the argv pointer table, argv buffer, environ
// pointer table, and environ buffer back to back from address zero,
// pointer tables aligned to 4 bytes. It is the layout a guest's libc
// produces when it sizes its allocations with args_sizes_get and
// environ_sizes_get.
func guestLayout(vm *sandbox.VmCtx) memoryReport {
	align4 := func(v uint32) uint32 { return (v + 3) &^ 3 }

	argc, argvBufSize := vm.ArgsSizes()
	environc, environBufSize := vm.EnvironSizes()

	report := memoryReport{
		MemorySize:     vm.MemLen(),
		Argc:           argc,
		ArgvBufSize:    argvBufSize,
		Environc:       environc,
		EnvironBufSize: environBufSize,
	}
	report.Argv = 0
	report.ArgvBuf = report.Argv + argc*4
	report.Environ = align4(report.ArgvBuf + argvBufSize)
	report.EnvironBuf = report.Environ + environc*4
	report.End = report.EnvironBuf + environBufSize
	return report
}

// memoryCmd implements the "memory" command.
func memoryCmd(args []string, stdout io.Writer, logger *slog.Logger) error {
	var common commonFlags
	var format string
	var dump bool
	flagSet := pflag.NewFlagSet("memory", pflag.ContinueOnError)
	common.add(flagSet)
	flagSet.StringVar(&format, "format", "text", "output format: text, json, or cbor")
	flagSet.BoolVar(&dump, "dump", false, "hex dump the populated region (text format only)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	writer, err := newReportWriter(format, stdout)
	if err != nil {
		return err
	}

	vm, err := sandbox.New(cfg.SandboxConfig(logger))
	if err != nil {
		return err
	}
	defer vm.Close()

	report := guestLayout(vm)
	if err := vm.CopyArgvToSandbox(report.Argv, report.ArgvBuf); err != nil {
		return fmt.Errorf("laying out argv: %w", err)
	}
	if err := vm.CopyEnvironToSandbox(report.Environ, report.EnvironBuf); err != nil {
		return fmt.Errorf("laying out environ: %w", err)
	}
	if err := checkPointerTable(vm, report.Argv, report.Argc, report.ArgvBuf, report.ArgvBufSize); err != nil {
		return fmt.Errorf("argv: %w", err)
	}
	if err := checkPointerTable(vm, report.Environ, report.Environc, report.EnvironBuf, report.EnvironBufSize); err != nil {
		return fmt.Errorf("environ: %w", err)
	}
	report.Digest = vm.Digest()

	var populated []byte
	if dump {
		populated, err = vm.CopyBufFromSandbox(0, report.End)
		if err != nil {
			return fmt.Errorf("reading populated region: %w", err)
		}
	}

	return writer.write(report, func(w io.Writer) {
		fmt.Fprintf(w, "memory size:  %d\n", report.MemorySize)
		fmt.Fprintf(w, "argv:         %#x (%d entries)\n", report.Argv, report.Argc)
		fmt.Fprintf(w, "argv_buf:     %#x (%d bytes)\n", report.ArgvBuf, report.ArgvBufSize)
		fmt.Fprintf(w, "environ:      %#x (%d entries)\n", report.Environ, report.Environc)
		fmt.Fprintf(w, "environ_buf:  %#x (%d bytes)\n", report.EnvironBuf, report.EnvironBufSize)
		fmt.Fprintf(w, "digest:       %s\n", report.Digest)
		if dump {
			fmt.Fprintln(w)
			fmt.Fprint(w, hex.Dump(populated))
		}
	})
}

// checkPointerTable reads back a pointer table the way the guest will
// and requires every entry to land inside its buffer, on the byte after
// the previous string's terminator.
func checkPointerTable(vm *sandbox.VmCtx, table sandbox.SboxPtr, count uint32, buffer sandbox.SboxPtr, size uint32) error {
	want := buffer
	for index := range count {
		pointer, err := vm.ReadU32(uint(table) + uint(index)*4)
		if err != nil {
			return fmt.Errorf("reading entry %d: %w", index, err)
		}
		if pointer != want || pointer >= buffer+size {
			return fmt.Errorf("entry %d points at %#x, expected %#x", index, pointer, want)
		}
		for {
			value, err := vm.CopyBufFromSandbox(want, 1)
			if err != nil {
				return fmt.Errorf("scanning entry %d: %w", index, err)
			}
			want++
			if value[0] == 0 {
				break
			}
		}
	}
	return nil
}
