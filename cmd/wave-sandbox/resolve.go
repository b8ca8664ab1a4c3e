// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wave/sandbox"
)

// pathStageOffset is where each path is written into linear memory
// before translation, as a guest would pass it to path_open.
const pathStageOffset sandbox.SboxPtr = 0

// resolveReport is the outcome of translating one sandbox path.
type resolveReport struct {
	Path               string        `json:"path"`
	Host               string        `json:"host,omitempty"`
	Depth              int           `json:"depth"`
	NonSymlink         bool          `json:"non_symlink"`
	NonSymlinkPrefixes bool          `json:"non_symlink_prefixes"`
	Errno              sandbox.Errno `json:"errno,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// resolveCmd implements the "resolve" command.
func resolveCmd(args []string, stdout io.Writer, logger *slog.Logger) error {
	var common commonFlags
	var noFollow bool
	var format string
	flagSet := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	common.add(flagSet)
	flagSet.BoolVar(&noFollow, "no-follow", false, "do not follow a symlink in the final component")
	flagSet.StringVar(&format, "format", "text", "output format: text, json, or cbor")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	paths := flagSet.Args()
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	writer, err := newReportWriter(format, stdout)
	if err != nil {
		return err
	}
	shouldFollow := cfg.Resolver.FollowFinal && !noFollow

	vm, err := sandbox.New(cfg.SandboxConfig(logger))
	if err != nil {
		return err
	}
	defer vm.Close()

	rootFile, err := os.Open(cfg.Paths.Root)
	if err != nil {
		return fmt.Errorf("opening sandbox root: %w", err)
	}
	defer rootFile.Close()
	anchor, err := sandbox.HostFdFromFile(rootFile)
	if err != nil {
		return err
	}

	rejected := 0
	for _, path := range paths {
		report := resolveOne(vm, anchor, path, shouldFollow)
		if report.Error != "" {
			rejected++
			logger.Debug("path rejected", "path", path, "error", report.Error)
		}
		err := writer.write(report, func(w io.Writer) {
			if report.Error != "" {
				fmt.Fprintf(w, "%s: %s\n", report.Path, report.Error)
				return
			}
			fmt.Fprintf(w, "%s -> %s (depth %d)\n", report.Path, report.Host, report.Depth)
		})
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d paths rejected", rejected, len(paths))
	}
	return nil
}

// resolveOne stages path in linear memory and translates it.
func resolveOne(vm *sandbox.VmCtx, anchor sandbox.HostFd, path string, shouldFollow bool) resolveReport {
	report := resolveReport{Path: path}
	pathLen := uint32(len(path))
	if uint64(len(path)) != uint64(pathLen) {
		report.Errno, report.Error = sandbox.Eoverflow, sandbox.Eoverflow.Error()
		return report
	}

	host, err := func() (sandbox.HostPath, error) {
		if err := vm.CopyBufToSandbox(pathStageOffset, []byte(path), pathLen); err != nil {
			return sandbox.HostPath{}, err
		}
		return vm.TranslatePath(pathStageOffset, pathLen, shouldFollow, anchor)
	}()
	if err != nil {
		report.Errno, _ = sandbox.ErrnoOf(err)
		report.Error = err.Error()
		return report
	}

	report.Host = host.String()
	report.Depth = host.Depth()
	report.NonSymlink = host.NonSymlink()
	report.NonSymlinkPrefixes = host.NonSymlinkPrefixes()
	return report
}
