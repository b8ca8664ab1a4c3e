// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// wave-sandbox drives the wave translation layer from the command line.
//
// Usage:
//
//	wave-sandbox resolve [flags] <path>...
//	wave-sandbox memory [flags]
//	wave-sandbox validate [flags]
//	wave-sandbox test [flags]
//	wave-sandbox version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/wave/lib/codec"
	"github.com/bureau-foundation/wave/lib/config"
	"github.com/bureau-foundation/wave/lib/process"
	"github.com/bureau-foundation/wave/lib/version"
	"github.com/bureau-foundation/wave/sandbox"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, newLogger()); err != nil {
		process.Fatal(err)
	}
}

// errUsage is returned after usage text has been printed for a bad
// invocation.
var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	if len(args) < 1 {
		printUsage(stdout)
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "resolve":
		return resolveCmd(rest, stdout, logger)
	case "memory":
		return memoryCmd(rest, stdout, logger)
	case "validate":
		return validateCmd(rest, stdout, logger)
	case "test":
		return testCmd(ctx, rest, stdout, logger)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "wave-sandbox %s\n", version.Full(sandbox.DebugAssertions()))
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `wave-sandbox - Exercise the wave sandbox translation layer

USAGE
    wave-sandbox <command> [flags] [args...]

COMMANDS
    resolve   Resolve sandbox paths against a host root
    memory    Lay out guest args and environment, report the memory digest
    validate  Validate the host environment and configuration
    test      Run escape detection tests
    version   Show version

EXAMPLES
    # Resolve a path the way path_open would
    wave-sandbox resolve --root=/srv/guest lib/../etc/config

    # Emit deterministic CBOR reports
    wave-sandbox resolve --format=cbor a/b ../escape > reports.cbor

    # Check only the iovec translation
    wave-sandbox test --category=iovec

ENVIRONMENT
    WAVE_CONFIG  Path to wave.yaml (overridden by --config)
    WAVE_ROOT    Base directory substituted into config paths
    WAVE_DEBUG   Enable debug logging
`)
}

// commonFlags are accepted by every command that needs configuration.
type commonFlags struct {
	configPath string
	root       string
}

func (f *commonFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to wave.yaml (default: $WAVE_CONFIG, then built-in defaults)")
	flagSet.StringVar(&f.root, "root", "", "sandbox root directory (overrides paths.root)")
}

// load returns the validated configuration selected by the flags.
func (f *commonFlags) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv("WAVE_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if f.root != "" {
		cfg.Paths.Root = f.root
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// reportWriter emits one report per call in the selected format.
type reportWriter struct {
	format string
	text   io.Writer
	json   *json.Encoder
	cbor   *codec.Encoder
}

func newReportWriter(format string, w io.Writer) (*reportWriter, error) {
	writer := &reportWriter{format: format, text: w}
	switch format {
	case "text":
	case "json":
		writer.json = json.NewEncoder(w)
	case "cbor":
		writer.cbor = codec.NewEncoder(w)
	default:
		return nil, fmt.Errorf("unknown format %q (want text, json, or cbor)", format)
	}
	return writer, nil
}

// write emits report. Text output is produced by the text callback so
// each report type controls its own human rendering.
func (w *reportWriter) write(report any, text func(io.Writer)) error {
	switch w.format {
	case "json":
		return w.json.Encode(report)
	case "cbor":
		return w.cbor.Encode(report)
	default:
		text(w.text)
		return nil
	}
}

// validateCmd implements the "validate" command.
func validateCmd(args []string, stdout io.Writer, logger *slog.Logger) error {
	var common commonFlags
	var create bool
	flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	common.add(flagSet)
	flagSet.BoolVar(&create, "create", false, "create the root and scratch directories before validating")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if create {
		if err := cfg.EnsurePaths(); err != nil {
			return err
		}
	}

	validator := sandbox.NewValidator()
	validator.ValidateAll(cfg.SandboxConfig(logger), cfg.Paths.Root, cfg.Paths.Scratch)
	validator.PrintResults(stdout)

	if validator.HasErrors() {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// testCmd implements the "test" command.
func testCmd(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	var common commonFlags
	var category string
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	common.add(flagSet)
	flagSet.StringVar(&category, "category", "", "run only tests in this category (memory, iovec, path)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.Scratch, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	runner := sandbox.NewEscapeTestRunner(sandbox.EscapeConfig{
		ScratchDir:  cfg.Paths.Scratch,
		MaxSymlinks: cfg.Resolver.MaxSymlinks,
		Logger:      logger,
	})
	if category != "" {
		_, err = runner.RunCategory(ctx, category)
	} else {
		_, err = runner.RunAll(ctx)
	}
	if err != nil {
		return err
	}
	if len(runner.Results()) == 0 {
		return fmt.Errorf("no escape tests in category %q", category)
	}

	runner.PrintResults(stdout)

	if runner.HasFailures() {
		return fmt.Errorf("escape tests failed")
	}
	return nil
}
