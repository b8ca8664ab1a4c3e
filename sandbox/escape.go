// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultEscapeMemorySize is the linear memory size each escape test
// runs against unless the runner is configured otherwise. Every test
// hashes all of memory twice, so the battery uses a small region.
const DefaultEscapeMemorySize = 1 << 20

// EscapeTest defines an attempt to reach outside the sandbox through
// the translation layer. A successful test means the escape was BLOCKED
// (returned nil). A failed test means the escape SUCCEEDED (returned an
// error describing how).
type EscapeTest struct {
	Name        string
	Description string
	Category    string // "memory", "iovec", "path"
	Severity    string // "critical", "high", "medium", "low"
	Run         func(ctx context.Context, env *EscapeEnv) error
}

// EscapeTestResult holds the result of running an escape test.
type EscapeTestResult struct {
	Test   *EscapeTest
	Passed bool   // True if escape was blocked.
	Error  string // If escape succeeded, describes how.
}

// EscapeEnv is the fresh sandbox instance one escape test attacks: its
// own VmCtx and an anchor directory populated with hostile symlinks.
type EscapeEnv struct {
	VM   *VmCtx
	Root HostFd
}

// Attempt runs attack and additionally fails if linear memory differs
// afterwards. A rejected translation must have no side effects.
func (e *EscapeEnv) Attempt(attack func() error) error {
	before := e.VM.Digest()
	err := attack()
	if after := e.VM.Digest(); after != before {
		return fmt.Errorf("linear memory modified by rejected operation (digest %s -> %s)", before, after)
	}
	return err
}

// translate writes path into linear memory and resolves it.
func (e *EscapeEnv) translate(path string, shouldFollow bool) (HostPath, error) {
	const pathOffset = 4096
	if err := e.VM.CopyBufToSandbox(pathOffset, []byte(path), uint32(len(path))); err != nil {
		return HostPath{}, fmt.Errorf("staging path %q: %w", path, err)
	}
	return e.VM.TranslatePath(pathOffset, uint32(len(path)), shouldFollow, e.Root)
}

// blockedWith converts the outcome of an attack into a test verdict:
// nil if the attack failed with want, otherwise a description of how it
// got through.
func blockedWith(err error, want Errno) error {
	if err == nil {
		return fmt.Errorf("operation succeeded, expected %s", want.Name())
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("expected %s, got %v", want.Name(), err)
	}
	return nil
}

// escapeFixture is the anchor tree every path test resolves against.
// Symlinks point up and out of the root, at the host root, and at each
// other.
var escapeFixture = []struct {
	path   string
	target string // empty for a directory
}{
	{path: "inner"},
	{path: "inner/deeper"},
	{path: "up", target: "../.."},
	{path: "inner/sneaky", target: "deeper/../../.."},
	{path: "abs", target: "/etc"},
	{path: "loop-a", target: "loop-b"},
	{path: "loop-b", target: "loop-a"},
	{path: "inner/ok", target: "deeper"},
}

// EscapeTests contains all escape detection tests.
var EscapeTests = []EscapeTest{
	// Linear memory bounds.
	{
		Name:        "memory-read-past-end",
		Description: "Read a window that ends past linear memory",
		Category:    "memory",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint32(env.VM.MemLen())
			_, err := env.VM.CopyBufFromSandbox(end-4, 8)
			return blockedWith(err, Efault)
		},
	},
	{
		Name:        "memory-read-wraparound",
		Description: "Read a window whose end wraps the 32-bit address space",
		Category:    "memory",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.VM.CopyBufFromSandbox(0xFFFFFFFF, 2)
			return blockedWith(err, Efault)
		},
	},
	{
		Name:        "memory-write-past-end",
		Description: "Write a buffer that straddles the end of linear memory",
		Category:    "memory",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint32(env.VM.MemLen())
			return env.Attempt(func() error {
				return blockedWith(env.VM.CopyBufToSandbox(end-1, []byte{0xAA, 0xBB}, 2), Efault)
			})
		},
	},
	{
		Name:        "memory-scalar-last-byte",
		Description: "Write the final byte of linear memory, which lies outside every valid window",
		Category:    "memory",
		Severity:    "medium",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint(env.VM.MemLen())
			return env.Attempt(func() error {
				return blockedWith(env.VM.WriteU8(end-1, 0xFF), Efault)
			})
		},
	},
	{
		Name:        "memory-argbuf-length-mismatch",
		Description: "Copy the argument buffer with a length larger than the buffer",
		Category:    "memory",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, size := env.VM.ArgsSizes()
			return env.Attempt(func() error {
				return blockedWith(env.VM.CopyArgBufferToSandbox(0, size+1), Efault)
			})
		},
	},
	{
		Name:        "memory-argv-table-past-end",
		Description: "Place the argv pointer table at the end of linear memory",
		Category:    "memory",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint32(env.VM.MemLen())
			return env.Attempt(func() error {
				return blockedWith(env.VM.CopyArgvToSandbox(end-2, 0), Efault)
			})
		},
	},

	// Scatter/gather vectors.
	{
		Name:        "iovec-entry-past-end",
		Description: "Submit an iovec whose buffer runs past linear memory",
		Category:    "iovec",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint32(env.VM.MemLen())
			if err := stageIovs(env.VM, 64, []WasmIoVec{{Base: 0, Len: 8}, {Base: end - 8, Len: 64}}); err != nil {
				return err
			}
			iovs, err := ParseIovs(env.VM, 64, 2)
			if iovs != nil {
				return fmt.Errorf("partial iovec list returned: %+v", iovs)
			}
			return blockedWith(err, Efault)
		},
	},
	{
		Name:        "iovec-length-wraparound",
		Description: "Submit an iovec whose base plus length wraps to a small address",
		Category:    "iovec",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			if err := stageIovs(env.VM, 64, []WasmIoVec{{Base: 0x10, Len: 0xFFFFFFF8}}); err != nil {
				return err
			}
			_, err := ParseIovs(env.VM, 64, 1)
			return blockedWith(err, Efault)
		},
	},
	{
		Name:        "iovec-table-wraparound",
		Description: "Place the iovec table at the top of the 32-bit address space",
		Category:    "iovec",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := ParseIovs(env.VM, 0xFFFFFFF8, 2)
			return blockedWith(err, Eoverflow)
		},
	},
	{
		Name:        "iovec-count-flood",
		Description: "Claim billions of iovecs over zeroed memory to exhaust host memory",
		Category:    "iovec",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := ParseIovs(env.VM, 0, 0xFFFFFFFF)
			return blockedWith(err, Eoverflow)
		},
	},

	// Path resolution.
	{
		Name:        "path-parent-escape",
		Description: "Ascend above the sandbox root with ..",
		Category:    "path",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("inner/../../etc/passwd", true)
			return blockedWith(err, Enotcapable)
		},
	},
	{
		Name:        "path-absolute",
		Description: "Name a host file by absolute path",
		Category:    "path",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("/etc/shadow", true)
			return blockedWith(err, Enotcapable)
		},
	},
	{
		Name:        "path-symlink-parent",
		Description: "Traverse a symlink whose target ascends out of the root",
		Category:    "path",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("up/etc/passwd", false)
			return blockedWith(err, Enotcapable)
		},
	},
	{
		Name:        "path-symlink-nested",
		Description: "Follow a symlink whose target ascends through a real directory",
		Category:    "path",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("inner/sneaky", true)
			return blockedWith(err, Enotcapable)
		},
	},
	{
		Name:        "path-symlink-absolute",
		Description: "Traverse a symlink to an absolute host path",
		Category:    "path",
		Severity:    "critical",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("abs/passwd", false)
			return blockedWith(err, Enotcapable)
		},
	},
	{
		Name:        "path-symlink-loop",
		Description: "Resolve a symlink cycle",
		Category:    "path",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("loop-a/x", false)
			return blockedWith(err, Eloop)
		},
	},
	{
		Name:        "path-nul-byte",
		Description: "Truncate a path with an embedded NUL byte",
		Category:    "path",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			_, err := env.translate("inner\x00/../../../etc", true)
			return blockedWith(err, Einval)
		},
	},
	{
		Name:        "path-buffer-past-end",
		Description: "Pass a path buffer that runs past linear memory",
		Category:    "path",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			end := uint32(env.VM.MemLen())
			_, err := env.VM.TranslatePath(end-2, 16, true, env.Root)
			return blockedWith(err, Eoverflow)
		},
	},
	{
		Name:        "path-length-flood",
		Description: "Pass a path of hundreds of thousands of components to stall resolution",
		Category:    "path",
		Severity:    "high",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			path := strings.Repeat("inner/", 64*1024)
			_, err := env.translate(path, true)
			return blockedWith(err, Enametoolong)
		},
	},
	{
		Name:        "path-inside-root",
		Description: "Verify paths that stay inside the root still resolve",
		Category:    "path",
		Severity:    "medium",
		Run: func(ctx context.Context, env *EscapeEnv) error {
			// This test is inverted - we WANT this to succeed.
			host, err := env.translate("inner/ok/../../inner", true)
			if err != nil {
				return fmt.Errorf("in-root path BLOCKED (should succeed): %v", err)
			}
			if host.String() != "inner/deeper/../../inner" {
				return fmt.Errorf("in-root path resolved to %q", host.String())
			}
			if !host.NonSymlink() || !host.NonSymlinkPrefixes() || host.Depth() != 1 {
				return fmt.Errorf("in-root path has wrong properties: depth %d", host.Depth())
			}
			return nil
		},
	},
}

// stageIovs writes iovs as an iovec table at table.
func stageIovs(vm *VmCtx, table uint, iovs []WasmIoVec) error {
	for index, iov := range iovs {
		entry := table + uint(index)*iovEntrySize
		if err := vm.WriteU32(entry, iov.Base); err != nil {
			return fmt.Errorf("staging iovec %d: %w", index, err)
		}
		if err := vm.WriteU32(entry+4, iov.Len); err != nil {
			return fmt.Errorf("staging iovec %d: %w", index, err)
		}
	}
	return nil
}

// EscapeConfig holds configuration for an EscapeTestRunner.
type EscapeConfig struct {
	// ScratchDir is where the hostile fixture tree is created. Empty
	// selects os.TempDir().
	ScratchDir string

	// MemorySize is the linear memory size of each test instance. Zero
	// selects DefaultEscapeMemorySize.
	MemorySize uint64

	// MaxSymlinks is the symlink budget of each test instance. Zero
	// selects DefaultMaxSymlinks.
	MaxSymlinks int

	// Logger for runner diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// EscapeTestRunner runs escape detection tests.
type EscapeTestRunner struct {
	tests   []EscapeTest
	config  EscapeConfig
	logger  *slog.Logger
	results []EscapeTestResult
}

// NewEscapeTestRunner creates a new escape test runner.
func NewEscapeTestRunner(config EscapeConfig) *EscapeTestRunner {
	if config.ScratchDir == "" {
		config.ScratchDir = os.TempDir()
	}
	if config.MemorySize == 0 {
		config.MemorySize = DefaultEscapeMemorySize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EscapeTestRunner{
		tests:  EscapeTests,
		config: config,
		logger: logger,
	}
}

// RunAll runs all escape tests.
func (r *EscapeTestRunner) RunAll(ctx context.Context) ([]EscapeTestResult, error) {
	return r.run(ctx, func(*EscapeTest) bool { return true })
}

// RunCategory runs tests in a specific category.
func (r *EscapeTestRunner) RunCategory(ctx context.Context, category string) ([]EscapeTestResult, error) {
	return r.run(ctx, func(test *EscapeTest) bool { return test.Category == category })
}

// run executes the selected tests concurrently. Each test gets its own
// VmCtx; the fixture directory is shared read-only. The returned error
// covers setup failures only; an escape that succeeds is a failed
// result, not an error.
func (r *EscapeTestRunner) run(ctx context.Context, selected func(*EscapeTest) bool) ([]EscapeTestResult, error) {
	root, err := r.buildFixture()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			r.logger.Warn("failed to remove escape fixture", "path", root, "error", err)
		}
	}()

	rootFile, err := os.Open(root)
	if err != nil {
		return nil, fmt.Errorf("opening escape fixture: %w", err)
	}
	defer rootFile.Close()
	anchor, err := HostFdFromFile(rootFile)
	if err != nil {
		return nil, err
	}

	var tests []*EscapeTest
	for i := range r.tests {
		if selected(&r.tests[i]) {
			tests = append(tests, &r.tests[i])
		}
	}

	results := make([]EscapeTestResult, len(tests))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))
	for index, test := range tests {
		group.Go(func() error {
			result, err := r.runOne(groupCtx, test, anchor)
			if err != nil {
				return fmt.Errorf("escape test %s: %w", test.Name, err)
			}
			results[index] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	r.results = results
	return results, nil
}

func (r *EscapeTestRunner) runOne(ctx context.Context, test *EscapeTest, anchor HostFd) (EscapeTestResult, error) {
	if err := ctx.Err(); err != nil {
		return EscapeTestResult{}, err
	}

	vm, err := New(Config{
		MemorySize:  r.config.MemorySize,
		Args:        []string{"wave-escape", test.Name},
		Env:         []string{"WAVE_ESCAPE_TEST=" + test.Name},
		MaxSymlinks: r.config.MaxSymlinks,
		Logger:      r.logger,
	})
	if err != nil {
		return EscapeTestResult{}, err
	}
	defer vm.Close()

	result := EscapeTestResult{Test: test, Passed: true}
	if err := test.Run(ctx, &EscapeEnv{VM: vm, Root: anchor}); err != nil {
		result.Passed = false
		result.Error = err.Error()
		r.logger.Warn("escape test failed",
			"test", test.Name,
			"category", test.Category,
			"severity", test.Severity,
			"error", err,
		)
	}
	return result, nil
}

// buildFixture creates the hostile anchor tree in a fresh scratch
// directory and returns its path.
func (r *EscapeTestRunner) buildFixture() (string, error) {
	root, err := os.MkdirTemp(r.config.ScratchDir, "wave-escape-*")
	if err != nil {
		return "", fmt.Errorf("creating escape fixture: %w", err)
	}
	for _, entry := range escapeFixture {
		path := filepath.Join(root, entry.path)
		if entry.target == "" {
			err = os.Mkdir(path, 0o755)
		} else {
			err = os.Symlink(entry.target, path)
		}
		if err != nil {
			os.RemoveAll(root)
			return "", fmt.Errorf("building escape fixture entry %s: %w", entry.path, err)
		}
	}
	return root, nil
}

// Results returns the results of the most recent run.
func (r *EscapeTestRunner) Results() []EscapeTestResult {
	return r.results
}

// Summary returns a summary of test results.
func (r *EscapeTestRunner) Summary() (passed, failed int) {
	for _, result := range r.results {
		if result.Passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// PrintResults writes test results to a writer.
func (r *EscapeTestRunner) PrintResults(w io.Writer) {
	fmt.Fprintf(w, "Running escape detection tests...\n\n")

	for _, result := range r.results {
		var status string
		if result.Passed {
			status = "[PASS]"
		} else {
			status = "[FAIL]"
		}

		fmt.Fprintf(w, "%s %s: %s\n", status, result.Test.Name, result.Test.Description)
		if !result.Passed {
			fmt.Fprintf(w, "       Escape vector: %s\n", result.Error)
		}
	}

	passed, failed := r.Summary()
	fmt.Fprintf(w, "\n%d/%d tests passed", passed, passed+failed)
	if failed == 0 {
		fmt.Fprintf(w, " - translation boundary verified\n")
	} else {
		fmt.Fprintf(w, " - %d escape vectors detected!\n", failed)
	}
}

// HasFailures returns true if any escape succeeded.
func (r *EscapeTestRunner) HasFailures() bool {
	_, failed := r.Summary()
	return failed > 0
}
