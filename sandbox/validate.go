// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/wave/lib/linmem"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation for hosting sandbox
// instances.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		results: make([]ValidationResult, 0),
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

// pass records a successful validation.
func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
	})
}

// warn records a warning (not a failure).
func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
		Warning: true,
	})
}

// fail records a validation failure.
func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  false,
		Message: message,
	})
	v.errors++
}

// ValidateAll runs all validation checks for a sandbox configuration.
func (v *Validator) ValidateAll(config Config, root, scratch string) {
	v.ValidateConfig(config)
	v.ValidateOvercommit()
	v.ValidateLinearMemory(config.MemorySize)
	v.ValidateRoot(root)
	v.ValidateSymlinkDetection(scratch)
}

// ValidateConfig checks argument and environment bounds and the
// symlink budget without mapping any memory.
func (v *Validator) ValidateConfig(config Config) {
	if config.MemorySize > LinearMemorySize {
		v.fail("config", fmt.Sprintf("memory size %d exceeds %d", config.MemorySize, uint64(LinearMemorySize)))
		return
	}
	if _, err := buildStringBuffer("argument", config.Args); err != nil {
		v.fail("config", err.Error())
		return
	}
	if _, err := buildStringBuffer("environment", config.Env); err != nil {
		v.fail("config", err.Error())
		return
	}
	if config.MaxSymlinks < 0 {
		v.fail("config", fmt.Sprintf("symlink budget must not be negative, got %d", config.MaxSymlinks))
		return
	}

	budget := config.MaxSymlinks
	if budget == 0 {
		budget = DefaultMaxSymlinks
	}
	v.pass("config", fmt.Sprintf("%d args, %d env entries, symlink budget %d", len(config.Args), len(config.Env), budget))
}

// ValidateOvercommit checks the kernel overcommit policy. Linear memory
// is reserved with MAP_NORESERVE, which strict accounting (mode 2)
// ignores: every instance then charges its full size against the
// commit limit.
func (v *Validator) ValidateOvercommit() {
	data, err := os.ReadFile("/proc/sys/vm/overcommit_memory")
	if err != nil {
		v.warn("overcommit", fmt.Sprintf("cannot read overcommit policy: %v", err))
		return
	}

	value := strings.TrimSpace(string(data))
	if value == "2" {
		v.warn("overcommit", "strict overcommit accounting (vm.overcommit_memory=2) charges each instance its full linear memory size")
		return
	}

	v.pass("overcommit", fmt.Sprintf("vm.overcommit_memory=%s", value))
}

// ValidateLinearMemory maps and releases one linear memory region of
// the configured size. Zero selects LinearMemorySize.
func (v *Validator) ValidateLinearMemory(size uint64) {
	if size == 0 {
		size = LinearMemorySize
	}
	region, err := linmem.New(size)
	if err != nil {
		v.fail("linear_memory", fmt.Sprintf("cannot map %d bytes: %v", size, err))
		return
	}
	base := region.Base()
	if err := region.Close(); err != nil {
		v.fail("linear_memory", fmt.Sprintf("cannot unmap region: %v", err))
		return
	}

	v.pass("linear_memory", fmt.Sprintf("mapped %d bytes at %#x", size, base))
}

// ValidateRoot checks that the sandbox root exists, is a directory, and
// can serve as a resolution anchor.
func (v *Validator) ValidateRoot(root string) {
	if root == "" {
		v.fail("root", "sandbox root path is required")
		return
	}

	// Resolve to absolute path.
	absPath, err := filepath.Abs(root)
	if err != nil {
		v.fail("root", fmt.Sprintf("cannot resolve path: %v", err))
		return
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("root", fmt.Sprintf("does not exist: %s", absPath))
		} else {
			v.fail("root", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}
	defer file.Close()

	if _, err := HostFdFromFile(file); err != nil {
		v.fail("root", fmt.Sprintf("not usable as anchor: %v", err))
		return
	}

	v.pass("root", fmt.Sprintf("anchor: %s", absPath))
}

// ValidateSymlinkDetection creates a symlink in scratch and checks that the
// resolver's readlinkat lookup sees it. A host where the lookup cannot
// see symlinks would silently resolve through them.
func (v *Validator) ValidateSymlinkDetection(scratch string) {
	if scratch == "" {
		scratch = os.TempDir()
	}
	directory, err := os.MkdirTemp(scratch, "wave-symlink-*")
	if err != nil {
		v.fail("symlink_detection", fmt.Sprintf("cannot create symlink test directory in %s: %v", scratch, err))
		return
	}
	defer os.RemoveAll(directory)

	if err := os.Symlink("target", filepath.Join(directory, "link")); err != nil {
		v.fail("symlink_detection", fmt.Sprintf("cannot create test symlink: %v", err))
		return
	}

	file, err := os.Open(directory)
	if err != nil {
		v.fail("symlink_detection", fmt.Sprintf("cannot open symlink test directory: %v", err))
		return
	}
	defer file.Close()

	anchor, err := HostFdFromFile(file)
	if err != nil {
		v.fail("symlink_detection", err.Error())
		return
	}
	target, isLink, err := anchor.readlinkat("link")
	if err != nil || !isLink || target != "target" {
		v.fail("symlink_detection", fmt.Sprintf("readlinkat did not report the test symlink (target %q, link %v, err %v)", target, isLink, err))
		return
	}

	v.pass("symlink_detection", "readlinkat reports symlinks relative to the anchor")
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to host sandbox instances")
	}
}
