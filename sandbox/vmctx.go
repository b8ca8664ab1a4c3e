// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/wave/lib/linmem"
)

const (
	// LinearMemorySize is the size in bytes of a sandbox's linear
	// memory: just under 4 GiB, so every valid offset and every
	// offset+length sum that passes the bounds check fits in 32 bits.
	LinearMemorySize = 4294965096

	// MaxArgs bounds the argument count and the environment count.
	// Both must be strictly below it.
	MaxArgs = 1024

	// MaxBufferSize bounds the NUL-separated argument buffer and the
	// environment buffer. Both must be strictly below it.
	MaxBufferSize = 1 << 20
)

// SboxPtr is an untrusted offset into linear memory. It is not a host
// pointer and is only dereferenced after a bounds check.
type SboxPtr = uint32

// Config holds configuration for creating a new VmCtx.
type Config struct {
	// MemorySize is the linear memory size in bytes. Zero selects
	// LinearMemorySize. Smaller sizes exist for tests and tooling;
	// the bounds checks are identical at every size.
	MemorySize uint64

	// Args are the program arguments exposed through args_get.
	Args []string

	// Env are KEY=VALUE pairs exposed through environ_get.
	Env []string

	// MaxSymlinks is the symlink expansion budget per path resolution.
	// Zero selects DefaultMaxSymlinks.
	MaxSymlinks int

	// Logger for resolver diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// VmCtx is the per-instance sandbox context: the linear memory mapping,
// its host base address, and the argument and environment buffers
// exposed to the guest. A VmCtx is owned by one sandbox instance and is
// not safe for concurrent use; instances hosted side by side each own
// their own VmCtx.
type VmCtx struct {
	mem    *linmem.Region
	memlen uint64
	raw    uintptr

	argBuffer []byte
	argc      int
	envBuffer []byte
	envc      int

	maxSymlinks int
	logger      *slog.Logger
}

// New maps linear memory and builds the argument and environment
// buffers. It fails if any count or buffer exceeds its bound.
func New(config Config) (*VmCtx, error) {
	memorySize := config.MemorySize
	if memorySize == 0 {
		memorySize = LinearMemorySize
	}
	if memorySize > LinearMemorySize {
		return nil, fmt.Errorf("sandbox: memory size %d exceeds linear memory limit %d", memorySize, uint64(LinearMemorySize))
	}

	argBuffer, err := buildStringBuffer("argument", config.Args)
	if err != nil {
		return nil, err
	}
	envBuffer, err := buildStringBuffer("environment", config.Env)
	if err != nil {
		return nil, err
	}

	maxSymlinks := config.MaxSymlinks
	if maxSymlinks == 0 {
		maxSymlinks = DefaultMaxSymlinks
	}
	if maxSymlinks < 0 {
		return nil, fmt.Errorf("sandbox: symlink budget must not be negative, got %d", maxSymlinks)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	region, err := linmem.New(memorySize)
	if err != nil {
		return nil, fmt.Errorf("sandbox: mapping linear memory: %w", err)
	}

	ctx := &VmCtx{
		mem:         region,
		memlen:      region.Len(),
		raw:         region.Base(),
		argBuffer:   argBuffer,
		argc:        len(config.Args),
		envBuffer:   envBuffer,
		envc:        len(config.Env),
		maxSymlinks: maxSymlinks,
		logger:      logger,
	}
	if err := ctx.Check(); err != nil {
		region.Close()
		return nil, err
	}
	return ctx, nil
}

// buildStringBuffer joins values into a NUL-terminated sequence, the
// layout args_get and environ_get expose.
func buildStringBuffer(kind string, values []string) ([]byte, error) {
	if len(values) >= MaxArgs {
		return nil, fmt.Errorf("sandbox: %d %s entries, limit is %d", len(values), kind, MaxArgs-1)
	}
	var buffer bytes.Buffer
	for index, value := range values {
		if bytes.IndexByte([]byte(value), 0) >= 0 {
			return nil, fmt.Errorf("sandbox: %s entry %d contains a NUL byte", kind, index)
		}
		buffer.WriteString(value)
		buffer.WriteByte(0)
	}
	if buffer.Len() >= MaxBufferSize {
		return nil, fmt.Errorf("sandbox: %s buffer is %d bytes, limit is %d", kind, buffer.Len(), MaxBufferSize-1)
	}
	return buffer.Bytes(), nil
}

// Close unmaps linear memory. It is idempotent. No other method may be
// called after Close.
func (ctx *VmCtx) Close() error {
	return ctx.mem.Close()
}

// Check verifies the context's safety invariants: memory length and
// base address agree with the mapping, and the argument and environment
// counts and buffers are within bounds. Builds tagged wavedebug assert
// it after every write to linear memory.
func (ctx *VmCtx) Check() error {
	var errs []error
	if ctx.memlen != ctx.mem.Len() {
		errs = append(errs, fmt.Errorf("memory length %d disagrees with mapping length %d", ctx.memlen, ctx.mem.Len()))
	}
	if ctx.memlen == 0 || ctx.memlen > LinearMemorySize {
		errs = append(errs, fmt.Errorf("memory length %d outside (0, %d]", ctx.memlen, uint64(LinearMemorySize)))
	}
	if ctx.raw != ctx.mem.Base() {
		errs = append(errs, fmt.Errorf("base address %#x disagrees with mapping base %#x", ctx.raw, ctx.mem.Base()))
	}
	if ctx.argc >= MaxArgs {
		errs = append(errs, fmt.Errorf("argc %d not below %d", ctx.argc, MaxArgs))
	}
	if ctx.envc >= MaxArgs {
		errs = append(errs, fmt.Errorf("envc %d not below %d", ctx.envc, MaxArgs))
	}
	if len(ctx.argBuffer) >= MaxBufferSize {
		errs = append(errs, fmt.Errorf("argument buffer %d bytes not below %d", len(ctx.argBuffer), MaxBufferSize))
	}
	if len(ctx.envBuffer) >= MaxBufferSize {
		errs = append(errs, fmt.Errorf("environment buffer %d bytes not below %d", len(ctx.envBuffer), MaxBufferSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sandbox: context invariant violated: %w", err)
	}
	return nil
}

// assertSafe panics if Check fails. It compiles to nothing unless the
// wavedebug tag is set.
func (ctx *VmCtx) assertSafe() {
	if !debugAssertions {
		return
	}
	if err := ctx.Check(); err != nil {
		panic(err)
	}
}

// TranslatePath copies the pathLen-byte path at path out of linear
// memory and resolves it under dirfd. A path buffer that does not fit
// in linear memory is Eoverflow. See resolvePath for the resolution
// rules and the remaining errors.
func (ctx *VmCtx) TranslatePath(path SboxPtr, pathLen uint32, shouldFollow bool, dirfd HostFd) (HostPath, error) {
	if !ctx.FitsInLinMem(path, pathLen) {
		return HostPath{}, Eoverflow
	}
	buffer, err := ctx.CopyBufFromSandbox(path, pathLen)
	if err != nil {
		return HostPath{}, err
	}
	return resolvePath(buffer, shouldFollow, dirfd, ctx.maxSymlinks, ctx.logger)
}

// MemLen returns the linear memory size in bytes.
func (ctx *VmCtx) MemLen() uint64 { return ctx.memlen }

// Raw returns the host address of linear memory offset 0.
func (ctx *VmCtx) Raw() uintptr { return ctx.raw }

// Argc returns the argument count.
func (ctx *VmCtx) Argc() int { return ctx.argc }

// Envc returns the environment entry count.
func (ctx *VmCtx) Envc() int { return ctx.envc }

// ArgBufferLen returns the argument buffer length in bytes.
func (ctx *VmCtx) ArgBufferLen() int { return len(ctx.argBuffer) }

// EnvBufferLen returns the environment buffer length in bytes.
func (ctx *VmCtx) EnvBufferLen() int { return len(ctx.envBuffer) }

// MaxSymlinks returns the per-resolution symlink budget.
func (ctx *VmCtx) MaxSymlinks() int { return ctx.maxSymlinks }

// DebugAssertions reports whether this binary was built with the
// wavedebug tag, which enables post-write invariant checks.
func DebugAssertions() bool {
	return debugAssertions
}
