// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox is the trusted boundary between a WebAssembly guest
// and its host. Every value that crosses from the guest (an offset into
// linear memory, an iovec table, a path string) is validated and
// translated here before the syscall-emulation layer acts on it.
//
// The central type is [VmCtx], one per sandbox instance. It owns the
// guest's linear memory (a fixed-size mapping from lib/linmem, so the
// host base address never moves) together with the argument and
// environment buffers the guest reads through args_get and
// environ_get.
//
// The trusted kernel is small. [VmCtx.FitsInLinMem] and its host-width
// twin decide whether an offset and length lie inside linear memory
// without integer overflow, and the copy and scalar accessors in
// memory.go gate every read and write on them. Everything else routes
// through those accessors; no method hands out a slice aliasing linear
// memory.
//
// [ParseIovs] reads and validates a guest iovec table;
// [VmCtx.TranslateIovs] then maps validated entries to host addresses.
// The two steps are separate so that translation is a pure function of
// an already-validated offset.
//
// [VmCtx.TranslatePath] resolves a guest path under a host anchor
// directory ([HostFd]). Resolution is lexical plus readlinkat lookups:
// each accepted component is checked for being a symlink, and symlinks
// are replaced by their targets on an explicit worklist with a bounded
// expansion budget. A root component, or a ".." that would climb above
// the anchor, is rejected as soon as it is accepted, before any further
// host lookup. The result is a [HostPath] that is relative, never
// climbs above the anchor, and whose proper prefixes are all
// verified non-symlinks; whether the final component may still be a
// symlink is the caller's choice.
//
// Errors are [Errno] values numbered as in WASI preview1, returned
// directly or wrapped by [EscapeError] and [LoopError]. Nothing in this
// package panics on guest-controlled input. Builds tagged wavedebug add
// assertions on caller contracts, such as TranslateIov on an
// unvalidated vector, and re-check the [VmCtx] invariants after every
// write.
//
// [Validator] performs host pre-flight checks (overcommit policy,
// linear memory mapping, anchor directory, symlink detection).
// [EscapeTestRunner] runs a battery of hostile translations against
// fresh instances and confirms each is rejected with the expected
// errno and leaves linear memory unchanged.
//
// A VmCtx is not safe for concurrent use. Hosts running several
// instances give each its own VmCtx; nothing is shared between them.
package sandbox
