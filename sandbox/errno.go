// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// Errno is a WASI preview1 error number. It is the only error type the
// translation layer returns to the syscall-emulation layer, either
// directly or wrapped in a structured error that unwraps to it. Callers
// test for a kind with errors.Is:
//
//	if errors.Is(err, sandbox.Efault) { ... }
type Errno uint16

// Numbering follows wasi_snapshot_preview1 so an Errno can be returned
// to the guest unchanged.
const (
	// Efault: an address or length fails the sandbox bounds check, or a
	// declared length disagrees with the actual buffer length.
	Efault Errno = 21

	// Einval: a sandbox path contains a NUL byte and cannot name a host
	// file.
	Einval Errno = 28

	// Eloop: the symlink expansion budget was exceeded.
	Eloop Errno = 32

	// Enametoolong: the resolved path does not fit in a HostPath.
	Enametoolong Errno = 37

	// Eoverflow: arithmetic or fixed-capacity overflow while reading a
	// length-prefixed structure.
	Eoverflow Errno = 61

	// Enotcapable: the operation reaches outside the sandbox's granted
	// capabilities, including any path that escapes the sandbox root.
	Enotcapable Errno = 76
)

var errnoNames = map[Errno]string{
	Efault:       "EFAULT",
	Einval:       "EINVAL",
	Eloop:        "ELOOP",
	Enametoolong: "ENAMETOOLONG",
	Eoverflow:    "EOVERFLOW",
	Enotcapable:  "ENOTCAPABLE",
}

var errnoMessages = map[Errno]string{
	Efault:       "bad address",
	Einval:       "invalid argument",
	Eloop:        "too many levels of symbolic links",
	Enametoolong: "file name too long",
	Eoverflow:    "value too large for defined data type",
	Enotcapable:  "capabilities insufficient",
}

// Name returns the symbolic name of the errno, such as "EFAULT".
func (e Errno) Name() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno(%d)", uint16(e))
}

func (e Errno) Error() string {
	if message, ok := errnoMessages[e]; ok {
		return e.Name() + ": " + message
	}
	return e.Name()
}

// MarshalText encodes the errno by its symbolic name.
func (e Errno) MarshalText() ([]byte, error) {
	return []byte(e.Name()), nil
}

// ErrnoOf extracts the Errno carried by err. The second result is false
// if err is nil or carries no Errno.
func ErrnoOf(err error) (Errno, bool) {
	var errno Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// EscapeError reports a path that would leave the sandbox root. It
// unwraps to Enotcapable.
type EscapeError struct {
	// Path is the sandbox-supplied path as received, cut to PathMax
	// bytes.
	Path string

	// Index is the position, in the resolved component sequence, of the
	// first component that escaped: the root component of an absolute
	// path, or the ".." that drove the depth below zero.
	Index int

	// Component is the textual form of the component at Index.
	Component string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path %q escapes sandbox root at component %d (%q)", e.Path, e.Index, e.Component)
}

func (e *EscapeError) Unwrap() error {
	return Enotcapable
}

// LoopError reports that resolving a path expanded more symlinks than
// the budget allows. It unwraps to Eloop.
type LoopError struct {
	Path   string
	Budget int
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("path %q exceeds symlink budget of %d expansions", e.Path, e.Budget)
}

func (e *LoopError) Unwrap() error {
	return Eloop
}
