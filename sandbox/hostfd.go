// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// HostFd is a host directory descriptor used as the anchor for path
// resolution. It is never visible to the sandbox. The resolver only
// issues readlinkat queries relative to it and never mutates the host
// filesystem through it.
//
// A HostFd does not own the descriptor: the caller keeps the underlying
// file open for as long as the HostFd is in use.
type HostFd struct {
	fd int
}

// HostFdFromFile wraps an open directory. It fails if file is not a
// directory.
func HostFdFromFile(file *os.File) (HostFd, error) {
	if file == nil {
		return HostFd{}, errors.New("sandbox: nil directory file")
	}
	return HostFdFromRaw(int(file.Fd()))
}

// HostFdFromRaw wraps a raw descriptor after checking that it is open
// and refers to a directory.
func HostFdFromRaw(fd int) (HostFd, error) {
	if fd < 0 {
		return HostFd{}, fmt.Errorf("sandbox: invalid descriptor %d", fd)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return HostFd{}, fmt.Errorf("sandbox: fstat descriptor %d: %w", fd, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return HostFd{}, fmt.Errorf("sandbox: descriptor %d is not a directory", fd)
	}
	return HostFd{fd: fd}, nil
}

// Raw returns the host descriptor number.
func (h HostFd) Raw() int {
	return h.fd
}

// readlinkat reports whether path, relative to the anchor, names a
// symlink, and if so returns its target.
//
// Lookup failures that establish the entry cannot be a symlink (missing
// entry, not a symlink, a prefix that is not a directory, no search
// permission, a name the host cannot look up) report "not a symlink":
// such a component cannot redirect resolution, and the host syscall
// that eventually uses the path reports the real error. Any other
// failure leaves the question open and fails with Enotcapable rather
// than accept a component that might be a symlink. EINTR is retried.
//
// A target that cannot fit in PathMax bytes fails with Enametoolong.
func (h HostFd) readlinkat(path string) (string, bool, error) {
	buffer := make([]byte, 256)
	for {
		n, err := unix.Readlinkat(h.fd, path, buffer)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if notSymlink(err) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("sandbox: readlinkat %q: %v: %w", path, err, Enotcapable)
		}
		if n < len(buffer) {
			return string(buffer[:n]), true, nil
		}
		if len(buffer) >= PathMax {
			return "", true, Enametoolong
		}
		buffer = make([]byte, len(buffer)*2)
	}
}

// notSymlink reports whether a readlinkat failure proves the path is
// not a symlink.
func notSymlink(err error) bool {
	switch err {
	case unix.ENOENT, unix.ENOTDIR, unix.EINVAL, unix.EACCES, unix.ENAMETOOLONG:
		return true
	default:
		return false
	}
}
