// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"log/slog"
)

// DefaultMaxSymlinks is the symlink expansion budget for one path
// resolution. It matches the Linux kernel's MAXSYMLINKS.
const DefaultMaxSymlinks = 40

// resolver reduces one sandbox path to canonical components under an
// anchor directory. Components of the input are decoded one at a time
// as they are consumed, so the work done before resolution fails is
// proportional to what has been consumed, not to the input length.
// Components spliced in from symlink targets are held on an explicit
// stack with the next one at the end; the stack is drained before any
// further input is decoded.
type resolver struct {
	path         []byte
	dirfd        HostFd
	shouldFollow bool
	budget       int
	logger       *slog.Logger

	out         Components
	pending     []Component
	numSymlinks int

	// input is the undecoded remainder of path; peeked is its next
	// component, valid when hasPeeked is set.
	input     []byte
	peeked    Component
	hasPeeked bool
}

// resolvePath resolves path relative to dirfd.
//
// Every component except the last is fully expanded: symlinks are
// replaced by their targets until each accepted prefix is known not to
// be a symlink. The last component is expanded the same way when
// shouldFollow is true, and left as-is (possibly a symlink) otherwise.
//
// Resolution fails with an *EscapeError (Enotcapable) as soon as an
// accepted component would place the path outside dirfd, before any
// further host lookup; with a *LoopError (Eloop) once more than budget
// symlinks have been expanded; with Einval if path contains a NUL byte;
// and with Enametoolong as soon as the verified prefix no longer fits
// in a HostPath.
func resolvePath(path []byte, shouldFollow bool, dirfd HostFd, budget int, logger *slog.Logger) (HostPath, error) {
	if bytes.IndexByte(path, 0) >= 0 {
		return HostPath{}, Einval
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &resolver{
		path:         path,
		dirfd:        dirfd,
		shouldFollow: shouldFollow,
		budget:       budget,
		logger:       logger,
		out:          newComponents(),
	}
	leading, rest, ok := leadingComponent(path)
	if ok {
		r.pending = append(r.pending, leading)
	}
	r.input = rest
	r.advanceInput()

	for {
		component, ok := r.next()
		if !ok {
			break
		}
		final := len(r.pending) == 0 && !r.hasPeeked

		if err := r.accept(component, final); err != nil {
			return HostPath{}, err
		}
		if r.out.verifiedTooLong() {
			r.logger.Debug("resolved path exceeds host path capacity",
				"path_length", len(r.path),
				"capacity", PathMax,
			)
			return HostPath{}, Enametoolong
		}
	}

	// The incremental depth tracking above already rejected every
	// escape; minDepth re-derives it from the finished sequence.
	if _, firstBad := minDepth(r.out.items); firstBad >= 0 {
		return HostPath{}, r.escape(firstBad)
	}
	if !isRelative(r.out.items) {
		return HostPath{}, r.escape(0)
	}
	return r.out.Unparse()
}

// next returns the next component to consume: spliced symlink target
// components first, then the input.
func (r *resolver) next() (Component, bool) {
	if len(r.pending) > 0 {
		component := r.pending[len(r.pending)-1]
		r.pending = r.pending[:len(r.pending)-1]
		return component, true
	}
	if !r.hasPeeked {
		return Component{}, false
	}
	component := r.peeked
	r.advanceInput()
	return component, true
}

func (r *resolver) advanceInput() {
	r.peeked, r.input, r.hasPeeked = nextComponent(r.input)
}

// splice pushes components so that components[0] is the next one
// consumed.
func (r *resolver) splice(components []Component) {
	for index := len(components) - 1; index >= 0; index-- {
		r.pending = append(r.pending, components[index])
	}
}

// accept appends component to the output, rejecting it if it escapes
// the root, and expands it if it is a symlink that must be followed.
func (r *resolver) accept(component Component, final bool) error {
	r.out.push(component)
	if index, escaped := r.out.Escaped(); escaped {
		return r.escape(index)
	}

	// "." and ".." name directories, never symlinks.
	if component.Kind != Normal {
		r.out.verifyLast()
		return nil
	}
	if final && !r.shouldFollow {
		return nil
	}
	return r.maybeExpandComponent()
}

// maybeExpandComponent looks up the most recently pushed component. If it
// is a symlink, the component is replaced in the input stream by the
// target's components; otherwise it is marked verified.
func (r *resolver) maybeExpandComponent() error {
	if len(r.out.rendered)+1 > PathMax {
		// The host cannot look this path up, so it cannot be followed.
		return Enametoolong
	}
	lookup := r.out.relPath()
	target, isLink, err := r.dirfd.readlinkat(lookup)
	if err != nil {
		return err
	}
	if !isLink {
		r.out.verifyLast()
		return nil
	}

	link := r.out.pop()
	r.numSymlinks++
	if r.numSymlinks > r.budget {
		r.logger.Debug("symlink budget exceeded",
			"path", r.displayPath(),
			"budget", r.budget,
			"link", lookup,
		)
		return &LoopError{Path: r.displayPath(), Budget: r.budget}
	}

	r.logger.Debug("expanding symlink",
		"link", lookup,
		"component", link.String(),
		"target", target,
		"expansions", r.numSymlinks,
	)
	r.splice(GetComponents([]byte(target)))
	return nil
}

// displayPath is the input path for errors and logs, cut to PathMax
// bytes so that a huge input is not copied again.
func (r *resolver) displayPath() string {
	if len(r.path) > PathMax {
		return string(r.path[:PathMax]) + "..."
	}
	return string(r.path)
}

func (r *resolver) escape(index int) error {
	component := r.out.Lookup(index).String()
	r.logger.Debug("path escapes sandbox root",
		"path", r.displayPath(),
		"index", index,
		"component", component,
	)
	return &EscapeError{
		Path:      r.displayPath(),
		Index:     index,
		Component: component,
	}
}
