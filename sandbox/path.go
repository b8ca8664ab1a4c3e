// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"math"
)

// PathMax is the capacity of a HostPath in bytes, including the NUL
// terminator handed to host syscalls.
const PathMax = 4096

// depthErr is the minDepth result for a component list that contains a
// root component. It is below every depth a relative path can reach.
const depthErr = math.MinInt32

// ComponentKind classifies one path component.
type ComponentKind uint8

const (
	// RootDir is the leading "/" of an absolute path.
	RootDir ComponentKind = iota

	// CurDir is a leading ".". Interior "." segments are dropped
	// during decomposition and never produce a component.
	CurDir

	// ParentDir is "..".
	ParentDir

	// Normal is any other segment.
	Normal
)

func (k ComponentKind) String() string {
	switch k {
	case RootDir:
		return "root"
	case CurDir:
		return "cur"
	case ParentDir:
		return "parent"
	case Normal:
		return "normal"
	default:
		return "unknown"
	}
}

// Component is one owned segment of a decomposed path. Name is set
// only for Normal components.
type Component struct {
	Kind ComponentKind
	Name []byte
}

// String returns the component as it appears in a path.
func (c Component) String() string {
	switch c.Kind {
	case RootDir:
		return "/"
	case CurDir:
		return "."
	case ParentDir:
		return ".."
	default:
		return string(c.Name)
	}
}

// appendTo appends the component as it appears in a path.
func (c Component) appendTo(buffer []byte) []byte {
	switch c.Kind {
	case RootDir:
		return append(buffer, '/')
	case CurDir:
		return append(buffer, '.')
	case ParentDir:
		return append(buffer, '.', '.')
	default:
		return append(buffer, c.Name...)
	}
}

// depthDelta is the change in directory nesting from accepting c. The
// root component has no delta; it is rejected before this is consulted.
func (c Component) depthDelta() int {
	switch c.Kind {
	case Normal:
		return 1
	case ParentDir:
		return -1
	default:
		return 0
	}
}

// GetComponents decomposes path into owned components. Decomposition
// is purely lexical:
//
//   - a leading "/" yields RootDir (repeated leading slashes collapse);
//   - a leading "." segment yields CurDir;
//   - "." segments elsewhere and empty segments are dropped;
//   - ".." yields ParentDir;
//   - every other segment is Normal.
//
// The empty path has no components.
func GetComponents(path []byte) []Component {
	var components []Component
	leading, rest, ok := leadingComponent(path)
	if ok {
		components = append(components, leading)
	}
	for {
		var component Component
		component, rest, ok = nextComponent(rest)
		if !ok {
			return components
		}
		component.Name = bytes.Clone(component.Name)
		components = append(components, component)
	}
}

var (
	slash  = []byte("/")
	dot    = []byte(".")
	dotDot = []byte("..")
)

// leadingComponent splits the RootDir or CurDir component that opens
// path, if any, from the rest of the path.
func leadingComponent(path []byte) (Component, []byte, bool) {
	if len(path) > 0 && path[0] == '/' {
		return Component{Kind: RootDir}, bytes.TrimLeft(path, "/"), true
	}
	if bytes.Equal(path, dot) || bytes.HasPrefix(path, []byte("./")) {
		return Component{Kind: CurDir}, path[1:], true
	}
	return Component{}, path, false
}

// nextComponent returns the next component of rest, skipping empty and
// "." segments, and what remains after it. Name aliases rest.
func nextComponent(rest []byte) (Component, []byte, bool) {
	for len(rest) > 0 {
		var segment []byte
		segment, rest, _ = bytes.Cut(rest, slash)
		switch {
		case len(segment) == 0, bytes.Equal(segment, dot):
			continue
		case bytes.Equal(segment, dotDot):
			return Component{Kind: ParentDir}, rest, true
		default:
			return Component{Kind: Normal, Name: segment}, rest, true
		}
	}
	return Component{}, nil, false
}

// Components is the resolver's output sequence together with the
// bookkeeping HostPath reports: how many leading components have been
// verified not to be symlinks, the running directory depth, and the
// index of the first component that escaped the root, if any.
type Components struct {
	items    []Component
	nsPrefix int
	depth    int
	firstBad int

	// rendered is items joined as a path, maintained incrementally so
	// each lookup costs the length of the path rather than a re-render.
	// starts[i] is the offset in rendered where items[i], including its
	// leading separator, begins.
	rendered []byte
	starts   []int
}

func newComponents() Components {
	return Components{firstBad: -1}
}

// Len returns the number of accepted components.
func (c *Components) Len() int {
	return len(c.items)
}

// Lookup returns the component at index.
func (c *Components) Lookup(index int) Component {
	return c.items[index]
}

// Depth returns the running depth. Meaningless once Escaped is true.
func (c *Components) Depth() int {
	return c.depth
}

// Escaped reports whether a root component or an ascent above depth
// zero has been accepted, and the index of the first such component.
func (c *Components) Escaped() (int, bool) {
	return c.firstBad, c.firstBad >= 0
}

// push appends component without verifying it. All earlier components
// must already be verified.
func (c *Components) push(component Component) {
	index := len(c.items)
	c.starts = append(c.starts, len(c.rendered))
	if index > 0 && c.items[index-1].Kind != RootDir {
		c.rendered = append(c.rendered, '/')
	}
	c.rendered = component.appendTo(c.rendered)
	c.items = append(c.items, component)
	if c.firstBad >= 0 {
		return
	}
	if component.Kind == RootDir {
		c.firstBad = index
		return
	}
	c.depth += component.depthDelta()
	if c.depth < 0 {
		c.firstBad = index
	}
}

// verifyLast marks the most recently pushed component as known not to
// be a symlink.
func (c *Components) verifyLast() {
	c.nsPrefix = len(c.items)
}

// pop removes the most recently pushed component. It must be the only
// unverified one.
func (c *Components) pop() Component {
	last := c.items[len(c.items)-1]
	c.items = c.items[:len(c.items)-1]
	c.rendered = c.rendered[:c.starts[len(c.starts)-1]]
	c.starts = c.starts[:len(c.starts)-1]
	if c.firstBad == len(c.items) {
		c.firstBad = -1
	}
	if c.firstBad < 0 && last.Kind != RootDir {
		c.depth -= last.depthDelta()
	}
	if c.nsPrefix > len(c.items) {
		c.nsPrefix = len(c.items)
	}
	return last
}

// relPath renders the accepted components as a path relative to the
// anchor directory, for readlinkat lookups. An empty sequence renders as
// ".".
func (c *Components) relPath() string {
	if len(c.items) == 0 {
		return "."
	}
	return string(c.rendered)
}

// verifiedTooLong reports that the verified prefix alone no longer fits
// in a HostPath. Verified components are never popped, so no later
// step can bring the result back under PathMax.
func (c *Components) verifiedTooLong() bool {
	if c.nsPrefix == 0 {
		return false
	}
	verifiedLen := len(c.rendered)
	if c.nsPrefix < len(c.items) {
		verifiedLen = c.starts[c.nsPrefix]
	}
	return verifiedLen+1 > PathMax
}

// Unparse serializes the components into a HostPath. It is the only
// step of resolution that fails on capacity: a rendering that does not
// fit in PathMax bytes with its NUL terminator is Enametoolong.
func (c *Components) Unparse() (HostPath, error) {
	var host HostPath
	if len(c.rendered)+1 > PathMax {
		return HostPath{}, Enametoolong
	}
	host.length = copy(host.inner[:], c.rendered)
	host.inner[host.length] = 0

	depth, _ := minDepth(c.items)
	host.depth = depth
	host.relative = isRelative(c.items)
	host.nonSymlink = c.nsPrefix == len(c.items)
	host.nonSymlinkPrefixes = len(c.items) == 0 || c.nsPrefix >= len(c.items)-1
	return host, nil
}

// minDepth scans components and returns the final net depth together
// with the index of the first component that escaped the root, or -1.
// A root component returns depthErr as the depth. On an ascent above
// the root the depth at that point, which is negative, is returned.
func minDepth(components []Component) (int, int) {
	depth := 0
	for index, component := range components {
		if component.Kind == RootDir {
			return depthErr, index
		}
		depth += component.depthDelta()
		if depth < 0 {
			return depth, index
		}
	}
	return depth, -1
}

// isRelative reports whether components has no leading root.
func isRelative(components []Component) bool {
	return len(components) == 0 || components[0].Kind != RootDir
}

// HostPath is a resolved, host-relative path ready to be passed to a
// host *at syscall together with the anchor directory it was resolved
// under. It is a fixed-capacity value and never aliases sandbox memory.
type HostPath struct {
	inner              [PathMax]byte
	length             int
	depth              int
	relative           bool
	nonSymlink         bool
	nonSymlinkPrefixes bool
}

// Bytes returns the path without its NUL terminator.
func (p *HostPath) Bytes() []byte {
	return p.inner[:p.length:p.length]
}

// CString returns the path with its NUL terminator.
func (p *HostPath) CString() []byte {
	return p.inner[: p.length+1 : p.length+1]
}

func (p *HostPath) String() string {
	return string(p.Bytes())
}

// Len returns the path length in bytes, excluding the terminator.
func (p *HostPath) Len() int {
	return p.length
}

// Depth is the net directory depth of the path below the anchor. It is
// never negative for a HostPath returned by TranslatePath.
func (p *HostPath) Depth() int {
	return p.depth
}

// IsRelative reports that the path has no root component.
func (p *HostPath) IsRelative() bool {
	return p.relative
}

// NonSymlink reports that every component, including the final one, was
// verified not to be a symlink at resolution time. It is false when the
// final component was left unfollowed.
func (p *HostPath) NonSymlink() bool {
	return p.nonSymlink
}

// NonSymlinkPrefixes reports that every proper prefix was verified not
// to be a symlink at resolution time.
func (p *HostPath) NonSymlinkPrefixes() bool {
	return p.nonSymlinkPrefixes
}
