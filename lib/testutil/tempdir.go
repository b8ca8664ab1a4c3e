// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// Node is one entry of a Tree.
type Node struct {
	kind    nodeKind
	content string
	target  string
}

type nodeKind int

const (
	nodeDir nodeKind = iota
	nodeFile
	nodeSymlink
)

// Dir returns a directory node.
func Dir() Node { return Node{kind: nodeDir} }

// File returns a regular file node with the given content.
func File(content string) Node { return Node{kind: nodeFile, content: content} }

// Symlink returns a symlink node pointing at target. The target is
// stored verbatim and need not exist.
func Symlink(target string) Node { return Node{kind: nodeSymlink, target: target} }

// Tree maps slash-separated paths, relative to the root, to nodes.
// Missing parent directories are created implicitly.
type Tree map[string]Node

// SandboxRoot creates a temporary directory populated with tree and
// returns its path. The directory is removed when the test completes.
func SandboxRoot(t *testing.T, tree Tree) string {
	t.Helper()
	root := t.TempDir()

	paths := make([]string, 0, len(tree))
	for path := range tree {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		node := tree[path]
		hostPath := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", path, err)
		}
		switch node.kind {
		case nodeDir:
			if err := os.MkdirAll(hostPath, 0o755); err != nil {
				t.Fatalf("creating directory %s: %v", path, err)
			}
		case nodeFile:
			if err := os.WriteFile(hostPath, []byte(node.content), 0o644); err != nil {
				t.Fatalf("writing file %s: %v", path, err)
			}
		case nodeSymlink:
			if err := os.Symlink(node.target, hostPath); err != nil {
				t.Fatalf("creating symlink %s -> %s: %v", path, node.target, err)
			}
		}
	}
	return root
}

// OpenRoot opens directory for reading and closes it at test cleanup.
func OpenRoot(t *testing.T, directory string) *os.File {
	t.Helper()
	file, err := os.Open(directory)
	if err != nil {
		t.Fatalf("opening root %s: %v", directory, err)
	}
	t.Cleanup(func() {
		_ = file.Close()
	})
	return file
}
