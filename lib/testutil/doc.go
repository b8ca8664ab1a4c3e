// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for wave packages.
//
// [SandboxRoot] materializes a [Tree] of directories, files, and
// symlinks under a fresh temporary directory and returns its path.
// Path resolution tests describe the host filesystem the sandbox sees
// as a literal map instead of a sequence of os.Mkdir and os.Symlink
// calls:
//
//	root := testutil.SandboxRoot(t, testutil.Tree{
//		"a/b":    testutil.Dir(),
//		"a/link": testutil.Symlink("../../etc"),
//	})
//
// [OpenRoot] opens a directory for use as a resolution anchor and
// closes it when the test completes.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no wave-internal dependencies.
package testutil
