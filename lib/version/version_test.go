// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoDirtySuffix(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "false"
	if info := Info(); !strings.Contains(info, "(abc1234, ") {
		t.Errorf("expected clean commit in %q", info)
	}

	GitDirty = "true"
	if info := Info(); !strings.Contains(info, "(abc1234-dirty, ") {
		t.Errorf("expected dirty commit in %q", info)
	}
}

func TestFullReportsAssertions(t *testing.T) {
	if full := Full(true); !strings.Contains(full, "Debug assertions: on") {
		t.Errorf("expected assertions on in %q", full)
	}
	if full := Full(false); !strings.Contains(full, "Debug assertions: off") {
		t.Errorf("expected assertions off in %q", full)
	}
	if !strings.HasPrefix(Full(false), Info()) {
		t.Error("Full should begin with Info")
	}
}

func TestShort(t *testing.T) {
	if Short() != Version {
		t.Errorf("expected %q, got %q", Version, Short())
	}
}
