// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrnoNumbering(t *testing.T) {
	tests := []struct {
		errno Errno
		value uint16
		name  string
	}{
		{Efault, 21, "EFAULT"},
		{Einval, 28, "EINVAL"},
		{Eloop, 32, "ELOOP"},
		{Enametoolong, 37, "ENAMETOOLONG"},
		{Eoverflow, 61, "EOVERFLOW"},
		{Enotcapable, 76, "ENOTCAPABLE"},
	}
	for _, test := range tests {
		if uint16(test.errno) != test.value {
			t.Errorf("%s: expected %d, got %d", test.name, test.value, uint16(test.errno))
		}
		if test.errno.Name() != test.name {
			t.Errorf("expected name %q, got %q", test.name, test.errno.Name())
		}
	}
	if got := Errno(9999).Name(); got != "errno(9999)" {
		t.Errorf("expected errno(9999) for unknown errno, got %q", got)
	}
}

func TestErrnoOf(t *testing.T) {
	escape := &EscapeError{Path: "../x", Index: 0, Component: ".."}
	loop := &LoopError{Path: "a", Budget: 40}

	tests := []struct {
		name string
		err  error
		want Errno
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"plain", errors.New("other"), 0, false},
		{"bare", Efault, Efault, true},
		{"wrapped", fmt.Errorf("reading iovec: %w", Eoverflow), Eoverflow, true},
		{"escape", escape, Enotcapable, true},
		{"loop", loop, Eloop, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := ErrnoOf(test.err)
			if ok != test.ok || got != test.want {
				t.Errorf("expected (%v, %v), got (%v, %v)", test.want, test.ok, got, ok)
			}
		})
	}

	if !errors.Is(escape, Enotcapable) {
		t.Error("EscapeError should match Enotcapable")
	}
	if !errors.Is(loop, Eloop) {
		t.Error("LoopError should match Eloop")
	}
}

func TestErrnoMarshalText(t *testing.T) {
	data, err := json.Marshal(map[string]Errno{"errno": Enotcapable})
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if string(data) != `{"errno":"ENOTCAPABLE"}` {
		t.Errorf("expected symbolic errno in JSON, got %s", data)
	}
}
