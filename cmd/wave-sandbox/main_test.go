// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/wave/lib/codec"
	"github.com/bureau-foundation/wave/lib/testutil"
)

// writeConfig writes a wave.yaml with a small linear memory rooted at
// root and returns its path.
func writeConfig(t *testing.T, root string) string {
	t.Helper()
	directory := t.TempDir()
	content := fmt.Sprintf(`environment: development
paths:
  root: %s
  scratch: %s
memory:
  size: 65536
resolver:
  max_symlinks: 8
  follow_final: true
process:
  args: ["prog", "x"]
  env: ["A=1"]
`, root, filepath.Join(directory, "scratch"))
	path := filepath.Join(directory, "wave.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func testRoot(t *testing.T) string {
	return testutil.SandboxRoot(t, testutil.Tree{
		"a":    testutil.Dir(),
		"a/b":  testutil.Dir(),
		"link": testutil.Symlink("a"),
	})
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), args, &stdout, slog.New(slog.DiscardHandler))
	return stdout.String(), err
}

type decodedReport struct {
	Path       string `json:"path"`
	Host       string `json:"host"`
	Depth      int    `json:"depth"`
	NonSymlink bool   `json:"non_symlink"`
	Errno      string `json:"errno"`
}

func TestResolveText(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "resolve", "--config", configPath, "a/b", "link/b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, want := range []string{"a/b -> a/b (depth 2)", "link/b -> a/b (depth 2)"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestResolveJSONReportsEscape(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "resolve", "--config", configPath, "--format", "json", "a", "../x")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 paths rejected") {
		t.Fatalf("expected rejection error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d:\n%s", len(lines), output)
	}

	var accepted, rejected decodedReport
	if err := json.Unmarshal([]byte(lines[0]), &accepted); err != nil {
		t.Fatalf("decoding first report: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &rejected); err != nil {
		t.Fatalf("decoding second report: %v", err)
	}

	if accepted.Host != "a" || accepted.Depth != 1 || accepted.Errno != "" {
		t.Errorf("unexpected accepted report: %+v", accepted)
	}
	if rejected.Path != "../x" || rejected.Host != "" || rejected.Errno != "ENOTCAPABLE" {
		t.Errorf("unexpected rejected report: %+v", rejected)
	}
}

func TestResolveNoFollow(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "resolve", "--config", configPath, "--format=json", "--no-follow", "link")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var report decodedReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Host != "link" {
		t.Errorf("expected unfollowed final symlink, got host %q", report.Host)
	}
	if report.NonSymlink {
		t.Error("expected non_symlink false for an unverified final component")
	}
}

func TestResolveCBOR(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "resolve", "--config", configPath, "--format", "cbor", "link/b", "/etc")
	if err == nil {
		t.Fatal("expected rejection of /etc")
	}

	decoder := codec.NewDecoder(strings.NewReader(output))
	var first, second decodedReport
	if err := decoder.Decode(&first); err != nil {
		t.Fatalf("decoding first report: %v", err)
	}
	if err := decoder.Decode(&second); err != nil {
		t.Fatalf("decoding second report: %v", err)
	}
	if first.Host != "a/b" {
		t.Errorf("expected host a/b, got %q", first.Host)
	}
	if second.Errno != "ENOTCAPABLE" {
		t.Errorf("expected ENOTCAPABLE, got %q", second.Errno)
	}
}

func TestResolveRootOverride(t *testing.T) {
	configPath := writeConfig(t, filepath.Join(t.TempDir(), "missing"))
	root := testutil.SandboxRoot(t, testutil.Tree{"only": testutil.Dir()})

	output, err := runCommand(t, "resolve", "--config", configPath, "--root", root, "only")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(output, "only -> only (depth 1)") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestResolveRejectsUnknownFormat(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))
	if _, err := runCommand(t, "resolve", "--config", configPath, "--format", "xml", "a"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestMemoryLayout(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "memory", "--config", configPath, "--format", "json")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}

	var report struct {
		MemorySize uint64 `json:"memory_size"`
		Argc       uint32 `json:"argc"`
		ArgvBuf    uint32 `json:"argv_buf"`
		Environ    uint32 `json:"environ"`
		EnvironBuf uint32 `json:"environ_buf"`
		End        uint32 `json:"end"`
		Digest     string `json:"digest"`
	}
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}

	// "prog\0x\0" is 7 bytes after an 8-byte pointer table; the environ
	// table starts at the next 4-byte boundary.
	if report.MemorySize != 65536 || report.Argc != 2 {
		t.Errorf("unexpected sizes: %+v", report)
	}
	if report.ArgvBuf != 8 || report.Environ != 16 || report.EnvironBuf != 20 || report.End != 24 {
		t.Errorf("unexpected layout: %+v", report)
	}
	if len(report.Digest) != 64 {
		t.Errorf("expected 64-character digest, got %q", report.Digest)
	}
}

func TestMemoryDump(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "memory", "--config", configPath, "--dump")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	// hex.Dump renders printable bytes in its right-hand column.
	if !strings.Contains(output, "prog.x.") {
		t.Errorf("expected argument buffer in dump:\n%s", output)
	}
}

func TestValidateCommand(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "validate", "--config", configPath, "--create")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Ready to host sandbox instances") {
		t.Errorf("unexpected output:\n%s", output)
	}
}

func TestValidateCommandMissingRoot(t *testing.T) {
	configPath := writeConfig(t, filepath.Join(t.TempDir(), "missing"))

	output, err := runCommand(t, "validate", "--config", configPath)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(output, "does not exist") {
		t.Errorf("expected missing root to be reported:\n%s", output)
	}
}

func TestTestCommand(t *testing.T) {
	configPath := writeConfig(t, testRoot(t))

	output, err := runCommand(t, "test", "--config", configPath, "--category", "iovec")
	if err != nil {
		t.Fatalf("test: %v\n%s", err, output)
	}
	if !strings.Contains(output, "translation boundary verified") {
		t.Errorf("unexpected output:\n%s", output)
	}

	if _, err := runCommand(t, "test", "--config", configPath, "--category", "nonexistent"); err == nil {
		t.Error("expected error for an empty category")
	}
}

func TestRunUsage(t *testing.T) {
	if _, err := runCommand(t); !errors.Is(err, errUsage) {
		t.Errorf("expected errUsage, got %v", err)
	}
	if _, err := runCommand(t, "bogus"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
	output, err := runCommand(t, "version")
	if err != nil || !strings.HasPrefix(output, "wave-sandbox ") {
		t.Errorf("unexpected version output %q (err %v)", output, err)
	}
}
