package allowlist

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAllowlist(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}
}

func TestSuppress_TextContains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	writeAllowlist(t, path, `- text_contains: "rm -rf /tmp/build"
  reason: "known safe cleanup step"
`)

	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	suppressed, reason := l.Suppress("our cleanup step is: rm -rf /tmp/build", "shell-001-rm-rf")
	if !suppressed {
		t.Fatal("expected suppression")
	}
	if reason == "" {
		t.Error("expected a reason to be returned")
	}
}

func TestSuppress_RuleID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	writeAllowlist(t, path, `- rule_id: "pii-003-email"
`)

	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	suppressed, _ := l.Suppress("anything at all", "pii-003-email")
	if !suppressed {
		t.Fatal("expected rule_id suppression")
	}
	suppressed, _ = l.Suppress("anything at all", "pii-004-phone")
	if suppressed {
		t.Fatal("did not expect suppression for a different rule_id")
	}
}

func TestSuppress_Regex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	writeAllowlist(t, path, `- regex: "^staging-[a-z0-9]+$"
`)

	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	suppressed, _ := l.Suppress("staging-abc123", "cred-005-openai-key")
	if !suppressed {
		t.Fatal("expected regex suppression")
	}
}

func TestReload_InvalidYAMLKeepsPreviousSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	writeAllowlist(t, path, `- text_contains: "keep-me"
`)

	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}

	writeAllowlist(t, path, "not: valid: yaml: [")
	if err := l.Reload(); err == nil {
		t.Fatal("expected reload error on invalid YAML")
	}
	if l.Len() != 1 {
		t.Fatalf("expected previous set to remain, got %d entries", l.Len())
	}
}

func TestNew_MissingFileStartsEmpty(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty list, got %d entries", l.Len())
	}
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	writeAllowlist(t, path, `- text_contains: "first"
`)

	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeAllowlist(t, path, `- text_contains: "first"
- text_contains: "second"
`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Len() == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected hot-reload to pick up new entry, got %d", l.Len())
}
