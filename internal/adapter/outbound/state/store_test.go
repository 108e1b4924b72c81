package state

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ---------------------------------------------------------------------------
// DefaultState tests
// ---------------------------------------------------------------------------

func TestDefaultState_EmptyCollections(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), testLogger())
	state := s.DefaultState()

	if state.Version != "1" {
		t.Errorf("expected Version '1', got %q", state.Version)
	}
	if state.Identities == nil || len(state.Identities) != 0 {
		t.Errorf("expected empty Identities slice, got %v", state.Identities)
	}
	if state.APIKeys == nil || len(state.APIKeys) != 0 {
		t.Errorf("expected empty APIKeys slice, got %v", state.APIKeys)
	}
	if state.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

func TestLoad_NoFile_ReturnsDefaultState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if state.Version != "1" {
		t.Errorf("expected Version '1', got %q", state.Version)
	}
	if len(state.APIKeys) != 0 {
		t.Errorf("expected no API keys, got %d", len(state.APIKeys))
	}
}

func TestLoad_ValidFile_ReturnsParsedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	now := time.Now().UTC().Truncate(time.Second)
	original := &AppState{
		Version: "1",
		Identities: []IdentityEntry{
			{ID: "id-1", Name: "test-user", Roles: []string{"admin"}, CreatedAt: now},
		},
		APIKeys: []APIKeyEntry{
			{ID: "key-1", KeyHash: "argon2:hash", IdentityID: "id-1", Name: "test-key", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal test state: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write test state: %v", err)
	}

	s := NewFileStateStore(path, testLogger())
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if state.Version != "1" {
		t.Errorf("expected Version '1', got %q", state.Version)
	}
	if len(state.Identities) != 1 || state.Identities[0].ID != "id-1" {
		t.Errorf("unexpected identities: %v", state.Identities)
	}
	if len(state.APIKeys) != 1 || state.APIKeys[0].KeyHash != "argon2:hash" {
		t.Errorf("unexpected API keys: %v", state.APIKeys)
	}
}

func TestLoad_CorruptFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := os.WriteFile(path, []byte("{invalid json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	s := NewFileStateStore(path, testLogger())
	_, err := s.Load()
	if err == nil {
		t.Fatal("expected error for corrupt JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Save tests
// ---------------------------------------------------------------------------

func TestSave_CreatesFileWithCorrectContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state := s.DefaultState()
	state.Identities = append(state.Identities, IdentityEntry{ID: "id-1", Name: "test"})

	if err := s.Save(state); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}

	var loaded AppState
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("failed to unmarshal saved file: %v", err)
	}

	if len(loaded.Identities) != 1 || loaded.Identities[0].ID != "id-1" {
		t.Errorf("expected identity id-1 to survive save, got %v", loaded.Identities)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set after Save")
	}
}

func TestSave_SetsFilePermissions0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state := s.DefaultState()
	if err := s.Save(state); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat file: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state1 := s.DefaultState()
	state1.Identities = append(state1.Identities, IdentityEntry{ID: "original"})
	if err := s.Save(state1); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}

	state2 := s.DefaultState()
	state2.Identities = append(state2.Identities, IdentityEntry{ID: "updated"})
	if err := s.Save(state2); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	bakPath := path + ".bak"
	data, err := os.ReadFile(bakPath)
	if err != nil {
		t.Fatalf("failed to read backup file: %v", err)
	}

	var backup AppState
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("failed to unmarshal backup: %v", err)
	}
	if len(backup.Identities) != 1 || backup.Identities[0].ID != "original" {
		t.Errorf("expected backup to contain 'original', got %v", backup.Identities)
	}

	currentData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read current file: %v", err)
	}

	var current AppState
	if err := json.Unmarshal(currentData, &current); err != nil {
		t.Fatalf("failed to unmarshal current: %v", err)
	}
	if len(current.Identities) != 1 || current.Identities[0].ID != "updated" {
		t.Errorf("expected current to contain 'updated', got %v", current.Identities)
	}
}

func TestSave_AtomicWrite_NoTmpFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state := s.DefaultState()
	if err := s.Save(state); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("expected .tmp file to not exist after save, but it does")
	}
}

func TestSave_UpdatesUpdatedAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state := s.DefaultState()
	originalUpdatedAt := state.UpdatedAt

	time.Sleep(10 * time.Millisecond)

	if err := s.Save(state); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	if !state.UpdatedAt.After(originalUpdatedAt) {
		t.Errorf("expected UpdatedAt to be updated, original=%v, new=%v", originalUpdatedAt, state.UpdatedAt)
	}
}

// ---------------------------------------------------------------------------
// Exists / Path tests
// ---------------------------------------------------------------------------

func TestExists_NoFile_ReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	if s.Exists() {
		t.Error("expected Exists() to return false for missing file")
	}
}

func TestExists_WithFile_ReturnsTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	s := NewFileStateStore(path, testLogger())
	if !s.Exists() {
		t.Error("expected Exists() to return true for existing file")
	}
}

func TestPath_ReturnsConfiguredPath(t *testing.T) {
	expected := "/some/path/state.json"
	s := NewFileStateStore(expected, testLogger())

	if got := s.Path(); got != expected {
		t.Errorf("expected path %q, got %q", expected, got)
	}
}

// ---------------------------------------------------------------------------
// Concurrent access tests
// ---------------------------------------------------------------------------

func TestConcurrentSaves_DoNotCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	initial := s.DefaultState()
	if err := s.Save(initial); err != nil {
		t.Fatalf("initial Save() failed: %v", err)
	}

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st := s.DefaultState()
			st.Identities = append(st.Identities, IdentityEntry{ID: "from-goroutine"})
			if err := s.Save(st); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file after concurrent saves: %v", err)
	}

	var final AppState
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("file corrupted after concurrent saves: %v", err)
	}
	if final.Version != "1" {
		t.Errorf("expected Version '1' after concurrent saves, got %q", final.Version)
	}
}

// ---------------------------------------------------------------------------
// Round-trip test
// ---------------------------------------------------------------------------

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(24 * time.Hour)

	original := &AppState{
		Version: "1",
		Identities: []IdentityEntry{
			{ID: "i1", Name: "admin", Roles: []string{"admin", "user"}, CreatedAt: now},
		},
		APIKeys: []APIKeyEntry{
			{ID: "k1", KeyHash: "argon2:somehash", IdentityID: "i1", Name: "admin-key", CreatedAt: now, ExpiresAt: &expires},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.Save(original); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if loaded.Version != original.Version {
		t.Errorf("Version mismatch: %q vs %q", loaded.Version, original.Version)
	}
	if len(loaded.Identities) != 1 || loaded.Identities[0].Name != "admin" {
		t.Fatalf("unexpected identities: %v", loaded.Identities)
	}
	if loaded.APIKeys[0].ExpiresAt == nil {
		t.Fatal("expected ExpiresAt to survive round trip")
	}
	if !loaded.APIKeys[0].ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt mismatch: %v vs %v", loaded.APIKeys[0].ExpiresAt, expires)
	}
}

// ---------------------------------------------------------------------------
// Permission tests
// ---------------------------------------------------------------------------

func TestLoad_TooOpenPermissions_WarnsButSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	data := []byte(`{"version":"1","identities":[],"api_keys":[]}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := NewFileStateStore(path, logger)

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if state == nil {
		t.Fatal("Load() returned nil state")
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "too-open permissions") {
		t.Errorf("expected warning about too-open permissions, got log output: %q", logOutput)
	}
}

func TestLoad_CorrectPermissions_NoWarning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	data := []byte(`{"version":"1","identities":[],"api_keys":[]}`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := NewFileStateStore(path, logger)

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if state == nil {
		t.Fatal("Load() returned nil state")
	}

	logOutput := buf.String()
	if strings.Contains(logOutput, "too-open permissions") {
		t.Errorf("unexpected warning for correctly permissioned file, got: %q", logOutput)
	}
}

func TestSave_ExplicitChmod0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStateStore(path, testLogger())

	state := s.DefaultState()
	if err := s.Save(state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if err := s.Save(state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 after save, got %04o", perm)
	}
}
