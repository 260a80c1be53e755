package timeshift

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("creating test file: %v", err)
	}
}

func TestRemoveOrphans(t *testing.T) {
	dir := t.TempDir()

	active := FilePrefix + "active.data"
	stale := FilePrefix + "stale.data"
	unrelated := "recording.ts"

	touch(t, filepath.Join(dir, active))
	touch(t, filepath.Join(dir, stale))
	touch(t, filepath.Join(dir, unrelated))

	removed := RemoveOrphans(dir, map[string]struct{}{active: {}}, testLogger())
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}

	if _, err := os.Stat(filepath.Join(dir, active)); err != nil {
		t.Error("active session file must survive the sweep")
	}
	if _, err := os.Stat(filepath.Join(dir, stale)); !os.IsNotExist(err) {
		t.Error("stale ring buffer file should have been removed")
	}
	if _, err := os.Stat(filepath.Join(dir, unrelated)); err != nil {
		t.Error("files outside the naming prefix must survive the sweep")
	}
}

func TestRemoveOrphansMissingDir(t *testing.T) {
	removed := RemoveOrphans(filepath.Join(t.TempDir(), "missing"), nil, testLogger())
	if removed != 0 {
		t.Fatalf("expected 0 removals for missing directory, got %d", removed)
	}
}
