package scriptcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFreshMissOnEmptyCatalog(t *testing.T) {
	cat, err := Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	if _, ok, err := cat.Fresh("/no/such/source"); err != nil || ok {
		t.Fatalf("Fresh on empty catalog = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRecordThenFreshHit(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "track.h264")
	if err := os.WriteFile(srcPath, []byte("unit data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat, err := Open(filepath.Join(dir, "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	if err := cat.Record(srcPath, "/scripts/track.esms", 0xDEADBEEF, 9); err != nil {
		t.Fatalf("Record: %v", err)
	}

	scriptPath, ok, err := cat.Fresh(srcPath)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if !ok {
		t.Fatal("Fresh = false, want true for an unmodified source")
	}
	if scriptPath != "/scripts/track.esms" {
		t.Fatalf("scriptPath = %q, want /scripts/track.esms", scriptPath)
	}
}

func TestFreshMissAfterSourceChanges(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "track.h264")
	if err := os.WriteFile(srcPath, []byte("unit data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat, err := Open(filepath.Join(dir, "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	if err := cat.Record(srcPath, "/scripts/track.esms", 0xDEADBEEF, 9); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Simulate the source file changing after the script was built:
	// new content, and a distinctly later modification time (some
	// filesystems have coarse mtime resolution).
	future := time.Now().Add(time.Hour)
	if err := os.WriteFile(srcPath, []byte("different, longer unit data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chtimes(srcPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if _, ok, err := cat.Fresh(srcPath); err != nil || ok {
		t.Fatalf("Fresh after source change = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFreshMissWhenSourceRemoved(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "track.h264")
	if err := os.WriteFile(srcPath, []byte("unit data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat, err := Open(filepath.Join(dir, "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	if err := cat.Record(srcPath, "/scripts/track.esms", 0xDEADBEEF, 9); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := os.Remove(srcPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok, err := cat.Fresh(srcPath); err != nil || ok {
		t.Fatalf("Fresh after source removed = (%v, %v), want (false, nil)", ok, err)
	}
}
