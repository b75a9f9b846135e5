package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_NoRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	payload := strings.Repeat("x", 4096)
	for i := 0; i < 10; i++ {
		if _, err := rw.Write([]byte(payload)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if rw.CurrentSize() != int64(len(payload)*10) {
		t.Errorf("CurrentSize = %d, want %d", rw.CurrentSize(), len(payload)*10)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should exist when rotation is disabled")
	}
}

func TestRotatingWriter_RotatesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	// Each write is half a megabyte; the third one crosses the threshold.
	payload := strings.Repeat("y", 512*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write([]byte(payload)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated backup at %s.1: %v", path, err)
	}
	if rw.CurrentSize() != int64(len(payload)) {
		t.Errorf("post-rotation size = %d, want %d", rw.CurrentSize(), len(payload))
	}
}

func TestRotatingWriter_DropsOldestBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	payload := strings.Repeat("z", 1024*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write([]byte(payload)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected backup .1 to exist: %v", err)
	}
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Error("backup .2 should have been dropped with MaxBackups=1")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	dir := t.TempDir()

	rw, err := NewRotatingWriter(filepath.Join(dir, "engine.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
	// Close is idempotent.
	if err := rw.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
