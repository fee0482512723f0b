package home

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-picturebook")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-picturebook" {
			t.Errorf("expected path /tmp/test-picturebook, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-picturebook")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataPath", dir.DataPath(), "/tmp/test-picturebook/data"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-picturebook/config.yaml"},
		{"SQLitePath", dir.SQLitePath(), "/tmp/test-picturebook/picturebook.db"},
		{"BadgerPath", dir.BadgerPath(), "/tmp/test-picturebook/badger"},
		{"ImagesPath", dir.ImagesPath(), "/tmp/test-picturebook/images"},
		{"LockPath", dir.LockPath(), "/tmp/test-picturebook/picturebook.lock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "picturebook-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist yet")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	for _, p := range []string{dir.DataPath(), dir.ImagesPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}

	// Idempotent
	if err := dir.EnsureExists(); err != nil {
		t.Errorf("second EnsureExists failed: %v", err)
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())
	if dir.ConfigExists() {
		t.Error("config should not exist yet")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("log: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist")
	}
}

func TestDir_Lock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home")
	first, _ := New(path)
	second, _ := New(path)

	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock() error = %v", err)
	}
	if err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock() error = %v, want ErrLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := second.Lock(); err != nil {
		t.Errorf("Lock() after release error = %v", err)
	}
	second.Unlock()
}
