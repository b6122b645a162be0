package home

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefaultPath(t *testing.T) {
	d, err := New("")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !strings.HasSuffix(d.Path(), DefaultDirName) {
		t.Errorf("expected path ending in %s, got %s", DefaultDirName, d.Path())
	}
}

func TestDirPaths(t *testing.T) {
	d, err := New("/tmp/maktaba-test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := d.DataPath(); got != filepath.Join("/tmp/maktaba-test", "data") {
		t.Errorf("unexpected data path: %s", got)
	}
	if got := d.ConfigPath(); got != filepath.Join("/tmp/maktaba-test", "config.yaml") {
		t.Errorf("unexpected config path: %s", got)
	}
	if got := d.DatabasePath(); got != filepath.Join("/tmp/maktaba-test", "data", "books.db") {
		t.Errorf("unexpected database path: %s", got)
	}
	if got := d.ExportPath("43"); got != filepath.Join("/tmp/maktaba-test", "exports", "book_43.json") {
		t.Errorf("unexpected export path: %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "home")
	d, err := New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if d.Exists() {
		t.Fatal("directory should not exist yet")
	}
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !d.Exists() {
		t.Error("directory should exist after EnsureExists")
	}

	info, err := os.Stat(d.DataPath())
	if err != nil || !info.IsDir() {
		t.Errorf("data directory missing after EnsureExists: %v", err)
	}
}
