package disk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"splitux/pkg/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCopyTreeRename(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "a", "save_1.dat"), "one")
	writeFile(t, filepath.Join(src, "b.txt"), "two")
	if err := os.Symlink("b.txt", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}

	err := CopyTree(src, dst, func(rel string) string {
		return strings.ReplaceAll(rel, "_1", "_2")
	})
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if b, _ := os.ReadFile(filepath.Join(dst, "a", "save_2.dat")); string(b) != "one" {
		t.Errorf("renamed file missing")
	}
	if l, err := os.Readlink(filepath.Join(dst, "link")); err != nil || l != "b.txt" {
		t.Errorf("symlink not recreated: %q %v", l, err)
	}
}

func TestLinkTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "x", "y.dll"), "bin")
	if err := LinkTree(src, dst); err != nil {
		t.Fatalf("LinkTree: %v", err)
	}
	if b, _ := os.ReadFile(filepath.Join(dst, "x", "y.dll")); string(b) != "bin" {
		t.Errorf("linked file missing")
	}
}

func TestDirHelpers(t *testing.T) {
	dir := t.TempDir()
	if !IsEmptyDir(dir) || !IsEmptyDir(filepath.Join(dir, "missing")) {
		t.Errorf("expected empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, "only", "dirs"), 0755); err != nil {
		t.Fatal(err)
	}
	if HasFiles(dir) {
		t.Errorf("directories alone are not files")
	}
	writeFile(t, filepath.Join(dir, "only", "f"), "12345")
	if !HasFiles(dir) || IsEmptyDir(dir) {
		t.Errorf("expected files")
	}
	if size, n := DirSize(dir); size != 5 || n != 1 {
		t.Errorf("DirSize = %d, %d", size, n)
	}
	if err := ClearDir(dir); err != nil {
		t.Fatal(err)
	}
	if !IsEmptyDir(dir) {
		t.Errorf("ClearDir left entries")
	}
}

func TestManagerInfoAndClean(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.New(config.Paths{
		DataDir:   filepath.Join(tmp, "data"),
		CacheDir:  filepath.Join(tmp, "cache"),
		StateDir:  filepath.Join(tmp, "state"),
		ConfigDir: filepath.Join(tmp, "config"),
	}, config.Tools{}, "tester", tmp)
	writeFile(t, filepath.Join(cfg.GetPkgDir(), "p", "f"), "abc")
	writeFile(t, filepath.Join(cfg.GetProfilesDir(), "Alice", "s"), "x")

	m := NewManager(cfg)
	stats, total := m.GetInfo()
	if total != 4 || len(stats) != 5 || stats[0].Label != "Backups" {
		t.Errorf("unexpected info %+v total %d", stats, total)
	}

	m.Clean()
	if HasFiles(cfg.GetPkgDir()) {
		t.Errorf("package cache not cleaned")
	}
	if !HasFiles(cfg.GetProfilesDir()) {
		t.Errorf("profiles must survive clean")
	}
}
