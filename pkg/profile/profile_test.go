package profile

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"splitux/pkg/config"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.New(config.Paths{
		DataDir:   filepath.Join(tmp, "data"),
		CacheDir:  filepath.Join(tmp, "cache"),
		StateDir:  filepath.Join(tmp, "state"),
		ConfigDir: filepath.Join(tmp, "config"),
	}, config.Tools{}, "tester", tmp)
	return NewManager(cfg)
}

func TestEnsureCreatesLayout(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Ensure("Alice", "spacewar")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, d := range []string{p.Home, p.GameUpper, p.GameWork, filepath.Join(p.WinData, "AppData", "LocalLow")} {
		if st, err := os.Stat(d); err != nil || !st.IsDir() {
			t.Errorf("missing dir %s", d)
		}
	}
	if filepath.Dir(p.GameUpper) != filepath.Dir(p.GameWork) {
		t.Errorf("work dir must sit next to upper dir")
	}
	if _, err := m.Ensure("../evil", "spacewar"); err == nil {
		t.Errorf("expected invalid name error")
	}
}

func TestRemoveGuest(t *testing.T) {
	m := newTestManager(t)
	g, _ := m.Ensure(".GuestA", "h")
	if _, err := m.Ensure("Bob", "h"); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveGuest("Bob"); err == nil {
		t.Errorf("named profile removal must be refused")
	}
	if err := m.RemoveGuest(".GuestA"); err != nil {
		t.Fatalf("RemoveGuest: %v", err)
	}
	if _, err := os.Stat(g.Root); !os.IsNotExist(err) {
		t.Errorf("guest data still present")
	}

	names, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"Bob"}) {
		t.Errorf("unexpected profiles %v", names)
	}
}

func TestMaster(t *testing.T) {
	m := newTestManager(t)
	if got, err := m.Master(); err != nil || got != "" {
		t.Fatalf("expected no master, got %q %v", got, err)
	}
	if err := m.SetMaster(".Guest"); err == nil {
		t.Errorf("guest must not become master")
	}
	if err := m.SetMaster("Alice"); err != nil {
		t.Fatalf("SetMaster: %v", err)
	}
	if got, _ := m.Master(); got != "Alice" {
		t.Errorf("expected Alice, got %q", got)
	}
	if err := m.ClearMaster(); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Master(); got != "" {
		t.Errorf("expected cleared master, got %q", got)
	}
}
