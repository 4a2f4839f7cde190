package jsonstore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type testSettings struct {
	Master string   `json:"master"`
	Recent []string `json:"recent,omitempty"`
}

func TestGetMissingFileUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := New[testSettings](path, WithDefault(func() *testSettings {
		return &testSettings{Master: "nobody"}
	}))

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Master != "nobody" {
		t.Errorf("expected default master, got %q", got.Master)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Get must not create the file")
	}
}

func TestGetAcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{
  // edited by hand
  "master": "Alice",
  "recent": ["Bob",],
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s := New[testSettings](path)
	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Master != "Alice" || len(got.Recent) != 1 || got.Recent[0] != "Bob" {
		t.Errorf("unexpected settings: %+v", got)
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := New[testSettings](path, WithFileMode[testSettings](0600))

	if err := s.Update(func(v *testSettings) error {
		v.Master = "Alice"
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}

	other := New[testSettings](path)
	got, err := other.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got.Master != "Alice" {
		t.Errorf("expected persisted master Alice, got %q", got.Master)
	}
}

func TestUpdateErrorDiscardsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := New[testSettings](path)
	if err := s.Update(func(v *testSettings) error { v.Master = "Alice"; return nil }); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.Update(func(v *testSettings) error {
		v.Master = "Mallory"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got.Master != "Alice" {
		t.Errorf("failed update leaked into store: %q", got.Master)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := New[testSettings](path)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v *testSettings) error {
				v.Recent = append(v.Recent, "x")
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Recent) != 10 {
		t.Errorf("expected 10 entries, got %d", len(got.Recent))
	}
}
