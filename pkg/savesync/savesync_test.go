package savesync

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"splitux/pkg/handler"
	"splitux/pkg/identity"
	"splitux/pkg/profile"
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

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func profilePaths(root, name string) profile.Paths {
	r := filepath.Join(root, "profiles", name)
	return profile.Paths{
		Root:      r,
		Home:      filepath.Join(r, "home"),
		WinData:   filepath.Join(r, "windata"),
		GameUpper: filepath.Join(r, "game", "g", "upper"),
		GameWork:  filepath.Join(r, "game", "g", "work"),
	}
}

func participants(root string, names ...string) []Participant {
	var out []Participant
	for _, n := range names {
		out = append(out, Participant{Profile: n, Paths: profilePaths(root, n)})
	}
	return out
}

func steamID(name string) string {
	return strconv.FormatUint(identity.SteamID(name), 10)
}

func TestResolve(t *testing.T) {
	h := &handler.Handler{GameDir: "/games/g", Save: handler.Save{Path: "/games/g/saves"}}
	tests := []struct {
		name  string
		win   bool
		path  string
		area  Area
		rel   string
		orig  string
		fails bool
	}{
		{name: "game dir", path: "/games/g/saves", area: AreaGameDir, rel: "saves", orig: "/games/g/saves"},
		{name: "native relative", path: "saves/slot1", area: AreaGameDir, rel: "saves/slot1", orig: "/games/g/saves/slot1"},
		{name: "home", path: "~/.local/share/Game", area: AreaHome, rel: ".local/share/Game", orig: "/home/u/.local/share/Game"},
		{name: "windows relative", win: true, path: `AppData\LocalLow\Studio\Game`, area: AreaWinData, rel: "AppData/LocalLow/Studio/Game",
			orig: "/steam/steamapps/compatdata/480/pfx/drive_c/users/steamuser/AppData/LocalLow/Studio/Game"},
		{name: "windows variable", win: true, path: "%APPDATA%/Game", area: AreaWinData, rel: "AppData/Roaming/Game",
			orig: "/steam/steamapps/compatdata/480/pfx/drive_c/users/steamuser/AppData/Roaming/Game"},
		{name: "prefix absolute", win: true, path: "/home/u/pfx/drive_c/users/steamuser/Documents/Game", area: AreaWinData, rel: "Documents/Game",
			orig: "/home/u/pfx/drive_c/users/steamuser/Documents/Game"},
		{name: "outside", path: "/srv/saves", fails: true},
		{name: "escape", path: "../../etc", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Win = tt.win
			h.SteamAppID = "480"
			h.Save.Path = tt.path
			loc, err := Resolve(h, "/home/u", "/steam")
			if tt.fails {
				if err == nil {
					t.Fatalf("expected error, got %+v", loc)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if loc.Area != tt.area || loc.Rel != filepath.FromSlash(tt.rel) || loc.Original != filepath.FromSlash(tt.orig) {
				t.Errorf("got %+v", loc)
			}
		})
	}
}

func TestLocationIn(t *testing.T) {
	p := profilePaths("/data", "Bob")
	loc := &Location{Area: AreaGameDir, Rel: "saves"}
	if got := loc.In(p); got != filepath.Join(p.GameUpper, "saves") {
		t.Errorf("unexpected %s", got)
	}
	loc.Area = AreaWinData
	if got := loc.In(p); got != filepath.Join(p.WinData, "saves") {
		t.Errorf("unexpected %s", got)
	}
}

func TestMasterGuestNamedScenario(t *testing.T) {
	tmp := t.TempDir()
	home := filepath.Join(tmp, "home")
	h := &handler.Handler{Save: handler.Save{Path: "~/.local/share/Game"}}
	loc, err := Resolve(h, home, "")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(loc.Original, "save.dat"), "v1")

	parts := participants(tmp, ".GuestA", "Bob", "Alice")
	newSyncer := func() *Syncer {
		return New(Options{
			Location:    loc,
			Master:      "Alice",
			MasterPaths: profilePaths(tmp, "Alice"),
			BackupDir:   filepath.Join(tmp, "backups", "g"),
		})
	}

	if err := newSyncer().Start(parts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	alice := readFile(t, filepath.Join(loc.In(profilePaths(tmp, "Alice")), "save.dat"))
	if alice != "v1" {
		t.Fatalf("master not refreshed: %q", alice)
	}
	for _, n := range []string{".GuestA", "Bob"} {
		if got := readFile(t, filepath.Join(loc.In(profilePaths(tmp, n)), "save.dat")); got != alice {
			t.Errorf("%s: got %q, want master content %q", n, got, alice)
		}
	}

	// The original changes outside splitux between sessions.
	writeFile(t, filepath.Join(loc.Original, "save.dat"), "v2")
	if err := newSyncer().Start(parts); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := readFile(t, filepath.Join(loc.In(profilePaths(tmp, "Alice")), "save.dat")); got != "v2" {
		t.Errorf("master should follow the original, got %q", got)
	}
	if got := readFile(t, filepath.Join(loc.In(profilePaths(tmp, ".GuestA")), "save.dat")); got != "v2" {
		t.Errorf("guest should be reseeded, got %q", got)
	}
	if got := readFile(t, filepath.Join(loc.In(profilePaths(tmp, "Bob")), "save.dat")); got != "v1" {
		t.Errorf("returning named profile was overwritten, got %q", got)
	}
}

func TestGuestSeededFromOriginalWithoutMaster(t *testing.T) {
	tmp := t.TempDir()
	loc := &Location{Original: filepath.Join(tmp, "orig"), Area: AreaHome, Rel: "save"}
	writeFile(t, filepath.Join(loc.Original, "a.sav"), "orig")
	guest := participants(tmp, ".g1")
	writeFile(t, filepath.Join(loc.In(guest[0].Paths), "stale.sav"), "old")

	if err := New(Options{Location: loc, BackupDir: filepath.Join(tmp, "b")}).Start(guest); err != nil {
		t.Fatal(err)
	}
	dst := loc.In(guest[0].Paths)
	if readFile(t, filepath.Join(dst, "a.sav")) != "orig" {
		t.Errorf("guest not seeded from original")
	}
	if _, err := os.Stat(filepath.Join(dst, "stale.sav")); err == nil {
		t.Errorf("stale guest data kept")
	}
}

func TestRemapRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	const realID = "76561198000000001"
	loc := &Location{Original: filepath.Join(tmp, "orig"), Area: AreaHome, Rel: "save"}
	writeFile(t, filepath.Join(loc.Original, "remote", realID, "save.sav"), "x")

	parts := participants(tmp, "Alice", ".GuestA")
	s := New(Options{
		Location:    loc,
		Remap:       true,
		SyncBack:    true,
		Master:      "Alice",
		MasterPaths: parts[0].Paths,
		BackupDir:   filepath.Join(tmp, "backups"),
	})
	if err := s.Start(parts); err != nil {
		t.Fatal(err)
	}
	if s.OriginalID() != realID {
		t.Errorf("original id not detected: %q", s.OriginalID())
	}
	aliceDir := loc.In(parts[0].Paths)
	if readFile(t, filepath.Join(aliceDir, "remote", steamID("Alice"), "save.sav")) != "x" {
		t.Errorf("master copy not remapped")
	}
	if readFile(t, filepath.Join(loc.In(parts[1].Paths), "remote", steamID(".GuestA"), "save.sav")) != "x" {
		t.Errorf("guest copy not remapped to its own id")
	}

	writeFile(t, filepath.Join(aliceDir, "remote", steamID("Alice"), "new.sav"), "y")
	if err := s.End(parts); err != nil {
		t.Fatalf("End: %v", err)
	}
	if readFile(t, filepath.Join(loc.Original, "remote", realID, "new.sav")) != "y" {
		t.Errorf("sync back did not restore the original id")
	}
	if _, err := os.Stat(filepath.Join(loc.Original, "remote", steamID("Alice"))); err == nil {
		t.Errorf("emulated id leaked into the original location")
	}
	entries, _ := os.ReadDir(filepath.Join(tmp, "backups"))
	if len(entries) != 2 {
		t.Errorf("expected a backup at start and at end, got %d", len(entries))
	}
}

func TestSyncBackFirstRunWithoutID(t *testing.T) {
	tmp := t.TempDir()
	loc := &Location{Original: filepath.Join(tmp, "orig"), Area: AreaHome, Rel: "save"}
	parts := participants(tmp, ".g", "Bob", "Carol")
	bobFile := filepath.Join(loc.In(parts[1].Paths), "remote", steamID("Bob"), "s.sav")
	writeFile(t, bobFile, "bob")
	writeFile(t, filepath.Join(loc.In(parts[2].Paths), "c.sav"), "carol")

	s := New(Options{Location: loc, Remap: true, SyncBack: true, BackupDir: filepath.Join(tmp, "b")})
	if err := s.End(parts); err != nil {
		t.Fatal(err)
	}
	if readFile(t, filepath.Join(loc.Original, "remote", steamID("Bob"), "s.sav")) != "bob" {
		t.Errorf("first named participant not synced verbatim")
	}
	if _, err := os.Stat(filepath.Join(loc.Original, "c.sav")); err == nil {
		t.Errorf("only one profile should be synced back")
	}
}

func TestNoSyncBackWhenMasterAbsent(t *testing.T) {
	tmp := t.TempDir()
	loc := &Location{Original: filepath.Join(tmp, "orig"), Area: AreaHome, Rel: "save"}
	writeFile(t, filepath.Join(loc.Original, "keep.sav"), "orig")
	parts := participants(tmp, "Bob")
	writeFile(t, filepath.Join(loc.In(parts[0].Paths), "bob.sav"), "bob")

	s := New(Options{Location: loc, SyncBack: true, Master: "Alice", MasterPaths: profilePaths(tmp, "Alice"), BackupDir: filepath.Join(tmp, "b")})
	if err := s.End(parts); err != nil {
		t.Fatal(err)
	}
	if readFile(t, filepath.Join(loc.Original, "keep.sav")) != "orig" {
		t.Errorf("original touched although the master did not play")
	}
}

func TestBackupPrune(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	writeFile(t, filepath.Join(src, "f"), "data")

	s := New(Options{Location: &Location{}, BackupDir: filepath.Join(tmp, "b")})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	for i := 0; i < 7; i++ {
		if err := s.backup(map[string]string{"original": src}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(tmp, "b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != DefaultKeep {
		t.Fatalf("expected %d backups, got %d", DefaultKeep, len(entries))
	}
	if entries[0].Name() != "20260101T000300.000000000" {
		t.Errorf("oldest backups not pruned first, oldest kept %s", entries[0].Name())
	}
	if readFile(t, filepath.Join(tmp, "b", entries[0].Name(), "original", "f")) != "data" {
		t.Errorf("backup content missing")
	}
}
