// Package profile manages durable per-player data: game saves, a synthetic
// home directory and a synthetic Windows user directory.
//
//	<profiles>/<name>/
//	    home/                      HOME for native games
//	    windata/                   bound over the prefix user directory
//	        AppData/{Local,LocalLow,Roaming}
//	        Documents
//	    game/<handler>/upper       overlay upper layer (game-dir saves)
//	    game/<handler>/work        overlay work dir
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"splitux/pkg/config"
	"splitux/pkg/instance"
	"splitux/pkg/jsonstore"
)

// Settings is the persisted settings document.
type Settings struct {
	Master string `json:"master,omitempty"`
}

// Paths are the directories of one profile for one handler.
type Paths struct {
	Root      string
	Home      string
	WinData   string
	GameUpper string
	GameWork  string
}

// WinDataDirs are created inside every synthetic Windows user directory.
var WinDataDirs = []string{
	filepath.Join("AppData", "Local"),
	filepath.Join("AppData", "LocalLow"),
	filepath.Join("AppData", "Roaming"),
	"Documents",
}

type manager struct {
	root     string
	settings jsonstore.Store[Settings]
}

// Manager owns the profile directory tree and the master profile setting.
type Manager = *manager

func NewManager(cfg config.ReadOnly) Manager {
	return &manager{
		root:     cfg.GetProfilesDir(),
		settings: jsonstore.New[Settings](cfg.GetSettingsPath()),
	}
}

// Paths returns the directories for name and handler without creating them.
func (m *manager) Paths(name, handler string) Paths {
	root := filepath.Join(m.root, name)
	game := filepath.Join(root, "game", handler)
	return Paths{
		Root:      root,
		Home:      filepath.Join(root, "home"),
		WinData:   filepath.Join(root, "windata"),
		GameUpper: filepath.Join(game, "upper"),
		GameWork:  filepath.Join(game, "work"),
	}
}

// Ensure creates the profile directories on first use.
func (m *manager) Ensure(name, handler string) (Paths, error) {
	if err := checkName(name); err != nil {
		return Paths{}, err
	}
	p := m.Paths(name, handler)
	dirs := []string{p.Home, p.GameUpper, p.GameWork}
	for _, d := range WinDataDirs {
		dirs = append(dirs, filepath.Join(p.WinData, d))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return Paths{}, fmt.Errorf("create profile %s: %w", name, err)
		}
	}
	return p, nil
}

// ResetWork empties the overlay work dir, which must not carry state from a
// previous mount.
func (m *manager) ResetWork(name, handler string) error {
	p := m.Paths(name, handler)
	if err := os.RemoveAll(p.GameWork); err != nil {
		return err
	}
	return os.MkdirAll(p.GameWork, 0755)
}

// RemoveGuest deletes a guest profile's data. Named profiles are refused.
func (m *manager) RemoveGuest(name string) error {
	if !instance.IsGuest(name) {
		return fmt.Errorf("refusing to remove named profile %q", name)
	}
	if err := checkName(name); err != nil {
		return err
	}
	slog.Debug("Removing guest profile", "profile", name)
	return os.RemoveAll(filepath.Join(m.root, name))
}

// List returns the named profiles on disk, sorted.
func (m *manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !instance.IsGuest(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Master returns the configured master profile, or "".
func (m *manager) Master() (string, error) {
	s, err := m.settings.Get()
	if err != nil {
		return "", err
	}
	return s.Master, nil
}

// SetMaster designates name as the master profile. Guests cannot be master.
func (m *manager) SetMaster(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if instance.IsGuest(name) {
		return fmt.Errorf("guest profile %q cannot be the master", name)
	}
	return m.settings.Update(func(s *Settings) error {
		s.Master = name
		return nil
	})
}

// ClearMaster removes the master designation.
func (m *manager) ClearMaster() error {
	return m.settings.Update(func(s *Settings) error {
		s.Master = ""
		return nil
	})
}

func checkName(name string) error {
	if name == "" || name == instance.GuestPrefix || strings.HasPrefix(name, "..") || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}
