// Package handler describes how one game is launched: its executable, its
// arguments, the multiplayer backends it needs and how its saves are synced.
//
// A handler is a YAML file living in its own directory. The directory may also
// carry a static overlay tree that is stacked over the game directory.
package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Linux runtime containers a native game may ask for.
const (
	RuntimeScout   = "scout"
	RuntimeSoldier = "soldier"
)

// SDL2 library override choices.
const (
	SDL2Bundled = "bundled"
	SDL2System  = "system"
)

// Handler is the declaration of one game.
type Handler struct {
	Name string `yaml:"name"`

	// GameDir is the installation directory. Relative paths are resolved
	// against the handler directory.
	GameDir string `yaml:"game_dir"`
	// Exec is the executable path relative to GameDir.
	Exec string `yaml:"exec"`
	// Args may contain placeholder tokens, see command.Substitute.
	Args string `yaml:"args"`

	Win        bool   `yaml:"win"`
	SteamAppID string `yaml:"steam_appid"`
	ProtonPath string `yaml:"proton_path"`
	Runtime    string `yaml:"runtime"`

	DisableSandbox bool              `yaml:"disable_sandbox"`
	InputHold      bool              `yaml:"input_hold"`
	SDL2Override   string            `yaml:"sdl2_override"`
	Env            map[string]string `yaml:"env"`

	// Patches maps a file relative to GameDir to the keys rewritten in it.
	Patches   map[string]map[string]string `yaml:"game_patches"`
	NullPaths []string                     `yaml:"game_null_paths"`
	// Overlay is a static directory relative to the handler directory.
	Overlay string `yaml:"overlay"`

	Save Save `yaml:"save"`

	Goldberg  *Goldberg  `yaml:"goldberg"`
	EOS       *EOS       `yaml:"eos"`
	Photon    *Photon    `yaml:"photon"`
	Facepunch *Facepunch `yaml:"facepunch"`
	Plugins   *Plugins   `yaml:"plugins"`

	dir string
}

// Save is the original save location and its sync policy.
type Save struct {
	Path         string `yaml:"path"`
	SteamIDRemap bool   `yaml:"steam_id_remap"`
	SyncBack     bool   `yaml:"sync_back"`
}

// Goldberg enables Steam networking emulation.
type Goldberg struct {
	// Settings are extra [main::general] entries for configs.main.ini.
	Settings map[string]string `yaml:"settings"`
	// DisableLAN turns off LAN-only networking in the emulator.
	DisableLAN bool `yaml:"disable_lan"`
}

// EOS enables Epic Online Services emulation.
type EOS struct {
	AppID string `yaml:"appid"`
}

// Photon installs BepInEx and writes a per-instance networking config for a
// Photon LAN mod.
type Photon struct {
	// ConfigPath is where the per-instance config lands, relative to the
	// profile's user directory: the Windows user directory for Windows
	// builds, the profile home otherwise.
	ConfigPath string `yaml:"config_path"`
	// Template is an optional JSON document the instance keys are merged into.
	Template string `yaml:"template"`
	// SharedFiles are paths relative to the user directory that all
	// instances see as one file.
	SharedFiles []string `yaml:"shared_files"`
}

// Facepunch installs BepInEx with the identity patching plugin.
type Facepunch struct {
	SpoofIdentity  bool           `yaml:"spoof_identity"`
	ForceValid     bool           `yaml:"force_valid"`
	BypassChecks   bool           `yaml:"bypass_checks"`
	RuntimePatches []RuntimePatch `yaml:"runtime_patches"`
}

// RuntimePatch asks the identity plugin to alter one member at runtime.
// Exactly one of Method or Property is set.
type RuntimePatch struct {
	Class    string `yaml:"class"`
	Method   string `yaml:"method"`
	Property string `yaml:"property"`
	Action   string `yaml:"action"`
}

// Actions understood by the identity plugin.
var RuntimePatchActions = []string{
	"skip",
	"return_true",
	"return_false",
	"return_null",
	"return_default",
	"log",
}

// Plugins installs a mod loader and plugin packages from a mod repository.
type Plugins struct {
	// Community scopes version lookups, e.g. "lethal-company".
	Community string       `yaml:"community"`
	Loader    PackageRef   `yaml:"loader"`
	Packages  []PackageRef `yaml:"packages"`
}

// PackageRef names one repository package. An empty Version means latest.
type PackageRef struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
}

func (p PackageRef) String() string {
	if p.Version == "" {
		return p.Namespace + "-" + p.Name
	}
	return p.Namespace + "-" + p.Name + "-" + p.Version
}

// Load reads a handler file. The handler directory is the file's directory.
func Load(path string) (*Handler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler: %w", err)
	}
	h, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.Name == "" {
		h.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return h, nil
}

// Parse decodes handler YAML. dir is used for relative paths.
func Parse(data []byte, dir string) (*Handler, error) {
	var h Handler
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse handler: %w", err)
	}
	h.dir = dir
	if h.GameDir != "" && !filepath.IsAbs(h.GameDir) {
		h.GameDir = filepath.Join(dir, h.GameDir)
	}
	return &h, nil
}

// Dir returns the handler directory.
func (h *Handler) Dir() string { return h.dir }

// ExecPath returns the executable path below root (a game or mounted dir).
func (h *Handler) ExecPath(root string) string {
	return filepath.Join(root, filepath.Clean("/"+h.Exec))
}

// OverlayDir returns the static overlay directory, or "" when the handler
// has none or it does not exist.
func (h *Handler) OverlayDir() string {
	if h.Overlay == "" {
		return ""
	}
	p := filepath.Join(h.dir, filepath.Clean("/"+h.Overlay))
	if st, err := os.Stat(p); err != nil || !st.IsDir() {
		return ""
	}
	return p
}
