// Package config manages the well-known directories and host tool locations
// used by splitux. It follows XDG specifications for data, cache, state and
// configuration, and lets every location be overridden from the environment.
//
// The record is built once at startup and passed to every component; nothing
// in splitux reads process-wide path state on its own.
package config

import (
	"fmt"
	"os/user"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
)

// DefaultModRepo is the mod repository used by the generic plugin backend.
const DefaultModRepo = "https://thunderstore.io"

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetDataDir() string
	GetCacheDir() string
	GetStateDir() string
	GetConfigDir() string

	GetProfilesDir() string
	GetStagingDir() string
	GetBackupDir() string
	GetDownloadDir() string
	GetPkgDir() string
	GetAssetsDir() string
	GetSettingsPath() string

	GetUser() string
	GetHostHome() string
	GetSteamRoot() string
	GetModRepo() string

	GetTools() Tools
}

// Tools holds the host binaries the launch pipeline shells out to.
type Tools struct {
	Gamescope     string `env:"SPLITUX_GAMESCOPE"      envDefault:"gamescope"`
	Bwrap         string `env:"SPLITUX_BWRAP"          envDefault:"bwrap"`
	FuseOverlayfs string `env:"SPLITUX_FUSE_OVERLAYFS" envDefault:"fuse-overlayfs"`
	Fusermount    string `env:"SPLITUX_FUSERMOUNT"     envDefault:"fusermount3"`
	Pactl         string `env:"SPLITUX_PACTL"          envDefault:"pactl"`
	// Proton is a direct path to a proton script. When empty the managed
	// wrapper (Umu) is used instead.
	Proton string `env:"SPLITUX_PROTON"`
	Umu    string `env:"SPLITUX_UMU" envDefault:"umu-run"`
}

// Paths holds the base directories. Derived directories are computed from it.
type Paths struct {
	DataDir   string `env:"SPLITUX_DATA_DIR"`
	CacheDir  string `env:"SPLITUX_CACHE_DIR"`
	StateDir  string `env:"SPLITUX_STATE_DIR"`
	ConfigDir string `env:"SPLITUX_CONFIG_DIR"`
	AssetsDir string `env:"SPLITUX_ASSETS_DIR"`
	SteamRoot string `env:"SPLITUX_STEAM_ROOT"`
	ModRepo   string `env:"SPLITUX_MOD_REPO"`
}

type overrides struct {
	Paths
	Tools
}

// Config holds the base directories and system info for splitux.
// Immutable after New/Init returns.
type Config struct {
	paths Paths
	tools Tools

	profilesDir  string
	stagingDir   string
	backupDir    string
	downloadDir  string
	pkgDir       string
	settingsPath string

	user     string
	hostHome string
}

var _ ReadOnly = (*Config)(nil)

func (c *Config) GetDataDir() string      { return c.paths.DataDir }
func (c *Config) GetCacheDir() string     { return c.paths.CacheDir }
func (c *Config) GetStateDir() string     { return c.paths.StateDir }
func (c *Config) GetConfigDir() string    { return c.paths.ConfigDir }
func (c *Config) GetProfilesDir() string  { return c.profilesDir }
func (c *Config) GetStagingDir() string   { return c.stagingDir }
func (c *Config) GetBackupDir() string    { return c.backupDir }
func (c *Config) GetDownloadDir() string  { return c.downloadDir }
func (c *Config) GetPkgDir() string       { return c.pkgDir }
func (c *Config) GetAssetsDir() string    { return c.paths.AssetsDir }
func (c *Config) GetSettingsPath() string { return c.settingsPath }
func (c *Config) GetUser() string         { return c.user }
func (c *Config) GetHostHome() string     { return c.hostHome }
func (c *Config) GetSteamRoot() string    { return c.paths.SteamRoot }
func (c *Config) GetModRepo() string      { return c.paths.ModRepo }
func (c *Config) GetTools() Tools         { return c.tools }

func (c *Config) updateDerived() {
	c.profilesDir = filepath.Join(c.paths.DataDir, "profiles")
	c.stagingDir = filepath.Join(c.paths.CacheDir, "staging")
	c.backupDir = filepath.Join(c.paths.StateDir, "backups")
	c.downloadDir = filepath.Join(c.paths.CacheDir, "downloads")
	c.pkgDir = filepath.Join(c.paths.CacheDir, "pkgs")
	c.settingsPath = filepath.Join(c.paths.ConfigDir, "settings.json")
}

// New builds a Config from explicit paths. Empty tool fields fall back to the
// binary names on PATH. Tests use this with temporary directories.
func New(p Paths, t Tools, username, home string) *Config {
	if p.ModRepo == "" {
		p.ModRepo = DefaultModRepo
	}
	if p.AssetsDir == "" {
		p.AssetsDir = filepath.Join(p.DataDir, "assets")
	}
	if p.SteamRoot == "" && home != "" {
		p.SteamRoot = filepath.Join(home, ".local", "share", "Steam")
	}
	defaults := Tools{
		Gamescope:     "gamescope",
		Bwrap:         "bwrap",
		FuseOverlayfs: "fuse-overlayfs",
		Fusermount:    "fusermount3",
		Pactl:         "pactl",
		Umu:           "umu-run",
	}
	fillTool(&t.Gamescope, defaults.Gamescope)
	fillTool(&t.Bwrap, defaults.Bwrap)
	fillTool(&t.FuseOverlayfs, defaults.FuseOverlayfs)
	fillTool(&t.Fusermount, defaults.Fusermount)
	fillTool(&t.Pactl, defaults.Pactl)
	fillTool(&t.Umu, defaults.Umu)

	c := &Config{
		paths:    p,
		tools:    t,
		user:     username,
		hostHome: home,
	}
	c.updateDerived()
	return c
}

func fillTool(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// Init initializes the configuration using XDG base directories, then applies
// SPLITUX_* environment overrides.
func Init() (ReadOnly, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	var o overrides
	if err := env.Parse(&o); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if o.DataDir == "" {
		o.DataDir = filepath.Join(xdg.DataHome, "splitux")
	}
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(xdg.CacheHome, "splitux")
	}
	if o.StateDir == "" {
		o.StateDir = filepath.Join(xdg.StateHome, "splitux")
	}
	if o.ConfigDir == "" {
		o.ConfigDir = filepath.Join(xdg.ConfigHome, "splitux")
	}

	return New(o.Paths, o.Tools, u.Username, u.HomeDir), nil
}
