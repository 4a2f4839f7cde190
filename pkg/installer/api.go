// Package installer places mod packages in the on-disk package cache.
// Entries are content-addressed by package id and version, so a second launch
// with the same plugin set never touches the network.
package installer

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"splitux/pkg/config"
	"splitux/pkg/display"
	"splitux/pkg/downloader"
)

// Package is one downloadable package version.
type Package struct {
	// ID is the repository id, e.g. "BepInEx-BepInExPack".
	ID      string
	Version string
	URL     string
	// Prefix selects a sub directory of the archive.
	Prefix string
}

// Key returns the cache key of the package version.
func (p Package) Key() string {
	sum := blake3.Sum256([]byte(p.ID + "@" + p.Version))
	return hex.EncodeToString(sum[:16])
}

// Plan contains the resolved paths of one installation.
type Plan struct {
	Package Package
	// DownloadPath is where the archive is kept.
	DownloadPath string
	// InstallPath is the final extracted directory.
	InstallPath string
}

// Stage represents a single step of the installation pipeline.
type Stage func(ctx context.Context, plan *Plan) error

// NewPlan computes the cache paths for pkg.
func NewPlan(cfg config.ReadOnly, pkg Package) (*Plan, error) {
	if pkg.ID == "" || pkg.Version == "" {
		return nil, fmt.Errorf("package id and version are required")
	}
	if err := os.MkdirAll(cfg.GetDownloadDir(), 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.GetPkgDir(), 0755); err != nil {
		return nil, err
	}

	key := pkg.Key()
	return &Plan{
		Package:      pkg,
		DownloadPath: filepath.Join(cfg.GetDownloadDir(), key+".pkg"),
		InstallPath:  filepath.Join(cfg.GetPkgDir(), fmt.Sprintf("%s-%s-%s", pkg.ID, pkg.Version, key[:12])),
	}, nil
}

// Installer runs plans against a downloader and reports on a display.
type installer struct {
	dl   downloader.Downloader
	disp display.Display
}

type Installer = *installer

func New(dl downloader.Downloader, disp display.Display) Installer {
	return &installer{dl: dl, disp: disp}
}
