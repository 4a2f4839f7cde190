// Package disk manages splitux's local storage and provides the tree copy
// helpers shared by backends and save synchronization.
package disk

import (
	"log/slog"
	"os"
	"sort"

	"splitux/pkg/config"
)

// manager defines the internal state for managing splitux's local storage.
type manager struct {
	cfg config.ReadOnly
}

// Manager is a pointer to the internal manager implementation.
type Manager = *manager

// NewManager creates a new disk manager with the specified configuration.
func NewManager(cfg config.ReadOnly) Manager {
	return &manager{cfg: cfg}
}

// Usage represents disk usage information for a specific category of data.
type Usage struct {
	Label string
	Size  int64
	Items int
	Path  string
}

// GetInfo returns the usage of every storage area, sorted by label.
func (m *manager) GetInfo() ([]Usage, int64) {
	paths := map[string]string{
		"Profiles":  m.cfg.GetProfilesDir(),
		"Staging":   m.cfg.GetStagingDir(),
		"Backups":   m.cfg.GetBackupDir(),
		"Downloads": m.cfg.GetDownloadDir(),
		"Packages":  m.cfg.GetPkgDir(),
	}
	var total int64
	var stats []Usage
	for label, path := range paths {
		size, count := DirSize(path)
		total += size
		stats = append(stats, Usage{
			Label: label,
			Size:  size,
			Items: count,
			Path:  path,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Label < stats[j].Label })
	return stats, total
}

// Clean empties the package caches. Profiles and backups are never touched.
func (m *manager) Clean() []string {
	dirs := []string{
		m.cfg.GetPkgDir(),
		m.cfg.GetDownloadDir(),
	}
	var cleaned []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			slog.Info("Cleaning", "path", dir)
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("Clean failed", "path", dir, "error", err)
				continue
			}
			os.MkdirAll(dir, 0755)
			cleaned = append(cleaned, dir)
		}
	}
	return cleaned
}
