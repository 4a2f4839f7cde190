package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"splitux/pkg/archive"
	"splitux/pkg/cache"
	"splitux/pkg/display"
)

// downloadStage fetches the archive unless it is already cached.
func (in *installer) downloadStage(task display.Task) Stage {
	return func(ctx context.Context, plan *Plan) error {
		task.SetStage("Download", plan.Package.URL)
		slog.Debug("Downloading package", "url", plan.Package.URL, "path", plan.DownloadPath)

		return cache.Ensure(ctx, plan.DownloadPath, func() error {
			part := plan.DownloadPath + ".part"
			f, err := os.Create(part)
			if err != nil {
				return err
			}
			if err := in.dl.Download(ctx, plan.Package.URL, f, task); err != nil {
				f.Close()
				os.Remove(part)
				return err
			}
			if err := f.Close(); err != nil {
				os.Remove(part)
				return err
			}
			return os.Rename(part, plan.DownloadPath)
		})
	}
}

// extractStage unpacks into a temporary directory and renames it in place.
func (in *installer) extractStage(task display.Task) Stage {
	return func(ctx context.Context, plan *Plan) error {
		task.SetStage("Extract", plan.InstallPath)
		return cache.Ensure(ctx, plan.InstallPath, func() error {
			tmpDir := plan.InstallPath + ".tmp"
			if err := os.RemoveAll(tmpDir); err != nil {
				return err
			}
			if err := os.MkdirAll(tmpDir, 0755); err != nil {
				return err
			}
			defer os.RemoveAll(tmpDir)

			if err := archive.Extract(plan.DownloadPath, tmpDir, archive.Options{Prefix: plan.Package.Prefix}); err != nil {
				return err
			}
			return os.Rename(tmpDir, plan.InstallPath)
		})
	}
}

// Install downloads and extracts plan unless InstallPath already exists.
func (in *installer) Install(ctx context.Context, plan *Plan) error {
	if _, err := os.Stat(plan.InstallPath); err == nil {
		slog.Debug("Package already installed", "path", plan.InstallPath)
		return nil
	}

	task := in.disp.StartTask(plan.Package.ID)
	defer task.Done()

	stages := []struct {
		name  string
		stage Stage
	}{
		{"download", in.downloadStage(task)},
		{"extract", in.extractStage(task)},
	}
	for _, s := range stages {
		if err := s.stage(ctx, plan); err != nil {
			return fmt.Errorf("%s stage failed for %s: %w", s.name, plan.Package.ID, err)
		}
	}

	slog.Info("Installed package", "package", plan.Package.ID, "version", plan.Package.Version)
	return nil
}
