// Package overlay composes and mounts the per-instance union view of a game
// directory with fuse-overlayfs.
//
// Each instance gets one mount. Reads come from the lower stack, writes land
// in the instance profile's save area for the game:
//
//	lower (highest first): patches, backend overlays, handler overlay, game dir
//	upper:                 profiles/<name>/game/<handler>/upper
//	merged:                <staging>/<session>/instance-<i>/merged
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"splitux/pkg/backend"
	"splitux/pkg/common"
	"splitux/pkg/config"
)

// fuseSuperMagic is the statfs type of a mounted FUSE filesystem.
const fuseSuperMagic = 0x65735546

// Compose returns the lower directory stack, highest first. patches and
// handlerDir are skipped when empty or missing; the game dir is always last.
func Compose(patches string, overlays []backend.Overlay, handlerDir, gameDir string) []string {
	var lower []string
	if patches != "" {
		lower = append(lower, patches)
	}
	sorted := slices.Clone(overlays)
	backend.SortOverlays(sorted)
	for _, o := range sorted {
		lower = append(lower, o.Dir)
	}
	if handlerDir != "" {
		if st, err := os.Stat(handlerDir); err == nil && st.IsDir() {
			lower = append(lower, handlerDir)
		}
	}
	return append(lower, gameDir)
}

// Mount is one instance's union mount.
type Mount struct {
	Lower  []string
	Upper  string
	Work   string
	Merged string
}

// validatePath rejects characters that would corrupt fuse-overlayfs options.
// Commas separate options and cannot be escaped.
func validatePath(path, field string) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", field)
	}
	if strings.Contains(path, ",") {
		return fmt.Errorf("%s path %q contains a comma", field, path)
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("%s path %q contains invalid characters", field, path)
	}
	return nil
}

// Options renders the -o argument for fuse-overlayfs.
func (m *Mount) Options() (string, error) {
	if len(m.Lower) == 0 {
		return "", fmt.Errorf("no lower directories")
	}
	for _, l := range m.Lower {
		if err := validatePath(l, "lower"); err != nil {
			return "", err
		}
		// Lower directories are colon separated.
		if strings.Contains(l, ":") {
			return "", fmt.Errorf("lower path %q contains a colon", l)
		}
	}
	if err := validatePath(m.Upper, "upper"); err != nil {
		return "", err
	}
	if err := validatePath(m.Work, "work"); err != nil {
		return "", err
	}
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(m.Lower, ":"), m.Upper, m.Work), nil
}

type manager struct {
	fuseBin       string
	fusermountBin string
	runner        common.Runner
	// ready blocks until path is a live FUSE mount.
	ready func(ctx context.Context, path string) error

	mu     sync.Mutex
	mounts []*Mount
}

// Manager tracks the mounts it created so teardown can release them.
type Manager = *manager

func NewManager(cfg config.ReadOnly, runner common.Runner) Manager {
	t := cfg.GetTools()
	return &manager{
		fuseBin:       t.FuseOverlayfs,
		fusermountBin: t.Fusermount,
		runner:        runner,
		ready:         waitForMount,
	}
}

// Mount creates the directories and mounts mnt. The upper and work dirs must
// be on the same filesystem.
func (m *manager) Mount(ctx context.Context, mnt *Mount) error {
	opts, err := mnt.Options()
	if err != nil {
		return err
	}
	if err := validatePath(mnt.Merged, "merged"); err != nil {
		return err
	}
	for _, l := range mnt.Lower {
		if _, err := os.Stat(l); err != nil {
			return fmt.Errorf("lower directory: %w", err)
		}
	}
	if err := os.MkdirAll(mnt.Upper, 0755); err != nil {
		return err
	}
	for _, dir := range []string{mnt.Work, mnt.Merged} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create overlay directory %s: %w", dir, err)
		}
	}

	if _, err := m.runner.Run(ctx, m.fuseBin, "-o", opts, mnt.Merged); err != nil {
		return fmt.Errorf("fuse-overlayfs: %w", err)
	}
	if err := m.ready(ctx, mnt.Merged); err != nil {
		m.runner.Run(context.Background(), m.fusermountBin, "-u", mnt.Merged)
		return fmt.Errorf("overlay mount not ready: %w", err)
	}

	m.mu.Lock()
	m.mounts = append(m.mounts, mnt)
	m.mu.Unlock()
	slog.Debug("Mounted overlay", "merged", mnt.Merged, "layers", len(mnt.Lower))
	return nil
}

// Unmount releases mnt, falling back to a lazy unmount when the filesystem
// is still busy.
func (m *manager) Unmount(ctx context.Context, mnt *Mount) error {
	m.mu.Lock()
	m.mounts = slices.DeleteFunc(m.mounts, func(x *Mount) bool { return x == mnt })
	m.mu.Unlock()

	_, err := m.runner.Run(ctx, m.fusermountBin, "-u", mnt.Merged)
	if err == nil {
		return nil
	}
	if _, err2 := m.runner.Run(ctx, m.fusermountBin, "-u", "-z", mnt.Merged); err2 == nil {
		return nil
	}
	if err3 := unix.Unmount(mnt.Merged, unix.MNT_DETACH); err3 != nil {
		return fmt.Errorf("unmount %s: %w", mnt.Merged, errors.Join(err, err3))
	}
	return nil
}

// Cleanup unmounts everything still mounted, newest first.
func (m *manager) Cleanup(ctx context.Context) []error {
	m.mu.Lock()
	pending := slices.Clone(m.mounts)
	m.mu.Unlock()

	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		if err := m.Unmount(ctx, pending[i]); err != nil {
			slog.Warn("Failed to unmount overlay", "merged", pending[i].Merged, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Active returns the number of live mounts.
func (m *manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mounts)
}

// waitForMount polls until path reports the FUSE filesystem type, so the
// sandbox never binds the bare directory underneath.
func waitForMount(ctx context.Context, path string) error {
	const maxAttempts = 50
	const interval = 20 * time.Millisecond

	for i := 0; i < maxAttempts; i++ {
		var st unix.Statfs_t
		if err := unix.Statfs(path, &st); err == nil && st.Type == fuseSuperMagic {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("timeout waiting for FUSE mount at %s (waited %v)", path, maxAttempts*interval)
}
