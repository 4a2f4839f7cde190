// Package cache guards on-disk cache entries shared by concurrent splitux
// processes, such as extracted mod packages.
package cache

import (
	"context"
	"os"
)

// Ensure makes sure target exists, running fn under a lock if it does not.
// fn must create target atomically (e.g. extract elsewhere, then rename) so a
// crash never leaves a half-built entry behind.
func Ensure(ctx context.Context, target string, fn func() error) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	unlock, err := Lock(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	// Another process may have finished it while we waited.
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	return fn()
}
