package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Lock takes a pid lock on target by creating target + ".lock".
//
// A held lock whose owner is still alive is waited on until ctx is done. A
// lock left behind by a dead process, or one that cannot be parsed, is
// removed and taken over. The returned function releases the lock.
func Lock(ctx context.Context, target string) (func() error, error) {
	lockFile := target + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	for {
		f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				os.Remove(lockFile)
				return nil, fmt.Errorf("failed to write to lock file: %w", err)
			}
			f.Close()
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		owner, err := lockOwner(lockFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			// An empty file may be a lock being written right now.
			if st, serr := os.Stat(lockFile); serr == nil && time.Since(st.ModTime()) < time.Second {
				break
			}
			os.Remove(lockFile)
			continue
		case !isPidAlive(owner):
			os.Remove(lockFile)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s held by pid %d: %w", lockFile, owner, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// lockOwner reads the pid from a "<timestamp> <pid>" lock file.
func lockOwner(lockFile string) (int, error) {
	content, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}
	parts := strings.Fields(string(content))
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed lock file %s", lockFile)
	}
	return strconv.Atoi(parts[len(parts)-1])
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}

	// EPERM: exists but belongs to someone else.
	return true
}
