// Package devices controls which input device nodes an instance can see.
//
// The sandbox binds the host root, so every /dev/input node is visible by
// default. Nodes not assigned to the instance are hidden by binding /dev/null
// over them. The host's device set changes with hot-plug, so the hiding
// arguments are computed immediately before spawn, not when the plan is
// built.
package devices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// DefaultPattern matches the evdev nodes games read controllers from.
const DefaultPattern = "/dev/input/event*"

// DefaultWait bounds how long a virtual device may take to appear.
const DefaultWait = 5 * time.Second

// Enumerator lists the input device nodes currently present.
type Enumerator interface {
	List() ([]string, error)
}

// GlobEnumerator lists nodes matching Pattern.
type GlobEnumerator struct {
	Pattern string
}

func (g GlobEnumerator) List() ([]string, error) {
	pattern := g.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

// BlockArgs returns bwrap arguments hiding every present node that is not
// in allowed.
func BlockArgs(present, allowed []string) []string {
	var args []string
	for _, p := range present {
		if slices.Contains(allowed, p) {
			continue
		}
		args = append(args, "--bind", "/dev/null", p)
	}
	return args
}

// Blocker computes BlockArgs against a live enumeration.
type Blocker struct {
	Enum Enumerator
}

// Args enumerates now and hides everything outside allowed.
func (b Blocker) Args(allowed []string) ([]string, error) {
	present, err := b.Enum.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate input devices: %w", err)
	}
	return BlockArgs(present, allowed), nil
}

// WaitForPath polls until path exists, ctx ends or timeout passes.
func WaitForPath(ctx context.Context, path string, timeout time.Duration) error {
	const interval = 50 * time.Millisecond

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("device %s did not appear within %v", path, timeout)
		case <-tick.C:
		}
	}
}
