// Package audio gives each instance its own PulseAudio (or PipeWire-pulse)
// output. An instance assigned a device gets a null sink plus a loopback from
// the sink's monitor to the device; the mute sentinel gets the null sink
// alone; an unassigned instance uses the system default and owns nothing.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"splitux/pkg/common"
	"splitux/pkg/config"
	"splitux/pkg/instance"
)

// Loopback routes a sink's monitor to a real output device.
type Loopback struct {
	Module string
	Target string
}

// Sink is an instance's virtual output and the module handles needed to
// destroy it. The zero Sink is the system default.
type Sink struct {
	Name      string
	Module    string
	Loopbacks []Loopback
}

// Default reports whether the sink is the system default output.
func (s *Sink) Default() bool { return s == nil || s.Name == "" }

// Env returns the variables that point a process at the sink.
func (s *Sink) Env() map[string]string {
	if s.Default() {
		return nil
	}
	return map[string]string{"PULSE_SINK": s.Name}
}

type manager struct {
	pactl  string
	runner common.Runner

	mu    sync.Mutex
	sinks []*Sink
}

// Manager creates sinks and tracks them until they are destroyed.
type Manager = *manager

func NewManager(cfg config.ReadOnly, runner common.Runner) Manager {
	return &manager{pactl: cfg.GetTools().Pactl, runner: runner}
}

// SinkName is the null sink name for one instance of a session.
func SinkName(session string, index int) string {
	if len(session) > 8 {
		session = session[:8]
	}
	return fmt.Sprintf("splitux_%s_%d", session, index)
}

// Create sets up the output for assignment. name is the null sink name.
func (m *manager) Create(ctx context.Context, name, assignment string) (*Sink, error) {
	assignment = strings.TrimSpace(assignment)
	if assignment == "" {
		return &Sink{}, nil
	}

	module, err := m.load(ctx, "module-null-sink",
		"sink_name="+name,
		"sink_properties=device.description="+name)
	if err != nil {
		return nil, fmt.Errorf("create null sink %s: %w", name, err)
	}
	s := &Sink{Name: name, Module: module}

	if assignment != instance.MuteSink {
		lb, err := m.load(ctx, "module-loopback",
			"source="+name+".monitor",
			"sink="+assignment,
			"latency_msec=30")
		if err != nil {
			if _, uerr := m.runner.Run(context.Background(), m.pactl, "unload-module", module); uerr != nil {
				err = errors.Join(err, uerr)
			}
			return nil, fmt.Errorf("route %s to %s: %w", name, assignment, err)
		}
		s.Loopbacks = append(s.Loopbacks, Loopback{Module: lb, Target: assignment})
	}

	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
	slog.Debug("Created audio sink", "sink", name, "loopbacks", len(s.Loopbacks))
	return s, nil
}

func (m *manager) load(ctx context.Context, module string, args ...string) (string, error) {
	out, err := m.runner.Run(ctx, m.pactl, append([]string{"load-module", module}, args...)...)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("pactl returned no module index")
	}
	return id, nil
}

// Destroy unloads the loopbacks, then the sink. Every module is attempted.
func (m *manager) Destroy(ctx context.Context, s *Sink) error {
	if s.Default() {
		return nil
	}
	m.mu.Lock()
	m.sinks = slices.DeleteFunc(m.sinks, func(x *Sink) bool { return x == s })
	m.mu.Unlock()

	var errs []error
	for _, lb := range s.Loopbacks {
		if _, err := m.runner.Run(ctx, m.pactl, "unload-module", lb.Module); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := m.runner.Run(ctx, m.pactl, "unload-module", s.Module); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DestroyAll destroys every sink still tracked.
func (m *manager) DestroyAll(ctx context.Context) []error {
	m.mu.Lock()
	pending := slices.Clone(m.sinks)
	m.mu.Unlock()

	var errs []error
	for _, s := range pending {
		if err := m.Destroy(ctx, s); err != nil {
			slog.Warn("Failed to destroy audio sink", "sink", s.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
