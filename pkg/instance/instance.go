// Package instance holds the per-launch roster: which profile, input devices,
// monitor, resolution and audio output each game instance gets.
package instance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GuestPrefix marks an ephemeral guest profile name.
const GuestPrefix = "."

// MuteSink as an audio assignment creates an output routed nowhere.
const MuteSink = "@mute"

// Instance is one game process of a session.
type Instance struct {
	Index   int    `yaml:"-"`
	Profile string `yaml:"profile"`
	// Devices index into Roster.InputDevices.
	Devices []int `yaml:"devices"`
	// Monitor indexes Roster.Monitors.
	Monitor int `yaml:"monitor"`
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	// X and Y position the window within its monitor.
	X int `yaml:"x"`
	Y int `yaml:"y"`
	// Audio is a sink name, MuteSink, or empty for the system default.
	Audio string `yaml:"audio"`
}

// IsGuest reports whether the profile is a guest profile.
func (i Instance) IsGuest() bool {
	return IsGuest(i.Profile)
}

// IsGuest reports whether name denotes a guest profile.
func IsGuest(name string) bool {
	return strings.HasPrefix(name, GuestPrefix)
}

// Resolution returns "WxH".
func (i Instance) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// InputDevice is an input node known when the roster was made.
type InputDevice struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Monitor is a display output known when the roster was made. X and Y are
// its origin in the combined desktop.
type Monitor struct {
	Name string `yaml:"name"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
}

// Roster is the ordered instance list of one session.
type Roster struct {
	InputDevices []InputDevice `yaml:"input_devices"`
	Monitors     []Monitor     `yaml:"monitors"`
	Instances    []Instance    `yaml:"instances"`
}

// LoadRoster reads and validates a roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes roster YAML, assigns indices and validates it.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	r.Reindex()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Reindex sets every instance's Index to its position.
func (r *Roster) Reindex() {
	for i := range r.Instances {
		r.Instances[i].Index = i
	}
}

// DevicePaths returns the device node paths assigned to inst.
func (r *Roster) DevicePaths(inst Instance) []string {
	paths := make([]string, 0, len(inst.Devices))
	for _, d := range inst.Devices {
		if d >= 0 && d < len(r.InputDevices) {
			paths = append(paths, r.InputDevices[d].Path)
		}
	}
	return paths
}

// MonitorOf returns the monitor inst is placed on, or nil when the roster
// lists no monitors.
func (r *Roster) MonitorOf(inst Instance) *Monitor {
	if inst.Monitor < 0 || inst.Monitor >= len(r.Monitors) {
		return nil
	}
	return &r.Monitors[inst.Monitor]
}

// Validate checks the roster for conflicts between instances.
func (r *Roster) Validate() error {
	var errs []error
	if len(r.Instances) == 0 {
		errs = append(errs, errors.New("roster: no instances"))
	}
	profiles := map[string]int{}
	devices := map[int]int{}
	for _, inst := range r.Instances {
		prefix := fmt.Sprintf("roster: instance %d", inst.Index)
		name := inst.Profile
		switch {
		case name == "" || name == GuestPrefix:
			errs = append(errs, fmt.Errorf("%s: profile name is required", prefix))
		case strings.ContainsAny(name, "/\x00") || name == ".." || strings.HasPrefix(name, ".."):
			errs = append(errs, fmt.Errorf("%s: invalid profile name %q", prefix, name))
		}
		if prev, ok := profiles[name]; ok && name != "" {
			errs = append(errs, fmt.Errorf("%s: profile %q already used by instance %d", prefix, name, prev))
		}
		profiles[name] = inst.Index

		if inst.Width <= 0 || inst.Height <= 0 {
			errs = append(errs, fmt.Errorf("%s: resolution %s is invalid", prefix, inst.Resolution()))
		}
		if inst.Monitor < 0 || (len(r.Monitors) > 0 && inst.Monitor >= len(r.Monitors)) {
			errs = append(errs, fmt.Errorf("%s: monitor %d out of range", prefix, inst.Monitor))
		}
		for _, d := range inst.Devices {
			if d < 0 || d >= len(r.InputDevices) {
				errs = append(errs, fmt.Errorf("%s: device %d out of range", prefix, d))
				continue
			}
			if prev, ok := devices[d]; ok {
				errs = append(errs, fmt.Errorf("%s: device %d already assigned to instance %d", prefix, d, prev))
			}
			devices[d] = inst.Index
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
