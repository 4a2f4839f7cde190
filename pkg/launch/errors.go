package launch

import (
	"fmt"

	"splitux/pkg/handler"
)

// ConfigError is a declaration problem; the session does not start.
type ConfigError = handler.ConfigError

// Steps an instance goes through. InstanceError.Step names the one that
// failed.
const (
	StepProfile = "profile"
	StepPatch   = "patch"
	StepMount   = "mount"
	StepCommand = "command"
	StepSpawn   = "spawn"
)

// InstanceError is fatal for one instance; siblings are unaffected.
type InstanceError struct {
	Instance int
	Profile  string
	Step     string
	Err      error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("instance %d (%s): %s: %v", e.Instance, e.Profile, e.Step, e.Err)
}

func (e *InstanceError) Unwrap() error { return e.Err }
