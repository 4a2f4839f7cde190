package launch

import (
	"splitux/pkg/command"
	"splitux/pkg/instance"
)

// InstanceResult is the outcome for one instance.
type InstanceResult struct {
	Instance instance.Instance
	Plan     *command.Plan
	// Err is an *InstanceError when the instance did not launch.
	Err error
	// Degraded lists features that fell back to the default.
	Degraded []string
	// Exit is the process's exit error, if it ran and failed.
	Exit error
	PID  int
}

// Launched reports whether the instance's process was started.
func (r *InstanceResult) Launched() bool { return r.Err == nil && r.PID != 0 }

// Status summarizes the result in one word.
func (r *InstanceResult) Status() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.PID == 0:
		return "planned"
	case len(r.Degraded) > 0:
		return "degraded"
	default:
		return "launched"
	}
}

func (r *InstanceResult) degrade(feature string) {
	r.Degraded = append(r.Degraded, feature)
}

// SessionReport collects every instance's result and any teardown failures.
type SessionReport struct {
	ID        string
	Handler   string
	Instances []*InstanceResult
	// TeardownErrors are logged failures of cleanup steps. They do not fail
	// the session.
	TeardownErrors []error
}

// Failed returns the results of instances that did not launch.
func (r *SessionReport) Failed() []*InstanceResult {
	var out []*InstanceResult
	for _, res := range r.Instances {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}
