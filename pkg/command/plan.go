package command

import (
	"maps"
	"slices"
	"strings"
)

// Plan is one instance's process invocation, built without spawning.
//
// Device-hiding arguments are not part of Argv. They are computed right
// before spawn and spliced in at Checkpoint, which indexes into Argv.
// Checkpoint is -1 when the instance runs without a sandbox.
type Plan struct {
	Instance   int
	Argv       []string
	Checkpoint int
	// Env is set on the spawned process on top of the caller's environment.
	Env map[string]string
	// Degraded lists features that fell back to the default.
	Degraded []string
}

// Materialize splices block into Argv at the checkpoint and returns a new
// slice. Argv is not modified.
func (p *Plan) Materialize(block []string) []string {
	if p.Checkpoint < 0 || len(block) == 0 {
		return slices.Clone(p.Argv)
	}
	out := make([]string, 0, len(p.Argv)+len(block))
	out = append(out, p.Argv[:p.Checkpoint]...)
	out = append(out, block...)
	return append(out, p.Argv[p.Checkpoint:]...)
}

// Environ overlays Env onto base (KEY=VALUE entries). Later keys win.
func (p *Plan) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(p.Env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := p.Env[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(p.Env)) {
		out = append(out, k+"="+p.Env[k])
	}
	return out
}

// DeviceMarker stands in for the spawn-time device arguments in String.
const DeviceMarker = "<devices>"

// String renders the argv with the checkpoint marked.
func (p *Plan) String() string {
	if p.Checkpoint < 0 {
		return strings.Join(p.Argv, " ")
	}
	return strings.Join(p.Materialize([]string{DeviceMarker}), " ")
}
