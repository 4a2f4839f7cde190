// Package backend makes an unmodified game believe it has a working online
// session. Each variant replaces or extends the game's networking layer with
// an emulator and writes a deterministic per-instance identity for it.
//
// Backends never touch the game directory. Everything they produce lands in
// per-instance overlay directories under the session staging area, which the
// overlay composer stacks above the game:
//
//	<staging>/instance-<i>/<backend>/...
//
// Emulator binaries come from the assets directory:
//
//	<assets>/goldberg/{win,linux}/{x32,x64}/    Steam API replacements
//	<assets>/nemirtingas/{win,linux}/{x32,x64}/ EOS SDK replacements
//	<assets>/bepinex/{windows,linux}/           BepInEx runtime + doorstop stub
//	<assets>/photon/                            Photon LAN plugin tree
//	<assets>/facepunch/                         identity patching plugin tree
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"

	"splitux/pkg/handler"
	"splitux/pkg/installer"
	"splitux/pkg/instance"
	"splitux/pkg/profile"
)

// ErrNotApplicable is returned when the artifacts a backend needs are absent.
var ErrNotApplicable = errors.New("backend not applicable")

// Overlay ranks. Lower ranks are stacked higher.
const (
	RankIdentity = 0
	RankDefault  = 1
)

// Overlay is a directory stacked above the game directory.
type Overlay struct {
	Backend string
	Dir     string
	Rank    int
}

// Contribution is what one backend adds to one instance.
type Contribution struct {
	Backend  string
	Overlays []Overlay
	// Env is applied inside the sandbox.
	Env map[string]string
	// DLLOverrides are WINEDLLOVERRIDES entries, e.g. "winhttp=n,b".
	DLLOverrides []string
}

// Env is the session state every backend reads.
type Env struct {
	Handler    *handler.Handler
	Count      int
	StagingDir string
	AssetsDir  string
	// DataDir holds per-handler files that outlive the session.
	DataDir string
	// Profiles and MountDirs are indexed by instance index.
	Profiles  []profile.Paths
	MountDirs []string
}

func (e *Env) instanceDir(inst instance.Instance, backend string) string {
	return filepath.Join(e.StagingDir, fmt.Sprintf("instance-%d", inst.Index), backend)
}

func (e *Env) sharedDir(backend string) string {
	return filepath.Join(e.StagingDir, "shared", backend)
}

// exeDir is the executable's directory relative to the game directory.
func (e *Env) exeDir() string {
	return filepath.Dir(filepath.Clean(e.Handler.Exec))
}

// accountName is the display name handed to emulators.
func accountName(inst instance.Instance) string {
	name := inst.Profile
	if inst.IsGuest() {
		name = name[len(instance.GuestPrefix):]
	}
	return name
}

// Backend is one identity emulation variant.
type Backend interface {
	Name() string
	Rank() int
	// Produce builds the instance's contribution, or returns an error wrapping
	// ErrNotApplicable when the backend has nothing to work with.
	Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error)
}

// PackageSource fetches plugin packages for the generic plugin backend.
type PackageSource interface {
	Latest(ctx context.Context, community, ns, name string) (string, error)
	Package(ns, name, version string) installer.Package
}

// PackageInstaller places a package in the local cache.
type PackageInstaller interface {
	Install(ctx context.Context, plan *installer.Plan) error
}

// Deps are the collaborators backends need beyond Env.
type Deps struct {
	Source    PackageSource
	Installer PackageInstaller
	// Plan turns a package into cache paths.
	Plan func(installer.Package) (*installer.Plan, error)
}

// Enabled returns the backends the handler enables, in check order.
func Enabled(h *handler.Handler, deps Deps) []Backend {
	var out []Backend
	if h.Goldberg != nil {
		out = append(out, newGoldberg(h.Goldberg))
	}
	if h.EOS != nil {
		out = append(out, newEOS(h.EOS))
	}
	if h.Photon != nil {
		out = append(out, newPhoton(h.Photon))
	}
	if h.Facepunch != nil {
		out = append(out, newFacepunch(h.Facepunch))
	}
	if h.Plugins != nil {
		out = append(out, newPlugins(h.Plugins, deps))
	}
	return out
}

// Result is the merged contribution of all backends for one instance.
type Result struct {
	Overlays     []Overlay
	Env          map[string]string
	DLLOverrides []string
	// Degraded names backends that failed for a reason other than missing
	// artifacts.
	Degraded []string
}

// Collect runs every backend for inst. Missing artifacts are logged as
// warnings and other failures degrade only that backend.
func Collect(ctx context.Context, backends []Backend, env *Env, inst instance.Instance) Result {
	res := Result{Env: map[string]string{}}
	for _, b := range backends {
		c, err := b.Produce(ctx, env, inst)
		switch {
		case errors.Is(err, ErrNotApplicable):
			slog.Warn("Backend contributes nothing", "backend", b.Name(), "instance", inst.Index, "reason", err)
			continue
		case err != nil:
			slog.Warn("Backend failed", "backend", b.Name(), "instance", inst.Index, "error", err)
			res.Degraded = append(res.Degraded, b.Name())
			continue
		}
		res.Overlays = append(res.Overlays, c.Overlays...)
		for k, v := range c.Env {
			res.Env[k] = v
		}
		for _, o := range c.DLLOverrides {
			if !slices.Contains(res.DLLOverrides, o) {
				res.DLLOverrides = append(res.DLLOverrides, o)
			}
		}
	}
	SortOverlays(res.Overlays)
	return res
}

// SortOverlays orders overlays by rank, keeping check order within a rank.
func SortOverlays(ovs []Overlay) {
	sort.SliceStable(ovs, func(i, j int) bool { return ovs[i].Rank < ovs[j].Rank })
}
