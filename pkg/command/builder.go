// Package command builds the per-instance process invocation:
//
//	gamescope <resolution> -- bwrap <sandbox> -- [runtime] <exe> <args>
//
// Nothing is spawned here. The result is a Plan whose device-hiding
// arguments are spliced in at spawn time.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"splitux/pkg/audio"
	"splitux/pkg/backend"
	"splitux/pkg/bubblewrap"
	"splitux/pkg/config"
	"splitux/pkg/handler"
	"splitux/pkg/instance"
	"splitux/pkg/profile"
)

var (
	ErrMissingRuntime    = errors.New("compatibility runtime not found")
	ErrMissingExecutable = errors.New("game executable not found")
)

// Linux runtime container entry points, relative to the Steam root.
var runtimeEntry = map[string][]string{
	handler.RuntimeScout:   {"ubuntu12_32/steam-runtime/run.sh"},
	handler.RuntimeSoldier: {"steamapps/common/SteamLinuxRuntime_soldier/_v2-entry-point", "--verb=waitforexitandrun", "--"},
}

// SDL2 libraries tried for the override, per choice.
var sdl2Libs = map[string][]string{
	handler.SDL2Bundled: {
		"ubuntu12_32/steam-runtime/usr/lib/x86_64-linux-gnu/libSDL2-2.0.so.0",
		"ubuntu12_32/steam-runtime/lib/x86_64-linux-gnu/libSDL2-2.0.so.0",
	},
	handler.SDL2System: {
		"/usr/lib/libSDL2-2.0.so.0",
		"/usr/lib64/libSDL2-2.0.so.0",
		"/usr/lib/x86_64-linux-gnu/libSDL2-2.0.so.0",
	},
}

// winUserDir is the prefix user directory Proton creates.
const winUserDir = "pfx/drive_c/users/steamuser"

// listVars are colon separated lists the sandboxed process may already carry.
// Backend entries go in front of the inherited value instead of replacing it.
var listVars = []string{"LD_PRELOAD"}

// xdgVars are unset in the sandbox so they derive from the synthetic HOME.
var xdgVars = []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_STATE_HOME", "XDG_CACHE_HOME"}

// Input is everything one instance's plan depends on.
type Input struct {
	Handler  *handler.Handler
	Instance instance.Instance
	Count    int
	// GameRoot is the mounted view of the game directory.
	GameRoot string
	Profile  profile.Paths
	// PrefixDir is the compatibility data directory for Windows builds.
	PrefixDir string
	// Devices are the input nodes assigned to the instance.
	Devices []string
	// Monitor is the output the instance is placed on, if the roster names one.
	Monitor *instance.Monitor
	// HoldDevice is the translation daemon's virtual device, if any.
	HoldDevice string
	Sink       *audio.Sink
	Backends   backend.Result
}

// Builder turns Inputs into Plans.
type Builder struct {
	Tools     config.Tools
	SteamRoot string
	// LookPath resolves tool names on PATH.
	LookPath func(string) (string, error)
	// Getenv reads the environment the game would inherit.
	Getenv func(string) string
}

func NewBuilder(cfg config.ReadOnly) *Builder {
	return &Builder{
		Tools:     cfg.GetTools(),
		SteamRoot: cfg.GetSteamRoot(),
		LookPath:  exec.LookPath,
		Getenv:    os.Getenv,
	}
}

// Build assembles the plan. A missing runtime or executable is returned as
// an error; optional features that cannot be honored are recorded on
// Plan.Degraded.
func (b *Builder) Build(in Input) (*Plan, error) {
	h := in.Handler
	inst := in.Instance
	p := &Plan{Instance: inst.Index, Checkpoint: -1, Env: map[string]string{}}

	// Compositor environment.
	x, y := inst.X, inst.Y
	if in.Monitor != nil {
		x, y = x+in.Monitor.X, y+in.Monitor.Y
	}
	p.Env["SDL_VIDEO_WINDOW_POS"] = fmt.Sprintf("%d,%d", x, y)

	if h.Win {
		b.windowsEnv(p, in)
	}
	b.sdl2Override(p, h)
	for k, v := range h.Env {
		p.Env[k] = v
	}

	// Compositor arguments.
	w, ht := strconv.Itoa(inst.Width), strconv.Itoa(inst.Height)
	p.Argv = []string{b.Tools.Gamescope, "-W", w, "-H", ht, "-w", w, "-h", ht}
	if in.Monitor != nil && in.Monitor.Name != "" {
		p.Argv = append(p.Argv, "--prefer-output", in.Monitor.Name)
	}
	if h.InputHold {
		if in.HoldDevice != "" {
			p.Argv = append(p.Argv, "--libinput-hold-dev", in.HoldDevice)
		} else {
			p.Degraded = append(p.Degraded, "input-hold")
		}
	}
	p.Argv = append(p.Argv, "--")

	sandboxEnv := map[string]string{}
	if len(in.Devices) > 0 {
		sandboxEnv["SDL_JOYSTICK_DEVICE"] = strings.Join(in.Devices, ":")
	}
	for k, v := range in.Sink.Env() {
		sandboxEnv[k] = v
	}
	for k, v := range in.Backends.Env {
		sandboxEnv[k] = v
	}

	if h.DisableSandbox {
		for k, v := range sandboxEnv {
			p.Env[k] = v
		}
		for _, k := range listVars {
			if v, ok := sandboxEnv[k]; ok {
				p.Env[k] = bubblewrap.PrependEntry(b.getenv(k), v)
			}
		}
		if h.Win {
			p.Degraded = append(p.Degraded, "profile-windata")
		} else {
			p.Env["HOME"] = in.Profile.Home
		}
	} else {
		pre := bubblewrap.Create()
		pre.AddFlag("--die-with-parent")
		pre.AddBind(bubblewrap.BIND, "/")
		pre.AddVirtual(bubblewrap.TMPFS, "/tmp")
		pre.AddBind(bubblewrap.BIND_TRY, "/tmp/.X11-unix")
		for k, v := range sandboxEnv {
			pre.SetEnv(k, v)
		}
		for _, k := range listVars {
			if v, ok := sandboxEnv[k]; ok {
				pre.SetEnv(k, b.getenv(k))
				pre.AddEnvFirst(k, v)
			}
		}
		p.Argv = append(p.Argv, b.Tools.Bwrap)
		p.Argv = append(p.Argv, pre.Args()...)
		p.Checkpoint = len(p.Argv)

		post := bubblewrap.Create()
		if h.Win {
			post.AddMapBind(bubblewrap.BIND, in.Profile.WinData, filepath.Join(in.PrefixDir, winUserDir))
		} else {
			post.SetEnv("HOME", in.Profile.Home)
			for _, v := range xdgVars {
				post.UnsetEnv(v)
			}
		}
		for _, rel := range h.NullPaths {
			target := filepath.Join(in.GameRoot, filepath.Clean("/"+rel))
			if st, err := os.Stat(filepath.Join(h.GameDir, filepath.Clean("/"+rel))); err == nil && st.IsDir() {
				post.AddVirtual(bubblewrap.TMPFS, target)
			} else {
				post.AddMapBind(bubblewrap.BIND, "/dev/null", target)
			}
		}
		p.Argv = append(p.Argv, post.Args()...)
		p.Argv = append(p.Argv, "--")
	}

	rt, err := b.runtime(h)
	if err != nil {
		return nil, err
	}
	p.Argv = append(p.Argv, rt...)

	exe := h.ExecPath(in.GameRoot)
	if st, err := os.Stat(exe); err != nil || st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrMissingExecutable, exe)
	}
	p.Argv = append(p.Argv, exe)

	p.Argv = append(p.Argv, Substitute(h.Args, Vars{
		Profile:    inst.Profile,
		Width:      inst.Width,
		Height:     inst.Height,
		Count:      in.Count,
		Index:      inst.Index,
		GameDir:    in.GameRoot,
		HandlerDir: h.Dir(),
	})...)
	return p, nil
}

func (b *Builder) getenv(key string) string {
	if b.Getenv == nil {
		return ""
	}
	return b.Getenv(key)
}

func (b *Builder) windowsEnv(p *Plan, in Input) {
	h := in.Handler
	p.Env["WINEPREFIX"] = filepath.Join(in.PrefixDir, "pfx")
	p.Env["STEAM_COMPAT_DATA_PATH"] = in.PrefixDir
	p.Env["STEAM_COMPAT_CLIENT_INSTALL_PATH"] = b.SteamRoot
	if h.SteamAppID != "" {
		p.Env["SteamAppId"] = h.SteamAppID
		p.Env["SteamGameId"] = h.SteamAppID
		p.Env["GAMEID"] = "umu-" + h.SteamAppID
	} else {
		p.Env["GAMEID"] = "umu-default"
	}
	if len(in.Backends.DLLOverrides) > 0 {
		p.Env["WINEDLLOVERRIDES"] = strings.Join(in.Backends.DLLOverrides, ";")
	}
}

func (b *Builder) sdl2Override(p *Plan, h *handler.Handler) {
	if h.SDL2Override == "" {
		return
	}
	for _, lib := range sdl2Libs[h.SDL2Override] {
		if !filepath.IsAbs(lib) {
			lib = filepath.Join(b.SteamRoot, lib)
		}
		if _, err := os.Stat(lib); err == nil {
			p.Env["SDL_DYNAMIC_API"] = lib
			return
		}
	}
	slog.Warn("SDL2 library not found, using the game's own", "choice", h.SDL2Override)
	p.Degraded = append(p.Degraded, "sdl2-override")
}

// runtime returns the compatibility layer or container entry point.
func (b *Builder) runtime(h *handler.Handler) ([]string, error) {
	if h.Win {
		proton := h.ProtonPath
		if proton == "" {
			proton = b.Tools.Proton
		}
		if proton != "" {
			if _, err := os.Stat(proton); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrMissingRuntime, proton)
			}
			return []string{proton, "waitforexitandrun"}, nil
		}
		umu, err := b.LookPath(b.Tools.Umu)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingRuntime, b.Tools.Umu)
		}
		return []string{umu}, nil
	}

	entry, ok := runtimeEntry[h.Runtime]
	if !ok {
		return nil, nil
	}
	script := filepath.Join(b.SteamRoot, entry[0])
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s runtime at %s", ErrMissingRuntime, h.Runtime, script)
	}
	return append([]string{script}, entry[1:]...), nil
}
