// Package launch drives one split-screen session: it prepares every
// instance in order, spawns them together and always tears the session down.
//
// Staging for a session lives under its own id:
//
//	<staging>/<session>/
//	    instance-<i>/merged     mounted view of the game directory
//	    instance-<i>/patches    patched configuration files
//	    instance-<i>/<backend>  backend overlays
//	    shared/<backend>        files every instance links to
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"splitux/pkg/audio"
	"splitux/pkg/backend"
	"splitux/pkg/command"
	"splitux/pkg/config"
	"splitux/pkg/devices"
	"splitux/pkg/handler"
	"splitux/pkg/instance"
	"splitux/pkg/overlay"
	"splitux/pkg/patch"
	"splitux/pkg/profile"
	"splitux/pkg/savesync"
)

// Mounter creates and releases union mounts.
type Mounter interface {
	Mount(ctx context.Context, mnt *overlay.Mount) error
	Unmount(ctx context.Context, mnt *overlay.Mount) error
	Cleanup(ctx context.Context) []error
}

// Sinks creates and destroys virtual audio outputs.
type Sinks interface {
	Create(ctx context.Context, name, assignment string) (*audio.Sink, error)
	DestroyAll(ctx context.Context) []error
}

// Translator is a controller translation daemon that exposes a virtual input
// device per instance.
type Translator interface {
	Start(ctx context.Context, inst instance.Instance) (string, error)
	Stop(ctx context.Context) error
}

// Deps are the session's collaborators. Translator is optional.
type Deps struct {
	Profiles   profile.Manager
	Mounts     Mounter
	Sinks      Sinks
	Builder    *command.Builder
	Blocker    devices.Blocker
	Spawner    Spawner
	Translator Translator
	Backends   backend.Deps
}

// Options change how a session runs.
type Options struct {
	// DryRun builds every plan without mounting, creating sinks, syncing
	// saves or spawning.
	DryRun bool
}

type manager struct {
	cfg  config.ReadOnly
	deps Deps

	deviceWait time.Duration
	newID      func() string
}

// Manager runs sessions.
type Manager = *manager

func NewManager(cfg config.ReadOnly, deps Deps) Manager {
	return &manager{
		cfg:        cfg,
		deps:       deps,
		deviceWait: devices.DefaultWait,
		newID:      uuid.NewString,
	}
}

// session is the state of one Run.
type session struct {
	id      string
	staging string
	h       *handler.Handler
	roster  *instance.Roster
	opts    Options

	results []*InstanceResult
	paths   []profile.Paths
	mounts  []*overlay.Mount
	parts   []savesync.Participant
	syncer  *savesync.Syncer
}

// Run launches every roster instance of h and blocks until all of them have
// exited and teardown has finished. The returned error is non-nil only for
// problems that stop the whole session; per-instance failures are in the
// report.
func (m *manager) Run(ctx context.Context, h *handler.Handler, roster *instance.Roster, opts Options) (*SessionReport, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}

	s := &session{
		id:     m.newID(),
		h:      h,
		roster: roster,
		opts:   opts,
	}
	s.staging = filepath.Join(m.cfg.GetStagingDir(), s.id)
	n := len(roster.Instances)
	s.results = make([]*InstanceResult, n)
	s.paths = make([]profile.Paths, n)
	s.mounts = make([]*overlay.Mount, n)
	for i, inst := range roster.Instances {
		s.results[i] = &InstanceResult{Instance: inst}
	}

	slog.Info("Starting session", "session", s.id, "handler", h.Name, "instances", n, "dry_run", opts.DryRun)

	report := &SessionReport{ID: s.id, Handler: h.Name, Instances: s.results}
	if err := m.prepareSaves(s); err != nil {
		return nil, err
	}
	m.setup(ctx, s)
	if !opts.DryRun {
		m.spawn(ctx, s)
	}
	report.TeardownErrors = m.teardown(context.WithoutCancel(ctx), s)
	return report, nil
}

// prepareSaves creates every profile and restores saves. Only an unusable
// save declaration is returned; everything else is per instance.
func (m *manager) prepareSaves(s *session) error {
	profiles := m.deps.Profiles
	for i, inst := range s.roster.Instances {
		p, err := profiles.Ensure(inst.Profile, s.h.Name)
		if err != nil {
			s.fail(i, StepProfile, err)
			continue
		}
		s.paths[i] = p
		s.parts = append(s.parts, savesync.Participant{Profile: inst.Profile, Paths: p})
	}

	if s.h.Save.Path == "" {
		return nil
	}
	loc, err := savesync.Resolve(s.h, m.cfg.GetHostHome(), m.cfg.GetSteamRoot())
	if err != nil {
		return &ConfigError{Handler: s.h.Name, Field: "save.path", Msg: err.Error()}
	}
	if s.opts.DryRun {
		slog.Info("Save location", "path", loc.Original, "area", loc.Area)
		return nil
	}

	master, err := profiles.Master()
	if err != nil {
		slog.Warn("Failed to read master profile, continuing without", "error", err)
		master = ""
	}
	var masterPaths profile.Paths
	if master != "" {
		if masterPaths, err = profiles.Ensure(master, s.h.Name); err != nil {
			slog.Warn("Master profile unusable, continuing without", "profile", master, "error", err)
			master = ""
		}
	}

	s.syncer = savesync.New(savesync.Options{
		Location:    loc,
		Remap:       s.h.Save.SteamIDRemap,
		SyncBack:    s.h.Save.SyncBack,
		Master:      master,
		MasterPaths: masterPaths,
		BackupDir:   filepath.Join(m.cfg.GetBackupDir(), s.h.Name),
	})
	if err := s.syncer.Start(s.parts); err != nil {
		slog.Warn("Save restore incomplete", "step", "save-sync", "error", err)
	}
	return nil
}

// setup prepares instances one at a time, in roster order.
func (m *manager) setup(ctx context.Context, s *session) {
	h := s.h
	env := &backend.Env{
		Handler:    h,
		Count:      len(s.roster.Instances),
		StagingDir: s.staging,
		AssetsDir:  m.cfg.GetAssetsDir(),
		DataDir:    filepath.Join(m.cfg.GetDataDir(), "shared", h.Name),
		Profiles:   s.paths,
		MountDirs:  make([]string, len(s.roster.Instances)),
	}
	for i := range s.roster.Instances {
		if s.opts.DryRun {
			env.MountDirs[i] = h.GameDir
		} else {
			env.MountDirs[i] = s.instanceDir(i, "merged")
		}
	}
	backends := backend.Enabled(h, m.deps.Backends)

	var prefix string
	if h.Win {
		prefix = filepath.Join(m.cfg.GetDataDir(), "prefixes", h.Name)
		if !s.opts.DryRun {
			if err := os.MkdirAll(prefix, 0755); err != nil {
				for i := range s.results {
					s.fail(i, StepCommand, fmt.Errorf("create prefix: %w", err))
				}
				return
			}
		}
	}

	for i, inst := range s.roster.Instances {
		res := s.results[i]
		if res.Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			s.fail(i, StepCommand, err)
			continue
		}
		log := slog.With("instance", inst.Index, "profile", inst.Profile)

		contrib := backend.Collect(ctx, backends, env, inst)
		res.Degraded = append(res.Degraded, contrib.Degraded...)

		patches := s.instanceDir(i, "patches")
		patched, err := patch.BuildLayer(h.GameDir, patches, h.Patches)
		if err != nil {
			s.fail(i, StepPatch, err)
			continue
		}
		if !patched {
			patches = ""
		}
		lower := overlay.Compose(patches, contrib.Overlays, h.OverlayDir(), h.GameDir)

		gameRoot := h.GameDir
		var sink *audio.Sink
		var hold string
		if !s.opts.DryRun {
			mnt, err := m.mount(ctx, s, i, lower)
			if err != nil {
				s.fail(i, StepMount, err)
				continue
			}
			s.mounts[i] = mnt
			gameRoot = mnt.Merged

			sink, err = m.deps.Sinks.Create(ctx, audio.SinkName(s.id, i), inst.Audio)
			if err != nil {
				log.Warn("Audio sink unavailable, using system default", "step", "audio", "error", err)
				res.degrade("audio")
				sink = nil
			}
			if h.InputHold {
				hold = m.holdDevice(ctx, inst, log)
			}
		} else {
			log.Debug("Overlay stack", "lower", lower)
		}

		plan, err := m.deps.Builder.Build(command.Input{
			Handler:    h,
			Instance:   inst,
			Count:      len(s.roster.Instances),
			GameRoot:   gameRoot,
			Profile:    s.paths[i],
			PrefixDir:  prefix,
			Devices:    s.roster.DevicePaths(inst),
			Monitor:    s.roster.MonitorOf(inst),
			HoldDevice: hold,
			Sink:       sink,
			Backends:   contrib,
		})
		if err != nil {
			s.fail(i, StepCommand, err)
			m.release(ctx, s, i)
			continue
		}
		res.Plan = plan
		res.Degraded = append(res.Degraded, plan.Degraded...)
		log.Info("Instance prepared", "layers", len(lower), "degraded", res.Degraded)
	}
}

func (m *manager) mount(ctx context.Context, s *session, i int, lower []string) (*overlay.Mount, error) {
	inst := s.roster.Instances[i]
	if err := m.deps.Profiles.ResetWork(inst.Profile, s.h.Name); err != nil {
		return nil, fmt.Errorf("reset work dir: %w", err)
	}
	mnt := &overlay.Mount{
		Lower:  lower,
		Upper:  s.paths[i].GameUpper,
		Work:   s.paths[i].GameWork,
		Merged: s.instanceDir(i, "merged"),
	}
	if err := m.deps.Mounts.Mount(ctx, mnt); err != nil {
		return nil, err
	}
	return mnt, nil
}

// holdDevice starts the translation daemon for inst and waits for its
// device. It returns "" when there is none in time.
func (m *manager) holdDevice(ctx context.Context, inst instance.Instance, log *slog.Logger) string {
	if m.deps.Translator == nil {
		return ""
	}
	path, err := m.deps.Translator.Start(ctx, inst)
	if err == nil {
		err = devices.WaitForPath(ctx, path, m.deviceWait)
	}
	if err != nil {
		log.Warn("Virtual input device unavailable", "step", "input-hold", "error", err)
		return ""
	}
	return path
}

// release unmounts instance i's view if it has one.
func (m *manager) release(ctx context.Context, s *session, i int) {
	mnt := s.mounts[i]
	if mnt == nil {
		return
	}
	s.mounts[i] = nil
	if err := m.deps.Mounts.Unmount(ctx, mnt); err != nil {
		slog.Warn("Failed to unmount overlay", "instance", i, "error", err)
	}
}

// spawn starts every prepared instance concurrently and waits for all.
func (m *manager) spawn(ctx context.Context, s *session) {
	var g errgroup.Group
	for i, res := range s.results {
		if res.Err != nil || res.Plan == nil {
			continue
		}
		g.Go(func() error {
			m.runInstance(ctx, s, i)
			return nil
		})
	}
	g.Wait()
}

func (m *manager) runInstance(ctx context.Context, s *session, i int) {
	res := s.results[i]
	inst := s.roster.Instances[i]
	defer m.release(context.WithoutCancel(ctx), s, i)

	var block []string
	if res.Plan.Checkpoint >= 0 {
		var err error
		block, err = m.deps.Blocker.Args(s.roster.DevicePaths(inst))
		if err != nil {
			slog.Warn("Input devices not isolated", "instance", i, "step", "devices", "error", err)
			res.degrade("device-isolation")
		}
	}
	argv := res.Plan.Materialize(block)
	proc, err := m.deps.Spawner.Start(ctx, argv, res.Plan.Environ(os.Environ()))
	if err != nil {
		s.fail(i, StepSpawn, err)
		return
	}
	res.PID = proc.Pid()
	slog.Info("Instance started", "instance", i, "profile", inst.Profile, "pid", res.PID)
	if err := proc.Wait(); err != nil {
		res.Exit = err
		slog.Warn("Instance exited with error", "instance", i, "error", err)
		return
	}
	slog.Info("Instance exited", "instance", i)
}

// teardown runs every cleanup step in order. A failing step is logged and
// the rest still run.
func (m *manager) teardown(ctx context.Context, s *session) []error {
	var errs []error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		slog.Warn("Teardown step failed", "step", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if s.syncer != nil {
		step("sync-back", s.syncer.End(s.parts))
	}
	for _, inst := range s.roster.Instances {
		if inst.IsGuest() {
			step("remove-guest", m.deps.Profiles.RemoveGuest(inst.Profile))
		}
	}
	if !s.opts.DryRun {
		step("unmount", errors.Join(m.deps.Mounts.Cleanup(ctx)...))
	}
	step("clear-staging", os.RemoveAll(s.staging))
	if !s.opts.DryRun {
		step("destroy-audio", errors.Join(m.deps.Sinks.DestroyAll(ctx)...))
		if m.deps.Translator != nil && s.h.InputHold {
			step("stop-translator", m.deps.Translator.Stop(ctx))
		}
	}
	slog.Info("Session ended", "session", s.id, "teardown_errors", len(errs))
	return errs
}

func (s *session) instanceDir(i int, name string) string {
	return filepath.Join(s.staging, fmt.Sprintf("instance-%d", i), name)
}

func (s *session) fail(i int, step string, err error) {
	inst := s.roster.Instances[i]
	ierr := &InstanceError{Instance: inst.Index, Profile: inst.Profile, Step: step, Err: err}
	s.results[i].Err = ierr
	slog.Error("Instance failed", "instance", inst.Index, "step", step, "error", err)
}
