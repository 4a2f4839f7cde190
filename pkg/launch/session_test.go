package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"splitux/pkg/audio"
	"splitux/pkg/command"
	"splitux/pkg/config"
	"splitux/pkg/devices"
	"splitux/pkg/disk"
	"splitux/pkg/handler"
	"splitux/pkg/instance"
	"splitux/pkg/overlay"
	"splitux/pkg/profile"
)

// fakeMounter stands in for fuse-overlayfs by copying the lower stack into
// the merged directory, lowest layer first.
type fakeMounter struct {
	mu      sync.Mutex
	failOn  string
	mounted []*overlay.Mount
	active  int
	cleanup []error
}

func (f *fakeMounter) Mount(ctx context.Context, mnt *overlay.Mount) error {
	if f.failOn != "" && strings.Contains(mnt.Merged, f.failOn) {
		return errors.New("fuse: device busy")
	}
	for i := len(mnt.Lower) - 1; i >= 0; i-- {
		if err := disk.CopyTree(mnt.Lower[i], mnt.Merged, nil); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted = append(f.mounted, mnt)
	f.active++
	return nil
}

func (f *fakeMounter) Unmount(ctx context.Context, mnt *overlay.Mount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	return nil
}

func (f *fakeMounter) Cleanup(ctx context.Context) []error { return f.cleanup }

type fakeSinks struct {
	mu         sync.Mutex
	fail       bool
	created    map[string]string
	destroyed  int
	destroyErr error
}

func (f *fakeSinks) Create(ctx context.Context, name, assignment string) (*audio.Sink, error) {
	if f.fail {
		return nil, errors.New("pactl: connection refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = map[string]string{}
	}
	f.created[name] = assignment
	return &audio.Sink{Name: name, Module: "1"}, nil
}

func (f *fakeSinks) DestroyAll(ctx context.Context) []error {
	f.destroyed++
	if f.destroyErr != nil {
		return []error{f.destroyErr}
	}
	return nil
}

type fakeProcess struct{ pid int }

func (p fakeProcess) Pid() int    { return p.pid }
func (p fakeProcess) Wait() error { return nil }

type fakeSpawner struct {
	mu      sync.Mutex
	argv    map[string][]string
	env     map[string][]string
	onStart func(argv []string) error
	next    int
}

func (f *fakeSpawner) Start(ctx context.Context, argv, env []string) (Process, error) {
	if f.onStart != nil {
		if err := f.onStart(argv); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := envValue(env, "SDL_VIDEO_WINDOW_POS")
	if f.argv == nil {
		f.argv = map[string][]string{}
		f.env = map[string][]string{}
	}
	f.argv[key] = argv
	f.env[key] = env
	return fakeProcess{pid: 1000 + f.next}, nil
}

type fakeEnum []string

func (e fakeEnum) List() ([]string, error) { return e, nil }

type fakeTranslator struct {
	path    string
	stopped bool
}

func (f *fakeTranslator) Start(ctx context.Context, inst instance.Instance) (string, error) {
	return f.path, nil
}

func (f *fakeTranslator) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func envValue(env []string, key string) string {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

type fixture struct {
	cfg      *config.Config
	gameDir  string
	profiles profile.Manager
	mounts   *fakeMounter
	sinks    *fakeSinks
	spawner  *fakeSpawner
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.New(config.Paths{
		DataDir:   filepath.Join(tmp, "data"),
		CacheDir:  filepath.Join(tmp, "cache"),
		StateDir:  filepath.Join(tmp, "state"),
		ConfigDir: filepath.Join(tmp, "config"),
	}, config.Tools{}, "tester", filepath.Join(tmp, "home"))

	gameDir := filepath.Join(tmp, "game")
	writeFile(t, filepath.Join(gameDir, "bin", "game.x86_64"), "elf")
	writeFile(t, filepath.Join(gameDir, "settings.cfg"), "fullscreen=1\nvolume=5\n")

	b := command.NewBuilder(cfg)
	b.LookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	f := &fixture{
		cfg:      cfg,
		gameDir:  gameDir,
		profiles: profile.NewManager(cfg),
		mounts:   &fakeMounter{},
		sinks:    &fakeSinks{},
		spawner:  &fakeSpawner{},
	}
	f.deps = Deps{
		Profiles: f.profiles,
		Mounts:   f.mounts,
		Sinks:    f.sinks,
		Builder:  b,
		Blocker:  devices.Blocker{Enum: fakeEnum{"/dev/input/event1", "/dev/input/event2", "/dev/input/event3"}},
		Spawner:  f.spawner,
	}
	return f
}

func (f *fixture) launcher() Manager {
	m := NewManager(f.cfg, f.deps)
	m.newID = func() string { return "0123456789abcdef" }
	m.deviceWait = 20 * time.Millisecond
	return m
}

func (f *fixture) handler(t *testing.T, extra string) *handler.Handler {
	t.Helper()
	src := fmt.Sprintf("name: game\ngame_dir: %s\nexec: bin/game.x86_64\nargs: -profile $PROFILE\n%s", f.gameDir, extra)
	h, err := handler.Parse([]byte(src), filepath.Dir(f.gameDir))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func roster(profiles ...string) *instance.Roster {
	r := &instance.Roster{
		InputDevices: []instance.InputDevice{
			{Path: "/dev/input/event1", Name: "pad one"},
			{Path: "/dev/input/event2", Name: "pad two"},
			{Path: "/dev/input/event3", Name: "pad three"},
		},
	}
	for i, p := range profiles {
		r.Instances = append(r.Instances, instance.Instance{
			Profile: p,
			Devices: []int{i},
			Width:   960,
			Height:  540,
			X:       960 * i,
			Audio:   fmt.Sprintf("alsa_output.%d", i),
		})
	}
	r.Reindex()
	return r
}

func TestRunLaunchesEveryInstance(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, "game_patches:\n  settings.cfg:\n    fullscreen: \"0\"\n")

	var patched []string
	f.spawner.onStart = func(argv []string) error {
		exe := argv[slices.IndexFunc(argv, func(a string) bool { return strings.HasSuffix(a, "game.x86_64") })]
		data, err := os.ReadFile(filepath.Join(filepath.Dir(filepath.Dir(exe)), "settings.cfg"))
		if err != nil {
			return err
		}
		f.spawner.mu.Lock()
		patched = append(patched, string(data))
		f.spawner.mu.Unlock()
		return nil
	}

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", ".GuestA", "Bob"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ID != "0123456789abcdef" || report.Handler != "game" {
		t.Errorf("unexpected report header %+v", report)
	}
	for _, res := range report.Instances {
		if !res.Launched() {
			t.Errorf("instance %d not launched: %v", res.Instance.Index, res.Err)
		}
		if res.Status() != "launched" {
			t.Errorf("instance %d status %s, degraded %v", res.Instance.Index, res.Status(), res.Degraded)
		}
	}
	if len(report.TeardownErrors) != 0 {
		t.Errorf("unexpected teardown errors: %v", report.TeardownErrors)
	}

	if len(patched) != 3 {
		t.Fatalf("expected 3 spawns, got %d", len(patched))
	}
	for _, p := range patched {
		if p != "fullscreen=0\nvolume=5\n" {
			t.Errorf("unexpected patched settings %q", p)
		}
	}

	argv := strings.Join(f.spawner.argv["0,0"], " ")
	for _, want := range []string{"--bind /dev/null /dev/input/event2", "--bind /dev/null /dev/input/event3", "-profile Alice"} {
		if !strings.Contains(argv, want) {
			t.Errorf("instance 0 argv missing %q: %s", want, argv)
		}
	}
	if strings.Contains(argv, "/dev/null /dev/input/event1") {
		t.Errorf("instance 0 must see its own device: %s", argv)
	}
	env := f.spawner.env["960,0"]
	if got := envValue(env, "SDL_VIDEO_WINDOW_POS"); got != "960,0" {
		t.Errorf("unexpected window position %q", got)
	}

	if f.sinks.created[audio.SinkName(report.ID, 1)] != "alsa_output.1" {
		t.Errorf("sink for instance 1 not created with its assignment: %v", f.sinks.created)
	}
	if f.sinks.destroyed != 1 {
		t.Errorf("expected sinks destroyed once, got %d", f.sinks.destroyed)
	}
	if f.mounts.active != 0 {
		t.Errorf("expected every mount released, %d active", f.mounts.active)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetStagingDir(), report.ID)); !os.IsNotExist(err) {
		t.Errorf("staging not cleared: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetProfilesDir(), ".GuestA")); !os.IsNotExist(err) {
		t.Errorf("guest profile not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetProfilesDir(), "Alice", "home")); err != nil {
		t.Errorf("named profile missing: %v", err)
	}
}

func TestRunInstanceFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.mounts.failOn = "instance-1"
	h := f.handler(t, "")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", "Bob", "Carol"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected one failed instance, got %d", len(failed))
	}
	var ierr *InstanceError
	if !errors.As(failed[0].Err, &ierr) {
		t.Fatalf("expected InstanceError, got %T", failed[0].Err)
	}
	if ierr.Instance != 1 || ierr.Step != StepMount || ierr.Profile != "Bob" {
		t.Errorf("unexpected error %+v", ierr)
	}
	if !strings.Contains(ierr.Error(), "instance 1 (Bob): mount") {
		t.Errorf("error does not name instance and step: %s", ierr)
	}
	if len(f.spawner.argv) != 2 {
		t.Errorf("expected siblings to launch, got %d spawns", len(f.spawner.argv))
	}
}

func TestRunConfigErrorStartsNothing(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, "goldberg: {}\n")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice"), Options{})
	if err == nil {
		t.Fatal("expected configuration error")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
	if report != nil {
		t.Error("expected no report")
	}
	if len(f.spawner.argv) != 0 || len(f.mounts.mounted) != 0 {
		t.Error("nothing should run after a configuration error")
	}
}

func TestRunAudioDegrades(t *testing.T) {
	f := newFixture(t)
	f.sinks.fail = true
	h := f.handler(t, "")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", "Bob"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, res := range report.Instances {
		if !res.Launched() {
			t.Errorf("instance %d should still launch: %v", res.Instance.Index, res.Err)
		}
		if !slices.Contains(res.Degraded, "audio") || res.Status() != "degraded" {
			t.Errorf("instance %d: expected degraded audio, got %v", res.Instance.Index, res.Degraded)
		}
	}
	if v := envValue(f.spawner.env["0,0"], "PULSE_SINK"); v != "" {
		t.Errorf("PULSE_SINK must be unset on fallback, got %q", v)
	}
}

func TestTeardownContinuesAfterFailures(t *testing.T) {
	f := newFixture(t)
	f.mounts.cleanup = []error{errors.New("target is busy")}
	f.sinks.destroyErr = errors.New("no such module")
	h := f.handler(t, "")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", ".GuestB"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.TeardownErrors) != 2 {
		t.Fatalf("expected 2 teardown errors, got %v", report.TeardownErrors)
	}
	if !strings.HasPrefix(report.TeardownErrors[0].Error(), "unmount") ||
		!strings.HasPrefix(report.TeardownErrors[1].Error(), "destroy-audio") {
		t.Errorf("teardown errors out of order: %v", report.TeardownErrors)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetProfilesDir(), ".GuestB")); !os.IsNotExist(err) {
		t.Errorf("guest profile not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetStagingDir(), report.ID)); !os.IsNotExist(err) {
		t.Errorf("staging not cleared: %v", err)
	}
}

func TestDryRunPlansOnly(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, "")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", ".GuestA"), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(f.mounts.mounted) != 0 || len(f.sinks.created) != 0 || len(f.spawner.argv) != 0 {
		t.Error("dry run must not mount, create sinks or spawn")
	}
	for _, res := range report.Instances {
		if res.Plan == nil {
			t.Fatalf("instance %d has no plan: %v", res.Instance.Index, res.Err)
		}
		if res.Status() != "planned" {
			t.Errorf("unexpected status %s", res.Status())
		}
		if !strings.Contains(res.Plan.String(), command.DeviceMarker) {
			t.Errorf("plan does not mark the device checkpoint: %s", res.Plan)
		}
		if !slices.Contains(res.Plan.Argv, filepath.Join(f.gameDir, "bin", "game.x86_64")) {
			t.Errorf("dry run should plan against the game dir: %v", res.Plan.Argv)
		}
	}
	if _, err := os.Stat(filepath.Join(f.cfg.GetProfilesDir(), ".GuestA")); !os.IsNotExist(err) {
		t.Errorf("guest profile not removed after dry run: %v", err)
	}
}

func TestHoldDeviceTimeoutDegrades(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTranslator{path: filepath.Join(t.TempDir(), "never")}
	f.deps.Translator = tr
	h := f.handler(t, "input_hold: true\n")

	report, err := f.launcher().Run(context.Background(), h, roster("Alice"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := report.Instances[0]
	if !res.Launched() || !slices.Contains(res.Degraded, "input-hold") {
		t.Errorf("expected launch without hold device, got err=%v degraded=%v", res.Err, res.Degraded)
	}
	if slices.Contains(f.spawner.argv["0,0"], "--libinput-hold-dev") {
		t.Error("hold device argument must be omitted")
	}
	if !tr.stopped {
		t.Error("translator not stopped at teardown")
	}
}

func TestRunSyncsSavesBack(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.gameDir, "saves", "slot.sav"), "original")
	h := f.handler(t, "save:\n  path: saves\n  sync_back: true\n")

	upper := func(name string) string {
		return filepath.Join(f.profiles.Paths(name, "game").GameUpper, "saves", "slot.sav")
	}
	f.spawner.onStart = func(argv []string) error {
		if !slices.Contains(argv, "Alice") {
			return nil
		}
		got, err := os.ReadFile(upper("Alice"))
		if err != nil || string(got) != "original" {
			return fmt.Errorf("profile not seeded: %q %v", got, err)
		}
		return os.WriteFile(upper("Alice"), []byte("progress"), 0644)
	}

	report, err := f.launcher().Run(context.Background(), h, roster("Alice", "Bob"), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, res := range report.Instances {
		if !res.Launched() {
			t.Fatalf("instance %d: %v", res.Instance.Index, res.Err)
		}
	}
	got, err := os.ReadFile(filepath.Join(f.gameDir, "saves", "slot.sav"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "progress" {
		t.Errorf("expected Alice's saves synced back, got %q", got)
	}
	if b, _ := os.ReadFile(upper("Bob")); string(b) != "original" {
		t.Errorf("Bob's saves changed: %q", b)
	}
	entries, err := os.ReadDir(filepath.Join(f.cfg.GetBackupDir(), "game"))
	if err != nil || len(entries) == 0 {
		t.Errorf("expected a backup before sync-back: %v", err)
	}
}
