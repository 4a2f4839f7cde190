package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/ini.v1"

	"splitux/pkg/handler"
	"splitux/pkg/identity"
	"splitux/pkg/instance"
)

// FacepunchConfigName is the plugin's config file below BepInEx/config.
const FacepunchConfigName = "splitux.facepunch.cfg"

// facepunch installs BepInEx with a plugin that patches Facepunch.Steamworks
// identity calls at runtime. Its overlay sits above every other backend.
type facepunch struct {
	cfg *handler.Facepunch

	once    sync.Once
	present bool
}

func newFacepunch(cfg *handler.Facepunch) *facepunch {
	return &facepunch{cfg: cfg}
}

func (f *facepunch) Name() string { return "facepunch" }
func (f *facepunch) Rank() int    { return RankIdentity }

func (f *facepunch) Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error) {
	f.once.Do(func() {
		f.present = findPrefix(env.Handler.GameDir, "Facepunch.Steamworks", ".dll")
	})
	if !f.present {
		return nil, fmt.Errorf("%w: no Facepunch.Steamworks assembly in %s", ErrNotApplicable, env.Handler.GameDir)
	}

	dir := env.instanceDir(inst, f.Name())
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	c, err := installBepInEx(env, inst.Index, dir, filepath.Join(env.AssetsDir, "facepunch"))
	if err != nil {
		return nil, err
	}

	cfgPath := filepath.Join(dir, env.exeDir(), "BepInEx", "config", FacepunchConfigName)
	if err := saveINI(f.config(inst), cfgPath); err != nil {
		return nil, fmt.Errorf("write identity config: %w", err)
	}

	c.Backend = f.Name()
	c.Overlays = []Overlay{{Backend: f.Name(), Dir: dir, Rank: f.Rank()}}
	return c, nil
}

// config renders the plugin configuration for one instance.
func (f *facepunch) config(inst instance.Instance) *ini.File {
	cfg := ini.Empty()

	id := cfg.Section("Identity")
	id.Key("index").SetValue(strconv.Itoa(inst.Index))
	id.Key("account_name").SetValue(accountName(inst))
	id.Key("steam_id").SetValue(strconv.FormatUint(identity.SteamID(inst.Profile), 10))

	flags := cfg.Section("Facepunch")
	flags.Key("spoof_identity").SetValue(strconv.FormatBool(f.cfg.SpoofIdentity))
	flags.Key("force_valid").SetValue(strconv.FormatBool(f.cfg.ForceValid))
	flags.Key("bypass_checks").SetValue(strconv.FormatBool(f.cfg.BypassChecks))

	if len(f.cfg.RuntimePatches) > 0 {
		rp := cfg.Section("RuntimePatches")
		for n, p := range f.cfg.RuntimePatches {
			prefix := fmt.Sprintf("patch.%d.", n)
			rp.Key(prefix + "class").SetValue(p.Class)
			if p.Method != "" {
				rp.Key(prefix + "method").SetValue(p.Method)
			}
			if p.Property != "" {
				rp.Key(prefix + "property").SetValue(p.Property)
			}
			rp.Key(prefix + "action").SetValue(p.Action)
		}
	}
	return cfg
}
