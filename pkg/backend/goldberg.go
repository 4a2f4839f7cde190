package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"splitux/pkg/disk"
	"splitux/pkg/handler"
	"splitux/pkg/identity"
	"splitux/pkg/instance"
)

var steamLibNames = []string{"steam_api.dll", "steam_api64.dll", "libsteam_api.so"}

// goldberg replaces the Steam API with the Goldberg emulator.
type goldberg struct {
	cfg *handler.Goldberg

	once    sync.Once
	libs    []foundLib
	scanErr error
}

func newGoldberg(cfg *handler.Goldberg) *goldberg {
	return &goldberg{cfg: cfg}
}

func (g *goldberg) Name() string { return "goldberg" }
func (g *goldberg) Rank() int    { return RankDefault }

func (g *goldberg) scan(gameDir string) ([]foundLib, error) {
	g.once.Do(func() {
		g.libs, g.scanErr = findLibs(gameDir, steamLibNames...)
	})
	return g.libs, g.scanErr
}

// replacement returns the emulator build for lib.
func (g *goldberg) replacement(assets string, lib foundLib) string {
	if lib.Linux {
		return filepath.Join(assets, "goldberg", "linux", lib.Bits.dir(), "libsteam_api.so")
	}
	name := "steam_api.dll"
	if lib.Bits == Bits64 {
		name = "steam_api64.dll"
	}
	return filepath.Join(assets, "goldberg", "win", lib.Bits.dir(), name)
}

func (g *goldberg) Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error) {
	libs, err := g.scan(env.Handler.GameDir)
	if err != nil {
		return nil, fmt.Errorf("scan game dir: %w", err)
	}
	if len(libs) == 0 {
		return nil, fmt.Errorf("%w: no Steam API library in %s", ErrNotApplicable, env.Handler.GameDir)
	}

	id := identity.For(identity.SteamPortBase, env.Count, inst.Index, inst.Profile)
	id.AccountName = accountName(inst)

	dir := env.instanceDir(inst, g.Name())
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	for _, lib := range libs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := g.replacement(env.AssetsDir, lib)
		if _, err := os.Stat(src); err != nil {
			return nil, fmt.Errorf("emulator build for %s: %w", lib.Rel, err)
		}
		if err := disk.LinkOrCopy(src, filepath.Join(dir, lib.Rel)); err != nil {
			return nil, err
		}
		settings := filepath.Join(dir, filepath.Dir(lib.Rel), "steam_settings")
		if err := g.writeSettings(settings, env.Handler.SteamAppID, id); err != nil {
			return nil, fmt.Errorf("write steam_settings: %w", err)
		}
	}

	c := &Contribution{
		Backend:  g.Name(),
		Overlays: []Overlay{{Backend: g.Name(), Dir: dir, Rank: g.Rank()}},
	}
	if !env.Handler.Win {
		c.Env = map[string]string{
			"SteamAppId":  env.Handler.SteamAppID,
			"SteamGameId": env.Handler.SteamAppID,
		}
	}
	return c, nil
}

// writeSettings writes the emulator identity files into dir.
func (g *goldberg) writeSettings(dir, appID string, id identity.Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "steam_appid.txt"), []byte(appID), 0644); err != nil {
		return err
	}

	user := ini.Empty()
	gen := user.Section("user::general")
	gen.Key("account_name").SetValue(id.AccountName)
	gen.Key("account_steamid").SetValue(strconv.FormatUint(id.ID, 10))
	gen.Key("language").SetValue("english")
	if err := saveINI(user, filepath.Join(dir, "configs.user.ini")); err != nil {
		return err
	}

	mainCfg := ini.Empty()
	conn := mainCfg.Section("main::connectivity")
	conn.Key("listen_port").SetValue(strconv.Itoa(id.Port))
	conn.Key("disable_lan_only").SetValue(boolINI(g.cfg.DisableLAN))
	if len(g.cfg.Settings) > 0 {
		general := mainCfg.Section("main::general")
		keys := make([]string, 0, len(g.cfg.Settings))
		for k := range g.cfg.Settings {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			general.Key(k).SetValue(g.cfg.Settings[k])
		}
	}
	if err := saveINI(mainCfg, filepath.Join(dir, "configs.main.ini")); err != nil {
		return err
	}

	var sb strings.Builder
	for _, p := range id.Broadcast {
		fmt.Fprintf(&sb, "127.0.0.1:%d\n", p)
	}
	return os.WriteFile(filepath.Join(dir, "custom_broadcasts.txt"), []byte(sb.String()), 0644)
}

func boolINI(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
