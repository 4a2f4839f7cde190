package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/sjson"

	"splitux/pkg/disk"
	"splitux/pkg/handler"
	"splitux/pkg/identity"
	"splitux/pkg/instance"
)

var eosLibNames = []string{
	"EOSSDK-Win64-Shipping.dll",
	"EOSSDK-Win32-Shipping.dll",
	"libEOSSDK-Linux-Shipping.so",
}

// eos replaces the Epic Online Services SDK with the Nemirtingas emulator.
type eos struct {
	cfg *handler.EOS

	once    sync.Once
	libs    []foundLib
	scanErr error
}

func newEOS(cfg *handler.EOS) *eos {
	return &eos{cfg: cfg}
}

func (e *eos) Name() string { return "eos" }
func (e *eos) Rank() int    { return RankDefault }

func (e *eos) replacement(assets string, lib foundLib) string {
	platform := "win"
	if lib.Linux {
		platform = "linux"
	}
	return filepath.Join(assets, "nemirtingas", platform, lib.Bits.dir(), filepath.Base(canonicalEOSName(lib)))
}

// canonicalEOSName fixes the case of a found SDK file name.
func canonicalEOSName(lib foundLib) string {
	for _, n := range eosLibNames {
		if strings.EqualFold(n, filepath.Base(lib.Rel)) {
			return n
		}
	}
	return filepath.Base(lib.Rel)
}

func (e *eos) Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error) {
	e.once.Do(func() {
		e.libs, e.scanErr = findLibs(env.Handler.GameDir, eosLibNames...)
	})
	if e.scanErr != nil {
		return nil, fmt.Errorf("scan game dir: %w", e.scanErr)
	}
	if len(e.libs) == 0 {
		return nil, fmt.Errorf("%w: no EOS SDK library in %s", ErrNotApplicable, env.Handler.GameDir)
	}

	settings, err := e.identityJSON(inst)
	if err != nil {
		return nil, err
	}

	dir := env.instanceDir(inst, e.Name())
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	for _, lib := range e.libs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := e.replacement(env.AssetsDir, lib)
		if _, err := os.Stat(src); err != nil {
			return nil, fmt.Errorf("emulator build for %s: %w", lib.Rel, err)
		}
		if err := disk.LinkOrCopy(src, filepath.Join(dir, lib.Rel)); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, filepath.Dir(lib.Rel), "nepice_settings", "NemirtingasEpicEmu.json")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, settings, 0644); err != nil {
			return nil, fmt.Errorf("write EOS identity: %w", err)
		}
	}

	return &Contribution{
		Backend:  e.Name(),
		Overlays: []Overlay{{Backend: e.Name(), Dir: dir, Rank: e.Rank()}},
	}, nil
}

// identityJSON builds the emulator settings document for one instance.
func (e *eos) identityJSON(inst instance.Instance) ([]byte, error) {
	doc := []byte(`{}`)
	fields := []struct {
		key   string
		value any
	}{
		{"appid", e.cfg.AppID},
		{"username", accountName(inst)},
		{"epicid", identity.EpicAccountID(inst.Index)},
		{"productuserid", identity.EpicProductUserID(inst.Index)},
		{"enable_lan", true},
		{"disable_online_networking", true},
		{"listen_port", identity.EpicPortBase + inst.Index},
	}
	var err error
	for _, f := range fields {
		doc, err = sjson.SetBytes(doc, f.key, f.value)
		if err != nil {
			return nil, fmt.Errorf("build EOS identity: %w", err)
		}
	}
	return doc, nil
}
