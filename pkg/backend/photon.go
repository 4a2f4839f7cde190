package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"splitux/pkg/disk"
	"splitux/pkg/handler"
	"splitux/pkg/identity"
	"splitux/pkg/instance"
)

// Where the LAN plugin looks for its settings, relative to the Windows user
// directory or to the home of a native build.
const (
	DefaultPhotonConfig       = "AppData/LocalLow/splitux/photon.json"
	DefaultPhotonNativeConfig = ".config/unity3d/splitux/photon.json"
)

// photon installs BepInEx plus a Photon LAN plugin and tells each instance
// which port it owns.
type photon struct {
	cfg *handler.Photon

	once      sync.Once
	present   bool
	sharedMu  sync.Mutex
	sharedSet map[string]bool
}

func newPhoton(cfg *handler.Photon) *photon {
	return &photon{cfg: cfg, sharedSet: map[string]bool{}}
}

func (p *photon) Name() string { return "photon" }
func (p *photon) Rank() int    { return RankDefault }

func (p *photon) configPath(win bool) string {
	switch {
	case p.cfg.ConfigPath != "":
		return filepath.Clean(p.cfg.ConfigPath)
	case win:
		return filepath.FromSlash(DefaultPhotonConfig)
	default:
		return filepath.FromSlash(DefaultPhotonNativeConfig)
	}
}

func (p *photon) Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error) {
	p.once.Do(func() {
		p.present = findPrefix(env.Handler.GameDir, "Photon3Unity3D", ".dll") ||
			findPrefix(env.Handler.GameDir, "PhotonRealtime", ".dll")
	})
	if !p.present {
		return nil, fmt.Errorf("%w: no Photon assembly in %s", ErrNotApplicable, env.Handler.GameDir)
	}
	if inst.Index >= len(env.Profiles) {
		return nil, fmt.Errorf("no profile for instance %d", inst.Index)
	}
	userDir := env.Profiles[inst.Index].Home
	if env.Handler.Win {
		userDir = env.Profiles[inst.Index].WinData
	}

	dir := env.instanceDir(inst, p.Name())
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	c, err := installBepInEx(env, inst.Index, dir, filepath.Join(env.AssetsDir, "photon"))
	if err != nil {
		return nil, err
	}

	doc, err := p.instanceConfig(env.Count, inst.Index)
	if err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(userDir, p.configPath(env.Handler.Win))
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfgPath, doc, 0644); err != nil {
		return nil, fmt.Errorf("write photon config: %w", err)
	}

	for _, rel := range p.cfg.SharedFiles {
		if err := p.linkShared(env, userDir, rel); err != nil {
			return nil, fmt.Errorf("shared file %s: %w", rel, err)
		}
	}

	c.Backend = p.Name()
	c.Overlays = []Overlay{{Backend: p.Name(), Dir: dir, Rank: p.Rank()}}
	return c, nil
}

// instanceConfig merges the instance keys into the handler's template.
func (p *photon) instanceConfig(count, index int) ([]byte, error) {
	doc := []byte(`{}`)
	if p.cfg.Template != "" {
		if !gjson.Valid(p.cfg.Template) || !gjson.Parse(p.cfg.Template).IsObject() {
			return nil, fmt.Errorf("photon template is not a JSON object")
		}
		doc = []byte(p.cfg.Template)
	}
	values := []struct {
		key   string
		value int
	}{
		{"instance_index", index},
		{"instance_count", count},
		{"listen_port", identity.PhotonPortBase + index},
	}
	var err error
	for _, v := range values {
		if doc, err = sjson.SetBytes(doc, v.key, v.value); err != nil {
			return nil, err
		}
	}
	if doc, err = sjson.SetBytes(doc, "broadcast_ports", identity.Broadcast(identity.PhotonPortBase, count, index)); err != nil {
		return nil, err
	}
	return doc, nil
}

// linkShared points userDir/rel at one backing file kept in the handler's
// data directory, so writes survive staging cleanup. The first instance that
// holds a regular copy seeds the backing file when none exists yet. A regular
// copy that would be shadowed by an existing backing file is kept aside.
func (p *photon) linkShared(env *Env, userDir, rel string) error {
	p.sharedMu.Lock()
	defer p.sharedMu.Unlock()

	if env.DataDir == "" {
		return fmt.Errorf("no data directory for shared files")
	}
	backing := filepath.Join(env.DataDir, p.Name(), filepath.Clean(rel))
	target := filepath.Join(userDir, filepath.Clean(rel))

	st, err := os.Lstat(target)
	regular := err == nil && st.Mode().IsRegular()
	if err == nil && st.Mode()&fs.ModeSymlink != 0 {
		if dest, _ := os.Readlink(target); dest == backing {
			p.sharedSet[rel] = true
			return nil
		}
	}

	if !p.sharedSet[rel] {
		if err := os.MkdirAll(filepath.Dir(backing), 0755); err != nil {
			return err
		}
		if _, err := os.Stat(backing); errors.Is(err, fs.ErrNotExist) {
			if regular {
				if err := os.Rename(target, backing); err != nil {
					if err := disk.CopyFile(target, backing); err != nil {
						return err
					}
				}
				regular = false
			} else if err := os.WriteFile(backing, nil, 0644); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		p.sharedSet[rel] = true
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if regular {
		if err := os.Rename(target, target+".local"); err != nil {
			return err
		}
	} else if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(backing, target)
}
