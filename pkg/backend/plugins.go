package backend

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"splitux/pkg/disk"
	"splitux/pkg/handler"
	"splitux/pkg/installer"
	"splitux/pkg/instance"
)

// plugins installs a mod loader and unmodified plugin packages from a mod
// repository. All instances share one overlay; there is no identity.
type plugins struct {
	cfg  *handler.Plugins
	deps Deps

	once   sync.Once
	shared string
	err    error
}

func newPlugins(cfg *handler.Plugins, deps Deps) *plugins {
	return &plugins{cfg: cfg, deps: deps}
}

func (p *plugins) Name() string { return "plugins" }
func (p *plugins) Rank() int    { return RankDefault }

func (p *plugins) Produce(ctx context.Context, env *Env, inst instance.Instance) (*Contribution, error) {
	p.once.Do(func() {
		p.shared, p.err = p.prepare(ctx, env)
	})
	if p.err != nil {
		return nil, p.err
	}

	dst := filepath.Join(p.shared, env.exeDir())
	c, err := doorstop(env, inst.Index, dst)
	if err != nil {
		return nil, err
	}
	c.Backend = p.Name()
	c.Overlays = []Overlay{{Backend: p.Name(), Dir: p.shared, Rank: p.Rank()}}
	return c, nil
}

// prepare fetches every package and lays out the shared overlay.
func (p *plugins) prepare(ctx context.Context, env *Env) (string, error) {
	if p.deps.Source == nil || p.deps.Installer == nil || p.deps.Plan == nil {
		return "", fmt.Errorf("no mod repository configured")
	}

	refs := append([]handler.PackageRef{p.cfg.Loader}, p.cfg.Packages...)
	plans := make([]*installer.Plan, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ref := range refs {
		g.Go(func() error {
			version := ref.Version
			if version == "" {
				v, err := p.deps.Source.Latest(gctx, p.cfg.Community, ref.Namespace, ref.Name)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", ref, err)
				}
				version = v
				slog.Info("Resolved latest version", "package", ref.String(), "version", version)
			}
			plan, err := p.deps.Plan(p.deps.Source.Package(ref.Namespace, ref.Name, version))
			if err != nil {
				return err
			}
			if err := p.deps.Installer.Install(gctx, plan); err != nil {
				return err
			}
			plans[i] = plan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	loaderRoot, ok := findLoaderRoot(plans[0].InstallPath)
	if !ok {
		return "", fmt.Errorf("%w: package %s holds no BepInEx tree", ErrNotApplicable, refs[0])
	}

	shared := env.sharedDir(p.Name())
	if err := os.RemoveAll(shared); err != nil {
		return "", err
	}
	dst := filepath.Join(shared, env.exeDir())
	if err := disk.LinkTree(loaderRoot, dst); err != nil {
		return "", fmt.Errorf("install loader: %w", err)
	}
	for _, plan := range plans[1:] {
		target := filepath.Join(dst, "BepInEx", "plugins", plan.Package.ID)
		if err := disk.LinkTree(plan.InstallPath, target); err != nil {
			return "", fmt.Errorf("install %s: %w", plan.Package.ID, err)
		}
	}
	return shared, nil
}

// findLoaderRoot locates the directory holding BepInEx/ inside an extracted
// loader package. Repository packs wrap it in one extra directory.
func findLoaderRoot(dir string) (string, bool) {
	var root string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		if depth(rel) > 2 {
			return fs.SkipDir
		}
		if d.Name() == "BepInEx" && path != dir {
			root = filepath.Dir(path)
			return fs.SkipAll
		}
		return nil
	})
	return root, root != ""
}

func depth(rel string) int {
	if rel == "." {
		return 0
	}
	n := 1
	for _, c := range rel {
		if c == filepath.Separator {
			n++
		}
	}
	return n
}
