package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"splitux/pkg/disk"
)

func init() {
	// The emulators' INI readers expect bare key=value lines.
	ini.PrettyFormat = false
}

// preloader is the BepInEx entry assembly doorstop loads.
const preloader = "BepInEx/core/BepInEx.Preloader.dll"

func saveINI(f *ini.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return f.SaveTo(path)
}

// bepinexDir returns the runtime asset tree for the handler's platform.
func (e *Env) bepinexDir() string {
	platform := "linux"
	if e.Handler.Win {
		platform = "windows"
	}
	return filepath.Join(e.AssetsDir, "bepinex", platform)
}

// installBepInEx places the BepInEx runtime next to the game executable
// inside overlayDir and configures doorstop. plugin, when set, is an asset
// tree merged over the runtime (e.g. the identity plugin).
func installBepInEx(env *Env, index int, overlayDir string, plugin string) (*Contribution, error) {
	runtime := env.bepinexDir()
	if !disk.HasFiles(runtime) {
		return nil, fmt.Errorf("%w: no BepInEx runtime in %s", ErrNotApplicable, runtime)
	}
	if plugin != "" && !disk.HasFiles(plugin) {
		return nil, fmt.Errorf("%w: no plugin files in %s", ErrNotApplicable, plugin)
	}

	dst := filepath.Join(overlayDir, env.exeDir())
	if err := disk.LinkTree(runtime, dst); err != nil {
		return nil, fmt.Errorf("install BepInEx: %w", err)
	}
	if plugin != "" {
		if err := disk.LinkTree(plugin, dst); err != nil {
			return nil, fmt.Errorf("install plugin: %w", err)
		}
	}
	return doorstop(env, index, dst)
}

// doorstop wires the loader stub. Windows builds read doorstop_config.ini
// next to winhttp.dll; native builds are configured by environment.
func doorstop(env *Env, index int, dst string) (*Contribution, error) {
	c := &Contribution{}
	if env.Handler.Win {
		cfg := ini.Empty()
		sec := cfg.Section("General")
		sec.Key("enabled").SetValue("true")
		sec.Key("target_assembly").SetValue(`BepInEx\core\BepInEx.Preloader.dll`)
		sec.Key("redirect_output_log").SetValue("false")
		if err := saveINI(cfg, filepath.Join(dst, "doorstop_config.ini")); err != nil {
			return nil, fmt.Errorf("write doorstop config: %w", err)
		}
		c.DLLOverrides = []string{"winhttp=n,b"}
		return c, nil
	}

	if index >= len(env.MountDirs) {
		return nil, fmt.Errorf("no mount dir for instance %d", index)
	}
	// The merged view is mounted at a known path before the process starts.
	base := filepath.Join(env.MountDirs[index], env.exeDir())
	c.Env = map[string]string{
		"DOORSTOP_ENABLED":         "1",
		"DOORSTOP_TARGET_ASSEMBLY": filepath.Join(base, preloader),
		"LD_PRELOAD":               filepath.Join(base, "libdoorstop.so"),
	}
	return c, nil
}
