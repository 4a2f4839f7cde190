package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ConfigError reports a declaration problem found before any instance is
// built. It is fatal for the whole session.
type ConfigError struct {
	Handler string
	Field   string
	Msg     string
}

func (e *ConfigError) Error() string {
	if e.Handler == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Handler, e.Field, e.Msg)
}

// Validate checks every mandatory field. All problems are returned joined.
func (h *Handler) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Handler: h.Name, Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if h.Name == "" {
		fail("name", "is required")
	} else if strings.ContainsAny(h.Name, "/\x00") || h.Name == "." || h.Name == ".." {
		fail("name", "%q is not usable as a directory name", h.Name)
	}
	if h.GameDir == "" {
		fail("game_dir", "is required")
	}
	if h.Exec == "" {
		fail("exec", "is required")
	} else if escapes(h.Exec) {
		fail("exec", "%q escapes the game directory", h.Exec)
	}

	switch h.Runtime {
	case "", RuntimeScout, RuntimeSoldier:
	default:
		fail("runtime", "unknown runtime %q", h.Runtime)
	}
	if h.Win && h.Runtime != "" {
		fail("runtime", "only native games run in a Linux runtime")
	}
	switch h.SDL2Override {
	case "", SDL2Bundled, SDL2System:
	default:
		fail("sdl2_override", "must be %q or %q", SDL2Bundled, SDL2System)
	}

	for _, p := range h.NullPaths {
		if escapes(p) {
			fail("game_null_paths", "%q escapes the game directory", p)
		}
	}
	for file := range h.Patches {
		if escapes(file) {
			fail("game_patches", "%q escapes the game directory", file)
		}
	}

	if h.Goldberg != nil && h.SteamAppID == "" {
		fail("steam_appid", "is required by goldberg")
	}
	if h.EOS != nil && h.EOS.AppID == "" {
		fail("eos.appid", "is required")
	}
	if h.Photon != nil {
		if h.Photon.ConfigPath != "" && escapes(h.Photon.ConfigPath) {
			fail("photon.config_path", "%q escapes the user directory", h.Photon.ConfigPath)
		}
		for _, p := range h.Photon.SharedFiles {
			if escapes(p) {
				fail("photon.shared_files", "%q escapes the user directory", p)
			}
		}
	}
	if h.Facepunch != nil {
		for i, p := range h.Facepunch.RuntimePatches {
			field := fmt.Sprintf("facepunch.runtime_patches[%d]", i)
			if p.Class == "" {
				fail(field, "class is required")
			}
			if (p.Method == "") == (p.Property == "") {
				fail(field, "exactly one of method or property is required")
			}
			if !slices.Contains(RuntimePatchActions, p.Action) {
				fail(field, "unknown action %q", p.Action)
			}
		}
	}
	if h.Plugins != nil {
		if len(h.Plugins.Packages) == 0 {
			fail("plugins.packages", "at least one package is required")
		}
		refs := append([]PackageRef{h.Plugins.Loader}, h.Plugins.Packages...)
		for _, r := range refs {
			if r.Namespace == "" || r.Name == "" {
				fail("plugins", "package %q needs namespace and name", r.String())
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func escapes(rel string) bool {
	if filepath.IsAbs(rel) {
		return true
	}
	clean := filepath.Clean(rel)
	return clean == ".." || strings.HasPrefix(clean, "../")
}
