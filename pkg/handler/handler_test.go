package handler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleHandler = `
game_dir: game
exec: bin/Game.exe
args: "-name $PROFILE -res $RESOLUTION"
win: true
steam_appid: "480"
game_null_paths: [intro.bik]
game_patches:
  cfg/video.ini:
    fullscreen: "0"
save:
  path: AppData/LocalLow/Studio/Game
  steam_id_remap: true
  sync_back: true
goldberg: {}
facepunch:
  spoof_identity: true
  runtime_patches:
    - class: SteamManager
      method: Awake
      action: skip
overlay: files
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacewar.yaml")
	if err := os.WriteFile(path, []byte(sampleHandler), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "files"), 0755); err != nil {
		t.Fatal(err)
	}

	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h.Name != "spacewar" {
		t.Errorf("expected name from file, got %q", h.Name)
	}
	if h.GameDir != filepath.Join(dir, "game") {
		t.Errorf("relative game dir not resolved: %s", h.GameDir)
	}
	if h.Goldberg == nil || h.Facepunch == nil || h.EOS != nil {
		t.Errorf("backend presence wrong: %+v", h)
	}
	if !h.Save.SteamIDRemap || !h.Save.SyncBack {
		t.Errorf("save flags lost: %+v", h.Save)
	}
	if h.OverlayDir() != filepath.Join(dir, "files") {
		t.Errorf("unexpected overlay dir %q", h.OverlayDir())
	}
	if got := h.ExecPath("/mnt"); got != "/mnt/bin/Game.exe" {
		t.Errorf("unexpected exec path %s", got)
	}
	if err := h.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		h     Handler
		field string
	}{
		{"missing exec", Handler{Name: "g", GameDir: "/g"}, "exec"},
		{"escaping exec", Handler{Name: "g", GameDir: "/g", Exec: "../x"}, "exec"},
		{"goldberg without app id", Handler{Name: "g", GameDir: "/g", Exec: "x", Goldberg: &Goldberg{}}, "steam_appid"},
		{"eos without app id", Handler{Name: "g", GameDir: "/g", Exec: "x", EOS: &EOS{}}, "eos.appid"},
		{"unknown runtime", Handler{Name: "g", GameDir: "/g", Exec: "x", Runtime: "sniper"}, "runtime"},
		{"bad patch action", Handler{Name: "g", GameDir: "/g", Exec: "x", Facepunch: &Facepunch{
			RuntimePatches: []RuntimePatch{{Class: "C", Method: "M", Action: "explode"}},
		}}, "facepunch.runtime_patches[0]"},
		{"method and property", Handler{Name: "g", GameDir: "/g", Exec: "x", Facepunch: &Facepunch{
			RuntimePatches: []RuntimePatch{{Class: "C", Method: "M", Property: "P", Action: "skip"}},
		}}, "facepunch.runtime_patches[0]"},
		{"plugins without packages", Handler{Name: "g", GameDir: "/g", Exec: "x", Plugins: &Plugins{
			Loader: PackageRef{Namespace: "BepInEx", Name: "BepInExPack", Version: "5.4.2100"},
		}}, "plugins.packages"},
		{"escaping photon config", Handler{Name: "g", GameDir: "/g", Exec: "x", Photon: &Photon{
			ConfigPath: "../../etc/photon.json",
		}}, "photon.config_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.h.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field+":") {
				t.Errorf("expected field %s in %q", tt.field, err.Error())
			}
		})
	}
}
