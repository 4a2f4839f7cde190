package savesync

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"splitux/pkg/handler"
	"splitux/pkg/profile"
)

// Area is where in a profile a save location lives.
type Area int

const (
	AreaGameDir Area = iota
	AreaHome
	AreaWinData
)

func (a Area) String() string {
	switch a {
	case AreaGameDir:
		return "game"
	case AreaHome:
		return "home"
	default:
		return "windata"
	}
}

// Location is the game's own save directory and its profile counterpart.
type Location struct {
	// Original is the host path the game writes to outside splitux.
	Original string
	Area     Area
	// Rel is preserved below the profile area.
	Rel string
}

// In returns the location inside profile p.
func (l *Location) In(p profile.Paths) string {
	var base string
	switch l.Area {
	case AreaGameDir:
		base = p.GameUpper
	case AreaHome:
		base = p.Home
	default:
		base = p.WinData
	}
	return filepath.Join(base, l.Rel)
}

var winVars = strings.NewReplacer(
	"%APPDATA%", "AppData/Roaming",
	"%LOCALAPPDATA%", "AppData/Local",
	"%USERPROFILE%/", "",
	"%USERPROFILE%", "",
)

// winUserDir matches the user directory of a Wine prefix.
var winUserDir = regexp.MustCompile(`/drive_c/users/[^/]+/`)

// Resolve classifies the handler's save path.
//
// Paths inside the game directory map to the game-save area and paths in the
// host home to the synthetic home. Paths inside a Wine prefix user directory,
// and relative Windows-style paths (AppData/..., %APPDATA%/...), map to the
// synthetic user-data directory; the original for a relative one is in the
// Steam compat prefix of the handler's app id.
func Resolve(h *handler.Handler, hostHome, steamRoot string) (*Location, error) {
	raw := strings.TrimSpace(h.Save.Path)
	if raw == "" {
		return nil, fmt.Errorf("no save path")
	}
	path := strings.ReplaceAll(winVars.Replace(raw), `\`, "/")
	switch {
	case path == "~":
		path = hostHome
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(hostHome, path[2:])
	case strings.HasPrefix(path, "$HOME/"):
		path = filepath.Join(hostHome, path[len("$HOME/"):])
	}

	if !filepath.IsAbs(path) {
		rel := filepath.Clean(path)
		if escapes(rel) {
			return nil, fmt.Errorf("save path %q escapes its root", raw)
		}
		if !h.Win {
			return &Location{Original: filepath.Join(h.GameDir, rel), Area: AreaGameDir, Rel: rel}, nil
		}
		if h.SteamAppID == "" {
			return nil, fmt.Errorf("save path %q needs steam_appid to locate the prefix", raw)
		}
		original := filepath.Join(steamRoot, "steamapps", "compatdata", h.SteamAppID, "pfx", "drive_c", "users", "steamuser", rel)
		return &Location{Original: original, Area: AreaWinData, Rel: rel}, nil
	}

	path = filepath.Clean(path)
	if rel, ok := under(h.GameDir, path); ok {
		return &Location{Original: path, Area: AreaGameDir, Rel: rel}, nil
	}
	if loc := winUserDir.FindStringIndex(filepath.ToSlash(path)); loc != nil {
		rel := filepath.FromSlash(filepath.ToSlash(path)[loc[1]:])
		return &Location{Original: path, Area: AreaWinData, Rel: rel}, nil
	}
	if rel, ok := under(hostHome, path); ok {
		return &Location{Original: path, Area: AreaHome, Rel: rel}, nil
	}
	return nil, fmt.Errorf("save path %s is outside the game directory and home", path)
}

func under(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil || rel == "." || escapes(rel) {
		return "", false
	}
	return rel, true
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}
