// Package savesync keeps a game's save data consistent between the original
// save location, a designated master profile and the profiles taking part in
// a session.
//
// At session start the master is refreshed from the original, guests are
// seeded fresh from the master (or the original) and named profiles inherit
// only when they have no saves yet. At session end, with sync-back enabled,
// the master's saves replace the original. Every overwrite of the original
// or the master is preceded by a timestamped backup.
package savesync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"splitux/pkg/disk"
	"splitux/pkg/identity"
	"splitux/pkg/instance"
	"splitux/pkg/profile"
)

// DefaultKeep is the number of backups retained per handler.
const DefaultKeep = 5

var steamIDRe = regexp.MustCompile(identity.SteamIDPattern)

// Participant is one profile taking part in the session.
type Participant struct {
	Profile string
	Paths   profile.Paths
}

// Options configure a Syncer.
type Options struct {
	Location *Location
	// Remap rewrites Steam ids embedded in file names.
	Remap    bool
	SyncBack bool
	// Master is the master profile name, or "".
	Master      string
	MasterPaths profile.Paths
	// BackupDir holds this handler's backups.
	BackupDir string
	Keep      int
}

// Syncer runs the session start and end steps for one handler.
type Syncer struct {
	opts Options
	now  func() time.Time

	// originalID is the id found in the original location before any copy.
	originalID string
}

func New(opts Options) *Syncer {
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	return &Syncer{opts: opts, now: time.Now}
}

// OriginalID returns the Steam id detected in the original location.
func (s *Syncer) OriginalID() string { return s.originalID }

// Start prepares every participant's saves. Failures are collected per
// profile; a failed master refresh stops nothing else.
func (s *Syncer) Start(parts []Participant) error {
	loc := s.opts.Location
	s.originalID = detectID(loc.Original)

	var errs []error
	source := loc.Original
	if s.opts.Master != "" {
		master := loc.In(s.opts.MasterPaths)
		if exists(loc.Original) {
			err := s.backup(backupSet(loc.Original, s.opts.Master, master))
			if err == nil {
				err = s.copyInto(loc.Original, master, s.opts.Master)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("refresh master %s: %w", s.opts.Master, err))
			} else {
				slog.Info("Refreshed master profile", "profile", s.opts.Master, "from", loc.Original)
			}
		}
		source = master
	}

	for _, p := range parts {
		if p.Profile == s.opts.Master {
			continue
		}
		dst := loc.In(p.Paths)
		switch {
		case instance.IsGuest(p.Profile):
			if err := s.copyInto(source, dst, p.Profile); err != nil {
				errs = append(errs, fmt.Errorf("seed guest %s: %w", p.Profile, err))
			}
		case disk.HasFiles(dst):
			slog.Debug("Keeping existing saves", "profile", p.Profile)
		default:
			if err := s.copyInto(source, dst, p.Profile); err != nil {
				errs = append(errs, fmt.Errorf("seed profile %s: %w", p.Profile, err))
			}
		}
	}
	return errors.Join(errs...)
}

// End copies the master's saves (or, without a master, the first named
// participant's) back to the original location when sync-back is enabled.
func (s *Syncer) End(parts []Participant) error {
	if !s.opts.SyncBack {
		return nil
	}
	from, ok := s.syncSource(parts)
	if !ok {
		slog.Debug("No profile to sync back")
		return nil
	}

	loc := s.opts.Location
	src := loc.In(from.Paths)
	if !exists(src) {
		return nil
	}
	id := s.originalID
	if id == "" {
		id = detectID(loc.Original)
	}

	if err := s.backup(backupSet(loc.Original, from.Profile, src)); err != nil {
		return err
	}
	if err := disk.ClearDir(loc.Original); err != nil {
		return fmt.Errorf("clear original saves: %w", err)
	}

	var rename func(string) string
	if s.opts.Remap && id != "" {
		rename = func(rel string) string { return steamIDRe.ReplaceAllString(rel, id) }
	} else if s.opts.Remap {
		slog.Info("No original Steam id detected, syncing back without remapping", "profile", from.Profile)
	}
	if err := disk.CopyTree(src, loc.Original, rename); err != nil {
		return fmt.Errorf("sync back %s: %w", from.Profile, err)
	}
	slog.Info("Synced saves back", "profile", from.Profile, "to", loc.Original)
	return nil
}

func (s *Syncer) syncSource(parts []Participant) (Participant, bool) {
	if s.opts.Master != "" {
		i := slices.IndexFunc(parts, func(p Participant) bool { return p.Profile == s.opts.Master })
		if i < 0 {
			return Participant{}, false
		}
		return parts[i], true
	}
	i := slices.IndexFunc(parts, func(p Participant) bool { return !instance.IsGuest(p.Profile) })
	if i < 0 {
		return Participant{}, false
	}
	return parts[i], true
}

// copyInto replaces dst with a copy of src, rewriting ids for profile.
func (s *Syncer) copyInto(src, dst, profileName string) error {
	if err := disk.ClearDir(dst); err != nil {
		return err
	}
	if !exists(src) {
		return nil
	}
	var rename func(string) string
	if s.opts.Remap {
		id := strconv.FormatUint(identity.SteamID(profileName), 10)
		rename = func(rel string) string { return steamIDRe.ReplaceAllString(rel, id) }
	}
	return disk.CopyTree(src, dst, rename)
}

func backupSet(original, profileName, profileDir string) map[string]string {
	set := map[string]string{"original": original}
	set["profile-"+profileName] = profileDir
	return set
}

// backup copies each existing source to <backups>/<stamp>/<label> and prunes
// old backups.
func (s *Syncer) backup(items map[string]string) error {
	stamp := s.now().UTC().Format("20060102T150405.000000000")
	dir := filepath.Join(s.opts.BackupDir, stamp)
	for n := 1; exists(dir); n++ {
		dir = filepath.Join(s.opts.BackupDir, fmt.Sprintf("%s-%d", stamp, n))
	}
	for label, src := range items {
		if !exists(src) {
			continue
		}
		if err := disk.CopyTree(src, filepath.Join(dir, label), nil); err != nil {
			return fmt.Errorf("backup %s: %w", label, err)
		}
	}
	return s.prune()
}

func (s *Syncer) prune() error {
	entries, err := os.ReadDir(s.opts.BackupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	for len(names) > s.opts.Keep {
		if err := os.RemoveAll(filepath.Join(s.opts.BackupDir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

// detectID returns the first Steam id embedded in a path below root.
func detectID(root string) string {
	var id string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if m := steamIDRe.FindString(rel); m != "" {
			id = m
			return fs.SkipAll
		}
		return nil
	})
	return id
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
