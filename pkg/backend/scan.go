package backend

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Bits is the word size of a native library.
type Bits int

const (
	Bits32 Bits = 32
	Bits64 Bits = 64
)

func (b Bits) dir() string {
	if b == Bits32 {
		return "x32"
	}
	return "x64"
}

var (
	hints64 = map[string]bool{"x64": true, "win64": true, "amd64": true, "x86_64": true, "64": true, "bin64": true, "linux64": true}
	hints32 = map[string]bool{"x86": true, "win32": true, "i386": true, "i686": true, "32": true, "bin32": true, "linux32": true}
)

// Bitness classifies a library found at rel (relative to the game dir).
//
// An ELF header is authoritative, since Linux library names carry no width.
// Otherwise the file name decides (steam_api64.dll, EOSSDK-Win32-...), then
// directory names, then a PE header. A DLL with no other evidence is 32-bit,
// matching the unsuffixed Windows names.
func Bitness(rel string, header []byte) Bits {
	if b, ok := elfBits(header); ok {
		return b
	}

	name := strings.ToLower(filepath.Base(rel))
	switch {
	case strings.Contains(name, "64"):
		return Bits64
	case strings.Contains(name, "win32"):
		return Bits32
	}

	dirs := strings.Split(strings.ToLower(filepath.ToSlash(filepath.Dir(rel))), "/")
	for i := len(dirs) - 1; i >= 0; i-- {
		switch {
		case hints64[dirs[i]]:
			return Bits64
		case hints32[dirs[i]]:
			return Bits32
		}
	}

	if b, ok := peBits(header); ok {
		return b
	}
	if strings.HasSuffix(name, ".dll") {
		return Bits32
	}
	return Bits64
}

func elfBits(h []byte) (Bits, bool) {
	if len(h) < 5 || string(h[:4]) != "\x7fELF" {
		return 0, false
	}
	switch h[4] {
	case 1:
		return Bits32, true
	case 2:
		return Bits64, true
	}
	return 0, false
}

func peBits(h []byte) (Bits, bool) {
	if len(h) < 0x40 || string(h[:2]) != "MZ" {
		return 0, false
	}
	off := int(binary.LittleEndian.Uint32(h[0x3c:]))
	if off < 0 || off+6 > len(h) || string(h[off:off+4]) != "PE\x00\x00" {
		return 0, false
	}
	switch binary.LittleEndian.Uint16(h[off+4:]) {
	case 0x8664, 0xaa64:
		return Bits64, true
	case 0x14c:
		return Bits32, true
	}
	return 0, false
}

// readHeader returns the first bytes of a file, enough for ELF and PE.
func readHeader(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := io.ReadFull(f, buf)
	return buf[:n]
}

// foundLib is a library located in the game tree.
type foundLib struct {
	// Rel is the path relative to the game directory.
	Rel   string
	Bits  Bits
	Linux bool
}

// findLibs walks gameDir for files whose lower-cased name is in names.
func findLibs(gameDir string, names ...string) ([]foundLib, error) {
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	var libs []foundLib
	err := filepath.WalkDir(gameDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == gameDir {
				return err
			}
			return nil
		}
		if d.IsDir() || !want[strings.ToLower(d.Name())] {
			return nil
		}
		rel, err := filepath.Rel(gameDir, path)
		if err != nil {
			return err
		}
		libs = append(libs, foundLib{
			Rel:   rel,
			Bits:  Bitness(rel, readHeader(path)),
			Linux: strings.HasSuffix(strings.ToLower(d.Name()), ".so"),
		})
		return nil
	})
	return libs, err
}

// findPrefix reports whether gameDir holds a file whose name starts with
// prefix and ends with suffix (case-insensitive).
func findPrefix(gameDir, prefix, suffix string) bool {
	prefix, suffix = strings.ToLower(prefix), strings.ToLower(suffix)
	found := false
	filepath.WalkDir(gameDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		n := strings.ToLower(d.Name())
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
