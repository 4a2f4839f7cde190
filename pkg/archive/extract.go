// Package archive unpacks mod packages and loader runtimes.
//
// The format is sniffed from the first bytes rather than the file name, since
// repository downloads are stored under their content hash without extension.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Format is an archive container format.
type Format int

const (
	Unknown Format = iota
	Zip
	Tar
	TarGz
	TarZst
)

var (
	magicZip  = []byte("PK\x03\x04")
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Sniff detects the format from the leading bytes of an archive.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicZip):
		return Zip
	case bytes.HasPrefix(head, magicGzip):
		return TarGz
	case bytes.HasPrefix(head, magicZstd):
		return TarZst
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return Tar
	}
	return Unknown
}

// Options narrow what Extract writes.
type Options struct {
	// Prefix selects only entries below this archive directory and strips it.
	Prefix string
}

// Extract unpacks the archive at src into dest.
func Extract(src, dest string, opts ...Options) error {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o.Prefix = strings.Trim(normalizeName(o.Prefix), "/")

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 512)
	head, _ := br.Peek(512)

	switch Sniff(head) {
	case Zip:
		st, err := f.Stat()
		if err != nil {
			return err
		}
		return extractZip(f, st.Size(), dest, o)
	case TarGz:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzr.Close()
		return extractTar(gzr, dest, o)
	case TarZst:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		return extractTar(zr, dest, o)
	case Tar:
		return extractTar(br, dest, o)
	}
	return fmt.Errorf("unsupported archive format: %s", src)
}

func extractZip(r io.ReaderAt, size int64, dest string, o Options) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, f := range zr.File {
		err := extractFile(f.Name, f.FileInfo(), dest, o, func() (io.ReadCloser, error) {
			return f.Open()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string, o Options) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg && header.Typeflag != tar.TypeDir {
			continue
		}

		err = extractFile(header.Name, header.FileInfo(), dest, o, func() (io.ReadCloser, error) {
			return io.NopCloser(tr), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// normalizeName turns Windows separators (common in mod zips) into slashes.
func normalizeName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// extractFile writes one entry. opener returns the entry content.
func extractFile(name string, info os.FileInfo, dest string, o Options, opener func() (io.ReadCloser, error)) error {
	name = path.Clean("/" + normalizeName(name))[1:]
	if o.Prefix != "" {
		if name != o.Prefix && !strings.HasPrefix(name, o.Prefix+"/") {
			return nil
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, o.Prefix), "/")
	}
	if name == "" {
		return nil
	}

	target := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path in archive: %s", name)
	}

	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", target, err)
	}

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode|0200)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	defer f.Close()

	rc, err := opener()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", name, err)
	}
	defer rc.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	return nil
}
