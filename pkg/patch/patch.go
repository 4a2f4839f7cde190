// Package patch rewrites keys in plain-text game configuration files.
//
// The file format is guessed from its content: `key=value`, `set key "value"`
// (Source engine cfg style) or `key value`. When no format dominates, keys are
// matched literally at the start of a line. Only the value part of a matching
// line is replaced; indentation, separators and every other line are kept.
package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// ErrKeyNotFound is returned when an existing file has no line for a key.
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidValue is returned for values the detected format cannot carry.
var ErrInvalidValue = errors.New("invalid value")

// Format is a detected configuration file syntax.
type Format int

const (
	KeyValue Format = iota
	SetCommand
	SpaceSeparated
	Literal
)

func (f Format) String() string {
	switch f {
	case KeyValue:
		return "key=value"
	case SetCommand:
		return "set"
	case SpaceSeparated:
		return "key value"
	default:
		return "literal"
	}
}

var (
	reKeyValue = regexp.MustCompile(`^\s*[^\s=#;]+\s*=`)
	reSet      = regexp.MustCompile(`^\s*set[a-z]?\s+\S+\s+"`)
	reSpace    = regexp.MustCompile(`^\s*[^\s=#;"]+[ \t]+\S`)
)

func isComment(trimmed string) bool {
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, ";") ||
		strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "[")
}

// Detect guesses the format of content. A format wins when more than half of
// the meaningful lines use it. Empty content is treated as key=value.
func Detect(content string) Format {
	var total, kv, set, space int
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if isComment(strings.TrimSpace(line)) {
			continue
		}
		total++
		switch {
		case reSet.MatchString(line):
			set++
		case reKeyValue.MatchString(line):
			kv++
		case reSpace.MatchString(line):
			space++
		}
	}
	if total == 0 {
		return KeyValue
	}
	switch {
	case set*2 > total:
		return SetCommand
	case kv*2 > total:
		return KeyValue
	case space*2 > total:
		return SpaceSeparated
	}
	return Literal
}

// lineMatcher returns the regexp locating key in a line of format f. Group 1
// is everything kept before the value; group 2 is the value; group 3 is kept
// after it.
func lineMatcher(f Format, key string) *regexp.Regexp {
	k := regexp.QuoteMeta(key)
	switch f {
	case SetCommand:
		return regexp.MustCompile(`^(\s*set[a-z]?\s+` + k + `\s+")([^"]*)(".*)$`)
	case KeyValue:
		return regexp.MustCompile(`^(\s*` + k + `\s*=\s*)(.*?)(\s*)$`)
	case SpaceSeparated:
		return regexp.MustCompile(`^(\s*` + k + `[ \t]+)(.*?)(\s*)$`)
	default:
		return regexp.MustCompile(`^(\s*` + k + `(?:\s*[=:]\s*|[ \t]+))(.*?)(\s*)$`)
	}
}

// checkValue rejects values that would change the line structure. Source
// cfg strings have no escape for a double quote.
func checkValue(f Format, key, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: %s contains a line break", ErrInvalidValue, key)
	}
	if f == SetCommand && strings.Contains(value, `"`) {
		return fmt.Errorf("%w: %s contains a double quote", ErrInvalidValue, key)
	}
	return nil
}

func newLine(f Format, key, value string) string {
	switch f {
	case SetCommand:
		return fmt.Sprintf(`set %s "%s"`, key, value)
	case SpaceSeparated:
		return key + " " + value
	default:
		return key + "=" + value
	}
}

// Apply rewrites content so every key in patches carries its new value.
// When exists is false the content is a fresh file and missing keys are
// appended; otherwise a missing key is an ErrKeyNotFound failure.
func Apply(content string, exists bool, patches map[string]string) (string, error) {
	format := Detect(content)

	crlf := strings.Contains(content, "\r\n")
	lines := strings.Split(content, "\n")
	trailingNewline := len(lines) > 0 && lines[len(lines)-1] == ""
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	keys := make([]string, 0, len(patches))
	for k := range patches {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := patches[key]
		if err := checkValue(format, key, value); err != nil {
			return "", err
		}
		// Outside quotes the separators swallow surrounding blanks, so a
		// padded value would grow on every pass.
		if format != SetCommand {
			value = strings.TrimSpace(value)
		}
		re := lineMatcher(format, key)
		found := false
		for i, line := range lines {
			if isComment(strings.TrimSpace(line)) {
				continue
			}
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			lines[i] = m[1] + value + m[3]
			found = true
		}
		if found {
			continue
		}
		if exists {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		lines = append(lines, newLine(format, key, value))
		trailingNewline = true
	}

	sep := "\n"
	if crlf {
		sep = "\r\n"
	}
	out := strings.Join(lines, sep)
	if trailingNewline {
		out += sep
	}
	return out, nil
}

// ApplyFile patches gameDir/rel and writes the result to layerDir/rel. The
// source file is never modified.
func ApplyFile(gameDir, layerDir, rel string, patches map[string]string) error {
	clean, err := relPath(rel)
	if err != nil {
		return err
	}

	exists := true
	raw, err := os.ReadFile(filepath.Join(gameDir, clean))
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		exists = false
	}

	out, err := Apply(string(raw), exists, patches)
	if err != nil {
		return fmt.Errorf("patch %s: %w", rel, err)
	}

	dst := filepath.Join(layerDir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create patch dir: %w", err)
	}
	return os.WriteFile(dst, []byte(out), 0644)
}

// BuildLayer writes every patched file into layerDir. It returns false when
// there was nothing to patch.
func BuildLayer(gameDir, layerDir string, files map[string]map[string]string) (bool, error) {
	if len(files) == 0 {
		return false, nil
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := ApplyFile(gameDir, layerDir, name, files[name]); err != nil {
			return false, err
		}
	}
	return true, nil
}

func relPath(rel string) (string, error) {
	clean := filepath.Clean(strings.TrimPrefix(rel, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid patch path %q", rel)
	}
	return clean, nil
}
