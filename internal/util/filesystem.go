package util

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// SQLiteURI turns a database path into a file: URI carrying query. The path
// is escaped so directories holding '?', '#' or '%' survive.
func SQLiteURI(path, query string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path // C:/x becomes /C:/x
	}
	u := url.URL{Scheme: "file", Path: path, RawQuery: query}
	return u.String()
}

// DetectFilesystemCaseSensitivity probes dir by creating a mixed-case file
// and checking whether its lowercase name resolves to the same file.
func DetectFilesystemCaseSensitivity(dir string) (bool, error) {
	probe, err := os.CreateTemp(dir, "CaseProbe-*.tmp")
	if err != nil {
		return true, fmt.Errorf("failed to create case probe: %w", err)
	}
	name := probe.Name()
	probe.Close()
	defer os.Remove(name)

	lower := filepath.Join(filepath.Dir(name), strings.ToLower(filepath.Base(name)))
	if lower == name {
		return true, nil
	}
	_, err = os.Stat(lower)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return true, err
}

// NormalizePath cleans a path and, on case-insensitive filesystems, lowercases it
// so it can be used as a comparison key.
func NormalizePath(path string, caseSensitive bool) string {
	cleaned := filepath.Clean(path)
	if caseSensitive {
		return cleaned
	}
	return strings.ToLower(cleaned)
}

// PathsEqual reports whether two paths refer to the same location
func PathsEqual(path1, path2 string, caseSensitive bool) bool {
	return NormalizePath(path1, caseSensitive) == NormalizePath(path2, caseSensitive)
}

// IsDirEmpty reports whether dir has no entries. A missing dir counts as empty.
func IsDirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// IsWithin reports whether path lies strictly inside root. Both are cleaned
// and made absolute first.
func IsWithin(root, path string, caseSensitive bool) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	r := NormalizePath(absRoot, caseSensitive)
	p := NormalizePath(absPath, caseSensitive)
	if r == p {
		return false
	}
	return strings.HasPrefix(p, strings.TrimSuffix(r, string(filepath.Separator))+string(filepath.Separator))
}

// StateDir is where shelfdb keeps per-user state such as task queues
func StateDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(base, "shelfdb"), nil
}
