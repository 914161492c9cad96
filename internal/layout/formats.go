package layout

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/shelfdb/internal/util"
)

// FormatAbspath returns the on-disk file of a format. When the recorded name
// is stale, any file in the book directory with the right extension is
// renamed to the recorded name and returned instead.
func (l *Layout) FormatAbspath(path, fname, format string) (string, bool) {
	dir := l.BookDir(path)
	want := filepath.Join(dir, FormatFileName(fname, format))
	if _, err := os.Stat(want); err == nil {
		return want, true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	ext := "." + strings.ToLower(format)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			continue
		}
		found := filepath.Join(dir, e.Name())
		if err := util.RetryableRename(found, want, l.fs.Retry); err != nil {
			util.WarnLog("Failed to rename stale format file %s: %v", found, err)
			return found, true
		}
		util.InfoLog("Renamed stale format file %s -> %s", e.Name(), filepath.Base(want))
		return want, true
	}
	return "", false
}

// AddFormat writes r as a format of the book at path and returns the stored
// size and file name. A previous file recorded under currentName is renamed
// first so its case matches the new name.
func (l *Layout) AddFormat(bookID int64, title, author, path, currentName, format string, r io.Reader) (int64, string, error) {
	ext := "." + strings.ToLower(format)
	fname, err := ConstructFileName(bookID, title, author, len(ext))
	if err != nil {
		return 0, "", err
	}
	dir := l.BookDir(path)
	dest := filepath.Join(dir, fname+ext)
	if err := util.RetryableMkdirAll(dir, 0755, l.fs.Retry); err != nil {
		return 0, "", err
	}
	if currentName != "" {
		old := filepath.Join(dir, currentName+ext)
		if old != dest && exists(old) {
			if err := util.RetryableRename(old, dest, l.fs.Retry); err != nil {
				util.WarnLog("Failed to rename %s: %v", old, err)
			}
		}
	}
	if f, ok := r.(*os.File); ok {
		if same, _ := sameFile(f.Name(), dest); same {
			info, err := f.Stat()
			if err != nil {
				return 0, "", util.NewFSError(dest, err)
			}
			return info.Size(), fname, nil
		}
	}
	size, err := l.writeAtomic(dest, r)
	if err != nil {
		return 0, "", err
	}
	return size, fname, nil
}

// CopyFormatTo copies a format file to dest, hard linking when allowed
func (l *Layout) CopyFormatTo(path, fname, format, dest string, useHardlink bool) error {
	src, ok := l.FormatAbspath(path, fname, format)
	if !ok {
		return fmt.Errorf("%w: %s", util.ErrNoSuchFormat, format)
	}
	return l.linkOrCopy(src, dest, useHardlink)
}

// CopyFormatToWriter streams a format file into w
func (l *Layout) CopyFormatToWriter(path, fname, format string, w io.Writer) error {
	src, ok := l.FormatAbspath(path, fname, format)
	if !ok {
		return fmt.Errorf("%w: %s", util.ErrNoSuchFormat, format)
	}
	f, err := util.RetryableOpen(src, l.fs.Retry)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyBuffer(w, f, make([]byte, l.fs.BufferSize))
	return err
}

type hashKey struct {
	path  string
	size  int64
	mtime int64
}

// FormatHash returns the hex SHA-256 of a format file. Results are cached
// until the file's size or mtime changes.
func (l *Layout) FormatHash(path, fname, format string) (string, error) {
	src, ok := l.FormatAbspath(path, fname, format)
	if !ok {
		return "", fmt.Errorf("%w: %s", util.ErrNoSuchFormat, format)
	}
	info, err := util.RetryableStat(src, l.fs.Retry)
	if err != nil {
		return "", err
	}
	key := hashKey{path: src, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if v, ok := l.hashes.Get(key); ok {
		return v.(string), nil
	}
	sum, err := util.HashFile(src, l.fs.Retry)
	if err != nil {
		return "", err
	}
	l.hashes.Add(key, sum)
	return sum, nil
}

// RemoveFiles deletes files inside the library
func (l *Layout) RemoveFiles(paths []string) error {
	var firstErr error
	for _, p := range paths {
		if !l.IsDeletable(p) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", util.ErrPathEscapesLibrary, p)
			}
			continue
		}
		err := util.RetryableRemove(p, l.fs.Retry)
		if err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
