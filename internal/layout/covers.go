package layout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/shelfdb/internal/util"
)

// ImageOps re-encodes cover data before it is stored
type ImageOps interface {
	SaveCoverDataTo(data []byte, path string) error
}

// CoverPath is the absolute cover path of a book directory
func (l *Layout) CoverPath(path string) string {
	return filepath.Join(l.BookDir(path), CoverFileName)
}

// CoverOrCache reads the cover of path. When since equals the cover's mtime
// the data is not read and nil is returned, so callers can cheaply probe for
// changes.
func (l *Layout) CoverOrCache(path string, since time.Time) (bool, []byte, time.Time, error) {
	cover := l.CoverPath(path)
	info, err := os.Stat(cover)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil, time.Time{}, nil
	}
	if err != nil {
		return false, nil, time.Time{}, util.NewFSError(cover, err)
	}
	mtime := info.ModTime()
	if !since.IsZero() && since.Equal(mtime) {
		return true, nil, mtime, nil
	}
	data, err := util.RetryWithBackoff(l.fs.Retry, func() ([]byte, error) {
		return os.ReadFile(cover)
	}, fmt.Sprintf("read(%s)", cover))
	if err != nil {
		return false, nil, time.Time{}, util.NewFSError(cover, err)
	}
	return true, data, mtime, nil
}

// CopyCoverTo streams the cover of path into w. It reports false when the
// book has no cover.
func (l *Layout) CopyCoverTo(path string, w io.Writer) (bool, error) {
	f, err := util.RetryableOpen(l.CoverPath(path), l.fs.Retry)
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := io.CopyBuffer(w, f, make([]byte, l.fs.BufferSize)); err != nil {
		return false, fmt.Errorf("failed to copy cover: %w", err)
	}
	return true, nil
}

// CopyCoverToPath places the cover of path at dest, hard linking when allowed
func (l *Layout) CopyCoverToPath(path, dest string, useHardlink bool) (bool, error) {
	src := l.CoverPath(path)
	if !exists(src) {
		return false, nil
	}
	if err := l.linkOrCopy(src, dest, useHardlink); err != nil {
		return false, err
	}
	return true, nil
}

// WriteCover stores data as the cover of path. A nil ops writes the bytes
// verbatim. Empty data removes the cover.
func (l *Layout) WriteCover(path string, data []byte, ops ImageOps) error {
	cover := l.CoverPath(path)
	if len(data) == 0 {
		return util.RetryableRemove(cover, l.fs.Retry)
	}
	if ops != nil {
		if err := util.RetryableMkdirAll(filepath.Dir(cover), 0755, l.fs.Retry); err != nil {
			return err
		}
		if err := ops.SaveCoverDataTo(data, cover); err != nil {
			return fmt.Errorf("failed to save cover: %w", err)
		}
		return nil
	}
	_, err := l.writeAtomic(cover, bytes.NewReader(data))
	return err
}

// HasCover reports whether a cover file exists for path
func (l *Layout) HasCover(path string) bool {
	return exists(l.CoverPath(path))
}
