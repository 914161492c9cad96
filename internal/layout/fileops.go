package layout

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/franz/shelfdb/internal/util"
)

// writeAtomic streams r into dest through a .part file and renames it over
// any existing file
func (l *Layout) writeAtomic(dest string, r io.Reader) (int64, error) {
	if err := util.RetryableMkdirAll(filepath.Dir(dest), 0755, l.fs.Retry); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := dest + ".part"
	f, err := util.RetryableCreate(tempPath, l.fs.Retry)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.CopyBuffer(f, r, make([]byte, l.fs.BufferSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		util.RetryableRemove(tempPath, l.fs.Retry)
		return 0, util.NewFSError(dest, fmt.Errorf("failed to write: %w", err))
	}

	if err := util.RetryableRename(tempPath, dest, l.fs.Retry); err != nil {
		util.RetryableRemove(tempPath, l.fs.Retry)
		return 0, fmt.Errorf("failed to rename: %w", err)
	}

	util.DebugLog("Wrote: %s (%s)", dest, humanize.Bytes(uint64(written)))
	return written, nil
}

// copyFile copies src to dest atomically
func (l *Layout) copyFile(src, dest string) (int64, error) {
	in, err := util.RetryableOpen(src, l.fs.Retry)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()
	return l.writeAtomic(dest, in)
}

// linkOrCopy hard links src to dest when allowed, falling back to a copy.
// An existing dest is replaced.
func (l *Layout) linkOrCopy(src, dest string, useHardlink bool) error {
	if same, _ := sameFile(src, dest); same {
		return nil
	}
	if useHardlink && l.useHardlinks {
		if err := util.RetryableMkdirAll(filepath.Dir(dest), 0755, l.fs.Retry); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		util.RetryableRemove(dest, l.fs.Retry)
		if err := util.RetryableLink(src, dest, l.fs.Retry); err == nil {
			util.DebugLog("Hardlinked: %s -> %s", src, dest)
			return nil
		}
	}
	_, err := l.copyFile(src, dest)
	return err
}

// sameFile reports whether both paths exist and are the same file
func sameFile(a, b string) (bool, error) {
	sa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(sa, sb), nil
}

// removeIfEmpty removes dir when it has no entries left
func (l *Layout) removeIfEmpty(dir string) {
	if !util.IsWithin(l.root, dir, l.caseSensitive) {
		return
	}
	empty, err := util.IsDirEmpty(dir)
	if err != nil || !empty {
		return
	}
	if err := util.RetryableRemove(dir, l.fs.Retry); err != nil {
		util.WarnLog("Failed to remove empty directory %s: %v", dir, err)
	}
}

// CopyTree copies every regular file under src to the same relative location
// under dst. With link set, files are hard linked where hardlinks are enabled.
func (l *Layout) CopyTree(src, dst string, link bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return util.RetryableMkdirAll(target, 0755, l.fs.Retry)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return l.linkOrCopy(path, target, link)
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
