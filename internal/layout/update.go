package layout

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/shelfdb/internal/util"
)

// folderMove copies the files of one book directory. On Windows it holds
// exclusive handles until closed.
type folderMove interface {
	CopyFile(src, dest string) error
	DeleteOriginals() error
	Close() error
}

// BookFiles is what UpdatePath needs to know about a book
type BookFiles struct {
	ID      int64
	Title   string
	Author  string // first author
	Path    string // current library-relative path, may be empty
	Formats map[string]string
}

// Commit records the new location of a book in the database. It runs after
// the files are copied and before the originals are removed.
type Commit func(path string, names map[string]string) error

// TargetPath returns the path and format file name b should have
func TargetPath(b BookFiles) (string, string) {
	path := ConstructPathName(b.ID, b.Title, b.Author)
	fname, err := ConstructFileName(b.ID, b.Title, b.Author, 0)
	if err != nil {
		fname = unknown
	}
	return path, fname
}

// NeedsUpdate reports whether a book's directory or file names have drifted
// from its title and author
func NeedsUpdate(b BookFiles) bool {
	path, fname := TargetPath(b)
	if path != b.Path {
		return true
	}
	for _, name := range b.Formats {
		if name != "" && name != fname {
			return true
		}
	}
	return false
}

// UpdatePath moves a book's files to the location its title and author
// dictate. Files are copied first, then commit records the move, and only
// then are the originals removed, so an interrupted move never loses data.
// Files the book does not track, such as metadata.opf, move along with it.
// It returns false when nothing needed to change.
func (l *Layout) UpdatePath(b BookFiles, commit Commit) (bool, error) {
	if !NeedsUpdate(b) {
		return false, nil
	}
	path, fname := TargetPath(b)

	spath := ""
	if b.Path != "" {
		spath = l.BookDir(b.Path)
	}
	tpath := l.BookDir(path)
	sourceOK := spath != "" && exists(spath)

	var mover folderMove
	if sourceOK {
		m, err := openFolderMove(l, spath)
		if err != nil {
			return false, fmt.Errorf("failed to lock %s: %w", spath, err)
		}
		mover = m
		defer mover.Close()
	}

	if err := util.RetryableMkdirAll(tpath, 0755, l.fs.Retry); err != nil {
		return false, fmt.Errorf("failed to create book directory: %w", err)
	}

	sameDir := false
	if sourceOK {
		sameDir, _ = sameFile(spath, tpath)
	}

	names := make(map[string]string, len(b.Formats))
	formatMap := make(map[string]string)
	originalMap := make(map[string]string)
	var moved []string
	if sourceOK {
		handled := make(map[string]bool)
		if src := filepath.Join(spath, CoverFileName); exists(src) {
			if err := mover.CopyFile(src, filepath.Join(tpath, CoverFileName)); err != nil {
				return false, fmt.Errorf("failed to copy cover: %w", err)
			}
			handled[l.pathKey(src)] = true
			moved = append(moved, src)
		}
		for format, oldName := range b.Formats {
			dest := filepath.Join(tpath, FormatFileName(fname, format))
			src, ok := l.FormatAbspath(b.Path, oldName, format)
			if !ok {
				util.WarnLog("Format %s of book %d is missing from %s", format, b.ID, b.Path)
				continue
			}
			formatMap[format] = dest
			originalMap[format] = src
			if err := mover.CopyFile(src, dest); err != nil {
				return false, fmt.Errorf("failed to copy %s: %w", format, err)
			}
			handled[l.pathKey(src)] = true
			moved = append(moved, src)
		}
		if !sameDir {
			extra, err := l.copyOtherFiles(mover, spath, tpath, handled)
			if err != nil {
				return false, err
			}
			moved = append(moved, extra...)
		}
	}
	for format := range b.Formats {
		names[format] = fname
	}

	if err := commit(path, names); err != nil {
		return false, err
	}

	if sourceOK && exists(spath) {
		if sameDir {
			// Folder unchanged but the file names moved on
			for format, opath := range originalMap {
				npath := formatMap[format]
				if npath == "" || strings.EqualFold(npath, opath) {
					continue
				}
				if exists(npath) {
					util.RetryableRemove(opath, l.fs.Retry)
				}
			}
		} else {
			if err := mover.DeleteOriginals(); err != nil {
				util.WarnLog("Failed to delete original files in %s: %v", spath, err)
			}
			mover.Close()
			if l.IsDeletable(spath) {
				for _, p := range moved {
					if !exists(p) {
						continue
					}
					if err := util.RetryableRemove(p, l.fs.Retry); err != nil {
						util.WarnLog("Failed to remove %s: %v", p, err)
					}
				}
				l.removeEmptyDirs(spath)
				l.removeIfEmpty(filepath.Dir(spath))
			}
		}
	}

	if !l.caseSensitive && b.Path != "" {
		l.fixCase(b.Path, path)
	}
	return true, nil
}

// fixCase renames path segments that differ from the target only in case.
// A case-insensitive filesystem treats them as the same directory, so the
// copy above leaves the old spelling in place.
func (l *Layout) fixCase(oldPath, newPath string) {
	c1, c2 := strings.Split(oldPath, "/"), strings.Split(newPath, "/")
	if len(c1) != len(c2) {
		return
	}
	cur := l.root
	for i := range c1 {
		if c1[i] != c2[i] && strings.EqualFold(c1[i], c2[i]) {
			if err := os.Rename(filepath.Join(cur, c1[i]), filepath.Join(cur, c2[i])); err != nil {
				util.WarnLog("Failed to fix case of %s: %v", filepath.Join(cur, c1[i]), err)
				return
			}
		}
		cur = filepath.Join(cur, c2[i])
	}
}

// copyOtherFiles copies every regular file under spath that is not in
// handled to the same relative place under tpath. It returns the copied
// originals.
func (l *Layout) copyOtherFiles(mover folderMove, spath, tpath string, handled map[string]bool) ([]string, error) {
	var copied []string
	err := filepath.WalkDir(spath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || handled[l.pathKey(path)] {
			return nil
		}
		rel, err := filepath.Rel(spath, path)
		if err != nil {
			return err
		}
		if err := mover.CopyFile(path, filepath.Join(tpath, rel)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		copied = append(copied, path)
		return nil
	})
	return copied, err
}

// removeEmptyDirs removes dir and the directories below it, deepest first,
// as long as they are empty
func (l *Layout) removeEmptyDirs(dir string) {
	var dirs []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		l.removeIfEmpty(dirs[i])
	}
}

// pathKey folds a path for comparison on case-insensitive filesystems
func (l *Layout) pathKey(p string) string {
	p = filepath.Clean(p)
	if !l.caseSensitive {
		return strings.ToLower(p)
	}
	return p
}

// RemoveBookDir permanently deletes a book directory and its parent when the
// parent is left empty
func (l *Layout) RemoveBookDir(path string) error {
	dir := l.BookDir(path)
	if path == "" || !l.IsDeletable(dir) {
		return fmt.Errorf("%w: %s", util.ErrPathEscapesLibrary, dir)
	}
	if err := util.RetryableRemoveAll(dir, l.fs.Retry); err != nil {
		return err
	}
	l.removeIfEmpty(filepath.Dir(dir))
	return nil
}
