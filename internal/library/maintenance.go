package library

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/layout"
	"github.com/franz/shelfdb/internal/prefs"
	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

// Progress is told about each book a long operation handles
type Progress func(item string, done, total int)

// Abort is polled between books; returning true stops the operation
type Abort func() bool

// bookPaths snapshots the path of every book
func (l *Library) bookPaths() map[int64]string {
	var paths map[int64]string
	l.cat.Read([]string{"path"}, func() error {
		paths = make(map[int64]string)
		for _, id := range l.path.Books() {
			p, _ := l.path.Get(id)
			paths[id] = p
		}
		return nil
	})
	return paths
}

// MoveLibraryTo copies the library to newRoot, then deletes the original
// files. The library is closed afterwards and must be opened again at its
// new location. An abort before the database is copied removes whatever was
// already copied and returns util.ErrAborted.
func (l *Library) MoveLibraryTo(newRoot string, progress Progress, abort Abort) error {
	start := time.Now()
	dst, err := filepath.Abs(newRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", newRoot, err)
	}
	if util.PathsEqual(dst, l.root, l.layout.CaseSensitive()) {
		return fmt.Errorf("%w: library is already at %s", util.ErrConflict, dst)
	}
	if _, err := os.Stat(filepath.Join(dst, store.DBName)); err == nil {
		return fmt.Errorf("%w: %s already holds a library", util.ErrConflict, dst)
	}
	if err := layout.CheckLibraryPath(dst, true); err != nil {
		return err
	}
	if err := util.RetryableMkdirAll(dst, 0755, l.fs.Retry); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	// the originals are deleted once the copy is complete, so on one
	// filesystem a hardlink is as good as a copy
	link, _ := util.IsSameFilesystem(l.root, dst)
	paths := l.bookPaths()
	ids := slices.Sorted(maps.Keys(paths))
	var copied []string
	cleanup := func() {
		for _, p := range copied {
			os.RemoveAll(filepath.Join(dst, filepath.FromSlash(p)))
		}
		os.Remove(filepath.Join(dst, store.DBName))
		os.Remove(filepath.Join(dst, prefs.BackupName))
	}

	for i, id := range ids {
		if abort != nil && abort() {
			cleanup()
			l.events.LogLibraryMove(l.root, dst, i, time.Since(start), util.ErrAborted)
			return util.ErrAborted
		}
		p := paths[id]
		if progress != nil {
			progress(p, i, len(ids))
		}
		if p == "" {
			continue
		}
		src := l.layout.BookDir(p)
		if _, err := os.Stat(src); err != nil {
			util.WarnLog("Skipping missing directory of book %d: %s", id, src)
			continue
		}
		if err := l.layout.CopyTree(src, filepath.Join(dst, filepath.FromSlash(p)), link); err != nil {
			cleanup()
			err = fmt.Errorf("failed to copy book %d: %w", id, err)
			l.events.LogLibraryMove(l.root, dst, i, time.Since(start), err)
			return err
		}
		copied = append(copied, p)
	}

	if _, err := l.db.Execute("VACUUM INTO ?", filepath.Join(dst, store.DBName)); err != nil {
		cleanup()
		err = fmt.Errorf("failed to copy %s: %w", store.DBName, err)
		l.events.LogLibraryMove(l.root, dst, len(ids), time.Since(start), err)
		return err
	}
	if err := l.prefs.WriteSerialized(dst); err != nil {
		util.WarnLog("Failed to write preferences backup to %s: %v", dst, err)
	}
	if src := trash.Root(l.root); isDir(src) {
		if err := l.layout.CopyTree(src, trash.Root(dst), link); err != nil {
			util.WarnLog("Failed to copy the trash: %v", err)
		}
	}
	if progress != nil {
		progress(store.DBName, len(ids), len(ids))
	}

	// the copy is complete; from here on only the original is touched
	if err := l.Close(); err != nil {
		util.WarnLog("Failed to close %s: %v", l.root, err)
	}
	for _, p := range copied {
		if err := l.layout.RemoveBookDir(p); err != nil {
			util.WarnLog("Failed to delete %s: %v", p, err)
		}
	}
	for _, name := range []string{store.DBName, store.DBName + "-wal", store.DBName + "-shm", prefs.BackupName} {
		if err := os.Remove(filepath.Join(l.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			util.WarnLog("Failed to delete %s: %v", name, err)
		}
	}
	if err := util.RetryableRemoveAll(trash.Root(l.root), l.fs.Retry); err != nil {
		util.WarnLog("Failed to delete the old trash: %v", err)
	}
	if empty, err := util.IsDirEmpty(l.root); err == nil && empty {
		os.Remove(l.root)
	}

	l.events.LogLibraryMove(l.root, dst, len(ids), time.Since(start), nil)
	util.SuccessLog("Moved library with %d books to %s", len(ids), dst)
	return nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// RebuildPaths moves every book whose directory or file names no longer
// match its title and first author. It returns the number of books moved.
func (l *Library) RebuildPaths(progress Progress, abort Abort) (int, error) {
	paths := l.bookPaths()
	ids := slices.Sorted(maps.Keys(paths))
	moved := 0
	for i, id := range ids {
		if abort != nil && abort() {
			return moved, util.ErrAborted
		}
		if progress != nil {
			progress(paths[id], i, len(ids))
		}
		ok, err := l.updatePath(id)
		if errors.Is(err, util.ErrNotFound) {
			continue
		}
		if err != nil {
			return moved, fmt.Errorf("failed to move book %d: %w", id, err)
		}
		if ok {
			moved++
		}
	}
	util.InfoLog("Rebuilt paths: %d of %d books moved", moved, len(ids))
	return moved, nil
}

type checkedBook struct {
	id    int64
	files layout.BookFiles
	sizes map[string]int64
}

// CheckLibrary compares the database against the files on disk. It only
// reads; nothing is repaired.
func (l *Library) CheckLibrary() (*report.CheckReport, error) {
	start := time.Now()
	var books []checkedBook
	err := l.cat.Read([]string{"authors", "formats", "path", "title"}, func() error {
		for _, id := range l.path.Books() {
			b := checkedBook{id: id, files: l.bookFiles(id), sizes: make(map[string]int64)}
			for _, f := range l.formats.Get(id) {
				fi, _ := l.formats.Info(id, f)
				b.sizes[f] = fi.Size
			}
			books = append(books, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(books, func(a, b checkedBook) int { return int(a.id - b.id) })

	r := &report.CheckReport{GeneratedAt: start, LibraryPath: l.root}
	known := make(map[string]bool)
	for _, b := range books {
		r.BooksChecked++
		path := b.files.Path
		if path == "" {
			continue
		}
		known[l.normalize(path)] = true
		dir := l.layout.BookDir(path)
		if !isDir(dir) {
			r.MissingDirs = append(r.MissingDirs, report.BookProblem{BookID: b.id, Path: path, Detail: "directory missing"})
			continue
		}
		if layout.NeedsUpdate(b.files) {
			want, _ := layout.TargetPath(b.files)
			r.StalePaths = append(r.StalePaths, report.BookProblem{BookID: b.id, Path: path, Detail: "should be " + want})
		}

		owned := map[string]bool{
			layout.CoverFileName: true,
			"metadata.opf":       true,
			trash.MetadataName:   true,
		}
		for _, f := range slices.Sorted(maps.Keys(b.files.Formats)) {
			abs, ok := l.layout.FormatAbspath(path, b.files.Formats[f], f)
			if !ok {
				r.MissingFormats = append(r.MissingFormats, report.BookProblem{BookID: b.id, Path: path, Detail: f})
				continue
			}
			owned[l.normalize(filepath.Base(abs))] = true
			r.FormatsOK++
			r.TotalBytes += b.sizes[f]
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, util.NewFSError(dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || owned[l.normalize(e.Name())] || owned[e.Name()] {
				continue
			}
			r.ExtraFiles = append(r.ExtraFiles, report.BookProblem{BookID: b.id, Path: path, Detail: e.Name()})
		}
	}

	extra, err := l.extraDirs(known)
	if err != nil {
		return nil, err
	}
	r.ExtraDirs = extra

	if entries, err := trash.List(l.root); err == nil {
		r.TrashEntries = len(entries)
		for _, e := range entries {
			r.TrashBytes += e.Size
		}
	} else {
		util.WarnLog("Failed to list the trash: %v", err)
	}

	r.Duration = time.Since(start)
	r.Sort()
	if r.Healthy() {
		util.SuccessLog("Checked %d books, no problems found", r.BooksChecked)
	} else {
		util.WarnLog("Checked %d books, %d problem(s) found", r.BooksChecked, r.Problems())
	}
	return r, nil
}

func (l *Library) normalize(p string) string {
	return util.NormalizePath(filepath.ToSlash(p), l.layout.CaseSensitive())
}

// extraDirs walks the two directory levels a book path uses and returns the
// book-level directories no book claims
func (l *Library) extraDirs(known map[string]bool) ([]string, error) {
	top, err := os.ReadDir(l.root)
	if err != nil {
		return nil, util.NewFSError(l.root, err)
	}
	var out []string
	for _, a := range top {
		if !a.IsDir() || a.Name() == trash.DirName || strings.HasPrefix(a.Name(), ".") {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(l.root, a.Name()))
		if err != nil {
			util.WarnLog("Failed to read %s: %v", a.Name(), err)
			continue
		}
		for _, b := range sub {
			if !b.IsDir() {
				continue
			}
			rel := a.Name() + "/" + b.Name()
			if !known[l.normalize(rel)] {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}
