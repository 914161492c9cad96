// Package trash keeps deleted books and formats inside the library for a
// retention period so they can be restored.
//
// Layout under the library root:
//
//	.caltrash/b/<book_id>/          the whole book directory, plus metadata.json
//	.caltrash/f/<book_id>/<file>    individual format files
package trash

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/util"
)

const (
	DirName      = ".caltrash"
	MetadataName = "metadata.json"

	bookDir   = "b"
	formatDir = "f"
)

// Kind tells book entries from format entries
type Kind string

const (
	KindBook   Kind = "book"
	KindFormat Kind = "format"
)

// Entry is one item in the trash
type Entry struct {
	Kind    Kind
	BookID  int64
	Files   []string // file names inside the entry
	Size    int64
	MovedAt time.Time
}

// Root is the trash directory of a library
func Root(library string) string {
	return filepath.Join(library, DirName)
}

func entryDir(library string, kind Kind, bookID int64) string {
	sub := bookDir
	if kind == KindFormat {
		sub = formatDir
	}
	return filepath.Join(Root(library), sub, strconv.FormatInt(bookID, 10))
}

func touch(path string) {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		util.DebugLog("Failed to touch %s: %v", path, err)
	}
}

// MoveBook moves a book directory into the trash. An older trash entry for
// the same book is replaced.
func MoveBook(library string, bookID int64, dir string, cfg *util.RetryConfig) error {
	if !util.IsWithin(library, dir, true) {
		return fmt.Errorf("%w: %s", util.ErrPathEscapesLibrary, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		return util.NewFSError(dir, err)
	}
	dest := entryDir(library, KindBook, bookID)
	if err := util.RetryableRemoveAll(dest, cfg); err != nil {
		return err
	}
	if err := util.RetryableMkdirAll(filepath.Dir(dest), 0755, cfg); err != nil {
		return err
	}
	if err := moveTree(dir, dest, cfg); err != nil {
		return fmt.Errorf("failed to move %s to trash: %w", dir, err)
	}
	touch(dest)

	parent := filepath.Dir(dir)
	if empty, _ := util.IsDirEmpty(parent); empty && util.IsWithin(library, parent, true) {
		util.RetryableRemove(parent, cfg)
	}
	util.DebugLog("Moved book %d to trash", bookID)
	return nil
}

// MoveFormat moves one format file into the trash
func MoveFormat(library string, bookID int64, path string, cfg *util.RetryConfig) error {
	if !util.IsWithin(library, path, true) {
		return fmt.Errorf("%w: %s", util.ErrPathEscapesLibrary, path)
	}
	dest := entryDir(library, KindFormat, bookID)
	if err := util.RetryableMkdirAll(dest, 0755, cfg); err != nil {
		return err
	}
	target := filepath.Join(dest, filepath.Base(path))
	if err := moveFile(path, target, cfg); err != nil {
		return fmt.Errorf("failed to move %s to trash: %w", path, err)
	}
	touch(dest)
	return nil
}

// WriteMetadata stores the metadata snapshot that travels with a book
func WriteMetadata(dir string, data []byte) error {
	path := filepath.Join(dir, MetadataName)
	if err := os.WriteFile(path+".part", data, 0644); err != nil {
		return util.NewFSError(path, err)
	}
	return util.RetryableRename(path+".part", path, nil)
}

// List returns every trash entry of a library, books first
func List(library string) ([]Entry, error) {
	var out []Entry
	for _, kind := range []Kind{KindBook, KindFormat} {
		sub := filepath.Dir(entryDir(library, kind, 0))
		dirs, err := os.ReadDir(sub)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, util.NewFSError(sub, err)
		}
		for _, d := range dirs {
			id, err := strconv.ParseInt(d.Name(), 10, 64)
			if err != nil || !d.IsDir() {
				continue
			}
			e, err := readEntry(filepath.Join(sub, d.Name()), kind, id)
			if err != nil {
				util.WarnLog("Skipping unreadable trash entry %s: %v", d.Name(), err)
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindBook
		}
		return out[i].BookID < out[j].BookID
	})
	return out, nil
}

func readEntry(dir string, kind Kind, id int64) (Entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Kind: kind, BookID: id, MovedAt: info.ModTime()}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if rel != MetadataName {
			e.Files = append(e.Files, filepath.ToSlash(rel))
		}
		e.Size += fi.Size()
		return nil
	})
	sort.Strings(e.Files)
	return e, err
}

// Expire removes entries older than retention and returns how many went
func Expire(library string, retention time.Duration, now time.Time, cfg *util.RetryConfig) (int, error) {
	entries, err := List(library)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if now.Sub(e.MovedAt) < retention {
			continue
		}
		if err := util.RetryableRemoveAll(entryDir(library, e.Kind, e.BookID), cfg); err != nil {
			util.WarnLog("Failed to expire trash entry %s/%d: %v", e.Kind, e.BookID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Empty removes the whole trash of a library
func Empty(library string, cfg *util.RetryConfig) error {
	return util.RetryableRemoveAll(Root(library), cfg)
}

// ReadMetadata returns the snapshot stored with a trashed book
func ReadMetadata(library string, bookID int64) ([]byte, error) {
	path := filepath.Join(entryDir(library, KindBook, bookID), MetadataName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.NewFSError(path, err)
	}
	return data, nil
}

// TakeBook moves the files of a trashed book into dest and drops the entry.
// The metadata snapshot is not copied.
func TakeBook(library string, bookID int64, dest string, cfg *util.RetryConfig) error {
	src := entryDir(library, KindBook, bookID)
	if _, err := os.Stat(src); err != nil {
		return util.NewFSError(src, err)
	}
	os.Remove(filepath.Join(src, MetadataName))
	if err := util.RetryableMkdirAll(filepath.Dir(dest), 0755, cfg); err != nil {
		return err
	}
	if err := moveTree(src, dest, cfg); err != nil {
		return fmt.Errorf("failed to restore book %d: %w", bookID, err)
	}
	return nil
}

// FormatFile finds a trashed format of a book by extension
func FormatFile(library string, bookID int64, format string) (string, bool) {
	dir := entryDir(library, KindFormat, bookID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	ext := "." + strings.ToLower(format)
	for _, e := range entries {
		if strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// DropFormat removes a trashed format file, and its entry once empty
func DropFormat(library string, path string, cfg *util.RetryConfig) error {
	if err := util.RetryableRemove(path, cfg); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if empty, _ := util.IsDirEmpty(dir); empty {
		return util.RetryableRemove(dir, cfg)
	}
	return nil
}

// moveTree renames src to dest, copying when a rename is impossible
func moveTree(src, dest string, cfg *util.RetryConfig) error {
	if err := util.RetryableRename(src, dest, cfg); err == nil {
		return nil
	}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return util.RetryableMkdirAll(target, 0755, cfg)
		}
		return copyFile(path, target, cfg)
	})
	if err != nil {
		return err
	}
	return util.RetryableRemoveAll(src, cfg)
}

func moveFile(src, dest string, cfg *util.RetryConfig) error {
	if err := util.RetryableRename(src, dest, cfg); err == nil {
		return nil
	}
	if err := copyFile(src, dest, cfg); err != nil {
		return err
	}
	return util.RetryableRemove(src, cfg)
}

func copyFile(src, dest string, cfg *util.RetryConfig) error {
	in, err := util.RetryableOpen(src, cfg)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := util.RetryableCreate(dest+".part", cfg)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest + ".part")
		return util.NewFSError(dest, err)
	}
	if err := out.Close(); err != nil {
		return util.NewFSError(dest, err)
	}
	return util.RetryableRename(dest+".part", dest, cfg)
}
