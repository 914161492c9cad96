package library

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/tables"
	"github.com/franz/shelfdb/internal/util"
)

// AddFormat stores r as format of book. With replace false an existing
// format is left alone and false is returned.
func (l *Library) AddFormat(book int64, format string, r io.Reader, replace bool) (bool, error) {
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" || strings.ContainsAny(format, `/\.`) {
		return false, fmt.Errorf("%w: format %q", util.ErrInvalidValue, format)
	}

	var added bool
	var size int64
	var dest string
	locks := []string{"authors", "formats", "last_modified", "path", "size", "title"}
	err := l.cat.Write(locks, func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		cur, has := l.formats.Info(book, format)
		if has && !replace {
			return nil
		}
		b := l.bookFiles(book)
		if b.Path == "" {
			return fmt.Errorf("book %d has no directory", book)
		}
		n, name, err := l.layout.AddFormat(book, b.Title, b.Author, b.Path, cur.Name, format, r)
		if err != nil {
			return fmt.Errorf("failed to write %s of book %d: %w", format, book, err)
		}
		size = n
		dest = l.layout.BookDir(b.Path)

		p := newPending()
		now := time.Now().UTC()
		err = l.db.Transaction(func(tx *store.Tx) error {
			if _, err := tx.Execute(`INSERT INTO data (book, format, uncompressed_size, name) VALUES (?, ?, ?, ?)
				ON CONFLICT(book, format) DO UPDATE SET uncompressed_size=excluded.uncompressed_size, name=excluded.name`,
				book, format, size, name); err != nil {
				return err
			}
			if err := l.touchBooks(tx, []int64{book}, now, p); err != nil {
				return err
			}
			return markDirtied(tx, []int64{book})
		})
		if err != nil {
			return fmt.Errorf("failed to record %s of book %d: %w", format, book, err)
		}
		p.commit()
		l.formats.Set(book, format, tables.FormatInfo{Size: size, Name: name})
		l.refreshSize(book)
		added = true
		return nil
	})
	if added || err != nil {
		l.events.LogFormatAdd(l.root, book, format, dest, size, err)
	}
	return added, err
}

// refreshSize recomputes the size column. The caller holds the formats and
// size write locks.
func (l *Library) refreshSize(book int64) {
	if n, ok := l.formats.MaxSize(book); ok {
		l.size.Set(book, n)
	} else {
		l.size.Delete(book)
	}
}

// RemoveFormats drops formats from books. The files go to the trash unless
// permanent is set.
func (l *Library) RemoveFormats(formats map[int64][]string, permanent bool) error {
	type removed struct {
		format, path string
	}
	files := make(map[int64][]removed)

	locks := []string{"formats", "last_modified", "path", "size"}
	err := l.cat.Write(locks, func() error {
		p := newPending()
		var changed []int64
		err := l.db.Transaction(func(tx *store.Tx) error {
			for _, book := range slices.Sorted(maps.Keys(formats)) {
				path, ok := l.path.Get(book)
				if !ok {
					return fmt.Errorf("book %d: %w", book, util.ErrNotFound)
				}
				for _, f := range formats[book] {
					f = strings.ToUpper(f)
					fi, ok := l.formats.Info(book, f)
					if !ok {
						continue
					}
					if _, err := tx.Execute("DELETE FROM data WHERE book=? AND format=?", book, f); err != nil {
						return err
					}
					abs, _ := l.layout.FormatAbspath(path, fi.Name, f)
					files[book] = append(files[book], removed{f, abs})
					p.do(func() { l.formats.Remove(book, f) })
				}
				if len(files[book]) > 0 {
					changed = append(changed, book)
				}
			}
			if err := l.touchBooks(tx, changed, time.Now().UTC(), p); err != nil {
				return err
			}
			return markDirtied(tx, changed)
		})
		if err != nil {
			return err
		}
		p.commit()
		for _, book := range changed {
			l.refreshSize(book)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove formats: %w", err)
	}

	for _, book := range slices.Sorted(maps.Keys(files)) {
		var paths []string
		for _, rm := range files[book] {
			if rm.path != "" {
				paths = append(paths, rm.path)
			}
			l.events.LogFormatRemove(l.root, book, rm.format, rm.path)
		}
		if len(paths) == 0 {
			continue
		}
		if permanent {
			if err := l.layout.RemoveFiles(paths); err != nil {
				util.WarnLog("Failed to delete format files of book %d: %v", book, err)
			}
			continue
		}
		l.trash.DeleteFiles(l.root, book, paths)
	}
	return nil
}

// SetCover stores data as the cover of book; empty data removes it. Unless
// noProcessing is set the data passes through the configured image
// operations first.
func (l *Library) SetCover(book int64, data []byte, noProcessing bool) error {
	path, ok := l.bookPath(book)
	if !ok {
		return fmt.Errorf("book %d: %w", book, util.ErrNotFound)
	}
	ops := l.opts.Images
	if noProcessing {
		ops = nil
	}
	if err := l.layout.WriteCover(path, data, ops); err != nil {
		return fmt.Errorf("failed to write cover of book %d: %w", book, err)
	}
	changed, err := l.SetField(book, "cover", len(data) > 0)
	if err != nil || changed {
		return err
	}
	_, err = l.SetField(book, "last_modified", time.Now().UTC())
	return err
}
