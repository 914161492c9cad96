package library

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/tables"
	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

// RemoveBooks deletes books. Their directories go to the trash, carrying a
// metadata snapshot for RestoreBook, unless permanent is set.
func (l *Library) RemoveBooks(ids []int64, permanent bool) error {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	if len(ids) == 0 {
		return nil
	}
	if !permanent {
		for _, id := range ids {
			if err := l.writeSnapshot(id); err != nil {
				return err
			}
		}
	}

	paths := make(map[int64]string, len(ids))
	err := l.cat.Write(l.cat.Names(), func() error {
		for _, id := range ids {
			path, ok := l.path.Get(id)
			if !ok {
				return fmt.Errorf("book %d: %w", id, util.ErrNotFound)
			}
			paths[id] = path
		}
		candidates := make(map[*normField][]int64)
		for _, f := range l.normFields() {
			for _, id := range ids {
				candidates[f] = append(candidates[f], f.itemsFor(id)...)
			}
		}

		rows := make([][]any, len(ids))
		for i, id := range ids {
			rows[i] = []any{id}
		}
		if err := l.db.ExecuteMany("DELETE FROM books WHERE id=?", rows); err != nil {
			return fmt.Errorf("failed to delete books: %w", err)
		}
		l.cat.RemoveBooks(ids)

		for f, items := range candidates {
			if err := l.dropUnused(f, items); err != nil {
				util.WarnLog("Failed to remove unused %s: %v", f.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make(map[int64]string, len(paths))
	for id, path := range paths {
		if path == "" {
			continue
		}
		if permanent {
			if err := l.layout.RemoveBookDir(path); err != nil {
				util.WarnLog("Failed to delete directory of book %d: %v", id, err)
			}
		} else if dir := l.layout.BookDir(path); l.layout.IsDeletable(dir) {
			dirs[id] = dir
		}
	}
	if len(dirs) > 0 {
		l.trash.DeleteBooks(l.root, dirs)
	}
	for _, id := range ids {
		l.events.LogBookRemove(l.root, id, paths[id], permanent)
		if dir, ok := dirs[id]; ok {
			l.events.LogTrash(report.EventTrashMove, l.root, id, dir, nil)
		}
	}
	util.InfoLog("Removed %d book(s)", len(ids))
	return nil
}

// writeSnapshot stores the metadata of a book inside its directory so the
// snapshot travels with it into the trash
func (l *Library) writeSnapshot(id int64) error {
	mi, err := l.Book(id)
	if err != nil {
		return err
	}
	if mi.Path == "" {
		return nil
	}
	dir := l.layout.BookDir(mi.Path)
	if _, err := os.Stat(dir); err != nil {
		util.WarnLog("Directory of book %d is missing, nothing to keep in the trash", id)
		return nil
	}
	data, err := json.MarshalIndent(mi, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata of book %d: %w", id, err)
	}
	return trash.WriteMetadata(dir, data)
}

// RestoreBook brings a trashed book back under its old id, with its
// formats and cover
func (l *Library) RestoreBook(id int64) error {
	raw, err := trash.ReadMetadata(l.root, id)
	if err != nil {
		return fmt.Errorf("book %d is not in the trash: %w", id, err)
	}
	var mi Metadata
	if err := json.Unmarshal(raw, &mi); err != nil {
		return fmt.Errorf("failed to decode trashed metadata of book %d: %w", id, err)
	}
	formats := mi.Formats
	hasCover := mi.HasCover
	mi.ID = id
	mi.Formats = nil
	mi.HasCover = false
	mi.Path = ""

	if _, err := l.CreateBookEntry(&mi); err != nil {
		return fmt.Errorf("failed to recreate book %d: %w", id, err)
	}
	path, _ := l.bookPath(id)
	dest := l.layout.BookDir(path)
	err = trash.TakeBook(l.root, id, dest, l.fs.Retry)
	l.events.LogTrash(report.EventTrashRestore, l.root, id, dest, err)
	if err != nil {
		return err
	}

	if err := l.restoreFormats(id, path, formats); err != nil {
		return err
	}
	// names may predate a title or author change made before the delete
	if _, err := l.updatePath(id); err != nil {
		return err
	}
	if hasCover || l.layout.HasCover(path) {
		if _, err := l.SetField(id, "cover", l.layout.HasCover(path)); err != nil {
			return err
		}
	}
	util.InfoLog("Restored book %d to %s", id, path)
	return nil
}

// restoreFormats records the format files that came back with a book
func (l *Library) restoreFormats(id int64, path string, formats map[string]FormatEntry) error {
	found := make(map[string]FormatEntry)
	for _, f := range slices.Sorted(maps.Keys(formats)) {
		fe := formats[f]
		f = strings.ToUpper(f)
		if _, ok := l.layout.FormatAbspath(path, fe.Name, f); !ok {
			util.WarnLog("Format %s of book %d did not survive the trash", f, id)
			continue
		}
		found[f] = fe
	}
	if len(found) == 0 {
		return nil
	}
	return l.cat.Write([]string{"formats", "size"}, func() error {
		err := l.db.Transaction(func(tx *store.Tx) error {
			for _, f := range slices.Sorted(maps.Keys(found)) {
				fe := found[f]
				if _, err := tx.Execute("INSERT OR REPLACE INTO data (book, format, uncompressed_size, name) VALUES (?, ?, ?, ?)",
					id, f, fe.Size, fe.Name); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to record restored formats of book %d: %w", id, err)
		}
		for f, fe := range found {
			l.formats.Set(id, f, tables.FormatInfo{Size: fe.Size, Name: fe.Name})
		}
		l.refreshSize(id)
		return nil
	})
}

// RestoreFormat brings a trashed format file back to its book
func (l *Library) RestoreFormat(book int64, format string) error {
	src, ok := trash.FormatFile(l.root, book, format)
	if !ok {
		return fmt.Errorf("%w: no trashed %s for book %d", util.ErrNoSuchFormat, strings.ToUpper(format), book)
	}
	f, err := util.RetryableOpen(src, l.fs.Retry)
	if err != nil {
		return err
	}
	_, err = l.AddFormat(book, format, f, true)
	f.Close()
	l.events.LogTrash(report.EventTrashRestore, l.root, book, src, err)
	if err != nil {
		return err
	}
	return trash.DropFormat(l.root, src, l.fs.Retry)
}

// ListTrash returns the books and formats waiting in the trash
func (l *Library) ListTrash() ([]trash.Entry, error) {
	return trash.List(l.root)
}

// ExpireTrash deletes trash entries older than retention. Zero uses the
// library's configured retention.
func (l *Library) ExpireTrash(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = l.opts.Retention
	}
	n, err := trash.Expire(l.root, retention, time.Now(), l.fs.Retry)
	if n > 0 || err != nil {
		l.events.LogTrash(report.EventTrashExpire, l.root, 0, trash.Root(l.root), err)
	}
	return n, err
}

// EmptyTrash deletes everything in the trash
func (l *Library) EmptyTrash() error {
	err := trash.Empty(l.root, l.fs.Retry)
	l.events.LogTrash(report.EventTrashExpire, l.root, 0, trash.Root(l.root), err)
	return err
}
