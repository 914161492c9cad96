package library

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/layout"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

// SetField stores one value of one book
func (l *Library) SetField(book int64, key string, v any) (bool, error) {
	changed, err := l.SetFields(key, map[int64]any{book: v})
	return len(changed) > 0, err
}

// SetFields stores a value of field key for several books in one
// transaction and returns the books that actually changed. Values are
// validated before anything is written; if one is invalid nothing is.
func (l *Library) SetFields(key string, values map[int64]any) ([]int64, error) {
	w, err := l.writerFor(key)
	if err != nil {
		return nil, err
	}
	adapted := make(map[int64]any, len(values))
	for book, v := range values {
		a, err := w.adapt(v)
		if err != nil {
			return nil, err
		}
		adapted[book] = a
	}
	books := slices.Sorted(maps.Keys(adapted))

	p := newPending()
	var changed []int64
	locks := append(slices.Clone(w.locks()), "last_modified", "path")
	err = l.cat.Write(locks, func() error {
		for _, book := range books {
			if _, ok := l.path.Get(book); !ok {
				return fmt.Errorf("book %d: %w", book, util.ErrNotFound)
			}
		}
		err := l.db.Transaction(func(tx *store.Tx) error {
			for _, book := range books {
				ok, err := w.write(tx, book, adapted[book], p)
				if err != nil {
					return fmt.Errorf("failed to set %s of book %d: %w", key, book, err)
				}
				if ok {
					changed = append(changed, book)
				}
			}
			if key != "last_modified" {
				if err := l.touchBooks(tx, changed, time.Now().UTC(), p); err != nil {
					return err
				}
			}
			return markDirtied(tx, changed)
		})
		if err != nil {
			changed = nil
			return err
		}
		p.commit()
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.removeOrphans(p.orphans)
	if key == "title" || key == "authors" {
		for _, book := range changed {
			if _, err := l.updatePath(book); err != nil {
				return changed, err
			}
		}
	}
	return changed, nil
}

// touchBooks stamps books as modified at now
func (l *Library) touchBooks(tx *store.Tx, books []int64, now time.Time, p *pending) error {
	ts := util.FormatTimestamp(now)
	for _, book := range books {
		if _, err := tx.Execute("UPDATE books SET last_modified=? WHERE id=?", ts, book); err != nil {
			return fmt.Errorf("failed to update last_modified of book %d: %w", book, err)
		}
		p.do(func() { l.lastModified.Set(book, now) })
	}
	return nil
}

func markDirtied(tx *store.Tx, books []int64) error {
	for _, book := range books {
		if _, err := tx.Execute("INSERT OR IGNORE INTO metadata_dirtied (book) VALUES (?)", book); err != nil {
			return fmt.Errorf("failed to mark book %d dirtied: %w", book, err)
		}
	}
	return nil
}

// removeOrphans deletes items that no book links to any more. Failures are
// logged; the items are harmless and the next write retries them.
func (l *Library) removeOrphans(orphans map[string][]int64) {
	for _, key := range slices.Sorted(maps.Keys(orphans)) {
		f, err := l.normFor(key)
		if err != nil {
			continue
		}
		err = l.cat.Write([]string{key}, func() error {
			return l.dropUnused(f, orphans[key])
		})
		if err != nil {
			util.WarnLog("Failed to remove unused %s: %v", key, err)
		}
	}
}

// dropUnused deletes the candidates that have no books. The caller holds the
// write lock of f.
func (l *Library) dropUnused(f *normField, candidates []int64) error {
	var unused []int64
	for _, id := range candidates {
		if _, ok := f.items.Value(id); !ok || slices.Contains(unused, id) {
			continue
		}
		if len(f.items.BooksFor(id)) == 0 {
			unused = append(unused, id)
		}
	}
	if len(unused) == 0 {
		return nil
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE id=?", f.sql.table)
	err := l.db.Transaction(func(tx *store.Tx) error {
		for _, id := range unused {
			if _, err := tx.Execute(del, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	f.items.RemoveItems(unused)
	util.DebugLog("Removed %d unused %s", len(unused), f.key)
	return nil
}

// bookFiles describes book for the layout. The caller holds read locks on
// title, authors, path and formats.
func (l *Library) bookFiles(book int64) layout.BookFiles {
	title, _ := l.title.Get(book)
	author := "Unknown"
	if names := l.authors.Get(book); len(names) > 0 {
		author = names[0]
	}
	path, _ := l.path.Get(book)
	formats := make(map[string]string)
	for _, f := range l.formats.Get(book) {
		fi, _ := l.formats.Info(book, f)
		formats[f] = fi.Name
	}
	return layout.BookFiles{ID: book, Title: title, Author: author, Path: path, Formats: formats}
}

// updatePath moves the files of book to the directory its title and first
// author dictate, recording the new path and file names. It reports whether
// anything moved.
func (l *Library) updatePath(book int64) (bool, error) {
	start := time.Now()
	var oldPath, newPath string
	var moved bool
	err := l.cat.Write([]string{"authors", "formats", "path", "title"}, func() error {
		b := l.bookFiles(book)
		oldPath = b.Path
		var names map[string]string
		ok, err := l.layout.UpdatePath(b, func(path string, n map[string]string) error {
			err := l.db.Transaction(func(tx *store.Tx) error {
				if _, err := tx.Execute("UPDATE books SET path=? WHERE id=?", path, book); err != nil {
					return err
				}
				for f, name := range n {
					if _, err := tx.Execute("UPDATE data SET name=? WHERE book=? AND format=?", name, book, f); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to record new path of book %d: %w", book, err)
			}
			newPath, names = path, n
			return nil
		})
		if err != nil || !ok {
			return err
		}
		moved = true
		l.path.Set(book, newPath)
		for f, name := range names {
			if fi, ok := l.formats.Info(book, f); ok {
				fi.Name = name
				l.formats.Set(book, f, fi)
			}
		}
		return nil
	})
	if moved || err != nil {
		l.events.LogBookMove(l.root, book, oldPath, newPath, time.Since(start), err)
	}
	if moved {
		util.DebugLog("Book %d now at %s", book, newPath)
	}
	return moved, err
}

// CreateBookEntry adds a book from mi and returns its id. Title and authors
// default to "Unknown". A positive mi.ID is used as the new id and must be
// free. The book directory is created as part of setting the authors.
func (l *Library) CreateBookEntry(mi *Metadata) (int64, error) {
	if mi == nil {
		mi = &Metadata{}
	}
	title, _ := adaptTitle(mi.Title)
	now := time.Now().UTC()
	timestamp := now
	if !mi.Timestamp.IsZero() {
		timestamp = mi.Timestamp.UTC()
	}
	pubdate := undefinedDate
	if !mi.Pubdate.IsZero() {
		pubdate = mi.Pubdate.UTC()
	}
	index := mi.SeriesIndex
	if index == 0 {
		index = 1.0
	}

	var id int64
	var sort, uuid string
	oneToOne := []string{"cover", "last_modified", "path", "pubdate", "series_index", "size", "sort", "timestamp", "title", "uuid"}
	err := l.cat.Write(oneToOne, func() error {
		if mi.ID > 0 {
			if _, ok := l.path.Get(mi.ID); ok {
				return fmt.Errorf("book %d: %w", mi.ID, util.ErrConflict)
			}
		}
		if mi.UUID != "" {
			if other, ok := l.uuid.Lookup(mi.UUID); ok {
				return fmt.Errorf("uuid %s already used by book %d: %w", mi.UUID, other, util.ErrConflict)
			}
		}
		err := l.db.Transaction(func(tx *store.Tx) error {
			var idArg, uuidArg any
			if mi.ID > 0 {
				idArg = mi.ID
			}
			if mi.UUID != "" {
				uuidArg = mi.UUID
			}
			res, err := tx.Execute(`INSERT INTO books (id, title, series_index, timestamp, pubdate, last_modified, uuid, has_cover)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				idArg, title, index, util.FormatTimestamp(timestamp), util.FormatTimestamp(pubdate),
				util.FormatTimestamp(now), uuidArg, sqlValue(mi.HasCover))
			if err != nil {
				return fmt.Errorf("failed to insert book: %w", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
			if err := tx.QueryRow("SELECT sort, uuid FROM books WHERE id=?", id).Scan(&sort, &uuid); err != nil {
				return fmt.Errorf("failed to read new book: %w", err)
			}
			return markDirtied(tx, []int64{id})
		})
		if err != nil {
			return err
		}
		l.title.Set(id, title.(string))
		l.sort.Set(id, sort)
		l.seriesIndex.Set(id, index)
		l.timestamp.Set(id, timestamp)
		l.pubdate.Set(id, pubdate)
		l.lastModified.Set(id, now)
		l.uuid.Set(id, uuid)
		l.cover.Set(id, mi.HasCover)
		l.path.Set(id, "")
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.applyMetadata(id, mi); err != nil {
		return id, err
	}
	path, _ := l.bookPath(id)
	l.events.LogBookAdd(l.root, id, path)
	util.DebugLog("Added book %d at %s", id, path)
	return id, nil
}

// applyMetadata writes the linked fields of a new book. Authors go first so
// the book directory exists before anything else is stored.
func (l *Library) applyMetadata(id int64, mi *Metadata) error {
	var authors any = mi.Authors
	if len(mi.Authors) == 0 {
		authors = nil
	}
	set := func(key string, v any) error {
		_, err := l.SetFields(key, map[int64]any{id: v})
		return err
	}
	if err := set("authors", authors); err != nil {
		return err
	}
	fields := []struct {
		key  string
		v    any
		skip bool
	}{
		{"tags", mi.Tags, len(mi.Tags) == 0},
		{"languages", mi.Languages, len(mi.Languages) == 0},
		{"series", mi.Series, mi.Series == ""},
		{"publisher", mi.Publisher, mi.Publisher == ""},
		{"rating", mi.Rating, mi.Rating == 0},
		{"identifiers", mi.Identifiers, len(mi.Identifiers) == 0},
		{"comments", mi.Comments, mi.Comments == ""},
		{"author_sort", mi.AuthorSort, mi.AuthorSort == ""},
		{"sort", mi.Sort, mi.Sort == ""},
	}
	for _, f := range fields {
		if f.skip {
			continue
		}
		if err := set(f.key, f.v); err != nil {
			return err
		}
	}
	// series index values of custom series columns need the series first
	for _, key := range slices.Sorted(maps.Keys(mi.Custom)) {
		if _, isIndex := l.indexOf(key); isIndex {
			continue
		}
		if _, err := l.writerFor(key); err != nil {
			util.DebugLog("Not restoring %s of book %d: %v", key, id, err)
			continue
		}
		if err := set(key, mi.Custom[key]); err != nil {
			return err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(mi.Custom)) {
		if _, isIndex := l.indexOf(key); !isIndex {
			continue
		}
		if err := set(key, mi.Custom[key]); err != nil {
			return err
		}
	}
	return nil
}

// indexOf reports whether key is the "_index" field of a custom series
// column and returns that column's key
func (l *Library) indexOf(key string) (string, bool) {
	base, ok := strings.CutSuffix(key, "_index")
	if !ok {
		return "", false
	}
	l.fieldsMu.RLock()
	defer l.fieldsMu.RUnlock()
	w, ok := l.writers[key]
	if !ok {
		return "", false
	}
	_, isExtra := w.(*extraWriter)
	return base, isExtra
}

func (l *Library) bookPath(book int64) (string, bool) {
	var path string
	var ok bool
	l.cat.Read([]string{"path"}, func() error {
		path, ok = l.path.Get(book)
		return nil
	})
	return path, ok
}
