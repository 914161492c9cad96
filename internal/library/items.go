package library

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

// RenameItems renames items of a normalised text field. A new name that
// matches another item merges the renamed item into it. The returned map
// gives the id each renamed item ended up as.
func (l *Library) RenameItems(key string, names map[int64]string) (map[int64]int64, error) {
	f, err := l.normFor(key)
	if err != nil {
		return nil, err
	}
	result := make(map[int64]int64, len(names))
	affected := make(map[int64]bool)

	locks := []string{key, "last_modified", "path"}
	if key == "authors" {
		locks = append(locks, "author_sort")
	}
	err = l.cat.Write(locks, func() error {
		for _, id := range slices.Sorted(maps.Keys(names)) {
			if _, ok := f.items.Value(id); !ok {
				return fmt.Errorf("%s item %d: %w", key, id, util.ErrNotFound)
			}
			name := strings.Join(strings.Fields(names[id]), " ")
			if key == "languages" {
				name = strings.ToLower(name)
			}
			if name == "" {
				return fmt.Errorf("%w: empty name for %s item %d", util.ErrInvalidValue, key, id)
			}
			books := f.items.BooksFor(id)
			dst, err := l.renameItem(f, id, name)
			if err != nil {
				return err
			}
			result[id] = dst
			for _, b := range books {
				affected[b] = true
			}
		}
		return l.touchRenamed(f, slices.Sorted(maps.Keys(affected)))
	})
	if err != nil {
		return nil, err
	}

	if key == "authors" {
		for _, book := range slices.Sorted(maps.Keys(affected)) {
			if _, err := l.updatePath(book); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

// renameItem renames or merges one item in its own transaction. The caller
// holds the write lock of f.
func (l *Library) renameItem(f *normField, id int64, name string) (int64, error) {
	old, _ := f.items.Value(id)
	dst, exists := f.items.ItemID(name)
	merge := exists && dst != id
	if !merge && old == name {
		return id, nil
	}

	var sort string
	err := l.db.Transaction(func(tx *store.Tx) error {
		if merge {
			if err := mergeLinks(tx, f.sql, id, dst); err != nil {
				return fmt.Errorf("failed to merge %s %q into %q: %w", f.key, old, name, err)
			}
			_, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE id=?", f.sql.table), id)
			return err
		}
		if _, err := tx.Execute(fmt.Sprintf("UPDATE %s SET %s=? WHERE id=?", f.sql.table, f.sql.column), name, id); err != nil {
			return fmt.Errorf("failed to rename %s %q: %w", f.key, old, err)
		}
		if f.key == "authors" {
			return tx.QueryRow("SELECT sort FROM authors WHERE id=?", id).Scan(&sort)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if merge {
		f.items.MergeItem(id, dst)
		util.DebugLog("Merged %s %q into %q", f.key, old, name)
		return dst, nil
	}
	f.items.RenameItem(id, name)
	if a, ok := f.items.(interface{ SetSort(int64, string) }); ok {
		a.SetSort(id, sort)
	}
	return id, nil
}

// mergeLinks points every link of src at dst. A book linked to both keeps
// whichever link came first.
func mergeLinks(tx *store.Tx, n normSQL, src, dst int64) error {
	later := "CASE WHEN a.id > b.id THEN a.id ELSE b.id END"
	if n.ordered {
		later = "CASE WHEN a.item_order > b.item_order OR (a.item_order = b.item_order AND a.id > b.id) THEN a.id ELSE b.id END"
	}
	dup := fmt.Sprintf(`DELETE FROM %[1]s WHERE id IN (
		SELECT %[3]s FROM %[1]s a JOIN %[1]s b ON a.book=b.book
		WHERE a.%[2]s=? AND b.%[2]s=?)`, n.link, n.linkCol, later)
	if _, err := tx.Execute(dup, src, dst); err != nil {
		return err
	}
	_, err := tx.Execute(fmt.Sprintf("UPDATE %s SET %s=? WHERE %s=?", n.link, n.linkCol, n.linkCol), dst, src)
	return err
}

// touchRenamed stamps the books whose item changed and, for authors,
// recomputes their author sort
func (l *Library) touchRenamed(f *normField, books []int64) error {
	if len(books) == 0 {
		return nil
	}
	p := newPending()
	err := l.db.Transaction(func(tx *store.Tx) error {
		if f.key == "authors" {
			for _, book := range books {
				sort := l.authors.AuthorSortFor(book)
				if _, err := tx.Execute("UPDATE books SET author_sort=? WHERE id=?", sort, book); err != nil {
					return err
				}
				p.do(func() { l.authorSort.Set(book, sort) })
			}
		}
		if err := l.touchBooks(tx, books, time.Now().UTC(), p); err != nil {
			return err
		}
		return markDirtied(tx, books)
	})
	if err != nil {
		return err
	}
	p.commit()
	return nil
}

// SetLink attaches a link, usually a URL, to an item of a normalised field.
// An empty link clears it.
func (l *Library) SetLink(key string, item int64, link string) error {
	f, err := l.normFor(key)
	if err != nil {
		return err
	}
	return l.cat.Write([]string{key}, func() error {
		if _, ok := f.items.Value(item); !ok {
			return fmt.Errorf("%s item %d: %w", key, item, util.ErrNotFound)
		}
		if f.items.Link(item) == link {
			return nil
		}
		if _, err := l.db.Execute(fmt.Sprintf("UPDATE %s SET link=? WHERE id=?", f.sql.table), link, item); err != nil {
			return fmt.Errorf("failed to set link of %s item %d: %w", key, item, err)
		}
		f.items.SetLink(item, link)
		return nil
	})
}

// RemoveItems deletes items of a normalised field and unlinks them from
// every book. It returns the books that lost an item.
func (l *Library) RemoveItems(key string, ids []int64) ([]int64, error) {
	f, err := l.normFor(key)
	if err != nil {
		return nil, err
	}
	var books []int64
	locks := []string{key, "last_modified", "path"}
	if key == "authors" {
		locks = append(locks, "author_sort")
	}
	err = l.cat.Write(locks, func() error {
		affected := make(map[int64]bool)
		var live []int64
		for _, id := range ids {
			if _, ok := f.items.Value(id); !ok {
				continue
			}
			live = append(live, id)
			for _, b := range f.items.BooksFor(id) {
				affected[b] = true
			}
		}
		if len(live) == 0 {
			return nil
		}
		err := l.db.Transaction(func(tx *store.Tx) error {
			for _, id := range live {
				if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE %s=?", f.sql.link, f.sql.linkCol), id); err != nil {
					return err
				}
				if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE id=?", f.sql.table), id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
		f.items.RemoveItems(live)
		books = slices.Sorted(maps.Keys(affected))
		return l.touchRenamed(f, books)
	})
	if err != nil || key != "authors" {
		return books, err
	}
	for _, book := range books {
		if _, err := l.updatePath(book); err != nil {
			return books, err
		}
	}
	return books, nil
}
