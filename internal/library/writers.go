package library

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/tables"
)

// writer stores one field
type writer interface {
	// adapt validates v and converts it to the form write expects
	adapt(v any) (any, error)
	// locks names the tables write mutates
	locks() []string
	// write stores an adapted value inside tx and queues the matching
	// in-memory update on p. It reports whether the book changed.
	write(tx *store.Tx, book int64, v any, p *pending) (bool, error)
}

// pending collects the in-memory side of a write. Nothing is applied until
// the transaction has committed.
type pending struct {
	apply []func()
	// items inserted by this transaction, keyed by field and folded value
	created map[string]int64
	// sort strings of authors inserted by this transaction
	authorSorts map[int64]string
	// items that lost a book and may now be unused, by field key
	orphans map[string][]int64
}

func newPending() *pending {
	return &pending{
		created:     make(map[string]int64),
		authorSorts: make(map[int64]string),
		orphans:     make(map[string][]int64),
	}
}

func (p *pending) do(fn func()) { p.apply = append(p.apply, fn) }

func (p *pending) orphan(key string, ids ...int64) {
	p.orphans[key] = append(p.orphans[key], ids...)
}

func (p *pending) commit() {
	for _, fn := range p.apply {
		fn()
	}
	p.apply = nil
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// columnWriter stores a single value per book
type columnWriter[V any] struct {
	tables []string
	get    func(book int64) (V, bool)
	set    func(book int64, v V)
	del    func(book int64)
	conv   func(v any) (any, error)
	store  func(tx *store.Tx, book int64, v any) error
	after  func(tx *store.Tx, book int64, p *pending) error
}

func (w *columnWriter[V]) adapt(v any) (any, error) { return w.conv(v) }
func (w *columnWriter[V]) locks() []string          { return w.tables }

func (w *columnWriter[V]) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	cur, ok := w.get(book)
	if v == nil && !ok {
		return false, nil
	}
	if v != nil && ok && sameValue(cur, v) {
		return false, nil
	}
	var typed V
	if v != nil {
		t, isV := v.(V)
		if !isV {
			return false, fmt.Errorf("cannot store %T as %T", v, typed)
		}
		typed = t
	}
	if err := w.store(tx, book, v); err != nil {
		return false, err
	}
	if v == nil {
		p.do(func() { w.del(book) })
	} else {
		p.do(func() { w.set(book, typed) })
	}
	if w.after != nil {
		if err := w.after(tx, book, p); err != nil {
			return false, err
		}
	}
	return true, nil
}

// resolveItems returns the ids of vals in f, inserting new items
func resolveItems(tx *store.Tx, f *normField, vals []string, p *pending) ([]int64, error) {
	ids := make([]int64, 0, len(vals))
	seen := make(map[int64]bool, len(vals))
	for _, v := range vals {
		id, err := resolveItem(tx, f, v, p)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func resolveItem(tx *store.Tx, f *normField, v string, p *pending) (int64, error) {
	if id, ok := f.items.ItemID(v); ok {
		return id, nil
	}
	key := f.key + "\x00" + tables.FoldString(v)
	if id, ok := p.created[key]; ok {
		return id, nil
	}
	res, err := tx.Execute(f.sql.insertItem(), v)
	if err != nil {
		return 0, fmt.Errorf("failed to add %s %q: %w", f.key, v, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.created[key] = id
	p.do(func() { f.items.AddItem(id, v) })

	if f.key == "authors" {
		var sort string
		if err := tx.QueryRow("SELECT sort FROM authors WHERE id=?", id).Scan(&sort); err != nil {
			return 0, fmt.Errorf("failed to read author sort: %w", err)
		}
		p.authorSorts[id] = sort
		if a, ok := f.items.(interface{ SetSort(int64, string) }); ok {
			p.do(func() { a.SetSort(id, sort) })
		}
	}
	return id, nil
}

// manyWriter stores an ordered list of items per book
type manyWriter struct {
	f     *normField
	conv  func(v any) (any, error)
	extra []string
	after func(tx *store.Tx, book int64, ids []int64, p *pending) error
}

func (w *manyWriter) adapt(v any) (any, error) { return w.conv(v) }
func (w *manyWriter) locks() []string          { return append([]string{w.f.key}, w.extra...) }

func (w *manyWriter) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	vals, _ := v.([]string)
	ids, err := resolveItems(tx, w.f, vals, p)
	if err != nil {
		return false, err
	}
	old := w.f.itemsFor(book)
	if slices.Equal(old, ids) {
		return false, nil
	}
	removed, err := writeLinks(tx, w.f.sql, book, old, ids)
	if err != nil {
		return false, err
	}
	p.do(func() { w.f.linkMany(book, ids) })
	p.orphan(w.f.key, removed...)
	if w.after != nil {
		if err := w.after(tx, book, ids, p); err != nil {
			return false, err
		}
	}
	return true, nil
}

// writeLinks changes the link rows of book from old to ids. When the kept
// items stay in order and new ones only append, just the difference is
// written; otherwise the rows are rewritten. It returns the dropped items.
func writeLinks(tx *store.Tx, n normSQL, book int64, old, ids []int64) ([]int64, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	had := make(map[int64]bool, len(old))
	var kept, removed []int64
	for _, id := range old {
		had[id] = true
		if want[id] {
			kept = append(kept, id)
		} else {
			removed = append(removed, id)
		}
	}
	var added []int64
	for _, id := range ids {
		if !had[id] {
			added = append(added, id)
		}
	}

	insert := fmt.Sprintf("INSERT INTO %s (book, %s) VALUES (?, ?)", n.link, n.linkCol)
	if n.ordered {
		insert = fmt.Sprintf("INSERT INTO %s (book, %s, item_order) VALUES (?, ?, ?)", n.link, n.linkCol)
	}
	args := func(i int, id int64) []any {
		if n.ordered {
			return []any{book, id, i}
		}
		return []any{book, id}
	}

	if slices.Equal(append(slices.Clone(kept), added...), ids) {
		del := fmt.Sprintf("DELETE FROM %s WHERE book=? AND %s=?", n.link, n.linkCol)
		for _, id := range removed {
			if _, err := tx.Execute(del, book, id); err != nil {
				return nil, err
			}
		}
		for i, id := range added {
			if _, err := tx.Execute(insert, args(len(kept)+i, id)...); err != nil {
				return nil, err
			}
		}
		return removed, nil
	}

	if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE book=?", n.link), book); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if _, err := tx.Execute(insert, args(i, id)...); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// oneWriter links each book to at most one text item
type oneWriter struct {
	f     *normField
	table *tables.ManyToOne[string]
	conv  func(v any) (any, error)
}

func (w *oneWriter) adapt(v any) (any, error) { return w.conv(v) }
func (w *oneWriter) locks() []string          { return []string{w.f.key} }

func (w *oneWriter) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	cur, has := w.table.ItemFor(book)
	if v == nil {
		if !has {
			return false, nil
		}
		if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE book=?", w.f.sql.link), book); err != nil {
			return false, err
		}
		p.do(func() { w.table.LinkBook(book, 0) })
		p.orphan(w.f.key, cur)
		return true, nil
	}
	s, ok := v.(string)
	if !ok {
		return false, fmt.Errorf("cannot store %T in %s", v, w.f.key)
	}
	id, err := resolveItem(tx, w.f, s, p)
	if err != nil {
		return false, err
	}
	if has && cur == id {
		return false, nil
	}
	extra, hasExtra := w.table.Extra(book)
	if !hasExtra {
		extra = 1.0
	}
	if err := linkSingle(tx, w.f.sql, book, id, w.table.HasExtra(), extra); err != nil {
		return false, err
	}
	p.do(func() {
		w.table.LinkBook(book, id)
		if w.table.HasExtra() {
			w.table.SetExtra(book, extra)
		}
	})
	if has {
		p.orphan(w.f.key, cur)
	}
	return true, nil
}

func linkSingle(tx *store.Tx, n normSQL, book, item int64, withExtra bool, extra float64) error {
	if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE book=?", n.link), book); err != nil {
		return err
	}
	if withExtra {
		_, err := tx.Execute(fmt.Sprintf("INSERT INTO %s (book, %s, extra) VALUES (?, ?, ?)", n.link, n.linkCol), book, item, extra)
		return err
	}
	_, err := tx.Execute(fmt.Sprintf("INSERT INTO %s (book, %s) VALUES (?, ?)", n.link, n.linkCol), book, item)
	return err
}

// ratingWriter links each book to a rating value. Rating items are shared
// and never cleaned up.
type ratingWriter struct {
	key   string
	sql   normSQL
	table *tables.ManyToOne[int64]
	conv  func(v any) (any, error)
}

func (w *ratingWriter) adapt(v any) (any, error) { return w.conv(v) }
func (w *ratingWriter) locks() []string          { return []string{w.key} }

func (w *ratingWriter) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	cur, has := w.table.ItemFor(book)
	if v == nil {
		if !has {
			return false, nil
		}
		if _, err := tx.Execute(fmt.Sprintf("DELETE FROM %s WHERE book=?", w.sql.link), book); err != nil {
			return false, err
		}
		p.do(func() { w.table.LinkBook(book, 0) })
		return true, nil
	}
	n, ok := v.(int64)
	if !ok {
		return false, fmt.Errorf("cannot store %T in %s", v, w.key)
	}
	id, ok := w.table.ItemID(n)
	if !ok {
		key := fmt.Sprintf("%s\x00%d", w.key, n)
		if id, ok = p.created[key]; !ok {
			res, err := tx.Execute(w.sql.insertItem(), n)
			if err != nil {
				return false, err
			}
			if id, err = res.LastInsertId(); err != nil {
				return false, err
			}
			p.created[key] = id
			newID := id
			p.do(func() { w.table.AddItem(newID, n) })
		}
	}
	if has && cur == id {
		return false, nil
	}
	if err := linkSingle(tx, w.sql, book, id, false, 0); err != nil {
		return false, err
	}
	p.do(func() { w.table.LinkBook(book, id) })
	return true, nil
}

// extraWriter stores the per-book index of a custom series column
type extraWriter struct {
	key   string // the series column; the field is key+"_index"
	link  string
	table *tables.ManyToOne[string]
}

func (w *extraWriter) adapt(v any) (any, error) { return adaptIndex(v) }
func (w *extraWriter) locks() []string          { return []string{w.key} }

func (w *extraWriter) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	if _, ok := w.table.ItemFor(book); !ok {
		return false, nil
	}
	f := v.(float64)
	if cur, ok := w.table.Extra(book); ok && cur == f {
		return false, nil
	}
	if _, err := tx.Execute(fmt.Sprintf("UPDATE %s SET extra=? WHERE book=?", w.link), f, book); err != nil {
		return false, err
	}
	p.do(func() { w.table.SetExtra(book, f) })
	return true, nil
}

// identifiersWriter replaces the whole identifier map of a book
type identifiersWriter struct {
	table *tables.Identifiers
}

func (w *identifiersWriter) adapt(v any) (any, error) { return adaptIdentifiers(v) }
func (w *identifiersWriter) locks() []string          { return []string{"identifiers"} }

func (w *identifiersWriter) write(tx *store.Tx, book int64, v any, p *pending) (bool, error) {
	ids, _ := v.(map[string]string)
	cur := w.table.Get(book)
	if maps.Equal(cur, ids) {
		return false, nil
	}
	if _, err := tx.Execute("DELETE FROM identifiers WHERE book=?", book); err != nil {
		return false, err
	}
	for _, typ := range slices.Sorted(maps.Keys(ids)) {
		if _, err := tx.Execute("INSERT INTO identifiers (book, type, val) VALUES (?, ?, ?)", book, typ, ids[typ]); err != nil {
			return false, err
		}
	}
	p.do(func() { w.table.Replace(book, ids) })
	return true, nil
}

// splitNames trims, drops empties and removes case-insensitive duplicates
func splitNames(parts []string) []string {
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, s := range parts {
		s = strings.Join(strings.Fields(s), " ")
		key := tables.FoldString(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
