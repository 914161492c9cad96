package tables

import (
	"fmt"
	"sort"
	"strings"
)

// items is the value side of a normalised field: id to value, the folded
// reverse index and per-item links
type items[V comparable] struct {
	valueQuery string // id, value, link
	conv       func(any) (V, bool)
	fold       func(V) V

	idMap   map[int64]V
	byValue map[V]int64
	links   map[int64]string
}

func newItems[V comparable](valueQuery string, conv func(any) (V, bool), fold func(V) V) items[V] {
	if fold == nil {
		fold = func(v V) V { return v }
	}
	return items[V]{
		valueQuery: valueQuery,
		conv:       conv,
		fold:       fold,
		idMap:      make(map[int64]V),
		byValue:    make(map[V]int64),
		links:      make(map[int64]string),
	}
}

func (it *items[V]) readItems(db DbRef) error {
	it.idMap = make(map[int64]V)
	it.byValue = make(map[V]int64)
	it.links = make(map[int64]string)

	rows, err := db.Query(it.valueQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var raw, link any
		if err := rows.Scan(&id, &raw, &link); err != nil {
			return err
		}
		v, ok := it.conv(raw)
		if !ok {
			continue
		}
		it.idMap[id] = v
		it.byValue[it.fold(v)] = id
		if s, ok := AsString(link); ok && s != "" {
			it.links[id] = s
		}
	}
	return rows.Err()
}

// Value returns the item stored under id
func (it *items[V]) Value(id int64) (V, bool) {
	v, ok := it.idMap[id]
	return v, ok
}

// ItemID finds an item by value, case-insensitively for text
func (it *items[V]) ItemID(v V) (int64, bool) {
	id, ok := it.byValue[it.fold(v)]
	return id, ok
}

// AddItem records a freshly inserted item
func (it *items[V]) AddItem(id int64, v V) {
	it.idMap[id] = v
	it.byValue[it.fold(v)] = id
}

// RenameItem changes the value of an existing item
func (it *items[V]) RenameItem(id int64, v V) {
	if old, ok := it.idMap[id]; ok {
		delete(it.byValue, it.fold(old))
	}
	it.idMap[id] = v
	it.byValue[it.fold(v)] = id
}

func (it *items[V]) dropItem(id int64) {
	if old, ok := it.idMap[id]; ok {
		delete(it.byValue, it.fold(old))
	}
	delete(it.idMap, id)
	delete(it.links, id)
}

// Link returns the link attached to an item
func (it *items[V]) Link(id int64) string { return it.links[id] }

// SetLink attaches or clears the link of an item
func (it *items[V]) SetLink(id int64, link string) {
	if link == "" {
		delete(it.links, id)
		return
	}
	it.links[id] = link
}

// ItemIDs returns every item id, ascending
func (it *items[V]) ItemIDs() []int64 {
	ids := make([]int64, 0, len(it.idMap))
	for id := range it.idMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FoldString is the fold used by text valued tables
func FoldString(s string) string { return strings.ToLower(s) }

// ManyToOne links each book to at most one item
type ManyToOne[V comparable] struct {
	base
	items[V]
	linkQuery string // book, item[, extra]
	hasExtra  bool

	bookCol map[int64]int64
	extra   map[int64]float64
	// itemCol is the reverse of bookCol. Every write keeps it current so
	// readers holding only the read lock never build it.
	itemCol index
}

// NewManyToOne builds a many-to-one table. When hasExtra is set the link
// query returns a third column holding the per-book series index.
func NewManyToOne[V comparable](name, valueQuery, linkQuery string, conv func(any) (V, bool), fold func(V) V, hasExtra bool) *ManyToOne[V] {
	return &ManyToOne[V]{
		base:      base{name: name},
		items:     newItems(valueQuery, conv, fold),
		linkQuery: linkQuery,
		hasExtra:  hasExtra,
		bookCol:   make(map[int64]int64),
		extra:     make(map[int64]float64),
		itemCol:   make(index),
	}
}

func (t *ManyToOne[V]) Read(db DbRef) error {
	if err := t.readItems(db); err != nil {
		return err
	}
	t.bookCol = make(map[int64]int64)
	t.extra = make(map[int64]float64)
	t.itemCol = make(index)

	rows, err := db.Query(t.linkQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var book, item int64
		var extra any
		dest := []any{&book, &item}
		if t.hasExtra {
			dest = append(dest, &extra)
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if _, ok := t.idMap[item]; !ok {
			continue
		}
		t.bookCol[book] = item
		t.itemCol.add(item, book)
		if f, ok := AsFloat(extra); ok {
			t.extra[book] = f
		}
	}
	return rows.Err()
}

// ItemFor returns the item linked to book
func (t *ManyToOne[V]) ItemFor(book int64) (int64, bool) {
	id, ok := t.bookCol[book]
	return id, ok
}

// Get returns the value linked to book
func (t *ManyToOne[V]) Get(book int64) (V, bool) {
	var zero V
	id, ok := t.bookCol[book]
	if !ok {
		return zero, false
	}
	return t.Value(id)
}

func (t *ManyToOne[V]) BookValue(book int64) any {
	if v, ok := t.Get(book); ok {
		return v
	}
	return nil
}

// Extra returns the per-book index stored with the link
func (t *ManyToOne[V]) Extra(book int64) (float64, bool) {
	f, ok := t.extra[book]
	return f, ok
}

// SetExtra stores the per-book index
func (t *ManyToOne[V]) SetExtra(book int64, f float64) { t.extra[book] = f }

// HasExtra reports whether links carry an index
func (t *ManyToOne[V]) HasExtra() bool { return t.hasExtra }

// LinkBook sets or clears (item == 0) the item linked to book
func (t *ManyToOne[V]) LinkBook(book, item int64) {
	if old, ok := t.bookCol[book]; ok {
		t.itemCol.remove(old, book)
	}
	if item == 0 {
		delete(t.bookCol, book)
		delete(t.extra, book)
		return
	}
	t.bookCol[book] = item
	t.itemCol.add(item, book)
}

// BooksFor returns the books linked to item
func (t *ManyToOne[V]) BooksFor(item int64) []int64 {
	return sortedKeys(t.itemCol[item])
}

func (t *ManyToOne[V]) reindex() {
	t.itemCol = make(index, len(t.bookCol))
	for book, it := range t.bookCol {
		t.itemCol.add(it, book)
	}
}

// UnusedItems returns items no book links to
func (t *ManyToOne[V]) UnusedItems() []int64 {
	used := make(map[int64]bool, len(t.bookCol))
	for _, it := range t.bookCol {
		used[it] = true
	}
	var out []int64
	for _, id := range t.ItemIDs() {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}

// RemoveItems drops items and unlinks their books, returning those books
func (t *ManyToOne[V]) RemoveItems(ids []int64) []int64 {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		t.dropItem(id)
	}
	var affected []int64
	for book, it := range t.bookCol {
		if drop[it] {
			delete(t.bookCol, book)
			delete(t.extra, book)
			affected = append(affected, book)
		}
	}
	t.reindex()
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected
}

// MergeItem moves every book from src to dst and forgets src
func (t *ManyToOne[V]) MergeItem(src, dst int64) []int64 {
	var affected []int64
	for book, it := range t.bookCol {
		if it == src {
			t.bookCol[book] = dst
			affected = append(affected, book)
		}
	}
	t.dropItem(src)
	t.reindex()
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected
}

func (t *ManyToOne[V]) RemoveBooks(ids []int64) {
	for _, id := range ids {
		if it, ok := t.bookCol[id]; ok {
			t.itemCol.remove(it, id)
		}
		delete(t.bookCol, id)
		delete(t.extra, id)
	}
}

// ManyToMany links each book to an ordered list of items
type ManyToMany[V comparable] struct {
	base
	items[V]
	linkQuery string // book, item ordered by link order

	bookCol map[int64][]int64
	itemCol index
}

// NewManyToMany builds a many-to-many table
func NewManyToMany[V comparable](name, valueQuery, linkQuery string, conv func(any) (V, bool), fold func(V) V) *ManyToMany[V] {
	return &ManyToMany[V]{
		base:      base{name: name},
		items:     newItems(valueQuery, conv, fold),
		linkQuery: linkQuery,
		bookCol:   make(map[int64][]int64),
		itemCol:   make(index),
	}
}

func (t *ManyToMany[V]) Read(db DbRef) error {
	if err := t.readItems(db); err != nil {
		return err
	}
	t.bookCol = make(map[int64][]int64)
	t.itemCol = make(index)
	return scanPairs(db, t.linkQuery, func(book int64, raw any) {
		item, ok := AsInt64(raw)
		if !ok {
			return
		}
		if _, ok := t.idMap[item]; ok {
			t.bookCol[book] = append(t.bookCol[book], item)
			t.itemCol.add(item, book)
		}
	})
}

// ItemsFor returns the ordered item ids linked to book
func (t *ManyToMany[V]) ItemsFor(book int64) []int64 {
	return append([]int64(nil), t.bookCol[book]...)
}

// Get returns the ordered values linked to book
func (t *ManyToMany[V]) Get(book int64) []V {
	ids := t.bookCol[book]
	if len(ids) == 0 {
		return nil
	}
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.idMap[id])
	}
	return out
}

func (t *ManyToMany[V]) BookValue(book int64) any {
	if v := t.Get(book); v != nil {
		return v
	}
	return nil
}

// LinkBook replaces the items of book
func (t *ManyToMany[V]) LinkBook(book int64, ids []int64) {
	for _, old := range t.bookCol[book] {
		t.itemCol.remove(old, book)
	}
	if len(ids) == 0 {
		delete(t.bookCol, book)
		return
	}
	t.bookCol[book] = append([]int64(nil), ids...)
	for _, it := range ids {
		t.itemCol.add(it, book)
	}
}

// BooksFor returns the books linked to item
func (t *ManyToMany[V]) BooksFor(item int64) []int64 {
	return sortedKeys(t.itemCol[item])
}

func (t *ManyToMany[V]) reindex() {
	t.itemCol = make(index)
	for book, its := range t.bookCol {
		for _, it := range its {
			t.itemCol.add(it, book)
		}
	}
}

// UnusedItems returns items no book links to
func (t *ManyToMany[V]) UnusedItems() []int64 {
	used := make(map[int64]bool)
	for _, its := range t.bookCol {
		for _, it := range its {
			used[it] = true
		}
	}
	var out []int64
	for _, id := range t.ItemIDs() {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}

// RemoveItems drops items and unlinks them from books, returning the books
// that changed
func (t *ManyToMany[V]) RemoveItems(ids []int64) []int64 {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		t.dropItem(id)
	}
	var affected []int64
	for book, its := range t.bookCol {
		kept := its[:0:0]
		for _, it := range its {
			if !drop[it] {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(its) {
			continue
		}
		affected = append(affected, book)
		if len(kept) == 0 {
			delete(t.bookCol, book)
		} else {
			t.bookCol[book] = kept
		}
	}
	t.reindex()
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected
}

// MergeItem replaces src by dst in every book, keeping the first position
// and never duplicating dst
func (t *ManyToMany[V]) MergeItem(src, dst int64) []int64 {
	var affected []int64
	for book, its := range t.bookCol {
		idx := -1
		for i, it := range its {
			if it == src {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		affected = append(affected, book)
		merged := make([]int64, 0, len(its))
		seen := false
		for _, it := range its {
			if it == src {
				it = dst
			}
			if it == dst {
				if seen {
					continue
				}
				seen = true
			}
			merged = append(merged, it)
		}
		t.bookCol[book] = merged
	}
	t.dropItem(src)
	t.reindex()
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected
}

func (t *ManyToMany[V]) RemoveBooks(ids []int64) {
	for _, id := range ids {
		for _, it := range t.bookCol[id] {
			t.itemCol.remove(it, id)
		}
		delete(t.bookCol, id)
	}
}

// Authors also tracks the sort string of each author
type Authors struct {
	*ManyToMany[string]
	sorts map[int64]string
}

// NewAuthors reads authors and books_authors_link
func NewAuthors() *Authors {
	return &Authors{
		ManyToMany: NewManyToMany("authors",
			"SELECT id, name, link FROM authors",
			"SELECT book, author FROM books_authors_link ORDER BY id",
			AsString, FoldString),
		sorts: make(map[int64]string),
	}
}

func (t *Authors) Read(db DbRef) error {
	if err := t.ManyToMany.Read(db); err != nil {
		return err
	}
	t.sorts = make(map[int64]string)
	return scanPairs(db, "SELECT id, sort FROM authors", func(id int64, raw any) {
		if s, ok := AsString(raw); ok {
			t.sorts[id] = s
		}
	})
}

// Sort returns the sort string of author id
func (t *Authors) Sort(id int64) string { return t.sorts[id] }

// SetSort records the sort string of author id
func (t *Authors) SetSort(id int64, s string) { t.sorts[id] = s }

// AuthorSortFor joins the sort strings of a book's authors
func (t *Authors) AuthorSortFor(book int64) string {
	var parts []string
	for _, id := range t.bookCol[book] {
		parts = append(parts, t.sorts[id])
	}
	return strings.Join(parts, " & ")
}

func (t *Authors) RemoveItems(ids []int64) []int64 {
	for _, id := range ids {
		delete(t.sorts, id)
	}
	return t.ManyToMany.RemoveItems(ids)
}

func (t *Authors) MergeItem(src, dst int64) []int64 {
	delete(t.sorts, src)
	return t.ManyToMany.MergeItem(src, dst)
}

// index maps an item to the set of books linking to it
type index map[int64]map[int64]struct{}

func (x index) add(item, book int64) {
	if x[item] == nil {
		x[item] = make(map[int64]struct{})
	}
	x[item][book] = struct{}{}
}

func (x index) remove(item, book int64) {
	delete(x[item], book)
	if len(x[item]) == 0 {
		delete(x, item)
	}
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Builtin constructors

func NewTags() *ManyToMany[string] {
	return NewManyToMany("tags",
		"SELECT id, name, link FROM tags",
		"SELECT book, tag FROM books_tags_link ORDER BY id",
		AsString, FoldString)
}

func NewLanguages() *ManyToMany[string] {
	return NewManyToMany("languages",
		"SELECT id, lang_code, link FROM languages",
		"SELECT book, lang_code FROM books_languages_link ORDER BY book, item_order, id",
		AsString, FoldString)
}

func NewSeries() *ManyToOne[string] {
	return NewManyToOne("series",
		"SELECT id, name, link FROM series",
		"SELECT book, series FROM books_series_link",
		AsString, FoldString, false)
}

func NewPublishers() *ManyToOne[string] {
	return NewManyToOne("publisher",
		"SELECT id, name, link FROM publishers",
		"SELECT book, publisher FROM books_publishers_link",
		AsString, FoldString, false)
}

func NewRatings() *ManyToOne[int64] {
	return NewManyToOne("rating",
		"SELECT id, rating, '' FROM ratings",
		"SELECT book, rating FROM books_ratings_link",
		AsInt64, nil, false)
}

// NewCustomMany reads a multi-valued normalised custom column
func NewCustomMany(key string, colID int) *ManyToMany[string] {
	return NewManyToMany(key,
		fmt.Sprintf("SELECT id, value, link FROM custom_column_%d", colID),
		fmt.Sprintf("SELECT book, value FROM books_custom_column_%d_link ORDER BY id", colID),
		AsString, FoldString)
}

// NewCustomOne reads a single-valued normalised custom column
func NewCustomOne(key string, colID int, hasExtra bool) *ManyToOne[string] {
	link := fmt.Sprintf("SELECT book, value FROM books_custom_column_%d_link", colID)
	if hasExtra {
		link = fmt.Sprintf("SELECT book, value, extra FROM books_custom_column_%d_link", colID)
	}
	return NewManyToOne(key,
		fmt.Sprintf("SELECT id, value, link FROM custom_column_%d", colID),
		link, AsString, FoldString, hasExtra)
}

// NewCustomRating reads a normalised rating custom column
func NewCustomRating(key string, colID int) *ManyToOne[int64] {
	return NewManyToOne(key,
		fmt.Sprintf("SELECT id, value, link FROM custom_column_%d", colID),
		fmt.Sprintf("SELECT book, value FROM books_custom_column_%d_link", colID),
		AsInt64, nil, false)
}
