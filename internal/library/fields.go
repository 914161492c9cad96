package library

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/customcol"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/tables"
	"github.com/franz/shelfdb/internal/util"
)

// normSQL names the tables behind a normalised field. Every name comes from
// a fixed list or from a custom column's numeric id.
type normSQL struct {
	table   string // value table
	column  string // value column
	link    string // book to value link table
	linkCol string // value id column of the link table
	ordered bool   // link rows carry item_order
}

func (n normSQL) insertItem() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", n.table, n.column)
}

// itemTable is the part of a text valued normalised table the write API
// needs
type itemTable interface {
	tables.Table
	Value(id int64) (string, bool)
	ItemID(v string) (int64, bool)
	AddItem(id int64, v string)
	RenameItem(id int64, v string)
	Link(id int64) string
	SetLink(id int64, link string)
	ItemIDs() []int64
	BooksFor(item int64) []int64
	RemoveItems(ids []int64) []int64
	MergeItem(src, dst int64) []int64
}

// normField is a text valued normalised field: authors, tags, languages,
// series, publisher and the normalised text custom columns
type normField struct {
	key      string
	sql      normSQL
	items    itemTable
	many     bool
	itemsFor func(book int64) []int64
	linkMany func(book int64, ids []int64)
	linkOne  func(book, item int64)
}

func manyField(key string, sql normSQL, t *tables.ManyToMany[string]) *normField {
	return &normField{key: key, sql: sql, items: t, many: true, itemsFor: t.ItemsFor, linkMany: t.LinkBook}
}

func oneField(key string, sql normSQL, t *tables.ManyToOne[string]) *normField {
	return &normField{
		key:   key,
		sql:   sql,
		items: t,
		itemsFor: func(book int64) []int64 {
			if id, ok := t.ItemFor(book); ok {
				return []int64{id}
			}
			return nil
		},
		linkOne: t.LinkBook,
	}
}

// undefinedDate marks a publication date that is not known
var undefinedDate = time.Date(101, 1, 1, 0, 0, 0, 0, time.UTC)

func (l *Library) registerBuiltins() {
	l.title = tables.NewOneToOne("title", "SELECT id, title FROM books", tables.AsString)
	l.sort = tables.NewOneToOne("sort", "SELECT id, sort FROM books", tables.AsString)
	l.authorSort = tables.NewOneToOne("author_sort", "SELECT id, author_sort FROM books", tables.AsString)
	l.comments = tables.NewOneToOne("comments", "SELECT book, text FROM comments", tables.AsString)
	l.path = tables.NewPathTable()
	l.seriesIndex = tables.NewOneToOne("series_index", "SELECT id, series_index FROM books", tables.AsFloat)
	l.timestamp = tables.NewOneToOne("timestamp", "SELECT id, timestamp FROM books", tables.AsTime)
	l.pubdate = tables.NewOneToOne("pubdate", "SELECT id, pubdate FROM books", tables.AsTime)
	l.lastModified = tables.NewOneToOne("last_modified", "SELECT id, last_modified FROM books", tables.AsTime)
	l.cover = tables.NewOneToOne("cover", "SELECT id, has_cover FROM books", tables.AsBool)
	l.size = tables.NewSizeTable()
	l.uuid = tables.NewUUIDTable()
	l.authors = tables.NewAuthors()
	l.tags = tables.NewTags()
	l.languages = tables.NewLanguages()
	l.series = tables.NewSeries()
	l.publisher = tables.NewPublishers()
	l.rating = tables.NewRatings()
	l.formats = tables.NewFormats()
	l.identifiers = tables.NewIdentifiers()

	for _, t := range []tables.Table{
		l.title, l.sort, l.authorSort, l.comments, l.path, l.seriesIndex,
		l.timestamp, l.pubdate, l.lastModified, l.cover, l.size, l.uuid,
		l.authors, l.tags, l.languages, l.series, l.publisher, l.rating,
		l.formats, l.identifiers,
	} {
		l.cat.Add(t)
	}

	authors := manyField("authors", normSQL{"authors", "name", "books_authors_link", "author", false}, l.authors.ManyToMany)
	authors.items = l.authors
	l.norm["authors"] = authors
	l.norm["tags"] = manyField("tags", normSQL{"tags", "name", "books_tags_link", "tag", false}, l.tags)
	l.norm["languages"] = manyField("languages", normSQL{"languages", "lang_code", "books_languages_link", "lang_code", true}, l.languages)
	l.norm["series"] = oneField("series", normSQL{"series", "name", "books_series_link", "series", false}, l.series)
	l.norm["publisher"] = oneField("publisher", normSQL{"publishers", "name", "books_publishers_link", "publisher", false}, l.publisher)

	l.writers["title"] = &columnWriter[string]{
		tables: []string{"title", "sort"},
		get:    l.title.Get, set: l.title.Set, del: l.title.Delete,
		conv:  adaptTitle,
		store: booksColumn("title"),
		after: l.refreshTitleSort,
	}
	l.writers["sort"] = stringColumn(l.sort, "sort")
	l.writers["author_sort"] = stringColumn(l.authorSort, "author_sort")
	l.writers["series_index"] = &columnWriter[float64]{
		tables: []string{"series_index"},
		get:    l.seriesIndex.Get, set: l.seriesIndex.Set, del: l.seriesIndex.Delete,
		conv:  adaptIndex,
		store: booksColumn("series_index"),
	}
	l.writers["timestamp"] = dateColumn(l.timestamp, "timestamp", false)
	l.writers["pubdate"] = dateColumn(l.pubdate, "pubdate", true)
	l.writers["last_modified"] = dateColumn(l.lastModified, "last_modified", false)
	l.writers["cover"] = &columnWriter[bool]{
		tables: []string{"cover"},
		get:    l.cover.Get, set: l.cover.Set, del: l.cover.Delete,
		conv:  adaptBool,
		store: booksColumn("has_cover"),
	}
	l.writers["uuid"] = &columnWriter[string]{
		tables: []string{"uuid"},
		get:    l.uuid.Get, set: l.uuid.Set, del: l.uuid.Delete,
		conv:  adaptUUID,
		store: booksColumn("uuid"),
	}
	l.writers["comments"] = &columnWriter[string]{
		tables: []string{"comments"},
		get:    l.comments.Get, set: l.comments.Set, del: l.comments.Delete,
		conv:  adaptComments,
		store: bookValueTable("comments", "text"),
	}

	l.writers["authors"] = &manyWriter{
		f:     l.norm["authors"],
		conv:  l.adaptAuthors,
		extra: []string{"author_sort"},
		after: l.refreshAuthorSort,
	}
	l.writers["tags"] = &manyWriter{f: l.norm["tags"], conv: l.adaptTags}
	l.writers["languages"] = &manyWriter{f: l.norm["languages"], conv: l.adaptLanguages}
	l.writers["series"] = &oneWriter{f: l.norm["series"], table: l.series, conv: adaptName}
	l.writers["publisher"] = &oneWriter{f: l.norm["publisher"], table: l.publisher, conv: adaptName}
	l.writers["rating"] = &ratingWriter{
		key:   "rating",
		sql:   normSQL{"ratings", "rating", "books_ratings_link", "rating", false},
		table: l.rating,
		conv:  adaptRating,
	}
	l.writers["identifiers"] = &identifiersWriter{table: l.identifiers}
}

// registerColumn adds the table and writer of a custom column
func (l *Library) registerColumn(col *customcol.Column) {
	key := col.Key()
	adapt := col.Adapt
	query := fmt.Sprintf("SELECT book, value FROM %s", col.Table())
	sql := normSQL{col.Table(), "value", col.LinkTable(), "value", false}

	switch dt := col.Datatype.(type) {
	case customcol.Composite:
		l.cat.Add(tables.NewComposite(key, dt.Template))
	case customcol.Rating:
		t := tables.NewCustomRating(key, col.ID)
		l.cat.Add(t)
		l.writers[key] = &ratingWriter{key: key, sql: sql, table: t, conv: adapt}
	case customcol.Datetime:
		addCustomValues(l, col, tables.NewOneToOne(key, query, tables.AsTime))
	case customcol.Int:
		addCustomValues(l, col, tables.NewOneToOne(key, query, tables.AsInt64))
	case customcol.Float:
		addCustomValues(l, col, tables.NewOneToOne(key, query, tables.AsFloat))
	case customcol.Bool:
		addCustomValues(l, col, tables.NewOneToOne(key, query, tables.AsBool))
	case customcol.Comments:
		addCustomValues(l, col, tables.NewOneToOne(key, query, tables.AsString))
	default:
		if col.IsMultiple {
			t := tables.NewCustomMany(key, col.ID)
			l.cat.Add(t)
			l.norm[key] = manyField(key, sql, t)
			l.writers[key] = &manyWriter{f: l.norm[key], conv: adapt}
			return
		}
		t := tables.NewCustomOne(key, col.ID, col.HasExtra())
		l.cat.Add(t)
		l.norm[key] = oneField(key, sql, t)
		l.writers[key] = &oneWriter{f: l.norm[key], table: t, conv: adapt}
		if col.HasExtra() {
			l.writers[key+"_index"] = &extraWriter{key: key, link: col.LinkTable(), table: t}
		}
	}
}

// addCustomValues registers a custom column stored one row per book
func addCustomValues[V any](l *Library, col *customcol.Column, t *tables.OneToOne[V]) {
	l.cat.Add(t)
	l.writers[col.Key()] = &columnWriter[V]{
		tables: []string{col.Key()},
		get:    t.Get, set: t.Set, del: t.Delete,
		conv:  col.Adapt,
		store: bookValueTable(col.Table(), "value"),
	}
}

// unregisterColumn forgets the table and writer of a custom column
func (l *Library) unregisterColumn(key string) {
	l.cat.Remove(key)
	delete(l.writers, key)
	delete(l.writers, key+"_index")
	delete(l.norm, key)
}

func (l *Library) writerFor(key string) (writer, error) {
	l.fieldsMu.RLock()
	defer l.fieldsMu.RUnlock()
	if w, ok := l.writers[key]; ok {
		return w, nil
	}
	if _, ok := l.cat.Get(key); ok {
		return nil, fmt.Errorf("%w: field %s is read-only", util.ErrInvalidValue, key)
	}
	return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
}

func (l *Library) normFor(key string) (*normField, error) {
	l.fieldsMu.RLock()
	defer l.fieldsMu.RUnlock()
	if f, ok := l.norm[key]; ok {
		return f, nil
	}
	if _, ok := l.cat.Get(key); ok {
		return nil, fmt.Errorf("%w: field %s has no named items", util.ErrInvalidValue, key)
	}
	return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
}

func (l *Library) normFields() []*normField {
	l.fieldsMu.RLock()
	defer l.fieldsMu.RUnlock()
	out := make([]*normField, 0, len(l.norm))
	for _, f := range l.norm {
		out = append(out, f)
	}
	return out
}

// sqlValue converts a stored value to what the driver expects
func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return util.FormatTimestamp(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}

// booksColumn stores a value in a column of the books row
func booksColumn(column string) func(tx *store.Tx, book int64, v any) error {
	query := fmt.Sprintf("UPDATE books SET %s=? WHERE id=?", column)
	return func(tx *store.Tx, book int64, v any) error {
		_, err := tx.Execute(query, sqlValue(v), book)
		return err
	}
}

// bookValueTable stores a value in a table holding one row per book. nil
// deletes the row.
func bookValueTable(table, column string) func(tx *store.Tx, book int64, v any) error {
	upsert := fmt.Sprintf("INSERT INTO %[1]s (book, %[2]s) VALUES (?, ?) ON CONFLICT(book) DO UPDATE SET %[2]s=excluded.%[2]s", table, column)
	del := fmt.Sprintf("DELETE FROM %s WHERE book=?", table)
	return func(tx *store.Tx, book int64, v any) error {
		if v == nil {
			_, err := tx.Execute(del, book)
			return err
		}
		_, err := tx.Execute(upsert, book, sqlValue(v))
		return err
	}
}

func stringColumn(t *tables.OneToOne[string], column string) *columnWriter[string] {
	return &columnWriter[string]{
		tables: []string{t.Name()},
		get:    t.Get, set: t.Set, del: t.Delete,
		conv:  adaptString,
		store: booksColumn(column),
	}
}

func dateColumn(t *tables.OneToOne[time.Time], column string, optional bool) *columnWriter[time.Time] {
	return &columnWriter[time.Time]{
		tables: []string{t.Name()},
		get:    t.Get, set: t.Set, del: t.Delete,
		conv: func(v any) (any, error) {
			return adaptDate(v, optional)
		},
		store: booksColumn(column),
	}
}

// refreshTitleSort copies the sort title the insert/update trigger derived
func (l *Library) refreshTitleSort(tx *store.Tx, book int64, p *pending) error {
	var sort string
	if err := tx.QueryRow("SELECT sort FROM books WHERE id=?", book).Scan(&sort); err != nil {
		return fmt.Errorf("failed to read sort title: %w", err)
	}
	p.do(func() { l.sort.Set(book, sort) })
	return nil
}

// refreshAuthorSort recomputes books.author_sort from the book's new authors
func (l *Library) refreshAuthorSort(tx *store.Tx, book int64, ids []int64, p *pending) error {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := p.authorSorts[id]; ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, l.authors.Sort(id))
		}
	}
	sort := strings.Join(parts, " & ")
	if _, err := tx.Execute("UPDATE books SET author_sort=? WHERE id=?", sort, book); err != nil {
		return err
	}
	p.do(func() { l.authorSort.Set(book, sort) })
	return nil
}
