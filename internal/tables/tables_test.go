package tables

import (
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/franz/shelfdb/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), store.DBName))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	stmts := []string{
		`INSERT INTO books (id, title, path, timestamp) VALUES (1, 'Dune', 'Frank Herbert/Dune (1)', '2024-01-02 03:04:05+00:00')`,
		`INSERT INTO books (id, title, path) VALUES (2, 'Emma', 'Jane Austen/Emma (2)')`,
		`INSERT INTO authors (id, name) VALUES (1, 'Frank Herbert')`,
		`INSERT INTO authors (id, name) VALUES (2, 'Jane Austen')`,
		`INSERT INTO authors (id, name) VALUES (3, 'Brian Herbert')`,
		`INSERT INTO books_authors_link (book, author) VALUES (1, 3)`,
		`INSERT INTO books_authors_link (book, author) VALUES (1, 1)`,
		`INSERT INTO books_authors_link (book, author) VALUES (2, 2)`,
		`INSERT INTO tags (id, name) VALUES (1, 'SciFi')`,
		`INSERT INTO tags (id, name) VALUES (2, 'Classic')`,
		`INSERT INTO tags (id, name) VALUES (3, 'Unused')`,
		`INSERT INTO books_tags_link (book, tag) VALUES (1, 1)`,
		`INSERT INTO books_tags_link (book, tag) VALUES (1, 2)`,
		`INSERT INTO books_tags_link (book, tag) VALUES (2, 2)`,
		`INSERT INTO series (id, name, link) VALUES (1, 'Dune Chronicles', 'https://example.org/dune')`,
		`INSERT INTO books_series_link (book, series) VALUES (1, 1)`,
		`INSERT INTO ratings (id, rating) VALUES (1, 8)`,
		`INSERT INTO books_ratings_link (book, rating) VALUES (2, 1)`,
		`INSERT INTO data (book, format, uncompressed_size, name) VALUES (1, 'EPUB', 1200, 'Dune - Frank Herbert')`,
		`INSERT INTO data (book, format, uncompressed_size, name) VALUES (1, 'pdf', 5400, 'Dune - Frank Herbert')`,
		`INSERT INTO identifiers (book, type, val) VALUES (1, 'isbn', '9780441013593')`,
		`INSERT INTO comments (book, text) VALUES (2, 'A novel.')`,
	}
	for _, stmt := range stmts {
		if _, err := s.Execute(stmt); err != nil {
			t.Fatalf("seed %q failed: %v", stmt, err)
		}
	}
	return s
}

type builtins struct {
	cat         *Catalog
	title       *OneToOne[string]
	timestamp   *OneToOne[time.Time]
	comments    *OneToOne[string]
	uuid        *UUIDTable
	size        *OneToOne[int64]
	authors     *Authors
	tags        *ManyToMany[string]
	series      *ManyToOne[string]
	rating      *ManyToOne[int64]
	formats     *Formats
	identifiers *Identifiers
}

func loadBuiltins(t *testing.T, s *store.Store) *builtins {
	t.Helper()
	b := &builtins{
		cat:         NewCatalog(),
		title:       NewOneToOne("title", "SELECT id, title FROM books", AsString),
		timestamp:   NewOneToOne("timestamp", "SELECT id, timestamp FROM books", AsTime),
		comments:    NewOneToOne("comments", "SELECT book, text FROM comments", AsString),
		uuid:        NewUUIDTable(),
		size:        NewSizeTable(),
		authors:     NewAuthors(),
		tags:        NewTags(),
		series:      NewSeries(),
		rating:      NewRatings(),
		formats:     NewFormats(),
		identifiers: NewIdentifiers(),
	}
	for _, tbl := range []Table{b.title, b.timestamp, b.comments, b.uuid, b.size, b.authors,
		b.tags, b.series, b.rating, b.formats, b.identifiers} {
		b.cat.Add(tbl)
	}
	err := s.Transaction(func(tx *store.Tx) error {
		return b.cat.ReadAll(tx)
	})
	if err != nil {
		t.Fatalf("failed to read tables: %v", err)
	}
	return b
}

func TestCatalogReadAll(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	if v, _ := b.title.Get(1); v != "Dune" {
		t.Errorf("expected title Dune, got %q", v)
	}
	ts, ok := b.timestamp.Get(1)
	if !ok || !ts.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v (%v)", ts, ok)
	}
	if v := b.comments.BookValue(1); v != nil {
		t.Errorf("expected no comment for book 1, got %v", v)
	}

	if got := b.authors.Get(1); !reflect.DeepEqual(got, []string{"Brian Herbert", "Frank Herbert"}) {
		t.Errorf("authors must keep link order, got %v", got)
	}
	if got := b.authors.AuthorSortFor(1); got != "Herbert, Brian & Herbert, Frank" {
		t.Errorf("unexpected author sort %q", got)
	}
	if got := b.tags.Get(1); !reflect.DeepEqual(got, []string{"SciFi", "Classic"}) {
		t.Errorf("unexpected tags %v", got)
	}
	if got := b.tags.BooksFor(2); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("unexpected books for Classic: %v", got)
	}
	if got := b.tags.UnusedItems(); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("unexpected unused tags %v", got)
	}
	if id, ok := b.tags.ItemID("scifi"); !ok || id != 1 {
		t.Errorf("tag lookup must fold case, got %d %v", id, ok)
	}

	if v, _ := b.series.Get(1); v != "Dune Chronicles" {
		t.Errorf("unexpected series %q", v)
	}
	if link := b.series.Link(1); link != "https://example.org/dune" {
		t.Errorf("unexpected series link %q", link)
	}
	if v, _ := b.rating.Get(2); v != 8 {
		t.Errorf("unexpected rating %d", v)
	}

	if got := b.formats.Get(1); !reflect.DeepEqual(got, []string{"EPUB", "PDF"}) {
		t.Errorf("unexpected formats %v", got)
	}
	if fi, ok := b.formats.Info(1, "epub"); !ok || fi.Size != 1200 || fi.Name != "Dune - Frank Herbert" {
		t.Errorf("unexpected format info %+v", fi)
	}
	if size, _ := b.size.Get(1); size != 5400 {
		t.Errorf("expected size 5400, got %d", size)
	}
	if _, ok := b.size.Get(2); ok {
		t.Error("book without formats must have no size")
	}

	if got := b.identifiers.Lookup("ISBN", "9780441013593"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("unexpected identifier lookup %v", got)
	}

	u, _ := b.uuid.Get(2)
	if id, ok := b.uuid.Lookup(u); !ok || id != 2 {
		t.Errorf("uuid reverse lookup failed for %q", u)
	}
}

func TestManyToManyMergeItem(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	// Book 1 has SciFi and Classic; merging SciFi into Classic must not duplicate
	affected := b.tags.MergeItem(1, 2)
	if !reflect.DeepEqual(affected, []int64{1}) {
		t.Errorf("unexpected affected books %v", affected)
	}
	if got := b.tags.Get(1); !reflect.DeepEqual(got, []string{"Classic"}) {
		t.Errorf("unexpected tags after merge %v", got)
	}
	if _, ok := b.tags.ItemID("SciFi"); ok {
		t.Error("merged item must be forgotten")
	}
}

func TestManyToOneRemoveItems(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	affected := b.series.RemoveItems([]int64{1})
	if !reflect.DeepEqual(affected, []int64{1}) {
		t.Errorf("unexpected affected books %v", affected)
	}
	if v := b.series.BookValue(1); v != nil {
		t.Errorf("expected no series, got %v", v)
	}
	if got := b.series.BooksFor(1); len(got) != 0 {
		t.Errorf("expected no books for removed series, got %v", got)
	}
}

func TestCatalogRemoveBooks(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	err := b.cat.Write(b.cat.Names(), func() error {
		b.cat.RemoveBooks([]int64{1})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := b.title.Get(1); ok {
		t.Error("title must be removed")
	}
	if got := b.tags.BooksFor(2); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("unexpected books for Classic: %v", got)
	}
	if got := b.formats.Get(1); got != nil {
		t.Errorf("formats must be removed, got %v", got)
	}
	if got := b.authors.Get(2); !reflect.DeepEqual(got, []string{"Jane Austen"}) {
		t.Errorf("other books must be untouched, got %v", got)
	}
}

func TestOneToOneSetAny(t *testing.T) {
	tbl := NewOneToOne("title", "SELECT id, title FROM books", AsString)

	if err := tbl.SetAny(1, "Dune"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetAny(1, 42); err == nil {
		t.Error("expected a type error")
	}
	if err := tbl.SetAny(1, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Get(1); ok {
		t.Error("nil must clear the value")
	}
}

func TestCatalogConcurrentWriters(t *testing.T) {
	cat := NewCatalog()
	a := NewOneToOne("a", "", AsInt64)
	z := NewOneToOne("z", "", AsInt64)
	cat.Add(a)
	cat.Add(z)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cat.Write([]string{"z", "a"}, func() error {
				a.Set(1, int64(i))
				z.Set(1, int64(i))
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			cat.Read([]string{"a", "z"}, func() error {
				av, _ := a.Get(1)
				zv, _ := z.Get(1)
				if av != zv {
					t.Errorf("torn read: %d != %d", av, zv)
				}
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestReverseIndexFollowsLinks(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	b.tags.LinkBook(2, []int64{1, 3})
	if got := b.tags.BooksFor(2); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("expected Classic only on book 1, got %v", got)
	}
	if got := b.tags.BooksFor(3); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("expected Unused on book 2, got %v", got)
	}

	b.series.LinkBook(2, 1)
	if got := b.series.BooksFor(1); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("unexpected series books %v", got)
	}
	b.series.LinkBook(1, 0)
	b.series.RemoveBooks([]int64{2})
	if got := b.series.BooksFor(1); len(got) != 0 {
		t.Errorf("expected no series books left, got %v", got)
	}

	b.tags.RemoveBooks([]int64{1})
	if got := b.tags.BooksFor(1); len(got) != 0 {
		t.Errorf("expected SciFi unused after removing book 1, got %v", got)
	}
}

func TestCatalogConcurrentReaders(t *testing.T) {
	b := loadBuiltins(t, seededStore(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.cat.Read([]string{"tags"}, func() error {
				if got := b.tags.BooksFor(2); len(got) == 0 {
					t.Error("expected books for Classic")
				}
				return nil
			})
		}()
		go func(i int) {
			defer wg.Done()
			b.cat.Write([]string{"tags"}, func() error {
				b.tags.LinkBook(2, []int64{2, int64(1 + i%2)})
				return nil
			})
		}(i)
	}
	wg.Wait()
}
