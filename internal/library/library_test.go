package library

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

func openTestLibrary(t *testing.T) *Library {
	t.Helper()
	l, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open library: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func addBook(t *testing.T, l *Library, title string, authors ...string) int64 {
	t.Helper()
	id, err := l.CreateBookEntry(&Metadata{Title: title, Authors: authors})
	if err != nil {
		t.Fatalf("failed to create %q: %v", title, err)
	}
	return id
}

func addFormat(t *testing.T, l *Library, book int64, format string, size int) []byte {
	t.Helper()
	data := bytes.Repeat([]byte{byte(len(format))}, size)
	added, err := l.AddFormat(book, format, bytes.NewReader(data), false)
	if err != nil {
		t.Fatalf("failed to add %s: %v", format, err)
	}
	if !added {
		t.Fatalf("expected %s to be added", format)
	}
	return data
}

func countRows(t *testing.T, l *Library, query string, args ...any) int {
	t.Helper()
	var n int
	if err := l.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q failed: %v", query, err)
	}
	return n
}

func mustBook(t *testing.T, l *Library, id int64) *Metadata {
	t.Helper()
	mi, err := l.Book(id)
	if err != nil {
		t.Fatalf("failed to read book %d: %v", id, err)
	}
	return mi
}

func TestCreateBookEntry(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if id != 1 {
		t.Errorf("expected first book to get id 1, got %d", id)
	}
	mi := mustBook(t, l, id)
	if mi.Path != "A B/Hello (1)" {
		t.Errorf("expected path %q, got %q", "A B/Hello (1)", mi.Path)
	}
	if mi.AuthorSort != "B, A" {
		t.Errorf("expected author sort %q, got %q", "B, A", mi.AuthorSort)
	}
	if mi.UUID == "" {
		t.Error("expected a uuid to be assigned")
	}
	if !mi.Pubdate.IsZero() {
		t.Errorf("expected undefined pubdate, got %v", mi.Pubdate)
	}
	if _, err := os.Stat(filepath.Join(l.Root(), "A B", "Hello (1)")); err != nil {
		t.Errorf("expected book directory to exist: %v", err)
	}
	if got, ok := l.BookByUUID(mi.UUID); !ok || got != id {
		t.Errorf("expected uuid lookup to find book %d, got %d", id, got)
	}

	dirtied, err := l.DirtiedBooks()
	if err != nil {
		t.Fatalf("failed to list dirtied books: %v", err)
	}
	if !slices.Contains(dirtied, id) {
		t.Errorf("expected new book to be dirtied, got %v", dirtied)
	}
}

func TestCreateBookEntryDefaults(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "")

	mi := mustBook(t, l, id)
	if mi.Title != "Unknown" {
		t.Errorf("expected title Unknown, got %q", mi.Title)
	}
	if !slices.Equal(mi.Authors, []string{"Unknown"}) {
		t.Errorf("expected authors [Unknown], got %v", mi.Authors)
	}
	if mi.SeriesIndex != 1.0 {
		t.Errorf("expected series index 1, got %v", mi.SeriesIndex)
	}

	_, err := l.CreateBookEntry(&Metadata{ID: id, Title: "Again"})
	if !errors.Is(err, util.ErrConflict) {
		t.Errorf("expected ErrConflict for a taken id, got %v", err)
	}
}

func TestAddFormats(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	epub := addFormat(t, l, id, "epub", 1000)
	addFormat(t, l, id, "pdf", 2500)

	if got := l.Formats(id); !slices.Equal(got, []string{"EPUB", "PDF"}) {
		t.Errorf("expected formats [EPUB PDF], got %v", got)
	}
	size, err := l.Field(id, "size")
	if err != nil {
		t.Fatalf("failed to read size: %v", err)
	}
	if size != int64(2500) {
		t.Errorf("expected size 2500, got %v", size)
	}
	fi, ok := l.FormatInfo(id, "epub")
	if !ok || fi.Size != 1000 || fi.Name != "Hello - A B" {
		t.Errorf("unexpected EPUB info %+v", fi)
	}
	abs, err := l.FormatAbspath(id, "EPUB")
	if err != nil {
		t.Fatalf("failed to locate EPUB: %v", err)
	}
	if want := filepath.Join(l.Root(), "A B", "Hello (1)", "Hello - A B.epub"); abs != want {
		t.Errorf("expected EPUB at %s, got %s", want, abs)
	}

	added, err := l.AddFormat(id, "EPUB", bytes.NewReader([]byte("other")), false)
	if err != nil || added {
		t.Errorf("expected existing format to be kept, got added=%v err=%v", added, err)
	}

	hash, err := l.FormatHash(id, "EPUB")
	if err != nil {
		t.Fatalf("failed to hash EPUB: %v", err)
	}
	want, _ := util.HashReader(bytes.NewReader(epub))
	if hash != want {
		t.Errorf("expected hash %s, got %s", want, hash)
	}

	var buf bytes.Buffer
	if err := l.CopyFormatToWriter(id, "epub", &buf); err != nil {
		t.Fatalf("failed to copy EPUB: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), epub) {
		t.Error("expected copied EPUB to match the stored data")
	}
}

func TestAddFormatRejectsBadNames(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	for _, format := range []string{"", "../EPUB", "tar.gz", `a\b`} {
		if _, err := l.AddFormat(id, format, bytes.NewReader(nil), true); !errors.Is(err, util.ErrInvalidValue) {
			t.Errorf("format %q: expected ErrInvalidValue, got %v", format, err)
		}
	}
	if _, err := l.AddFormat(99, "EPUB", bytes.NewReader(nil), true); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing book, got %v", err)
	}
}

func TestRenameMovesFiles(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 1000)
	addFormat(t, l, id, "pdf", 2500)
	oldDir := filepath.Join(l.Root(), "A B", "Hello (1)")

	changed, err := l.SetField(id, "title", "Hello World")
	if err != nil || !changed {
		t.Fatalf("expected title to change, got changed=%v err=%v", changed, err)
	}
	mi := mustBook(t, l, id)
	if mi.Path != "A B/Hello World (1)" {
		t.Errorf("expected path %q, got %q", "A B/Hello World (1)", mi.Path)
	}
	if mi.Sort != "Hello World" {
		t.Errorf("expected title sort to follow the title, got %q", mi.Sort)
	}
	for _, name := range []string{"Hello World - A B.epub", "Hello World - A B.pdf"} {
		if _, err := os.Stat(filepath.Join(l.Root(), "A B", "Hello World (1)", name)); err != nil {
			t.Errorf("expected %s after rename: %v", name, err)
		}
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("expected old directory to be gone, got %v", err)
	}
	if fi, _ := l.FormatInfo(id, "PDF"); fi.Name != "Hello World - A B" {
		t.Errorf("expected PDF name to follow the title, got %q", fi.Name)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM data WHERE book=? AND name=?", id, "Hello World - A B"); n != 2 {
		t.Errorf("expected both data rows renamed, got %d", n)
	}

	changed, err = l.SetField(id, "title", "Hello World")
	if err != nil || changed {
		t.Errorf("expected unchanged title to be a no-op, got changed=%v err=%v", changed, err)
	}
}

func TestRenameKeepsMetadataOPF(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)
	opf := []byte("<package/>")
	if err := os.WriteFile(filepath.Join(l.Root(), "A B", "Hello (1)", "metadata.opf"), opf, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := l.SetField(id, "title", "Hello World"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(l.Root(), "A B", "Hello World (1)", "metadata.opf"))
	if err != nil || !bytes.Equal(got, opf) {
		t.Errorf("expected metadata.opf to follow the book, got %q %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(l.Root(), "A B", "Hello (1)")); !os.IsNotExist(err) {
		t.Errorf("expected old directory to be gone, got %v", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	l := openTestLibrary(t)
	a := addBook(t, l, "One", "A B")
	b := addBook(t, l, "Two", "A B")

	for _, tag := range []string{"fiction", "poetry", "history"} {
		if _, err := l.SetField(a, "tags", tag); err != nil {
			t.Fatal(err)
		}
		if _, err := l.SetField(b, "tags", tag); err != nil {
			t.Fatal(err)
		}
		id, ok := l.ItemID("tags", tag)
		if !ok {
			t.Fatalf("expected tag %q", tag)
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				books, err := l.BooksFor("tags", id)
				if err != nil || !slices.Equal(books, []int64{a, b}) {
					t.Errorf("unexpected books for %q: %v %v", tag, books, err)
				}
				items, err := l.Items("tags")
				if err != nil || len(items) != 1 || items[0].Books != 2 {
					t.Errorf("unexpected items: %+v %v", items, err)
				}
			}()
		}
		wg.Wait()
	}
}

func TestChangeAuthorMovesDirectory(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)

	if _, err := l.SetField(id, "authors", "C D & A B"); err != nil {
		t.Fatalf("failed to set authors: %v", err)
	}
	mi := mustBook(t, l, id)
	if !slices.Equal(mi.Authors, []string{"C D", "A B"}) {
		t.Errorf("expected authors [C D, A B], got %v", mi.Authors)
	}
	if mi.AuthorSort != "D, C & B, A" {
		t.Errorf("expected author sort %q, got %q", "D, C & B, A", mi.AuthorSort)
	}
	if mi.Path != "C D/Hello (1)" {
		t.Errorf("expected path %q, got %q", "C D/Hello (1)", mi.Path)
	}
	if _, err := os.Stat(filepath.Join(l.Root(), "A B")); !os.IsNotExist(err) {
		t.Errorf("expected empty author directory to be pruned, got %v", err)
	}
}

func TestCustomTextColumn(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	col, err := l.CreateCustomColumn("mytags", "My Tags", "text", true, true, nil)
	if err != nil {
		t.Fatalf("failed to create column: %v", err)
	}
	if col.Key() != "#mytags" {
		t.Errorf("expected key #mytags, got %s", col.Key())
	}
	if _, err := l.SetField(id, "#mytags", "one, two, three"); err != nil {
		t.Fatalf("failed to set #mytags: %v", err)
	}
	v, err := l.Field(id, "#mytags")
	if err != nil {
		t.Fatalf("failed to read #mytags: %v", err)
	}
	if got, _ := v.([]string); !slices.Equal(got, []string{"one", "two", "three"}) {
		t.Errorf("expected [one two three], got %v", v)
	}
	if s, _ := l.FieldString(id, "#mytags"); s != "one, two, three" {
		t.Errorf("expected display %q, got %q", "one, two, three", s)
	}

	if _, err := l.CreateCustomColumn("mytags", "Again", "text", false, true, nil); err == nil {
		t.Error("expected a duplicate label to be refused")
	}

	if err := l.DeleteCustomColumn("mytags"); err != nil {
		t.Fatalf("failed to delete column: %v", err)
	}
	if _, err := l.Field(id, "#mytags"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected deleted column to be gone, got %v", err)
	}
}

func TestCustomColumnsSurviveReopen(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open library: %v", err)
	}
	id := addBook(t, l, "Hello", "A B")
	if _, err := l.CreateCustomColumn("read", "Read", "bool", false, true, nil); err != nil {
		t.Fatalf("failed to create column: %v", err)
	}
	if _, err := l.SetField(id, "#read", true); err != nil {
		t.Fatalf("failed to set #read: %v", err)
	}
	l.Close()

	l, err = Open(root, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to reopen library: %v", err)
	}
	defer l.Close()
	v, err := l.Field(id, "#read")
	if err != nil || v != true {
		t.Errorf("expected #read to be true after reopen, got %v (%v)", v, err)
	}
	mi := mustBook(t, l, id)
	if mi.Custom["#read"] != true {
		t.Errorf("expected snapshot to carry #read, got %v", mi.Custom)
	}
}

func TestSeriesAndIndex(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if _, err := l.SetField(id, "series", "Saga"); err != nil {
		t.Fatalf("failed to set series: %v", err)
	}
	if _, err := l.SetField(id, "series_index", 2.5); err != nil {
		t.Fatalf("failed to set series index: %v", err)
	}
	mi := mustBook(t, l, id)
	if mi.Series != "Saga" || mi.SeriesIndex != 2.5 {
		t.Errorf("expected Saga [2.5], got %q [%v]", mi.Series, mi.SeriesIndex)
	}

	if _, err := l.SetField(id, "series", nil); err != nil {
		t.Fatalf("failed to clear series: %v", err)
	}
	if items, _ := l.Items("series"); len(items) != 0 {
		t.Errorf("expected unused series to be removed, got %v", items)
	}
}

func TestRatingValidation(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if _, err := l.SetField(id, "rating", 11); !errors.Is(err, util.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for rating 11, got %v", err)
	}
	if _, err := l.SetField(id, "rating", 8); err != nil {
		t.Fatalf("failed to set rating: %v", err)
	}
	if v, _ := l.Field(id, "rating"); v != int64(8) {
		t.Errorf("expected rating 8, got %v", v)
	}
	if _, err := l.SetField(id, "rating", 0); err != nil {
		t.Fatalf("failed to clear rating: %v", err)
	}
	if v, _ := l.Field(id, "rating"); v != nil {
		t.Errorf("expected cleared rating, got %v", v)
	}
}

func TestIdentifiers(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if _, err := l.SetField(id, "identifiers", "ISBN:123,goodreads:9, "); err != nil {
		t.Fatalf("failed to set identifiers: %v", err)
	}
	if _, err := l.SetField(id, "identifiers", "isbn"); !errors.Is(err, util.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for a bare type, got %v", err)
	}
	mi := mustBook(t, l, id)
	if mi.Identifiers["isbn"] != "123" || mi.Identifiers["goodreads"] != "9" || len(mi.Identifiers) != 2 {
		t.Errorf("unexpected identifiers %v", mi.Identifiers)
	}
	if got := l.BooksWithIdentifier("ISBN", "123"); !slices.Equal(got, []int64{id}) {
		t.Errorf("expected identifier lookup to find book %d, got %v", id, got)
	}
	if s, _ := l.FieldString(id, "identifiers"); s != "goodreads:9,isbn:123" {
		t.Errorf("unexpected identifier display %q", s)
	}
}

func TestTagsOrphanCleanup(t *testing.T) {
	l := openTestLibrary(t)
	a := addBook(t, l, "One", "A B")
	b := addBook(t, l, "Two", "A B")

	if _, err := l.SetFields("tags", map[int64]any{a: "x, shared", b: "shared"}); err != nil {
		t.Fatalf("failed to set tags: %v", err)
	}
	if _, err := l.SetField(a, "tags", nil); err != nil {
		t.Fatalf("failed to clear tags: %v", err)
	}
	items, err := l.Items("tags")
	if err != nil {
		t.Fatalf("failed to list tags: %v", err)
	}
	if len(items) != 1 || items[0].Value != "shared" || items[0].Books != 1 {
		t.Errorf("expected only the shared tag to remain, got %+v", items)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM tags"); n != 1 {
		t.Errorf("expected 1 tag row, got %d", n)
	}
}

func TestRenameItemsMerges(t *testing.T) {
	l := openTestLibrary(t)
	a := addBook(t, l, "One", "A B")
	b := addBook(t, l, "Two", "A B")
	if _, err := l.SetFields("tags", map[int64]any{a: "fiction", b: "Fantasy, fiction-ish"}); err != nil {
		t.Fatalf("failed to set tags: %v", err)
	}
	src, ok := l.ItemID("tags", "fiction-ish")
	if !ok {
		t.Fatal("expected fiction-ish to exist")
	}
	dst, _ := l.ItemID("tags", "FICTION")

	result, err := l.RenameItems("tags", map[int64]string{src: "Fiction"})
	if err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	if result[src] != dst {
		t.Errorf("expected %d to merge into %d, got %d", src, dst, result[src])
	}
	mi := mustBook(t, l, b)
	if !slices.Equal(mi.Tags, []string{"Fantasy", "fiction"}) {
		t.Errorf("expected merged tags [Fantasy fiction], got %v", mi.Tags)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM books_tags_link WHERE book=?", b); n != 2 {
		t.Errorf("expected 2 tag links on book %d, got %d", b, n)
	}

	fantasy, _ := l.ItemID("tags", "fantasy")
	if _, err := l.RenameItems("tags", map[int64]string{fantasy: "Fantasy & Magic"}); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	if v, _ := l.Field(b, "tags"); !slices.Contains(v.([]string), "Fantasy & Magic") {
		t.Errorf("expected renamed tag on book %d, got %v", b, v)
	}
}

func TestRenameAuthorMovesBooks(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)
	author, _ := l.ItemID("authors", "A B")

	if _, err := l.RenameItems("authors", map[int64]string{author: "E F"}); err != nil {
		t.Fatalf("failed to rename author: %v", err)
	}
	mi := mustBook(t, l, id)
	if mi.Path != "E F/Hello (1)" || mi.AuthorSort != "F, E" {
		t.Errorf("expected book under E F with sort F, E, got %q / %q", mi.Path, mi.AuthorSort)
	}
	if _, err := l.FormatAbspath(id, "EPUB"); err != nil {
		t.Errorf("expected EPUB to move with the book: %v", err)
	}
}

func TestRemoveToTrashAndRestore(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 1000)
	if _, err := l.SetField(id, "tags", "kept"); err != nil {
		t.Fatalf("failed to set tags: %v", err)
	}
	dir := filepath.Join(l.Root(), "A B", "Hello (1)")

	if err := l.RemoveBooks([]int64{id}, false); err != nil {
		t.Fatalf("failed to remove book: %v", err)
	}
	if len(l.BookIDs()) != 0 {
		t.Errorf("expected no books, got %v", l.BookIDs())
	}
	for _, q := range []string{
		"SELECT COUNT(*) FROM books_authors_link",
		"SELECT COUNT(*) FROM books_tags_link",
		"SELECT COUNT(*) FROM data",
		"SELECT COUNT(*) FROM authors",
		"SELECT COUNT(*) FROM tags",
	} {
		if n := countRows(t, l, q); n != 0 {
			t.Errorf("%s: expected 0, got %d", q, n)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected book directory to leave the library, got %v", err)
	}
	entries, err := l.ListTrash()
	if err != nil {
		t.Fatalf("failed to list trash: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != trash.KindBook || entries[0].BookID != id {
		t.Fatalf("expected book %d in the trash, got %+v", id, entries)
	}

	if err := l.RestoreBook(id); err != nil {
		t.Fatalf("failed to restore book: %v", err)
	}
	mi := mustBook(t, l, id)
	if mi.Title != "Hello" || !slices.Equal(mi.Tags, []string{"kept"}) {
		t.Errorf("unexpected restored book %+v", mi)
	}
	if fi, ok := mi.Formats["EPUB"]; !ok || fi.Size != 1000 {
		t.Errorf("expected EPUB to be restored, got %v", mi.Formats)
	}
	if _, err := l.FormatAbspath(id, "EPUB"); err != nil {
		t.Errorf("expected restored EPUB on disk: %v", err)
	}
	if entries, _ := l.ListTrash(); len(entries) != 0 {
		t.Errorf("expected trash to be empty after restore, got %+v", entries)
	}
}

func TestRemovePermanent(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)

	if err := l.RemoveBooks([]int64{id}, true); err != nil {
		t.Fatalf("failed to remove book: %v", err)
	}
	if _, err := os.Stat(filepath.Join(l.Root(), "A B")); !os.IsNotExist(err) {
		t.Errorf("expected book and author directories to be deleted, got %v", err)
	}
	if entries, _ := l.ListTrash(); len(entries) != 0 {
		t.Errorf("expected nothing in the trash, got %+v", entries)
	}
	if err := l.RemoveBooks([]int64{id}, true); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestRemoveAndRestoreFormat(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 1000)
	addFormat(t, l, id, "pdf", 2500)

	if err := l.RemoveFormats(map[int64][]string{id: {"pdf"}}, false); err != nil {
		t.Fatalf("failed to remove PDF: %v", err)
	}
	if got := l.Formats(id); !slices.Equal(got, []string{"EPUB"}) {
		t.Errorf("expected only EPUB left, got %v", got)
	}
	if size, _ := l.Field(id, "size"); size != int64(1000) {
		t.Errorf("expected size to drop to 1000, got %v", size)
	}

	if err := l.RestoreFormat(id, "PDF"); err != nil {
		t.Fatalf("failed to restore PDF: %v", err)
	}
	if fi, ok := l.FormatInfo(id, "PDF"); !ok || fi.Size != 2500 {
		t.Errorf("expected PDF to be back with 2500 bytes, got %+v", fi)
	}
}

func TestSetCover(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if err := l.SetCover(id, []byte("jpeg data"), true); err != nil {
		t.Fatalf("failed to set cover: %v", err)
	}
	if v, _ := l.Field(id, "cover"); v != true {
		t.Errorf("expected has_cover, got %v", v)
	}
	var buf bytes.Buffer
	if ok, err := l.CopyCoverTo(id, &buf); err != nil || !ok || buf.String() != "jpeg data" {
		t.Errorf("unexpected cover copy: ok=%v err=%v data=%q", ok, err, buf.String())
	}

	if err := l.SetCover(id, nil, true); err != nil {
		t.Fatalf("failed to remove cover: %v", err)
	}
	if v, _ := l.Field(id, "cover"); v != false {
		t.Errorf("expected no cover, got %v", v)
	}
}

func TestCheckLibrary(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)
	addFormat(t, l, id, "pdf", 20)

	r, err := l.CheckLibrary()
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !r.Healthy() || r.BooksChecked != 1 || r.FormatsOK != 2 {
		t.Errorf("expected a healthy library, got %+v", r)
	}

	dir := filepath.Join(l.Root(), "A B", "Hello (1)")
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Remove(filepath.Join(dir, "Hello - A B.pdf"))
	os.MkdirAll(filepath.Join(l.Root(), "Stray", "Book (9)"), 0755)

	r, err = l.CheckLibrary()
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(r.ExtraFiles) != 1 || r.ExtraFiles[0].Detail != "notes.txt" {
		t.Errorf("expected notes.txt as extra file, got %+v", r.ExtraFiles)
	}
	if len(r.MissingFormats) != 1 || r.MissingFormats[0].Detail != "PDF" {
		t.Errorf("expected PDF as missing format, got %+v", r.MissingFormats)
	}
	if !slices.Equal(r.ExtraDirs, []string{"Stray/Book (9)"}) {
		t.Errorf("expected Stray/Book (9) as extra dir, got %v", r.ExtraDirs)
	}
}

func TestMoveLibraryTo(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open library: %v", err)
	}
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 100)

	dest := filepath.Join(t.TempDir(), "moved")
	var seen []string
	err = l.MoveLibraryTo(dest, func(item string, _, _ int) { seen = append(seen, item) }, nil)
	if err != nil {
		t.Fatalf("failed to move library: %v", err)
	}
	if len(seen) == 0 {
		t.Error("expected progress to be reported")
	}
	if _, err := os.Stat(filepath.Join(root, "metadata.db")); !os.IsNotExist(err) {
		t.Errorf("expected old metadata.db to be removed, got %v", err)
	}

	moved, err := Open(dest, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open moved library: %v", err)
	}
	defer moved.Close()
	if _, err := moved.FormatAbspath(id, "EPUB"); err != nil {
		t.Errorf("expected EPUB in the moved library: %v", err)
	}
	if mi := mustBook(t, moved, id); mi.Title != "Hello" {
		t.Errorf("expected title Hello, got %q", mi.Title)
	}
}

func TestMoveLibraryToAbort(t *testing.T) {
	l := openTestLibrary(t)
	addBook(t, l, "Hello", "A B")

	dest := filepath.Join(t.TempDir(), "moved")
	err := l.MoveLibraryTo(dest, nil, func() bool { return true })
	if !errors.Is(err, util.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "metadata.db")); !os.IsNotExist(err) {
		t.Errorf("expected no database at the target, got %v", err)
	}
	if len(l.BookIDs()) != 1 {
		t.Error("expected the original library to stay usable")
	}
}

func TestRebuildPaths(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	addFormat(t, l, id, "epub", 10)

	// simulate a path recorded by an older layout
	err := l.cat.Write([]string{"path"}, func() error {
		old := filepath.Join(l.Root(), "A B", "Hello (1)")
		if err := os.Rename(old, filepath.Join(l.Root(), "A B", "Old")); err != nil {
			return err
		}
		if _, err := l.db.Execute("UPDATE books SET path=? WHERE id=?", "A B/Old", id); err != nil {
			return err
		}
		l.path.Set(id, "A B/Old")
		return nil
	})
	if err != nil {
		t.Fatalf("failed to set up stale path: %v", err)
	}

	n, err := l.RebuildPaths(nil, nil)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 book moved, got %d", n)
	}
	if mi := mustBook(t, l, id); mi.Path != "A B/Hello (1)" {
		t.Errorf("expected path restored to A B/Hello (1), got %q", mi.Path)
	}
	if n, _ := l.RebuildPaths(nil, nil); n != 0 {
		t.Errorf("expected nothing left to move, got %d", n)
	}
}

func TestPluginDataAndConversionOptions(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if err := l.AddCustomData("reader", map[int64]any{id: map[string]any{"pages": 12.0}}, false); err != nil {
		t.Fatalf("failed to add custom data: %v", err)
	}
	got, err := l.CustomData("reader", []int64{id, 99}, "none")
	if err != nil {
		t.Fatalf("failed to read custom data: %v", err)
	}
	if m, ok := got[id].(map[string]any); !ok || m["pages"] != 12.0 {
		t.Errorf("unexpected custom data %v", got[id])
	}
	if got[99] != "none" {
		t.Errorf("expected default for a book without data, got %v", got[99])
	}

	if err := l.SetConversionOptions("epub", map[int64][]byte{id: []byte("opts")}); err != nil {
		t.Fatalf("failed to store conversion options: %v", err)
	}
	data, ok, err := l.ConversionOptions(id, "EPUB")
	if err != nil || !ok || string(data) != "opts" {
		t.Errorf("unexpected conversion options %q ok=%v err=%v", data, ok, err)
	}

	if err := l.RemoveBooks([]int64{id}, true); err != nil {
		t.Fatalf("failed to remove book: %v", err)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM books_plugin_data"); n != 0 {
		t.Errorf("expected plugin data to go with the book, got %d rows", n)
	}
}

func TestCompositeColumn(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	_, err := l.CreateCustomColumn("label", "Label", "composite", false, false,
		map[string]any{"composite_template": "{title} by {authors}"})
	if err != nil {
		t.Fatalf("failed to create composite: %v", err)
	}
	v, err := l.Field(id, "#label")
	if err != nil {
		t.Fatalf("failed to render composite: %v", err)
	}
	if v != "Hello by A B" {
		t.Errorf("expected %q, got %v", "Hello by A B", v)
	}
	if _, err := l.SetField(id, "#label", "x"); !errors.Is(err, util.ErrInvalidValue) {
		t.Errorf("expected composite to be read-only, got %v", err)
	}
}
