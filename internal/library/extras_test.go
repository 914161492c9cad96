package library

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/franz/shelfdb/internal/util"
)

func TestDirtiedQueue(t *testing.T) {
	l := openTestLibrary(t)
	a := addBook(t, l, "One", "A B")
	b := addBook(t, l, "Two", "A B")

	dirty, err := l.DirtiedBooks()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(dirty, []int64{a, b}) {
		t.Fatalf("expected both new books dirtied, got %v", dirty)
	}

	if err := l.ClearDirtied([]int64{a, b}); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if _, err := l.SetField(b, "publisher", "Acme"); err != nil {
		t.Fatal(err)
	}
	dirty, _ = l.DirtiedBooks()
	if !slices.Equal(dirty, []int64{b}) {
		t.Errorf("expected only the edited book dirtied, got %v", dirty)
	}
}

func TestLastReadPositions(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if err := l.SetLastReadPosition(id, "epub", "me", "phone", "/4/2", 100, 0.25); err != nil {
		t.Fatal(err)
	}
	if err := l.SetLastReadPosition(id, "EPUB", "me", "tablet", "/6/2", 200, 0.5); err != nil {
		t.Fatal(err)
	}
	pos, err := l.LastReadPositions(id, "epub", "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 2 || pos[0].Device != "tablet" || pos[1].PosFrac != 0.25 {
		t.Errorf("unexpected positions %+v", pos)
	}

	// empty cfi forgets the device
	if err := l.SetLastReadPosition(id, "epub", "me", "tablet", "", 0, 0); err != nil {
		t.Fatal(err)
	}
	pos, _ = l.LastReadPositions(id, "epub", "me")
	if len(pos) != 1 || pos[0].Device != "phone" {
		t.Errorf("expected only the phone position left, got %+v", pos)
	}

	if err := l.RemoveBooks([]int64{id}, true); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM last_read_positions"); n != 0 {
		t.Errorf("expected positions to go with the book, got %d", n)
	}
}

func TestSetLink(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")
	if _, err := l.SetField(id, "tags", "fiction"); err != nil {
		t.Fatal(err)
	}
	tag, ok := l.ItemID("tags", "fiction")
	if !ok {
		t.Fatal("expected the tag to exist")
	}

	if err := l.SetLink("tags", tag, "https://example.org/fiction"); err != nil {
		t.Fatalf("failed to set link: %v", err)
	}
	items, err := l.Items("tags")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Link != "https://example.org/fiction" {
		t.Errorf("unexpected items %+v", items)
	}
	if n := countRows(t, l, "SELECT COUNT(*) FROM tags WHERE link='https://example.org/fiction'"); n != 1 {
		t.Errorf("expected link stored in the database")
	}

	if err := l.SetLink("tags", 999, "x"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown item, got %v", err)
	}
}

func TestDeleteExtras(t *testing.T) {
	l := openTestLibrary(t)
	a := addBook(t, l, "One", "A B")
	b := addBook(t, l, "Two", "A B")

	if err := l.AddCustomData("reader", map[int64]any{a: 1.0, b: 2.0}, false); err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteCustomData("reader", []int64{a}); err != nil {
		t.Fatalf("failed to delete custom data: %v", err)
	}
	got, err := l.CustomData("reader", []int64{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got[a] != nil || got[b] != 2.0 {
		t.Errorf("unexpected custom data after delete: %v", got)
	}

	if err := l.SetConversionOptions("pdf", map[int64][]byte{a: []byte("x"), b: []byte("y")}); err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteConversionOptions([]int64{b}, "PDF"); err != nil {
		t.Fatalf("failed to delete conversion options: %v", err)
	}
	if _, ok, _ := l.ConversionOptions(b, "pdf"); ok {
		t.Error("expected options of book two to be gone")
	}
	if _, ok, _ := l.ConversionOptions(a, "pdf"); !ok {
		t.Error("expected options of book one to remain")
	}
}

func TestSetCustomColumnMetadata(t *testing.T) {
	l := openTestLibrary(t)
	id := addBook(t, l, "Hello", "A B")

	if _, err := l.CreateCustomColumn("label", "Label", "composite", false, false,
		map[string]any{"composite_template": "{title}"}); err != nil {
		t.Fatal(err)
	}
	if err := l.SetCustomColumnMetadata("label", "Caption", map[string]any{"composite_template": "{authors}"}); err != nil {
		t.Fatalf("failed to update column: %v", err)
	}
	col, ok := l.CustomColumn("label")
	if !ok || col.Name != "Caption" {
		t.Errorf("expected renamed column, got %+v", col)
	}
	if v, _ := l.Field(id, "#label"); v != "A B" {
		t.Errorf("expected new template to apply, got %v", v)
	}
	if err := l.SetCustomColumnMetadata("missing", "X", nil); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLibraryIDAndDirtyDates(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	id := addBook(t, l, "Hello", "A B")
	libID := l.ID()
	if libID == "" {
		t.Fatal("expected a library id")
	}
	before := mustBook(t, l, id).LastModified
	if _, err := l.CreateCustomColumn("pages", "Pages", "int", false, true, nil); err != nil {
		t.Fatal(err)
	}
	if dirty, _ := l.Prefs().Get(dirtyDatesPref).(bool); !dirty {
		t.Error("expected a new column to request a date refresh")
	}
	l.Close()

	time.Sleep(1100 * time.Millisecond) // timestamps have second resolution
	l, err = Open(root, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if l.ID() != libID {
		t.Errorf("expected library id %q to survive reopen, got %q", libID, l.ID())
	}
	if dirty, _ := l.Prefs().Get(dirtyDatesPref).(bool); dirty {
		t.Error("expected the refresh request to be cleared")
	}
	if after := mustBook(t, l, id).LastModified; !after.After(before) {
		t.Errorf("expected last_modified to move past %v, got %v", before, after)
	}
}
