package store

import (
	"testing"
)

func queryString(t *testing.T, s *Store, query string, args ...any) string {
	t.Helper()
	var v string
	if err := s.QueryRow(query, args...).Scan(&v); err != nil {
		t.Fatalf("query %q failed: %v", query, err)
	}
	return v
}

func TestScalarFunctions(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		query    string
		expected string
	}{
		{"SELECT title_sort('The Hobbit')", "Hobbit, The"},
		{"SELECT author_to_author_sort('John Smith')", "Smith, John"},
		{"SELECT books_list_filter(42)", "1"},
	}
	for _, tt := range tests {
		if got := queryString(t, s, tt.query); got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.query, got, tt.expected)
		}
	}

	a := queryString(t, s, "SELECT uuid4()")
	b := queryString(t, s, "SELECT uuid4()")
	if len(a) != 36 || a == b {
		t.Errorf("expected two distinct uuids, got %q and %q", a, b)
	}
}

func TestCollations(t *testing.T) {
	s := openTestStore(t)

	if n := countRows(t, s, "SELECT 'Hello' = 'hELLO' COLLATE PYNOCASE"); n != 1 {
		t.Error("expected PYNOCASE to fold case")
	}
	if n := countRows(t, s, "SELECT 'abc' = 'ABD' COLLATE PYNOCASE"); n != 0 {
		t.Error("expected different strings to stay different under PYNOCASE")
	}
	// binary order puts "B" before "a"
	if n := countRows(t, s, "SELECT 'a' < 'B' COLLATE icucollate"); n != 1 {
		t.Error("expected icucollate to sort alphabetically ignoring case")
	}
	if err := SetCollationLanguage("not a language!"); err == nil {
		t.Error("expected invalid collation language to be rejected")
	}
}

func TestDynamicFilter(t *testing.T) {
	s := openTestStore(t)

	SetDynamicFilter("marked", []int64{3})
	t.Cleanup(func() { SetDynamicFilter("marked", nil) })

	if n := countRows(t, s, "SELECT dynamic_filter('marked', 3)"); n != 1 {
		t.Error("expected book 3 to match")
	}
	if n := countRows(t, s, "SELECT dynamic_filter('marked', 4)"); n != 0 {
		t.Error("expected book 4 not to match")
	}
	if n := countRows(t, s, "SELECT dynamic_filter('unknown', 3)"); n != 0 {
		t.Error("expected an unknown filter to match nothing")
	}

	SetDynamicFilter(BooksListFilter, []int64{1})
	t.Cleanup(func() { SetDynamicFilter(BooksListFilter, nil) })
	if n := countRows(t, s, "SELECT books_list_filter(2)"); n != 0 {
		t.Error("expected books_list_filter to honour an installed restriction")
	}
}

func TestLegacyAggregates(t *testing.T) {
	s := openTestStore(t)

	got := queryString(t, s, "SELECT sortconcat(column1, column2) FROM (VALUES (2, 'b'), (1, 'a'), (3, 'c'))")
	if got != "a,b,c" {
		t.Errorf("sortconcat = %q, want %q", got, "a,b,c")
	}
	got = queryString(t, s, "SELECT sortconcat_amper(column1, column2) FROM (VALUES (2, 'y'), (1, 'x'))")
	if got != "x&y" {
		t.Errorf("sortconcat_amper = %q, want %q", got, "x&y")
	}
	got = queryString(t, s, "SELECT identifiers_concat(column1, column2) FROM (VALUES ('isbn', '123'))")
	if got != "isbn:123" {
		t.Errorf("identifiers_concat = %q, want %q", got, "isbn:123")
	}
}
