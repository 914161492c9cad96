package tables

import (
	"sort"
	"strings"
)

// FormatInfo is what the data table records about one stored format
type FormatInfo struct {
	Size int64
	Name string // file name without extension
}

// Formats maps a book to its stored formats. Format names are upper case.
type Formats struct {
	base
	formats map[int64]map[string]FormatInfo
}

// NewFormats reads the data table
func NewFormats() *Formats {
	return &Formats{base: base{name: "formats"}, formats: make(map[int64]map[string]FormatInfo)}
}

func (t *Formats) Read(db DbRef) error {
	t.formats = make(map[int64]map[string]FormatInfo)
	rows, err := db.Query("SELECT book, format, uncompressed_size, name FROM data")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var book, size int64
		var format, name string
		if err := rows.Scan(&book, &format, &size, &name); err != nil {
			return err
		}
		t.Set(book, format, FormatInfo{Size: size, Name: name})
	}
	return rows.Err()
}

// Get returns the sorted formats of book
func (t *Formats) Get(book int64) []string {
	m := t.formats[book]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (t *Formats) BookValue(book int64) any {
	if f := t.Get(book); f != nil {
		return f
	}
	return nil
}

// Info returns the size and file name of one format
func (t *Formats) Info(book int64, format string) (FormatInfo, bool) {
	fi, ok := t.formats[book][strings.ToUpper(format)]
	return fi, ok
}

// Set records a format
func (t *Formats) Set(book int64, format string, fi FormatInfo) {
	if t.formats[book] == nil {
		t.formats[book] = make(map[string]FormatInfo)
	}
	t.formats[book][strings.ToUpper(format)] = fi
}

// Remove forgets formats of book
func (t *Formats) Remove(book int64, formats ...string) {
	m := t.formats[book]
	for _, f := range formats {
		delete(m, strings.ToUpper(f))
	}
	if len(m) == 0 {
		delete(t.formats, book)
	}
}

// MaxSize returns the largest format size of book, or false when it has none
func (t *Formats) MaxSize(book int64) (int64, bool) {
	m := t.formats[book]
	if len(m) == 0 {
		return 0, false
	}
	var max int64
	for _, fi := range m {
		if fi.Size > max {
			max = fi.Size
		}
	}
	return max, true
}

// Books returns every book with at least one format
func (t *Formats) Books() []int64 {
	ids := make([]int64, 0, len(t.formats))
	for id := range t.formats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Formats) RemoveBooks(ids []int64) {
	for _, id := range ids {
		delete(t.formats, id)
	}
}

// Identifiers maps a book to its typed identifiers, such as isbn
type Identifiers struct {
	base
	ids map[int64]map[string]string
}

// NewIdentifiers reads the identifiers table
func NewIdentifiers() *Identifiers {
	return &Identifiers{base: base{name: "identifiers"}, ids: make(map[int64]map[string]string)}
}

func (t *Identifiers) Read(db DbRef) error {
	t.ids = make(map[int64]map[string]string)
	rows, err := db.Query("SELECT book, type, val FROM identifiers")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var book int64
		var typ, val string
		if err := rows.Scan(&book, &typ, &val); err != nil {
			return err
		}
		if t.ids[book] == nil {
			t.ids[book] = make(map[string]string)
		}
		t.ids[book][typ] = val
	}
	return rows.Err()
}

// Get returns a copy of book's identifiers
func (t *Identifiers) Get(book int64) map[string]string {
	m := t.ids[book]
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *Identifiers) BookValue(book int64) any {
	if m := t.Get(book); m != nil {
		return m
	}
	return nil
}

// Replace sets the full identifier map of book
func (t *Identifiers) Replace(book int64, ids map[string]string) {
	if len(ids) == 0 {
		delete(t.ids, book)
		return
	}
	m := make(map[string]string, len(ids))
	for k, v := range ids {
		m[k] = v
	}
	t.ids[book] = m
}

// Lookup finds books carrying identifier typ with value val
func (t *Identifiers) Lookup(typ, val string) []int64 {
	var out []int64
	for book, m := range t.ids {
		for k, v := range m {
			if strings.EqualFold(k, typ) && strings.EqualFold(v, val) {
				out = append(out, book)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Identifiers) RemoveBooks(ids []int64) {
	for _, id := range ids {
		delete(t.ids, id)
	}
}
