package tables

import (
	"fmt"
	"sort"
)

// OneToOne maps a book to a single value stored directly on a row
type OneToOne[V any] struct {
	base
	query  string
	conv   func(any) (V, bool)
	values map[int64]V
}

// NewOneToOne builds a table loaded by query, which must return (book, value)
func NewOneToOne[V any](name, query string, conv func(any) (V, bool)) *OneToOne[V] {
	return &OneToOne[V]{
		base:   base{name: name},
		query:  query,
		conv:   conv,
		values: make(map[int64]V),
	}
}

func (t *OneToOne[V]) Read(db DbRef) error {
	t.values = make(map[int64]V)
	return scanPairs(db, t.query, func(id int64, raw any) {
		if v, ok := t.conv(raw); ok {
			t.values[id] = v
		}
	})
}

// Get returns the value for book id
func (t *OneToOne[V]) Get(id int64) (V, bool) {
	v, ok := t.values[id]
	return v, ok
}

// BookValue returns the value as any, nil when unset
func (t *OneToOne[V]) BookValue(id int64) any {
	if v, ok := t.values[id]; ok {
		return v
	}
	return nil
}

// Set stores v for book id
func (t *OneToOne[V]) Set(id int64, v V) {
	t.values[id] = v
}

// SetAny stores v after a type check; nil removes the value
func (t *OneToOne[V]) SetAny(id int64, v any) error {
	if v == nil {
		delete(t.values, id)
		return nil
	}
	typed, ok := v.(V)
	if !ok {
		return fmt.Errorf("table %s: cannot store %T", t.name, v)
	}
	t.values[id] = typed
	return nil
}

// Delete forgets the value for book id
func (t *OneToOne[V]) Delete(id int64) {
	delete(t.values, id)
}

// Books returns every book id with a value, ascending
func (t *OneToOne[V]) Books() []int64 {
	ids := make([]int64, 0, len(t.values))
	for id := range t.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *OneToOne[V]) RemoveBooks(ids []int64) {
	for _, id := range ids {
		delete(t.values, id)
	}
}

// UUIDTable also indexes books by uuid
type UUIDTable struct {
	*OneToOne[string]
	byUUID map[string]int64
}

// NewUUIDTable reads books.uuid
func NewUUIDTable() *UUIDTable {
	return &UUIDTable{
		OneToOne: NewOneToOne("uuid", "SELECT id, uuid FROM books", AsString),
		byUUID:   make(map[string]int64),
	}
}

func (t *UUIDTable) Read(db DbRef) error {
	if err := t.OneToOne.Read(db); err != nil {
		return err
	}
	t.byUUID = make(map[string]int64, len(t.values))
	for id, u := range t.values {
		t.byUUID[u] = id
	}
	return nil
}

// Set stores the uuid and updates the reverse index
func (t *UUIDTable) Set(id int64, u string) {
	if old, ok := t.values[id]; ok {
		delete(t.byUUID, old)
	}
	t.values[id] = u
	t.byUUID[u] = id
}

func (t *UUIDTable) SetAny(id int64, v any) error {
	u, ok := v.(string)
	if !ok {
		return fmt.Errorf("table uuid: cannot store %T", v)
	}
	t.Set(id, u)
	return nil
}

// Lookup returns the book carrying uuid u
func (t *UUIDTable) Lookup(u string) (int64, bool) {
	id, ok := t.byUUID[u]
	return id, ok
}

func (t *UUIDTable) RemoveBooks(ids []int64) {
	for _, id := range ids {
		if u, ok := t.values[id]; ok {
			delete(t.byUUID, u)
		}
	}
	t.OneToOne.RemoveBooks(ids)
}

// NewSizeTable holds the largest format size per book
func NewSizeTable() *OneToOne[int64] {
	return NewOneToOne("size",
		"SELECT books.id, (SELECT MAX(uncompressed_size) FROM data WHERE data.book=books.id) FROM books",
		AsInt64)
}

// NewPathTable holds the library-relative directory per book
func NewPathTable() *OneToOne[string] {
	return NewOneToOne("path", "SELECT id, path FROM books", AsString)
}

// Composite has no storage; values are computed from Template on read
type Composite struct {
	base
	Template string
}

// NewComposite returns a composite table for the given template
func NewComposite(name, template string) *Composite {
	return &Composite{base: base{name: name}, Template: template}
}

func (t *Composite) Read(db DbRef) error    { return nil }
func (t *Composite) RemoveBooks(ids []int64) {}
