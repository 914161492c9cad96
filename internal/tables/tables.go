// Package tables holds the in-memory copies of the library's entity tables.
//
// Table methods never lock. Callers go through Catalog.Read or Catalog.Write,
// which take the per-table locks in name order.
package tables

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/franz/shelfdb/internal/util"
)

// DbRef is the part of the database a table needs to load itself
type DbRef interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// Table is one in-memory index keyed by book id
type Table interface {
	Name() string
	Read(db DbRef) error
	RemoveBooks(ids []int64)
	locker() *sync.RWMutex
}

// BookField is a table that can report a single value per book
type BookField interface {
	Table
	BookValue(id int64) any
}

type base struct {
	name string
	mu   sync.RWMutex
}

func (b *base) Name() string          { return b.name }
func (b *base) locker() *sync.RWMutex { return &b.mu }

// Catalog owns every table of a library
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewCatalog returns an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]Table)}
}

// Add registers t, replacing any table with the same name
func (c *Catalog) Add(t Table) {
	c.mu.Lock()
	c.tables[t.Name()] = t
	c.mu.Unlock()
}

// Remove drops the table named name
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	delete(c.tables, name)
	c.mu.Unlock()
}

// Get returns the table named name
func (c *Catalog) Get(name string) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// Names returns every table name in lock order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) ordered(names []string) []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool, len(names))
	var sorted []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)
	out := make([]Table, 0, len(sorted))
	for _, n := range sorted {
		if t, ok := c.tables[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Write runs fn holding the write locks of the named tables. Locks are
// always taken in name order so concurrent writers cannot deadlock.
func (c *Catalog) Write(names []string, fn func() error) error {
	ts := c.ordered(names)
	for _, t := range ts {
		t.locker().Lock()
	}
	defer func() {
		for i := len(ts) - 1; i >= 0; i-- {
			ts[i].locker().Unlock()
		}
	}()
	return fn()
}

// Read runs fn holding the read locks of the named tables
func (c *Catalog) Read(names []string, fn func() error) error {
	ts := c.ordered(names)
	for _, t := range ts {
		t.locker().RLock()
	}
	defer func() {
		for i := len(ts) - 1; i >= 0; i-- {
			ts[i].locker().RUnlock()
		}
	}()
	return fn()
}

// ReadAll loads every table. db should be a single transaction so all
// tables see the same snapshot.
func (c *Catalog) ReadAll(db DbRef) error {
	names := c.Names()
	return c.Write(names, func() error {
		for _, n := range names {
			t, _ := c.Get(n)
			if err := t.Read(db); err != nil {
				return fmt.Errorf("failed to read table %s: %w", n, err)
			}
		}
		return nil
	})
}

// RemoveBooks drops ids from every table. Callers hold all write locks.
func (c *Catalog) RemoveBooks(ids []int64) {
	for _, t := range c.ordered(c.Names()) {
		t.RemoveBooks(ids)
	}
}

// scanPairs reads (book, value) rows
func scanPairs(db DbRef, query string, fn func(id int64, v any)) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var v any
		if err := rows.Scan(&id, &v); err != nil {
			return err
		}
		fn(id, v)
	}
	return rows.Err()
}

// Converters from driver values

func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case float64:
		return x != 0, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func AsTime(v any) (time.Time, bool) {
	return util.ParseTimestamp(v)
}
