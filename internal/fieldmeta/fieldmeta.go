package fieldmeta

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/franz/shelfdb/internal/util"
)

// Multiple describes how a multi-valued field is split and joined
type Multiple struct {
	CacheToList string // separator in the cached/stored form
	UIToList    string // separator accepted from user input
	ListToUI    string // separator used when displaying
}

// Field describes one book attribute
type Field struct {
	Key        string
	Label      string
	Name       string
	Datatype   string
	IsMultiple *Multiple
	Table      string // value table, empty if the field lives on books
	Column     string // value column
	LinkColumn string // column referencing the value in the link table
	IsCustom   bool
	IsCategory bool
	IsEditable bool
	Colnum     int
	Display    map[string]any

	SearchTerms []string
}

var (
	authorsSep = &Multiple{CacheToList: ",", UIToList: "&", ListToUI: " & "}
	tagsSep    = &Multiple{CacheToList: ",", UIToList: ",", ListToUI: ", "}
)

func builtins() []*Field {
	return []*Field{
		{Key: "authors", Name: "Authors", Datatype: "text", IsMultiple: authorsSep,
			Table: "authors", Column: "name", LinkColumn: "author", IsCategory: true,
			IsEditable: true, SearchTerms: []string{"authors", "author"}},
		{Key: "languages", Name: "Languages", Datatype: "text", IsMultiple: tagsSep,
			Table: "languages", Column: "lang_code", LinkColumn: "lang_code", IsCategory: true,
			IsEditable: true, SearchTerms: []string{"languages", "language"}},
		{Key: "series", Name: "Series", Datatype: "series", Table: "series", Column: "name",
			LinkColumn: "series", IsCategory: true, IsEditable: true, SearchTerms: []string{"series"}},
		{Key: "formats", Name: "Formats", Datatype: "text", IsMultiple: tagsSep,
			Column: "format", IsCategory: true, SearchTerms: []string{"formats", "format"}},
		{Key: "publisher", Name: "Publisher", Datatype: "text", Table: "publishers", Column: "name",
			LinkColumn: "publisher", IsCategory: true, IsEditable: true, SearchTerms: []string{"publisher"}},
		{Key: "rating", Name: "Rating", Datatype: "rating", Table: "ratings", Column: "rating",
			LinkColumn: "rating", IsCategory: true, IsEditable: true, SearchTerms: []string{"rating"}},
		{Key: "tags", Name: "Tags", Datatype: "text", IsMultiple: tagsSep, Table: "tags",
			Column: "name", LinkColumn: "tag", IsCategory: true, IsEditable: true,
			SearchTerms: []string{"tags", "tag"}},
		{Key: "identifiers", Name: "Identifiers", Datatype: "text",
			IsMultiple: &Multiple{CacheToList: ",", UIToList: ",", ListToUI: ", "},
			Table: "identifiers", IsCategory: true, IsEditable: true,
			SearchTerms: []string{"identifiers", "identifier", "isbn"}},
		{Key: "title", Name: "Title", Datatype: "text", Column: "title", IsEditable: true,
			SearchTerms: []string{"title"}},
		{Key: "sort", Name: "Title sort", Datatype: "text", Column: "sort", IsEditable: true,
			SearchTerms: []string{"title_sort"}},
		{Key: "author_sort", Name: "Author sort", Datatype: "text", Column: "author_sort",
			IsEditable: true, SearchTerms: []string{"author_sort"}},
		{Key: "series_index", Name: "Series index", Datatype: "float", Column: "series_index",
			IsEditable: true, SearchTerms: []string{"series_index"}},
		{Key: "timestamp", Name: "Date", Datatype: "datetime", Column: "timestamp",
			IsEditable: true, SearchTerms: []string{"date"}},
		{Key: "pubdate", Name: "Published", Datatype: "datetime", Column: "pubdate",
			IsEditable: true, SearchTerms: []string{"pubdate"}},
		{Key: "last_modified", Name: "Modified", Datatype: "datetime", Column: "last_modified",
			SearchTerms: []string{"last_modified"}},
		{Key: "uuid", Name: "UUID", Datatype: "text", Column: "uuid", SearchTerms: []string{"uuid"}},
		{Key: "path", Name: "Path", Datatype: "text", Column: "path"},
		{Key: "cover", Name: "Cover", Datatype: "bool", Column: "has_cover", SearchTerms: []string{"cover"}},
		{Key: "comments", Name: "Comments", Datatype: "comments", Table: "comments", Column: "text",
			IsEditable: true, SearchTerms: []string{"comments", "comment"}},
		{Key: "size", Name: "Size", Datatype: "float", SearchTerms: []string{"size"}},
		{Key: "id", Name: "Id", Datatype: "int", Column: "id", SearchTerms: []string{"id"}},
	}
}

// Metadata is the catalogue of every field a library knows about
type Metadata struct {
	mu          sync.RWMutex
	fields      map[string]*Field
	order       []string
	searchTerms map[string]string
}

// New returns a catalogue holding only the built-in fields
func New() *Metadata {
	m := &Metadata{
		fields:      make(map[string]*Field),
		searchTerms: make(map[string]string),
	}
	for _, f := range builtins() {
		m.add(f)
	}
	return m
}

func (m *Metadata) add(f *Field) {
	if f.Label == "" {
		f.Label = f.Key
	}
	m.fields[f.Key] = f
	m.order = append(m.order, f.Key)
	for _, term := range f.SearchTerms {
		m.searchTerms[term] = f.Key
	}
}

// Get returns the field stored under key
func (m *Metadata) Get(key string) (*Field, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[key]
	return f, ok
}

// Keys returns every field key, built-ins first
func (m *Metadata) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// CustomKey returns the catalogue key for a custom column label
func CustomKey(label string) string {
	return "#" + label
}

// AddCustomField registers a user-defined column
func (m *Metadata) AddCustomField(label, name, datatype string, colnum int, isMultiple, isEditable bool, display map[string]any) error {
	key := CustomKey(label)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fields[key]; exists {
		return fmt.Errorf("%w: field %s already registered", util.ErrCustomColumnConflict, key)
	}
	if _, clash := m.searchTerms[label]; clash {
		return fmt.Errorf("%w: label %q shadows a built-in search term", util.ErrCustomColumnConflict, label)
	}

	f := &Field{
		Key:        key,
		Label:      label,
		Name:       name,
		Datatype:   datatype,
		Table:      fmt.Sprintf("custom_column_%d", colnum),
		Column:     "value",
		LinkColumn: "value",
		IsCustom:   true,
		IsEditable: isEditable,
		Colnum:     colnum,
		Display:    display,
		IsCategory: datatype == "text" || datatype == "series" || datatype == "enumeration" ||
			datatype == "rating" || (datatype == "composite" && display["make_category"] == true),
		SearchTerms: []string{key},
	}
	if isMultiple {
		if display["is_names"] == true {
			f.IsMultiple = authorsSep
		} else {
			f.IsMultiple = tagsSep
		}
	}
	m.add(f)
	return nil
}

// RemoveCustomFields drops every custom field, before the registry reloads
func (m *Metadata) RemoveCustomFields() {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.order[:0]
	for _, k := range m.order {
		f := m.fields[k]
		if !f.IsCustom {
			order = append(order, k)
			continue
		}
		delete(m.fields, k)
		for _, term := range f.SearchTerms {
			delete(m.searchTerms, term)
		}
	}
	m.order = order
}

// CustomFieldKeys returns the keys of custom fields, sorted
func (m *Metadata) CustomFieldKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, f := range m.fields {
		if f.IsCustom {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// SearchTermToFieldKey maps a search prefix such as "author" to its field key.
// Unknown terms are returned unchanged.
func (m *Metadata) SearchTermToFieldKey(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	m.mu.RLock()
	defer m.mu.RUnlock()
	if key, ok := m.searchTerms[term]; ok {
		return key
	}
	return term
}

// RemoveField drops one custom field
func (m *Metadata) RemoveField(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if !ok || !f.IsCustom {
		return
	}
	delete(m.fields, key)
	for _, term := range f.SearchTerms {
		delete(m.searchTerms, term)
	}
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
