package library

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/formatter"
	"github.com/franz/shelfdb/internal/tables"
	"github.com/franz/shelfdb/internal/util"
)

// compositeError is shown when a composite template fails to render
const compositeError = "TEMPLATE ERROR"

// FormatEntry is one stored format of a book
type FormatEntry struct {
	Size int64  `json:"size"`
	Name string `json:"name"`
}

// Metadata is a snapshot of one book. It is what Book returns, what
// CreateBookEntry takes and what travels with a book into the trash.
type Metadata struct {
	ID           int64                  `json:"id"`
	Title        string                 `json:"title"`
	Sort         string                 `json:"sort,omitempty"`
	Authors      []string               `json:"authors"`
	AuthorSort   string                 `json:"author_sort,omitempty"`
	Series       string                 `json:"series,omitempty"`
	SeriesIndex  float64                `json:"series_index"`
	Publisher    string                 `json:"publisher,omitempty"`
	Rating       int64                  `json:"rating,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Languages    []string               `json:"languages,omitempty"`
	Identifiers  map[string]string      `json:"identifiers,omitempty"`
	Comments     string                 `json:"comments,omitempty"`
	Timestamp    time.Time              `json:"timestamp,omitzero"`
	Pubdate      time.Time              `json:"pubdate,omitzero"`
	LastModified time.Time              `json:"last_modified,omitzero"`
	UUID         string                 `json:"uuid,omitempty"`
	Path         string                 `json:"path,omitempty"`
	HasCover     bool                   `json:"has_cover"`
	Formats      map[string]FormatEntry `json:"formats,omitempty"`
	Custom       map[string]any         `json:"custom,omitempty"`
}

func (l *Library) mustExist(book int64) error {
	if _, ok := l.path.Get(book); !ok {
		return fmt.Errorf("book %d: %w", book, util.ErrNotFound)
	}
	return nil
}

// BookIDs returns every book id, ascending
func (l *Library) BookIDs() []int64 {
	var ids []int64
	l.cat.Read([]string{"path"}, func() error {
		ids = l.path.Books()
		return nil
	})
	return ids
}

// BookByUUID finds a book by its uuid
func (l *Library) BookByUUID(u string) (int64, bool) {
	var id int64
	var ok bool
	l.cat.Read([]string{"uuid"}, func() error {
		id, ok = l.uuid.Lookup(u)
		return nil
	})
	return id, ok
}

// BooksWithIdentifier returns the books carrying typ:val
func (l *Library) BooksWithIdentifier(typ, val string) []int64 {
	var ids []int64
	l.cat.Read([]string{"identifiers"}, func() error {
		ids = l.identifiers.Lookup(strings.ToLower(typ), val)
		return nil
	})
	return ids
}

// Field returns the stored value of one field. Unset fields are nil;
// composite columns are rendered to a string.
func (l *Library) Field(book int64, key string) (any, error) {
	t, ok := l.cat.Get(key)
	if !ok {
		if base, isIndex := l.indexOf(key); isIndex {
			return l.seriesExtra(book, base)
		}
		return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
	}
	if c, ok := t.(*tables.Composite); ok {
		return l.composite(book, key, c.Template)
	}
	bf, ok := t.(tables.BookField)
	if !ok {
		return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
	}
	var v any
	err := l.cat.Read([]string{key, "path"}, func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		v = bf.BookValue(book)
		return nil
	})
	return v, err
}

// FieldString renders a field the way listings and templates show it
func (l *Library) FieldString(book int64, key string) (string, error) {
	v, err := l.Field(book, key)
	if err != nil {
		return "", err
	}
	return displayString(key, v), nil
}

func (l *Library) seriesExtra(book int64, key string) (any, error) {
	t, ok := l.cat.Get(key)
	if !ok {
		return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
	}
	series, ok := t.(*tables.ManyToOne[string])
	if !ok {
		return nil, fmt.Errorf("field %s: %w", key, util.ErrNotFound)
	}
	var v any
	err := l.cat.Read([]string{key, "path"}, func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		if f, ok := series.Extra(book); ok {
			v = f
		}
		return nil
	})
	return v, err
}

// composite renders a composite column. Every table is read locked so the
// template sees one consistent book.
func (l *Library) composite(book int64, key, template string) (string, error) {
	var out string
	err := l.cat.Read(l.cat.Names(), func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		ev := l.format.NewEvaluation()
		var get formatter.GetterFunc
		get = func(field string) (string, error) {
			if field == "id" {
				return strconv.FormatInt(book, 10), nil
			}
			t, ok := l.cat.Get(field)
			if !ok {
				return "", fmt.Errorf("unknown field %s", field)
			}
			switch x := t.(type) {
			case *tables.Composite:
				return ev.Composite(field, x.Template, get, compositeError), nil
			case tables.BookField:
				return displayString(field, x.BookValue(book)), nil
			}
			return "", nil
		}
		out = ev.Composite(key, template, get, compositeError)
		return nil
	})
	return out, err
}

// Book returns a snapshot of every field of a book
func (l *Library) Book(book int64) (*Metadata, error) {
	var mi *Metadata
	var composites map[string]string
	err := l.cat.Read(l.cat.Names(), func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		mi = &Metadata{
			ID:          book,
			Authors:     l.authors.Get(book),
			Tags:        l.tags.Get(book),
			Languages:   l.languages.Get(book),
			Identifiers: l.identifiers.Get(book),
			Custom:      make(map[string]any),
		}
		mi.Title, _ = l.title.Get(book)
		mi.Sort, _ = l.sort.Get(book)
		mi.AuthorSort, _ = l.authorSort.Get(book)
		mi.Series, _ = l.series.Get(book)
		mi.SeriesIndex, _ = l.seriesIndex.Get(book)
		mi.Publisher, _ = l.publisher.Get(book)
		mi.Rating, _ = l.rating.Get(book)
		mi.Comments, _ = l.comments.Get(book)
		mi.Timestamp, _ = l.timestamp.Get(book)
		mi.Pubdate, _ = l.pubdate.Get(book)
		if mi.Pubdate.Equal(undefinedDate) {
			mi.Pubdate = time.Time{}
		}
		mi.LastModified, _ = l.lastModified.Get(book)
		mi.UUID, _ = l.uuid.Get(book)
		mi.Path, _ = l.path.Get(book)
		mi.HasCover, _ = l.cover.Get(book)
		if fmts := l.formats.Get(book); len(fmts) > 0 {
			mi.Formats = make(map[string]FormatEntry, len(fmts))
			for _, f := range fmts {
				fi, _ := l.formats.Info(book, f)
				mi.Formats[f] = FormatEntry{Size: fi.Size, Name: fi.Name}
			}
		}

		composites = make(map[string]string)
		for _, col := range l.cols.Columns() {
			key := col.Key()
			t, ok := l.cat.Get(key)
			if !ok {
				continue
			}
			switch x := t.(type) {
			case *tables.Composite:
				composites[key] = x.Template
			case *tables.ManyToOne[string]:
				if v, ok := x.Get(book); ok {
					mi.Custom[key] = v
					if f, ok := x.Extra(book); ok && x.HasExtra() {
						mi.Custom[key+"_index"] = f
					}
				}
			case tables.BookField:
				if v := x.BookValue(book); v != nil {
					mi.Custom[key] = v
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, key := range slices.Sorted(maps.Keys(composites)) {
		s, err := l.composite(book, key, composites[key])
		if err != nil {
			return nil, err
		}
		mi.Custom[key] = s
	}
	if len(mi.Custom) == 0 {
		mi.Custom = nil
	}
	return mi, nil
}

// Item is one value of a normalised field
type Item struct {
	ID    int64
	Value string
	Link  string
	Books int
}

// Items lists the values of a normalised text field
func (l *Library) Items(key string) ([]Item, error) {
	f, err := l.normFor(key)
	if err != nil {
		return nil, err
	}
	var out []Item
	err = l.cat.Read([]string{key}, func() error {
		for _, id := range f.items.ItemIDs() {
			v, _ := f.items.Value(id)
			out = append(out, Item{ID: id, Value: v, Link: f.items.Link(id), Books: len(f.items.BooksFor(id))})
		}
		return nil
	})
	return out, err
}

// ItemID finds the item of a normalised field by value, ignoring case
func (l *Library) ItemID(key, value string) (int64, bool) {
	f, err := l.normFor(key)
	if err != nil {
		return 0, false
	}
	var id int64
	var ok bool
	l.cat.Read([]string{key}, func() error {
		id, ok = f.items.ItemID(value)
		return nil
	})
	return id, ok
}

// BooksFor returns the books linked to an item of a normalised field
func (l *Library) BooksFor(key string, item int64) ([]int64, error) {
	f, err := l.normFor(key)
	if err != nil {
		return nil, err
	}
	var ids []int64
	err = l.cat.Read([]string{key}, func() error {
		ids = f.items.BooksFor(item)
		return nil
	})
	return ids, err
}

// Formats returns the formats of a book, sorted
func (l *Library) Formats(book int64) []string {
	var out []string
	l.cat.Read([]string{"formats"}, func() error {
		out = l.formats.Get(book)
		return nil
	})
	return out
}

// FormatInfo returns the recorded size and file name of one format
func (l *Library) FormatInfo(book int64, format string) (FormatEntry, bool) {
	var fi tables.FormatInfo
	var ok bool
	l.cat.Read([]string{"formats"}, func() error {
		fi, ok = l.formats.Info(book, strings.ToUpper(format))
		return nil
	})
	return FormatEntry{Size: fi.Size, Name: fi.Name}, ok
}

// formatLocation returns the path and recorded file name of a format
func (l *Library) formatLocation(book int64, format string) (string, string, error) {
	format = strings.ToUpper(format)
	var path, name string
	err := l.cat.Read([]string{"formats", "path"}, func() error {
		if err := l.mustExist(book); err != nil {
			return err
		}
		fi, ok := l.formats.Info(book, format)
		if !ok {
			return fmt.Errorf("%w: book %d has no %s", util.ErrNoSuchFormat, book, format)
		}
		path, _ = l.path.Get(book)
		name = fi.Name
		return nil
	})
	return path, name, err
}

// FormatAbspath returns the file of a format on disk. A format recorded in
// the database whose file is gone is logged and reported as ErrNoSuchFormat.
func (l *Library) FormatAbspath(book int64, format string) (string, error) {
	path, name, err := l.formatLocation(book, format)
	if err != nil {
		return "", err
	}
	abs, ok := l.layout.FormatAbspath(path, name, format)
	if !ok {
		util.WarnLog("Format %s of book %d is recorded but missing from %s", strings.ToUpper(format), book, path)
		l.events.LogOrphan(l.root, book, strings.ToUpper(format), l.layout.BookDir(path))
		return "", fmt.Errorf("%w: %s file of book %d is missing", util.ErrNoSuchFormat, strings.ToUpper(format), book)
	}
	return abs, nil
}

// FormatHash returns the SHA-256 of a format file
func (l *Library) FormatHash(book int64, format string) (string, error) {
	path, name, err := l.formatLocation(book, format)
	if err != nil {
		return "", err
	}
	return l.layout.FormatHash(path, name, format)
}

// CopyFormatTo copies a format file to dest, hard linking when the library
// allows it
func (l *Library) CopyFormatTo(book int64, format, dest string) error {
	path, name, err := l.formatLocation(book, format)
	if err != nil {
		return err
	}
	return l.layout.CopyFormatTo(path, name, format, dest, l.opts.UseHardlinks)
}

// CopyFormatToWriter streams a format file into w
func (l *Library) CopyFormatToWriter(book int64, format string, w io.Writer) error {
	path, name, err := l.formatLocation(book, format)
	if err != nil {
		return err
	}
	return l.layout.CopyFormatToWriter(path, name, format, w)
}

// Cover returns the cover of a book. When since matches the cover's mtime
// the data is nil, which callers use as a cheap unchanged probe.
func (l *Library) Cover(book int64, since time.Time) (bool, []byte, time.Time, error) {
	path, ok := l.bookPath(book)
	if !ok {
		return false, nil, time.Time{}, fmt.Errorf("book %d: %w", book, util.ErrNotFound)
	}
	return l.layout.CoverOrCache(path, since)
}

// CopyCoverTo streams the cover of a book into w
func (l *Library) CopyCoverTo(book int64, w io.Writer) (bool, error) {
	path, ok := l.bookPath(book)
	if !ok {
		return false, fmt.Errorf("book %d: %w", book, util.ErrNotFound)
	}
	return l.layout.CopyCoverTo(path, w)
}

// CopyCoverToPath places the cover of a book at dest
func (l *Library) CopyCoverToPath(book int64, dest string) (bool, error) {
	path, ok := l.bookPath(book)
	if !ok {
		return false, fmt.Errorf("book %d: %w", book, util.ErrNotFound)
	}
	return l.layout.CopyCoverToPath(path, dest, l.opts.UseHardlinks)
}
