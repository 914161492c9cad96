// Package library is the entry point to an e-book library: a directory
// holding metadata.db and one sub-directory per book.
//
// A Library keeps every entity table in memory. Reads go through the tables
// under their read locks; writes validate, commit a database transaction and
// only then update the tables, all while holding the write locks of the
// tables they touch. Filesystem changes come last.
package library

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/franz/shelfdb/internal/customcol"
	"github.com/franz/shelfdb/internal/fieldmeta"
	"github.com/franz/shelfdb/internal/formatter"
	"github.com/franz/shelfdb/internal/layout"
	"github.com/franz/shelfdb/internal/prefs"
	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/sortname"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/tables"
	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

// dirtyDatesPref asks the next open to refresh every last_modified date
const dirtyDatesPref = "update_all_last_mod_dates_on_start"

// Library is one open library
type Library struct {
	root   string
	id     string
	opts   Options
	fs     *util.FSConfig
	db     *store.Store
	prefs  *prefs.Prefs
	fields *fieldmeta.Metadata
	cols   *customcol.Registry
	layout *layout.Layout
	cat    *tables.Catalog
	format *formatter.Formatter
	funcs  *formatter.Functions
	trash  TrashService
	events *report.EventLogger

	title        *tables.OneToOne[string]
	sort         *tables.OneToOne[string]
	authorSort   *tables.OneToOne[string]
	comments     *tables.OneToOne[string]
	path         *tables.OneToOne[string]
	seriesIndex  *tables.OneToOne[float64]
	timestamp    *tables.OneToOne[time.Time]
	pubdate      *tables.OneToOne[time.Time]
	lastModified *tables.OneToOne[time.Time]
	cover        *tables.OneToOne[bool]
	size         *tables.OneToOne[int64]
	uuid         *tables.UUIDTable
	authors      *tables.Authors
	tags         *tables.ManyToMany[string]
	languages    *tables.ManyToMany[string]
	series       *tables.ManyToOne[string]
	publisher    *tables.ManyToOne[string]
	rating       *tables.ManyToOne[int64]
	formats      *tables.Formats
	identifiers  *tables.Identifiers

	// fieldsMu guards the writer and normalised field maps, which change
	// when custom columns are added or removed.
	fieldsMu sync.RWMutex
	writers  map[string]writer
	norm     map[string]*normField

	closed atomic.Bool
}

// Open opens the library at root, creating metadata.db when it is missing,
// and loads every table into memory
func Open(root string, opts Options) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path: %w", err)
	}
	dbPath := filepath.Join(abs, store.DBName)
	_, statErr := os.Stat(dbPath)
	creating := errors.Is(statErr, fs.ErrNotExist)
	if err := layout.CheckLibraryPath(abs, creating); err != nil {
		return nil, err
	}

	if opts.Separator == "" {
		opts.Separator = ","
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultOptions().Retention
	}
	if opts.SortRules != nil {
		sortname.SetDefault(opts.SortRules)
	}
	if opts.CollationLanguage != "" {
		if err := store.SetCollationLanguage(opts.CollationLanguage); err != nil {
			return nil, err
		}
	}

	fsCfg := util.TuneForLibrary(abs, opts.NASMode)
	if err := util.RetryableMkdirAll(abs, 0755, fsCfg.Retry); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}

	db, err := store.OpenWithOptions(dbPath, &store.OpenOptions{NetworkOptimized: fsCfg.NetworkOptimized})
	if err != nil {
		return nil, err
	}
	version, err := db.UserVersion()
	if err != nil {
		db.Close()
		return nil, err
	}
	if version == 0 {
		db.Close()
		return nil, fmt.Errorf("%w: %s has user_version 0", util.ErrInvalidLibrary, dbPath)
	}

	l := &Library{
		root:    abs,
		opts:    opts,
		fs:      fsCfg,
		db:      db,
		cat:     tables.NewCatalog(),
		events:  opts.Events,
		writers: make(map[string]writer),
		norm:    make(map[string]*normField),
	}
	if err := l.load(); err != nil {
		db.Close()
		return nil, err
	}

	if creating {
		util.InfoLog("Created library at %s", abs)
	} else {
		util.DebugLog("Opened library at %s (%d books)", abs, len(l.path.Books()))
	}
	return l, nil
}

func (l *Library) load() error {
	p, err := prefs.Load(l.db)
	if err != nil {
		return err
	}
	l.prefs = p
	l.prefs.SetDefault(dirtyDatesPref, false)

	if l.id, err = l.loadID(); err != nil {
		return err
	}

	l.fields = fieldmeta.New()
	l.cols, err = customcol.Load(l.db, l.fields, l.opts.Separator)
	if err != nil {
		return err
	}
	if l.cols.Dirty() {
		if err := l.prefs.Set(dirtyDatesPref, true); err != nil {
			return err
		}
	}

	l.layout, err = layout.New(l.root, layout.Options{
		FS:            l.fs,
		UseHardlinks:  l.opts.UseHardlinks,
		CaseSensitive: l.opts.CaseSensitive,
	})
	if err != nil {
		return err
	}

	l.registerBuiltins()
	for _, col := range l.cols.Columns() {
		l.registerColumn(col)
	}
	if err := l.db.Transaction(func(tx *store.Tx) error {
		return l.cat.ReadAll(tx)
	}); err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	if dirty, _ := l.prefs.Get(dirtyDatesPref).(bool); dirty {
		if err := l.refreshAllDates(); err != nil {
			return err
		}
	}

	l.funcs = l.opts.Functions
	if l.funcs == nil {
		l.funcs = formatter.NewFunctions()
	}
	if l.opts.TemplateFunctions != nil {
		l.funcs.Load(l.id, l.opts.TemplateFunctions)
	}
	l.format = formatter.New(l.funcs, l.id)

	l.trash = l.opts.Trash
	if l.trash == nil {
		l.trash = trash.Direct{Retry: l.fs.Retry}
	}
	if w, ok := l.trash.(interface{ Watch(string) }); ok {
		w.Watch(l.root)
	}
	return nil
}

// loadID returns the library uuid, creating it on first open
func (l *Library) loadID() (string, error) {
	var id string
	err := l.db.QueryRow("SELECT uuid FROM library_id").Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read library id: %w", err)
	}
	id = uuid.NewString()
	if _, err := l.db.Execute("INSERT INTO library_id (uuid) VALUES (?)", id); err != nil {
		return "", fmt.Errorf("failed to store library id: %w", err)
	}
	return id, nil
}

// refreshAllDates stamps every book as modified now. It runs once after a
// custom column was added, since the new column changed every book.
func (l *Library) refreshAllDates() error {
	now := time.Now().UTC()
	if _, err := l.db.Execute("UPDATE books SET last_modified=?", util.FormatTimestamp(now)); err != nil {
		return fmt.Errorf("failed to refresh modification dates: %w", err)
	}
	l.cat.Write([]string{"last_modified"}, func() error {
		for _, id := range l.path.Books() {
			l.lastModified.Set(id, now)
		}
		return nil
	})
	util.InfoLog("Refreshed modification dates of %d books", len(l.path.Books()))
	return l.prefs.Set(dirtyDatesPref, false)
}

// Close releases the database and unloads the library's template functions
func (l *Library) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.funcs.Unload(l.id)
	if w, ok := l.trash.(interface{ Unwatch(string) }); ok {
		w.Unwatch(l.root)
	}
	return l.db.Close()
}

// Root is the absolute library directory
func (l *Library) Root() string { return l.root }

// ID is the library uuid
func (l *Library) ID() string { return l.id }

// Prefs returns the library preferences
func (l *Library) Prefs() *prefs.Prefs { return l.prefs }

// FieldMetadata describes every built-in and custom field
func (l *Library) FieldMetadata() *fieldmeta.Metadata { return l.fields }

// FSSettings returns the filesystem settings the library was tuned with
func (l *Library) FSSettings() *util.FSConfig { return l.fs }

// Events returns the audit log, nil when disabled
func (l *Library) Events() *report.EventLogger { return l.events }

// CheckIntegrity runs the database integrity check
func (l *Library) CheckIntegrity() error { return l.db.CheckIntegrity() }

// Vacuum compacts metadata.db
func (l *Library) Vacuum() error { return l.db.Vacuum() }
