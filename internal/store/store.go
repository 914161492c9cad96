package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/franz/shelfdb/internal/util"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBName is the file name of the library database
const DBName = "metadata.db"

// Store owns the connection to a library's metadata.db
type Store struct {
	path string
	opts OpenOptions

	// writeMu serialises writers; handleMu guards db across a reopen.
	writeMu  sync.Mutex
	handleMu sync.RWMutex
	db       *sql.DB

	lastInsertID atomic.Int64
	reopens      atomic.Int32

	hooksMu  sync.Mutex
	onReopen []func() error
}

// OpenOptions holds options for opening a database
type OpenOptions struct {
	NetworkOptimized bool // Apply network-optimized pragmas
}

// Open opens or creates the database at path with default options
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, nil)
}

// OpenWithOptions opens or creates the database at path and migrates it to
// the current schema version.
func OpenWithOptions(path string, opts *OpenOptions) (*Store, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	registerDialect()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, util.NewFSError(filepath.Dir(path), err)
	}

	s := &Store{path: path, opts: *opts}
	db, err := s.openHandle()
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) dsn() string {
	return util.SQLiteURI(s.path, "_pragma=busy_timeout(10000)&_pragma=cache_size(-5000)&_pragma=temp_store(2)")
}

func (s *Store) openHandle() (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// TEMP triggers and last_insert_rowid are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", classify(err))
	}

	if s.opts.NetworkOptimized {
		if err := applyNetworkPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply network pragmas: %w", err)
		}
	}
	return db, nil
}

// applyNetworkPragmas applies SQLite optimizations for network filesystems
func applyNetworkPragmas(db *sql.DB) error {
	pragmas := []string{
		// Only fsync at checkpoints
		"PRAGMA synchronous = NORMAL",

		// Increase cache size to 64MB (reduce network round-trips)
		"PRAGMA cache_size = -64000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() *sql.DB {
	s.handleMu.RLock()
	defer s.handleMu.RUnlock()
	return s.db
}

// OnReopen registers fn to run after the handle is reopened. Connection
// scoped state (TEMP triggers) is recreated there.
func (s *Store) OnReopen(fn func() error) {
	s.hooksMu.Lock()
	s.onReopen = append(s.onReopen, fn)
	s.hooksMu.Unlock()
}

// reopen replaces a stale handle. Called without writeMu held by a transaction.
func (s *Store) reopen() error {
	s.handleMu.Lock()
	if s.db != nil {
		s.db.Close()
	}
	db, err := s.openHandle()
	if err != nil {
		s.db = nil
		s.handleMu.Unlock()
		return err
	}
	s.db = db
	s.handleMu.Unlock()
	s.reopens.Add(1)

	util.WarnLog("Reopened database %s after I/O error", s.path)

	s.hooksMu.Lock()
	hooks := append([]func() error(nil), s.onReopen...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		if err := fn(); err != nil {
			return fmt.Errorf("reopen hook failed: %w", err)
		}
	}
	return nil
}

// withRecovery runs op against the current handle, reopening once if it
// fails with an I/O error. Only used outside transactions.
func (s *Store) withRecovery(op func(db *sql.DB) error) error {
	db := s.handle()
	if db == nil {
		return errors.New("database is closed")
	}
	err := op(db)
	if err == nil || !isIOError(err) {
		return classify(err)
	}
	if rerr := s.reopen(); rerr != nil {
		return fmt.Errorf("%w (reopen failed: %v)", classify(err), rerr)
	}
	return classify(op(s.handle()))
}

// Execute runs a single statement and commits it immediately
func (s *Store) Execute(query string, args ...any) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var res sql.Result
	err := s.withRecovery(func(db *sql.DB) error {
		var err error
		res, err = db.Exec(query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordInsert(res)
	return res, nil
}

// ExecuteMany runs query once per argument row inside one transaction
func (s *Store) ExecuteMany(query string, rows [][]any) error {
	return s.Transaction(func(tx *Tx) error {
		return tx.ExecuteMany(query, rows)
	})
}

// Query runs a read-only query
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRecovery(func(db *sql.DB) error {
		var err error
		rows, err = db.Query(query, args...)
		return err
	})
	return rows, err
}

// QueryRow runs a query expected to return at most one row
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	return s.handle().QueryRow(query, args...)
}

// LastInsertRowID returns the most recent auto-incremented id
func (s *Store) LastInsertRowID() int64 {
	return s.lastInsertID.Load()
}

func (s *Store) recordInsert(res sql.Result) {
	if res == nil {
		return
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		s.lastInsertID.Store(id)
	}
}

// Transaction runs fn inside a single transaction. Nested calls made through
// the *Tx join the outer transaction.
func (s *Store) Transaction(fn func(*Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db := s.handle()
	if db == nil {
		return errors.New("database is closed")
	}

	sqlTx, err := db.Begin()
	if err != nil && isIOError(err) {
		if rerr := s.reopen(); rerr != nil {
			return fmt.Errorf("failed to begin transaction: %w", classify(err))
		}
		sqlTx, err = s.handle().Begin()
	}
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{c: sqlTx, store: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// exclusive runs fn under BEGIN EXCLUSIVE on a dedicated connection
func (s *Store) exclusive(fn func(*Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx := context.Background()
	conn, err := s.handle().Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", classify(err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to begin exclusive transaction: %w", classify(err))
	}
	if err := fn(&Tx{c: conn, store: s}); err != nil {
		if _, rerr := conn.ExecContext(ctx, "ROLLBACK"); rerr != nil {
			util.WarnLog("Rollback failed: %v", rerr)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.handle().QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// Vacuum compacts the database file
func (s *Store) Vacuum() error {
	_, err := s.Execute("VACUUM")
	if err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

func isIOError(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_IOERR
}

// classify maps busy/locked failures to util.ErrDatabaseBusy
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch sqliteCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", util.ErrDatabaseBusy, err)
	}
	return err
}

type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is an open transaction. Errors inside a transaction are never retried.
type Tx struct {
	c     conn
	store *Store
}

// Execute runs a statement inside the transaction
func (tx *Tx) Execute(query string, args ...any) (sql.Result, error) {
	res, err := tx.c.ExecContext(context.Background(), query, args...)
	if err != nil {
		return nil, classify(err)
	}
	tx.store.recordInsert(res)
	return res, nil
}

// ExecuteMany runs query once per argument row
func (tx *Tx) ExecuteMany(query string, rows [][]any) error {
	for _, args := range rows {
		if _, err := tx.Execute(query, args...); err != nil {
			return err
		}
	}
	return nil
}

// Query runs a query inside the transaction
func (tx *Tx) Query(query string, args ...any) (*sql.Rows, error) {
	rows, err := tx.c.QueryContext(context.Background(), query, args...)
	return rows, classify(err)
}

// QueryRow runs a single-row query inside the transaction
func (tx *Tx) QueryRow(query string, args ...any) *sql.Row {
	return tx.c.QueryRowContext(context.Background(), query, args...)
}

// Transaction joins the already open transaction
func (tx *Tx) Transaction(fn func(*Tx) error) error {
	return fn(tx)
}

// LastInsertRowID returns the most recent auto-incremented id
func (tx *Tx) LastInsertRowID() int64 {
	return tx.store.LastInsertRowID()
}

// DB is satisfied by both *Store and *Tx
type DB interface {
	Execute(query string, args ...any) (sql.Result, error)
	ExecuteMany(query string, rows [][]any) error
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Transaction(fn func(*Tx) error) error
	LastInsertRowID() int64
}

var (
	_ DB = (*Store)(nil)
	_ DB = (*Tx)(nil)
)
