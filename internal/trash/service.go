package trash

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"github.com/robfig/cron/v3"

	"github.com/franz/shelfdb/internal/util"
)

// TasksDBName is the queue database kept in the state directory
const TasksDBName = "trash-tasks.db"

// Config holds the trash service settings
type Config struct {
	// StateDir holds the queue database. Default: the user cache directory
	StateDir string

	// Workers is the number of concurrent move workers. Default: 2
	Workers int

	// Retention is how long trashed items are kept. Default: 14 days
	Retention time.Duration

	// ExpireSchedule is the cron expression for expiry runs. Default: @hourly
	ExpireSchedule string

	// Retry applies to each filesystem operation inside a task
	Retry *util.RetryConfig
}

// DefaultConfig returns a Config with the usual defaults
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		Retention:      14 * 24 * time.Hour,
		ExpireSchedule: "@hourly",
		Retry:          util.LibraryRetryConfig(),
	}
}

// Service moves deleted books into the trash in the background and expires
// old entries on a schedule. One service can serve many libraries.
type Service struct {
	cfg    Config
	db     *sql.DB
	client *backlite.Client
	cron   *cron.Cron

	mu        sync.Mutex
	started   bool
	libraries map[string]bool
}

// NewService opens the queue database and registers the trash queues
func NewService(cfg Config) (*Service, error) {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.ExpireSchedule == "" {
		cfg.ExpireSchedule = def.ExpireSchedule
	}
	if cfg.Retry == nil {
		cfg.Retry = def.Retry
	}
	if cfg.StateDir == "" {
		dir, err := util.StateDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	}
	if err := util.RetryableMkdirAll(cfg.StateDir, 0755, cfg.Retry); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(cfg.StateDir, TasksDBName)
	db, err := sql.Open("sqlite3", util.SQLiteURI(dbPath, "_journal=WAL&_timeout=5000&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("failed to open trash queue database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    15 * time.Minute,
		CleanupInterval: time.Hour,
		Logger:          queueLogger{},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trash queue: %w", err)
	}
	if err := client.Install(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install trash queue schema: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		db:        db,
		client:    client,
		cron:      cron.New(),
		libraries: make(map[string]bool),
	}
	client.Register(backlite.NewQueue(s.processMoveBook))
	client.Register(backlite.NewQueue(s.processMoveFormat))
	client.Register(backlite.NewQueue(s.processExpire))

	if _, err := s.cron.AddFunc(cfg.ExpireSchedule, s.scheduleExpiry); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid expire schedule '%s': %w", cfg.ExpireSchedule, err)
	}
	return s, nil
}

// Start begins processing queued moves and scheduled expiry
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.client.Start(ctx)
	s.cron.Start()
	util.DebugLog("Trash service started with %d workers, expiry %s", s.cfg.Workers, s.cfg.ExpireSchedule)
}

// Stop waits for running moves to finish. It reports false when ctx expired
// first.
func (s *Service) Stop(ctx context.Context) bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return true
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return s.client.Stop(ctx)
}

// Close releases the queue database. Call Stop first.
func (s *Service) Close() error {
	return s.db.Close()
}

// Watch adds a library to scheduled expiry
func (s *Service) Watch(library string) {
	s.mu.Lock()
	s.libraries[library] = true
	s.mu.Unlock()
}

// Unwatch removes a library from scheduled expiry
func (s *Service) Unwatch(library string) {
	s.mu.Lock()
	delete(s.libraries, library)
	s.mu.Unlock()
}

// Retention is the configured retention period
func (s *Service) Retention() time.Duration { return s.cfg.Retention }

// RetryConfig is the filesystem retry policy used by moves
func (s *Service) RetryConfig() *util.RetryConfig { return s.cfg.Retry }

func (s *Service) watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	libs := make([]string, 0, len(s.libraries))
	for l := range s.libraries {
		libs = append(libs, l)
	}
	sort.Strings(libs)
	return libs
}

func (s *Service) scheduleExpiry() {
	for _, lib := range s.watched() {
		if _, err := s.client.Add(ExpireTask{Library: lib}).Save(); err != nil {
			util.ErrorLog("Failed to queue trash expiry for %s: %v", lib, err)
		}
	}
}

// DeleteBooks queues book directories for the trash. dirs maps book ids to
// absolute directories inside library. If queueing fails the moves run
// inline; a move failure is logged and never returned.
func (s *Service) DeleteBooks(library string, dirs map[int64]string) []string {
	tasks := make([]backlite.Task, 0, len(dirs))
	for _, id := range sortedIDs(dirs) {
		tasks = append(tasks, MoveBookTask{Library: library, BookID: id, Dir: dirs[id]})
	}
	if len(tasks) == 0 {
		return nil
	}
	ids, err := s.client.Add(tasks...).Save()
	if err != nil {
		util.ErrorLog("Failed to queue %d books for trash, moving inline: %v", len(tasks), err)
		for _, id := range sortedIDs(dirs) {
			if err := MoveBook(library, id, dirs[id], s.cfg.Retry); err != nil {
				util.ErrorLog("Failed to move book %d to trash: %v", id, err)
			}
		}
		return nil
	}
	return ids
}

// DeleteFiles queues format files of one book for the trash
func (s *Service) DeleteFiles(library string, bookID int64, paths []string) []string {
	tasks := make([]backlite.Task, 0, len(paths))
	for _, p := range paths {
		tasks = append(tasks, MoveFormatTask{Library: library, BookID: bookID, Path: p})
	}
	if len(tasks) == 0 {
		return nil
	}
	ids, err := s.client.Add(tasks...).Save()
	if err != nil {
		util.ErrorLog("Failed to queue %d files for trash, moving inline: %v", len(tasks), err)
		for _, p := range paths {
			if err := MoveFormat(library, bookID, p, s.cfg.Retry); err != nil {
				util.ErrorLog("Failed to move %s to trash: %v", p, err)
			}
		}
		return nil
	}
	return ids
}

// Wait blocks until the given tasks are no longer pending or running
func (s *Service) Wait(ctx context.Context, ids []string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for _, id := range ids {
		for {
			status, err := s.client.Status(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get status of task %s: %w", id, err)
			}
			if status != backlite.TaskStatusPending && status != backlite.TaskStatusRunning {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

func sortedIDs(m map[int64]string) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// queueLogger routes queue messages into the leveled logger. Params come as
// key/value pairs.
type queueLogger struct{}

func (queueLogger) Info(message string, params ...any) {
	util.DebugLog("[trash queue] %s%s", message, kv(params))
}

func (queueLogger) Error(message string, params ...any) {
	util.ErrorLog("[trash queue] %s%s", message, kv(params))
}

func kv(params []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(params); i += 2 {
		fmt.Fprintf(&b, " %v=%v", params[i], params[i+1])
	}
	if len(params)%2 == 1 {
		fmt.Fprintf(&b, " %v", params[len(params)-1])
	}
	return b.String()
}
