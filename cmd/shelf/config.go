package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"

	"github.com/franz/shelfdb/internal/formatter"
	"github.com/franz/shelfdb/internal/library"
	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/sortname"
	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (SHELF_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// sortRules applies the sort.* settings on top of the stock rules
func sortRules() *sortname.Rules {
	r := sortname.DefaultRules()
	if m := viper.GetString("sort.author-copy-method"); m != "" {
		r.AuthorCopyMethod = m
	}
	if articles := viper.GetStringMapStringSlice("sort.title-articles"); len(articles) > 0 {
		for lang, words := range articles {
			r.TitleArticles[lang] = words
		}
	}
	return r
}

// queuedTrash remembers the tasks it queued so the command can wait for
// them before exiting
type queuedTrash struct {
	*trash.Service
	mu  sync.Mutex
	ids []string
}

func (q *queuedTrash) DeleteBooks(lib string, dirs map[int64]string) []string {
	ids := q.Service.DeleteBooks(lib, dirs)
	q.mu.Lock()
	q.ids = append(q.ids, ids...)
	q.mu.Unlock()
	return ids
}

func (q *queuedTrash) DeleteFiles(lib string, bookID int64, paths []string) []string {
	ids := q.Service.DeleteFiles(lib, bookID, paths)
	q.mu.Lock()
	q.ids = append(q.ids, ids...)
	q.mu.Unlock()
	return ids
}

func (q *queuedTrash) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	q.mu.Lock()
	ids := q.ids
	q.mu.Unlock()
	if err := q.Wait(ctx, ids); err != nil {
		util.WarnLog("Trash moves still pending: %v", err)
	}
	q.Stop(ctx)
	q.Close()
}

// openLibrary opens the configured library. The returned func closes it and
// flushes the trash queue and audit log.
func openLibrary() (*library.Library, func(), error) {
	opts := library.DefaultOptions()
	opts.UseHardlinks = viper.GetBool("fs.use-hardlinks")
	opts.Separator = GetConfigString("ui.separator", ",")
	opts.SortRules = sortRules()
	opts.CollationLanguage = viper.GetString("sort.collation-language")
	opts.Retention = time.Duration(GetConfigInt("trash.retention-days", 14)) * 24 * time.Hour
	opts.Functions = formatter.NewFunctions()

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dir := viper.GetString("events-dir"); dir != "" {
		level := report.LevelInfo
		if viper.GetBool("verbose") {
			level = report.LevelDebug
		}
		logger, err := report.NewEventLogger(dir, level)
		if err != nil {
			util.WarnLog("Failed to create event logger: %v", err)
		} else {
			util.DebugLog("Event log: %s", logger.Path())
			opts.Events = logger
			closers = append(closers, func() { logger.Close() })
		}
	}

	if viper.GetBool("trash.queue") {
		svc, err := trash.NewService(trash.Config{
			StateDir:       viper.GetString("trash.state-dir"),
			Workers:        GetConfigInt("trash.workers", 2),
			Retention:      opts.Retention,
			ExpireSchedule: GetConfigString("trash.expire-schedule", "@hourly"),
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to start trash queue: %w", err)
		}
		svc.Start(context.Background())
		q := &queuedTrash{Service: svc}
		opts.Trash = q
		closers = append(closers, q.drain)
	}

	lib, err := library.Open(GetConfigString("library", "."), opts)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, func() { lib.Close() })
	return lib, closeAll, nil
}

// newProgress returns a library progress callback drawing a bar on
// terminals, or nil when output is piped or quiet
func newProgress(description string) (library.Progress, func()) {
	if !util.IsTerminal(1) || util.IsQuiet() {
		return nil, func() {}
	}
	var bar *progressbar.ProgressBar
	progress := func(item string, done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWidth(min(40, util.GetTerminalWidth()/3)),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(200*time.Millisecond),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)
		}
		bar.Set(done)
	}
	return progress, func() {
		if bar != nil {
			bar.Finish()
		}
	}
}

// parseIDs reads book ids from arguments, accepting ranges such as 3-7
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(part, "-")
			start, err := strconv.ParseInt(lo, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid book id %q", part)
			}
			end := start
			if isRange {
				if end, err = strconv.ParseInt(hi, 10, 64); err != nil || end < start {
					return nil, fmt.Errorf("invalid book id range %q", part)
				}
			}
			for id := start; id <= end; id++ {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no book ids given")
	}
	return ids, nil
}
