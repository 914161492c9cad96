package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventBookAdd      EventType = "book_add"
	EventBookRemove   EventType = "book_remove"
	EventBookMove     EventType = "book_move"
	EventFormatAdd    EventType = "format_add"
	EventFormatRemove EventType = "format_remove"
	EventColumnCreate EventType = "column_create"
	EventColumnDelete EventType = "column_delete"
	EventTrashMove    EventType = "trash_move"
	EventTrashRestore EventType = "trash_restore"
	EventTrashExpire  EventType = "trash_expire"
	EventLibraryMove  EventType = "library_move"
	EventOrphan       EventType = "orphan"
	EventScan         EventType = "scan"
	EventError        EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel maps a level name to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	if _, ok := levelPriority[EventLevel(s)]; ok {
		return EventLevel(s)
	}
	return LevelInfo
}

// Event is one mutation of a library
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	Library   string            `json:"library,omitempty"`
	BookID    int64             `json:"book_id,omitempty"`
	Format    string            `json:"format,omitempty"`
	Field     string            `json:"field,omitempty"`
	SrcPath   string            `json:"src_path,omitempty"`
	DestPath  string            `json:"dest_path,omitempty"`
	Bytes     int64             `json:"bytes,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Several commands may run within the same second
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

func errLevel(err error) (EventLevel, string) {
	if err != nil {
		return LevelError, err.Error()
	}
	return LevelInfo, ""
}

// LogBookAdd logs the creation of a book
func (l *EventLogger) LogBookAdd(library string, bookID int64, path string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventBookAdd,
		Library:  library,
		BookID:   bookID,
		DestPath: path,
	})
}

// LogBookRemove logs a deleted book. permanent tells a hard delete from a
// move to the trash.
func (l *EventLogger) LogBookRemove(library string, bookID int64, path string, permanent bool) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventBookRemove,
		Library: library,
		BookID:  bookID,
		SrcPath: path,
		Extra: map[string]string{
			"permanent": fmt.Sprintf("%t", permanent),
		},
	})
}

// LogBookMove logs a book directory changing location
func (l *EventLogger) LogBookMove(library string, bookID int64, srcPath, destPath string, duration time.Duration, err error) error {
	level, errMsg := errLevel(err)
	return l.Log(&Event{
		Level:    level,
		Event:    EventBookMove,
		Library:  library,
		BookID:   bookID,
		SrcPath:  srcPath,
		DestPath: destPath,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogFormatAdd logs a format written to a book
func (l *EventLogger) LogFormatAdd(library string, bookID int64, format, path string, size int64, err error) error {
	level, errMsg := errLevel(err)
	return l.Log(&Event{
		Level:    level,
		Event:    EventFormatAdd,
		Library:  library,
		BookID:   bookID,
		Format:   format,
		DestPath: path,
		Bytes:    size,
		Error:    errMsg,
	})
}

// LogFormatRemove logs a format taken off a book
func (l *EventLogger) LogFormatRemove(library string, bookID int64, format, path string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventFormatRemove,
		Library: library,
		BookID:  bookID,
		Format:  format,
		SrcPath: path,
	})
}

// LogColumn logs a custom column created or marked for deletion
func (l *EventLogger) LogColumn(event EventType, library, label, datatype string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   event,
		Library: library,
		Field:   "#" + label,
		Extra: map[string]string{
			"datatype": datatype,
		},
	})
}

// LogTrash logs a trash move, restore or expiry
func (l *EventLogger) LogTrash(event EventType, library string, bookID int64, path string, err error) error {
	level, errMsg := errLevel(err)
	return l.Log(&Event{
		Level:   level,
		Event:   event,
		Library: library,
		BookID:  bookID,
		SrcPath: path,
		Error:   errMsg,
	})
}

// LogLibraryMove logs a whole library being copied to a new root
func (l *EventLogger) LogLibraryMove(srcPath, destPath string, books int, duration time.Duration, err error) error {
	level, errMsg := errLevel(err)
	return l.Log(&Event{
		Level:    level,
		Event:    EventLibraryMove,
		Library:  srcPath,
		SrcPath:  srcPath,
		DestPath: destPath,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
		Extra: map[string]string{
			"books": fmt.Sprintf("%d", books),
		},
	})
}

// LogOrphan logs a format row whose file is missing
func (l *EventLogger) LogOrphan(library string, bookID int64, format, path string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventOrphan,
		Library: library,
		BookID:  bookID,
		Format:  format,
		SrcPath: path,
	})
}

// LogScan logs a file found by an import scan
func (l *EventLogger) LogScan(hash, path string, size int64) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventScan,
		SrcPath: path,
		Bytes:   size,
		Extra: map[string]string{
			"sha256": hash,
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
