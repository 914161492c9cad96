package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Failed to decode line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to scan log file: %v", err)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.path == "" {
		t.Error("EventLogger path is empty")
	}
	if _, err := os.Stat(logger.path); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.path)
	}

	filename := filepath.Base(logger.path)
	if len(filename) < len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLogger_LibraryEvents(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogBookAdd("/lib", 1, "A B/Hello (1)")
	logger.LogFormatAdd("/lib", 1, "EPUB", "/lib/A B/Hello (1)/Hello - A B.epub", 1000, nil)
	logger.LogBookMove("/lib", 1, "A B/Hello (1)", "A B/Hello World (1)", 15*time.Millisecond, nil)
	logger.LogColumn(EventColumnCreate, "/lib", "mycol", "text")
	logger.LogBookRemove("/lib", 1, "A B/Hello World (1)", false)
	logger.LogTrash(EventTrashMove, "/lib", 1, "A B/Hello World (1)", errors.New("disk full"))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}

	want := []EventType{EventBookAdd, EventFormatAdd, EventBookMove, EventColumnCreate, EventBookRemove, EventTrashMove}
	for i, e := range events {
		if e.Event != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], e.Event)
		}
		if e.Library != "/lib" {
			t.Errorf("Event %d: expected library /lib, got %q", i, e.Library)
		}
	}

	if events[1].Bytes != 1000 || events[1].Format != "EPUB" {
		t.Errorf("Unexpected format event: %+v", events[1])
	}
	if events[2].Duration != 15 {
		t.Errorf("Expected duration 15ms, got %d", events[2].Duration)
	}
	if events[3].Field != "#mycol" || events[3].Extra["datatype"] != "text" {
		t.Errorf("Unexpected column event: %+v", events[3])
	}
	if events[4].Extra["permanent"] != "false" {
		t.Errorf("Expected permanent=false, got %q", events[4].Extra["permanent"])
	}
	if events[5].Level != LevelError || events[5].Error != "disk full" {
		t.Errorf("Expected error event, got %+v", events[5])
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	numGoroutines := 10
	eventsPerGoroutine := 20
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				logger.LogBookAdd("/lib", int64(id*100+j), "x")
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != numGoroutines*eventsPerGoroutine {
		t.Errorf("Expected %d events, got %d", numGoroutines*eventsPerGoroutine, len(events))
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.LogBookAdd("/lib", 1, "x"); err != nil {
		t.Errorf("NullLogger.LogBookAdd should not error, got: %v", err)
	}
	if err := logger.LogError(EventError, "x", errors.New("boom")); err != nil {
		t.Errorf("NullLogger.LogError should not error, got: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not error, got: %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("NullLogger.Path should be empty, got %q", logger.Path())
	}
}

func TestEventLogger_AutoTimestamp(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	before := time.Now()
	logger.Log(&Event{Level: LevelInfo, Event: EventBookAdd})
	after := time.Now()
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ts := events[0].Timestamp
	if ts.Before(before.Add(-time.Second)) || ts.After(after.Add(time.Second)) {
		t.Errorf("Timestamp %v not within [%v, %v]", ts, before, after)
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel EventLevel
		want     int
	}{
		{"debug keeps everything", LevelDebug, 4},
		{"info drops debug", LevelInfo, 3},
		{"warning keeps warnings and errors", LevelWarning, 2},
		{"error keeps errors only", LevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewEventLogger(t.TempDir(), tt.minLevel)
			if err != nil {
				t.Fatalf("NewEventLogger failed: %v", err)
			}
			logger.Log(&Event{Level: LevelDebug, Event: EventBookAdd})
			logger.Log(&Event{Level: LevelInfo, Event: EventBookAdd})
			logger.LogOrphan("/lib", 1, "PDF", "x.pdf")
			logger.LogError(EventError, "x", errors.New("boom"))
			logger.Close()

			if got := len(readEvents(t, logger.Path())); got != tt.want {
				t.Errorf("Expected %d events, got %d", tt.want, got)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want EventLevel
	}{
		{"debug", LevelDebug},
		{"warning", LevelWarning},
		{"error", LevelError},
		{"", LevelInfo},
		{"loud", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
