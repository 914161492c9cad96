package util

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"EAGAIN", syscall.EAGAIN, true},
		{"EBUSY", syscall.EBUSY, true},
		{"EIO", syscall.EIO, true},
		{"ENOENT (not retryable)", syscall.ENOENT, false},
		{"EPERM (not retryable)", syscall.EPERM, false},
		{"sharing violation message", errors.New("The process cannot access the file because it is being used by another process."), true},
		{"busy message", errors.New("rename: device or resource busy"), true},
		{"generic error (not retryable)", errors.New("invalid argument"), false},
		{"PathError with EBUSY", &os.PathError{Op: "open", Path: "/lib/a.epub", Err: syscall.EBUSY}, true},
		{"PathError with ENOENT", &os.PathError{Op: "open", Path: "/lib/a.epub", Err: syscall.ENOENT}, false},
		{"LinkError with EIO", &os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EIO}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond}

	result, err := RetryWithBackoff(cfg, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.EBUSY
		}
		return "ok", nil
	}, "open cover")

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != "ok" || attempts != 3 {
		t.Errorf("Expected ok after 3 attempts, got %q after %d", result, attempts)
	}
}

func TestRetryWithBackoff_FailureAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond}

	_, err := RetryWithBackoff(cfg, func() (int, error) {
		attempts++
		return 0, syscall.EIO
	}, "read format")

	if err == nil {
		t.Fatal("Expected error after max retries, got nil")
	}
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("Expected wrapped EIO, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0
	_, err := RetryWithBackoff(DefaultRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ENOENT
	}, "stat")

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestLibraryRetryConfig(t *testing.T) {
	cfg := LibraryRetryConfig()
	if cfg.MaxAttempts != 2 {
		t.Errorf("Expected a single retry (2 attempts), got: %d", cfg.MaxAttempts)
	}
	if cfg.InitialWait != 200*time.Millisecond {
		t.Errorf("Expected 200ms wait, got: %v", cfg.InitialWait)
	}

	attempts := 0
	start := time.Now()
	err := Retry(cfg, func() error {
		attempts++
		if attempts == 1 {
			return syscall.EBUSY
		}
		return nil
	}, "open held file")
	if err != nil {
		t.Fatalf("Expected success on retry, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Expected retry to wait at least 200ms, waited %v", elapsed)
	}
}

func TestRetryableRemove_MissingIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.epub")
	if err := RetryableRemove(path, LibraryRetryConfig()); err != nil {
		t.Errorf("Expected nil removing a missing file, got: %v", err)
	}
}

func TestRetryableOpen_ClassifiesNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.pdf")
	_, err := RetryableOpen(path, LibraryRetryConfig())
	if err == nil {
		t.Fatal("Expected error opening missing file")
	}

	var fsErr *FilesystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("Expected *FilesystemError, got %T", err)
	}
	if fsErr.Kind != FSNotFound || fsErr.Path != path {
		t.Errorf("Unexpected error fields: %+v", fsErr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected errors.Is(err, ErrNotFound)")
	}
}
