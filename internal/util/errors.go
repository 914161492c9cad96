package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Sentinel errors surfaced by the library engine
var (
	// ErrLibraryPathTooLong indicates the library root is too deep for the platform path limit
	ErrLibraryPathTooLong = errors.New("library path too long")

	// ErrInvalidLibrary indicates metadata.db exists but could not be initialised
	ErrInvalidLibrary = errors.New("invalid library")

	// ErrSchemaUpgradeFailed indicates a migration step failed and was rolled back
	ErrSchemaUpgradeFailed = errors.New("schema upgrade failed")

	// ErrCustomColumnConflict indicates an invalid, duplicate or broken custom column
	ErrCustomColumnConflict = errors.New("custom column conflict")

	// ErrNoSuchFormat indicates the requested format does not exist for a book
	ErrNoSuchFormat = errors.New("no such format")

	// ErrPathEscapesLibrary indicates an attempt to delete outside the library root
	ErrPathEscapesLibrary = errors.New("path escapes library")

	// ErrWouldCollide indicates a rename would overwrite a file owned by another book
	ErrWouldCollide = errors.New("would collide")

	// ErrDatabaseBusy indicates the database stayed locked past the busy timeout
	ErrDatabaseBusy = errors.New("database busy")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrPermission indicates a permission error
	ErrPermission = errors.New("permission denied")

	// ErrConflict indicates a destination file conflict
	ErrConflict = errors.New("destination conflict")

	// ErrInvalidValue indicates a value could not be adapted to a field
	ErrInvalidValue = errors.New("invalid value")

	// ErrAborted indicates a bulk operation was stopped by its abort callback
	ErrAborted = errors.New("aborted")

	// ErrIO indicates a generic filesystem failure
	ErrIO = errors.New("i/o failure")
)

// FSErrorKind classifies filesystem failures
type FSErrorKind string

const (
	FSNotFound         FSErrorKind = "not_found"
	FSPermissionDenied FSErrorKind = "permission_denied"
	FSAlreadyExists    FSErrorKind = "already_exists"
	FSIOFailure        FSErrorKind = "io_failure"
)

// FilesystemError wraps a failed filesystem operation on Path
type FilesystemError struct {
	Kind FSErrorKind
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel that corresponds to the kind
func (e *FilesystemError) Is(target error) bool {
	switch e.Kind {
	case FSNotFound:
		return target == ErrNotFound
	case FSPermissionDenied:
		return target == ErrPermission
	case FSAlreadyExists:
		return target == ErrConflict
	default:
		return target == ErrIO
	}
}

// NewFSError classifies err and wraps it. nil stays nil.
func NewFSError(path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *FilesystemError
	if errors.As(err, &existing) {
		return err
	}
	kind := FSIOFailure
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = FSNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = FSPermissionDenied
	case errors.Is(err, fs.ErrExist):
		kind = FSAlreadyExists
	}
	var pe *os.PathError
	if path == "" && errors.As(err, &pe) {
		path = pe.Path
	}
	return &FilesystemError{Kind: kind, Path: path, Err: err}
}
