//go:build windows

package util

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func isSharingViolation(errno syscall.Errno) bool {
	return errno == syscall.Errno(windows.ERROR_SHARING_VIOLATION) ||
		errno == syscall.Errno(windows.ERROR_LOCK_VIOLATION)
}
