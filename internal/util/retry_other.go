//go:build !windows

package util

import "syscall"

func isSharingViolation(errno syscall.Errno) bool {
	return false
}
