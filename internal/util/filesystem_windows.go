//go:build windows

package util

import (
	"path/filepath"
	"strings"
)

// IsSameFilesystem compares volume names; hard links cannot cross volumes.
func IsSameFilesystem(path1, path2 string) (bool, error) {
	abs1, err := filepath.Abs(path1)
	if err != nil {
		return false, err
	}
	abs2, err := filepath.Abs(path2)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(filepath.VolumeName(abs1), filepath.VolumeName(abs2)), nil
}
