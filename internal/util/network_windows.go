//go:build windows

package util

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// NetworkInfo contains information about a filesystem's network characteristics
type NetworkInfo struct {
	IsNetwork bool   // Whether the filesystem is network-mounted
	Protocol  string // Protocol (smb, nfs, cifs, etc.) or empty if local
	MountPath string // Mount point of the filesystem
}

// DetectNetworkFilesystem reports whether path lives on a remote drive or UNC share
func DetectNetworkFilesystem(path string) (*NetworkInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	volume := filepath.VolumeName(absPath)
	info := &NetworkInfo{MountPath: volume}
	if len(volume) > 2 && volume[0] == '\\' && volume[1] == '\\' {
		info.IsNetwork = true
		info.Protocol = "smb"
		return info, nil
	}

	root, err := windows.UTF16PtrFromString(volume + `\`)
	if err != nil {
		return nil, err
	}
	if windows.GetDriveType(root) == windows.DRIVE_REMOTE {
		info.IsNetwork = true
		info.Protocol = "smb"
	}
	return info, nil
}

// IsNetworkPath checks if a path is on a network filesystem (convenience function)
func IsNetworkPath(path string) bool {
	info, err := DetectNetworkFilesystem(path)
	if err != nil {
		return false
	}
	return info.IsNetwork
}
