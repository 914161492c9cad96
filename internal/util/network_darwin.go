//go:build darwin

package util

import (
	"strings"
	"syscall"
)

var darwinNetworkTypes = []string{"nfs", "smbfs", "afpfs", "cifs", "webdav", "osxfuse", "macfuse"}

func detectPlatformNetwork(path string, stat *syscall.Statfs_t) (*NetworkInfo, error) {
	info := &NetworkInfo{}
	fsType := strings.ToLower(cString(stat.Fstypename[:]))
	for _, t := range darwinNetworkTypes {
		if strings.Contains(fsType, t) {
			info.IsNetwork = true
			info.Protocol = fsType
			info.MountPath = cString(stat.Mntonname[:])
			break
		}
	}
	return info, nil
}

// cString converts a NUL terminated statfs field
func cString(arr []int8) string {
	var b strings.Builder
	for _, c := range arr {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return b.String()
}
