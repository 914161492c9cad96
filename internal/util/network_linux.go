//go:build linux

package util

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// statfs magic numbers of filesystems that put a library on the far side of
// a network
var linuxNetworkMagic = map[uint32]string{
	0x6969:     "nfs",
	0xff534d42: "cifs",
	0xfe534d42: "smb2",
	0x517b:     "smb",
	0x01021994: "smbfs",
	0x564c:     "ncp",
}

// mount table types treated as remote; matched by substring
var linuxNetworkTypes = []string{"nfs", "cifs", "smb", "ncpfs", "fuse.sshfs", "fuse.rclone"}

func detectPlatformNetwork(path string, stat *syscall.Statfs_t) (*NetworkInfo, error) {
	info := &NetworkInfo{}
	if proto, ok := linuxNetworkMagic[uint32(stat.Type)]; ok {
		info.IsNetwork = true
		info.Protocol = proto
	}

	mounts, err := procMounts()
	if err != nil {
		// the magic number is all we have
		return info, nil
	}
	if mount, fsType := mountFor(path, mounts); isNetworkType(fsType) {
		info.IsNetwork = true
		info.Protocol = fsType
		info.MountPath = mount
	}
	return info, nil
}

// mountFor returns the deepest mount point containing path and its type
func mountFor(path string, mounts map[string]string) (string, string) {
	best := ""
	for mount := range mounts {
		if !containsPath(mount, path) || len(mount) <= len(best) {
			continue
		}
		best = mount
	}
	if best == "" {
		return "", ""
	}
	return best, strings.ToLower(mounts[best])
}

func containsPath(mount, path string) bool {
	if mount == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == mount || strings.HasPrefix(path, mount+string(filepath.Separator))
}

func isNetworkType(fsType string) bool {
	for _, t := range linuxNetworkTypes {
		if strings.Contains(fsType, t) {
			return true
		}
	}
	return false
}

func procMounts() (map[string]string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMounts(f)
}

// parseMounts reads a mount table in /proc/mounts format: device, mount
// point, type, options, dump, pass
func parseMounts(r io.Reader) (map[string]string, error) {
	mounts := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		// spaces in mount points are escaped as \040
		mounts[strings.ReplaceAll(fields[1], `\040`, " ")] = fields[2]
	}
	return mounts, scanner.Err()
}
