//go:build linux

package util

import (
	"strings"
	"testing"
)

const sampleMounts = `/dev/sda1 / ext4 rw,relatime 0 0
proc /proc proc rw,nosuid 0 0
//nas/books /mnt/books cifs rw,vers=3.0 0 0
nas:/export /mnt/books\040archive nfs4 rw 0 0
/dev/sdb1 /mnt/bookshelf ext4 rw 0 0
`

func TestParseMounts(t *testing.T) {
	mounts, err := parseMounts(strings.NewReader(sampleMounts))
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != 5 {
		t.Errorf("expected 5 mounts, got %d", len(mounts))
	}
	if mounts["/mnt/books archive"] != "nfs4" {
		t.Errorf("expected escaped mount point to be decoded, got %v", mounts)
	}
}

func TestMountFor(t *testing.T) {
	mounts, _ := parseMounts(strings.NewReader(sampleMounts))

	tests := []struct {
		path    string
		mount   string
		network bool
	}{
		{"/mnt/books/Calibre Library", "/mnt/books", true},
		{"/mnt/books", "/mnt/books", true},
		{"/mnt/books archive/lib", "/mnt/books archive", true},
		{"/mnt/bookshelf/lib", "/mnt/bookshelf", false},
		{"/home/me/Calibre Library", "/", false},
	}
	for _, tt := range tests {
		mount, fsType := mountFor(tt.path, mounts)
		if mount != tt.mount || isNetworkType(fsType) != tt.network {
			t.Errorf("mountFor(%q) = %q %q, want %q network=%v", tt.path, mount, fsType, tt.mount, tt.network)
		}
	}
}

func TestProcMounts(t *testing.T) {
	mounts, err := procMounts()
	if err != nil {
		t.Fatalf("Failed to parse /proc/mounts: %v", err)
	}
	if _, found := mounts["/"]; !found {
		t.Error("Expected root filesystem to be mounted")
	}
}
