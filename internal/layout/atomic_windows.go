//go:build windows

package layout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/franz/shelfdb/internal/util"
)

// atomicFolderMove holds exclusive handles on every file of a directory so
// nothing else can open them while they are copied elsewhere. The originals
// stay untouched until DeleteOriginals.
type atomicFolderMove struct {
	l       *Layout
	handles map[string]windows.Handle // keyed by lowercased absolute path
	paths   map[string]string
}

func openFolderMove(l *Layout, dir string) (folderMove, error) {
	m := &atomicFolderMove{l: l, handles: make(map[string]windows.Handle), paths: make(map[string]string)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, util.NewFSError(dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := util.RetryWithBackoff(l.fs.Retry, func() (windows.Handle, error) {
			p, err := windows.UTF16PtrFromString(path)
			if err != nil {
				return windows.InvalidHandle, err
			}
			return windows.CreateFile(p, windows.GENERIC_READ, 0, nil,
				windows.OPEN_EXISTING, windows.FILE_FLAG_SEQUENTIAL_SCAN, 0)
		}, fmt.Sprintf("lock(%s)", path))
		if err != nil {
			m.Close()
			return nil, util.NewFSError(path, fmt.Errorf("failed to lock file: %w", err))
		}
		key := strings.ToLower(path)
		m.handles[key] = h
		m.paths[key] = path
	}
	return m, nil
}

func (m *atomicFolderMove) CopyFile(src, dest string) error {
	h, ok := m.handles[strings.ToLower(src)]
	if !ok {
		return m.l.linkOrCopy(src, dest, true)
	}
	if m.l.useHardlinks {
		s, err1 := windows.UTF16PtrFromString(src)
		d, err2 := windows.UTF16PtrFromString(dest)
		if err1 == nil && err2 == nil {
			os.Remove(dest)
			if windows.CreateHardLink(d, s, 0) == nil {
				return nil
			}
		}
	}
	if _, err := windows.Seek(h, 0, io.SeekStart); err != nil {
		return util.NewFSError(src, err)
	}
	_, err := m.l.writeAtomic(dest, handleReader(h))
	return err
}

// handleReader reads from a handle without taking ownership of it
type handleReader windows.Handle

func (r handleReader) Read(p []byte) (int, error) {
	var n uint32
	if err := windows.ReadFile(windows.Handle(r), p, &n, nil); err != nil {
		return int(n), err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return int(n), nil
}

func (m *atomicFolderMove) DeleteOriginals() error {
	m.release()
	var firstErr error
	for _, path := range m.paths {
		if err := util.RetryableRemove(path, m.l.fs.Retry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.paths = make(map[string]string)
	return firstErr
}

func (m *atomicFolderMove) release() {
	for k, h := range m.handles {
		windows.CloseHandle(h)
		delete(m.handles, k)
	}
}

func (m *atomicFolderMove) Close() error {
	m.release()
	return nil
}
