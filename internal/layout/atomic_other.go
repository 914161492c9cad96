//go:build !windows

package layout

// plainMove copies files directly. Unix lets a file be replaced or unlinked
// while others hold it open, so no handles are needed.
type plainMove struct {
	l *Layout
}

func openFolderMove(l *Layout, dir string) (folderMove, error) {
	return plainMove{l: l}, nil
}

func (m plainMove) CopyFile(src, dest string) error {
	return m.l.linkOrCopy(src, dest, true)
}

func (m plainMove) DeleteOriginals() error { return nil }
func (m plainMove) Close() error           { return nil }
