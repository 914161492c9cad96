package util

import (
	"os"

	"github.com/spf13/cast"
	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// GetTerminalWidth returns the width of the terminal stdout or stderr is
// attached to. $COLUMNS wins when set; 80 otherwise.
func GetTerminalWidth() int {
	if w := cast.ToInt(os.Getenv("COLUMNS")); w > 0 {
		return w
	}
	for _, f := range []*os.File{os.Stdout, os.Stderr} {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}
