package layout

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/franz/shelfdb/internal/util"
)

const (
	// CoverFileName is the cover image stored in each book directory
	CoverFileName = "cover.jpg"

	// MaxPath is MAX_PATH minus the terminating NUL
	MaxPath = 259

	// NewLibraryPathLimit applies when a library is being created on Windows
	NewLibraryPathLimit = 75

	unknown = "Unknown"
)

var reservedNames = func() map[string]bool {
	m := map[string]bool{"CON": true, "PRN": true, "AUX": true, "NUL": true}
	for i := 1; i <= 9; i++ {
		m[fmt.Sprintf("COM%d", i)] = true
		m[fmt.Sprintf("LPT%d", i)] = true
	}
	return m
}()

// IsReservedName reports whether name is a Windows device name
func IsReservedName(name string) bool {
	return reservedNames[strings.ToUpper(name)]
}

const unsafeChars = `\|?*<":>+/`

// ASCIIText strips accents and replaces whatever is left outside ASCII with '?'.
// Scripts without a Latin decomposition are not transliterated: a title
// written entirely in CJK or Cyrillic becomes a run of '?', which
// SanitizeFileName later turns into underscores. Such books still get unique
// directories through their id suffix.
func ASCIIText(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r < unicode.MaxASCII+1 {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// SanitizeFileName replaces characters that are unsafe in file names on any
// platform and fixes names Windows or Unix would treat specially
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 32 || strings.ContainsRune(unsafeChars, r):
			b.WriteByte('_')
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	one := strings.TrimSpace(b.String())

	stem, ext := splitExt(one)
	if strings.Trim(stem, ".") == "" && stem != "" {
		stem = "_"
	}
	one = strings.ReplaceAll(stem, "..", "_") + ext

	if n := len(one); n > 0 && (one[n-1] == '.' || one[n-1] == ' ') {
		one = one[:n-1] + "_"
	}
	if strings.HasPrefix(one, ".") {
		one = "_" + one[1:]
	}
	return one
}

// splitExt splits off the last extension. Leading dots belong to the stem.
func splitExt(s string) (string, string) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || strings.Trim(s[:i], ".") == "" {
		return s, ""
	}
	return s[:i], s[i:]
}

// ASCIIFilename is the ASCII-only, sanitised form of s
func ASCIIFilename(s string) string {
	return SanitizeFileName(ASCIIText(s))
}

func truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ConstructPathName returns the library-relative directory of a book,
// always using '/' as separator
func ConstructPathName(bookID int64, title, author string) string {
	suffix := fmt.Sprintf(" (%d)", bookID)
	l := PathLimit - len(suffix)/2 - 2

	a := strings.TrimRight(truncate(ASCIIFilename(author), l), " .")
	if a == "" {
		a = ASCIIFilename(unknown)
	}
	if IsReservedName(a) {
		a += "w"
	}
	t := strings.TrimRightFunc(truncate(ASCIIFilename(strings.TrimLeftFunc(title, unicode.IsSpace)), l), unicode.IsSpace)
	if t == "" {
		t = truncate(unknown, l)
	}
	return a + "/" + t + suffix
}

// ConstructFileName returns the base name, without extension, of a book's
// format files. extLen includes the leading dot.
func ConstructFileName(bookID int64, title, author string, extLen int) (string, error) {
	// room for ORIGINAL_EPUB style extensions
	if extLen < 14 {
		extLen = 14
	}
	l := (PathLimit - extLen - 2) / 2
	if isWindows {
		l = PathLimit - extLen/2 - 2
	}
	if l < 5 {
		return "", fmt.Errorf("%w: extension length %d too long", util.ErrInvalidValue, extLen)
	}
	a := truncate(ASCIIFilename(author), l)
	t := strings.TrimRightFunc(truncate(ASCIIFilename(strings.TrimLeftFunc(title, unicode.IsSpace)), l), unicode.IsSpace)
	if t == "" {
		t = truncate(unknown, l)
	}
	name := strings.TrimRight(t+" - "+a, ".")
	if name == "" {
		name = ASCIIFilename(unknown)
	}
	return name, nil
}

// CheckLibraryPath refuses library roots too deep for the platform. Only
// Windows has a limit.
func CheckLibraryPath(root string, creating bool) error {
	return checkLibraryPath(root, creating, isWindows)
}

func checkLibraryPath(root string, creating, windows bool) error {
	if !windows {
		return nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	if creating && len(abs) > NewLibraryPathLimit {
		return fmt.Errorf("%w: %s is longer than %d characters", util.ErrLibraryPathTooLong, abs, NewLibraryPathLimit)
	}
	if len(abs)+4*PathLimit+10 > MaxPath {
		return fmt.Errorf("%w: %s leaves no room for book paths", util.ErrLibraryPathTooLong, abs)
	}
	return nil
}
