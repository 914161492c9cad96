// Package layout manages the on-disk tree of a library: one directory per
// book holding its cover and format files.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/franz/shelfdb/internal/util"
)

// Options configures a Layout
type Options struct {
	FS            *util.FSConfig // nil means tune for the root
	UseHardlinks  bool
	CaseSensitive *bool // nil means probe the root
	HashCacheSize int
}

// Layout resolves and mutates book files under one library root
type Layout struct {
	root          string
	fs            *util.FSConfig
	useHardlinks  bool
	caseSensitive bool
	hashes        *lru.ARCCache
}

// New returns a layout rooted at root, which must exist
func New(root string, opts Options) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root: %w", err)
	}
	if opts.FS == nil {
		opts.FS = util.TuneForLibrary(abs, nil)
	}
	if opts.HashCacheSize <= 0 {
		opts.HashCacheSize = 512
	}
	hashes, err := lru.NewARC(opts.HashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash cache: %w", err)
	}

	l := &Layout{
		root:         abs,
		fs:           opts.FS,
		useHardlinks: opts.UseHardlinks,
		hashes:       hashes,
	}
	if opts.CaseSensitive != nil {
		l.caseSensitive = *opts.CaseSensitive
	} else {
		cs, err := util.DetectFilesystemCaseSensitivity(abs)
		if err != nil {
			util.WarnLog("Failed to probe case sensitivity of %s: %v", abs, err)
		}
		l.caseSensitive = cs
	}
	util.DebugLog("Library layout at %s: %s, case sensitive %v", abs, util.FormatFSSettings(l.fs), l.caseSensitive)
	return l, nil
}

// Root is the absolute library root
func (l *Layout) Root() string { return l.root }

// CaseSensitive reports whether the library filesystem distinguishes case
func (l *Layout) CaseSensitive() bool { return l.caseSensitive }

// BookDir turns a library-relative book path into an absolute directory
func (l *Layout) BookDir(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// IsDeletable reports whether p lies strictly inside the library root.
// Nothing at or above the root may be removed.
func (l *Layout) IsDeletable(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	return util.IsWithin(l.root, p, l.caseSensitive)
}

// FormatFileName is the name of a format file inside its book directory
func FormatFileName(fname, format string) string {
	return fname + "." + strings.ToLower(format)
}
