package scan

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/util"
	"github.com/schollz/progressbar/v3"
)

// BookExtensions are the default e-book file extensions picked up by a scan
var BookExtensions = []string{
	".epub",
	".kepub",
	".azw3",
	".azw",
	".mobi",
	".pdf",
	".fb2",
	".djvu",
	".cbz",
	".cbr",
	".lit",
	".pdb",
	".rtf",
	".docx",
	".txt",
}

// Scanner discovers e-book files in a directory tree and groups them into
// candidate books
type Scanner struct {
	extensions  map[string]bool
	concurrency int
	known       func(hash string) bool
	retry       *util.RetryConfig
	logger      *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	AdditionalExts []string
	Concurrency    int
	// Known reports whether a file with this SHA-256 is already stored
	Known  func(hash string) bool
	Retry  *util.RetryConfig
	Logger *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry == nil {
		cfg.Retry = util.DefaultRetryConfig()
	}

	// Build extension map (case-insensitive)
	extMap := make(map[string]bool)
	for _, ext := range BookExtensions {
		extMap[ext] = true
	}
	for _, ext := range cfg.AdditionalExts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[ext] = true
	}

	return &Scanner{
		extensions:  extMap,
		concurrency: cfg.Concurrency,
		known:       cfg.Known,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
	}
}

// File is one discovered format file
type File struct {
	Path   string
	Format string
	Size   int64
	Hash   string
}

// Candidate is a group of files that look like formats of the same book:
// same directory, same name, different extension
type Candidate struct {
	Title   string
	Authors []string
	Dir     string
	Files   []File
}

// Result represents a scan result
type Result struct {
	Books      []*Candidate
	FilesFound int
	FilesKnown int
	Duplicates int
	Errors     []error
}

// Scan walks root and returns the books it would import
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	util.InfoLog("Starting scan of: %s", root)

	result := &Result{}
	var errMu sync.Mutex
	addErr := func(err error) {
		errMu.Lock()
		result.Errors = append(result.Errors, err)
		errMu.Unlock()
	}

	var seenMu sync.Mutex
	seen := make(map[string]string)

	paths := make(chan string, 100)
	files := make(chan File, 100)

	var found, known, dups atomic.Int64

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	// Collector groups files as they arrive
	groups := make(map[string]*Candidate)
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for f := range files {
			dir := filepath.Dir(f.Path)
			base := strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))
			key := dir + "\x00" + strings.ToLower(base)
			c, ok := groups[key]
			if !ok {
				c = &Candidate{Dir: dir}
				c.Title, c.Authors = ParseFileName(base)
				groups[key] = c
			}
			c.Files = append(c.Files, f)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				select {
				case <-ctx.Done():
					return
				default:
				}

				f, err := s.processFile(path)
				if bar != nil {
					bar.Add(1)
				}
				if err != nil {
					util.ErrorLog("Failed to process %s: %v", path, err)
					addErr(err)
					continue
				}
				if s.known != nil && s.known(f.Hash) {
					util.DebugLog("Already in library: %s", path)
					known.Add(1)
					continue
				}
				seenMu.Lock()
				first, dup := seen[f.Hash]
				if !dup {
					seen[f.Hash] = path
				}
				seenMu.Unlock()
				if dup {
					util.DebugLog("Duplicate of %s: %s", first, path)
					dups.Add(1)
					continue
				}
				files <- f
			}
		}()
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			addErr(fmt.Errorf("access error: %s: %w", path, err))
			return nil // Continue walking
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.isBookFile(path) {
			found.Add(1)
			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	close(paths)
	wg.Wait()
	close(files)
	collectWg.Wait()

	if bar != nil {
		bar.Finish()
	}

	result.FilesFound = int(found.Load())
	result.FilesKnown = int(known.Load())
	result.Duplicates = int(dups.Load())
	result.Books = sortCandidates(groups)

	if walkErr != nil {
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	util.SuccessLog("Scan complete: %d files found, %d books, %d already stored, %d duplicates, %d errors",
		result.FilesFound, len(result.Books), result.FilesKnown, result.Duplicates, len(result.Errors))
	return result, nil
}

// sortCandidates orders books by directory and title and drops repeated
// formats within a book, keeping the first path in sort order
func sortCandidates(groups map[string]*Candidate) []*Candidate {
	books := make([]*Candidate, 0, len(groups))
	for _, c := range groups {
		slices.SortFunc(c.Files, func(a, b File) int {
			return cmp.Or(cmp.Compare(a.Format, b.Format), cmp.Compare(a.Path, b.Path))
		})
		c.Files = slices.CompactFunc(c.Files, func(a, b File) bool { return a.Format == b.Format })
		books = append(books, c)
	}
	slices.SortFunc(books, func(a, b *Candidate) int {
		return cmp.Or(cmp.Compare(a.Dir, b.Dir), cmp.Compare(a.Title, b.Title))
	})
	return books
}

// processFile stats and hashes a single file
func (s *Scanner) processFile(path string) (File, error) {
	info, err := util.RetryableStat(path, s.retry)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat file: %w", err)
	}
	hash, err := util.HashFile(path, s.retry)
	if err != nil {
		return File{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	s.logger.LogScan(hash, path, info.Size())
	util.DebugLog("Discovered: %s (sha256: %s)", path, hash[:8])
	return File{
		Path:   path,
		Format: strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")),
		Size:   info.Size(),
		Hash:   hash,
	}, nil
}

// isBookFile checks if a file has a supported e-book extension
func (s *Scanner) isBookFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}

// SupportedExtensions returns the scanned extensions in sorted order
func (s *Scanner) SupportedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}
