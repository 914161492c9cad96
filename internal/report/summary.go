package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// CheckReport is the result of checking a library's files against its
// database
type CheckReport struct {
	GeneratedAt time.Time
	Duration    time.Duration
	LibraryPath string

	BooksChecked int
	FormatsOK    int
	TotalBytes   int64

	// Book directories recorded in the database but absent on disk
	MissingDirs []BookProblem
	// Format rows whose file is missing
	MissingFormats []BookProblem
	// Files in a book directory that no format row owns
	ExtraFiles []BookProblem
	// Directories under the library root that belong to no book
	ExtraDirs []string
	// Books whose directory name no longer matches title and author
	StalePaths []BookProblem

	TrashEntries int
	TrashBytes   int64
}

// BookProblem is one inconsistency tied to a book
type BookProblem struct {
	BookID int64
	Path   string
	Detail string
}

// Healthy reports whether the check found nothing to fix
func (r *CheckReport) Healthy() bool {
	return len(r.MissingDirs) == 0 && len(r.MissingFormats) == 0 &&
		len(r.ExtraFiles) == 0 && len(r.ExtraDirs) == 0 && len(r.StalePaths) == 0
}

// Problems returns the number of inconsistencies found
func (r *CheckReport) Problems() int {
	return len(r.MissingDirs) + len(r.MissingFormats) + len(r.ExtraFiles) +
		len(r.ExtraDirs) + len(r.StalePaths)
}

// Sort orders every list by book id then path so reports are stable
func (r *CheckReport) Sort() {
	for _, list := range [][]BookProblem{r.MissingDirs, r.MissingFormats, r.ExtraFiles, r.StalePaths} {
		sort.Slice(list, func(i, j int) bool {
			if list[i].BookID != list[j].BookID {
				return list[i].BookID < list[j].BookID
			}
			return list[i].Path < list[j].Path
		})
	}
	sort.Strings(r.ExtraDirs)
}

// WriteMarkdownReport writes the check report as Markdown
func WriteMarkdownReport(report *CheckReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderMarkdown returns the check report as Markdown text
func RenderMarkdown(report *CheckReport) string {
	var md strings.Builder

	md.WriteString("# Library Check Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.LibraryPath != "" {
		md.WriteString(fmt.Sprintf("**Library:** `%s`\n\n", report.LibraryPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Books Checked | %d |\n", report.BooksChecked))
	md.WriteString(fmt.Sprintf("| Formats OK | %d |\n", report.FormatsOK))
	md.WriteString(fmt.Sprintf("| Library Size | %s |\n", humanize.Bytes(uint64(report.TotalBytes))))
	if report.TrashEntries > 0 {
		md.WriteString(fmt.Sprintf("| Trash | %d entries, %s |\n", report.TrashEntries, humanize.Bytes(uint64(report.TrashBytes))))
	}
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("| Check Time | %s |\n", report.Duration.Round(time.Millisecond)))
	}
	md.WriteString(fmt.Sprintf("| Problems | %d |\n", report.Problems()))
	md.WriteString("\n")

	writeProblems(&md, "Missing Book Directories", report.MissingDirs)
	writeProblems(&md, "Missing Format Files", report.MissingFormats)
	writeProblems(&md, "Unknown Files in Book Directories", report.ExtraFiles)
	writeProblems(&md, "Stale Book Paths", report.StalePaths)

	if len(report.ExtraDirs) > 0 {
		md.WriteString("## Unknown Directories\n\n")
		for _, d := range report.ExtraDirs {
			md.WriteString(fmt.Sprintf("- `%s`\n", truncatePath(d, 80)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	if report.Healthy() {
		md.WriteString("*No problems found.*\n")
	} else {
		md.WriteString("*Run `shelf rebuild-paths` to fix stale paths.*\n")
	}
	return md.String()
}

func writeProblems(md *strings.Builder, title string, problems []BookProblem) {
	if len(problems) == 0 {
		return
	}
	md.WriteString(fmt.Sprintf("## %s\n\n", title))
	md.WriteString("| Book | Path | Detail |\n")
	md.WriteString("|------|------|--------|\n")
	for _, p := range problems {
		md.WriteString(fmt.Sprintf("| %d | `%s` | %s |\n", p.BookID, truncatePath(p.Path, 60), p.Detail))
	}
	md.WriteString("\n")
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
