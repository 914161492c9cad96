package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the database with the files on disk",
	Long: `Check the library for book directories and format files that are missing,
files and directories no book owns, and books whose folder no longer matches
their title and author. Nothing is changed; run rebuild-paths to fix stale
paths.`,
	RunE: runCheck,
}

var rebuildPathsCmd = &cobra.Command{
	Use:   "rebuild-paths",
	Short: "Move every book to the folder its title and author dictate",
	RunE:  runRebuildPaths,
}

var moveLibraryCmd = &cobra.Command{
	Use:   "move-library <new-root>",
	Short: "Move the whole library to a new directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMoveLibrary,
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Check and compact metadata.db",
	RunE:  runVacuum,
}

func init() {
	rootCmd.AddCommand(checkCmd, rebuildPathsCmd, moveLibraryCmd, vacuumCmd)

	checkCmd.Flags().StringP("report", "o", "", "also write a Markdown report to this file")
	vacuumCmd.Flags().Bool("skip-integrity", false, "skip the integrity check")
}

// interruptible returns an abort callback that turns true on Ctrl-C
func interruptible() (func() bool, func()) {
	var stop atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		if _, ok := <-sig; ok {
			util.WarnLog("Interrupted, stopping after the current book")
			stop.Store(true)
		}
	}()
	return stop.Load, func() {
		signal.Stop(sig)
		close(sig)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	reportPath, _ := cmd.Flags().GetString("report")
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	r, err := lib.CheckLibrary()
	if err != nil {
		return err
	}
	util.InfoLog("Books: %d, formats: %d, size: %s", r.BooksChecked, r.FormatsOK, humanize.Bytes(uint64(r.TotalBytes)))
	if r.TrashEntries > 0 {
		util.InfoLog("Trash: %d entries, %s", r.TrashEntries, humanize.Bytes(uint64(r.TrashBytes)))
	}
	printProblems("Missing directory", r.MissingDirs)
	printProblems("Missing format", r.MissingFormats)
	printProblems("Unknown file", r.ExtraFiles)
	printProblems("Stale path", r.StalePaths)
	for _, d := range r.ExtraDirs {
		util.WarnLog("Unknown directory: %s", d)
	}

	if reportPath != "" {
		if err := report.WriteMarkdownReport(r, reportPath); err != nil {
			return err
		}
		util.SuccessLog("Report saved to: %s", reportPath)
	}
	if !r.Healthy() {
		return fmt.Errorf("%d problem(s) found", r.Problems())
	}
	return nil
}

func printProblems(label string, problems []report.BookProblem) {
	for _, p := range problems {
		util.WarnLog("%s: book %d (%s) %s", label, p.BookID, p.Path, p.Detail)
	}
}

func runRebuildPaths(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	abort, release := interruptible()
	defer release()
	progress, finish := newProgress("Rebuilding")
	n, err := lib.RebuildPaths(progress, abort)
	finish()
	if err != nil {
		return err
	}
	util.SuccessLog("Moved %d book(s)", n)
	return nil
}

func runMoveLibrary(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	abort, release := interruptible()
	defer release()
	progress, finish := newProgress("Moving")
	start := time.Now()
	err = lib.MoveLibraryTo(args[0], progress, abort)
	finish()
	if err != nil {
		return err
	}
	util.SuccessLog("Library moved to %s in %v", args[0], time.Since(start).Round(time.Millisecond))
	return nil
}

func runVacuum(cmd *cobra.Command, args []string) error {
	skip, _ := cmd.Flags().GetBool("skip-integrity")
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	util.DebugLog("SQLite %s", store.SQLiteVersion())
	if !skip {
		if err := lib.CheckIntegrity(); err != nil {
			return err
		}
		util.InfoLog("Integrity check passed")
	}
	dbPath := filepath.Join(lib.Root(), store.DBName)
	before := fileSize(dbPath)
	if err := lib.Vacuum(); err != nil {
		return err
	}
	util.SuccessLog("Vacuumed metadata.db: %s -> %s", humanize.Bytes(uint64(before)), humanize.Bytes(uint64(fileSize(dbPath))))
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
