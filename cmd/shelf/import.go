package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/library"
	"github.com/franz/shelfdb/internal/scan"
	"github.com/franz/shelfdb/internal/util"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Add every e-book found under a directory",
	Long: `Walk a directory and add the e-books it contains. Files in the same folder
that share a name become formats of one book. Names of the form
"Title - Author" set both fields. Files whose content is already stored in
the library are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dry-run", false, "only list what would be added")
	importCmd.Flags().Int("workers", 0, "files hashed in parallel (default from scan.workers)")
	importCmd.Flags().StringSlice("ext", nil, "extra file extensions to pick up")
}

// storedHashes returns the content hashes of every format in the library
func storedHashes(lib *library.Library) map[string]bool {
	hashes := make(map[string]bool)
	for _, id := range lib.BookIDs() {
		for _, format := range lib.Formats(id) {
			h, err := lib.FormatHash(id, format)
			if err != nil {
				util.DebugLog("Skipping hash of book %d %s: %v", id, format, err)
				continue
			}
			hashes[h] = true
		}
	}
	return hashes
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	workers, _ := cmd.Flags().GetInt("workers")
	exts, _ := cmd.Flags().GetStringSlice("ext")
	if workers <= 0 {
		workers = GetConfigInt("scan.workers", 4)
	}

	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	known := storedHashes(lib)
	scanner := scan.New(&scan.Config{
		AdditionalExts: exts,
		Concurrency:    workers,
		Known:          func(h string) bool { return known[h] },
		Retry:          lib.FSSettings().Retry,
		Logger:         lib.Events(),
	})
	result, err := scanner.Scan(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dryRun {
		for _, c := range result.Books {
			var size int64
			for _, f := range c.Files {
				size += f.Size
			}
			fmt.Fprintf(out, "%s\t%s\t%d format(s)\t%s\n", c.Title, filepath.Base(c.Dir), len(c.Files), humanize.Bytes(uint64(size)))
		}
		return nil
	}

	added := 0
	for _, c := range result.Books {
		if ctx.Err() != nil {
			util.WarnLog("Interrupted after %d book(s)", added)
			break
		}
		id, err := lib.CreateBookEntry(&library.Metadata{Title: c.Title, Authors: c.Authors})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", c.Title, err)
		}
		for _, f := range c.Files {
			if err := addFormatFile(lib, id, f.Format, f.Path, false); err != nil {
				util.ErrorLog("%v", err)
			}
		}
		fmt.Fprintln(out, id)
		added++
	}
	util.SuccessLog("Imported %d book(s)", added)
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d file(s) could not be read", len(result.Errors))
	}
	return nil
}
