package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/trash"
	"github.com/franz/shelfdb/internal/util"
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and clean the library trash",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed books and formats",
	RunE:  runTrashList,
}

var trashExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete trash entries older than the retention period",
	RunE:  runTrashExpire,
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Delete everything in the trash",
	RunE:  runTrashEmpty,
}

func init() {
	rootCmd.AddCommand(trashCmd)
	trashCmd.AddCommand(trashListCmd, trashExpireCmd, trashEmptyCmd)

	trashExpireCmd.Flags().Duration("older-than", 0, "override the retention period (e.g. 72h)")
}

func runTrashList(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	entries, err := lib.ListTrash()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		util.InfoLog("The trash is empty")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tBOOK\tSIZE\tMOVED\tFILES")
	var total int64
	for _, e := range entries {
		kind := "book"
		if e.Kind == trash.KindFormat {
			kind = "format"
		}
		total += e.Size
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", kind, e.BookID, humanize.Bytes(uint64(e.Size)),
			humanize.Time(e.MovedAt), len(e.Files))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	util.InfoLog("%d entries, %s", len(entries), humanize.Bytes(uint64(total)))
	return nil
}

func runTrashExpire(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	n, err := lib.ExpireTrash(olderThan)
	if err != nil {
		return err
	}
	retention := olderThan
	if retention <= 0 {
		retention = time.Duration(GetConfigInt("trash.retention-days", 14)) * 24 * time.Hour
	}
	util.SuccessLog("Expired %d trash entries older than %s", n, retention)
	return nil
}

func runTrashEmpty(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	if err := lib.EmptyTrash(); err != nil {
		return err
	}
	util.SuccessLog("Trash emptied")
	return nil
}
