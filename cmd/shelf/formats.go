package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/util"
)

var addFormatCmd = &cobra.Command{
	Use:   "add-format <id> <file>",
	Short: "Store a file as a format of a book",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddFormat,
}

var removeFormatCmd = &cobra.Command{
	Use:   "remove-format <ids> <format>...",
	Short: "Remove formats from books",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRemoveFormat,
}

func init() {
	rootCmd.AddCommand(addFormatCmd, removeFormatCmd)

	addFormatCmd.Flags().String("format", "", "format name (default: the file extension)")
	addFormatCmd.Flags().Bool("replace", false, "overwrite an existing format")

	removeFormatCmd.Flags().Bool("permanent", false, "delete files instead of moving them to the trash")
}

func runAddFormat(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(args[1]), ".")
	}
	replace, _ := cmd.Flags().GetBool("replace")

	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()
	return addFormatFile(lib, ids[0], format, args[1], replace)
}

func runRemoveFormat(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	permanent, _ := cmd.Flags().GetBool("permanent")
	formats := args[1:]

	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	req := make(map[int64][]string, len(ids))
	for _, id := range ids {
		req[id] = formats
	}
	if err := lib.RemoveFormats(req, permanent); err != nil {
		return err
	}
	util.SuccessLog("Removed %s from %d book(s)", strings.ToUpper(strings.Join(formats, ", ")), len(ids))
	return nil
}
