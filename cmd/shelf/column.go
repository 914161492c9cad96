package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/util"
)

var columnCmd = &cobra.Command{
	Use:   "column",
	Short: "Manage custom columns",
}

var columnAddCmd = &cobra.Command{
	Use:   "add <label> <name> <datatype>",
	Short: "Create a custom column",
	Long: `Create a custom column. datatype is one of text, comments, series,
enumeration, int, float, rating, datetime, bool or composite.

Example:
  shelf column add genre Genre text --multiple
  shelf column add summary Summary composite --template "{title} ({authors})"`,
	Args: cobra.ExactArgs(3),
	RunE: runColumnAdd,
}

var columnDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Delete a custom column",
	Args:  cobra.ExactArgs(1),
	RunE:  runColumnDelete,
}

var columnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom columns",
	RunE:  runColumnList,
}

func init() {
	rootCmd.AddCommand(columnCmd)
	columnCmd.AddCommand(columnAddCmd, columnDeleteCmd, columnListCmd)

	columnAddCmd.Flags().Bool("multiple", false, "allow several values per book (text only)")
	columnAddCmd.Flags().Bool("read-only", false, "mark the column as not editable")
	columnAddCmd.Flags().String("template", "", "template of a composite column")
	columnAddCmd.Flags().String("display", "", "display settings as a JSON object")
}

func runColumnAdd(cmd *cobra.Command, args []string) error {
	multiple, _ := cmd.Flags().GetBool("multiple")
	readOnly, _ := cmd.Flags().GetBool("read-only")
	template, _ := cmd.Flags().GetString("template")
	raw, _ := cmd.Flags().GetString("display")

	display := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &display); err != nil {
			return fmt.Errorf("invalid --display: %w", err)
		}
	}
	if template != "" {
		display["composite_template"] = template
	}

	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	col, err := lib.CreateCustomColumn(args[0], args[1], args[2], multiple, !readOnly, display)
	if err != nil {
		return err
	}
	util.SuccessLog("Created column %s (%s)", col.Key(), col.Datatype.Name())
	return nil
}

func runColumnDelete(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()
	return lib.DeleteCustomColumn(args[0])
}

func runColumnList(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	cols := lib.CustomColumns()
	if len(cols) == 0 {
		util.InfoLog("No custom columns")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tNAME\tTYPE\tMULTIPLE\tEDITABLE")
	for _, c := range cols {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%v\n", c.ID, c.Key(), c.Name, c.Datatype.Name(), c.IsMultiple, c.IsEditable)
	}
	return w.Flush()
}
