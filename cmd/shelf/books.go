package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/library"
	"github.com/franz/shelfdb/internal/util"
)

var addCmd = &cobra.Command{
	Use:   "add [files...]",
	Short: "Add a book, optionally with format files",
	Long: `Create a book from the given metadata and store each file as one of its
formats. The format is taken from the file extension. Without --title the
name of the first file is used.`,
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List books",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show every field of a book",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var setCmd = &cobra.Command{
	Use:   "set <ids> field=value...",
	Short: "Set fields of one or more books",
	Long: `Set fields of books. ids may be a list such as 1,4-6. An empty value
clears the field. Multi-valued fields take a separated list: authors are
separated by "&", tags and multi-valued custom columns by the configured
separator.

Example:
  shelf set 3 title="The Hobbit" authors="J. R. R. Tolkien" tags="fantasy, classic"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSet,
}

var removeCmd = &cobra.Command{
	Use:   "remove <ids>",
	Short: "Remove books, moving their files to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a book, or one of its formats, from the trash",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.AddCommand(addCmd, listCmd, showCmd, setCmd, removeCmd, restoreCmd)

	addCmd.Flags().String("title", "", "book title")
	addCmd.Flags().String("authors", "", `authors, separated by "&"`)
	addCmd.Flags().String("tags", "", "tags")
	addCmd.Flags().String("series", "", "series name")
	addCmd.Flags().Float64("series-index", 1, "position in the series")
	addCmd.Flags().String("publisher", "", "publisher")
	addCmd.Flags().String("languages", "", "language codes")
	addCmd.Flags().String("identifiers", "", "identifiers as type:value pairs")

	listCmd.Flags().StringP("fields", "f", "id,title,authors", "comma separated fields to show")
	listCmd.Flags().Bool("json", false, "print full metadata as JSON")

	showCmd.Flags().Bool("json", false, "print metadata as JSON")

	removeCmd.Flags().Bool("permanent", false, "delete files instead of moving them to the trash")

	restoreCmd.Flags().String("format", "", "restore only this format")
}

func runAdd(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	title, _ := cmd.Flags().GetString("title")
	if title == "" && len(args) > 0 {
		base := filepath.Base(args[0])
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	authors, _ := cmd.Flags().GetString("authors")
	tags, _ := cmd.Flags().GetString("tags")
	series, _ := cmd.Flags().GetString("series")
	index, _ := cmd.Flags().GetFloat64("series-index")
	publisher, _ := cmd.Flags().GetString("publisher")
	languages, _ := cmd.Flags().GetString("languages")
	identifiers, _ := cmd.Flags().GetString("identifiers")

	mi := &library.Metadata{
		Title:       title,
		Series:      series,
		SeriesIndex: index,
		Publisher:   publisher,
	}
	for _, a := range strings.Split(authors, "&") {
		if a = strings.TrimSpace(a); a != "" {
			mi.Authors = append(mi.Authors, a)
		}
	}
	mi.Tags = splitList(tags, GetConfigString("ui.separator", ","))
	mi.Languages = splitList(languages, ",")
	if identifiers != "" {
		mi.Identifiers = make(map[string]string)
		for _, pair := range strings.Split(identifiers, ",") {
			if typ, val, ok := strings.Cut(pair, ":"); ok {
				mi.Identifiers[strings.TrimSpace(typ)] = strings.TrimSpace(val)
			}
		}
	}

	id, err := lib.CreateBookEntry(mi)
	if err != nil {
		return fmt.Errorf("failed to add book: %w", err)
	}
	for _, path := range args {
		format := strings.TrimPrefix(filepath.Ext(path), ".")
		if err := addFormatFile(lib, id, format, path, false); err != nil {
			return err
		}
	}
	util.SuccessLog("Added book %d", id)
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func addFormatFile(lib *library.Library, id int64, format, path string, replace bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	added, err := lib.AddFormat(id, format, f, replace)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", path, err)
	}
	if !added {
		util.WarnLog("Book %d already has %s, use --replace to overwrite", id, strings.ToUpper(format))
		return nil
	}
	util.InfoLog("Added %s to book %d", strings.ToUpper(format), id)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		var books []*library.Metadata
		for _, id := range lib.BookIDs() {
			mi, err := lib.Book(id)
			if err != nil {
				return err
			}
			books = append(books, mi)
		}
		return writeJSON(out, books)
	}

	spec, _ := cmd.Flags().GetString("fields")
	fields := splitList(spec, ",")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(fields, "\t")))
	for _, id := range lib.BookIDs() {
		row := make([]string, len(fields))
		for i, f := range fields {
			if f == "id" {
				row[i] = fmt.Sprint(id)
				continue
			}
			s, err := lib.FieldString(id, f)
			if err != nil {
				return err
			}
			row[i] = s
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runShow(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	mi, err := lib.Book(ids[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, mi)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s:\t%s\n", label, value)
		}
	}
	line("ID", fmt.Sprint(mi.ID))
	line("Title", mi.Title)
	line("Title sort", mi.Sort)
	line("Authors", strings.Join(mi.Authors, " & "))
	line("Author sort", mi.AuthorSort)
	if mi.Series != "" {
		line("Series", fmt.Sprintf("%s [%g]", mi.Series, mi.SeriesIndex))
	}
	line("Publisher", mi.Publisher)
	if mi.Rating > 0 {
		line("Rating", fmt.Sprintf("%g stars", float64(mi.Rating)/2))
	}
	line("Tags", strings.Join(mi.Tags, ", "))
	line("Languages", strings.Join(mi.Languages, ", "))
	if s, err := lib.FieldString(mi.ID, "identifiers"); err == nil {
		line("Identifiers", s)
	}
	line("Added", humanTime(mi.Timestamp))
	line("Published", dateOnly(mi.Pubdate))
	line("Modified", humanTime(mi.LastModified))
	line("UUID", mi.UUID)
	line("Path", mi.Path)
	if mi.HasCover {
		line("Cover", "yes")
	}
	for _, f := range slices.Sorted(maps.Keys(mi.Formats)) {
		fe := mi.Formats[f]
		line("Format "+f, fmt.Sprintf("%s (%s)", fe.Name, humanize.Bytes(uint64(fe.Size))))
	}
	for _, key := range slices.Sorted(maps.Keys(mi.Custom)) {
		s, err := lib.FieldString(mi.ID, key)
		if err != nil {
			s = fmt.Sprint(mi.Custom[key])
		}
		line(key, s)
	}
	line("Comments", mi.Comments)
	return w.Flush()
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.Time(t))
}

func dateOnly(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// parseAssignment splits field=value. An empty value clears the field.
func parseAssignment(arg string) (string, any, error) {
	key, val, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("expected field=value, got %q", arg)
	}
	if strings.TrimSpace(val) == "" {
		return key, nil, nil
	}
	return key, val, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	type assignment struct {
		key string
		val any
	}
	var sets []assignment
	for _, arg := range args[1:] {
		key, val, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		sets = append(sets, assignment{key, val})
	}

	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	for _, s := range sets {
		values := make(map[int64]any, len(ids))
		for _, id := range ids {
			values[id] = s.val
		}
		changed, err := lib.SetFields(s.key, values)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", s.key, err)
		}
		util.InfoLog("%s: %d book(s) changed", s.key, len(changed))
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	permanent, _ := cmd.Flags().GetBool("permanent")
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	if err := lib.RemoveBooks(ids, permanent); err != nil {
		return err
	}
	if permanent {
		util.SuccessLog("Deleted %d book(s)", len(ids))
	} else {
		util.SuccessLog("Moved %d book(s) to the trash", len(ids))
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	if format != "" {
		if err := lib.RestoreFormat(ids[0], format); err != nil {
			return err
		}
		util.SuccessLog("Restored %s of book %d", strings.ToUpper(format), ids[0])
		return nil
	}
	if err := lib.RestoreBook(ids[0]); err != nil {
		return err
	}
	util.SuccessLog("Restored book %d", ids[0])
	return nil
}
