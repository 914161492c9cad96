package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/franz/shelfdb/internal/prefs"
	"github.com/franz/shelfdb/internal/util"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write library preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one preference, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Store a preference; the value is parsed as JSON, falling back to a plain string",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrefsSet,
}

var prefsBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write " + prefs.BackupName + " next to metadata.db",
	RunE:  runPrefsBackup,
}

var prefsRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load preferences from " + prefs.BackupName,
	RunE:  runPrefsRestore,
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsBackupCmd, prefsRestoreCmd)
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if !lib.Prefs().Has(args[0]) {
			return fmt.Errorf("preference %q: %w", args[0], util.ErrNotFound)
		}
		return writeJSON(out, lib.Prefs().Get(args[0]))
	}
	snap := lib.Prefs().Snapshot()
	for _, key := range slices.Sorted(maps.Keys(snap)) {
		raw, err := json.Marshal(snap[key])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s = %s\n", key, raw)
	}
	return nil
}

// parsePrefValue reads JSON, treating anything unparsable as a string
func parsePrefValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()
	return lib.Prefs().Set(args[0], parsePrefValue(args[1]))
}

func runPrefsBackup(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	if err := lib.Prefs().WriteSerialized(lib.Root()); err != nil {
		return err
	}
	util.SuccessLog("Preferences written to %s", prefs.BackupName)
	return nil
}

func runPrefsRestore(cmd *cobra.Command, args []string) error {
	lib, done, err := openLibrary()
	if err != nil {
		return err
	}
	defer done()

	values, err := prefs.ReadSerialized(lib.Root())
	if err != nil {
		return err
	}
	if err := lib.Prefs().SetMany(values); err != nil {
		return err
	}
	util.SuccessLog("Restored %d preferences", len(values))
	return nil
}
