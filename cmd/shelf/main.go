package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/shelfdb/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "shelf",
		Short: "Shelf - manage an e-book library",
		Long: `shelf reads and edits an e-book library: a directory holding metadata.db
and one folder per book. Books, formats, custom columns and preferences are
stored in the same layout other library tools expect, so a library can be
shared between them.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetLogOutput(cmd.ErrOrStderr())
			if viper.GetBool("no-color") {
				util.SetColors(false)
			}
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./shelf.yaml)")
	rootCmd.PersistentFlags().StringP("library", "l", ".", "library directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().String("events-dir", "", "write a JSONL audit log of changes to this directory")
	rootCmd.PersistentFlags().Bool("trash-queue", false, "move deleted files to the trash through the background queue")

	// Bind flags to viper
	viper.BindPFlag("library", rootCmd.PersistentFlags().Lookup("library"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("events-dir", rootCmd.PersistentFlags().Lookup("events-dir"))
	viper.BindPFlag("trash.queue", rootCmd.PersistentFlags().Lookup("trash-queue"))

	viper.SetDefault("trash.retention-days", 14)
	viper.SetDefault("trash.expire-schedule", "@hourly")
	viper.SetDefault("trash.workers", 2)
	viper.SetDefault("ui.separator", ",")
	viper.SetDefault("fs.use-hardlinks", true)
	viper.SetDefault("scan.workers", 4)
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + string(os.PathSeparator) + "shelf")
		}
		viper.SetConfigName("shelf")
		viper.SetConfigType("yaml")
	}

	// SHELF_TRASH_RETENTION_DAYS and friends
	viper.SetEnvPrefix("SHELF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
