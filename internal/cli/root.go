package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first milestone updates for field crews",
	Long: `fieldsync records construction milestone updates on a field device and
syncs them to the milestone gateway when connectivity allows.

Updates are queued locally first, so they survive restarts and dead zones.
A later update to the same component milestone replaces the queued one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to database file (overrides FIELDSYNC_DB_PATH)")
	rootCmd.PersistentFlags().String("as", "", "Actor recorded on new updates (overrides FIELDSYNC_ACTOR)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json, yaml or tsv")
}
