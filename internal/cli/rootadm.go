package cli

import (
	"github.com/spf13/cobra"
)

var rootAdmCmd = &cobra.Command{
	Use:   "fieldsyncadm",
	Short: "Administrative CLI for the fieldsync database and milestone ledger",
	Long: `fieldsyncadm is the administrative companion to fieldsync. It handles
database lifecycle (init, migrate), component registration on the ledger
served by fieldsyncd, and milestone template checks. These operations are
not meant for field devices.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteAdmin runs the admin root command
func ExecuteAdmin() error {
	return rootAdmCmd.Execute()
}

func init() {
	rootAdmCmd.PersistentFlags().String("db", "", "Path to database file (overrides FIELDSYNC_DB_PATH)")
	rootAdmCmd.PersistentFlags().String("as", "", "Actor recorded in the audit log (overrides FIELDSYNC_ACTOR)")
	rootAdmCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json, yaml or tsv")
}
