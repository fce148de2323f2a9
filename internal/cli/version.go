package cli

import (
	"encoding/json"
	"fmt"

	"github.com/lherron/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Displays version, commit, and build date information.`,
	RunE:  runVersion,
}

var versionJSON bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output as JSON")
}

// versionInfo describes a binary and the queue layout it reads
func versionInfo(binary string, commands []string) map[string]interface{} {
	return map[string]interface{}{
		"binary":             binary,
		"version":            Version,
		"commit":             GitCommit,
		"build_date":         BuildDate,
		"queue_blob_version": queue.CurrentVersion,
		"supported_commands": commands,
		"supported_formats":  []string{"json", "yaml", "tsv", "table"},
	}
}

func printVersion(cmd *cobra.Command, binary string, asJSON bool, commands []string) error {
	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(versionInfo(binary, commands))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", binary, Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
	fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
	fmt.Fprintf(cmd.OutOrStdout(), "  queue format: v%d\n", queue.CurrentVersion)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) error {
	return printVersion(cmd, "fieldsync", versionJSON, []string{
		"set", "queue", "status", "sync", "retry", "watch",
		"percent", "diff", "doctor", "whoami", "version",
	})
}
