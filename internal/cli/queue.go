package cli

import (
	"fmt"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued milestone updates",
	Long: `Lists the updates waiting in the offline queue, oldest first.

With --failed, lists the updates that exhausted their retries instead. Use
'fieldsync retry' to send them again.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithQueue(), runQueue),
}

var (
	queueFailed bool
	queueJSON   bool
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.Flags().BoolVar(&queueFailed, "failed", false, "List failed updates instead of pending ones")
	queueCmd.Flags().BoolVar(&queueJSON, "json", false, "Output as JSON (same as --output json)")
}

func runQueue(app *appctx.App, cmd *cobra.Command, args []string) error {
	if queueJSON {
		app.Config.Output = string(render.FormatJSON)
	}
	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}

	var updates []domain.QueuedUpdate
	if queueFailed {
		updates, err = app.Queue.Failed(cmd.Context())
	} else {
		updates, err = app.Queue.Pending(cmd.Context())
	}
	if err != nil {
		return err
	}

	if len(updates) == 0 && r.Format() == render.FormatTable {
		if queueFailed {
			fmt.Fprintln(cmd.OutOrStdout(), "No failed updates.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending updates.")
		}
		return nil
	}
	return r.Render(updates, render.UpdateHeaders, render.UpdateRows(updates))
}
