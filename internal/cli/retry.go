package cli

import (
	"context"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resend failed updates",
	Long: `Moves the updates that exhausted their retries back into the queue with a
fresh retry budget, clears the error status, and runs a sync.

A failed update is dropped if a newer update for the same milestone is
already queued. When the gateway is unreachable the updates stay queued for
the next sync.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithQueue(), runRetry),
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

func runRetry(app *appctx.App, cmd *cobra.Command, args []string) error {
	return runCycle(app, cmd, func(ctx context.Context, o *syncer.Orchestrator) (syncer.Result, error) {
		return o.Retry(ctx)
	})
}
