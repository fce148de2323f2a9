package cli

import (
	"errors"
	"fmt"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <component> <milestone> <value>",
	Short: "Queue a milestone update",
	Long: `Records a milestone update in the offline queue. The update is sent on the
next sync; nothing is contacted now.

The value is true or false for discrete milestones, or a percent (0-100) for
partial ones. Setting a milestone that already has a queued update replaces
the queued value.

Examples:
  fieldsync set SP-1042 Erect true
  fieldsync set TP-77 Install 60
  fieldsync set FW-311 "Weld Made" done`,
	Args: cobra.ExactArgs(3),
	RunE: appctx.WithApp(appctx.WithActor(), runSet),
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(app *appctx.App, cmd *cobra.Command, args []string) error {
	value, err := domain.ParseValue(args[2])
	if err != nil {
		return exitError(ExitUsage, err)
	}

	stored, err := app.Queue.Enqueue(cmd.Context(), domain.QueuedUpdate{
		TargetID:      args[0],
		MilestoneName: args[1],
		Value:         value,
		ActorID:       app.Actor,
	})
	if err != nil {
		if domain.IsQueueFull(err) {
			return exitError(ExitGeneral, fmt.Errorf("%w; run 'fieldsync sync' when the gateway is reachable", err))
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return exitError(ExitUsage, err)
		}
		return err
	}

	pending, err := app.Queue.Len(cmd.Context())
	if err != nil {
		return err
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	if r.Format() == render.FormatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s = %s (%d pending)\n",
			stored.TargetID, stored.MilestoneName, stored.Value, pending)
		return nil
	}
	return r.Render(stored, render.UpdateHeaders, render.UpdateRows([]domain.QueuedUpdate{stored}))
}
