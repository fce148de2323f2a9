package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Shows the sync status recorded in the offline queue, the time of the last
sync attempt, and how many updates are pending or failed.

A status of "error" means some updates exhausted their retries; run
'fieldsync retry' to send them again.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithQueue(), runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the machine-readable form of fieldsync status
type statusReport struct {
	Status          domain.SyncStatus `json:"status" yaml:"status"`
	LastSyncAttempt *time.Time        `json:"last_sync_attempt,omitempty" yaml:"last_sync_attempt,omitempty"`
	Pending         int               `json:"pending" yaml:"pending"`
	Failed          int               `json:"failed" yaml:"failed"`
	Capacity        int               `json:"capacity" yaml:"capacity"`
	GatewayURL      string            `json:"gateway_url" yaml:"gateway_url"`
}

func runStatus(app *appctx.App, cmd *cobra.Command, args []string) error {
	snap, err := app.Queue.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	report := statusReport{
		Status:          snap.SyncStatus,
		LastSyncAttempt: snap.LastSyncAttempt,
		Pending:         len(snap.Updates),
		Failed:          len(snap.FailedUpdates),
		Capacity:        app.Queue.Capacity(),
		GatewayURL:      app.Config.GatewayURL,
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	if r.Format() != render.FormatTable {
		last := "-"
		if report.LastSyncAttempt != nil {
			last = render.Timestamp(*report.LastSyncAttempt)
		}
		return r.Render(report,
			[]string{"STATUS", "LAST ATTEMPT", "PENDING", "FAILED"},
			[][]string{{string(report.Status), last, strconv.Itoa(report.Pending), strconv.Itoa(report.Failed)}})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:       %s\n", report.Status)
	if report.LastSyncAttempt != nil {
		fmt.Fprintf(out, "Last attempt: %s\n", render.Timestamp(*report.LastSyncAttempt))
	} else {
		fmt.Fprintln(out, "Last attempt: never")
	}
	fmt.Fprintf(out, "Pending:      %d/%d\n", report.Pending, report.Capacity)
	fmt.Fprintf(out, "Failed:       %d\n", report.Failed)
	fmt.Fprintf(out, "Gateway:      %s\n", report.GatewayURL)
	if report.Status == domain.SyncStatusError {
		fmt.Fprintln(out, "\nSome updates failed. Run 'fieldsync retry' to send them again.")
	}
	return nil
}
