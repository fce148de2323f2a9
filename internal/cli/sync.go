package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued updates to the gateway",
	Long: `Probes the gateway and, when it is reachable, sends every queued update in
order. A failing update is retried after 3s and 9s before it is set aside as
failed; the remaining updates are still sent.

Updates the server rejects as conflicting are discarded: the server's value
wins. If the gateway rejects our credentials, the whole queue is discarded and
you must sign in again.

Exit codes: 3 when re-authentication is required, 4 when the gateway is
unreachable.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithQueue(), runSync),
}

// syncBaseDelay is the backoff base; retries wait base*3^n
var syncBaseDelay = syncer.DefaultBaseDelay

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(app *appctx.App, cmd *cobra.Command, args []string) error {
	return runCycle(app, cmd, func(ctx context.Context, o *syncer.Orchestrator) (syncer.Result, error) {
		return o.Sync(ctx)
	})
}

// runCycle probes the gateway, builds an orchestrator and runs one cycle with fn
func runCycle(app *appctx.App, cmd *cobra.Command, fn func(context.Context, *syncer.Orchestrator) (syncer.Result, error)) error {
	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := newGatewayClient(app)
	online := probe(ctx, app, client)

	opts := []syncer.Option{
		syncer.WithInitialOnline(online),
		syncer.WithBaseDelay(syncBaseDelay),
		syncer.WithAuthRequired(func() {
			fmt.Fprintln(cmd.ErrOrStderr(), "The gateway rejected your credentials. Pending updates were discarded; sign in again.")
		}),
	}
	if r.Format() == render.FormatTable {
		opts = append(opts, syncer.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}
	o := newOrchestrator(app, client, opts...)

	res, err := fn(ctx, o)
	if err != nil {
		return syncExitError(err)
	}
	return renderResult(r, cmd.OutOrStdout(), res)
}

// probe reports whether the gateway is reachable. An auth rejection counts
// as reachable so the cycle can surface it.
func probe(ctx context.Context, app *appctx.App, client *gateway.Client) bool {
	err := client.Health(ctx)
	if err == nil || domain.IsAuth(err) {
		return true
	}
	app.Logger.Debug("gateway probe failed", "url", app.Config.GatewayURL, "error", err)
	return false
}

func progressPrinter(w io.Writer) func(syncer.Progress) {
	return func(p syncer.Progress) {
		if p.Total == 0 {
			return
		}
		fmt.Fprintf(w, "[%d/%d] %s\n", p.Processed, p.Total, p.Status)
	}
}

var resultHeaders = []string{"STATUS", "PROCESSED", "SUCCEEDED", "CONFLICTS", "FAILED", "DEFERRED"}

func renderResult(r *render.Renderer, out io.Writer, res syncer.Result) error {
	if r.Format() != render.FormatTable {
		return r.Render(res, resultHeaders, [][]string{{
			string(res.Status),
			strconv.Itoa(res.Processed),
			strconv.Itoa(res.Succeeded),
			strconv.Itoa(res.Conflicts),
			strconv.Itoa(res.Failed),
			strconv.Itoa(res.Deferred),
		}})
	}

	switch {
	case res.Skipped:
		fmt.Fprintln(out, "A sync is already running.")
		return nil
	case res.Processed == 0 && !res.Paused:
		fmt.Fprintln(out, "Nothing to sync.")
		return nil
	}
	fmt.Fprintf(out, "Synced %d update(s): %d applied, %d conflict(s) discarded, %d failed\n",
		res.Processed, res.Succeeded, res.Conflicts, res.Failed)
	if res.Deferred > 0 {
		fmt.Fprintf(out, "%d update(s) left queued for the next sync\n", res.Deferred)
	}
	if res.Paused {
		fmt.Fprintln(out, "Connection lost; remaining updates stay queued.")
	}
	if res.Failed > 0 {
		fmt.Fprintln(out, "Run 'fieldsync queue --failed' to inspect failures and 'fieldsync retry' to resend them.")
	}
	return nil
}
