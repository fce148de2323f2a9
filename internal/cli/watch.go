package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync automatically whenever the gateway is reachable",
	Long: `Runs until interrupted. The gateway is probed every probe interval
(FIELDSYNC_PROBE_INTERVAL, default 15s); when it becomes reachable the queue is
synced. While connected, updates queued by 'fieldsync set' in another shell are
sent on the next probe tick.

After a sync ends with failed updates, automatic syncing stops until
'fieldsync retry' is run.

Examples:
  fieldsync watch
  fieldsync watch --metrics-addr 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.WithQueue(), runWatch),
}

var watchMetricsAddr string

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}

func runWatch(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := syncer.NewMetrics(reg)

	if watchMetricsAddr != "" {
		srv := &http.Server{
			Addr:              watchMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.Logger.Error("metrics server stopped", "addr", watchMetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		app.Logger.Info("serving metrics", "addr", watchMetricsAddr)
	}

	client := newGatewayClient(app)
	o := newOrchestrator(app, client,
		syncer.WithMetrics(metrics),
		syncer.WithInitialOnline(false),
		syncer.WithAuthRequired(func() {
			fmt.Fprintln(cmd.ErrOrStderr(), "The gateway rejected your credentials. Pending updates were discarded; sign in again.")
		}),
	)

	monitor := syncer.NewMonitor(client, app.Config.ProbeInterval, syncer.MonitorLogger(app.Logger))
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (probe every %s). Press Ctrl-C to stop.\n",
		app.Config.GatewayURL, app.Config.ProbeInterval)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		drainOnTick(watchCtx, app, o)
	}()

	err := o.Watch(watchCtx, monitor.Run(watchCtx))
	// no Trigger may start once Wait begins
	cancel()
	<-drained
	o.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// drainOnTick triggers a cycle every probe interval while updates are queued,
// so updates enqueued by other processes go out without a connectivity change.
func drainOnTick(ctx context.Context, app *appctx.App, o *syncer.Orchestrator) {
	ticker := time.NewTicker(app.Config.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.Queue.Len(ctx)
			if err != nil {
				app.Logger.Warn("failed to read queue", "error", err)
				continue
			}
			if n > 0 {
				o.Trigger(ctx)
			}
		}
	}
}
