package cli

import (
	"errors"
	"fmt"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitGeneral = 1
	ExitUsage   = 2
	ExitReauth  = 3
	ExitOffline = 4
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitGeneral
}

// newRenderer returns a renderer for the configured output format
func newRenderer(app *appctx.App, cmd *cobra.Command) (*render.Renderer, error) {
	format, err := render.ParseFormat(app.Config.Output)
	if err != nil {
		return nil, exitError(ExitUsage, err)
	}
	return render.NewRenderer(cmd.OutOrStdout(), format), nil
}

// newGatewayClient builds the HTTP gateway client from config
func newGatewayClient(app *appctx.App) *gateway.Client {
	return gateway.NewClient(app.Config.GatewayURL,
		gateway.WithToken(app.Config.GatewayToken),
		gateway.WithTimeout(app.Config.RequestTimeout),
	)
}

// newOrchestrator wires the app's queue to gw
func newOrchestrator(app *appctx.App, gw gateway.Gateway, opts ...syncer.Option) *syncer.Orchestrator {
	base := []syncer.Option{syncer.WithLogger(app.Logger)}
	return syncer.New(app.Queue, gw, append(base, opts...)...)
}

// syncExitError maps orchestrator errors to exit codes
func syncExitError(err error) error {
	switch {
	case errors.Is(err, syncer.ErrReauthRequired):
		return exitError(ExitReauth, err)
	case errors.Is(err, syncer.ErrRetryRequired):
		return exitError(ExitGeneral, fmt.Errorf("%w; run 'fieldsync queue --failed' to inspect them and 'fieldsync retry' to resend", err))
	case errors.Is(err, syncer.ErrOffline):
		return exitError(ExitOffline, fmt.Errorf("gateway unreachable; updates stay queued: %w", err))
	}
	return exitError(ExitGeneral, err)
}
