package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/ledger"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/lherron/fieldsync/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// testEnv is a field device wired to an in-process fieldsyncd
type testEnv struct {
	app    *appctx.App
	ledger *ledger.Ledger
	server *daemonServer
	srv    *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestEnv creates a device database and a gateway backed by a separate
// ledger database. The gateway requires token when it is non-empty; the
// device presents the same token.
func setupTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	ledgerDB, _ := testutil.TempDB(t)
	l := ledger.New(ledgerDB, milestone.DefaultRegistry())
	server, srv := newTestGateway(t, l, token)

	database, dbPath := testutil.TempDB(t)
	app := &appctx.App{
		Config: &config.Config{
			DBPath:         dbPath,
			GatewayURL:     srv.URL,
			GatewayToken:   token,
			Output:         "table",
			RequestTimeout: 5 * time.Second,
			ProbeInterval:  time.Second,
		},
		DB:     database,
		Queue:  queue.New(queue.NewSQLitePersister(database, queue.DefaultBlobKey)),
		Actor:  "tester",
		Logger: discardLogger(),
	}

	prev := syncBaseDelay
	syncBaseDelay = time.Millisecond
	t.Cleanup(func() { syncBaseDelay = prev })

	return &testEnv{app: app, ledger: l, server: server, srv: srv}
}

func newTestGateway(t *testing.T, l *ledger.Ledger, token string) (*daemonServer, *httptest.Server) {
	t.Helper()
	server := newDaemonServer(l, token, discardLogger(), prometheus.NewRegistry())
	mux := http.NewServeMux()
	server.registerRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return server, srv
}

func (e *testEnv) register(t *testing.T, id, template string) {
	t.Helper()
	_, err := e.ledger.RegisterComponent(context.Background(), "admin", ledger.RegisterParams{ID: id, DrawingID: "P-101", Template: template})
	require.NoError(t, err)
}

// newTestCmd returns a command whose stdout and stderr are captured
func newTestCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetContext(context.Background())
	return cmd, out, errOut
}

// isolateConfig keeps config.Load away from the developer's environment
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"FIELDSYNC_ACTOR", "FIELDSYNC_DB_PATH", "FIELDSYNC_OUTPUT",
		"FIELDSYNC_GATEWAY_URL", "FIELDSYNC_GATEWAY_TOKEN", "FIELDSYNC_TEMPLATES_PATH",
	} {
		t.Setenv(name, "")
	}
}
