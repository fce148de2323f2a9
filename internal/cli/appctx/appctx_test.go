package appctx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().String("as", "", "Actor")
	cmd.Flags().String("output", "", "Output format")
	return cmd
}

func migratedDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	require.NoError(t, database.Close())
	return dbPath
}

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FIELDSYNC_ACTOR", "")
	t.Setenv("FIELDSYNC_DB_PATH", "")
	t.Setenv("FIELDSYNC_OUTPUT", "")
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	app, err := Bootstrap(newTestCmd(), Options{})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Logger)
	assert.Nil(t, app.DB, "DB should be nil when NeedsDB is false")
	assert.Nil(t, app.Queue)
	assert.Empty(t, app.Actor)
}

func TestBootstrap_WithDB(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", migratedDB(t))

	app, err := Bootstrap(newTestCmd(), DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.DB)
	assert.Nil(t, app.Queue)
}

func TestBootstrap_DBFlagOverride(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", filepath.Join(t.TempDir(), "env.db"))
	flagPath := migratedDB(t)

	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("db", flagPath))

	app, err := Bootstrap(cmd, DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, flagPath, app.Config.DBPath)
}

func TestBootstrap_OutputFlagOverride(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("output", "json"))

	app, err := Bootstrap(cmd, Options{})
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "json", app.Config.Output)
}

func TestBootstrap_PendingMigrations(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", filepath.Join(t.TempDir(), "fresh.db"))

	_, err := Bootstrap(newTestCmd(), DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fieldsyncadm migrate")
}

func TestBootstrap_QueueSharedBetweenApps(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", migratedDB(t))
	ctx := context.Background()

	first, err := Bootstrap(newTestCmd(), WithQueue())
	require.NoError(t, err)
	defer first.Close()
	second, err := Bootstrap(newTestCmd(), WithQueue())
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Queue.Enqueue(ctx, domain.QueuedUpdate{TargetID: "SP-1", MilestoneName: "Erect", Value: domain.BoolValue(true), ActorID: "fitter"})
	require.NoError(t, err)
	_, err = second.Queue.Enqueue(ctx, domain.QueuedUpdate{TargetID: "SP-1", MilestoneName: "Connect", Value: domain.BoolValue(true), ActorID: "fitter"})
	require.NoError(t, err)

	pending, err := first.Queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Erect", pending[0].MilestoneName)
	assert.Equal(t, "Connect", pending[1].MilestoneName)
}

func TestBootstrap_Actor(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", migratedDB(t))
	t.Setenv("FIELDSYNC_ACTOR", "fitter-7")

	app, err := Bootstrap(newTestCmd(), WithActor())
	require.NoError(t, err)
	assert.Equal(t, "fitter-7", app.Actor)
	app.Close()

	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("as", "foreman-2"))
	app, err = Bootstrap(cmd, WithActor())
	require.NoError(t, err)
	assert.Equal(t, "foreman-2", app.Actor)
	app.Close()
}

func TestBootstrap_NoActor(t *testing.T) {
	isolateConfig(t)
	t.Setenv("FIELDSYNC_DB_PATH", migratedDB(t))
	t.Setenv("USER", "")

	_, err := Bootstrap(newTestCmd(), WithActor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no actor configured")
}
