package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/lherron/fieldsync/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminCmd(t *testing.T, dbPath string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd, out, _ := newTestCmd()
	cmd.Flags().String("db", "", "Database path")
	require.NoError(t, cmd.Flags().Set("db", dbPath))
	return cmd, out
}

func TestInitAdm(t *testing.T) {
	isolateConfig(t)
	dbPath := filepath.Join(t.TempDir(), "device", "fieldsync.db")
	initAdmLocal = false

	cmd, out := adminCmd(t, dbPath)
	require.NoError(t, runInitAdm(cmd, nil))
	assert.Contains(t, out.String(), "✓ Initialized database at "+dbPath)
	assert.Contains(t, out.String(), "queue capacity: 50 updates (failed list keeps 10)")

	cmd, out = adminCmd(t, dbPath)
	require.NoError(t, runInitAdm(cmd, nil))
	assert.Contains(t, out.String(), "✓ Database at "+dbPath+" is up to date")
}

func TestInitAdm_KeepsExistingQueue(t *testing.T) {
	isolateConfig(t)
	database, dbPath := testutil.TempDB(t)
	ctx := context.Background()

	q := queue.New(queue.NewSQLitePersister(database, queue.DefaultBlobKey))
	_, err := q.Enqueue(ctx, testutil.Update("SP-1", "Erect", domain.BoolValue(true)))
	require.NoError(t, err)

	cmd, _ := adminCmd(t, dbPath)
	require.NoError(t, runInitAdm(cmd, nil))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrateAdm(t *testing.T) {
	isolateConfig(t)
	dbPath := filepath.Join(t.TempDir(), "fieldsync.db")
	t.Cleanup(func() { migrateDryRun, migrateStatus = false, false })

	migrateDryRun = true
	cmd, out := adminCmd(t, dbPath)
	require.NoError(t, runMigrateAdm(cmd, nil))
	assert.Contains(t, out.String(), "Pending migrations (would be applied):")
	assert.Contains(t, out.String(), "000001_queue")

	migrateDryRun = false
	cmd, out = adminCmd(t, dbPath)
	require.NoError(t, runMigrateAdm(cmd, nil))
	assert.Contains(t, out.String(), "✓ Applied migration:")

	cmd, out = adminCmd(t, dbPath)
	require.NoError(t, runMigrateAdm(cmd, nil))
	assert.Contains(t, out.String(), "Database is up to date. No migrations to apply.")

	migrateStatus = true
	cmd, out = adminCmd(t, dbPath)
	require.NoError(t, runMigrateAdm(cmd, nil))
	assert.Contains(t, out.String(), "✓ 000002_ledger")
}

func TestTemplatesCheck(t *testing.T) {
	dir := t.TempDir()
	app := &appctx.App{Config: &config.Config{Output: "table"}, Logger: discardLogger()}

	good := testutil.WriteFile(t, dir, "good.yaml", `templates:
  - name: pipe-rack
    milestones:
      - {name: Set, weight: 70, kind: discrete}
      - {name: Bolt-up, weight: 30, kind: partial}
`)
	cmd, out, _ := newTestCmd()
	require.NoError(t, runTemplatesCheck(app, cmd, []string{good}))
	assert.Contains(t, out.String(), "✓ pipe-rack (2 milestones)\n")
	assert.Contains(t, out.String(), "1 template(s) valid in "+good)

	bad := testutil.WriteFile(t, dir, "bad.yaml", `templates:
  - name: short
    milestones:
      - {name: Set, weight: 70, kind: discrete}
`)
	err := runTemplatesCheck(app, cmd, []string{bad})
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))

	err = runTemplatesCheck(app, cmd, nil)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestComponentAdmin(t *testing.T) {
	database, dbPath := testutil.TempDB(t)
	app := &appctx.App{
		Config: &config.Config{DBPath: dbPath, Output: "table"},
		DB:     database,
		Actor:  "admin",
		Logger: discardLogger(),
	}
	componentTemplate, componentDrawing, componentFilter = "spool", "P-101", ""
	t.Cleanup(func() { componentTemplate, componentDrawing, componentFilter = "", "", "" })

	cmd, out, _ := newTestCmd()
	require.NoError(t, runComponentAdd(app, cmd, []string{"SP-1"}))
	assert.Equal(t, "✓ Registered SP-1 (spool)\n", out.String())

	err := runComponentAdd(app, cmd, []string{"SP-1"})
	assert.Equal(t, ExitUsage, ExitCode(err))

	componentTemplate = "nope"
	err = runComponentAdd(app, cmd, []string{"SP-2"})
	assert.Equal(t, ExitUsage, ExitCode(err))

	out.Reset()
	componentFilter = "P-101"
	require.NoError(t, runComponentList(app, cmd, nil))
	assert.Contains(t, out.String(), "SP-1")
	assert.Contains(t, out.String(), "0.00%")

	out.Reset()
	require.NoError(t, runComponentShow(app, cmd, []string{"SP-1"}))
	assert.Contains(t, out.String(), "SP-1  spool  0.00% complete")
	assert.Contains(t, out.String(), "Erect")

	out.Reset()
	require.NoError(t, runDrawingProgress(app, cmd, []string{"P-101"}))
	assert.Contains(t, out.String(), "P-101")
}
