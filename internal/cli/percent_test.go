package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func percentApp(output string) *appctx.App {
	return &appctx.App{Config: &config.Config{Output: output}, Logger: discardLogger()}
}

func usePercentTemplate(t *testing.T, name string) {
	t.Helper()
	percentTemplate, percentTemplates = name, ""
	t.Cleanup(func() { percentTemplate, percentTemplates = "", "" })
}

func TestPercent_Table(t *testing.T) {
	usePercentTemplate(t, "spool")
	cmd, out, _ := newTestCmd()

	require.NoError(t, runPercent(percentApp("table"), cmd, []string{"Receive=true", "Erect=true"}))
	assert.Contains(t, out.String(), "spool: 45.00% complete\n")
	assert.Contains(t, out.String(), "Erect")
	assert.Contains(t, out.String(), "40.00%")
}

func TestPercent_JSON(t *testing.T) {
	usePercentTemplate(t, "threaded-pipe")
	cmd, out, _ := newTestCmd()

	require.NoError(t, runPercent(percentApp("json"), cmd, []string{"Fabricate=100", "Install=50"}))

	var report percentReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "threaded-pipe", report.Template)
	assert.InDelta(t, 24.0, report.PercentComplete, 0.001)
	assert.Equal(t, 50, report.State["Install"].Percent())
}

func TestPercent_RejectedIsComplete(t *testing.T) {
	usePercentTemplate(t, "field-weld")
	cmd, out, _ := newTestCmd()

	require.NoError(t, runPercent(percentApp("table"), cmd, []string{"Weld Made=true", "Rejected=true"}))
	assert.Contains(t, out.String(), "field-weld: 100.00% complete\n")
}

func TestPercent_BadInput(t *testing.T) {
	usePercentTemplate(t, "spool")
	cmd, _, _ := newTestCmd()

	err := runPercent(percentApp("table"), cmd, []string{"Paint=true"})
	assert.Equal(t, ExitUsage, ExitCode(err))

	err = runPercent(percentApp("table"), cmd, []string{"Erect"})
	assert.Equal(t, ExitUsage, ExitCode(err))

	percentTemplate = "nope"
	err = runPercent(percentApp("table"), cmd, nil)
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, err.Error(), "spool")
}

func TestParseState(t *testing.T) {
	tpl, err := milestone.DefaultRegistry().Get("field-weld")
	require.NoError(t, err)

	state, err := parseState(tpl, []string{"Weld Made=true", " Fit-up = yes "})
	require.NoError(t, err)
	assert.True(t, state["Weld Made"].Bool())
	assert.True(t, state["Fit-up"].Bool())

	_, err = parseState(tpl, []string{"=true"})
	assert.Error(t, err)
}

func TestStateDiff(t *testing.T) {
	remote := &domain.Component{
		ID:              "SP-1",
		Template:        "spool",
		State:           domain.MilestoneState{"Receive": domain.BoolValue(true)},
		PercentComplete: 5,
	}
	updates := []domain.QueuedUpdate{{TargetID: "SP-1", MilestoneName: "Erect", Value: domain.BoolValue(true)}}

	text, err := stateDiff(remote, updates, milestone.DefaultRegistry())
	require.NoError(t, err)

	assert.Contains(t, text, "--- remote/SP-1")
	assert.Contains(t, text, "+++ local/SP-1")
	assert.Contains(t, text, "-Erect: -\n")
	assert.Contains(t, text, "+Erect: true\n")
	assert.Contains(t, text, "-percent_complete: 5.00\n")
	assert.Contains(t, text, "+percent_complete: 45.00\n")
	assert.Contains(t, text, " Receive: true\n")
	_, touched := remote.State["Erect"]
	assert.False(t, touched, "remote state is not modified")
}

func TestStateDiff_UnknownTemplate(t *testing.T) {
	remote := &domain.Component{ID: "X-1", Template: "custom", State: domain.MilestoneState{}}
	updates := []domain.QueuedUpdate{{TargetID: "X-1", MilestoneName: "Zeta", Value: domain.PercentValue(30)}}

	text, err := stateDiff(remote, updates, milestone.DefaultRegistry())
	require.NoError(t, err)
	assert.Contains(t, text, "+Zeta: 30\n")
	assert.Contains(t, text, " percent_complete: 0.00\n", "percent is unchanged without a template")
}

func TestDiff_AgainstGateway(t *testing.T) {
	env := setupTestEnv(t, "")
	env.register(t, "SP-1", "spool")

	cmd, out, _ := newTestCmd()
	require.NoError(t, runDiff(env.app, cmd, []string{"SP-1"}))
	assert.Equal(t, "No pending updates for SP-1.\n", out.String())

	require.NoError(t, runSet(env.app, cmd, []string{"SP-1", "Connect", "true"}))
	out.Reset()
	require.NoError(t, runDiff(env.app, cmd, []string{"SP-1"}))
	assert.Contains(t, out.String(), "+Connect: true\n")
	assert.Contains(t, out.String(), "+percent_complete: 40.00\n")

	n, err := env.app.Queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "diff leaves the queue alone")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, ExitGeneral, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitUsage, ExitCode(exitError(ExitUsage, errors.New("bad flag"))))
	assert.Equal(t, ExitOffline, ExitCode(fmt.Errorf("wrapped: %w", exitError(ExitOffline, errors.New("down")))))
}

func TestSyncExitError(t *testing.T) {
	assert.Equal(t, ExitReauth, ExitCode(syncExitError(syncer.ErrReauthRequired)))
	assert.Equal(t, ExitOffline, ExitCode(syncExitError(syncer.ErrOffline)))
	assert.Equal(t, ExitGeneral, ExitCode(syncExitError(errors.New("disk full"))))
	assert.ErrorIs(t, syncExitError(syncer.ErrOffline), syncer.ErrOffline)
}
