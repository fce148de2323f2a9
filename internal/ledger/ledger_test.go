package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/events"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/lherron/fieldsync/internal/syncer"
	"github.com/lherron/fieldsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger(t *testing.T) (*Ledger, *fixedClock) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	clock := &fixedClock{now: t0}
	return New(database, milestone.DefaultRegistry(), WithNow(clock.Now)), clock
}

func register(t *testing.T, l *Ledger, id, drawing, template string) {
	t.Helper()
	_, err := l.RegisterComponent(context.Background(), "admin", RegisterParams{ID: id, DrawingID: drawing, Template: template})
	require.NoError(t, err)
}

func req(id, target, ms string, v domain.Value, actor string, created time.Time) gateway.Request {
	return gateway.Request{UpdateID: id, TargetID: target, MilestoneName: ms, Value: v, ActorID: actor, ClientCreatedAt: created}
}

func TestRegisterComponent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	comp, err := l.RegisterComponent(ctx, "admin", RegisterParams{DrawingID: "D-1", Template: "spool"})
	require.NoError(t, err)
	_, err = uuid.Parse(comp.ID)
	assert.NoError(t, err)

	got, err := l.Component(ctx, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, "spool", got.Template)
	assert.Equal(t, "D-1", got.DrawingID)
	assert.Equal(t, int64(1), got.ETag)
	assert.Empty(t, got.State)

	_, err = l.RegisterComponent(ctx, "admin", RegisterParams{ID: comp.ID, Template: "spool"})
	assert.ErrorIs(t, err, ErrComponentExists)

	_, err = l.RegisterComponent(ctx, "admin", RegisterParams{Template: "nope"})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestApply_UpdatesStateAndPercent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "D-1", "spool")

	res, err := l.Apply(ctx, req("u1", "S1", "Receive", domain.BoolValue(true), "fitter-7", t0))
	require.NoError(t, err)
	assert.Nil(t, res.PreviousValue)
	assert.Equal(t, 5.0, res.PercentComplete)
	assert.NotZero(t, res.AuditID)

	res, err = l.Apply(ctx, req("u2", "S1", "Erect", domain.BoolValue(true), "fitter-7", t0))
	require.NoError(t, err)
	assert.Equal(t, 45.0, res.PercentComplete)
	assert.True(t, res.NewState["Receive"].Bool())

	comp, err := l.Component(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, comp.PercentComplete)
	assert.Equal(t, int64(3), comp.ETag)

	history, err := l.History(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, events.TypeComponentRegistered, history[0].EventType)
	assert.Equal(t, res.AuditID, history[2].ID)
}

func TestApply_ReplaysRetriedUpdate(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "", "spool")

	first, err := l.Apply(ctx, req("u1", "S1", "Erect", domain.BoolValue(true), "fitter-7", t0))
	require.NoError(t, err)
	again, err := l.Apply(ctx, req("u1", "S1", "Erect", domain.BoolValue(true), "fitter-7", t0))
	require.NoError(t, err)

	assert.Equal(t, first.AuditID, again.AuditID)
	assert.Equal(t, first.PercentComplete, again.PercentComplete)

	history, err := l.History(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2, "a retried update is applied once")

	comp, err := l.Component(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), comp.ETag)
}

func TestApply_ConflictWhenAnotherActorWroteLater(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "", "spool")

	clock.advance(time.Hour)
	_, err := l.Apply(ctx, req("u1", "S1", "Erect", domain.BoolValue(true), "foreman", t0.Add(time.Hour)))
	require.NoError(t, err)

	// an offline edit made before the foreman's change
	_, err = l.Apply(ctx, req("u2", "S1", "Erect", domain.BoolValue(false), "fitter-7", t0.Add(30*time.Minute)))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "S1", ce.TargetID)

	// the same actor may overwrite its own value
	_, err = l.Apply(ctx, req("u3", "S1", "Erect", domain.BoolValue(false), "foreman", t0))
	assert.NoError(t, err)

	// an edit made after the last write wins
	clock.advance(time.Hour)
	_, err = l.Apply(ctx, req("u4", "S1", "Erect", domain.BoolValue(true), "fitter-7", clock.Now()))
	assert.NoError(t, err)
}

func TestApply_UnknownComponentConflicts(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Apply(context.Background(), req("u1", "gone", "Erect", domain.BoolValue(true), "fitter-7", t0))
	assert.True(t, domain.IsConflict(err))
}

func TestApply_UnknownMilestone(t *testing.T) {
	l, _ := newLedger(t)
	register(t, l, "S1", "", "spool")
	_, err := l.Apply(context.Background(), req("u1", "S1", "Paint", domain.BoolValue(true), "fitter-7", t0))
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestApply_RejectedIsTerminal(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "W1", "", "field-weld")

	res, err := l.Apply(ctx, req("u1", "W1", "Rejected", domain.BoolValue(true), "inspector", t0))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.PercentComplete)

	_, err = l.Apply(ctx, req("u2", "W1", "Test", domain.BoolValue(true), "fitter-7", t0))
	assert.True(t, domain.IsConflict(err))
}

func TestApply_RollsBackOnFailure(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "", "spool")

	_, err := l.Apply(ctx, req("u1", "S1", "Paint", domain.BoolValue(true), "fitter-7", t0))
	require.Error(t, err)

	// the id was not consumed by the failed attempt
	_, err = l.Apply(ctx, req("u1", "S1", "Erect", domain.BoolValue(true), "fitter-7", t0))
	assert.NoError(t, err)
}

func TestDrawingProgress(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "D-1", "spool")
	register(t, l, "S2", "D-1", "spool")
	register(t, l, "S3", "D-2", "spool")

	for i, ms := range []string{"Receive", "Erect", "Connect", "Punch", "Test", "Restore"} {
		_, err := l.Apply(ctx, req("a"+ms, "S1", ms, domain.BoolValue(true), "fitter-7", t0))
		require.NoError(t, err, "step %d", i)
	}
	_, err := l.Apply(ctx, req("b1", "S2", "Erect", domain.BoolValue(true), "fitter-7", t0))
	require.NoError(t, err)

	r, err := l.DrawingProgress(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, Rollup{DrawingID: "D-1", Components: 2, Complete: 1, PercentComplete: 70}, r)

	empty, err := l.DrawingProgress(ctx, "D-9")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Components)
	assert.Equal(t, 0.0, empty.PercentComplete)

	comps, err := l.Components(ctx, "D-1")
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "S1", comps[0].ID)
}

// The orchestrator draining into an in-process ledger: retries of an
// applied update never double-apply.
func TestLedgerAsGateway(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "D-1", "spool")

	q := queue.New(queue.NewMemoryPersister(nil))
	for _, ms := range []string{"Receive", "Erect"} {
		_, err := q.Enqueue(ctx, domain.QueuedUpdate{TargetID: "S1", MilestoneName: ms, Value: domain.BoolValue(true), ActorID: "fitter-7"})
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, domain.QueuedUpdate{TargetID: "gone", MilestoneName: "Erect", Value: domain.BoolValue(true), ActorID: "fitter-7"})
	require.NoError(t, err)

	o := syncer.New(q, l, syncer.WithClock(testutil.NewVirtualClock(t0)))
	res, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Conflicts)

	comp, err := l.Component(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 45.0, comp.PercentComplete)
}

// replacingGateway enqueues a new value once, after the first apply and
// before the orchestrator settles the sent entry.
type replacingGateway struct {
	gateway.Gateway
	once    sync.Once
	replace func()
}

func (g *replacingGateway) ApplyMilestoneUpdate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	res, err := g.Gateway.ApplyMilestoneUpdate(ctx, req)
	g.once.Do(g.replace)
	return res, err
}

func TestLedgerAsGateway_ReplacementWhileInFlight(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	register(t, l, "S1", "D-1", "spool")

	q := queue.New(queue.NewMemoryPersister(nil))
	_, err := q.Enqueue(ctx, domain.QueuedUpdate{TargetID: "S1", MilestoneName: "Erect", Value: domain.BoolValue(true), ActorID: "fitter-7"})
	require.NoError(t, err)

	gw := &replacingGateway{Gateway: l, replace: func() {
		_, err := q.Enqueue(ctx, domain.QueuedUpdate{TargetID: "S1", MilestoneName: "Erect", Value: domain.BoolValue(false), ActorID: "fitter-7"})
		require.NoError(t, err)
	}}

	o := syncer.New(q, gw, syncer.WithClock(testutil.NewVirtualClock(t0)))
	res, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	comp, err := l.Component(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, comp.State["Erect"].Bool(), "the latest value reaches the server")
	assert.Equal(t, 0.0, comp.PercentComplete)

	history, err := l.History(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3, "registration and two distinct applies")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
