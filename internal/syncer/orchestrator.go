// Package syncer drains the offline queue into the remote gateway.
//
// A cycle walks the queue in FIFO order with a single worker. Each entry is
// retried in place with exponential backoff until it succeeds, conflicts, or
// exhausts its retries; one failing entry never blocks the rest. Conflicts
// are discarded silently (the server wins). An auth failure aborts the cycle
// and clears the whole queue.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/queue"
)

var (
	// ErrReauthRequired is returned when the gateway rejected our credentials.
	// The queue has been cleared.
	ErrReauthRequired = errors.New("re-authentication required; pending updates were discarded")

	// ErrOffline is returned when a cycle is requested while offline
	ErrOffline = errors.New("offline")

	// ErrRetryRequired is returned by Sync while failed updates wait for Retry
	ErrRetryRequired = errors.New("failed updates are waiting for a retry")
)

const (
	DefaultBaseDelay     = time.Second
	DefaultBackoffFactor = 3
)

// Progress is the state of the running or last cycle
type Progress struct {
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Status    domain.SyncStatus `json:"status"`
}

// Result summarises one cycle
type Result struct {
	Skipped   bool              `json:"skipped,omitempty"`
	Paused    bool              `json:"paused,omitempty"`
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Conflicts int               `json:"conflicts"`
	Failed    int               `json:"failed"`
	Deferred  int               `json:"deferred"`
	Status    domain.SyncStatus `json:"status"`
}

// Orchestrator runs sync cycles. At most one cycle is active at a time.
type Orchestrator struct {
	queue   *queue.Store
	gw      gateway.Gateway
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics

	maxAttempts int
	baseDelay   time.Duration
	factor      float64
	onAuth      func()
	onProgress  func(Progress)

	mu       sync.Mutex
	running  bool
	online   bool
	progress Progress
	baseCtx  context.Context
	wg       sync.WaitGroup

	conflicts atomic.Int64
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMaxAttempts caps the attempts made on one entry within a cycle.
// Defaults to the queue's retry limit.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// WithBaseDelay sets the delay multiplied by factor^retryCount between attempts
func WithBaseDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.baseDelay = d }
}

func WithBackoffFactor(f float64) Option {
	return func(o *Orchestrator) { o.factor = f }
}

// WithAuthRequired registers a callback invoked after an auth failure cleared the queue
func WithAuthRequired(fn func()) Option {
	return func(o *Orchestrator) { o.onAuth = fn }
}

// WithProgress registers a callback invoked after every resolution
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithInitialOnline sets the assumed connectivity before the first event.
// Defaults to online.
func WithInitialOnline(online bool) Option {
	return func(o *Orchestrator) { o.online = online }
}

// New creates an orchestrator draining q into gw
func New(q *queue.Store, gw gateway.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:       q,
		gw:          gw,
		clock:       SystemClock,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxAttempts: q.MaxRetries(),
		baseDelay:   DefaultBaseDelay,
		factor:      DefaultBackoffFactor,
		online:      true,
		baseCtx:     context.Background(),
		progress:    Progress{Status: domain.SyncStatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync runs one cycle and waits for it. It returns a skipped result when a
// cycle is already running, ErrOffline when offline and ErrRetryRequired in
// the error state, which only Retry leaves.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	if !o.begin() {
		return Result{Skipped: true}, nil
	}
	defer o.end()

	snap, err := o.queue.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	if snap.SyncStatus == domain.SyncStatusError {
		return Result{Status: domain.SyncStatusError}, ErrRetryRequired
	}
	if !o.Online() {
		return Result{}, ErrOffline
	}
	return o.cycle(ctx)
}

// Trigger starts a cycle in the background. It does nothing while a cycle
// is running, while offline, or after a cycle ended in error; the error
// state is left only through Retry. Reports whether a cycle was started.
func (o *Orchestrator) Trigger(ctx context.Context) bool {
	if !o.Online() {
		return false
	}
	snap, err := o.queue.Snapshot(ctx)
	if err != nil {
		o.logger.Error("failed to read queue", "error", err)
		return false
	}
	if snap.SyncStatus == domain.SyncStatusError {
		o.logger.Debug("sync not triggered; waiting for retry", "failed", len(snap.FailedUpdates))
		return false
	}
	if !o.begin() {
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.end()
		res, err := o.cycle(ctx)
		if err != nil && !errors.Is(err, ErrReauthRequired) {
			o.logger.Error("sync cycle failed", "error", err)
			return
		}
		o.logger.Info("sync cycle finished",
			"status", res.Status,
			"succeeded", res.Succeeded,
			"conflicts", res.Conflicts,
			"failed", res.Failed,
			"paused", res.Paused,
		)
	}()
	return true
}

// Wait blocks until background cycles started by Trigger have finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Retry moves failed updates back to the queue and runs a cycle
func (o *Orchestrator) Retry(ctx context.Context) (Result, error) {
	if !o.begin() {
		return Result{Skipped: true}, nil
	}
	defer o.end()

	n, err := o.queue.RequeueFailed(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to requeue failed updates: %w", err)
	}
	if err := o.queue.SetStatus(ctx, domain.SyncStatusIdle, nil); err != nil {
		return Result{}, err
	}
	o.logger.Info("requeued failed updates", "count", n)

	if !o.Online() {
		return Result{Status: domain.SyncStatusIdle}, ErrOffline
	}
	return o.cycle(ctx)
}

// SetOnline records a connectivity change. Coming online triggers a cycle;
// going offline pauses a running cycle after its current resolution.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	was := o.online
	o.online = online
	ctx := o.baseCtx
	o.mu.Unlock()

	if online == was {
		return
	}
	o.logger.Info("connectivity changed", "online", online)
	if online {
		o.Trigger(ctx)
	}
}

// Online reports the last known connectivity
func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Watch applies connectivity events until ctx is done or events is closed.
// Cycles started by events run under ctx.
func (o *Orchestrator) Watch(ctx context.Context, events <-chan ConnectivityEvent) error {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.SetOnline(ev.Online)
		}
	}
}

// Progress returns the progress of the running or most recent cycle
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Conflicts returns how many updates were discarded as conflicts
func (o *Orchestrator) Conflicts() int64 {
	return o.conflicts.Load()
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) setProgress(p Progress) {
	o.mu.Lock()
	o.progress = p
	cb := o.onProgress
	o.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeFailed
	outcomeDeferred
	outcomePaused
	outcomeGone
)

var errAuth = errors.New("auth failure")

type seenKey struct {
	id        string
	createdAt time.Time
}

func (o *Orchestrator) cycle(ctx context.Context) (Result, error) {
	o.metrics.cycleStarted()
	started := o.clock.Now()
	if err := o.queue.SetStatus(ctx, domain.SyncStatusSyncing, &started); err != nil {
		return Result{}, fmt.Errorf("failed to mark sync started: %w", err)
	}

	res := Result{}
	seen := make(map[seenKey]bool)
	o.setProgress(Progress{Status: domain.SyncStatusSyncing})

	for {
		next, remaining, err := o.nextEntry(ctx, seen)
		if err != nil {
			return o.finish(ctx, res, err)
		}
		if next == nil {
			break
		}
		o.setProgress(Progress{Processed: res.Processed, Total: res.Processed + remaining, Status: domain.SyncStatusSyncing})

		if !o.Online() {
			res.Paused = true
			break
		}

		seen[seenKey{next.ID, next.CreatedAt}] = true
		out, err := o.resolve(ctx, *next)
		if errors.Is(err, errAuth) {
			return o.abortAuth(ctx, res)
		}
		if err != nil {
			return o.finish(ctx, res, err)
		}

		switch out {
		case outcomeSuccess:
			res.Succeeded++
		case outcomeConflict:
			res.Conflicts++
		case outcomeFailed:
			res.Failed++
		case outcomeDeferred:
			res.Deferred++
		case outcomePaused:
			res.Paused = true
		}
		if out == outcomePaused {
			break
		}
		res.Processed++
		o.setProgress(Progress{Processed: res.Processed, Total: res.Processed + remaining - 1, Status: domain.SyncStatusSyncing})
	}

	return o.finish(ctx, res, nil)
}

// nextEntry returns the first active entry not yet handled in this cycle and
// the number of such entries. Entries enqueued or replaced mid-cycle are
// picked up too.
func (o *Orchestrator) nextEntry(ctx context.Context, seen map[seenKey]bool) (*domain.QueuedUpdate, int, error) {
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		return nil, 0, err
	}
	o.metrics.queueDepth(len(pending))

	var next *domain.QueuedUpdate
	remaining := 0
	for i := range pending {
		if seen[seenKey{pending[i].ID, pending[i].CreatedAt}] {
			continue
		}
		if next == nil {
			next = &pending[i]
		}
		remaining++
	}
	return next, remaining, nil
}

// resolve applies one entry, retrying transient failures in place
func (o *Orchestrator) resolve(ctx context.Context, u domain.QueuedUpdate) (outcome, error) {
	log := o.logger.With("update", u.ID, "target", u.TargetID, "milestone", u.MilestoneName)
	attempts := 0

	for {
		attempts++
		t := time.Now()
		_, err := o.gw.ApplyMilestoneUpdate(ctx, gateway.RequestFor(u))
		o.metrics.observeAttempt(time.Since(t))

		switch {
		case err == nil:
			if _, err := o.queue.Settle(ctx, u); err != nil {
				return 0, err
			}
			o.metrics.outcome(OutcomeSuccess)
			log.Debug("update applied", "attempts", attempts)
			return outcomeSuccess, nil

		case domain.IsConflict(err):
			if _, err := o.queue.Settle(ctx, u); err != nil {
				return 0, err
			}
			o.conflicts.Add(1)
			o.metrics.outcome(OutcomeConflict)
			log.Debug("update discarded; remote state wins", "reason", err)
			return outcomeConflict, nil

		case domain.IsAuth(err):
			o.metrics.outcome(OutcomeAuth)
			log.Warn("gateway rejected credentials", "error", err)
			return 0, errAuth
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}

		count, qerr := o.queue.IncrementRetry(ctx, u, err)
		if errors.Is(qerr, queue.ErrNotFound) || errors.Is(qerr, queue.ErrSuperseded) {
			log.Debug("update replaced while in flight", "error", err)
			return outcomeGone, nil
		}
		if qerr != nil {
			return 0, qerr
		}
		if count >= o.queue.MaxRetries() {
			o.metrics.outcome(OutcomeFailed)
			log.Warn("update failed permanently", "retries", count, "error", err)
			return outcomeFailed, nil
		}
		if attempts >= o.maxAttempts {
			log.Info("update deferred to next cycle", "retries", count, "error", err)
			return outcomeDeferred, nil
		}

		delay := o.backoff(count)
		o.metrics.outcome(OutcomeRetry)
		log.Info("retrying update", "retries", count, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-o.clock.After(delay):
		}
		if !o.Online() {
			return outcomePaused, nil
		}
	}
}

// backoff returns baseDelay * factor^retryCount
func (o *Orchestrator) backoff(retryCount int) time.Duration {
	return time.Duration(float64(o.baseDelay) * math.Pow(o.factor, float64(retryCount)))
}

func (o *Orchestrator) abortAuth(ctx context.Context, res Result) (Result, error) {
	wctx := context.WithoutCancel(ctx)
	if err := o.queue.Clear(wctx); err != nil {
		return res, fmt.Errorf("failed to clear queue after auth failure: %w", err)
	}
	if err := o.queue.SetStatus(wctx, domain.SyncStatusIdle, nil); err != nil {
		return res, err
	}
	o.metrics.queueDepth(0)
	res.Status = domain.SyncStatusIdle
	o.setProgress(Progress{Processed: res.Processed, Total: res.Processed, Status: domain.SyncStatusIdle})
	o.logger.Warn("queue cleared after auth failure")

	if o.onAuth != nil {
		o.onAuth()
	}
	return res, ErrReauthRequired
}

func (o *Orchestrator) finish(ctx context.Context, res Result, cause error) (Result, error) {
	wctx := context.WithoutCancel(ctx)

	// error is kept while any failure is still waiting for a user retry
	status := domain.SyncStatusIdle
	snap, err := o.queue.Snapshot(wctx)
	if err == nil {
		o.metrics.queueDepth(len(snap.Updates))
		if len(snap.FailedUpdates) > 0 {
			status = domain.SyncStatusError
		}
	} else if cause == nil {
		cause = err
	}
	if res.Failed > 0 {
		status = domain.SyncStatusError
	}
	res.Status = status

	if err := o.queue.SetStatus(wctx, status, nil); err != nil && cause == nil {
		cause = err
	}
	o.setProgress(Progress{Processed: res.Processed, Total: res.Processed, Status: status})
	return res, cause
}
