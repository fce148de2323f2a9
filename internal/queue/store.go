// Package queue is the durable offline queue of pending milestone updates.
//
// Every operation loads the persisted snapshot, mutates it and saves it back
// before returning, so the blob is the only state and a crash between calls
// never loses an acknowledged update.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lherron/fieldsync/internal/domain"
)

const (
	DefaultCapacity       = 50
	DefaultMaxRetries     = 3
	DefaultFailedCapacity = 10
)

// ErrNotFound is returned when an update id is not in the active queue
var ErrNotFound = errors.New("update not found in queue")

// ErrSuperseded is returned when the active update for an id holds a newer
// value than the one that was sent
var ErrSuperseded = errors.New("update superseded by a newer value")

// Store is the offline queue. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	persister Persister

	capacity       int
	maxRetries     int
	failedCapacity int
	now            func() time.Time
	newID          func() string
	lockPath       string
}

// Option configures a Store
type Option func(*Store)

// WithCapacity sets the maximum number of active updates
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithMaxRetries sets the retry count at which an update moves to the failed list
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithFailedCapacity sets how many failed updates are kept
func WithFailedCapacity(n int) Option {
	return func(s *Store) { s.failedCapacity = n }
}

// WithNow sets the time source used to stamp new updates
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the function that assigns update ids
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLockFile serializes every operation across processes with an advisory
// lock on path, so several processes can share one persisted queue.
func WithLockFile(path string) Option {
	return func(s *Store) { s.lockPath = path }
}

// New creates a store backed by p
func New(p Persister, opts ...Option) *Store {
	s := &Store{
		persister:      p,
		capacity:       DefaultCapacity,
		maxRetries:     DefaultMaxRetries,
		failedCapacity: DefaultFailedCapacity,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the active queue limit
func (s *Store) Capacity() int { return s.capacity }

// MaxRetries returns the retry count at which an update is moved to failed
func (s *Store) MaxRetries() int { return s.maxRetries }

// lockProcess takes the cross-process lock, if configured. Must be called with mu held.
func (s *Store) lockProcess(ctx context.Context) (*Lock, error) {
	if s.lockPath == "" {
		return nil, nil
	}
	l, err := WaitLock(ctx, s.lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to lock queue: %w", err)
	}
	return l, nil
}

// load must be called with mu held
func (s *Store) load(ctx context.Context) (domain.QueueSnapshot, error) {
	blob, err := s.persister.Load(ctx)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	return Decode(blob)
}

// save must be called with mu held
func (s *Store) save(ctx context.Context, snap domain.QueueSnapshot) error {
	blob, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.persister.Save(ctx, blob)
}

// mutate runs fn on the current snapshot and persists it if fn reports a change
func (s *Store) mutate(ctx context.Context, fn func(*domain.QueueSnapshot) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.lockProcess(ctx)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(&snap)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(ctx, snap)
}

// Enqueue adds an update, or replaces the value of the active update for
// the same component milestone. A replaced entry keeps its queue position
// but gets a new id. The stored entry is returned.
func (s *Store) Enqueue(ctx context.Context, u domain.QueuedUpdate) (domain.QueuedUpdate, error) {
	if err := domain.ValidateUpdate(u); err != nil {
		return domain.QueuedUpdate{}, err
	}

	var stored domain.QueuedUpdate
	err := s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.now()
		}
		for i := range snap.Updates {
			existing := &snap.Updates[i]
			if !existing.SameTarget(u) {
				continue
			}
			if existing.Value.Equal(u.Value) && existing.ActorID == u.ActorID && existing.CreatedAt.Equal(u.CreatedAt) {
				stored = *existing
				return false, nil
			}
			// A new value is a new mutation and gets its own idempotency key.
			existing.ID = s.newID()
			existing.Value = u.Value
			existing.ActorID = u.ActorID
			existing.CreatedAt = u.CreatedAt
			existing.RetryCount = 0
			existing.LastError = ""
			stored = *existing
			return true, nil
		}

		if len(snap.Updates) >= s.capacity {
			return false, &domain.QueueFullError{Capacity: s.capacity}
		}

		if u.ID == "" {
			u.ID = s.newID()
		}
		u.RetryCount = 0
		u.LastError = ""
		snap.Updates = append(snap.Updates, u)
		stored = u
		return true, nil
	})
	if err != nil {
		return domain.QueuedUpdate{}, err
	}
	return stored, nil
}

// Dequeue removes an update by id. Removing an absent id is a no-op.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	return s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		i := indexOf(snap.Updates, id)
		if i < 0 {
			return false, nil
		}
		snap.Updates = append(snap.Updates[:i], snap.Updates[i+1:]...)
		return true, nil
	})
}

// Settle removes sent from the queue unless it was superseded by a newer
// Enqueue for the same milestone while in flight. It reports whether the
// entry was removed.
func (s *Store) Settle(ctx context.Context, sent domain.QueuedUpdate) (bool, error) {
	removed := false
	err := s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		i := indexOf(snap.Updates, sent.ID)
		if i < 0 {
			return false, nil
		}
		if !sameRevision(snap.Updates[i], sent) {
			return false, nil
		}
		snap.Updates = append(snap.Updates[:i], snap.Updates[i+1:]...)
		removed = true
		return true, nil
	})
	return removed, err
}

// IncrementRetry bumps the retry count of the sent update and records
// cause. When the count reaches the retry limit the update moves to the
// failed list, evicting the oldest failure beyond the failed capacity. A
// sent update replaced in the meantime is left alone and ErrSuperseded is
// returned.
func (s *Store) IncrementRetry(ctx context.Context, sent domain.QueuedUpdate, cause error) (int, error) {
	count := 0
	err := s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		i := indexOf(snap.Updates, sent.ID)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", ErrNotFound, sent.ID)
		}
		if !sameRevision(snap.Updates[i], sent) {
			return false, fmt.Errorf("%w: %s", ErrSuperseded, sent.ID)
		}
		u := &snap.Updates[i]
		u.RetryCount++
		if cause != nil {
			u.LastError = cause.Error()
		}
		count = u.RetryCount

		if u.RetryCount >= s.maxRetries {
			failed := *u
			snap.Updates = append(snap.Updates[:i], snap.Updates[i+1:]...)
			snap.FailedUpdates = append(snap.FailedUpdates, failed)
			if over := len(snap.FailedUpdates) - s.failedCapacity; over > 0 {
				snap.FailedUpdates = snap.FailedUpdates[over:]
			}
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Get returns the active update with id
func (s *Store) Get(ctx context.Context, id string) (domain.QueuedUpdate, bool, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return domain.QueuedUpdate{}, false, err
	}
	i := indexOf(snap.Updates, id)
	if i < 0 {
		return domain.QueuedUpdate{}, false, nil
	}
	return snap.Updates[i], true, nil
}

// Snapshot returns a copy of the persisted queue
func (s *Store) Snapshot(ctx context.Context) (domain.QueueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.lockProcess(ctx)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	defer lock.Release()
	return s.load(ctx)
}

// Pending returns the active updates in FIFO order
func (s *Store) Pending(ctx context.Context) ([]domain.QueuedUpdate, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Updates, nil
}

// Failed returns updates that exhausted their retries, oldest first
func (s *Store) Failed(ctx context.Context) ([]domain.QueuedUpdate, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.FailedUpdates, nil
}

// Len returns the number of active updates
func (s *Store) Len(ctx context.Context) (int, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap.Updates), nil
}

// SetStatus records the sync status and, when attemptAt is non-nil, the
// time of the last sync attempt.
func (s *Store) SetStatus(ctx context.Context, status domain.SyncStatus, attemptAt *time.Time) error {
	if err := domain.ValidateSyncStatus(status); err != nil {
		return err
	}
	return s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		snap.SyncStatus = status
		if attemptAt != nil {
			at := attemptAt.UTC()
			snap.LastSyncAttempt = &at
		}
		return true, nil
	})
}

// RequeueFailed moves failed updates back to the active queue with their
// retry counts reset. A failed update whose milestone already has an active
// update is dropped, since the active one is newer. Updates that do not fit
// under the capacity stay failed. Returns the number requeued.
func (s *Store) RequeueFailed(ctx context.Context) (int, error) {
	moved := 0
	err := s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		if len(snap.FailedUpdates) == 0 {
			return false, nil
		}

		var kept []domain.QueuedUpdate
		for _, f := range snap.FailedUpdates {
			if hasTarget(snap.Updates, f) {
				continue
			}
			if len(snap.Updates) >= s.capacity {
				kept = append(kept, f)
				continue
			}
			f.RetryCount = 0
			f.LastError = ""
			snap.Updates = append(snap.Updates, f)
			moved++
		}
		if kept == nil {
			kept = []domain.QueuedUpdate{}
		}
		snap.FailedUpdates = kept
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Clear drops every active update. Failed updates are kept.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(snap *domain.QueueSnapshot) (bool, error) {
		snap.Updates = []domain.QueuedUpdate{}
		return true, nil
	})
}

func indexOf(updates []domain.QueuedUpdate, id string) int {
	for i := range updates {
		if updates[i].ID == id {
			return i
		}
	}
	return -1
}

// sameRevision reports whether cur still holds the value that sent carried
func sameRevision(cur, sent domain.QueuedUpdate) bool {
	return cur.Value.Equal(sent.Value) && cur.CreatedAt.Equal(sent.CreatedAt)
}

func hasTarget(updates []domain.QueuedUpdate, u domain.QueuedUpdate) bool {
	for i := range updates {
		if updates[i].SameTarget(u) {
			return true
		}
	}
	return false
}
