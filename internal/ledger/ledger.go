// Package ledger is the authoritative milestone store served by fieldsyncd.
// It applies milestone updates idempotently, records an audit event for
// every change, and keeps each component's percent complete current.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/events"
	"github.com/lherron/fieldsync/internal/milestone"
)

// RejectedMilestone marks a component as terminal: it counts as complete and
// accepts no further milestone changes.
const RejectedMilestone = "Rejected"

var (
	// ErrComponentNotFound is returned for an unknown component id
	ErrComponentNotFound = errors.New("component not found")

	// ErrComponentExists is returned when registering a duplicate id
	ErrComponentExists = errors.New("component already exists")
)

// Ledger applies milestone updates against a SQLite database
type Ledger struct {
	db        *db.DB
	templates *milestone.Registry
	calc      milestone.Calculator
	now       func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithNow sets the ledger's time source
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over a migrated database
func New(database *db.DB, templates *milestone.Registry, opts ...Option) *Ledger {
	l := &Ledger{
		db:        database,
		templates: templates,
		calc:      milestone.Calculator{Override: milestone.TerminalOn(RejectedMilestone)},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DB returns the underlying database connection
func (l *Ledger) DB() *db.DB {
	return l.db
}

// Templates returns the template registry used to score components
func (l *Ledger) Templates() *milestone.Registry {
	return l.templates
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(l.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
