package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/events"
)

// RegisterParams describes a new component
type RegisterParams struct {
	ID        string // optional; a UUID is generated when empty
	DrawingID string
	Template  string
}

// RegisterComponent adds a component with an empty milestone state and logs
// a component.registered event.
func (l *Ledger) RegisterComponent(ctx context.Context, actorID string, params RegisterParams) (*domain.Component, error) {
	if _, err := l.templates.Get(params.Template); err != nil {
		return nil, &domain.ValidationError{Field: "template", Message: err.Error()}
	}
	id := params.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := l.now()

	comp := &domain.Component{
		ID:        id,
		DrawingID: params.DrawingID,
		Template:  params.Template,
		State:     domain.MilestoneState{},
		ETag:      1,
		UpdatedAt: now,
	}

	err := l.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM components WHERE id = ?", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check component: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrComponentExists, id)
		}

		var drawing interface{}
		if params.DrawingID != "" {
			drawing = params.DrawingID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO components (id, drawing_id, template, percent_complete, etag, created_at, updated_at)
			VALUES (?, ?, ?, 0, 1, ?, ?)
		`, id, drawing, params.Template, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to create component: %w", err)
		}

		if _, err := ew.LogComponentRegistered(tx, actorID, comp); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comp, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Component returns a component and its milestone state
func (l *Ledger) Component(ctx context.Context, id string) (*domain.Component, error) {
	return loadComponent(ctx, l.db, id)
}

func loadComponent(ctx context.Context, q queryer, id string) (*domain.Component, error) {
	var comp domain.Component
	var drawing sql.NullString
	var updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT id, drawing_id, template, percent_complete, etag, updated_at
		FROM components WHERE id = ?
	`, id).Scan(&comp.ID, &drawing, &comp.Template, &comp.PercentComplete, &comp.ETag, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load component: %w", err)
	}
	comp.DrawingID = drawing.String
	if comp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	state, err := loadState(ctx, q, id)
	if err != nil {
		return nil, err
	}
	comp.State = state
	return &comp, nil
}

func loadState(ctx context.Context, q queryer, componentID string) (domain.MilestoneState, error) {
	rows, err := q.QueryContext(ctx, "SELECT milestone, value FROM milestone_states WHERE component_id = ?", componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestone state: %w", err)
	}
	defer rows.Close()

	state := domain.MilestoneState{}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan milestone state: %w", err)
		}
		var v domain.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid stored value for %s/%s: %w", componentID, name, err)
		}
		state[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating milestone state: %w", err)
	}
	return state, nil
}

// Components lists components, optionally restricted to one drawing
func (l *Ledger) Components(ctx context.Context, drawingID string) ([]domain.Component, error) {
	query := "SELECT id FROM components"
	var args []interface{}
	if drawingID != "" {
		query += " WHERE drawing_id = ?"
		args = append(args, drawingID)
	}
	query += " ORDER BY id"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan component id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	out := make([]domain.Component, 0, len(ids))
	for _, id := range ids {
		comp, err := l.Component(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *comp)
	}
	return out, nil
}

// Rollup is the aggregate progress of a drawing
type Rollup struct {
	DrawingID       string  `json:"drawing_id"`
	Components      int     `json:"components"`
	Complete        int     `json:"complete"`
	PercentComplete float64 `json:"percent_complete"`
}

// DrawingProgress averages the percent complete of a drawing's components.
// It is computed on read so it never lags the component values.
func (l *Ledger) DrawingProgress(ctx context.Context, drawingID string) (Rollup, error) {
	r := Rollup{DrawingID: drawingID}
	var avg sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN percent_complete >= 100 THEN 1 ELSE 0 END), 0), AVG(percent_complete)
		FROM components WHERE drawing_id = ?
	`, drawingID).Scan(&r.Components, &r.Complete, &avg)
	if err != nil {
		return Rollup{}, fmt.Errorf("failed to compute drawing progress: %w", err)
	}
	if avg.Valid {
		r.PercentComplete = math.Round(avg.Float64*100) / 100
	}
	return r, nil
}

// History returns the audit events of a component, oldest first
func (l *Ledger) History(ctx context.Context, componentID string, limit int) ([]domain.Event, error) {
	return events.NewWriter(l.db.DB).List("component", componentID, limit)
}
