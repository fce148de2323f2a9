package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
)

// Event types written to the event log
const (
	TypeComponentRegistered = "component.registered"
	TypeMilestoneUpdated    = "milestone.updated"
)

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log and returns its id
func (w *Writer) LogEvent(tx *sql.Tx, event *domain.Event) (int64, error) {
	query := `
		INSERT INTO event_log (actor_id, resource_type, resource_id, event_type, etag, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	executor := w.getExecutor(tx)
	res, err := executor.Exec(query, event.ActorID, event.ResourceType, event.ResourceID, event.EventType, event.ETag, event.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to write event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// LogComponentRegistered logs a component registration
func (w *Writer) LogComponentRegistered(tx *sql.Tx, actorID string, comp *domain.Component) (int64, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"template":   comp.Template,
		"drawing_id": comp.DrawingID,
	})
	if err != nil {
		return 0, err
	}

	payloadStr := string(payload)
	event := &domain.Event{
		ActorID:      &actorID,
		ResourceType: "component",
		ResourceID:   &comp.ID,
		EventType:    TypeComponentRegistered,
		ETag:         &comp.ETag,
		Payload:      &payloadStr,
	}

	return w.LogEvent(tx, event)
}

// MilestoneChange is the payload of a milestone.updated event
type MilestoneChange struct {
	UpdateID        string        `json:"update_id"`
	Milestone       string        `json:"milestone"`
	Previous        *domain.Value `json:"previous,omitempty"`
	Value           domain.Value  `json:"value"`
	PercentComplete float64       `json:"percent_complete"`
	ClientCreatedAt time.Time     `json:"client_created_at"`
}

// LogMilestoneUpdated logs a milestone value change on a component
func (w *Writer) LogMilestoneUpdated(tx *sql.Tx, actorID string, comp *domain.Component, change MilestoneChange) (int64, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return 0, err
	}

	payloadStr := string(payload)
	event := &domain.Event{
		ActorID:      &actorID,
		ResourceType: "component",
		ResourceID:   &comp.ID,
		EventType:    TypeMilestoneUpdated,
		ETag:         &comp.ETag,
		Payload:      &payloadStr,
	}

	return w.LogEvent(tx, event)
}

// List returns events for a resource, oldest first. limit <= 0 means no limit.
func (w *Writer) List(resourceType, resourceID string, limit int) ([]domain.Event, error) {
	query := `
		SELECT id, timestamp, actor_id, resource_type, resource_id, event_type, etag, payload
		FROM event_log
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY id
	`
	args := []interface{}{resourceType, resourceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := w.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.ActorID, &ev.ResourceType, &ev.ResourceID, &ev.EventType, &ev.ETag, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp %q: %w", ts, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
