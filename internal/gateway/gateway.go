// Package gateway defines the port through which queued milestone updates
// reach the authoritative store, and an HTTP client implementing it.
package gateway

import (
	"context"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
)

// Gateway applies a milestone update remotely. Failures are reported as
// *domain.ConflictError, *domain.AuthError or *domain.TransientError.
type Gateway interface {
	ApplyMilestoneUpdate(ctx context.Context, req Request) (*Result, error)
}

// Request is one milestone mutation sent to the authoritative store.
// UpdateID lets the server recognise a retried request.
type Request struct {
	UpdateID        string       `json:"update_id"`
	TargetID        string       `json:"target_id"`
	MilestoneName   string       `json:"milestone"`
	Value           domain.Value `json:"value"`
	ActorID         string       `json:"actor_id"`
	ClientCreatedAt time.Time    `json:"client_created_at"`
}

// Result is the authoritative state after an update was applied
type Result struct {
	NewState        domain.MilestoneState `json:"new_state"`
	PreviousValue   *domain.Value         `json:"previous_value,omitempty"`
	AuditID         int64                 `json:"audit_id"`
	PercentComplete float64               `json:"percent_complete"`
}

// RequestFor builds the request for a queued update
func RequestFor(u domain.QueuedUpdate) Request {
	return Request{
		UpdateID:        u.ID,
		TargetID:        u.TargetID,
		MilestoneName:   u.MilestoneName,
		Value:           u.Value,
		ActorID:         u.ActorID,
		ClientCreatedAt: u.CreatedAt,
	}
}

// Func adapts a function to the Gateway interface
type Func func(ctx context.Context, req Request) (*Result, error)

func (f Func) ApplyMilestoneUpdate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
