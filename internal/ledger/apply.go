package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/events"
	"github.com/lherron/fieldsync/internal/gateway"
)

// Apply records one milestone update. A request whose update id was already
// applied returns the stored result without changing anything, so client
// retries are safe. The update conflicts when another actor changed the same
// milestone after the client created its update, or when the component is
// already rejected; the stored state wins in both cases.
func (l *Ledger) Apply(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	if req.UpdateID == "" {
		return nil, &domain.ValidationError{Field: "update_id", Message: "is required"}
	}
	if req.ActorID == "" {
		return nil, &domain.ValidationError{Field: "actor_id", Message: "is required"}
	}
	if err := domain.ValidateValue(req.Value); err != nil {
		return nil, err
	}

	var result *gateway.Result
	err := l.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		replayed, err := replay(ctx, tx, req.UpdateID)
		if err != nil {
			return err
		}
		if replayed != nil {
			result = replayed
			return nil
		}

		comp, err := loadComponent(ctx, tx, req.TargetID)
		if errors.Is(err, ErrComponentNotFound) {
			return &domain.ConflictError{TargetID: req.TargetID, MilestoneName: req.MilestoneName, Reason: "component no longer exists"}
		}
		if err != nil {
			return err
		}

		tpl, err := l.templates.Get(comp.Template)
		if err != nil {
			return fmt.Errorf("component %s: %w", comp.ID, err)
		}
		if _, ok := tpl.Milestone(req.MilestoneName); !ok {
			return &domain.ValidationError{Field: "milestone", Message: fmt.Sprintf("%q is not a milestone of template %q", req.MilestoneName, tpl.Name)}
		}

		if req.MilestoneName != RejectedMilestone && comp.State[RejectedMilestone].Bool() {
			return &domain.ConflictError{TargetID: comp.ID, MilestoneName: req.MilestoneName, Reason: "component is rejected"}
		}
		if err := l.checkStale(ctx, tx, req); err != nil {
			return err
		}

		var previous *domain.Value
		if v, ok := comp.State[req.MilestoneName]; ok {
			previous = &v
		}

		now := l.now()
		raw, err := json.Marshal(req.Value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO milestone_states (component_id, milestone, value, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(component_id, milestone) DO UPDATE SET
				value = excluded.value, updated_at = excluded.updated_at, updated_by = excluded.updated_by
		`, comp.ID, req.MilestoneName, string(raw), formatTime(now), req.ActorID)
		if err != nil {
			return fmt.Errorf("failed to write milestone: %w", err)
		}

		comp.State[req.MilestoneName] = req.Value
		percent, err := l.calc.ComputePercent(tpl, comp.State)
		if err != nil {
			return err
		}

		comp.ETag++
		comp.PercentComplete = percent
		comp.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE components SET percent_complete = ?, etag = ?, updated_at = ? WHERE id = ?
		`, percent, comp.ETag, formatTime(now), comp.ID)
		if err != nil {
			return fmt.Errorf("failed to update component: %w", err)
		}

		auditID, err := ew.LogMilestoneUpdated(tx, req.ActorID, comp, events.MilestoneChange{
			UpdateID:        req.UpdateID,
			Milestone:       req.MilestoneName,
			Previous:        previous,
			Value:           req.Value,
			PercentComplete: percent,
			ClientCreatedAt: req.ClientCreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}

		result = &gateway.Result{
			NewState:        comp.State,
			PreviousValue:   previous,
			AuditID:         auditID,
			PercentComplete: percent,
		}
		stored, err := json.Marshal(result)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO applied_updates (update_id, component_id, audit_id, result, applied_at)
			VALUES (?, ?, ?, ?, ?)
		`, req.UpdateID, comp.ID, auditID, string(stored), formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to record applied update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyMilestoneUpdate lets a Ledger serve as an in-process gateway
func (l *Ledger) ApplyMilestoneUpdate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	return l.Apply(ctx, req)
}

func replay(ctx context.Context, tx *sql.Tx, updateID string) (*gateway.Result, error) {
	var stored string
	err := tx.QueryRowContext(ctx, "SELECT result FROM applied_updates WHERE update_id = ?", updateID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check applied updates: %w", err)
	}
	var res gateway.Result
	if err := json.Unmarshal([]byte(stored), &res); err != nil {
		return nil, fmt.Errorf("invalid stored result for update %s: %w", updateID, err)
	}
	return &res, nil
}

// checkStale reports a conflict when another actor wrote the milestone after
// the client created its update
func (l *Ledger) checkStale(ctx context.Context, tx *sql.Tx, req gateway.Request) error {
	var updatedAt, updatedBy string
	err := tx.QueryRowContext(ctx, `
		SELECT updated_at, updated_by FROM milestone_states WHERE component_id = ? AND milestone = ?
	`, req.TargetID, req.MilestoneName).Scan(&updatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load milestone: %w", err)
	}
	if updatedBy == req.ActorID || req.ClientCreatedAt.IsZero() {
		return nil
	}

	at, err := parseTime(updatedAt)
	if err != nil {
		return err
	}
	if at.After(req.ClientCreatedAt) {
		return &domain.ConflictError{
			TargetID:      req.TargetID,
			MilestoneName: req.MilestoneName,
			Reason:        fmt.Sprintf("updated by %s at %s", updatedBy, updatedAt),
		}
	}
	return nil
}
