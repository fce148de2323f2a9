package domain

import (
	"fmt"
	"strings"
)

// ValidateMilestoneKind validates a milestone kind
func ValidateMilestoneKind(kind MilestoneKind) error {
	switch kind {
	case MilestoneKindDiscrete, MilestoneKindPartial:
		return nil
	default:
		return fmt.Errorf("invalid milestone kind %q: must be one of: discrete, partial", kind)
	}
}

// ValidateSyncStatus validates a sync status
func ValidateSyncStatus(status SyncStatus) error {
	switch status {
	case SyncStatusIdle, SyncStatusSyncing, SyncStatusError:
		return nil
	default:
		return fmt.Errorf("invalid sync status %q: must be one of: idle, syncing, error", status)
	}
}

// ValidateValue checks that a percent value is within 0-100
func ValidateValue(v Value) error {
	if v.IsPercent() && (v.percent < 0 || v.percent > 100) {
		return &ValidationError{Field: "value", Message: fmt.Sprintf("percent must be between 0 and 100, got %d", v.percent)}
	}
	return nil
}

// ValidateUpdate checks the fields a queued update must carry
func ValidateUpdate(u QueuedUpdate) error {
	if strings.TrimSpace(u.TargetID) == "" {
		return &ValidationError{Field: "targetId", Message: "must not be empty"}
	}
	if strings.TrimSpace(u.MilestoneName) == "" {
		return &ValidationError{Field: "milestoneName", Message: "must not be empty"}
	}
	if strings.TrimSpace(u.ActorID) == "" {
		return &ValidationError{Field: "actorId", Message: "must not be empty"}
	}
	return ValidateValue(u.Value)
}
