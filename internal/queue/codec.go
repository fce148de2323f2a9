package queue

import (
	"encoding/json"
	"fmt"

	"github.com/lherron/fieldsync/internal/domain"
)

// CurrentVersion is the blob layout version written by Encode
const CurrentVersion = 1

// Encode serializes a snapshot at CurrentVersion
func Encode(snap domain.QueueSnapshot) ([]byte, error) {
	snap.Version = CurrentVersion
	if snap.Updates == nil {
		snap.Updates = []domain.QueuedUpdate{}
	}
	if snap.FailedUpdates == nil {
		snap.FailedUpdates = []domain.QueuedUpdate{}
	}
	if snap.SyncStatus == "" {
		snap.SyncStatus = domain.SyncStatusIdle
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue: %w", err)
	}
	return data, nil
}

// Decode parses a blob, migrating older layouts forward. An empty blob
// decodes to an empty idle queue.
func Decode(data []byte) (domain.QueueSnapshot, error) {
	if len(data) == 0 {
		return emptySnapshot(), nil
	}

	var snap domain.QueueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("failed to decode queue: %w", err)
	}
	if snap.Version > CurrentVersion {
		return domain.QueueSnapshot{}, fmt.Errorf("queue blob version %d is newer than supported version %d", snap.Version, CurrentVersion)
	}
	if snap.Version == 0 {
		migrateV0(&snap)
	}

	if snap.Updates == nil {
		snap.Updates = []domain.QueuedUpdate{}
	}
	if snap.FailedUpdates == nil {
		snap.FailedUpdates = []domain.QueuedUpdate{}
	}
	if err := domain.ValidateSyncStatus(snap.SyncStatus); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("failed to decode queue: %w", err)
	}
	snap.Version = CurrentVersion
	return snap, nil
}

// migrateV0 upgrades blobs written before the version field existed. Those
// carried no status and could hold duplicate (target, milestone) entries;
// duplicates collapse onto the latest entry in queue order.
func migrateV0(snap *domain.QueueSnapshot) {
	if snap.SyncStatus == "" {
		snap.SyncStatus = domain.SyncStatusIdle
	}
	// A process that died mid-cycle leaves "syncing" behind.
	if snap.SyncStatus == domain.SyncStatusSyncing {
		snap.SyncStatus = domain.SyncStatusIdle
	}

	deduped := make([]domain.QueuedUpdate, 0, len(snap.Updates))
	for _, u := range snap.Updates {
		replaced := false
		for i := range deduped {
			if deduped[i].SameTarget(u) {
				deduped[i].Value = u.Value
				deduped[i].CreatedAt = u.CreatedAt
				deduped[i].ActorID = u.ActorID
				replaced = true
				break
			}
		}
		if !replaced {
			deduped = append(deduped, u)
		}
	}
	snap.Updates = deduped
}

func emptySnapshot() domain.QueueSnapshot {
	return domain.QueueSnapshot{
		Version:       CurrentVersion,
		Updates:       []domain.QueuedUpdate{},
		SyncStatus:    domain.SyncStatusIdle,
		FailedUpdates: []domain.QueuedUpdate{},
	}
}
