package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lherron/fieldsync/internal/db"
)

// DefaultBlobKey is the queue_blobs key used by the CLI
const DefaultBlobKey = "offline-queue"

// SQLitePersister stores the blob as one keyed row in queue_blobs
type SQLitePersister struct {
	db  *db.DB
	key string
}

// NewSQLitePersister returns a persister for key. The database must be migrated.
func NewSQLitePersister(database *db.DB, key string) *SQLitePersister {
	if key == "" {
		key = DefaultBlobKey
	}
	return &SQLitePersister{db: database, key: key}
}

func (p *SQLitePersister) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, "SELECT value FROM queue_blobs WHERE key = ?", p.key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue blob %q: %w", p.key, err)
	}
	return blob, nil
}

func (p *SQLitePersister) Save(ctx context.Context, blob []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO queue_blobs (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, p.key, blob)
	if err != nil {
		return fmt.Errorf("failed to save queue blob %q: %w", p.key, err)
	}
	return nil
}
