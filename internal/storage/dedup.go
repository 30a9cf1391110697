package storage

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// DedupStorage is the append-only index of externally-sourced message ids.
// The primary key on (channel, external_id) is the whole concurrency story:
// the second of two overlapping writers gets the constraint violation.
type DedupStorage struct {
	db *PostgresDB
}

func NewDedupStorage(db *PostgresDB) *DedupStorage {
	return &DedupStorage{db: db}
}

func (s *DedupStorage) Exists(ctx context.Context, channel, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ingested_messages WHERE channel = $1 AND external_id = $2)`,
		channel, externalID,
	).Scan(&exists)
	return exists, err
}

func (s *DedupStorage) Record(ctx context.Context, entry *domain.DedupEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ingested_messages (channel, external_id, contact_id, activity_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Channel, entry.ExternalID, entry.ContactID, entry.ActivityID, time.Now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateMessage
		}
		return err
	}
	return nil
}
