package storage

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RateLimitStorage keeps the fixed-window counters. A finished window's row
// stays behind until the sweep collects it; Latest always reads the newest.
type RateLimitStorage struct {
	db *PostgresDB
}

func NewRateLimitStorage(db *PostgresDB) *RateLimitStorage {
	return &RateLimitStorage{db: db}
}

func (s *RateLimitStorage) Latest(ctx context.Context, userID uuid.UUID, endpoint string) (*domain.RateLimitCounter, error) {
	var c domain.RateLimitCounter
	err := s.db.QueryRow(ctx,
		`SELECT user_id, endpoint, window_start, count, last_request_at, blocked_until
		 FROM rate_limit_counters
		 WHERE user_id = $1 AND endpoint = $2
		 ORDER BY window_start DESC
		 LIMIT 1`,
		userID, endpoint,
	).Scan(&c.UserID, &c.Endpoint, &c.WindowStart, &c.Count, &c.LastRequestAt, &c.BlockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RateLimitStorage) Insert(ctx context.Context, counter *domain.RateLimitCounter) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO rate_limit_counters (user_id, endpoint, window_start, count, last_request_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, endpoint, window_start)
		 DO UPDATE SET count = rate_limit_counters.count + 1, last_request_at = EXCLUDED.last_request_at`,
		counter.UserID, counter.Endpoint, counter.WindowStart, counter.Count, counter.LastRequestAt,
	)
	return err
}

// Increment is conditional on the stored count so the max is enforced at the
// row even when checks race.
func (s *RateLimitStorage) Increment(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, at time.Time, max int) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE rate_limit_counters
		 SET count = count + 1, last_request_at = $1
		 WHERE user_id = $2 AND endpoint = $3 AND window_start = $4 AND count < $5`,
		at, userID, endpoint, windowStart, max,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RateLimitStorage) Block(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, until time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE rate_limit_counters
		 SET blocked_until = $1
		 WHERE user_id = $2 AND endpoint = $3 AND window_start = $4`,
		until, userID, endpoint, windowStart,
	)
	return err
}

// Sweep deletes counters past the retention horizon and clears blocks that
// have expired. Maintenance only.
func (s *RateLimitStorage) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM rate_limit_counters WHERE window_start < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	deleted := tag.RowsAffected()

	_, err = s.db.Exec(ctx,
		`UPDATE rate_limit_counters SET blocked_until = NULL
		 WHERE blocked_until IS NOT NULL AND blocked_until < now()`)
	return deleted, err
}
