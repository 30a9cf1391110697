package storage

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

// AuthStateStorage persists pending OAuth authorization attempts so the
// callback can land on any instance, not just the one that started the flow.
type AuthStateStorage struct {
	db *PostgresDB
}

func NewAuthStateStorage(db *PostgresDB) *AuthStateStorage {
	return &AuthStateStorage{db: db}
}

func (s *AuthStateStorage) Create(ctx context.Context, state *domain.AuthState) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO oauth_states (state, user_id, provider, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		state.State, state.UserID, state.Provider, state.CreatedAt, state.ExpiresAt,
	)
	return err
}

// Consume deletes and returns the row in a single statement, which is what
// makes the state token single-use under concurrent callbacks: exactly one
// caller sees it.
func (s *AuthStateStorage) Consume(ctx context.Context, state string) (*domain.AuthState, error) {
	var st domain.AuthState
	err := s.db.QueryRow(ctx,
		`DELETE FROM oauth_states WHERE state = $1
		 RETURNING state, user_id, provider, created_at, expires_at`,
		state,
	).Scan(&st.State, &st.UserID, &st.Provider, &st.CreatedAt, &st.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *AuthStateStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
