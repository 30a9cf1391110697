package storage

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CredentialStorage persists encrypted OAuth credentials. Tokens arrive here
// already encrypted; this layer never sees plaintext.
type CredentialStorage struct {
	db *PostgresDB
}

func NewCredentialStorage(db *PostgresDB) *CredentialStorage {
	return &CredentialStorage{db: db}
}

const credentialColumns = `user_id, provider, email, access_token_enc, access_token_iv,
	refresh_token_enc, refresh_token_iv, expires_at, scopes, sync_cursor,
	subscription_id, last_synced_at, created_at, updated_at`

func (s *CredentialStorage) Get(ctx context.Context, userID uuid.UUID, provider string) (*domain.Credential, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	return scanCredential(row)
}

func (s *CredentialStorage) GetByEmail(ctx context.Context, provider, email string) (*domain.Credential, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider = $1 AND lower(email) = lower($2)`,
		provider, email,
	)
	return scanCredential(row)
}

func (s *CredentialStorage) GetBySubscription(ctx context.Context, provider, subscriptionID string) (*domain.Credential, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider = $1 AND subscription_id = $2`,
		provider, subscriptionID,
	)
	return scanCredential(row)
}

// Upsert writes the whole record; concurrent refreshes resolve last writer
// wins, which is acceptable since both issued tokens are valid.
func (s *CredentialStorage) Upsert(ctx context.Context, cred *domain.Credential) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (user_id, provider)
		 DO UPDATE SET
		     email = EXCLUDED.email,
		     access_token_enc = EXCLUDED.access_token_enc,
		     access_token_iv = EXCLUDED.access_token_iv,
		     refresh_token_enc = EXCLUDED.refresh_token_enc,
		     refresh_token_iv = EXCLUDED.refresh_token_iv,
		     expires_at = EXCLUDED.expires_at,
		     scopes = EXCLUDED.scopes,
		     sync_cursor = EXCLUDED.sync_cursor,
		     subscription_id = EXCLUDED.subscription_id,
		     last_synced_at = EXCLUDED.last_synced_at,
		     updated_at = EXCLUDED.updated_at`,
		cred.UserID, cred.Provider, cred.Email,
		cred.AccessTokenEnc, cred.AccessTokenIV,
		cred.RefreshTokenEnc, cred.RefreshTokenIV,
		cred.ExpiresAt, cred.Scopes, cred.SyncCursor,
		cred.SubscriptionID, cred.LastSyncedAt,
		cred.CreatedAt, time.Now(),
	)
	return err
}

func (s *CredentialStorage) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *CredentialStorage) UpdateCursor(ctx context.Context, userID uuid.UUID, provider, cursor string, syncedAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE credentials SET sync_cursor = $1, last_synced_at = $2, updated_at = $2
		 WHERE user_id = $3 AND provider = $4`,
		cursor, syncedAt, userID, provider,
	)
	return err
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.UserID, &cred.Provider, &cred.Email,
		&cred.AccessTokenEnc, &cred.AccessTokenIV,
		&cred.RefreshTokenEnc, &cred.RefreshTokenIV,
		&cred.ExpiresAt, &cred.Scopes, &cred.SyncCursor,
		&cred.SubscriptionID, &cred.LastSyncedAt,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
