package port

import (
	"context"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
)

type CredentialStorage interface {
	Get(ctx context.Context, userID uuid.UUID, provider string) (*domain.Credential, error)
	GetByEmail(ctx context.Context, provider, email string) (*domain.Credential, error)
	GetBySubscription(ctx context.Context, provider, subscriptionID string) (*domain.Credential, error)
	Upsert(ctx context.Context, cred *domain.Credential) error
	Delete(ctx context.Context, userID uuid.UUID, provider string) error
	UpdateCursor(ctx context.Context, userID uuid.UUID, provider, cursor string, syncedAt time.Time) error
}

type AuthStateStorage interface {
	Create(ctx context.Context, state *domain.AuthState) error
	// Consume deletes the state row and returns it in one round trip, so a
	// replayed callback cannot observe it twice.
	Consume(ctx context.Context, state string) (*domain.AuthState, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type RateLimitStorage interface {
	// Latest returns the most recent counter row for the pair, or
	// domain.ErrNotFound when the user has never hit the endpoint.
	Latest(ctx context.Context, userID uuid.UUID, endpoint string) (*domain.RateLimitCounter, error)
	Insert(ctx context.Context, counter *domain.RateLimitCounter) error
	// Increment bumps the counter only while it is below max and reports
	// whether the bump was applied, so two concurrent requests cannot both
	// take the window's last slot.
	Increment(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, at time.Time, max int) (bool, error)
	Block(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, until time.Time) error
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
}

type DedupStorage interface {
	Exists(ctx context.Context, channel, externalID string) (bool, error)
	// Record returns domain.ErrDuplicateMessage when the (channel,
	// external id) pair is already present.
	Record(ctx context.Context, entry *domain.DedupEntry) error
}

type AuditStorage interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
	HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.AuditEvent, error)
}

type RecordStorage interface {
	FindOrCreateContact(ctx context.Context, email, name string) (*domain.Contact, error)
	EnsureLead(ctx context.Context, contactID uuid.UUID, source string) (*domain.Lead, error)
	CreateActivity(ctx context.Context, activity *domain.Activity) error
	GetActivity(ctx context.Context, activityID uuid.UUID) (*domain.Activity, error)
}
