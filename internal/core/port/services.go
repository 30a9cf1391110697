package port

import (
	"context"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
)

type TokenService interface {
	BeginAuthorization(ctx context.Context, userID uuid.UUID, provider string) (string, error)
	CompleteAuthorization(ctx context.Context, provider, code, state string) (*domain.Credential, error)
	GetValidAccessToken(ctx context.Context, userID uuid.UUID, provider string) (string, error)
	Disconnect(ctx context.Context, userID uuid.UUID, provider string) error
	Status(ctx context.Context, userID uuid.UUID, provider string) (*domain.ConnectionStatus, error)
}

type IngestionService interface {
	ProcessGmailNotification(ctx context.Context, emailAddress, historyID string) error
	ProcessOutlookNotification(ctx context.Context, subscriptionID, messageID string) error
	Sync(ctx context.Context, userID uuid.UUID, provider string) (*domain.SyncSummary, error)
}

type RateLimiter interface {
	// Check never returns an error: a storage failure degrades to allow.
	Check(ctx context.Context, userID uuid.UUID, endpoint string, cfg domain.RateLimitConfig) domain.RateLimitResult
}

type AuditRecorder interface {
	// Record is fire-and-forget and safe to call from any code path,
	// including error handlers.
	Record(ctx context.Context, event domain.AuditEvent)
	HighRiskEvents(ctx context.Context, hoursBack int) ([]domain.AuditEvent, error)
}

type AnalysisService interface {
	Run(ctx context.Context, event domain.MessageIngestedEvent) error
}
