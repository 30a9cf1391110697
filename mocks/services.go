package mocks

import (
	"context"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type TokenService struct {
	mock.Mock
}

func NewTokenService(t testingT) *TokenService {
	m := &TokenService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *TokenService) BeginAuthorization(ctx context.Context, userID uuid.UUID, provider string) (string, error) {
	args := m.Called(ctx, userID, provider)
	return args.String(0), args.Error(1)
}

func (m *TokenService) CompleteAuthorization(ctx context.Context, provider, code, state string) (*domain.Credential, error) {
	args := m.Called(ctx, provider, code, state)
	var cred *domain.Credential
	if args.Get(0) != nil {
		cred = args.Get(0).(*domain.Credential)
	}
	return cred, args.Error(1)
}

func (m *TokenService) GetValidAccessToken(ctx context.Context, userID uuid.UUID, provider string) (string, error) {
	args := m.Called(ctx, userID, provider)
	return args.String(0), args.Error(1)
}

func (m *TokenService) Disconnect(ctx context.Context, userID uuid.UUID, provider string) error {
	return m.Called(ctx, userID, provider).Error(0)
}

func (m *TokenService) Status(ctx context.Context, userID uuid.UUID, provider string) (*domain.ConnectionStatus, error) {
	args := m.Called(ctx, userID, provider)
	var status *domain.ConnectionStatus
	if args.Get(0) != nil {
		status = args.Get(0).(*domain.ConnectionStatus)
	}
	return status, args.Error(1)
}

type IngestionService struct {
	mock.Mock
}

func NewIngestionService(t testingT) *IngestionService {
	m := &IngestionService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *IngestionService) ProcessGmailNotification(ctx context.Context, emailAddress, historyID string) error {
	return m.Called(ctx, emailAddress, historyID).Error(0)
}

func (m *IngestionService) ProcessOutlookNotification(ctx context.Context, subscriptionID, messageID string) error {
	return m.Called(ctx, subscriptionID, messageID).Error(0)
}

func (m *IngestionService) Sync(ctx context.Context, userID uuid.UUID, provider string) (*domain.SyncSummary, error) {
	args := m.Called(ctx, userID, provider)
	var summary *domain.SyncSummary
	if args.Get(0) != nil {
		summary = args.Get(0).(*domain.SyncSummary)
	}
	return summary, args.Error(1)
}

type RateLimiter struct {
	mock.Mock
}

func NewRateLimiter(t testingT) *RateLimiter {
	m := &RateLimiter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *RateLimiter) Check(ctx context.Context, userID uuid.UUID, endpoint string, cfg domain.RateLimitConfig) domain.RateLimitResult {
	args := m.Called(ctx, userID, endpoint, cfg)
	return args.Get(0).(domain.RateLimitResult)
}

type AuditRecorder struct {
	mock.Mock
}

func NewAuditRecorder(t testingT) *AuditRecorder {
	m := &AuditRecorder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *AuditRecorder) Record(ctx context.Context, event domain.AuditEvent) {
	m.Called(ctx, event)
}

func (m *AuditRecorder) HighRiskEvents(ctx context.Context, hoursBack int) ([]domain.AuditEvent, error) {
	args := m.Called(ctx, hoursBack)
	var events []domain.AuditEvent
	if args.Get(0) != nil {
		events = args.Get(0).([]domain.AuditEvent)
	}
	return events, args.Error(1)
}
