// Package mocks provides testify mocks for the core port interfaces.
package mocks

import (
	"context"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

type CredentialStorage struct {
	mock.Mock
}

func NewCredentialStorage(t testingT) *CredentialStorage {
	m := &CredentialStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *CredentialStorage) Get(ctx context.Context, userID uuid.UUID, provider string) (*domain.Credential, error) {
	args := m.Called(ctx, userID, provider)
	var cred *domain.Credential
	if args.Get(0) != nil {
		cred = args.Get(0).(*domain.Credential)
	}
	return cred, args.Error(1)
}

func (m *CredentialStorage) GetByEmail(ctx context.Context, provider, email string) (*domain.Credential, error) {
	args := m.Called(ctx, provider, email)
	var cred *domain.Credential
	if args.Get(0) != nil {
		cred = args.Get(0).(*domain.Credential)
	}
	return cred, args.Error(1)
}

func (m *CredentialStorage) GetBySubscription(ctx context.Context, provider, subscriptionID string) (*domain.Credential, error) {
	args := m.Called(ctx, provider, subscriptionID)
	var cred *domain.Credential
	if args.Get(0) != nil {
		cred = args.Get(0).(*domain.Credential)
	}
	return cred, args.Error(1)
}

func (m *CredentialStorage) Upsert(ctx context.Context, cred *domain.Credential) error {
	return m.Called(ctx, cred).Error(0)
}

func (m *CredentialStorage) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	return m.Called(ctx, userID, provider).Error(0)
}

func (m *CredentialStorage) UpdateCursor(ctx context.Context, userID uuid.UUID, provider, cursor string, syncedAt time.Time) error {
	return m.Called(ctx, userID, provider, cursor, syncedAt).Error(0)
}

type AuthStateStorage struct {
	mock.Mock
}

func NewAuthStateStorage(t testingT) *AuthStateStorage {
	m := &AuthStateStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *AuthStateStorage) Create(ctx context.Context, state *domain.AuthState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *AuthStateStorage) Consume(ctx context.Context, state string) (*domain.AuthState, error) {
	args := m.Called(ctx, state)
	var s *domain.AuthState
	if args.Get(0) != nil {
		s = args.Get(0).(*domain.AuthState)
	}
	return s, args.Error(1)
}

func (m *AuthStateStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type RateLimitStorage struct {
	mock.Mock
}

func NewRateLimitStorage(t testingT) *RateLimitStorage {
	m := &RateLimitStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *RateLimitStorage) Latest(ctx context.Context, userID uuid.UUID, endpoint string) (*domain.RateLimitCounter, error) {
	args := m.Called(ctx, userID, endpoint)
	var counter *domain.RateLimitCounter
	if args.Get(0) != nil {
		counter = args.Get(0).(*domain.RateLimitCounter)
	}
	return counter, args.Error(1)
}

func (m *RateLimitStorage) Insert(ctx context.Context, counter *domain.RateLimitCounter) error {
	return m.Called(ctx, counter).Error(0)
}

func (m *RateLimitStorage) Increment(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, at time.Time, max int) (bool, error) {
	args := m.Called(ctx, userID, endpoint, windowStart, at, max)
	return args.Bool(0), args.Error(1)
}

func (m *RateLimitStorage) Block(ctx context.Context, userID uuid.UUID, endpoint string, windowStart, until time.Time) error {
	return m.Called(ctx, userID, endpoint, windowStart, until).Error(0)
}

func (m *RateLimitStorage) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type DedupStorage struct {
	mock.Mock
}

func NewDedupStorage(t testingT) *DedupStorage {
	m := &DedupStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *DedupStorage) Exists(ctx context.Context, channel, externalID string) (bool, error) {
	args := m.Called(ctx, channel, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *DedupStorage) Record(ctx context.Context, entry *domain.DedupEntry) error {
	return m.Called(ctx, entry).Error(0)
}

type AuditStorage struct {
	mock.Mock
}

func NewAuditStorage(t testingT) *AuditStorage {
	m := &AuditStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *AuditStorage) Insert(ctx context.Context, event *domain.AuditEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *AuditStorage) HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.AuditEvent, error) {
	args := m.Called(ctx, since, limit)
	var events []domain.AuditEvent
	if args.Get(0) != nil {
		events = args.Get(0).([]domain.AuditEvent)
	}
	return events, args.Error(1)
}

type RecordStorage struct {
	mock.Mock
}

func NewRecordStorage(t testingT) *RecordStorage {
	m := &RecordStorage{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *RecordStorage) FindOrCreateContact(ctx context.Context, email, name string) (*domain.Contact, error) {
	args := m.Called(ctx, email, name)
	var contact *domain.Contact
	if args.Get(0) != nil {
		contact = args.Get(0).(*domain.Contact)
	}
	return contact, args.Error(1)
}

func (m *RecordStorage) EnsureLead(ctx context.Context, contactID uuid.UUID, source string) (*domain.Lead, error) {
	args := m.Called(ctx, contactID, source)
	var lead *domain.Lead
	if args.Get(0) != nil {
		lead = args.Get(0).(*domain.Lead)
	}
	return lead, args.Error(1)
}

func (m *RecordStorage) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	return m.Called(ctx, activity).Error(0)
}

func (m *RecordStorage) GetActivity(ctx context.Context, activityID uuid.UUID) (*domain.Activity, error) {
	args := m.Called(ctx, activityID)
	var activity *domain.Activity
	if args.Get(0) != nil {
		activity = args.Get(0).(*domain.Activity)
	}
	return activity, args.Error(1)
}
