package mocks

import (
	"context"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/stretchr/testify/mock"
)

type NotifierClient struct {
	mock.Mock
}

func NewNotifierClient(t testingT) *NotifierClient {
	m := &NotifierClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *NotifierClient) NotifyMessageIngested(ctx context.Context, event *domain.MessageIngestedEvent) error {
	return m.Called(ctx, event).Error(0)
}

type ProviderClient struct {
	mock.Mock
}

func NewProviderClient(t testingT) *ProviderClient {
	m := &ProviderClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ProviderClient) Name() string {
	return m.Called().String(0)
}

func (m *ProviderClient) AuthCodeURL(state string) string {
	return m.Called(state).String(0)
}

func (m *ProviderClient) Exchange(ctx context.Context, code string) (*port.ProviderToken, error) {
	args := m.Called(ctx, code)
	var token *port.ProviderToken
	if args.Get(0) != nil {
		token = args.Get(0).(*port.ProviderToken)
	}
	return token, args.Error(1)
}

func (m *ProviderClient) Refresh(ctx context.Context, refreshToken string) (*port.ProviderToken, error) {
	args := m.Called(ctx, refreshToken)
	var token *port.ProviderToken
	if args.Get(0) != nil {
		token = args.Get(0).(*port.ProviderToken)
	}
	return token, args.Error(1)
}

func (m *ProviderClient) FetchProfile(ctx context.Context, accessToken string) (*domain.ProviderProfile, error) {
	args := m.Called(ctx, accessToken)
	var profile *domain.ProviderProfile
	if args.Get(0) != nil {
		profile = args.Get(0).(*domain.ProviderProfile)
	}
	return profile, args.Error(1)
}

func (m *ProviderClient) FetchMessage(ctx context.Context, accessToken, messageID string) (*domain.ProviderMessage, error) {
	args := m.Called(ctx, accessToken, messageID)
	var msg *domain.ProviderMessage
	if args.Get(0) != nil {
		msg = args.Get(0).(*domain.ProviderMessage)
	}
	return msg, args.Error(1)
}

func (m *ProviderClient) ListChangedMessageIDs(ctx context.Context, accessToken, cursor string) ([]string, string, error) {
	args := m.Called(ctx, accessToken, cursor)
	var ids []string
	if args.Get(0) != nil {
		ids = args.Get(0).([]string)
	}
	return ids, args.String(1), args.Error(2)
}

func (m *ProviderClient) StartPushSubscription(ctx context.Context, accessToken string) (string, error) {
	args := m.Called(ctx, accessToken)
	return args.String(0), args.Error(1)
}

func (m *ProviderClient) StopPushSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	return m.Called(ctx, accessToken, subscriptionID).Error(0)
}

func (m *ProviderClient) Scopes() []string {
	args := m.Called()
	var scopes []string
	if args.Get(0) != nil {
		scopes = args.Get(0).([]string)
	}
	return scopes
}
