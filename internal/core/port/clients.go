package port

import (
	"context"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
)

type NotifierClient interface {
	NotifyMessageIngested(ctx context.Context, event *domain.MessageIngestedEvent) error
}

// ProviderClient is the protocol surface of one mailbox provider: the OAuth
// token endpoints plus the message APIs needed by ingestion.
type ProviderClient interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*ProviderToken, error)
	Refresh(ctx context.Context, refreshToken string) (*ProviderToken, error)
	FetchProfile(ctx context.Context, accessToken string) (*domain.ProviderProfile, error)
	FetchMessage(ctx context.Context, accessToken, messageID string) (*domain.ProviderMessage, error)
	// ListChangedMessageIDs returns message ids newer than the cursor plus
	// the next cursor value. An empty cursor asks for a fresh baseline.
	ListChangedMessageIDs(ctx context.Context, accessToken, cursor string) ([]string, string, error)
	// StartPushSubscription registers the provider-side push channel for the
	// mailbox. The returned subscription id is empty when the provider keys
	// notifications by mailbox address instead.
	StartPushSubscription(ctx context.Context, accessToken string) (string, error)
	StopPushSubscription(ctx context.Context, accessToken, subscriptionID string) error
	Scopes() []string
}

// ProviderToken is the decoded token response from a provider. RefreshToken
// is empty when the provider did not rotate it.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
