package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// Refresh once the access token has less than this much life left.
	refreshMargin = 5 * time.Minute

	// Authorization attempts expire if the user does not complete the
	// consent screen within this window.
	authStateTTL = 10 * time.Minute
)

// TokenService owns the credential lifecycle for every (user, provider)
// pair: authorization start and callback, transparent refresh, disconnect.
// All token material crosses the vault boundary before persistence.
type TokenService struct {
	vault       *Vault
	credentials port.CredentialStorage
	states      port.AuthStateStorage
	audit       port.AuditRecorder
	providers   map[string]port.ProviderClient
}

func NewTokenService(
	vault *Vault,
	credentials port.CredentialStorage,
	states port.AuthStateStorage,
	audit port.AuditRecorder,
	providers map[string]port.ProviderClient,
) *TokenService {
	return &TokenService{
		vault:       vault,
		credentials: credentials,
		states:      states,
		audit:       audit,
		providers:   providers,
	}
}

func (t *TokenService) BeginAuthorization(ctx context.Context, userID uuid.UUID, provider string) (string, error) {
	client, err := t.provider(provider)
	if err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now()
	if err := t.states.Create(ctx, &domain.AuthState{
		State:     state,
		UserID:    userID,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(authStateTTL),
	}); err != nil {
		return "", fmt.Errorf("failed to persist authorization state: %w", err)
	}

	return client.AuthCodeURL(state), nil
}

func (t *TokenService) CompleteAuthorization(ctx context.Context, provider, code, state string) (*domain.Credential, error) {
	client, err := t.provider(provider)
	if err != nil {
		return nil, err
	}

	if code == "" || state == "" {
		t.rejectState(ctx, provider, "missing code or state parameter")
		return nil, domain.ErrStateInvalid
	}

	pending, err := t.states.Consume(ctx, state)
	if err != nil {
		t.rejectState(ctx, provider, "unknown or already consumed state")
		return nil, domain.ErrStateInvalid
	}
	if pending.Provider != provider || pending.ExpiresAt.Before(time.Now()) {
		t.rejectState(ctx, provider, "expired or mismatched state")
		return nil, domain.ErrStateInvalid
	}

	token, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("provider did not issue a refresh token")
	}

	profile, err := client.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider profile: %w", err)
	}

	cred, err := t.sealCredential(pending.UserID, provider, profile.Email, token, client.Scopes())
	if err != nil {
		return nil, err
	}

	// Register the provider push channel while the fresh access token is in
	// hand. Failure leaves the mailbox on manual sync only, so the
	// authorization itself still succeeds.
	subscriptionID, err := client.StartPushSubscription(ctx, token.AccessToken)
	if err != nil {
		log.WithError(err).WithField("provider", provider).Warn("Failed to start push subscription")
	} else {
		cred.SubscriptionID = subscriptionID
	}

	if err := t.credentials.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	t.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionOAuthConnected,
		EntityType:  "credential",
		EntityID:    provider,
		UserID:      &pending.UserID,
		PerformedBy: domain.ActorUser,
		Risk:        domain.RiskMedium,
		Metadata: map[string]any{
			"provider": provider,
			"email":    profile.Email,
			"scopes":   client.Scopes(),
		},
	})

	return cred, nil
}

// GetValidAccessToken returns a plaintext access token, refreshing and
// re-persisting the credential when it is within the safety margin of
// expiry. Two concurrent refreshes for the same pair may both run; the last
// writer wins and both issued tokens remain valid at the provider.
func (t *TokenService) GetValidAccessToken(ctx context.Context, userID uuid.UUID, provider string) (string, error) {
	client, err := t.provider(provider)
	if err != nil {
		return "", err
	}

	cred, err := t.credentials.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotConnected
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	if time.Until(cred.ExpiresAt) > refreshMargin {
		access, err := t.vault.Decrypt(cred.AccessTokenEnc, cred.AccessTokenIV)
		if err != nil {
			t.invalidate(ctx, cred, "token decryption failed")
			return "", domain.ErrReauthorizationRequired
		}
		return access, nil
	}

	return t.refresh(ctx, client, cred)
}

func (t *TokenService) refresh(ctx context.Context, client port.ProviderClient, cred *domain.Credential) (string, error) {
	refreshToken, err := t.vault.Decrypt(cred.RefreshTokenEnc, cred.RefreshTokenIV)
	if err != nil {
		t.invalidate(ctx, cred, "token decryption failed")
		return "", domain.ErrReauthorizationRequired
	}

	token, err := client.Refresh(ctx, refreshToken)
	if err != nil {
		if isPermanentRefreshError(err) {
			// The refresh token is dead. Delete the record outright so the
			// next caller sees a clean "connect again" state.
			t.invalidate(ctx, cred, "refresh token rejected by provider")
			return "", domain.ErrReauthorizationRequired
		}

		// Transient provider failure. The current token may still be
		// briefly usable if it has not actually expired yet.
		if time.Now().Before(cred.ExpiresAt) {
			log.WithError(err).WithField("provider", cred.Provider).Warn("Refresh failed, serving not-yet-expired token")
			access, decErr := t.vault.Decrypt(cred.AccessTokenEnc, cred.AccessTokenIV)
			if decErr != nil {
				t.invalidate(ctx, cred, "token decryption failed")
				return "", domain.ErrReauthorizationRequired
			}
			return access, nil
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	// Providers rotate the refresh token only sometimes; keep the old one
	// when no replacement was issued.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	updated, err := t.sealCredential(cred.UserID, cred.Provider, cred.Email, token, cred.Scopes)
	if err != nil {
		return "", err
	}
	updated.SyncCursor = cred.SyncCursor
	updated.SubscriptionID = cred.SubscriptionID
	updated.LastSyncedAt = cred.LastSyncedAt
	updated.CreatedAt = cred.CreatedAt

	if err := t.credentials.Upsert(ctx, updated); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	t.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionTokenRefreshed,
		EntityType:  "credential",
		EntityID:    cred.Provider,
		UserID:      &cred.UserID,
		PerformedBy: domain.ActorSystem,
		Risk:        domain.RiskLow,
		Metadata:    map[string]any{"provider": cred.Provider, "expires_at": token.ExpiresAt},
	})

	return token.AccessToken, nil
}

func (t *TokenService) Disconnect(ctx context.Context, userID uuid.UUID, provider string) error {
	client, err := t.provider(provider)
	if err != nil {
		return err
	}

	cred, err := t.credentials.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotConnected
		}
		return fmt.Errorf("failed to load credential: %w", err)
	}

	// Best effort: tear down the provider-side push subscription while the
	// access token is still usable.
	if cred.SubscriptionID != "" {
		if access, decErr := t.vault.Decrypt(cred.AccessTokenEnc, cred.AccessTokenIV); decErr == nil {
			if stopErr := client.StopPushSubscription(ctx, access, cred.SubscriptionID); stopErr != nil {
				log.WithError(stopErr).WithField("provider", provider).Warn("Failed to stop push subscription")
			}
		}
	}

	if err := t.credentials.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	t.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionOAuthDisconnected,
		EntityType:  "credential",
		EntityID:    provider,
		UserID:      &userID,
		PerformedBy: domain.ActorUser,
		Risk:        domain.RiskLow,
		Metadata:    map[string]any{"provider": provider, "email": cred.Email},
	})

	return nil
}

func (t *TokenService) Status(ctx context.Context, userID uuid.UUID, provider string) (*domain.ConnectionStatus, error) {
	cred, err := t.credentials.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ConnectionStatus{Connected: false}, nil
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	status := &domain.ConnectionStatus{
		Connected:   true,
		Email:       cred.Email,
		Scopes:      cred.Scopes,
		ConnectedAt: &cred.CreatedAt,
	}
	if !cred.LastSyncedAt.IsZero() {
		status.LastSyncedAt = &cred.LastSyncedAt
	}
	return status, nil
}

func (t *TokenService) sealCredential(userID uuid.UUID, provider, email string, token *port.ProviderToken, scopes []string) (*domain.Credential, error) {
	accessEnc, accessIV, err := t.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, refreshIV, err := t.vault.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now()
	return &domain.Credential{
		UserID:          userID,
		Provider:        provider,
		Email:           email,
		AccessTokenEnc:  accessEnc,
		AccessTokenIV:   accessIV,
		RefreshTokenEnc: refreshEnc,
		RefreshTokenIV:  refreshIV,
		ExpiresAt:       token.ExpiresAt,
		Scopes:          scopes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// invalidate removes a credential that can no longer produce a usable access
// token, so Status reports disconnected instead of a dead connection. A
// concurrent caller may have removed it already; that is fine.
func (t *TokenService) invalidate(ctx context.Context, cred *domain.Credential, reason string) {
	if err := t.credentials.Delete(ctx, cred.UserID, cred.Provider); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.WithError(err).Warn("Failed to delete invalidated credential")
	}
	t.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionReauthRequired,
		EntityType:  "credential",
		EntityID:    cred.Provider,
		UserID:      &cred.UserID,
		PerformedBy: domain.ActorSystem,
		Risk:        domain.RiskHigh,
		Metadata:    map[string]any{"provider": cred.Provider, "email": cred.Email, "reason": reason},
	})
}

func (t *TokenService) provider(name string) (port.ProviderClient, error) {
	client, ok := t.providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
	return client, nil
}

func (t *TokenService) rejectState(ctx context.Context, provider, reason string) {
	t.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionOAuthStateRejected,
		EntityType:  "auth_state",
		EntityID:    provider,
		PerformedBy: domain.ActorSystem,
		Risk:        domain.RiskHigh,
		Metadata:    map[string]any{"provider": provider, "reason": reason},
	})
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
