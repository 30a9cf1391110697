package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Credential holds the encrypted OAuth token material for one (user, provider)
// pair. Access and refresh tokens are encrypted by the vault before they reach
// this struct; each ciphertext carries its own IV so both can be decrypted
// independently.
type Credential struct {
	UserID          uuid.UUID
	Provider        string // gmail or outlook
	Email           string
	AccessTokenEnc  string
	AccessTokenIV   string
	RefreshTokenEnc string
	RefreshTokenIV  string
	ExpiresAt       time.Time
	Scopes          []string
	SyncCursor      string // provider delta/history pointer, opaque
	SubscriptionID  string // provider push subscription id, if any
	LastSyncedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuthState is a single-use token binding an in-flight OAuth authorization
// attempt to the user who started it. Consumed atomically on callback.
type AuthState struct {
	State     string
	UserID    uuid.UUID
	Provider  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ConnectionStatus is the user-facing view of a credential.
type ConnectionStatus struct {
	Connected    bool       `json:"connected"`
	Email        string     `json:"email,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// RateLimitCounter is one fixed window of requests for a (user, endpoint)
// pair. Windows are anchored at the first request, not calendar-aligned.
// A finished window is superseded by a new row, never updated.
type RateLimitCounter struct {
	UserID        uuid.UUID
	Endpoint      string
	WindowStart   time.Time
	Count         int
	LastRequestAt time.Time
	BlockedUntil  *time.Time
}

// RateLimitConfig is the per-endpoint policy.
type RateLimitConfig struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration // zero means deny without blocking
}

// RateLimitResult is what a rate limit check reports back to the caller.
type RateLimitResult struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// DedupEntry marks an externally-sourced message as already ingested.
// Keyed by (channel, external id); append-only.
type DedupEntry struct {
	Channel    string
	ExternalID string
	ContactID  uuid.UUID
	ActivityID uuid.UUID
	CreatedAt  time.Time
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Audit action kinds. Closed enumeration.
const (
	ActionOAuthConnected        = "oauth_connected"
	ActionOAuthDisconnected     = "oauth_disconnected"
	ActionOAuthStateRejected    = "oauth_state_rejected"
	ActionTokenRefreshed        = "token_refreshed"
	ActionReauthRequired        = "reauthorization_required"
	ActionMessageIngested       = "message_ingested"
	ActionWebhookSecretRejected = "webhook_secret_rejected"
	ActionRateLimitExceeded     = "rate_limit_exceeded"
)

// AuditEvent is one immutable, risk-classified record of a security-relevant
// action. Changes and Metadata are sanitized before persistence.
type AuditEvent struct {
	ID          int64
	Action      string
	EntityType  string
	EntityID    string
	UserID      *uuid.UUID
	PerformedBy ActorType
	IPAddress   string
	UserAgent   string
	Changes     map[string]any
	Metadata    map[string]any
	Risk        RiskLevel
	CreatedAt   time.Time
}

// Message is a provider message normalized into the unified internal shape.
type Message struct {
	Channel     string
	ExternalID  string
	UserID      uuid.UUID
	FromAddress string
	FromName    string
	Subject     string
	Body        string
	ReceivedAt  time.Time
}

// ProviderProfile is the identity returned by a provider's userinfo endpoint.
type ProviderProfile struct {
	Email string
	Name  string
}

// ProviderMessage is the raw message shape fetched from a provider API,
// before normalization.
type ProviderMessage struct {
	ID         string
	RawFrom    string // address-with-display-name header form
	Subject    string
	TextBody   string
	HTMLBody   string
	ReceivedAt time.Time
	Outbound   bool
}

type Contact struct {
	ContactID uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
}

type Lead struct {
	LeadID    uuid.UUID
	ContactID uuid.UUID
	Source    string
	CreatedAt time.Time
}

// Activity is the persisted conversation entry produced by ingesting one
// provider message.
type Activity struct {
	ActivityID  uuid.UUID
	ContactID   uuid.UUID
	LeadID      uuid.UUID
	UserID      uuid.UUID
	Channel     string
	ExternalID  string
	FromAddress string
	Subject     string
	Body        string
	ReceivedAt  time.Time
	CreatedAt   time.Time
}

// SyncSummary reports the outcome of a manual delta sync.
type SyncSummary struct {
	SyncedCount  int `json:"syncedCount"`
	SkippedCount int `json:"skippedCount"`
}
