package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// webhookRateLimit is deliberately generous: it guards against a misbehaving
// provider or a replay storm, not legitimate bursty delivery.
var webhookRateLimit = domain.RateLimitConfig{
	MaxRequests: 300,
	Window:      time.Minute,
}

// fetchTimeout bounds every provider message fetch so a slow provider cannot
// hold the pipeline open indefinitely.
const fetchTimeout = 15 * time.Second

// IngestionService runs the per-message pipeline behind both webhook
// variants and the manual delta sync: dedup check, rate gate, fetch,
// normalize, record sink, dedup insert, audit, async analysis trigger.
type IngestionService struct {
	credentials port.CredentialStorage
	dedup       port.DedupStorage
	records     port.RecordStorage
	limiter     port.RateLimiter
	tokens      port.TokenService
	audit       port.AuditRecorder
	notifier    port.NotifierClient
	providers   map[string]port.ProviderClient
}

func NewIngestionService(
	credentials port.CredentialStorage,
	dedup port.DedupStorage,
	records port.RecordStorage,
	limiter port.RateLimiter,
	tokens port.TokenService,
	audit port.AuditRecorder,
	notifier port.NotifierClient,
	providers map[string]port.ProviderClient,
) *IngestionService {
	return &IngestionService{
		credentials: credentials,
		dedup:       dedup,
		records:     records,
		limiter:     limiter,
		tokens:      tokens,
		audit:       audit,
		notifier:    notifier,
		providers:   providers,
	}
}

// ProcessGmailNotification handles one decoded push envelope. A mailbox with
// no credential is an expected race with disconnection and acknowledged as a
// no-op, never an error.
func (i *IngestionService) ProcessGmailNotification(ctx context.Context, emailAddress, historyID string) error {
	cred, err := i.credentials.GetByEmail(ctx, domain.ProviderGmail, emailAddress)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.WithField("mailbox", emailAddress).Info("Notification for unknown mailbox, ignoring")
			return nil
		}
		return fmt.Errorf("failed to resolve mailbox: %w", err)
	}

	if !i.gate(ctx, cred.UserID, "webhook:gmail") {
		return nil
	}

	// First notification just anchors the cursor; there is nothing older
	// to diff against.
	if cred.SyncCursor == "" {
		return i.credentials.UpdateCursor(ctx, cred.UserID, cred.Provider, historyID, time.Now())
	}

	_, err = i.ingestChanges(ctx, cred)
	return err
}

// ProcessOutlookNotification handles one change record from a subscription
// batch. The shared-secret check happened in the handler; an unknown
// subscription is dropped silently, it usually means the owner disconnected.
func (i *IngestionService) ProcessOutlookNotification(ctx context.Context, subscriptionID, messageID string) error {
	cred, err := i.credentials.GetBySubscription(ctx, domain.ProviderOutlook, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.WithField("subscription", subscriptionID).Info("Notification for unknown subscription, ignoring")
			return nil
		}
		return fmt.Errorf("failed to resolve subscription: %w", err)
	}

	if !i.gate(ctx, cred.UserID, "webhook:outlook") {
		return nil
	}

	client, err := i.provider(cred.Provider)
	if err != nil {
		return err
	}
	access, err := i.tokens.GetValidAccessToken(ctx, cred.UserID, cred.Provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrReauthorizationRequired) {
			log.WithField("subscription", subscriptionID).Info("Credential gone mid-delivery, ignoring")
			return nil
		}
		return err
	}

	_, err = i.ingestOne(ctx, client, cred, access, messageID)
	return err
}

// Sync runs a manual delta sync from the stored cursor and reports counts.
func (i *IngestionService) Sync(ctx context.Context, userID uuid.UUID, provider string) (*domain.SyncSummary, error) {
	cred, err := i.credentials.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotConnected
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	return i.ingestChanges(ctx, cred)
}

// ingestChanges lists message ids newer than the stored cursor, runs each
// through the pipeline, and advances the cursor. Per-message failures are
// logged and counted as skipped; they do not abort the batch.
func (i *IngestionService) ingestChanges(ctx context.Context, cred *domain.Credential) (*domain.SyncSummary, error) {
	client, err := i.provider(cred.Provider)
	if err != nil {
		return nil, err
	}

	access, err := i.tokens.GetValidAccessToken(ctx, cred.UserID, cred.Provider)
	if err != nil {
		return nil, err
	}

	ids, nextCursor, err := client.ListChangedMessageIDs(ctx, access, cred.SyncCursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed messages: %w", err)
	}

	summary := &domain.SyncSummary{}
	for _, id := range ids {
		ingested, err := i.ingestOne(ctx, client, cred, access, id)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"provider":  cred.Provider,
				"messageID": id,
			}).Error("Failed to ingest message")
			summary.SkippedCount++
			continue
		}
		if ingested {
			summary.SyncedCount++
		} else {
			summary.SkippedCount++
		}
	}

	if nextCursor != "" && nextCursor != cred.SyncCursor {
		if err := i.credentials.UpdateCursor(ctx, cred.UserID, cred.Provider, nextCursor, time.Now()); err != nil {
			log.WithError(err).Warn("Failed to advance sync cursor")
		}
	}

	return summary, nil
}

// ingestOne runs the full pipeline for a single provider message id.
// Returns (false, nil) when the message was legitimately skipped: already
// ingested, outbound, or noise.
func (i *IngestionService) ingestOne(ctx context.Context, client port.ProviderClient, cred *domain.Credential, access, messageID string) (bool, error) {
	seen, err := i.dedup.Exists(ctx, cred.Provider, messageID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if seen {
		return false, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	raw, err := client.FetchMessage(fetchCtx, access, messageID)
	if err != nil {
		// Soft failure: nothing was written, provider redelivery will retry.
		return false, fmt.Errorf("message fetch failed: %w", err)
	}
	if raw.Outbound {
		return false, nil
	}

	msg := NormalizeMessage(cred.UserID, cred.Provider, raw)
	if msg == nil {
		return false, nil
	}
	// Providers that cannot flag direction cheaply leave Outbound unset;
	// a message from the mailbox owner is self-sent either way.
	if strings.EqualFold(msg.FromAddress, cred.Email) {
		return false, nil
	}

	contact, err := i.records.FindOrCreateContact(ctx, msg.FromAddress, msg.FromName)
	if err != nil {
		return false, fmt.Errorf("contact resolution failed: %w", err)
	}
	lead, err := i.records.EnsureLead(ctx, contact.ContactID, cred.Provider)
	if err != nil {
		return false, fmt.Errorf("lead resolution failed: %w", err)
	}

	activity := &domain.Activity{
		ActivityID:  uuid.New(),
		ContactID:   contact.ContactID,
		LeadID:      lead.LeadID,
		UserID:      cred.UserID,
		Channel:     msg.Channel,
		ExternalID:  msg.ExternalID,
		FromAddress: msg.FromAddress,
		Subject:     msg.Subject,
		Body:        msg.Body,
		ReceivedAt:  msg.ReceivedAt,
	}
	if err := i.records.CreateActivity(ctx, activity); err != nil {
		return false, fmt.Errorf("activity persist failed: %w", err)
	}

	if err := i.dedup.Record(ctx, &domain.DedupEntry{
		Channel:    cred.Provider,
		ExternalID: messageID,
		ContactID:  contact.ContactID,
		ActivityID: activity.ActivityID,
	}); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			// An overlapping delivery won the race; same outcome as the
			// pre-check hit.
			return false, nil
		}
		return false, fmt.Errorf("dedup insert failed: %w", err)
	}

	i.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionMessageIngested,
		EntityType:  "activity",
		EntityID:    activity.ActivityID.String(),
		UserID:      &cred.UserID,
		PerformedBy: domain.ActorSystem,
		Risk:        domain.RiskLow,
		Metadata: map[string]any{
			"provider":   cred.Provider,
			"contact_id": contact.ContactID.String(),
		},
	})

	// Fire-and-forget: downstream analysis must never fail an ingestion
	// that has already been acknowledged to the provider.
	if err := i.notifier.NotifyMessageIngested(ctx, &domain.MessageIngestedEvent{
		ActivityID: activity.ActivityID,
		ContactID:  contact.ContactID,
		UserID:     cred.UserID,
		Channel:    cred.Provider,
		IngestedAt: time.Now(),
	}); err != nil {
		log.WithError(err).WithField("activityID", activity.ActivityID).Error("Failed to publish ingestion event")
	}

	return true, nil
}

func (i *IngestionService) gate(ctx context.Context, userID uuid.UUID, endpoint string) bool {
	result := i.limiter.Check(ctx, userID, endpoint, webhookRateLimit)
	if result.Allowed {
		return true
	}
	log.WithFields(log.Fields{
		"userID":   userID,
		"endpoint": endpoint,
		"retryIn":  result.RetryAfterSeconds,
	}).Warn("Webhook delivery rate limited")
	i.audit.Record(ctx, domain.AuditEvent{
		Action:      domain.ActionRateLimitExceeded,
		EntityType:  "rate_limit",
		EntityID:    endpoint,
		UserID:      &userID,
		PerformedBy: domain.ActorSystem,
		Risk:        domain.RiskMedium,
		Metadata:    map[string]any{"endpoint": endpoint},
	})
	return false
}

func (i *IngestionService) provider(name string) (port.ProviderClient, error) {
	client, ok := i.providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
	return client, nil
}
