package service

import (
	"context"
	"strings"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	log "github.com/sirupsen/logrus"
)

const redactionMarker = "[REDACTED]"

// Keys whose lowercased name contains one of these substrings have their
// values replaced before the event is persisted.
var sensitiveKeySubstrings = []string{
	"access_token",
	"refresh_token",
	"client_secret",
	"api_key",
	"authorization",
	"token",
	"password",
	"secret",
}

// AuditLog records immutable, risk-classified events. Record never fails the
// operation it describes: a persist failure is logged locally and swallowed,
// so the call is safe in any code path including error handlers.
type AuditLog struct {
	storage port.AuditStorage
	timeout time.Duration
}

func NewAuditLog(storage port.AuditStorage) *AuditLog {
	return &AuditLog{storage: storage, timeout: 2 * time.Second}
}

func (a *AuditLog) Record(ctx context.Context, event domain.AuditEvent) {
	event.Changes = sanitizeMap(event.Changes)
	event.Metadata = sanitizeMap(event.Metadata)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.PerformedBy == "" {
		event.PerformedBy = domain.ActorSystem
	}

	// High and critical events also go to the operational channel so they
	// are visible before anyone queries the durable store.
	if event.Risk == domain.RiskHigh || event.Risk == domain.RiskCritical {
		log.WithFields(log.Fields{
			"action":     event.Action,
			"entityType": event.EntityType,
			"entityID":   event.EntityID,
			"risk":       event.Risk,
		}).Warn("High-risk audit event")
	}

	// Detached from the caller's cancellation with its own bound, so a slow
	// audit store cannot hold up or abort the primary operation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.storage.Insert(writeCtx, &event); err != nil {
		log.WithError(err).WithField("action", event.Action).Error("Failed to persist audit event")
	}
}

func (a *AuditLog) HighRiskEvents(ctx context.Context, hoursBack int) ([]domain.AuditEvent, error) {
	since := time.Now().Add(-time.Duration(hoursBack) * time.Hour)
	return a.storage.HighRisk(ctx, since, 100)
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactionMarker
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range sensitiveKeySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
