package service

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RateLimiter counts requests per (user, endpoint) in fixed windows anchored
// at the first request. It fails open: if the counter store is unreachable
// the check allows the request and logs the outage, so a throttling outage
// never takes down ingestion.
type RateLimiter struct {
	storage port.RateLimitStorage
}

func NewRateLimiter(storage port.RateLimitStorage) *RateLimiter {
	return &RateLimiter{storage: storage}
}

func (r *RateLimiter) Check(ctx context.Context, userID uuid.UUID, endpoint string, cfg domain.RateLimitConfig) domain.RateLimitResult {
	now := time.Now()

	counter, err := r.storage.Latest(ctx, userID, endpoint)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.WithError(err).WithFields(log.Fields{
			"userID":   userID,
			"endpoint": endpoint,
		}).Warn("Rate limit store unreachable, failing open")
		return domain.RateLimitResult{Allowed: true, Remaining: cfg.MaxRequests, ResetAt: now.Add(cfg.Window)}
	}

	// Active block takes precedence over window accounting.
	if counter != nil && counter.BlockedUntil != nil && counter.BlockedUntil.After(now) {
		return domain.RateLimitResult{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           *counter.BlockedUntil,
			RetryAfterSeconds: retryAfter(now, *counter.BlockedUntil),
		}
	}

	if counter == nil || now.Sub(counter.WindowStart) >= cfg.Window {
		// First request ever, or the previous window has rolled over:
		// open a new window row logically after it.
		fresh := &domain.RateLimitCounter{
			UserID:        userID,
			Endpoint:      endpoint,
			WindowStart:   now,
			Count:         1,
			LastRequestAt: now,
		}
		if err := r.storage.Insert(ctx, fresh); err != nil {
			log.WithError(err).Warn("Failed to open rate limit window, failing open")
		}
		return domain.RateLimitResult{
			Allowed:   true,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   now.Add(cfg.Window),
		}
	}

	resetAt := counter.WindowStart.Add(cfg.Window)

	// The store applies the increment only while count < max, so a racing
	// pair cannot both take the window's last slot.
	applied, err := r.storage.Increment(ctx, userID, endpoint, counter.WindowStart, now, cfg.MaxRequests)
	if err != nil {
		log.WithError(err).Warn("Failed to increment rate limit counter, failing open")
		applied = true
	}
	if applied {
		remaining := cfg.MaxRequests - counter.Count - 1
		if remaining < 0 {
			remaining = 0
		}
		return domain.RateLimitResult{
			Allowed:   true,
			Remaining: remaining,
			ResetAt:   resetAt,
		}
	}

	if cfg.BlockDuration > 0 {
		until := now.Add(cfg.BlockDuration)
		if err := r.storage.Block(ctx, userID, endpoint, counter.WindowStart, until); err != nil {
			log.WithError(err).Warn("Failed to persist rate limit block")
		}
		return domain.RateLimitResult{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           until,
			RetryAfterSeconds: retryAfter(now, until),
		}
	}

	return domain.RateLimitResult{
		Allowed:           false,
		Remaining:         0,
		ResetAt:           resetAt,
		RetryAfterSeconds: retryAfter(now, resetAt),
	}
}

// Sweep drops counter rows past the retention horizon. Maintenance only, any
// cadence is fine.
func (r *RateLimiter) Sweep(ctx context.Context) {
	deleted, err := r.storage.Sweep(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		log.WithError(err).Warn("Rate limit sweep failed")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Debug("Swept expired rate limit counters")
	}
}

func retryAfter(now, until time.Time) int {
	secs := int(until.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
