package handler

import (
	"errors"
	"net/http"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var syncRateLimit = domain.RateLimitConfig{
	MaxRequests: 30,
	Window:      time.Minute,
}

type SyncHandler struct {
	ingest  port.IngestionService
	limiter port.RateLimiter
}

func NewSyncHandler(ingest port.IngestionService, limiter port.RateLimiter) *SyncHandler {
	return &SyncHandler{ingest: ingest, limiter: limiter}
}

func (h *SyncHandler) Handle(c echo.Context) error {
	userID := c.Get(UserIDKey).(uuid.UUID)
	provider := c.Param("provider")

	result := h.limiter.Check(c.Request().Context(), userID, "sync:"+provider, syncRateLimit)
	setRateHeaders(c, syncRateLimit.MaxRequests, result)
	if !result.Allowed {
		return denyRateLimited(c, result)
	}

	summary, err := h.ingest.Sync(c.Request().Context(), userID, provider)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotConnected):
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error":   "not_connected",
				"message": "connect the provider before syncing",
			})
		case errors.Is(err, domain.ErrReauthorizationRequired):
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "reauthorization_required",
				"message": "the stored credential is no longer valid",
			})
		default:
			log.WithError(err).WithField("provider", provider).Error("Manual sync failed")
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error":   "sync_failed",
				"message": "provider sync failed, try again later",
			})
		}
	}

	return c.JSON(http.StatusOK, summary)
}
