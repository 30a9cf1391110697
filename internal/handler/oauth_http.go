package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// UserIDKey is where the auth middleware stores the resolved user id.
const UserIDKey = "userID"

var oauthStartLimit = domain.RateLimitConfig{
	MaxRequests:   10,
	Window:        15 * time.Minute,
	BlockDuration: 15 * time.Minute,
}

type OAuthHandler struct {
	tokens  port.TokenService
	limiter port.RateLimiter
}

func NewOAuthHandler(tokens port.TokenService, limiter port.RateLimiter) *OAuthHandler {
	return &OAuthHandler{tokens: tokens, limiter: limiter}
}

func (h *OAuthHandler) Start(c echo.Context) error {
	userID := c.Get(UserIDKey).(uuid.UUID)
	provider := c.Param("provider")

	result := h.limiter.Check(c.Request().Context(), userID, "oauth:start", oauthStartLimit)
	setRateHeaders(c, oauthStartLimit.MaxRequests, result)
	if !result.Allowed {
		return denyRateLimited(c, result)
	}

	authURL, err := h.tokens.BeginAuthorization(c.Request().Context(), userID, provider)
	if err != nil {
		log.WithError(err).WithField("provider", provider).Error("Failed to start authorization")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "authorization_start_failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"authUrl": authURL})
}

// Callback is the browser-facing redirect target. Its audience is an
// interactive tab, so it always renders HTML, never JSON, and never leaks
// internal detail on failure.
func (h *OAuthHandler) Callback(c echo.Context) error {
	provider := c.Param("provider")

	if errParam := c.QueryParam("error"); errParam != "" {
		log.WithFields(log.Fields{
			"provider": provider,
			"error":    errParam,
		}).Warn("Provider returned authorization error")
		return renderCallbackPage(c, false, "")
	}

	cred, err := h.tokens.CompleteAuthorization(
		c.Request().Context(),
		provider,
		c.QueryParam("code"),
		c.QueryParam("state"),
	)
	if err != nil {
		log.WithError(err).WithField("provider", provider).Warn("Authorization callback failed")
		return renderCallbackPage(c, false, "")
	}

	return renderCallbackPage(c, true, cred.Email)
}

func (h *OAuthHandler) Disconnect(c echo.Context) error {
	userID := c.Get(UserIDKey).(uuid.UUID)
	provider := c.Param("provider")

	if err := h.tokens.Disconnect(c.Request().Context(), userID, provider); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "not connected",
			})
		}
		log.WithError(err).WithField("provider", provider).Error("Disconnect failed")
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "disconnect failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "disconnected",
	})
}

func (h *OAuthHandler) Status(c echo.Context) error {
	userID := c.Get(UserIDKey).(uuid.UUID)
	provider := c.Param("provider")

	status, err := h.tokens.Status(c.Request().Context(), userID, provider)
	if err != nil {
		log.WithError(err).WithField("provider", provider).Error("Status lookup failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "status_unavailable",
		})
	}

	return c.JSON(http.StatusOK, status)
}

func renderCallbackPage(c echo.Context, success bool, email string) error {
	var body string
	if success {
		body = fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Mailbox Connected</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 60px auto; text-align: center;">
	<h1>Mailbox connected</h1>
	<p>%s is now linked. You can close this tab.</p>
</body>
</html>`, email)
	} else {
		body = `<!DOCTYPE html>
<html>
<head><title>Connection Failed</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 60px auto; text-align: center;">
	<h1>Connection failed</h1>
	<p>The authorization could not be completed. Please try connecting again.</p>
</body>
</html>`
	}
	return c.HTML(http.StatusOK, body)
}
