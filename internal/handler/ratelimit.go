package handler

import (
	"net/http"
	"strconv"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/labstack/echo/v4"
)

// setRateHeaders attaches the standard rate limit headers to every
// rate-limited response, allowed or not.
func setRateHeaders(c echo.Context, limit int, result domain.RateLimitResult) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// denyRateLimited renders the machine-readable 429 with retry timing.
func denyRateLimited(c echo.Context, result domain.RateLimitResult) error {
	c.Response().Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error":   "rate_limited",
		"message": "too many requests",
		"resetAt": result.ResetAt.Unix(),
	})
}
