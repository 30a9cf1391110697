package server

import (
	"context"
	"net/http"
	"strings"

	"crmgate.io/ingestion/internal/core/port"
	"crmgate.io/ingestion/internal/handler"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

type HTTPServer struct {
	echo *echo.Echo
}

// Config wires the handlers and the auth surface into the route table.
type Config struct {
	Tokens        port.TokenService
	Ingest        port.IngestionService
	Limiter       port.RateLimiter
	Audit         port.AuditRecorder
	Secrets       handler.SecretComparer
	APIToken      string
	WebhookSecret string
}

func NewHTTPServer(cfg Config) *HTTPServer {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	server := &HTTPServer{
		echo: e,
	}

	oauthHandler := handler.NewOAuthHandler(cfg.Tokens, cfg.Limiter)
	webhookHandler := handler.NewWebhookHandler(cfg.Ingest, cfg.Audit, cfg.Secrets, cfg.WebhookSecret)
	syncHandler := handler.NewSyncHandler(cfg.Ingest, cfg.Limiter)

	requireAuth := authMiddleware(cfg.Secrets, cfg.APIToken)

	// Unauthenticated surface: health probe, browser redirect target, and
	// provider push endpoints (those carry their own verification).
	e.GET("/health", server.healthCheck)
	e.GET("/oauth/callback/:provider", oauthHandler.Callback)
	e.POST("/webhooks/gmail", webhookHandler.Gmail)
	e.GET("/webhooks/outlook", webhookHandler.Outlook)
	e.POST("/webhooks/outlook", webhookHandler.Outlook)

	api := e.Group("/api/v1", requireAuth)
	api.POST("/oauth/:provider/start", oauthHandler.Start)
	api.POST("/oauth/:provider/disconnect", oauthHandler.Disconnect)
	api.GET("/oauth/:provider/status", oauthHandler.Status)
	api.POST("/sync/:provider", syncHandler.Handle)

	return server
}

// authMiddleware checks the bearer token and resolves the acting user from
// the X-User-ID header. Token comparison is constant time.
func authMiddleware(secrets handler.SecretComparer, apiToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiToken == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"error": "api authentication is not configured",
				})
			}

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || !secrets.ConstantTimeEqual(token, apiToken) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid or missing bearer token",
				})
			}

			userID, err := uuid.Parse(c.Request().Header.Get("X-User-ID"))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing or malformed X-User-ID header",
				})
			}

			c.Set(handler.UserIDKey, userID)
			return next(c)
		}
	}
}

func (s *HTTPServer) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ingestion",
	})
}

func (s *HTTPServer) Start(address string) error {
	log.Infof("Starting HTTP server on %s", address)
	return s.echo.Start(address)
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	log.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}
