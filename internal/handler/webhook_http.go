package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// SecretComparer does constant-time comparison of shared secrets.
type SecretComparer interface {
	ConstantTimeEqual(a, b string) bool
}

// WebhookHandler receives push deliveries from both provider transports.
// Acknowledgments go back fast and success-shaped: a non-2xx here triggers a
// provider retry storm, and most failure modes (disconnected mailbox, stale
// subscription) are expected races, not errors.
type WebhookHandler struct {
	ingest        port.IngestionService
	audit         port.AuditRecorder
	secrets       SecretComparer
	webhookSecret string
}

func NewWebhookHandler(ingest port.IngestionService, audit port.AuditRecorder, secrets SecretComparer, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		ingest:        ingest,
		audit:         audit,
		secrets:       secrets,
		webhookSecret: webhookSecret,
	}
}

// gmailEnvelope is the store-and-forward push wrapper: the interesting part
// is base64 inside.
type gmailEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type gmailInnerPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// Gmail always answers 200: processing is best-effort and a non-2xx only
// earns us a redelivery of the same envelope.
func (h *WebhookHandler) Gmail(c echo.Context) error {
	var envelope gmailEnvelope
	if err := c.Bind(&envelope); err != nil {
		log.WithError(err).Warn("Malformed push envelope")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed envelope"})
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
	}
	if err != nil {
		log.WithError(err).Warn("Undecodable push payload")
		return c.JSON(http.StatusOK, map[string]string{})
	}

	var inner gmailInnerPayload
	if err := json.Unmarshal(decoded, &inner); err != nil || inner.EmailAddress == "" {
		log.Warn("Push payload missing mailbox identifier")
		return c.JSON(http.StatusOK, map[string]string{})
	}

	if err := h.ingest.ProcessGmailNotification(c.Request().Context(), inner.EmailAddress, inner.HistoryID.String()); err != nil {
		// Logged for operators; the provider still gets its ack and will
		// redeliver, at which point the dedup index keeps us idempotent.
		log.WithError(err).WithField("mailbox", inner.EmailAddress).Error("Push processing failed")
	}

	return c.JSON(http.StatusOK, map[string]string{})
}

type outlookNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

type outlookBatch struct {
	Value []outlookNotification `json:"value"`
}

// Outlook handles the subscription handshake and change batches. The
// validation echo must happen before any other parsing.
func (h *WebhookHandler) Outlook(c echo.Context) error {
	if token := c.QueryParam("validationToken"); token != "" {
		return c.String(http.StatusOK, token)
	}

	var batch outlookBatch
	if err := json.NewDecoder(c.Request().Body).Decode(&batch); err != nil {
		log.WithError(err).Warn("Malformed change notification batch")
		return c.NoContent(http.StatusAccepted)
	}

	for _, n := range batch.Value {
		if !h.secrets.ConstantTimeEqual(n.ClientState, h.webhookSecret) {
			// A wrong secret on an inbound notification is a plausible
			// spoofing attempt, not just noise.
			h.audit.Record(c.Request().Context(), domain.AuditEvent{
				Action:      domain.ActionWebhookSecretRejected,
				EntityType:  "webhook",
				EntityID:    n.SubscriptionID,
				PerformedBy: domain.ActorSystem,
				IPAddress:   c.RealIP(),
				Risk:        domain.RiskHigh,
				Metadata:    map[string]any{"changeType": n.ChangeType},
			})
			continue
		}

		if err := h.ingest.ProcessOutlookNotification(c.Request().Context(), n.SubscriptionID, n.ResourceData.ID); err != nil {
			log.WithError(err).WithField("subscription", n.SubscriptionID).Error("Change notification processing failed")
		}
	}

	// 202 regardless of per-record outcomes; a missing subscription owner
	// is indistinguishable from a bad record without more work than the
	// retry window allows.
	return c.NoContent(http.StatusAccepted)
}
