package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmgate.io/ingestion/internal/core/domain"
)

func TestNormalizeMessage_Basic(t *testing.T) {
	userID := uuid.New()
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	msg := NormalizeMessage(userID, domain.ProviderGmail, &domain.ProviderMessage{
		ID:         "msg-123",
		RawFrom:    "Ada Lovelace <Ada@Example.COM>",
		Subject:    "  Quarterly numbers  ",
		TextBody:   "Hi, the attached sheet has what you asked for last week.",
		ReceivedAt: received,
	})

	require.NotNil(t, msg)
	assert.Equal(t, domain.ProviderGmail, msg.Channel)
	assert.Equal(t, "msg-123", msg.ExternalID)
	assert.Equal(t, userID, msg.UserID)
	assert.Equal(t, "ada@example.com", msg.FromAddress)
	assert.Equal(t, "Ada Lovelace", msg.FromName)
	assert.Equal(t, "Quarterly numbers", msg.Subject)
	assert.Equal(t, received, msg.ReceivedAt)
}

func TestNormalizeMessage_TooShortDropped(t *testing.T) {
	msg := NormalizeMessage(uuid.New(), domain.ProviderGmail, &domain.ProviderMessage{
		ID:       "msg-1",
		RawFrom:  "a@b.io",
		TextBody: "ok thx",
	})
	assert.Nil(t, msg)
}

func TestNormalizeMessage_QuotedReplyStripped(t *testing.T) {
	body := "Sounds good, let's meet Thursday.\n" +
		"\n" +
		"On Tue, Mar 10, 2026 at 4:02 PM Bob <bob@x.io> wrote:\n" +
		"> Are you free this week?\n" +
		"> Bob"

	msg := NormalizeMessage(uuid.New(), domain.ProviderGmail, &domain.ProviderMessage{
		ID:       "msg-2",
		RawFrom:  "carol@x.io",
		TextBody: body,
	})

	require.NotNil(t, msg)
	assert.Equal(t, "Sounds good, let's meet Thursday.", msg.Body)
}

func TestNormalizeMessage_SignatureStripped(t *testing.T) {
	body := "The contract draft is ready for review.\n--\nDan Smith\nVP Sales"

	msg := NormalizeMessage(uuid.New(), domain.ProviderOutlook, &domain.ProviderMessage{
		ID:       "msg-3",
		RawFrom:  "dan@corp.com",
		TextBody: body,
	})

	require.NotNil(t, msg)
	assert.Equal(t, "The contract draft is ready for review.", msg.Body)
}

func TestNormalizeMessage_MobileFooterStripped(t *testing.T) {
	body := "Can you resend the invoice from January?\n\nSent from my iPhone"

	msg := NormalizeMessage(uuid.New(), domain.ProviderGmail, &domain.ProviderMessage{
		ID:       "msg-4",
		RawFrom:  "eve@x.io",
		TextBody: body,
	})

	require.NotNil(t, msg)
	assert.Equal(t, "Can you resend the invoice from January?", msg.Body)
}

func TestNormalizeMessage_HTMLFallback(t *testing.T) {
	msg := NormalizeMessage(uuid.New(), domain.ProviderOutlook, &domain.ProviderMessage{
		ID:       "msg-5",
		RawFrom:  "frank@x.io",
		HTMLBody: "<html><body><p>Please review the &quot;final&quot; proposal &amp; pricing.</p></body></html>",
	})

	require.NotNil(t, msg)
	assert.Equal(t, `Please review the "final" proposal & pricing.`, msg.Body)
}

func TestNormalizeMessage_BareAddressSender(t *testing.T) {
	msg := NormalizeMessage(uuid.New(), domain.ProviderGmail, &domain.ProviderMessage{
		ID:       "msg-6",
		RawFrom:  "GRACE@EXAMPLE.COM",
		TextBody: "Looping back on the renewal discussion from last month.",
	})

	require.NotNil(t, msg)
	assert.Equal(t, "grace@example.com", msg.FromAddress)
	assert.Empty(t, msg.FromName)
}

func TestNormalizeMessage_MissingReceivedAtDefaults(t *testing.T) {
	before := time.Now()
	msg := NormalizeMessage(uuid.New(), domain.ProviderGmail, &domain.ProviderMessage{
		ID:       "msg-7",
		RawFrom:  "h@x.io",
		TextBody: "A long enough body to survive normalization.",
	})

	require.NotNil(t, msg)
	assert.False(t, msg.ReceivedAt.Before(before))
}

func TestStripHTML_BlockElements(t *testing.T) {
	text := stripHTML("<div>line one</div><div>line two</div><ul><li>item</li></ul>")
	assert.Contains(t, text, "line one")
	assert.Contains(t, text, "line two")
	assert.Contains(t, text, "item")
	assert.NotContains(t, text, "<")
}
