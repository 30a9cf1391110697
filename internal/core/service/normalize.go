package service

import (
	"net/mail"
	"strings"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
)

// minBodyLength is the cleaned-body threshold below which a message is
// treated as noise and dropped without error.
const minBodyLength = 10

// quoteIntroducers mark the start of a quoted-reply chain or a trailing
// signature. Everything from the first match onward is discarded.
var quoteIntroducers = []string{
	"-----original message-----",
	"________________________________",
	"sent from my iphone",
	"sent from my ipad",
	"sent from mobile",
	"get outlook for",
}

// NormalizeMessage turns a raw provider message into the unified internal
// representation. Returns nil when the cleaned body is too short to matter.
func NormalizeMessage(userID uuid.UUID, channel string, raw *domain.ProviderMessage) *domain.Message {
	fromAddr, fromName := parseSender(raw.RawFrom)

	body := strings.TrimSpace(raw.TextBody)
	if body == "" {
		body = stripHTML(raw.HTMLBody)
	}
	body = cleanBody(body)
	if len(body) < minBodyLength {
		return nil
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return &domain.Message{
		Channel:     channel,
		ExternalID:  raw.ID,
		UserID:      userID,
		FromAddress: fromAddr,
		FromName:    fromName,
		Subject:     strings.TrimSpace(raw.Subject),
		Body:        body,
		ReceivedAt:  receivedAt,
	}
}

// parseSender splits an address-with-display-name header ("Ada L <ada@x.io>")
// into its parts. A bare address yields an empty display name.
func parseSender(raw string) (address, name string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw)), ""
	}
	return strings.ToLower(addr.Address), addr.Name
}

// cleanBody strips quoted-reply chains and trailing signature blocks using
// fixed heuristic separators, then collapses surrounding whitespace.
func cleanBody(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			break
		}
		if trimmed == "--" || trimmed == "---" {
			break
		}
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "on ") && strings.HasSuffix(lower, "wrote:") {
			break
		}
		if matchesIntroducer(lower) {
			break
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func matchesIntroducer(lower string) bool {
	for _, intro := range quoteIntroducers {
		if strings.HasPrefix(lower, intro) {
			return true
		}
	}
	return false
}

// stripHTML reduces an HTML body to plain text: tags dropped, block-level
// closers turned into newlines, entities for the common cases decoded.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(html))
	inTag := false
	var tag strings.Builder

	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tag.String())), "/")
			if i := strings.IndexAny(name, " \t\n/"); i >= 0 {
				name = name[:i]
			}
			switch name {
			case "p", "br", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	text := b.String()
	for entity, repl := range map[string]string{
		"&nbsp;": " ",
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
	} {
		text = strings.ReplaceAll(text, entity, repl)
	}

	return strings.TrimSpace(text)
}
