// Package provider implements the mailbox provider protocol clients used by
// the ingestion pipeline: OAuth token endpoints plus the message APIs.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GmailClient talks to Google's OAuth and Gmail REST endpoints.
type GmailClient struct {
	config      *oauth2.Config
	apiBase     string
	pubsubTopic string
	http        *http.Client
}

// NewGmailClient builds the client. pubsubTopic is the Cloud Pub/Sub topic
// push notifications are delivered through; empty disables push and the
// mailbox is served by manual sync only.
func NewGmailClient(clientID, clientSecret, redirectURL, pubsubTopic string) *GmailClient {
	return &GmailClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       gmailScopes,
			Endpoint:     google.Endpoint,
		},
		apiBase:     gmailAPIBase,
		pubsubTopic: pubsubTopic,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *GmailClient) Name() string { return domain.ProviderGmail }

func (g *GmailClient) Scopes() []string { return gmailScopes }

// AuthCodeURL asks for offline access and forces the consent screen so a
// refresh token is issued even on re-authorization.
func (g *GmailClient) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GmailClient) Exchange(ctx context.Context, code string) (*port.ProviderToken, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("gmail code exchange: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (g *GmailClient) Refresh(ctx context.Context, refreshToken string) (*port.ProviderToken, error) {
	source := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("gmail token refresh: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (g *GmailClient) FetchProfile(ctx context.Context, accessToken string) (*domain.ProviderProfile, error) {
	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := g.getJSON(ctx, accessToken, "https://www.googleapis.com/oauth2/v2/userinfo", &info); err != nil {
		return nil, err
	}
	return &domain.ProviderProfile{Email: info.Email, Name: info.Name}, nil
}

type gmailMessage struct {
	ID           string           `json:"id"`
	LabelIDs     []string         `json:"labelIds"`
	InternalDate string           `json:"internalDate"` // epoch millis
	Payload      gmailMessagePart `json:"payload"`
}

type gmailMessagePart struct {
	MimeType string             `json:"mimeType"`
	Headers  []gmailHeader      `json:"headers"`
	Body     gmailPartBody      `json:"body"`
	Parts    []gmailMessagePart `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailPartBody struct {
	Data string `json:"data"`
}

func (g *GmailClient) FetchMessage(ctx context.Context, accessToken, messageID string) (*domain.ProviderMessage, error) {
	var msg gmailMessage
	endpoint := fmt.Sprintf("%s/messages/%s?format=full", g.apiBase, url.PathEscape(messageID))
	if err := g.getJSON(ctx, accessToken, endpoint, &msg); err != nil {
		return nil, err
	}

	out := &domain.ProviderMessage{ID: msg.ID}
	for _, label := range msg.LabelIDs {
		if label == "SENT" || label == "DRAFT" {
			out.Outbound = true
		}
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			out.RawFrom = h.Value
		case "Subject":
			out.Subject = h.Value
		}
	}
	if millis, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		out.ReceivedAt = time.UnixMilli(millis)
	}

	text, html := extractGmailBodies(&msg.Payload)
	out.TextBody = text
	out.HTMLBody = html
	return out, nil
}

// extractGmailBodies walks the multipart tree collecting the first
// text/plain and text/html leaves.
func extractGmailBodies(part *gmailMessagePart) (text, html string) {
	if part.Body.Data != "" {
		decoded := decodeBase64URL(part.Body.Data)
		switch part.MimeType {
		case "text/plain":
			if text == "" {
				text = decoded
			}
		case "text/html":
			if html == "" {
				html = decoded
			}
		}
	}
	for idx := range part.Parts {
		childText, childHTML := extractGmailBodies(&part.Parts[idx])
		if text == "" {
			text = childText
		}
		if html == "" {
			html = childHTML
		}
	}
	return text, html
}

func decodeBase64URL(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// ListChangedMessageIDs diffs the mailbox against a history cursor. An empty
// cursor returns no ids and a fresh baseline taken from the profile.
func (g *GmailClient) ListChangedMessageIDs(ctx context.Context, accessToken, cursor string) ([]string, string, error) {
	if cursor == "" {
		var profile struct {
			HistoryID string `json:"historyId"`
		}
		if err := g.getJSON(ctx, accessToken, g.apiBase+"/profile", &profile); err != nil {
			return nil, "", err
		}
		return nil, profile.HistoryID, nil
	}

	var ids []string
	nextCursor := cursor
	pageToken := ""
	// A burst can span several history pages; every page must be drained
	// before the cursor advances or the overflow is lost for good.
	for page := 0; page < 20; page++ {
		var history struct {
			HistoryID     string `json:"historyId"`
			NextPageToken string `json:"nextPageToken"`
			History       []struct {
				MessagesAdded []struct {
					Message struct {
						ID string `json:"id"`
					} `json:"message"`
				} `json:"messagesAdded"`
			} `json:"history"`
		}
		endpoint := fmt.Sprintf("%s/history?startHistoryId=%s&historyTypes=messageAdded", g.apiBase, url.QueryEscape(cursor))
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}
		if err := g.getJSON(ctx, accessToken, endpoint, &history); err != nil {
			return nil, "", err
		}

		for _, h := range history.History {
			for _, added := range h.MessagesAdded {
				ids = append(ids, added.Message.ID)
			}
		}
		if history.HistoryID != "" {
			nextCursor = history.HistoryID
		}
		if history.NextPageToken == "" {
			return ids, nextCursor, nil
		}
		pageToken = history.NextPageToken
	}
	return nil, cursor, fmt.Errorf("gmail history walk exceeded page limit")
}

// StartPushSubscription registers a users.watch on the inbox. Gmail keys the
// resulting notifications by mailbox address rather than a subscription id,
// so the returned id is always empty.
func (g *GmailClient) StartPushSubscription(ctx context.Context, accessToken string) (string, error) {
	if g.pubsubTopic == "" {
		return "", nil
	}

	var watch struct {
		HistoryID  string `json:"historyId"`
		Expiration string `json:"expiration"`
	}
	payload := map[string]any{
		"topicName": g.pubsubTopic,
		"labelIds":  []string{"INBOX"},
	}
	if err := g.postJSON(ctx, accessToken, g.apiBase+"/watch", payload, &watch); err != nil {
		return "", fmt.Errorf("gmail watch: %w", err)
	}
	return "", nil
}

func (g *GmailClient) StopPushSubscription(ctx context.Context, accessToken, _ string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/stop", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gmail stop watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gmail stop watch: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (g *GmailClient) postJSON(ctx context.Context, accessToken, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gmail request failed: status %d: %s", resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *GmailClient) getJSON(ctx context.Context, accessToken, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gmail request failed: status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fromOAuth2Token(token *oauth2.Token) *port.ProviderToken {
	return &port.ProviderToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}
