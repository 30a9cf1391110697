package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphAPIBase = "https://graph.microsoft.com/v1.0"

// Graph caps message subscriptions at 4230 minutes; stay just under it.
const outlookSubscriptionTTL = 4200 * time.Minute

// offline_access is what makes Microsoft issue a refresh token.
var outlookScopes = []string{
	"offline_access",
	"User.Read",
	"Mail.ReadWrite",
	"Mail.Send",
	"Calendars.Read",
}

// OutlookClient talks to the Microsoft identity platform and the Graph
// mail endpoints.
type OutlookClient struct {
	config          *oauth2.Config
	apiBase         string
	notificationURL string
	clientState     string
	http            *http.Client
}

// NewOutlookClient builds the client. notificationURL is the public webhook
// endpoint registered on change subscriptions and clientState is the shared
// secret Graph echoes in every notification; an empty notificationURL
// disables push and the mailbox is served by manual sync only.
func NewOutlookClient(clientID, clientSecret, redirectURL, notificationURL, clientState string) *OutlookClient {
	return &OutlookClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       outlookScopes,
			Endpoint:     microsoft.AzureADEndpoint("common"),
		},
		apiBase:         graphAPIBase,
		notificationURL: notificationURL,
		clientState:     clientState,
		http:            &http.Client{Timeout: 15 * time.Second},
	}
}

func (o *OutlookClient) Name() string { return domain.ProviderOutlook }

func (o *OutlookClient) Scopes() []string { return outlookScopes }

func (o *OutlookClient) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (o *OutlookClient) Exchange(ctx context.Context, code string) (*port.ProviderToken, error) {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("outlook code exchange: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (o *OutlookClient) Refresh(ctx context.Context, refreshToken string) (*port.ProviderToken, error) {
	source := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("outlook token refresh: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (o *OutlookClient) FetchProfile(ctx context.Context, accessToken string) (*domain.ProviderProfile, error) {
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := o.getJSON(ctx, accessToken, o.apiBase+"/me", &me); err != nil {
		return nil, err
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return &domain.ProviderProfile{Email: email, Name: me.DisplayName}, nil
}

type graphMessage struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	ReceivedDateTime string `json:"receivedDateTime"`
	IsDraft          bool   `json:"isDraft"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

func (o *OutlookClient) FetchMessage(ctx context.Context, accessToken, messageID string) (*domain.ProviderMessage, error) {
	var msg graphMessage
	endpoint := fmt.Sprintf("%s/me/messages/%s?$select=subject,from,receivedDateTime,body,isDraft", o.apiBase, url.PathEscape(messageID))
	if err := o.getJSON(ctx, accessToken, endpoint, &msg); err != nil {
		return nil, err
	}

	out := &domain.ProviderMessage{
		ID:       msg.ID,
		Subject:  msg.Subject,
		Outbound: msg.IsDraft,
	}
	if msg.From.EmailAddress.Name != "" {
		out.RawFrom = fmt.Sprintf("%s <%s>", msg.From.EmailAddress.Name, msg.From.EmailAddress.Address)
	} else {
		out.RawFrom = msg.From.EmailAddress.Address
	}
	if ts, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		out.ReceivedAt = ts
	}
	if msg.Body.ContentType == "html" {
		out.HTMLBody = msg.Body.Content
	} else {
		out.TextBody = msg.Body.Content
	}
	return out, nil
}

// ListChangedMessageIDs walks the Graph delta query for the inbox. The
// cursor is the opaque deltaLink URL; an empty cursor establishes a baseline
// without reporting ids, so connecting a mailbox does not replay its entire
// history.
func (o *OutlookClient) ListChangedMessageIDs(ctx context.Context, accessToken, cursor string) ([]string, string, error) {
	endpoint := cursor
	baseline := false
	if endpoint == "" {
		endpoint = o.apiBase + "/me/mailFolders/inbox/messages/delta?$select=id"
		baseline = true
	}

	var ids []string
	// Delta responses page through nextLink before handing out the final
	// deltaLink; cap the walk defensively.
	for page := 0; page < 20; page++ {
		var resp struct {
			Value []struct {
				ID string `json:"id"`
			} `json:"value"`
			NextLink  string `json:"@odata.nextLink"`
			DeltaLink string `json:"@odata.deltaLink"`
		}
		if err := o.getJSON(ctx, accessToken, endpoint, &resp); err != nil {
			return nil, "", err
		}
		if !baseline {
			for _, v := range resp.Value {
				ids = append(ids, v.ID)
			}
		}
		if resp.DeltaLink != "" {
			return ids, resp.DeltaLink, nil
		}
		if resp.NextLink == "" {
			return ids, cursor, nil
		}
		endpoint = resp.NextLink
	}
	return ids, cursor, fmt.Errorf("outlook delta walk exceeded page limit")
}

// StartPushSubscription creates a Graph change subscription on the inbox and
// returns its id, which webhook notifications later carry for owner lookup.
func (o *OutlookClient) StartPushSubscription(ctx context.Context, accessToken string) (string, error) {
	if o.notificationURL == "" {
		return "", nil
	}

	payload := map[string]any{
		"changeType":         "created",
		"notificationUrl":    o.notificationURL,
		"resource":           "/me/mailFolders('inbox')/messages",
		"expirationDateTime": time.Now().Add(outlookSubscriptionTTL).UTC().Format(time.RFC3339),
		"clientState":        o.clientState,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := o.postJSON(ctx, accessToken, o.apiBase+"/subscriptions", payload, &created); err != nil {
		return "", fmt.Errorf("outlook subscription create: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("outlook subscription create: response carried no id")
	}
	return created.ID, nil
}

func (o *OutlookClient) StopPushSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	endpoint := fmt.Sprintf("%s/subscriptions/%s", o.apiBase, url.PathEscape(subscriptionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("outlook subscription delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("outlook subscription delete: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (o *OutlookClient) postJSON(ctx context.Context, accessToken, endpoint string, payload, out any) error {
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

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("outlook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("outlook request failed: status %d: %s", resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *OutlookClient) getJSON(ctx context.Context, accessToken, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("outlook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("outlook request failed: status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
