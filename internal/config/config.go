// Package config loads process configuration from the environment once at
// startup. Secrets live here and nowhere else; nothing in this struct is
// ever logged.
package config

import (
	"fmt"
	"os"

	"crmgate.io/ingestion/internal/storage"
)

type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type Config struct {
	HTTPAddr    string
	AMQPURL     string
	DatabaseDSN string

	// MasterSecret derives the vault encryption key. At least 32 bytes.
	MasterSecret string

	// APIToken authenticates machine-facing endpoints behind the gateway.
	APIToken string

	// WebhookSecret is the clientState shared with the subscription-style
	// provider and compared constant-time on every change record.
	WebhookSecret string

	// GmailPubSubTopic is the Cloud Pub/Sub topic gmail watch notifications
	// flow through. Empty leaves gmail on manual sync only.
	GmailPubSubTopic string

	// OutlookNotifyURL is the public URL Graph delivers change notifications
	// to. Empty leaves outlook on manual sync only.
	OutlookNotifyURL string

	Gmail   ProviderCredentials
	Outlook ProviderCredentials
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		AMQPURL:  os.Getenv("AMQP_URL"),
		DatabaseDSN: storage.DSN(
			getenv("DB_HOST", "localhost"),
			getenv("DB_PORT", "5432"),
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_NAME"),
			os.Getenv("DB_SSLMODE"),
		),
		MasterSecret:     os.Getenv("MASTER_ENCRYPTION_SECRET"),
		APIToken:         os.Getenv("API_TOKEN"),
		WebhookSecret:    os.Getenv("WEBHOOK_SHARED_SECRET"),
		GmailPubSubTopic: os.Getenv("GMAIL_PUBSUB_TOPIC"),
		OutlookNotifyURL: os.Getenv("MICROSOFT_NOTIFICATION_URL"),
		Gmail: ProviderCredentials{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		},
		Outlook: ProviderCredentials{
			ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("MICROSOFT_REDIRECT_URL"),
		},
	}

	if len(cfg.MasterSecret) < 32 {
		return nil, fmt.Errorf("MASTER_ENCRYPTION_SECRET must be at least 32 bytes")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("API_TOKEN is required")
	}
	if cfg.Outlook.Configured() && cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SHARED_SECRET is required when the outlook provider is configured")
	}
	if !cfg.Gmail.Configured() && !cfg.Outlook.Configured() {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
