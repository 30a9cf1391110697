package storage

import (
	"context"
	"errors"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecordStorage is the sink for normalized messages: find-or-create of
// contacts and leads keyed by sender email, plus activity persistence.
type RecordStorage struct {
	db *PostgresDB
}

func NewRecordStorage(db *PostgresDB) *RecordStorage {
	return &RecordStorage{db: db}
}

// FindOrCreateContact resolves a contact by email. The insert races safely:
// on conflict the existing row is returned.
func (s *RecordStorage) FindOrCreateContact(ctx context.Context, email, name string) (*domain.Contact, error) {
	var contact domain.Contact
	err := s.db.QueryRow(ctx,
		`INSERT INTO contacts (contact_id, email, name, created_at)
		 VALUES ($1, lower($2), $3, $4)
		 ON CONFLICT (email) DO UPDATE SET email = contacts.email
		 RETURNING contact_id, email, name, created_at`,
		uuid.New(), email, name, time.Now(),
	).Scan(&contact.ContactID, &contact.Email, &contact.Name, &contact.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *RecordStorage) EnsureLead(ctx context.Context, contactID uuid.UUID, source string) (*domain.Lead, error) {
	var lead domain.Lead
	err := s.db.QueryRow(ctx,
		`INSERT INTO leads (lead_id, contact_id, source, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (contact_id) DO UPDATE SET contact_id = leads.contact_id
		 RETURNING lead_id, contact_id, source, created_at`,
		uuid.New(), contactID, source, time.Now(),
	).Scan(&lead.LeadID, &lead.ContactID, &lead.Source, &lead.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// CreateActivity persists one conversation entry. The unique index on
// (channel, external_id) makes retried ingestions idempotent at this level
// too, independent of the dedup index.
func (s *RecordStorage) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO activities
		     (activity_id, contact_id, lead_id, user_id, channel, external_id,
		      from_address, subject, body, received_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (channel, external_id) DO NOTHING`,
		activity.ActivityID, activity.ContactID, activity.LeadID, activity.UserID,
		activity.Channel, activity.ExternalID, activity.FromAddress,
		activity.Subject, activity.Body, activity.ReceivedAt, time.Now(),
	)
	return err
}

func (s *RecordStorage) GetActivity(ctx context.Context, activityID uuid.UUID) (*domain.Activity, error) {
	var a domain.Activity
	err := s.db.QueryRow(ctx,
		`SELECT activity_id, contact_id, lead_id, user_id, channel, external_id,
		        from_address, subject, body, received_at, created_at
		 FROM activities WHERE activity_id = $1`,
		activityID,
	).Scan(
		&a.ActivityID, &a.ContactID, &a.LeadID, &a.UserID, &a.Channel,
		&a.ExternalID, &a.FromAddress, &a.Subject, &a.Body, &a.ReceivedAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
