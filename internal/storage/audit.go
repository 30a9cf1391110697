package storage

import (
	"context"
	"time"

	"crmgate.io/ingestion/internal/core/domain"
)

// AuditStorage is the append-only event store. Rows are never updated or
// deleted by this subsystem.
type AuditStorage struct {
	db *PostgresDB
}

func NewAuditStorage(db *PostgresDB) *AuditStorage {
	return &AuditStorage{db: db}
}

func (s *AuditStorage) Insert(ctx context.Context, event *domain.AuditEvent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_events
		     (action, entity_type, entity_id, user_id, performed_by, ip_address,
		      user_agent, changes, metadata, risk, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.Action, event.EntityType, event.EntityID, event.UserID,
		event.PerformedBy, event.IPAddress, event.UserAgent,
		event.Changes, event.Metadata, event.Risk, event.CreatedAt,
	)
	return err
}

func (s *AuditStorage) HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, action, entity_type, entity_id, user_id, performed_by,
		        ip_address, user_agent, changes, metadata, risk, created_at
		 FROM audit_events
		 WHERE risk IN ('high', 'critical') AND created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		if err := rows.Scan(
			&ev.ID, &ev.Action, &ev.EntityType, &ev.EntityID, &ev.UserID,
			&ev.PerformedBy, &ev.IPAddress, &ev.UserAgent,
			&ev.Changes, &ev.Metadata, &ev.Risk, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
