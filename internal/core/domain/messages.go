package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageExchange           = "message"
	MessageAnalysisQueue      = "message.analysis"
	RoutingKeyMessageIngested = "message.ingested"
)

// MessageIngestedEvent is published after a provider message has been
// normalized and persisted, so downstream analysis can pick it up.
type MessageIngestedEvent struct {
	ActivityID uuid.UUID `json:"activity_id" validate:"required"`
	ContactID  uuid.UUID `json:"contact_id" validate:"required"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Channel    string    `json:"channel" validate:"required"`
	IngestedAt time.Time `json:"ingested_at" validate:"required"`
}
