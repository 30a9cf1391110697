package service

import (
	"context"
	"fmt"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/core/port"
	log "github.com/sirupsen/logrus"
)

// AnalysisService consumes ingestion events and runs downstream processing
// on the stored activity. Kept deliberately thin; the interesting work
// happens in the models it feeds.
type AnalysisService struct {
	records port.RecordStorage
}

func NewAnalysisService(records port.RecordStorage) *AnalysisService {
	return &AnalysisService{records: records}
}

func (a *AnalysisService) Run(ctx context.Context, event domain.MessageIngestedEvent) error {
	activity, err := a.records.GetActivity(ctx, event.ActivityID)
	if err != nil {
		return fmt.Errorf("failed to load activity %s: %w", event.ActivityID, err)
	}

	log.WithFields(log.Fields{
		"activityID": activity.ActivityID,
		"contactID":  activity.ContactID,
		"channel":    activity.Channel,
		"bodyLength": len(activity.Body),
	}).Info("Analyzing ingested message")

	return nil
}
