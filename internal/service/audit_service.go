package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
)

// AuditService writes every domain event to the audit log.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, t := range events.AllEventTypes {
		a.dispatcher.Subscribe(t, a.handle)
	}
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject_id", event.SubjectID),
		zap.String("actor_type", string(event.Actor.Type)),
		zap.String("actor_id", event.Actor.ID),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload),
	}
	if event.Type == events.EventQueueDeadLettered {
		a.logger.Error("audit", fields...)
		return nil
	}
	a.logger.Info("audit", fields...)
	return nil
}
