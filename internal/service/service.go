package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	"github.com/solvejet/pixe-whatspp-sub001/internal/whatsapp"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// TaskSubmitter hands work to a bounded pool. worker.Pool implements it.
type TaskSubmitter interface {
	Submit(ctx context.Context, name string, task func(context.Context) error) error
}

// MessageSender is the slice of the Graph client used for outbound messages.
type MessageSender interface {
	SendMessage(ctx context.Context, msg whatsapp.OutboundMessage) (string, error)
	MarkRead(ctx context.Context, providerMessageID string) error
}

// MediaProvider is the slice of the Graph client used by the media lifecycle.
type MediaProvider interface {
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error)
	GetMedia(ctx context.Context, providerMediaID string) (*whatsapp.MediaInfo, error)
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
	DeleteMedia(ctx context.Context, providerMediaID string) error
}

// TemplateProvider is the slice of the Graph client used by the template synchronizer.
type TemplateProvider interface {
	ListTemplates(ctx context.Context) ([]whatsapp.RemoteTemplate, error)
	CreateTemplate(ctx context.Context, req whatsapp.TemplateRequest) (*whatsapp.TemplateCreated, error)
	EditTemplate(ctx context.Context, providerTemplateID string, components any) error
	DeleteTemplate(ctx context.Context, name, providerTemplateID string) error
}

// Clock returns the current time. Services default to time.Now in UTC.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// validID rejects ids that can never match a stored record, which keeps
// malformed path parameters away from uuid-typed columns.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return apperrors.NewInternalError(err)
}

func publishEnvelope(ctx context.Context, b broker.Broker, queue string, kind domain.QueueMessageType, payload any, now time.Time) (string, error) {
	msg, err := domain.NewQueueMessage(kind, payload, now)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	if err := b.Publish(ctx, queue, body); err != nil {
		return "", apperrors.NewInternalError(fmt.Errorf("publish %s: %w", queue, err))
	}
	return msg.ID, nil
}
