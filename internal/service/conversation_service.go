package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const profileNameKey = "profile_name"

// ConversationService owns conversation windows and message status.
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	sender        MessageSender
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	windowHours   int
	clock         Clock
}

// ConversationDependencies bundles collaborators for the conversation service.
type ConversationDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	Sender           MessageSender
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	WindowHours      int
	Clock            Clock
}

// InboundMessage is a customer message decoded from a webhook.
type InboundMessage struct {
	ProviderMessageID string
	From              string
	BusinessPhoneID   string
	ProfileName       string
	Type              domain.MessageType
	Timestamp         time.Time
	Content           domain.MessageContent
	MediaID           *string
}

// OutboundRecord describes a message the provider accepted.
type OutboundRecord struct {
	ProviderMessageID string
	To                string
	BusinessPhoneID   string
	ConversationType  domain.ConversationType
	Type              domain.MessageType
	Content           domain.MessageContent
	MediaID           *string
	Metadata          domain.Metadata
	Actor             events.Actor
}

// ConversationListFilter narrows conversation listings.
type ConversationListFilter struct {
	CustomerPhone string
	Status        domain.ConversationStatus
	Limit         int
	Offset        int
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hours := deps.WindowHours
	if hours <= 0 {
		hours = domain.DefaultWindowHours
	}
	return &ConversationService{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		sender:        deps.Sender,
		dispatcher:    deps.Dispatcher,
		logger:        logger.Named("conversation"),
		windowHours:   hours,
		clock:         deps.Clock,
	}
}

// SessionOpen reports whether free-form messages may be sent on conv at now.
func (s *ConversationService) SessionOpen(conv *domain.Conversation, now time.Time) bool {
	return conv.CanSendSessionMessage(now, s.windowHours)
}

func (s *ConversationService) window(at time.Time) time.Time {
	return at.Add(time.Duration(s.windowHours) * time.Hour)
}

// IngestInbound stores a customer message once per provider id and extends
// the conversation window. Replays return the stored message untouched.
func (s *ConversationService) IngestInbound(ctx context.Context, in InboundMessage) (*domain.Message, error) {
	if in.ProviderMessageID == "" || in.From == "" || in.BusinessPhoneID == "" {
		return nil, apperrors.NewValidationError("inbound message is missing identifiers", map[string]any{
			"provider_message_id": in.ProviderMessageID,
			"from":                in.From,
		})
	}

	existing, err := s.messages.GetByProviderID(ctx, in.ProviderMessageID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	at := in.Timestamp
	if at.IsZero() {
		at = s.clock.now()
	}
	conv, err := s.ensureConversation(ctx, in.From, in.BusinessPhoneID, domain.ConversationTypeSession, at, true)
	if err != nil {
		return nil, err
	}
	s.recordProfileName(ctx, conv, in.ProfileName)

	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageTypeUnknown
	}
	msg := &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		ProviderMessageID: in.ProviderMessageID,
		Direction:         domain.DirectionInbound,
		From:              in.From,
		To:                in.BusinessPhoneID,
		Type:              msgType,
		Status:            domain.MessageStatusNone,
		Timestamp:         at,
		Content:           in.Content,
		MediaID:           in.MediaID,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent delivery of the same event won
			stored, getErr := s.messages.GetByProviderID(ctx, in.ProviderMessageID)
			if getErr != nil {
				return nil, apperrors.NewInternalError(getErr)
			}
			return stored, nil
		}
		return nil, apperrors.NewInternalError(err)
	}

	if err := s.conversations.RecordActivity(ctx, conv.ID, at, s.window(at), true); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	events.Emit(ctx, s.dispatcher, events.Event{
		Type:      events.EventMessageReceived,
		SubjectID: msg.ID,
		Actor:     events.Actor{Type: domain.SubjectTypeCustomer, ID: in.From},
		Payload: events.MessagePayload{
			ConversationID:    conv.ID,
			ProviderMessageID: msg.ProviderMessageID,
			Type:              msg.Type,
			Direction:         msg.Direction,
		},
	})
	return msg, nil
}

// RecordOutbound stores a message the provider accepted with status sent.
func (s *ConversationService) RecordOutbound(ctx context.Context, rec OutboundRecord) (*domain.Message, error) {
	if rec.ProviderMessageID == "" || rec.To == "" || rec.BusinessPhoneID == "" {
		return nil, apperrors.NewValidationError("outbound message is missing identifiers", nil)
	}
	if err := rec.Metadata.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	convType := rec.ConversationType
	if convType == "" {
		convType = domain.ConversationTypeSession
	}

	now := s.clock.now()
	conv, err := s.ensureConversation(ctx, rec.To, rec.BusinessPhoneID, convType, now, false)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		ProviderMessageID: rec.ProviderMessageID,
		Direction:         domain.DirectionOutbound,
		From:              rec.BusinessPhoneID,
		To:                rec.To,
		Type:              rec.Type,
		Status:            domain.MessageStatusSent,
		Timestamp:         now,
		Content:           rec.Content,
		MediaID:           rec.MediaID,
		Metadata:          rec.Metadata,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("message already recorded", map[string]any{"provider_message_id": rec.ProviderMessageID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.conversations.RecordActivity(ctx, conv.ID, now, s.window(now), false); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	actor := rec.Actor
	if actor.ID == "" {
		actor = events.SystemActor
	}
	events.Emit(ctx, s.dispatcher, events.Event{
		Type:      events.EventMessageSent,
		SubjectID: msg.ID,
		Actor:     actor,
		Payload: events.MessagePayload{
			ConversationID:    conv.ID,
			ProviderMessageID: msg.ProviderMessageID,
			Type:              msg.Type,
			Direction:         msg.Direction,
		},
	})
	return msg, nil
}

// ApplyStatusUpdate moves a message forward. Unknown ids and backward moves
// are dropped without error and reported as unchanged.
func (s *ConversationService) ApplyStatusUpdate(ctx context.Context, providerMessageID string, status domain.MessageStatus, errs []domain.MessageError) (bool, error) {
	if status.Rank() < 0 {
		return false, apperrors.NewValidationError("unknown message status", map[string]any{"status": string(status)})
	}
	current, err := s.messages.GetByProviderID(ctx, providerMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("status update for unknown message",
				zap.String("provider_message_id", providerMessageID),
				zap.String("status", string(status)))
			return false, nil
		}
		return false, apperrors.NewInternalError(err)
	}
	if !current.Status.CanTransitionTo(status) {
		s.logger.Debug("ignoring backward status update",
			zap.String("provider_message_id", providerMessageID),
			zap.String("current", string(current.Status)),
			zap.String("next", string(status)))
		return false, nil
	}

	changed, err := s.messages.UpdateStatus(ctx, providerMessageID, status, errs)
	if err != nil {
		return false, apperrors.NewInternalError(err)
	}
	if !changed {
		// lost a race with a newer status
		return false, nil
	}
	events.Emit(ctx, s.dispatcher, events.Event{
		Type:      events.EventMessageStatusChanged,
		SubjectID: current.ID,
		Actor:     events.SystemActor,
		Payload: events.MessageStatusChangedPayload{
			ProviderMessageID: providerMessageID,
			Status:            status,
			Errors:            errs,
		},
	})
	return true, nil
}

// MarkRead moves the listed messages of a conversation to read and returns
// how many changed. Inbound messages are also acknowledged to the provider.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID string, messageIDs []string) (int, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, apperrors.NewValidationError("at least one valid message id is required", nil)
	}

	changed, err := s.messages.MarkRead(ctx, conversationID, ids)
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	for _, m := range changed {
		if m.Direction == domain.DirectionInbound && s.sender != nil {
			if err := s.sender.MarkRead(ctx, m.ProviderMessageID); err != nil {
				s.logger.Warn("provider read receipt failed",
					zap.String("provider_message_id", m.ProviderMessageID),
					zap.Error(err))
			}
		}
		events.Emit(ctx, s.dispatcher, events.Event{
			Type:      events.EventMessageStatusChanged,
			SubjectID: m.ID,
			Actor:     events.SystemActor,
			Payload: events.MessageStatusChangedPayload{
				ProviderMessageID: m.ProviderMessageID,
				Status:            domain.MessageStatusRead,
			},
		})
	}
	return len(changed), nil
}

// Get loads one conversation.
func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if !validID(id) {
		return nil, apperrors.NewNotFound("conversation", map[string]any{"id": id})
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "conversation", id)
	}
	return conv, nil
}

// FindByCustomer returns the conversation between a customer and a business number.
func (s *ConversationService) FindByCustomer(ctx context.Context, customerPhone, businessPhoneID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByParticipants(ctx, customerPhone, businessPhoneID)
	if err != nil {
		return nil, notFoundOr(err, "conversation", customerPhone)
	}
	return conv, nil
}

// List returns conversations with lazily computed expiry.
func (s *ConversationService) List(ctx context.Context, filter ConversationListFilter) ([]domain.Conversation, error) {
	switch filter.Status {
	case "", domain.ConversationStatusActive, domain.ConversationStatusExpired, domain.ConversationStatusClosed:
	default:
		return nil, apperrors.NewValidationError("invalid conversation status", map[string]any{"status": string(filter.Status)})
	}
	now := s.clock.now()
	items, err := s.conversations.List(ctx, repository.ConversationFilter{
		CustomerPhone: filter.CustomerPhone,
		Status:        filter.Status,
		Now:           now,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	for i := range items {
		items[i].Status = items[i].EffectiveStatus(now)
	}
	return items, nil
}

// History returns messages newest first, optionally before a timestamp.
func (s *ConversationService) History(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	items, err := s.messages.ListByConversation(ctx, conversationID, limit, before)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return items, nil
}

// SweepExpired persists the expired status of lapsed conversations.
func (s *ConversationService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.conversations.ExpireStale(ctx, s.clock.now())
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	if n > 0 {
		s.logger.Info("expired conversations", zap.Int64("count", n))
	}
	return n, nil
}

func (s *ConversationService) ensureConversation(ctx context.Context, customer, business string, convType domain.ConversationType, at time.Time, inbound bool) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByParticipants(ctx, customer, business)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	conv = &domain.Conversation{
		ID:              uuid.NewString(),
		CustomerPhone:   customer,
		BusinessPhoneID: business,
		Type:            convType,
		Metadata:        domain.Metadata{},
	}
	if inbound {
		conv.RecordInbound(at, s.windowHours)
	} else {
		conv.RecordActivity(at, s.windowHours)
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			conv, err = s.conversations.GetByParticipants(ctx, customer, business)
			if err != nil {
				return nil, apperrors.NewInternalError(err)
			}
			return conv, nil
		}
		return nil, apperrors.NewInternalError(err)
	}
	return conv, nil
}

func (s *ConversationService) recordProfileName(ctx context.Context, conv *domain.Conversation, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if current, ok := conv.Metadata.String(profileNameKey); ok && current == name {
		return
	}
	md := conv.Metadata.Clone()
	if md == nil {
		md = domain.Metadata{}
	}
	if err := md.Set(profileNameKey, name); err != nil {
		return
	}
	if err := md.Validate(); err != nil {
		s.logger.Warn("profile metadata rejected", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	if err := s.conversations.UpdateMetadata(ctx, conv.ID, md); err != nil {
		s.logger.Warn("profile metadata update failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	conv.Metadata = md
}
