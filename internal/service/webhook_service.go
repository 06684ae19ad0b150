package service

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
	"github.com/solvejet/pixe-whatspp-sub001/internal/webhook"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// Webhook item kinds used in logs and metrics.
const (
	itemMessage        = "message"
	itemStatus         = "status"
	itemMedia          = "media"
	itemTemplateStatus = "template_status"
)

// WebhookService verifies provider callbacks and processes them off the
// request path.
type WebhookService struct {
	secret        []byte
	verifyToken   string
	pool          TaskSubmitter
	conversations *ConversationService
	media         *MediaService
	templates     *TemplateService
	logger        *zap.Logger
	metrics       *observability.Metrics
	clock         Clock
}

// WebhookDependencies bundles collaborators for the webhook service.
type WebhookDependencies struct {
	AppSecret     string
	VerifyToken   string
	Pool          TaskSubmitter
	Conversations *ConversationService
	Media         *MediaService
	Templates     *TemplateService
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Clock         Clock
}

// NewWebhookService constructs the service.
func NewWebhookService(deps WebhookDependencies) *WebhookService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		secret:        []byte(deps.AppSecret),
		verifyToken:   deps.VerifyToken,
		pool:          deps.Pool,
		conversations: deps.Conversations,
		media:         deps.Media,
		templates:     deps.Templates,
		logger:        logger.Named("webhook"),
		metrics:       deps.Metrics,
		clock:         deps.Clock,
	}
}

// VerifySubscription answers the provider's GET handshake.
func (s *WebhookService) VerifySubscription(mode, token, challenge string) (string, error) {
	answer, ok := webhook.VerifyChallenge(mode, token, challenge, s.verifyToken)
	if !ok {
		return "", apperrors.NewUnauthorized("webhook verification failed")
	}
	return answer, nil
}

// Accept verifies the signature and schedules processing. A nil error means
// the caller should acknowledge with 200, even if the pool dropped the event.
func (s *WebhookService) Accept(ctx context.Context, rawBody []byte, signature string) error {
	if !webhook.Verify(rawBody, signature, s.secret) {
		return apperrors.NewUnauthorized("invalid webhook signature")
	}
	body := append([]byte(nil), rawBody...)
	if err := s.pool.Submit(ctx, "webhook", func(taskCtx context.Context) error {
		return s.Process(taskCtx, body)
	}); err != nil {
		// the pool already logged and counted the drop
		s.logger.Debug("webhook event not scheduled", zap.Error(err))
	}
	return nil
}

// Process fans a verified payload out to the state machine, the media
// lifecycle and the template mirror. Item failures are logged and counted.
func (s *WebhookService) Process(ctx context.Context, rawBody []byte) error {
	payload, err := webhook.Decode(rawBody)
	if err != nil {
		s.logger.Warn("discarding undecodable webhook", zap.Error(err))
		return err
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			switch change.Field {
			case webhook.FieldMessages:
				s.processMessages(ctx, change)
			case webhook.FieldTemplateStatusUpdate:
				s.processTemplateStatus(ctx, change)
			default:
				s.logger.Debug("ignoring webhook field", zap.String("field", change.Field))
			}
		}
	}
	return nil
}

func (s *WebhookService) processMessages(ctx context.Context, change webhook.Change) {
	value, err := change.Messages()
	if err != nil {
		s.record(itemMessage, err)
		return
	}
	business := value.Metadata.PhoneNumberID
	profiles := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		profiles[c.WaID] = c.Profile.Name
	}

	for _, m := range value.Messages {
		s.processMessage(ctx, business, profiles[m.From], m)
	}
	for _, st := range value.Statuses {
		s.processStatus(ctx, st)
	}
}

func (s *WebhookService) processMessage(ctx context.Context, business, profileName string, m webhook.Message) {
	in := InboundMessage{
		ProviderMessageID: m.ID,
		From:              m.From,
		BusinessPhoneID:   business,
		ProfileName:       profileName,
		Type:              domain.ParseMessageType(m.Type),
		Timestamp:         webhook.ParseTimestamp(m.Timestamp, s.clock.now()),
		Content:           inboundContent(m),
	}
	ref := m.MediaRef()
	if ref != nil && ref.ID != "" {
		providerMediaID := ref.ID
		in.MediaID = &providerMediaID
	}

	msg, err := s.conversations.IngestInbound(ctx, in)
	s.record(itemMessage, err)
	if err != nil {
		s.logger.Error("inbound message failed",
			zap.String("provider_message_id", m.ID),
			zap.Error(err))
		return
	}
	if ref == nil || ref.ID == "" || s.media == nil {
		return
	}

	_, err = s.media.RegisterInbound(ctx, InboundMedia{
		ProviderMediaID: ref.ID,
		MessageType:     msg.Type,
		MimeType:        ref.MimeType,
		SHA256:          ref.SHA256,
		Filename:        ref.Filename,
		Caption:         ref.Caption,
	})
	s.record(itemMedia, err)
	if err != nil {
		s.logger.Error("inbound media registration failed",
			zap.String("provider_media_id", ref.ID),
			zap.Error(err))
	}
}

func (s *WebhookService) processStatus(ctx context.Context, st webhook.Status) {
	status, ok := domain.ParseMessageStatus(st.Status)
	if !ok {
		s.logger.Debug("ignoring unknown status", zap.String("status", st.Status), zap.String("provider_message_id", st.ID))
		return
	}
	var errs []domain.MessageError
	for _, e := range st.Errors {
		me := domain.MessageError{Code: e.Code, Title: e.Title, Message: e.Message}
		if e.ErrorData != nil {
			me.Details = e.ErrorData.Details
		}
		errs = append(errs, me)
	}
	_, err := s.conversations.ApplyStatusUpdate(ctx, st.ID, status, errs)
	s.record(itemStatus, err)
	if err != nil {
		s.logger.Error("status update failed",
			zap.String("provider_message_id", st.ID),
			zap.String("status", st.Status),
			zap.Error(err))
	}
}

func (s *WebhookService) processTemplateStatus(ctx context.Context, change webhook.Change) {
	value, err := change.TemplateStatus()
	if err == nil && s.templates != nil {
		err = s.templates.ApplyStatusUpdate(ctx, strconv.FormatInt(value.MessageTemplateID, 10), value.Event, value.Reason)
	}
	s.record(itemTemplateStatus, err)
	if err != nil {
		s.logger.Error("template status update failed", zap.Error(err))
	}
}

func (s *WebhookService) record(kind string, err error) {
	s.metrics.RecordWebhookItem(kind, err)
}

func inboundContent(m webhook.Message) domain.MessageContent {
	var c domain.MessageContent
	if m.Context != nil {
		c.ContextID = m.Context.ID
	}
	switch {
	case m.Text != nil:
		c.Text = m.Text.Body
	case m.MediaRef() != nil:
		ref := m.MediaRef()
		c.Media = &domain.MediaRef{
			ProviderMediaID: ref.ID,
			MimeType:        ref.MimeType,
			SHA256:          ref.SHA256,
			Caption:         ref.Caption,
			Filename:        ref.Filename,
		}
	case m.Location != nil:
		c.Location = &domain.Location{
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
			Name:      m.Location.Name,
			Address:   m.Location.Address,
		}
	case m.Interactive != nil:
		reply := &domain.InteractiveReply{Type: m.Interactive.Type}
		switch {
		case m.Interactive.ButtonReply != nil:
			reply.ID = m.Interactive.ButtonReply.ID
			reply.Title = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			reply.ID = m.Interactive.ListReply.ID
			reply.Title = m.Interactive.ListReply.Title
			reply.Description = m.Interactive.ListReply.Description
		case m.Interactive.NfmReply != nil:
			reply.Title = m.Interactive.NfmReply.Name
			reply.Payload = m.Interactive.NfmReply.ResponseJSON
		}
		c.Interactive = reply
	case m.Button != nil:
		c.Interactive = &domain.InteractiveReply{Type: "button", Title: m.Button.Text, Payload: m.Button.Payload}
	case m.Reaction != nil:
		c.Reaction = m.Reaction.Emoji
		c.ContextID = m.Reaction.MessageID
	case len(m.Contacts) > 0:
		if raw, err := json.Marshal(m.Contacts); err == nil {
			c.Raw = raw
		}
	}
	return c
}
