package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	"github.com/solvejet/pixe-whatspp-sub001/internal/whatsapp"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const (
	maxTextBody    = 4096
	maxBulkItems   = 1000
	maxCaptionBody = 1024
)

var recipientPattern = regexp.MustCompile(`^[1-9][0-9]{6,14}$`)

// MessagingService sends outbound messages and records them.
type MessagingService struct {
	conversations   *ConversationService
	templates       *TemplateService
	media           repository.MediaRepository
	sender          MessageSender
	logger          *zap.Logger
	businessPhoneID string
	bulkConcurrency int
	clock           Clock
}

// MessagingDependencies bundles collaborators for the messaging service.
type MessagingDependencies struct {
	Conversations   *ConversationService
	Templates       *TemplateService
	MediaRepo       repository.MediaRepository
	Sender          MessageSender
	Logger          *zap.Logger
	BusinessPhoneID string
	BulkConcurrency int
	Clock           Clock
}

// SendMessageInput describes a free-form session message.
type SendMessageInput struct {
	To          string
	Type        domain.MessageType
	Text        string
	PreviewURL  bool
	MediaID     string
	Caption     string
	Filename    string
	Location    *domain.Location
	Interactive json.RawMessage
	ReplyTo     string
	Metadata    domain.Metadata
	Actor       events.Actor
}

// SendTemplateInput describes a template message.
type SendTemplateInput struct {
	To         string
	Name       string
	Language   string
	Parameters []string
	Metadata   domain.Metadata
	Actor      events.Actor
}

// BulkSendItem holds exactly one of Message or Template.
type BulkSendItem struct {
	Message  *SendMessageInput
	Template *SendTemplateInput
}

// BulkSendResult reports the outcome of one bulk item.
type BulkSendResult struct {
	Index   int
	To      string
	Message *domain.Message
	Error   *apperrors.DomainError
}

// NewMessagingService constructs the service.
func NewMessagingService(deps MessagingDependencies) *MessagingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := deps.BulkConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &MessagingService{
		conversations:   deps.Conversations,
		templates:       deps.Templates,
		media:           deps.MediaRepo,
		sender:          deps.Sender,
		logger:          logger.Named("messaging"),
		businessPhoneID: deps.BusinessPhoneID,
		bulkConcurrency: concurrency,
		clock:           deps.Clock,
	}
}

// SendMessage sends a free-form message. The customer's session window must
// be open.
func (s *MessagingService) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	to, err := normalizeRecipient(in.To)
	if err != nil {
		return nil, err
	}
	if err := s.requireOpenWindow(ctx, to); err != nil {
		return nil, err
	}

	out := whatsapp.OutboundMessage{To: to, Type: string(in.Type)}
	if in.ReplyTo != "" {
		out.Context = &whatsapp.ContextObject{MessageID: in.ReplyTo}
	}
	content := domain.MessageContent{ContextID: in.ReplyTo}
	var mediaRef *string

	switch in.Type {
	case domain.MessageTypeText:
		body := strings.TrimSpace(in.Text)
		if body == "" {
			return nil, apperrors.NewValidationError("text body is required", nil)
		}
		if utf8.RuneCountInString(body) > maxTextBody {
			return nil, apperrors.NewValidationError("text body is too long", map[string]any{"max": maxTextBody})
		}
		out.Text = &whatsapp.TextObject{Body: body, PreviewURL: in.PreviewURL}
		content.Text = body
	case domain.MessageTypeImage, domain.MessageTypeVideo, domain.MessageTypeAudio, domain.MessageTypeDocument:
		m, err := s.sendableMedia(ctx, in.MediaID, in.Type)
		if err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(in.Caption) > maxCaptionBody {
			return nil, apperrors.NewValidationError("caption is too long", map[string]any{"max": maxCaptionBody})
		}
		obj := &whatsapp.MediaObject{ID: m.ProviderID()}
		if in.Type != domain.MessageTypeAudio {
			obj.Caption = in.Caption
		}
		if in.Type == domain.MessageTypeDocument {
			obj.Filename = firstNonEmpty(in.Filename, m.Filename)
		}
		switch in.Type {
		case domain.MessageTypeImage:
			out.Image = obj
		case domain.MessageTypeVideo:
			out.Video = obj
		case domain.MessageTypeAudio:
			out.Audio = obj
		default:
			out.Document = obj
		}
		providerID := m.ProviderID()
		mediaRef = &providerID
		content.Media = &domain.MediaRef{
			ProviderMediaID: providerID,
			MediaID:         m.ID,
			MimeType:        m.MimeType,
			Caption:         obj.Caption,
			Filename:        obj.Filename,
		}
	case domain.MessageTypeLocation:
		if in.Location == nil {
			return nil, apperrors.NewValidationError("location is required", nil)
		}
		if in.Location.Latitude < -90 || in.Location.Latitude > 90 || in.Location.Longitude < -180 || in.Location.Longitude > 180 {
			return nil, apperrors.NewValidationError("location coordinates are out of range", nil)
		}
		out.Location = &whatsapp.LocationObject{
			Latitude:  in.Location.Latitude,
			Longitude: in.Location.Longitude,
			Name:      in.Location.Name,
			Address:   in.Location.Address,
		}
		loc := *in.Location
		content.Location = &loc
	case domain.MessageTypeInteractive:
		if len(in.Interactive) == 0 || !json.Valid(in.Interactive) {
			return nil, apperrors.NewValidationError("interactive payload must be a JSON object", nil)
		}
		out.Interactive = in.Interactive
		content.Raw = in.Interactive
	default:
		return nil, apperrors.NewValidationError("unsupported message type", map[string]any{"type": string(in.Type)})
	}

	providerMessageID, err := s.sender.SendMessage(ctx, out)
	if err != nil {
		return nil, err
	}
	return s.conversations.RecordOutbound(ctx, OutboundRecord{
		ProviderMessageID: providerMessageID,
		To:                to,
		BusinessPhoneID:   s.businessPhoneID,
		ConversationType:  domain.ConversationTypeSession,
		Type:              in.Type,
		Content:           content,
		MediaID:           mediaRef,
		Metadata:          in.Metadata,
		Actor:             in.Actor,
	})
}

// SendTemplate sends an approved template. Templates may open a closed window.
func (s *MessagingService) SendTemplate(ctx context.Context, in SendTemplateInput) (*domain.Message, error) {
	to, err := normalizeRecipient(in.To)
	if err != nil {
		return nil, err
	}
	if in.Name == "" || in.Language == "" {
		return nil, apperrors.NewValidationError("template name and language are required", nil)
	}
	tpl, err := s.templates.GetByName(ctx, in.Name, in.Language)
	if err != nil {
		return nil, err
	}
	if tpl.Status != domain.TemplateStatusApproved {
		return nil, apperrors.NewValidationError("template is not approved", map[string]any{
			"name":   tpl.Name,
			"status": string(tpl.Status),
		})
	}
	if want := tpl.BodyPlaceholders(); len(in.Parameters) != want {
		return nil, apperrors.NewValidationError("template parameter count mismatch", map[string]any{
			"expected": want,
			"got":      len(in.Parameters),
		})
	}

	obj := &whatsapp.TemplateObject{Name: tpl.Name, Language: whatsapp.LanguageObject{Code: tpl.Language}}
	if len(in.Parameters) > 0 {
		params := make([]whatsapp.TemplateParameter, 0, len(in.Parameters))
		for _, p := range in.Parameters {
			params = append(params, whatsapp.TemplateParameter{Type: "text", Text: p})
		}
		obj.Components = []whatsapp.TemplateParamComponent{{Type: "body", Parameters: params}}
	}

	providerMessageID, err := s.sender.SendMessage(ctx, whatsapp.OutboundMessage{
		To:       to,
		Type:     string(domain.MessageTypeTemplate),
		Template: obj,
	})
	if err != nil {
		return nil, err
	}

	convType := domain.ConversationTypeSession
	if tpl.Category == domain.TemplateCategoryMarketing {
		convType = domain.ConversationTypeMarketing
	}
	return s.conversations.RecordOutbound(ctx, OutboundRecord{
		ProviderMessageID: providerMessageID,
		To:                to,
		BusinessPhoneID:   s.businessPhoneID,
		ConversationType:  convType,
		Type:              domain.MessageTypeTemplate,
		Content: domain.MessageContent{Template: &domain.TemplateRef{
			Name:       tpl.Name,
			Language:   tpl.Language,
			Parameters: in.Parameters,
		}},
		Metadata: in.Metadata,
		Actor:    in.Actor,
	})
}

// SendBulk sends every item with bounded concurrency and reports per-item
// results in input order.
func (s *MessagingService) SendBulk(ctx context.Context, items []BulkSendItem) ([]BulkSendResult, error) {
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("at least one message is required", nil)
	}
	if len(items) > maxBulkItems {
		return nil, apperrors.NewValidationError("too many messages", map[string]any{"max": maxBulkItems})
	}

	results := make([]BulkSendResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i := range items {
		i, item := i, items[i]
		g.Go(func() error {
			var (
				msg *domain.Message
				to  string
				err error
			)
			switch {
			case item.Message != nil && item.Template == nil:
				to = item.Message.To
				msg, err = s.SendMessage(gctx, *item.Message)
			case item.Template != nil && item.Message == nil:
				to = item.Template.To
				msg, err = s.SendTemplate(gctx, *item.Template)
			default:
				err = apperrors.NewValidationError("each item needs exactly one of message or template", nil)
			}
			results[i] = BulkSendResult{Index: i, To: to, Message: msg}
			if err != nil {
				results[i].Error = apperrors.ToDomainError(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	s.logger.Info("bulk send finished", zap.Int("total", len(items)), zap.Int("failed", failed))
	return results, nil
}

func (s *MessagingService) requireOpenWindow(ctx context.Context, to string) error {
	conv, err := s.conversations.FindByCustomer(ctx, to, s.businessPhoneID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return windowClosed(to)
		}
		return err
	}
	if !s.conversations.SessionOpen(conv, s.clock.now()) {
		return windowClosed(to)
	}
	return nil
}

func (s *MessagingService) sendableMedia(ctx context.Context, mediaID string, msgType domain.MessageType) (*domain.Media, error) {
	if !validID(mediaID) {
		return nil, apperrors.NewValidationError("a valid media id is required", map[string]any{"media_id": mediaID})
	}
	m, err := s.media.GetByID(ctx, mediaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("media", map[string]any{"id": mediaID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	expected, _ := domain.MediaTypeForMessage(msgType)
	if m.Type != expected {
		return nil, apperrors.NewValidationError("media type does not match message type", map[string]any{
			"media_type":   string(m.Type),
			"message_type": string(msgType),
		})
	}
	if m.Status != domain.MediaStatusUploaded || m.ProviderID() == "" {
		return nil, apperrors.NewValidationError("media is not uploaded", map[string]any{"status": string(m.Status)})
	}
	return m, nil
}

func windowClosed(to string) error {
	return apperrors.NewValidationError("customer service window is closed; send a template instead", map[string]any{"to": to})
}

func normalizeRecipient(raw string) (string, error) {
	to := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	if !recipientPattern.MatchString(to) {
		return "", apperrors.NewValidationError("recipient must be an E.164 phone number", map[string]any{"to": raw})
	}
	return to, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
