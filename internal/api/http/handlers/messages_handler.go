package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/dto"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// MessagesHandler sends outbound messages.
type MessagesHandler struct {
	service *service.MessagingService
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(messagingService *service.MessagingService) *MessagesHandler {
	return &MessagesHandler{service: messagingService}
}

// Send POST /api/messages.
func (h *MessagesHandler) Send(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.SendMessage(c.UserContext(), sendMessageInput(req, actorFrom(c)))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// SendTemplate POST /api/messages/template.
func (h *MessagesHandler) SendTemplate(c *fiber.Ctx) error {
	var req dto.SendTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.SendTemplate(c.UserContext(), sendTemplateInput(req, actorFrom(c)))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// SendBulk POST /api/messages/bulk.
func (h *MessagesHandler) SendBulk(c *fiber.Ctx) error {
	var req dto.BulkSendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	actor := actorFrom(c)
	items := make([]service.BulkSendItem, len(req.Messages))
	for i, item := range req.Messages {
		if item.Message != nil {
			in := sendMessageInput(*item.Message, actor)
			items[i].Message = &in
		}
		if item.Template != nil {
			in := sendTemplateInput(*item.Template, actor)
			items[i].Template = &in
		}
	}

	results, err := h.service.SendBulk(c.UserContext(), items)
	if err != nil {
		return err
	}
	out := make([]dto.BulkSendResult, 0, len(results))
	for _, r := range results {
		res := dto.BulkSendResult{Index: r.Index, To: r.To, Error: errorBody(r.Error)}
		if r.Message != nil {
			m := dto.NewMessageResponse(r.Message)
			res.Message = &m
		}
		out = append(out, res)
	}
	return c.JSON(fiber.Map{"data": out})
}

func sendMessageInput(req dto.SendMessageRequest, actor events.Actor) service.SendMessageInput {
	return service.SendMessageInput{
		To:          req.To,
		Type:        req.Type,
		Text:        req.Text,
		PreviewURL:  req.PreviewURL,
		MediaID:     req.MediaID,
		Caption:     req.Caption,
		Filename:    req.Filename,
		Location:    req.Location,
		Interactive: req.Interactive,
		ReplyTo:     req.ReplyTo,
		Metadata:    req.Metadata,
		Actor:       actor,
	}
}

func sendTemplateInput(req dto.SendTemplateRequest, actor events.Actor) service.SendTemplateInput {
	return service.SendTemplateInput{
		To:         req.To,
		Name:       req.Name,
		Language:   req.Language,
		Parameters: req.Parameters,
		Metadata:   req.Metadata,
		Actor:      actor,
	}
}
