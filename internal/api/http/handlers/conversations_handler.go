package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/dto"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// ConversationsHandler exposes conversations and their history.
type ConversationsHandler struct {
	service *service.ConversationService
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(conversationService *service.ConversationService) *ConversationsHandler {
	return &ConversationsHandler{service: conversationService}
}

// List GET /api/conversations.
func (h *ConversationsHandler) List(c *fiber.Ctx) error {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	convs, err := h.service.List(c.UserContext(), service.ConversationListFilter{
		CustomerPhone: c.Query("customer_phone"),
		Status:        domain.ConversationStatus(c.Query("status")),
		Limit:         pageSize,
		Offset:        (page - 1) * pageSize,
	})
	if err != nil {
		return err
	}
	items := make([]dto.ConversationResponse, 0, len(convs))
	for i := range convs {
		items = append(items, dto.NewConversationResponse(&convs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /api/conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	conv, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

// History GET /api/conversations/:id/messages?limit=&before=.
func (h *ConversationsHandler) History(c *fiber.Ctx) error {
	before, err := parseTime(c.Query("before"))
	if err != nil {
		return err
	}
	msgs, err := h.service.History(c.UserContext(), c.Params("id"), parseInt(c.Query("limit"), 50), before)
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, dto.NewMessageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// MarkRead POST /api/conversations/:id/read.
func (h *ConversationsHandler) MarkRead(c *fiber.Ctx) error {
	var req dto.MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	n, err := h.service.MarkRead(c.UserContext(), c.Params("id"), req.MessageIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated": n}})
}
