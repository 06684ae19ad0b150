package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	"github.com/solvejet/pixe-whatspp-sub001/internal/webhook"
)

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	service *service.WebhookService
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: webhookService}
}

// Verify GET /webhook.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	challenge, err := h.service.VerifySubscription(c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if err != nil {
		return err
	}
	return c.SendString(challenge)
}

// Receive POST /webhook. Processing happens after the response.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	if err := h.service.Accept(c.UserContext(), c.Body(), c.Get(webhook.SignatureHeader)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}
