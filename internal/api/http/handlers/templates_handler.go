package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/dto"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// TemplatesHandler manages message templates.
type TemplatesHandler struct {
	service *service.TemplateService
}

// NewTemplatesHandler constructs handler.
func NewTemplatesHandler(templateService *service.TemplateService) *TemplatesHandler {
	return &TemplatesHandler{service: templateService}
}

// List GET /api/templates?status=&category=.
func (h *TemplatesHandler) List(c *fiber.Ctx) error {
	templates, err := h.service.List(c.UserContext(), service.TemplateListFilter{
		Status:   domain.TemplateStatus(c.Query("status")),
		Category: domain.TemplateCategory(c.Query("category")),
	})
	if err != nil {
		return err
	}
	items := make([]dto.TemplateResponse, 0, len(templates))
	for i := range templates {
		items = append(items, dto.NewTemplateResponse(&templates[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /api/templates/:id.
func (h *TemplatesHandler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTemplateResponse(t)})
}

// Create POST /api/templates.
func (h *TemplatesHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	t, err := h.service.Create(c.UserContext(), service.TemplateInput{
		Name:       req.Name,
		Language:   req.Language,
		Category:   req.Category,
		Components: req.Components,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTemplateResponse(t)})
}

// Update PUT /api/templates/:id.
func (h *TemplatesHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	t, err := h.service.Update(c.UserContext(), c.Params("id"), req.Components)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTemplateResponse(t)})
}

// Delete DELETE /api/templates/:id.
func (h *TemplatesHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Sync POST /api/templates/sync.
func (h *TemplatesHandler) Sync(c *fiber.Ctx) error {
	result, err := h.service.Sync(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}
