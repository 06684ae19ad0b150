package dto

import (
	"time"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// CreateTemplateRequest payload for POST /api/templates.
type CreateTemplateRequest struct {
	Name       string                     `json:"name"`
	Language   string                     `json:"language"`
	Category   string                     `json:"category"`
	Components []domain.TemplateComponent `json:"components"`
}

// UpdateTemplateRequest payload for PUT /api/templates/:id.
type UpdateTemplateRequest struct {
	Components []domain.TemplateComponent `json:"components"`
}

// TemplateResponse is the local mirror of a template.
type TemplateResponse struct {
	ID                 string                     `json:"id"`
	ProviderTemplateID string                     `json:"provider_template_id"`
	Name               string                     `json:"name"`
	Language           string                     `json:"language"`
	Category           domain.TemplateCategory    `json:"category"`
	Components         []domain.TemplateComponent `json:"components"`
	Status             domain.TemplateStatus      `json:"status"`
	RejectedReason     string                     `json:"rejected_reason,omitempty"`
	UpdatedAt          time.Time                  `json:"updated_at"`
	SyncedAt           *time.Time                 `json:"synced_at,omitempty"`
}

// NewTemplateResponse maps a domain template.
func NewTemplateResponse(t *domain.Template) TemplateResponse {
	return TemplateResponse{
		ID:                 t.ID,
		ProviderTemplateID: t.ProviderTemplateID,
		Name:               t.Name,
		Language:           t.Language,
		Category:           t.Category,
		Components:         t.Components,
		Status:             t.Status,
		RejectedReason:     t.RejectedReason,
		UpdatedAt:          t.UpdatedAt,
		SyncedAt:           t.SyncedAt,
	}
}
