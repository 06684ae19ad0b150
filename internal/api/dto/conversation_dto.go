package dto

import (
	"time"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// ConversationResponse is a conversation with lazy expiry applied.
type ConversationResponse struct {
	ID              string                    `json:"id"`
	CustomerPhone   string                    `json:"customer_phone"`
	BusinessPhoneID string                    `json:"business_phone_id"`
	Type            domain.ConversationType   `json:"type"`
	Status          domain.ConversationStatus `json:"status"`
	LastMessageAt   time.Time                 `json:"last_message_at"`
	ExpiresAt       time.Time                 `json:"expires_at"`
	LastInboundAt   *time.Time                `json:"last_inbound_at,omitempty"`
	Metadata        domain.Metadata           `json:"metadata,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// MarkReadRequest payload for POST /api/conversations/:id/read.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// NewConversationResponse maps a domain conversation.
func NewConversationResponse(c *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		CustomerPhone:   c.CustomerPhone,
		BusinessPhoneID: c.BusinessPhoneID,
		Type:            c.Type,
		Status:          c.Status,
		LastMessageAt:   c.LastMessageAt,
		ExpiresAt:       c.ExpiresAt,
		LastInboundAt:   c.LastInboundAt,
		Metadata:        c.Metadata,
		CreatedAt:       c.CreatedAt,
	}
}
