package dto

import (
	"encoding/json"
	"time"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// SendMessageRequest payload for POST /api/messages.
type SendMessageRequest struct {
	To          string             `json:"to"`
	Type        domain.MessageType `json:"type"`
	Text        string             `json:"text"`
	PreviewURL  bool               `json:"preview_url"`
	MediaID     string             `json:"media_id"`
	Caption     string             `json:"caption"`
	Filename    string             `json:"filename"`
	Location    *domain.Location   `json:"location"`
	Interactive json.RawMessage    `json:"interactive"`
	ReplyTo     string             `json:"reply_to"`
	Metadata    domain.Metadata    `json:"metadata"`
}

// SendTemplateRequest payload for POST /api/messages/template.
type SendTemplateRequest struct {
	To         string          `json:"to"`
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Parameters []string        `json:"parameters"`
	Metadata   domain.Metadata `json:"metadata"`
}

// BulkSendItem carries exactly one of Message or Template.
type BulkSendItem struct {
	Message  *SendMessageRequest  `json:"message,omitempty"`
	Template *SendTemplateRequest `json:"template,omitempty"`
}

// BulkSendRequest payload for POST /api/messages/bulk.
type BulkSendRequest struct {
	Messages []BulkSendItem `json:"messages"`
}

// BulkSendResult is one entry of a bulk send response.
type BulkSendResult struct {
	Index   int              `json:"index"`
	To      string           `json:"to,omitempty"`
	Message *MessageResponse `json:"message,omitempty"`
	Error   *ErrorBody       `json:"error,omitempty"`
}

// MessageResponse is a stored message.
type MessageResponse struct {
	ID                string                  `json:"id"`
	ConversationID    string                  `json:"conversation_id"`
	ProviderMessageID string                  `json:"provider_message_id"`
	Direction         domain.MessageDirection `json:"direction"`
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	Type              domain.MessageType      `json:"type"`
	Status            domain.MessageStatus    `json:"status,omitempty"`
	Timestamp         time.Time               `json:"timestamp"`
	Content           domain.MessageContent   `json:"content"`
	MediaID           *string                 `json:"media_id,omitempty"`
	Errors            []domain.MessageError   `json:"errors,omitempty"`
	Metadata          domain.Metadata         `json:"metadata,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// ErrorBody mirrors the error envelope used by the error middleware.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewMessageResponse maps a domain message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         m.Direction,
		From:              m.From,
		To:                m.To,
		Type:              m.Type,
		Status:            m.Status,
		Timestamp:         m.Timestamp,
		Content:           m.Content,
		MediaID:           m.MediaID,
		Errors:            m.Errors,
		Metadata:          m.Metadata,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
