package domain

import (
	"encoding/json"
	"time"
)

// MessageDirection tells whether the business or the customer sent a message.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType mirrors the provider message types.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeLocation    MessageType = "location"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeButton      MessageType = "button"
	MessageTypeTemplate    MessageType = "template"
	MessageTypeReaction    MessageType = "reaction"
	MessageTypeContacts    MessageType = "contacts"
	MessageTypeUnknown     MessageType = "unknown"
)

var knownMessageTypes = map[MessageType]struct{}{
	MessageTypeText: {}, MessageTypeImage: {}, MessageTypeVideo: {}, MessageTypeAudio: {},
	MessageTypeDocument: {}, MessageTypeSticker: {}, MessageTypeLocation: {}, MessageTypeInteractive: {},
	MessageTypeButton: {}, MessageTypeTemplate: {}, MessageTypeReaction: {}, MessageTypeContacts: {},
}

// ParseMessageType maps a provider type string, falling back to unknown.
func ParseMessageType(raw string) MessageType {
	t := MessageType(raw)
	if _, ok := knownMessageTypes[t]; ok {
		return t
	}
	return MessageTypeUnknown
}

// IsMedia reports whether the type carries a media attachment.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

// MessageStatus is the provider delivery status of a message.
type MessageStatus string

const (
	// MessageStatusNone is carried by inbound messages; the provider never reports on them.
	MessageStatusNone      MessageStatus = ""
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// ParseMessageStatus validates a provider status string.
func ParseMessageStatus(raw string) (MessageStatus, bool) {
	switch s := MessageStatus(raw); s {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return s, true
	}
	return MessageStatusNone, false
}

// Rank orders statuses along sent < delivered < read. Failed ranks above all.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	case MessageStatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo applies the forward-only rule. Failed is accepted from any
// non-failed status and is terminal.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return true
	}
	if next.Rank() < 0 {
		return false
	}
	return next.Rank() > s.Rank()
}

// MessageError is a provider error attached to a failed message.
type MessageError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// MediaRef points to an attachment carried by a message.
type MediaRef struct {
	ProviderMediaID string `json:"provider_media_id,omitempty"`
	MediaID         string `json:"media_id,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	SHA256          string `json:"sha256,omitempty"`
	Caption         string `json:"caption,omitempty"`
	Filename        string `json:"filename,omitempty"`
}

// Location is a shared or sent location.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// InteractiveReply is a customer's answer to buttons or lists.
type InteractiveReply struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// TemplateRef names the template an outbound message was rendered from.
type TemplateRef struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

// MessageContent is the typed message payload. Raw keeps provider fields we don't model.
type MessageContent struct {
	Text        string            `json:"text,omitempty"`
	Media       *MediaRef         `json:"media,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
	Template    *TemplateRef      `json:"template,omitempty"`
	Reaction    string            `json:"reaction,omitempty"`
	ContextID   string            `json:"context_id,omitempty"`
	Raw         json.RawMessage   `json:"raw,omitempty"`
}

// Message is an immutable record of one provider message; only Status moves.
type Message struct {
	ID                string
	ConversationID    string
	ProviderMessageID string
	Direction         MessageDirection
	From              string
	To                string
	Type              MessageType
	Status            MessageStatus
	Timestamp         time.Time
	Content           MessageContent
	MediaID           *string
	Errors            []MessageError
	Metadata          Metadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
