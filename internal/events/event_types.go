package events

import (
	"time"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMessageReceived       EventType = "message_received"
	EventMessageSent           EventType = "message_sent"
	EventMessageStatusChanged  EventType = "message_status_changed"
	EventMediaUploaded         EventType = "media_uploaded"
	EventMediaDeleted          EventType = "media_deleted"
	EventMediaPurged           EventType = "media_purged"
	EventQueueDeadLettered     EventType = "queue_dead_lettered"
	EventTemplateSynced        EventType = "template_synced"
	EventTemplateStatusChanged EventType = "template_status_changed"
)

// AllEventTypes lists every event type, for subscribers that audit everything.
var AllEventTypes = []EventType{
	EventMessageReceived,
	EventMessageSent,
	EventMessageStatusChanged,
	EventMediaUploaded,
	EventMediaDeleted,
	EventMediaPurged,
	EventQueueDeadLettered,
	EventTemplateSynced,
	EventTemplateStatusChanged,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.SubjectType `json:"type,omitempty"`
	ID   string             `json:"id,omitempty"`
}

// SystemActor marks events caused by webhooks and workers.
var SystemActor = Actor{Type: domain.SubjectTypeService, ID: "system"}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SubjectID string    `json:"subject_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// MessagePayload describes a received or sent message.
type MessagePayload struct {
	ConversationID    string                  `json:"conversation_id"`
	ProviderMessageID string                  `json:"provider_message_id"`
	Type              domain.MessageType      `json:"type"`
	Direction         domain.MessageDirection `json:"direction"`
}

// MessageStatusChangedPayload payload.
type MessageStatusChangedPayload struct {
	ProviderMessageID string                `json:"provider_message_id"`
	Status            domain.MessageStatus  `json:"status"`
	Errors            []domain.MessageError `json:"errors,omitempty"`
}

// MediaPayload describes a media lifecycle step.
type MediaPayload struct {
	Type        domain.MediaType   `json:"type"`
	Status      domain.MediaStatus `json:"status"`
	ContentHash string             `json:"content_hash,omitempty"`
	Permanent   bool               `json:"permanent,omitempty"`
	Deduped     bool               `json:"deduped,omitempty"`
}

// DeadLetterPayload describes a queue message that exhausted its retries.
type DeadLetterPayload struct {
	Queue      string `json:"queue"`
	Kind       string `json:"kind"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error"`
}

// TemplateSyncedPayload payload.
type TemplateSyncedPayload struct {
	Upserted int `json:"upserted"`
}

// TemplateStatusChangedPayload payload.
type TemplateStatusChangedPayload struct {
	Name     string                `json:"name"`
	Language string                `json:"language"`
	Status   domain.TemplateStatus `json:"status"`
	Reason   string                `json:"reason,omitempty"`
}
