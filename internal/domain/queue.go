package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// QueueMessageType selects the consumer for a queue message.
type QueueMessageType string

const (
	QueueMessageUpload  QueueMessageType = "upload"
	QueueMessageDelete  QueueMessageType = "delete"
	QueueMessageCleanup QueueMessageType = "cleanup"
)

// QueueMessage is the envelope published to the broker.
type QueueMessage struct {
	ID         string           `json:"id"`
	Type       QueueMessageType `json:"type"`
	Payload    json.RawMessage  `json:"payload"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
	RetryCount int              `json:"retryCount"`
	LastError  string           `json:"lastError,omitempty"`
}

// UploadPayload asks a worker to mirror provider media into the content store.
type UploadPayload struct {
	MediaID string `json:"mediaId"`
}

// DeletePayload asks a worker to delete one media record.
type DeletePayload struct {
	MediaID   string `json:"mediaId"`
	Permanent bool   `json:"permanent"`
}

// CleanupPayload asks a worker to sweep old media.
type CleanupPayload struct {
	OlderThanDays    int  `json:"olderThanDays"`
	SyncWithProvider bool `json:"syncWithProvider"`
}

// NewQueueMessage builds an envelope with a fresh ULID, so ids sort by enqueue time.
func NewQueueMessage(kind QueueMessageType, payload any, now time.Time) (QueueMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueMessage{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return QueueMessage{
		ID:         ulid.Make().String(),
		Type:       kind,
		Payload:    raw,
		EnqueuedAt: now.UTC(),
	}, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (q QueueMessage) DecodePayload(out any) error {
	if len(q.Payload) == 0 {
		return fmt.Errorf("queue message %s has no payload", q.ID)
	}
	return json.Unmarshal(q.Payload, out)
}
