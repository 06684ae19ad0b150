package domain

import "time"

// MediaType is the logical media category used for validation limits.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// ParseMediaType validates a declared media type.
func ParseMediaType(raw string) (MediaType, bool) {
	switch t := MediaType(raw); t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeAudio, MediaTypeDocument:
		return t, true
	}
	return "", false
}

// MediaTypeForMessage maps a message type to a media type; stickers are images.
func MediaTypeForMessage(t MessageType) (MediaType, bool) {
	switch t {
	case MessageTypeImage, MessageTypeSticker:
		return MediaTypeImage, true
	case MessageTypeVideo:
		return MediaTypeVideo, true
	case MessageTypeAudio:
		return MediaTypeAudio, true
	case MessageTypeDocument:
		return MediaTypeDocument, true
	}
	return "", false
}

// MediaStatus enumerates media lifecycle states.
type MediaStatus string

const (
	MediaStatusPending   MediaStatus = "pending"
	MediaStatusUploading MediaStatus = "uploading"
	MediaStatusUploaded  MediaStatus = "uploaded"
	MediaStatusFailed    MediaStatus = "failed"
	MediaStatusDeleted   MediaStatus = "deleted"
)

// IsActive reports whether the record can serve as a dedup target.
func (s MediaStatus) IsActive() bool {
	return s == MediaStatusPending || s == MediaStatusUploading || s == MediaStatusUploaded
}

// MediaOrigin tells whether media was uploaded by the business or received from a customer.
type MediaOrigin string

const (
	MediaOriginUpload  MediaOrigin = "upload"
	MediaOriginInbound MediaOrigin = "inbound"
)

// Media is a stored binary asset.
type Media struct {
	ID              string
	ProviderMediaID *string
	Type            MediaType
	Origin          MediaOrigin
	MimeType        string
	Filename        string
	Size            int64
	StoragePath     string
	ContentHash     string
	Status          MediaStatus
	UploaderID      string
	FailureReason   string
	Metadata        Metadata
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
	PurgedAt        *time.Time
}

// IsPurged reports whether the stored bytes are gone for good.
func (m *Media) IsPurged() bool {
	return m.PurgedAt != nil
}

// ProviderID returns the provider media id or empty.
func (m *Media) ProviderID() string {
	if m.ProviderMediaID == nil {
		return ""
	}
	return *m.ProviderMediaID
}
