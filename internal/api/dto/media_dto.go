package dto

import (
	"time"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// MediaResponse describes a media record without its bytes.
type MediaResponse struct {
	ID              string             `json:"id"`
	ProviderMediaID string             `json:"provider_media_id,omitempty"`
	Type            domain.MediaType   `json:"type"`
	Origin          domain.MediaOrigin `json:"origin"`
	MimeType        string             `json:"mime_type"`
	Filename        string             `json:"filename,omitempty"`
	Size            int64              `json:"size"`
	ContentHash     string             `json:"content_hash,omitempty"`
	Status          domain.MediaStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
}

// UploadResponse answers a single upload.
type UploadResponse struct {
	MediaID string `json:"media_id"`
}

// BulkUploadItem is one successful bulk upload.
type BulkUploadItem struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	MediaID  string `json:"media_id"`
}

// BulkUploadFailure is one failed bulk upload.
type BulkUploadFailure struct {
	Index    int       `json:"index"`
	Filename string    `json:"filename"`
	Error    ErrorBody `json:"error"`
}

// BulkUploadResponse reports per-file outcomes.
type BulkUploadResponse struct {
	Succeeded []BulkUploadItem    `json:"succeeded"`
	Failed    []BulkUploadFailure `json:"failed"`
}

// CleanupRequest payload for POST /api/media/cleanup.
type CleanupRequest struct {
	OlderThanDays    int  `json:"older_than_days"`
	SyncWithProvider bool `json:"sync_with_provider"`
}

// JobAccepted answers requests that were queued.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// NewMediaResponse maps a domain media record.
func NewMediaResponse(m *domain.Media) MediaResponse {
	return MediaResponse{
		ID:              m.ID,
		ProviderMediaID: m.ProviderID(),
		Type:            m.Type,
		Origin:          m.Origin,
		MimeType:        m.MimeType,
		Filename:        m.Filename,
		Size:            m.Size,
		ContentHash:     m.ContentHash,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
	}
}
