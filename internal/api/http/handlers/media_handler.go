package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/api/dto"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

// MediaHandler exposes the media lifecycle.
type MediaHandler struct {
	service *service.MediaService
}

// NewMediaHandler constructs handler.
func NewMediaHandler(mediaService *service.MediaService) *MediaHandler {
	return &MediaHandler{service: mediaService}
}

// Upload POST /api/media (multipart: file, type, metadata).
func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file is required", nil)
	}
	metadata, err := parseMetadata(c.FormValue("metadata"))
	if err != nil {
		return err
	}
	in, err := uploadInput(fh, c.FormValue("type"))
	if err != nil {
		return err
	}
	in.UploaderID = actorFrom(c).ID
	in.Metadata = metadata

	id, err := h.service.Upload(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.UploadResponse{MediaID: id}})
}

// BulkUpload POST /api/media/bulk (multipart: files[], type).
func (h *MediaHandler) BulkUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.NewValidationError("multipart form required", nil)
	}
	files := form.File["files"]
	if len(files) == 0 {
		return apperrors.NewValidationError("at least one file is required", nil)
	}
	mediaType := c.FormValue("type")
	uploader := actorFrom(c).ID

	items := make([]service.UploadInput, 0, len(files))
	for _, fh := range files {
		in, err := uploadInput(fh, mediaType)
		if err != nil {
			return err
		}
		in.UploaderID = uploader
		items = append(items, in)
	}

	result := h.service.BulkUpload(c.UserContext(), items)
	resp := dto.BulkUploadResponse{
		Succeeded: make([]dto.BulkUploadItem, 0, len(result.Succeeded)),
		Failed:    make([]dto.BulkUploadFailure, 0, len(result.Failed)),
	}
	for _, s := range result.Succeeded {
		resp.Succeeded = append(resp.Succeeded, dto.BulkUploadItem{Index: s.Index, Filename: s.Filename, MediaID: s.MediaID})
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, dto.BulkUploadFailure{Index: f.Index, Filename: f.Filename, Error: *errorBody(f.Error)})
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Get GET /api/media/:id/info.
func (h *MediaHandler) Get(c *fiber.Ctx) error {
	m, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMediaResponse(m)})
}

// Download GET /api/media/:id.
func (h *MediaHandler) Download(c *fiber.Ctx) error {
	m, data, err := h.service.Download(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, m.MimeType)
	if m.Filename != "" {
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", m.Filename))
	}
	return c.Send(data)
}

// Delete DELETE /api/media/:id?permanent=true.
func (h *MediaHandler) Delete(c *fiber.Ctx) error {
	jobID, err := h.service.RequestDelete(c.UserContext(), c.Params("id"), c.QueryBool("permanent"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.JobAccepted{JobID: jobID, Status: "queued"}})
}

// Cleanup POST /api/media/cleanup.
func (h *MediaHandler) Cleanup(c *fiber.Ctx) error {
	var req dto.CleanupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	jobID, err := h.service.RequestCleanup(c.UserContext(), req.OlderThanDays, req.SyncWithProvider)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.JobAccepted{JobID: jobID, Status: "queued"}})
}

func uploadInput(fh *multipart.FileHeader, mediaType string) (service.UploadInput, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadInput{}, apperrors.NewValidationError("unreadable file", map[string]any{"filename": fh.Filename})
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return service.UploadInput{}, apperrors.NewValidationError("unreadable file", map[string]any{"filename": fh.Filename})
	}
	return service.UploadInput{
		Data:     data,
		Type:     domain.MediaType(mediaType),
		MimeType: fh.Header.Get(fiber.HeaderContentType),
		Filename: fh.Filename,
	}, nil
}

func parseMetadata(raw string) (domain.Metadata, error) {
	if raw == "" {
		return nil, nil
	}
	var md domain.Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, apperrors.NewValidationError("metadata must be a JSON object", nil)
	}
	return md, nil
}
