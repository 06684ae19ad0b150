package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/contentstore"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/lifecycle"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const (
	providerSHA256Key = "provider_sha256"
	captionKey        = "caption"
	maxRetentionDays  = 3650
	maxDedupAttempts  = 3
	staleUploadReason = "upload abandoned"
)

// inFlightPollInterval paces waits on an identical upload still in flight.
var inFlightPollInterval = 100 * time.Millisecond

// allowedMimeTypes lists what the Cloud API accepts per media type.
var allowedMimeTypes = map[domain.MediaType][]string{
	domain.MediaTypeImage: {"image/jpeg", "image/png", "image/webp"},
	domain.MediaTypeVideo: {"video/mp4", "video/3gpp"},
	domain.MediaTypeAudio: {"audio/aac", "audio/mp4", "audio/mpeg", "audio/amr", "audio/ogg"},
	domain.MediaTypeDocument: {
		"application/pdf",
		"text/plain",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
}

// MediaService runs the media lifecycle: upload with dedup, inbound
// mirroring and the queue-driven delete and cleanup.
type MediaService struct {
	media      repository.MediaRepository
	content    contentstore.Store
	provider   MediaProvider
	broker     broker.Broker
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.MediaConfig
	clock      Clock
}

// MediaDependencies bundles collaborators for the media service.
type MediaDependencies struct {
	MediaRepo  repository.MediaRepository
	Content    contentstore.Store
	Provider   MediaProvider
	Broker     broker.Broker
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Config     config.MediaConfig
	Clock      Clock
}

// UploadInput describes one file to upload.
type UploadInput struct {
	Data       []byte
	Type       domain.MediaType
	MimeType   string
	Filename   string
	UploaderID string
	Metadata   domain.Metadata
}

// BulkItemResult reports one successful bulk item.
type BulkItemResult struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	MediaID  string `json:"media_id"`
}

// BulkItemError reports one failed bulk item.
type BulkItemError struct {
	Index    int                    `json:"index"`
	Filename string                 `json:"filename,omitempty"`
	Error    *apperrors.DomainError `json:"-"`
}

// BulkResult aggregates per-item outcomes.
type BulkResult struct {
	Succeeded []BulkItemResult
	Failed    []BulkItemError
}

// InboundMedia is a media attachment received on an inbound message.
type InboundMedia struct {
	ProviderMediaID string
	MessageType     domain.MessageType
	MimeType        string
	SHA256          string
	Filename        string
	Caption         string
}

// NewMediaService constructs the service.
func NewMediaService(deps MediaDependencies) *MediaService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}
	if cfg.CleanupBatchSize <= 0 {
		cfg.CleanupBatchSize = 100
	}
	if cfg.DefaultRetention <= 0 {
		cfg.DefaultRetention = 30
	}
	return &MediaService{
		media:      deps.MediaRepo,
		content:    deps.Content,
		provider:   deps.Provider,
		broker:     deps.Broker,
		dispatcher: deps.Dispatcher,
		logger:     logger.Named("media"),
		cfg:        cfg,
		clock:      deps.Clock,
	}
}

func (s *MediaService) maxBytes(t domain.MediaType) int64 {
	switch t {
	case domain.MediaTypeImage:
		return s.cfg.MaxImageBytes
	case domain.MediaTypeVideo:
		return s.cfg.MaxVideoBytes
	case domain.MediaTypeAudio:
		return s.cfg.MaxAudioBytes
	case domain.MediaTypeDocument:
		return s.cfg.MaxDocumentBytes
	}
	return 0
}

// Upload validates, dedupes and uploads one file and returns its media id.
// Identical bytes of the same type resolve to the existing uploaded record.
func (s *MediaService) Upload(ctx context.Context, in UploadInput) (string, error) {
	mimeType, err := s.validateUpload(&in)
	if err != nil {
		return "", err
	}
	hash := contentstore.Hash(in.Data)

	for attempt := 0; attempt < maxDedupAttempts; attempt++ {
		existing, err := s.awaitUploaded(ctx, hash, in.Type)
		if err != nil {
			return "", err
		}
		if existing != nil {
			s.logger.Debug("deduplicated upload", zap.String("media_id", existing.ID), zap.String("hash", hash))
			s.emit(ctx, events.EventMediaUploaded, existing, events.MediaPayload{
				Type: existing.Type, Status: existing.Status, ContentHash: hash, Deduped: true,
			})
			return existing.ID, nil
		}

		m := &domain.Media{
			ID:          uuid.NewString(),
			Type:        in.Type,
			Origin:      domain.MediaOriginUpload,
			MimeType:    mimeType,
			Filename:    in.Filename,
			Size:        int64(len(in.Data)),
			ContentHash: hash,
			Status:      domain.MediaStatusPending,
			UploaderID:  in.UploaderID,
			Metadata:    in.Metadata,
		}
		if err := s.media.Create(ctx, m); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				// another writer claimed the hash first
				continue
			}
			return "", apperrors.NewInternalError(err)
		}
		return s.uploadClaimed(ctx, m, in.Data)
	}
	return "", apperrors.NewConflict("an identical upload is in progress", map[string]any{"hash": hash})
}

// awaitUploaded resolves the record that holds hash and type. It returns the
// uploaded record, or nil when the caller may claim the hash. Records still
// in flight are polled until they settle, and ones idle past the upload
// lease are failed so a crashed writer cannot hold the hash.
func (s *MediaService) awaitUploaded(ctx context.Context, hash string, t domain.MediaType) (*domain.Media, error) {
	ticker := time.NewTicker(inFlightPollInterval)
	defer ticker.Stop()
	for {
		m, err := s.media.FindActiveByHash(ctx, hash, t)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if m.Status == domain.MediaStatusUploaded {
			return m, nil
		}
		if s.clock.now().Sub(m.UpdatedAt) > s.cfg.UploadLease() {
			return nil, s.abandon(ctx, m)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewConflict("an identical upload is in progress", map[string]any{"media_id": m.ID})
		case <-ticker.C:
		}
	}
}

// abandon fails an in-flight record whose writer stopped making progress.
func (s *MediaService) abandon(ctx context.Context, m *domain.Media) error {
	from := m.Status
	machine := lifecycle.NewMediaMachine(m, s.clock.now)
	if _, err := machine.Fail(ctx, staleUploadReason); err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.media.UpdateIfStatus(ctx, m, from); err != nil && !errors.Is(err, repository.ErrConflict) {
		return apperrors.NewInternalError(err)
	}
	s.logger.Warn("abandoned stale upload", zap.String("media_id", m.ID), zap.String("status", string(from)))
	return nil
}

// uploadClaimed stores and pushes the bytes for a freshly created record.
// Every status write is conditional so a concurrent delete or takeover is
// never overwritten.
func (s *MediaService) uploadClaimed(ctx context.Context, m *domain.Media, data []byte) (string, error) {
	machine := lifecycle.NewMediaMachine(m, s.clock.now)
	if _, err := machine.Fire(ctx, lifecycle.TriggerStartUpload); err != nil {
		return "", apperrors.NewInternalError(err)
	}
	if err := s.media.UpdateIfStatus(ctx, m, domain.MediaStatusPending); err != nil {
		return "", lostClaim(m, err)
	}

	path, err := s.content.Put(ctx, string(m.Type), m.ContentHash, data)
	if err != nil {
		s.fail(ctx, machine, m, "store content: "+err.Error())
		return "", apperrors.NewInternalError(fmt.Errorf("store content: %w", err))
	}
	m.StoragePath = path

	providerID, err := s.provider.UploadMedia(ctx, data, m.MimeType, m.Filename)
	if err != nil {
		s.fail(ctx, machine, m, err.Error())
		return "", err
	}
	m.ProviderMediaID = &providerID
	if _, err := machine.Fire(ctx, lifecycle.TriggerComplete); err != nil {
		return "", apperrors.NewInternalError(err)
	}
	if err := s.media.UpdateIfStatus(ctx, m, domain.MediaStatusUploading); err != nil {
		s.discardOrphan(ctx, m, true)
		return "", lostClaim(m, err)
	}

	s.emit(ctx, events.EventMediaUploaded, m, events.MediaPayload{Type: m.Type, Status: m.Status, ContentHash: m.ContentHash})
	return m.ID, nil
}

// discardOrphan removes what an upload produced after its record moved on
// without it. Errors are logged; the cleanup sweep catches leftovers.
func (s *MediaService) discardOrphan(ctx context.Context, m *domain.Media, revoke bool) {
	if revoke && m.ProviderID() != "" {
		if err := s.provider.DeleteMedia(ctx, m.ProviderID()); err != nil && !isProviderGone(err) {
			s.logger.Warn("revoke orphaned provider media", zap.String("media_id", m.ID), zap.Error(err))
		}
	}
	if m.StoragePath == "" {
		return
	}
	shared, err := s.media.CountSharingHash(ctx, m.ContentHash, m.ID)
	if err != nil {
		s.logger.Warn("count media sharing hash", zap.String("media_id", m.ID), zap.Error(err))
		return
	}
	if shared > 0 {
		return
	}
	if err := s.content.Delete(ctx, m.StoragePath); err != nil {
		s.logger.Warn("delete orphaned content", zap.String("media_id", m.ID), zap.Error(err))
	}
}

func lostClaim(m *domain.Media, err error) error {
	if errors.Is(err, repository.ErrConflict) {
		return apperrors.NewConflict("media changed while uploading", map[string]any{"media_id": m.ID})
	}
	return apperrors.NewInternalError(err)
}

// SweepStaleUploads fails pending and uploading records idle past the upload
// lease so they stop blocking dedup and become cleanup candidates.
func (s *MediaService) SweepStaleUploads(ctx context.Context) (int64, error) {
	n, err := s.media.FailStaleUploads(ctx, s.clock.now().Add(-s.cfg.UploadLease()), staleUploadReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("failed stale uploads", zap.Int64("count", n))
	}
	return n, nil
}

// validateUpload checks type, size and MIME, sniffing the bytes where a
// signature exists. It returns the MIME type to store.
func (s *MediaService) validateUpload(in *UploadInput) (string, error) {
	if _, ok := domain.ParseMediaType(string(in.Type)); !ok {
		return "", apperrors.NewValidationError("unsupported media type", map[string]any{"type": string(in.Type)})
	}
	size := int64(len(in.Data))
	if size == 0 {
		return "", apperrors.NewValidationError("file is empty", nil)
	}
	if limit := s.maxBytes(in.Type); limit > 0 && size > limit {
		return "", apperrors.NewValidationError("file exceeds the size limit", map[string]any{
			"type":      string(in.Type),
			"size":      size,
			"max_bytes": limit,
		})
	}
	if err := in.Metadata.Validate(); err != nil {
		return "", apperrors.NewValidationError(err.Error(), nil)
	}

	allowed := allowedMimeTypes[in.Type]
	declared := normalizeMime(in.MimeType)
	detected := mimetype.Detect(in.Data)
	if declared == "" {
		declared = normalizeMime(detected.String())
	}
	if !containsMime(allowed, declared) {
		return "", apperrors.NewValidationError("mime type not allowed", map[string]any{
			"type":      string(in.Type),
			"mime_type": declared,
			"allowed":   allowed,
		})
	}
	if detected.Is("application/octet-stream") {
		return declared, nil
	}
	for m := detected; m != nil; m = m.Parent() {
		for _, candidate := range allowed {
			if m.Is(candidate) {
				return candidate, nil
			}
		}
	}
	return "", apperrors.NewValidationError("file content does not match the declared mime type", map[string]any{
		"mime_type": declared,
		"detected":  detected.String(),
	})
}

func normalizeMime(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return parsed
}

func containsMime(allowed []string, m string) bool {
	for _, a := range allowed {
		if a == m {
			return true
		}
	}
	return false
}

// BulkUpload uploads every item with bounded concurrency. One failing item
// never aborts the rest.
func (s *MediaService) BulkUpload(ctx context.Context, items []UploadInput) BulkResult {
	var (
		mu     sync.Mutex
		result = BulkResult{Succeeded: []BulkItemResult{}, Failed: []BulkItemError{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for i := range items {
		i, item := i, items[i]
		g.Go(func() error {
			id, err := s.Upload(gctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, BulkItemError{Index: i, Filename: item.Filename, Error: apperrors.ToDomainError(err)})
				return nil
			}
			result.Succeeded = append(result.Succeeded, BulkItemResult{Index: i, Filename: item.Filename, MediaID: id})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Succeeded, func(a, b int) bool { return result.Succeeded[a].Index < result.Succeeded[b].Index })
	sort.Slice(result.Failed, func(a, b int) bool { return result.Failed[a].Index < result.Failed[b].Index })
	return result
}

// Get loads a media record.
func (s *MediaService) Get(ctx context.Context, id string) (*domain.Media, error) {
	if !validID(id) {
		return nil, apperrors.NewNotFound("media", map[string]any{"id": id})
	}
	m, err := s.media.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "media", id)
	}
	return m, nil
}

// Download returns the record and its bytes. Purged media is not found.
func (s *MediaService) Download(ctx context.Context, id string) (*domain.Media, []byte, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if m.IsPurged() || m.StoragePath == "" {
		return nil, nil, apperrors.NewNotFound("media", map[string]any{"id": id})
	}
	data, err := s.content.Get(ctx, m.StoragePath)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			return nil, nil, apperrors.NewNotFound("media", map[string]any{"id": id})
		}
		return nil, nil, apperrors.NewInternalError(err)
	}
	return m, data, nil
}

// RequestDelete enqueues a delete and returns the queue message id. The
// record is unchanged until a worker handles it.
func (s *MediaService) RequestDelete(ctx context.Context, id string, permanent bool) (string, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if m.IsPurged() {
		return "", apperrors.NewNotFound("media", map[string]any{"id": id})
	}
	return publishEnvelope(ctx, s.broker, broker.QueueMediaDelete, domain.QueueMessageDelete,
		domain.DeletePayload{MediaID: id, Permanent: permanent}, s.clock.now())
}

// RequestCleanup enqueues a cleanup sweep and returns the queue message id.
func (s *MediaService) RequestCleanup(ctx context.Context, olderThanDays int, syncWithProvider bool) (string, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.cfg.DefaultRetention
	}
	if olderThanDays > maxRetentionDays {
		return "", apperrors.NewValidationError("olderThanDays is too large", map[string]any{"max": maxRetentionDays})
	}
	return publishEnvelope(ctx, s.broker, broker.QueueMediaCleanup, domain.QueueMessageCleanup,
		domain.CleanupPayload{OlderThanDays: olderThanDays, SyncWithProvider: syncWithProvider}, s.clock.now())
}

// RegisterInbound records a pending mirror of a customer's attachment and
// enqueues the download. Repeated calls return the same record.
func (s *MediaService) RegisterInbound(ctx context.Context, in InboundMedia) (string, error) {
	mediaType, ok := domain.MediaTypeForMessage(in.MessageType)
	if !ok || in.ProviderMediaID == "" {
		return "", apperrors.NewValidationError("message carries no media", map[string]any{"type": string(in.MessageType)})
	}
	if existing, err := s.media.GetByProviderID(ctx, in.ProviderMediaID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", apperrors.NewInternalError(err)
	}

	providerID := in.ProviderMediaID
	md := domain.Metadata{}
	if in.SHA256 != "" {
		_ = md.Set(providerSHA256Key, in.SHA256)
	}
	if in.Caption != "" {
		_ = md.Set(captionKey, in.Caption)
	}
	m := &domain.Media{
		ID:              uuid.NewString(),
		ProviderMediaID: &providerID,
		Type:            mediaType,
		Origin:          domain.MediaOriginInbound,
		MimeType:        normalizeMime(in.MimeType),
		Filename:        in.Filename,
		Status:          domain.MediaStatusPending,
		Metadata:        md,
	}
	if err := s.media.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, getErr := s.media.GetByProviderID(ctx, providerID)
			if getErr != nil {
				return "", apperrors.NewInternalError(getErr)
			}
			return existing.ID, nil
		}
		return "", apperrors.NewInternalError(err)
	}

	if _, err := publishEnvelope(ctx, s.broker, broker.QueueMediaUpload, domain.QueueMessageUpload,
		domain.UploadPayload{MediaID: m.ID}, s.clock.now()); err != nil {
		return "", err
	}
	return m.ID, nil
}

// HandleUpload mirrors an inbound attachment into the content store.
func (s *MediaService) HandleUpload(ctx context.Context, p domain.UploadPayload) error {
	m, ok, err := s.loadForHandler(ctx, p.MediaID)
	if err != nil || !ok {
		return err
	}
	if m.Status == domain.MediaStatusUploaded || m.Status == domain.MediaStatusDeleted || m.ProviderID() == "" {
		return nil
	}

	from := m.Status
	machine := lifecycle.NewMediaMachine(m, s.clock.now)
	if m.Status == domain.MediaStatusFailed {
		if _, err := machine.Fire(ctx, lifecycle.TriggerRetry); err != nil {
			return err
		}
	}
	if _, err := machine.Fire(ctx, lifecycle.TriggerStartUpload); err != nil {
		return err
	}
	if err := s.media.UpdateIfStatus(ctx, m, from); err != nil {
		return err
	}

	info, err := s.provider.GetMedia(ctx, m.ProviderID())
	if err != nil {
		s.fail(ctx, machine, m, err.Error())
		return err
	}
	data, err := s.provider.DownloadMedia(ctx, info.URL)
	if err != nil {
		s.fail(ctx, machine, m, err.Error())
		return err
	}

	expected := info.SHA256
	if expected == "" {
		expected, _ = m.Metadata.String(providerSHA256Key)
	}
	if expected != "" && !digestMatches(expected, data) {
		err := fmt.Errorf("checksum mismatch for provider media %s", m.ProviderID())
		s.fail(ctx, machine, m, err.Error())
		return err
	}

	hash := contentstore.Hash(data)
	path, err := s.content.Put(ctx, string(m.Type), hash, data)
	if err != nil {
		s.fail(ctx, machine, m, "store content: "+err.Error())
		return fmt.Errorf("store content: %w", err)
	}
	m.ContentHash = hash
	m.StoragePath = path
	m.Size = int64(len(data))
	if info.MimeType != "" {
		m.MimeType = normalizeMime(info.MimeType)
	}
	if _, err := machine.Fire(ctx, lifecycle.TriggerComplete); err != nil {
		return err
	}
	if err := s.media.UpdateIfStatus(ctx, m, domain.MediaStatusUploading); err != nil {
		// a redelivery finds the record deleted or failed and acts on that
		s.discardOrphan(ctx, m, false)
		return fmt.Errorf("complete media %s: %w", m.ID, err)
	}
	s.emit(ctx, events.EventMediaUploaded, m, events.MediaPayload{Type: m.Type, Status: m.Status, ContentHash: m.ContentHash})
	return nil
}

// HandleDelete soft-deletes a record and, when permanent, purges its bytes
// and revokes the provider copy. Replays are no-ops.
func (s *MediaService) HandleDelete(ctx context.Context, p domain.DeletePayload) error {
	m, ok, err := s.loadForHandler(ctx, p.MediaID)
	if err != nil || !ok {
		return err
	}
	if m.IsPurged() {
		return nil
	}
	if err := s.softDelete(ctx, m, p.Permanent); err != nil {
		return err
	}
	if !p.Permanent {
		return nil
	}
	return s.purge(ctx, m, true)
}

// HandleCleanup purges unpurged media older than the cutoff that is deleted,
// failed, or uploaded and no longer referenced by any message. Abandoned
// uploads are failed first so they qualify.
func (s *MediaService) HandleCleanup(ctx context.Context, p domain.CleanupPayload) error {
	if _, err := s.SweepStaleUploads(ctx); err != nil {
		return err
	}
	days := p.OlderThanDays
	if days <= 0 {
		days = s.cfg.DefaultRetention
	}
	cutoff := s.clock.now().Add(-time.Duration(days) * 24 * time.Hour)

	var (
		afterID string
		purged  int
		errs    []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.media.ListCleanupCandidates(ctx, cutoff, afterID, s.cfg.CleanupBatchSize)
		if err != nil {
			return err
		}
		for i := range batch {
			m := &batch[i]
			afterID = m.ID
			if err := s.cleanupOne(ctx, m, p.SyncWithProvider); err != nil {
				errs = append(errs, fmt.Errorf("media %s: %w", m.ID, err))
				continue
			}
			purged++
		}
		if len(batch) < s.cfg.CleanupBatchSize {
			break
		}
	}

	s.logger.Info("media cleanup finished",
		zap.Int("purged", purged),
		zap.Int("failed", len(errs)),
		zap.Int("older_than_days", days))
	return errors.Join(errs...)
}

func (s *MediaService) cleanupOne(ctx context.Context, m *domain.Media, syncWithProvider bool) error {
	revoke := m.Origin != domain.MediaOriginInbound
	if syncWithProvider && revoke && m.ProviderID() != "" {
		if _, err := s.provider.GetMedia(ctx, m.ProviderID()); err != nil {
			if !isProviderGone(err) {
				return err
			}
			// already expired at the provider
			revoke = false
		}
	}
	if err := s.softDelete(ctx, m, true); err != nil {
		return err
	}
	return s.purge(ctx, m, revoke)
}

func (s *MediaService) softDelete(ctx context.Context, m *domain.Media, permanent bool) error {
	from := m.Status
	machine := lifecycle.NewMediaMachine(m, s.clock.now)
	changed, err := machine.Fire(ctx, lifecycle.TriggerDelete)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.media.UpdateIfStatus(ctx, m, from); err != nil {
		return fmt.Errorf("delete media %s: %w", m.ID, err)
	}
	s.emit(ctx, events.EventMediaDeleted, m, events.MediaPayload{Type: m.Type, Status: m.Status, ContentHash: m.ContentHash, Permanent: permanent})
	return nil
}

// purge removes stored bytes unless another live record shares them.
func (s *MediaService) purge(ctx context.Context, m *domain.Media, revoke bool) error {
	if revoke && m.Origin != domain.MediaOriginInbound && m.ProviderID() != "" {
		if err := s.provider.DeleteMedia(ctx, m.ProviderID()); err != nil && !isProviderGone(err) {
			return err
		}
	}
	if m.StoragePath != "" {
		shared := 0
		if m.ContentHash != "" {
			n, err := s.media.CountSharingHash(ctx, m.ContentHash, m.ID)
			if err != nil {
				return err
			}
			shared = n
		}
		if shared == 0 {
			if err := s.content.Delete(ctx, m.StoragePath); err != nil {
				return err
			}
		}
	}

	now := s.clock.now()
	m.PurgedAt = &now
	m.StoragePath = ""
	if err := s.media.Update(ctx, m); err != nil {
		return err
	}
	s.emit(ctx, events.EventMediaPurged, m, events.MediaPayload{Type: m.Type, Status: m.Status, ContentHash: m.ContentHash, Permanent: true})
	return nil
}

// loadForHandler resolves a queued media id. Unknown ids are acknowledged.
func (s *MediaService) loadForHandler(ctx context.Context, id string) (*domain.Media, bool, error) {
	if !validID(id) {
		s.logger.Warn("queued media id is invalid", zap.String("media_id", id))
		return nil, false, nil
	}
	m, err := s.media.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("queued media no longer exists", zap.String("media_id", id))
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

func (s *MediaService) fail(ctx context.Context, machine *lifecycle.MediaMachine, m *domain.Media, reason string) {
	from := m.Status
	if _, err := machine.Fail(ctx, reason); err != nil {
		s.logger.Error("media fail transition rejected", zap.String("media_id", m.ID), zap.Error(err))
		return
	}
	if err := s.media.UpdateIfStatus(ctx, m, from); err != nil {
		s.logger.Error("persist media failure", zap.String("media_id", m.ID), zap.Error(err))
	}
	s.logger.Warn("media upload failed", zap.String("media_id", m.ID), zap.String("reason", reason))
}

func (s *MediaService) emit(ctx context.Context, eventType events.EventType, m *domain.Media, payload events.MediaPayload) {
	actor := events.SystemActor
	if m.UploaderID != "" {
		actor = events.Actor{Type: domain.SubjectTypeOperator, ID: m.UploaderID}
	}
	events.Emit(ctx, s.dispatcher, events.Event{
		Type:      eventType,
		SubjectID: m.ID,
		Actor:     actor,
		Payload:   payload,
	})
}

// isProviderGone reports a provider 404 or 410 for a media id.
func isProviderGone(err error) bool {
	status, ok := apperrors.UpstreamStatus(err)
	return ok && (status == http.StatusNotFound || status == http.StatusGone)
}

// digestMatches accepts the provider checksum as hex or base64.
func digestMatches(expected string, data []byte) bool {
	sum := sha256.Sum256(data)
	if strings.EqualFold(expected, hex.EncodeToString(sum[:])) {
		return true
	}
	return expected == base64.StdEncoding.EncodeToString(sum[:])
}
