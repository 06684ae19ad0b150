package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/contentstore"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

func uploadPNG(t *testing.T, h *harness, data []byte) string {
	t.Helper()
	id, err := h.media.Upload(context.Background(), UploadInput{
		Data:       data,
		Type:       domain.MediaTypeImage,
		MimeType:   "image/png",
		Filename:   "logo.png",
		UploaderID: "agent-1",
	})
	require.NoError(t, err)
	return id
}

func TestUploadStoresAndDeduplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := uploadPNG(t, h, pngBytes)
	second := uploadPNG(t, h, pngBytes)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.graph.uploads)

	other := uploadPNG(t, h, pngWith(7))
	assert.NotEqual(t, first, other)
	assert.Equal(t, 2, h.graph.uploads)

	m, data, err := h.media.Download(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status)
	assert.Equal(t, contentstore.Hash(pngBytes), m.ContentHash)
	assert.NotEmpty(t, m.ProviderID())
	assert.Equal(t, 3, h.events.count(events.EventMediaUploaded))
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pdf := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")

	cases := []struct {
		name string
		in   UploadInput
	}{
		{"empty", UploadInput{Type: domain.MediaTypeImage, MimeType: "image/png"}},
		{"unknown type", UploadInput{Data: pngBytes, Type: "sticker", MimeType: "image/png"}},
		{"too large", UploadInput{Data: make([]byte, 2048), Type: domain.MediaTypeImage, MimeType: "image/png"}},
		{"mime not allowed", UploadInput{Data: pngBytes, Type: domain.MediaTypeImage, MimeType: "image/gif"}},
		{"content mismatch", UploadInput{Data: pdf, Type: domain.MediaTypeImage, MimeType: "image/png"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.media.Upload(ctx, tc.in)
			requireCode(t, err, apperrors.CodeValidation)
		})
	}
	assert.Zero(t, h.graph.uploads)

	id, err := h.media.Upload(ctx, UploadInput{Data: pdf, Type: domain.MediaTypeDocument, Filename: "terms.pdf"})
	require.NoError(t, err)
	m, err := h.media.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", m.MimeType)
}

func TestUploadProviderRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.uploadErr = apperrors.NewUpstreamError("upload media", http.StatusBadRequest, []byte(`{"error":{"message":"bad"}}`))

	_, err := h.media.Upload(ctx, UploadInput{Data: pngBytes, Type: domain.MediaTypeImage, MimeType: "image/png"})
	requireCode(t, err, apperrors.CodeUpstream)
	status, ok := apperrors.UpstreamStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, status)

	// the failed record does not block a new attempt with the same bytes
	_, err = h.store.Media.FindActiveByHash(ctx, contentstore.Hash(pngBytes), domain.MediaTypeImage)
	require.Error(t, err)
	h.graph.uploadErr = nil
	id := uploadPNG(t, h, pngBytes)
	m, err := h.media.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status)
}

func seedInFlight(t *testing.T, h *harness, data []byte) *domain.Media {
	t.Helper()
	m := &domain.Media{
		ID:          uuid.NewString(),
		Type:        domain.MediaTypeImage,
		Origin:      domain.MediaOriginUpload,
		MimeType:    "image/png",
		ContentHash: contentstore.Hash(data),
		Status:      domain.MediaStatusPending,
	}
	require.NoError(t, h.store.Media.Create(context.Background(), m))
	return m
}

func imagePath(data []byte) string {
	hash := contentstore.Hash(data)
	return "image/" + hash[:2] + "/" + hash
}

func TestUploadTakesOverAbandonedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stuck := seedInFlight(t, h, pngBytes)

	h.now = h.now.Add(10 * time.Minute)
	id := uploadPNG(t, h, pngBytes)
	assert.NotEqual(t, stuck.ID, id)
	assert.Equal(t, 1, h.graph.uploads)

	_, data, err := h.media.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	old, err := h.store.Media.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusFailed, old.Status)
	assert.Equal(t, staleUploadReason, old.FailureReason)

	// later uploads resolve to the record that finished
	assert.Equal(t, id, uploadPNG(t, h, pngBytes))
	assert.Equal(t, 1, h.graph.uploads)
}

func TestUploadWaitsForInFlightWriter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inFlight := seedInFlight(t, h, pngBytes)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		m, err := h.store.Media.GetByID(ctx, inFlight.ID)
		if err != nil {
			return
		}
		pid := "media.finished"
		m.Status = domain.MediaStatusUploaded
		m.ProviderMediaID = &pid
		m.StoragePath = imagePath(pngBytes)
		_ = h.store.Media.Update(ctx, m)
	}()

	id := uploadPNG(t, h, pngBytes)
	<-done
	assert.Equal(t, inFlight.ID, id)
	assert.Zero(t, h.graph.uploads)
}

func TestUploadGivesUpOnBusyWriterWhenContextEnds(t *testing.T) {
	h := newHarness(t)
	seedInFlight(t, h, pngBytes)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.media.Upload(ctx, UploadInput{Data: pngBytes, Type: domain.MediaTypeImage, MimeType: "image/png"})
	requireCode(t, err, apperrors.CodeConflict)
	assert.Zero(t, h.graph.uploads)
}

func TestUploadComparesFullHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hash := contentstore.Hash(pngBytes)
	tail := "0000"
	if strings.HasSuffix(hash, tail) {
		tail = "ffff"
	}
	near := &domain.Media{
		ID:          uuid.NewString(),
		Type:        domain.MediaTypeImage,
		Origin:      domain.MediaOriginUpload,
		MimeType:    "image/png",
		ContentHash: hash[:len(hash)-len(tail)] + tail,
		Status:      domain.MediaStatusUploaded,
		StoragePath: "image/near",
	}
	require.NoError(t, h.store.Media.Create(ctx, near))

	id := uploadPNG(t, h, pngBytes)
	assert.NotEqual(t, near.ID, id)
	assert.Equal(t, 1, h.graph.uploads)
	m, err := h.media.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, hash, m.ContentHash)
}

func TestSweepStaleUploadsFailsIdleRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stuck := seedInFlight(t, h, pngBytes)
	done := uploadPNG(t, h, pngWith(9))

	n, err := h.media.SweepStaleUploads(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.now = h.now.Add(10 * time.Minute)
	n, err = h.media.SweepStaleUploads(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	m, err := h.store.Media.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusFailed, m.Status)
	m, err = h.store.Media.GetByID(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status)
}

func TestCleanupPurgesFailedUploadBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.uploadErr = apperrors.NewUpstreamError("upload media", http.StatusBadRequest, nil)

	_, err := h.media.Upload(ctx, UploadInput{Data: pngBytes, Type: domain.MediaTypeImage, MimeType: "image/png"})
	requireCode(t, err, apperrors.CodeUpstream)
	_, err = h.content.Get(ctx, imagePath(pngBytes))
	require.NoError(t, err, "bytes were stored before the provider rejected them")

	h.now = h.now.Add(40 * 24 * time.Hour)
	require.NoError(t, h.media.HandleCleanup(ctx, domain.CleanupPayload{OlderThanDays: 30}))
	_, err = h.content.Get(ctx, imagePath(pngBytes))
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	assert.Equal(t, 1, h.events.count(events.EventMediaPurged))
}

func TestDeleteDuringUploadIsNotOverwritten(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hash := contentstore.Hash(pngBytes)

	var deletedID string
	h.graph.onUpload = func() {
		m, err := h.store.Media.FindActiveByHash(ctx, hash, domain.MediaTypeImage)
		if err != nil {
			return
		}
		deletedID = m.ID
		_ = h.media.HandleDelete(ctx, domain.DeletePayload{MediaID: m.ID})
	}

	_, err := h.media.Upload(ctx, UploadInput{Data: pngBytes, Type: domain.MediaTypeImage, MimeType: "image/png"})
	requireCode(t, err, apperrors.CodeConflict)
	require.NotEmpty(t, deletedID)

	m, err := h.store.Media.GetByID(ctx, deletedID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusDeleted, m.Status)
	assert.NotNil(t, m.DeletedAt)
	assert.Nil(t, m.ProviderMediaID)

	// the provider copy and stored bytes of the lost upload are released
	assert.Len(t, h.graph.deleted, 1)
	_, err = h.content.Get(ctx, imagePath(pngBytes))
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	assert.Zero(t, h.events.count(events.EventMediaUploaded))
}

func TestBulkUploadReportsPerItem(t *testing.T) {
	h := newHarness(t)
	result := h.media.BulkUpload(context.Background(), []UploadInput{
		{Data: pngWith(1), Type: domain.MediaTypeImage, MimeType: "image/png", Filename: "a.png"},
		{Data: pngWith(2), Type: domain.MediaTypeImage, MimeType: "image/gif", Filename: "b.gif"},
		{Data: pngWith(3), Type: domain.MediaTypeImage, MimeType: "image/png", Filename: "c.png"},
	})
	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 0, result.Succeeded[0].Index)
	assert.Equal(t, 2, result.Succeeded[1].Index)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.Equal(t, "b.gif", result.Failed[0].Filename)
	assert.Equal(t, apperrors.CodeValidation, result.Failed[0].Error.Code)
}

func TestDeleteIsAsynchronous(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := uploadPNG(t, h, pngBytes)

	_, err := h.media.RequestDelete(ctx, id, true)
	require.NoError(t, err)
	m, err := h.media.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status, "status is unchanged until the worker runs")

	env := h.nextEnvelope(t, broker.QueueMediaDelete)
	assert.Equal(t, domain.QueueMessageDelete, env.Type)
	var p domain.DeletePayload
	require.NoError(t, env.DecodePayload(&p))
	assert.True(t, p.Permanent)

	require.NoError(t, h.media.HandleDelete(ctx, p))
	// replays are no-ops
	require.NoError(t, h.media.HandleDelete(ctx, p))

	_, _, err = h.media.Download(ctx, id)
	requireCode(t, err, apperrors.CodeNotFound)
	m, err = h.store.Media.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusDeleted, m.Status)
	assert.True(t, m.IsPurged())
	assert.NotNil(t, m.DeletedAt)
	assert.Len(t, h.graph.deleted, 1)

	_, err = h.content.Get(ctx, "image/"+contentstore.Hash(pngBytes)[:2]+"/"+contentstore.Hash(pngBytes))
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	assert.Equal(t, 1, h.events.count(events.EventMediaPurged))
}

func TestSoftDeleteKeepsBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := uploadPNG(t, h, pngBytes)

	require.NoError(t, h.media.HandleDelete(ctx, domain.DeletePayload{MediaID: id}))
	m, data, err := h.media.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusDeleted, m.Status)
	assert.Equal(t, pngBytes, data)
	assert.Empty(t, h.graph.deleted)

	// a fresh upload of the same bytes is no longer deduplicated
	again := uploadPNG(t, h, pngBytes)
	assert.NotEqual(t, id, again)

	// purging the old record keeps the bytes the new one shares
	require.NoError(t, h.media.HandleDelete(ctx, domain.DeletePayload{MediaID: id, Permanent: true}))
	_, data, err = h.media.Download(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestRequestDeleteUnknownMedia(t *testing.T) {
	h := newHarness(t)
	_, err := h.media.RequestDelete(context.Background(), uuid.NewString(), false)
	requireCode(t, err, apperrors.CodeNotFound)
	assert.Zero(t, h.broker.Pending(broker.QueueMediaDelete))

	// queued ids that vanished are acknowledged
	require.NoError(t, h.media.HandleDelete(context.Background(), domain.DeletePayload{MediaID: uuid.NewString()}))
}

func TestCleanupPurgesStaleUnreferencedMedia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := []string{uploadPNG(t, h, pngWith(1)), uploadPNG(t, h, pngWith(2)), uploadPNG(t, h, pngWith(3))}
	referenced := uploadPNG(t, h, pngWith(4))

	h.ingestText(t, "wamid.in.cleanup", h.now)
	_, err := h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeImage, MediaID: referenced})
	require.NoError(t, err)

	_, err = h.media.RequestCleanup(ctx, 0, true)
	require.NoError(t, err)
	env := h.nextEnvelope(t, broker.QueueMediaCleanup)
	var p domain.CleanupPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, 30, p.OlderThanDays)

	h.now = h.now.Add(40 * 24 * time.Hour)
	require.NoError(t, h.media.HandleCleanup(ctx, p))

	for _, id := range stale {
		m, err := h.store.Media.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, m.IsPurged(), id)
		assert.Equal(t, domain.MediaStatusDeleted, m.Status)
	}
	m, err := h.store.Media.GetByID(ctx, referenced)
	require.NoError(t, err)
	assert.False(t, m.IsPurged())
	assert.Len(t, h.graph.deleted, 3)

	_, err = h.media.RequestCleanup(ctx, maxRetentionDays+1, false)
	requireCode(t, err, apperrors.CodeValidation)
}

func TestInboundMediaIsMirrored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.addRemoteMedia("MEDIA-IN-1", "image/jpeg", []byte("customer photo"))

	id, err := h.media.RegisterInbound(ctx, InboundMedia{
		ProviderMediaID: "MEDIA-IN-1",
		MessageType:     domain.MessageTypeImage,
		MimeType:        "image/jpeg",
		Caption:         "look",
	})
	require.NoError(t, err)
	again, err := h.media.RegisterInbound(ctx, InboundMedia{ProviderMediaID: "MEDIA-IN-1", MessageType: domain.MessageTypeImage})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	env := h.nextEnvelope(t, broker.QueueMediaUpload)
	var p domain.UploadPayload
	require.NoError(t, env.DecodePayload(&p))
	require.NoError(t, h.media.HandleUpload(ctx, p))

	m, data, err := h.media.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("customer photo"), data)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status)
	assert.Equal(t, domain.MediaOriginInbound, m.Origin)
	assert.Equal(t, contentstore.Hash(data), m.ContentHash)
}

func TestInboundMediaChecksumMismatchFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.addRemoteMedia("MEDIA-IN-2", "image/jpeg", []byte("bytes"))
	h.graph.badChecksum = true
	id, err := h.media.RegisterInbound(ctx, InboundMedia{ProviderMediaID: "MEDIA-IN-2", MessageType: domain.MessageTypeImage})
	require.NoError(t, err)

	require.Error(t, h.media.HandleUpload(ctx, domain.UploadPayload{MediaID: id}))
	m, err := h.store.Media.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusFailed, m.Status)
	assert.Contains(t, m.FailureReason, "checksum mismatch")
	assert.Empty(t, m.StoragePath)
}

func TestDigestMatchesHexAndBase64(t *testing.T) {
	data := []byte("bytes")
	sum := sha256.Sum256(data)
	assert.True(t, digestMatches(hex.EncodeToString(sum[:]), data))
	assert.True(t, digestMatches(strings.ToUpper(hex.EncodeToString(sum[:])), data))
	assert.True(t, digestMatches(base64.StdEncoding.EncodeToString(sum[:]), data))
	assert.False(t, digestMatches(contentstore.Hash([]byte("other")), data))
}

func TestHandleUploadRetriesAfterProviderFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.media.RegisterInbound(ctx, InboundMedia{ProviderMediaID: "MEDIA-LATE", MessageType: domain.MessageTypeDocument})
	require.NoError(t, err)

	err = h.media.HandleUpload(ctx, domain.UploadPayload{MediaID: id})
	requireCode(t, err, apperrors.CodeUpstream)
	m, err := h.store.Media.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusFailed, m.Status)
	assert.NotEmpty(t, m.FailureReason)

	h.graph.addRemoteMedia("MEDIA-LATE", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, h.media.HandleUpload(ctx, domain.UploadPayload{MediaID: id}))
	m, err = h.store.Media.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaStatusUploaded, m.Status)
	assert.Empty(t, m.FailureReason)
}
