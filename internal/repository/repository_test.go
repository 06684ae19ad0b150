package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/persistence"
)

func newConversation(customer string, at time.Time) *domain.Conversation {
	c := &domain.Conversation{
		ID:              uuid.NewString(),
		CustomerPhone:   customer,
		BusinessPhoneID: "PN1",
		Type:            domain.ConversationTypeSession,
		Metadata:        domain.Metadata{"profile_name": json.RawMessage(`"Ada"`)},
	}
	c.RecordActivity(at, domain.DefaultWindowHours)
	return c
}

func newMessage(conversationID, providerID string, status domain.MessageStatus, at time.Time) *domain.Message {
	return &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		ProviderMessageID: providerID,
		Direction:         domain.DirectionOutbound,
		From:              "PN1",
		To:                "15550001111",
		Type:              domain.MessageTypeText,
		Status:            status,
		Timestamp:         at,
		Content:           domain.MessageContent{Text: "hello"},
	}
}

func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("conversations", func(t *testing.T) {
		c := newConversation("15550000001", now.Add(-25*time.Hour))
		require.NoError(t, store.Conversations.Create(ctx, c))
		assert.ErrorIs(t, store.Conversations.Create(ctx, newConversation("15550000001", now)), ErrDuplicate)

		got, err := store.Conversations.GetByParticipants(ctx, "15550000001", "PN1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		name, _ := got.Metadata.String("profile_name")
		assert.Equal(t, "Ada", name)

		expired, err := store.Conversations.List(ctx, ConversationFilter{Status: domain.ConversationStatusExpired, Now: now})
		require.NoError(t, err)
		require.Len(t, expired, 1)

		assert.Nil(t, got.LastInboundAt)
		require.NoError(t, store.Conversations.RecordActivity(ctx, c.ID, now.Add(-time.Hour), now.Add(23*time.Hour), true))
		require.NoError(t, store.Conversations.RecordActivity(ctx, c.ID, now, now.Add(24*time.Hour), false))
		// an older timestamp never shrinks the window
		require.NoError(t, store.Conversations.RecordActivity(ctx, c.ID, now.Add(-2*time.Hour), now.Add(22*time.Hour), true))
		got, err = store.Conversations.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, now, got.LastMessageAt, time.Millisecond)
		assert.WithinDuration(t, now.Add(24*time.Hour), got.ExpiresAt, time.Millisecond)
		assert.Equal(t, domain.ConversationStatusActive, got.Status)
		require.NotNil(t, got.LastInboundAt)
		assert.WithinDuration(t, now.Add(-time.Hour), *got.LastInboundAt, time.Millisecond)

		_, err = store.Conversations.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		stale := newConversation("15550000002", now.Add(-48*time.Hour))
		require.NoError(t, store.Conversations.Create(ctx, stale))
		n, err := store.Conversations.ExpireStale(ctx, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("messages", func(t *testing.T) {
		c := newConversation("15550000003", now)
		require.NoError(t, store.Conversations.Create(ctx, c))

		m := newMessage(c.ID, "wamid.repo.1", domain.MessageStatusSent, now)
		require.NoError(t, store.Messages.Insert(ctx, m))
		assert.ErrorIs(t, store.Messages.Insert(ctx, newMessage(c.ID, "wamid.repo.1", domain.MessageStatusSent, now)), ErrDuplicate)

		ok, err := store.Messages.UpdateStatus(ctx, "wamid.repo.1", domain.MessageStatusRead, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Messages.UpdateStatus(ctx, "wamid.repo.1", domain.MessageStatusDelivered, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Messages.UpdateStatus(ctx, "wamid.repo.1", domain.MessageStatusFailed, []domain.MessageError{{Code: 131047, Title: "Re-engagement message"}})
		require.NoError(t, err)
		assert.True(t, ok)
		got, err := store.Messages.GetByProviderID(ctx, "wamid.repo.1")
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusFailed, got.Status)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, 131047, got.Errors[0].Code)

		inbound := newMessage(c.ID, "wamid.repo.2", domain.MessageStatusNone, now.Add(time.Second))
		inbound.Direction = domain.DirectionInbound
		require.NoError(t, store.Messages.Insert(ctx, inbound))
		changed, err := store.Messages.MarkRead(ctx, c.ID, []string{inbound.ID, m.ID})
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.Equal(t, inbound.ID, changed[0].ID)

		history, err := store.Messages.ListByConversation(ctx, c.ID, 10, time.Time{})
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, inbound.ID, history[0].ID)

		older, err := store.Messages.ListByConversation(ctx, c.ID, 10, now.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, older, 1)
		assert.Equal(t, m.ID, older[0].ID)
	})

	t.Run("media", func(t *testing.T) {
		hash := fmt.Sprintf("%064x", 42)
		first := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeImage, MimeType: "image/png", ContentHash: hash, Status: domain.MediaStatusPending}
		require.NoError(t, store.Media.Create(ctx, first))

		dup := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeImage, MimeType: "image/png", ContentHash: hash, Status: domain.MediaStatusPending}
		assert.ErrorIs(t, store.Media.Create(ctx, dup), ErrDuplicate)

		otherType := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeDocument, MimeType: "application/pdf", ContentHash: hash, Status: domain.MediaStatusPending}
		require.NoError(t, store.Media.Create(ctx, otherType))

		found, err := store.Media.FindActiveByHash(ctx, hash, domain.MediaTypeImage)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)

		first.Status = domain.MediaStatusUploaded
		first.StoragePath = "image/ab/" + hash
		pid := "PROVIDER-1"
		first.ProviderMediaID = &pid
		first.ContentHash = "ignored"
		require.NoError(t, store.Media.Update(ctx, first))
		assert.Equal(t, hash, first.ContentHash)

		byProvider, err := store.Media.GetByProviderID(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, first.ID, byProvider.ID)

		otherType.StoragePath = "document/ab/" + hash
		require.NoError(t, store.Media.Update(ctx, otherType))
		n, err := store.Media.CountSharingHash(ctx, hash, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		deletedAt := now.Add(-72 * time.Hour)
		first.Status = domain.MediaStatusDeleted
		first.DeletedAt = &deletedAt
		require.NoError(t, store.Media.Update(ctx, first))

		candidates, err := store.Media.ListCleanupCandidates(ctx, now.Add(-48*time.Hour), "", 10)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, first.ID, candidates[0].ID)

		_, err = store.Media.FindActiveByHash(ctx, hash, domain.MediaTypeImage)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("media guards", func(t *testing.T) {
		hash := fmt.Sprintf("%064x", 77)
		m := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeVideo, MimeType: "video/mp4", ContentHash: hash, Status: domain.MediaStatusUploaded}
		require.NoError(t, store.Media.Create(ctx, m))

		// the full hash is the identity; a shared prefix is not a match
		nearHash := hash[:60] + "ffff"
		_, err := store.Media.FindActiveByHash(ctx, nearHash, domain.MediaTypeVideo)
		assert.ErrorIs(t, err, ErrNotFound)
		near := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeVideo, MimeType: "video/mp4", ContentHash: nearHash, Status: domain.MediaStatusUploaded}
		require.NoError(t, store.Media.Create(ctx, near))
		found, err := store.Media.FindActiveByHash(ctx, hash, domain.MediaTypeVideo)
		require.NoError(t, err)
		assert.Equal(t, m.ID, found.ID)

		m.Status = domain.MediaStatusDeleted
		assert.ErrorIs(t, store.Media.UpdateIfStatus(ctx, m, domain.MediaStatusUploading), ErrConflict)
		got, err := store.Media.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MediaStatusUploaded, got.Status)
		require.NoError(t, store.Media.UpdateIfStatus(ctx, m, domain.MediaStatusUploaded))
		ghost := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeVideo, Status: domain.MediaStatusFailed}
		assert.ErrorIs(t, store.Media.UpdateIfStatus(ctx, ghost, domain.MediaStatusPending), ErrNotFound)

		pending := &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeAudio, MimeType: "audio/ogg", ContentHash: fmt.Sprintf("%064x", 78), Status: domain.MediaStatusPending}
		require.NoError(t, store.Media.Create(ctx, pending))
		n, err := store.Media.FailStaleUploads(ctx, time.Now().Add(-time.Hour), "upload abandoned")
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = store.Media.FailStaleUploads(ctx, time.Now().Add(time.Hour), "upload abandoned")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
		got, err = store.Media.GetByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MediaStatusFailed, got.Status)
		assert.Equal(t, "upload abandoned", got.FailureReason)
		// the hash is free again once the stale claim failed
		require.NoError(t, store.Media.Create(ctx, &domain.Media{ID: uuid.NewString(), Type: domain.MediaTypeAudio, MimeType: "audio/ogg", ContentHash: pending.ContentHash, Status: domain.MediaStatusPending}))

		candidates, err := store.Media.ListCleanupCandidates(ctx, time.Now().Add(time.Hour), "", 1000)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, c := range candidates {
			ids[c.ID] = true
		}
		assert.True(t, ids[pending.ID], "failed records are cleanup candidates")
	})

	t.Run("templates", func(t *testing.T) {
		tpl := &domain.Template{
			ID:                 uuid.NewString(),
			ProviderTemplateID: "T1",
			Name:               "welcome",
			Language:           "en_US",
			Category:           domain.TemplateCategoryUtility,
			Status:             domain.TemplateStatusPending,
			Components:         []domain.TemplateComponent{{Type: "BODY", Text: "Hi {{1}}"}},
		}
		require.NoError(t, store.Templates.Create(ctx, tpl))
		dup := *tpl
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, store.Templates.Create(ctx, &dup), ErrDuplicate)

		synced := now
		n, err := store.Templates.UpsertBatch(ctx, []domain.Template{
			{ProviderTemplateID: "T1", Name: "welcome", Language: "en_US", Category: domain.TemplateCategoryUtility, Status: domain.TemplateStatusApproved, SyncedAt: &synced},
			{ProviderTemplateID: "T2", Name: "promo", Language: "en_US", Category: domain.TemplateCategoryMarketing, Status: domain.TemplateStatusRejected, SyncedAt: &synced},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := store.Templates.GetByNameLanguage(ctx, "welcome", "en_US")
		require.NoError(t, err)
		assert.Equal(t, tpl.ID, got.ID)
		assert.Equal(t, domain.TemplateStatusApproved, got.Status)

		approved, err := store.Templates.List(ctx, TemplateFilter{Status: domain.TemplateStatusApproved})
		require.NoError(t, err)
		require.Len(t, approved, 1)

		updated, err := store.Templates.UpdateStatusByProviderID(ctx, "T2", domain.TemplateStatusApproved, "")
		require.NoError(t, err)
		assert.Equal(t, "promo", updated.Name)

		require.NoError(t, store.Templates.Delete(ctx, tpl.ID))
		assert.ErrorIs(t, store.Templates.Delete(ctx, tpl.ID), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "wa",
				"POSTGRES_PASSWORD": "wa",
				"POSTGRES_DB":       "wa",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://wa:wa@%s/wa?sslmode=disable", endpoint))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	// migrations are idempotent
	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))

	runStoreSuite(t, NewPostgresStore(pool))
}
