package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique business key is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned by conditional writes when the stored record
	// is no longer in the expected state.
	ErrConflict = errors.New("record changed concurrently")
)

// ConversationFilter narrows conversation listings. Status filtering applies
// lazy expiry relative to Now.
type ConversationFilter struct {
	CustomerPhone   string
	BusinessPhoneID string
	Status          domain.ConversationStatus
	Now             time.Time
	Limit           int
	Offset          int
}

// ConversationRepository persists conversations.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetByParticipants(ctx context.Context, customerPhone, businessPhoneID string) (*domain.Conversation, error)
	// RecordActivity moves the window forward; it never shrinks it. Inbound
	// activity also advances the last customer message time.
	RecordActivity(ctx context.Context, id string, at, expiresAt time.Time, inbound bool) error
	UpdateMetadata(ctx context.Context, id string, metadata domain.Metadata) error
	List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	// Insert stores a new message. ErrDuplicate means the provider id is already stored.
	Insert(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByProviderID(ctx context.Context, providerMessageID string) (*domain.Message, error)
	// UpdateStatus applies a forward-only status change and reports whether it did.
	UpdateStatus(ctx context.Context, providerMessageID string, status domain.MessageStatus, errs []domain.MessageError) (bool, error)
	// MarkRead moves the given messages to read and returns the ones that changed.
	MarkRead(ctx context.Context, conversationID string, ids []string) ([]domain.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error)
}

// MediaRepository persists media records.
type MediaRepository interface {
	// Create stores a new record. ErrDuplicate means an active upload with the
	// same hash and type, or the same provider id, exists.
	Create(ctx context.Context, media *domain.Media) error
	GetByID(ctx context.Context, id string) (*domain.Media, error)
	GetByProviderID(ctx context.Context, providerMediaID string) (*domain.Media, error)
	FindActiveByHash(ctx context.Context, hash string, mediaType domain.MediaType) (*domain.Media, error)
	Update(ctx context.Context, media *domain.Media) error
	// UpdateIfStatus is Update guarded on the stored status still being expected.
	UpdateIfStatus(ctx context.Context, media *domain.Media, expected domain.MediaStatus) error
	// FailStaleUploads marks pending and uploading records untouched since
	// before as failed and returns how many it changed.
	FailStaleUploads(ctx context.Context, before time.Time, reason string) (int64, error)
	// ListCleanupCandidates returns unpurged media older than cutoff that is
	// deleted, failed, or uploaded and unreferenced, ordered by id after afterID.
	ListCleanupCandidates(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]domain.Media, error)
	// CountSharingHash counts other unpurged records whose bytes live at the same hash.
	CountSharingHash(ctx context.Context, hash, excludeID string) (int, error)
}

// TemplateFilter narrows template listings.
type TemplateFilter struct {
	Status   domain.TemplateStatus
	Category domain.TemplateCategory
}

// TemplateRepository persists the local template mirror.
type TemplateRepository interface {
	Create(ctx context.Context, template *domain.Template) error
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	GetByNameLanguage(ctx context.Context, name, language string) (*domain.Template, error)
	Update(ctx context.Context, template *domain.Template) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TemplateFilter) ([]domain.Template, error)
	// UpsertBatch writes templates keyed by (name, language).
	UpsertBatch(ctx context.Context, templates []domain.Template) (int, error)
	UpdateStatusByProviderID(ctx context.Context, providerTemplateID string, status domain.TemplateStatus, reason string) (*domain.Template, error)
}

// Store bundles the repositories a process needs.
type Store struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Media         MediaRepository
	Templates     TemplateRepository
}

// NewPostgresStore builds pgx-backed repositories.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Conversations: NewConversationRepository(pool),
		Messages:      NewMessageRepository(pool),
		Media:         NewMediaRepository(pool),
		Templates:     NewTemplateRepository(pool),
	}
}

func normalizeLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func metadataJSON(m domain.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	if len(raw) == 0 {
		return domain.Metadata{}, nil
	}
	m := domain.Metadata{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
