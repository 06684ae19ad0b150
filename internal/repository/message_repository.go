package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository instantiates repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, conversation_id, provider_message_id, direction, sender, recipient, type, status, sent_at, content, media_id, errors, metadata, created_at, updated_at`

func (r *messageRepository) Insert(ctx context.Context, m *domain.Message) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	errs, err := errorsJSON(m.Errors)
	if err != nil {
		return err
	}
	metadata, err := metadataJSON(m.Metadata)
	if err != nil {
		return err
	}

	const query = `
        INSERT INTO messages (id, conversation_id, provider_message_id, direction, sender, recipient, type, status, status_rank, sent_at, content, media_id, errors, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (provider_message_id) DO NOTHING
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		m.ID,
		m.ConversationID,
		m.ProviderMessageID,
		m.Direction,
		m.From,
		m.To,
		m.Type,
		m.Status,
		m.Status.Rank(),
		m.Timestamp,
		content,
		m.MediaID,
		errs,
		metadata,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
}

func (r *messageRepository) GetByProviderID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE provider_message_id=$1`, providerMessageID))
}

// UpdateStatus guards on the stored rank so concurrent writers cannot regress status.
func (r *messageRepository) UpdateStatus(ctx context.Context, providerMessageID string, status domain.MessageStatus, errs []domain.MessageError) (bool, error) {
	rawErrs, err := errorsJSON(errs)
	if err != nil {
		return false, err
	}
	const query = `
        UPDATE messages SET
            status = $2,
            status_rank = $3,
            errors = CASE WHEN $2 = 'failed' THEN $4::jsonb ELSE errors END,
            updated_at = now()
        WHERE provider_message_id = $1
          AND status <> 'failed'
          AND ($2 = 'failed' OR status_rank < $3)`
	tag, err := r.pool.Exec(ctx, query, providerMessageID, status, status.Rank(), rawErrs)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID string, ids []string) ([]domain.Message, error) {
	query := `
        UPDATE messages SET status='read', status_rank=$3, updated_at=now()
        WHERE conversation_id=$1 AND id::text = ANY($2::text[])
          AND status <> 'failed' AND status_rank < $3
        RETURNING ` + messageColumns
	rows, err := r.pool.Query(ctx, query, conversationID, ids, domain.MessageStatusRead.Rank())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	limit = normalizeLimit(limit, 50, 200)
	var (
		rows pgx.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY sent_at DESC, id DESC LIMIT $2`,
			conversationID, limit)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 AND sent_at < $2 ORDER BY sent_at DESC, id DESC LIMIT $3`,
			conversationID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	var result []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m        domain.Message
		content  []byte
		errs     []byte
		metadata []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ProviderMessageID,
		&m.Direction,
		&m.From,
		&m.To,
		&m.Type,
		&m.Status,
		&m.Timestamp,
		&content,
		&m.MediaID,
		&errs,
		&metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, err
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &m.Errors); err != nil {
			return nil, err
		}
	}
	md, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	m.Metadata = md
	return &m, nil
}

func errorsJSON(errs []domain.MessageError) ([]byte, error) {
	if errs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(errs)
}
