package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, customer_phone, business_phone_id, type, status, last_message_at, expires_at, last_inbound_at, metadata, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	metadata, err := metadataJSON(c.Metadata)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO conversations (id, customer_phone, business_phone_id, type, status, last_message_at, expires_at, last_inbound_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		c.ID,
		c.CustomerPhone,
		c.BusinessPhoneID,
		c.Type,
		c.Status,
		c.LastMessageAt,
		c.ExpiresAt,
		c.LastInboundAt,
		metadata,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *conversationRepository) GetByParticipants(ctx context.Context, customerPhone, businessPhoneID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE customer_phone=$1 AND business_phone_id=$2`
	return scanConversation(r.pool.QueryRow(ctx, query, customerPhone, businessPhoneID))
}

func (r *conversationRepository) RecordActivity(ctx context.Context, id string, at, expiresAt time.Time, inbound bool) error {
	const query = `
        UPDATE conversations SET
            last_message_at = GREATEST(last_message_at, $2),
            expires_at = GREATEST(expires_at, $3),
            last_inbound_at = CASE WHEN $4::boolean THEN GREATEST(last_inbound_at, $2) ELSE last_inbound_at END,
            status = CASE WHEN status = 'closed' THEN status ELSE 'active' END,
            updated_at = now()
        WHERE id=$1`
	tag, err := r.pool.Exec(ctx, query, id, at, expiresAt, inbound)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) UpdateMetadata(ctx context.Context, id string, metadata domain.Metadata) error {
	raw, err := metadataJSON(metadata)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE conversations SET metadata=$2, updated_at=now() WHERE id=$1`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CustomerPhone != "" {
		args = append(args, filter.CustomerPhone)
		clauses = append(clauses, fmt.Sprintf("customer_phone=$%d", len(args)))
	}
	if filter.BusinessPhoneID != "" {
		args = append(args, filter.BusinessPhoneID)
		clauses = append(clauses, fmt.Sprintf("business_phone_id=$%d", len(args)))
	}
	if filter.Status != "" {
		now := filter.Now
		if now.IsZero() {
			now = time.Now()
		}
		args = append(args, now)
		nowArg := fmt.Sprintf("$%d", len(args))
		switch filter.Status {
		case domain.ConversationStatusActive:
			clauses = append(clauses, fmt.Sprintf("(status='active' AND expires_at > %s)", nowArg))
		case domain.ConversationStatusExpired:
			clauses = append(clauses, fmt.Sprintf("(status='expired' OR (status='active' AND expires_at <= %s))", nowArg))
		default:
			args = append(args, filter.Status)
			clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
		}
	}

	limit := normalizeLimit(filter.Limit, 20, 100)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s ORDER BY last_message_at DESC LIMIT %d OFFSET %d`,
		conversationColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *conversationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET status='expired', updated_at=now() WHERE status='active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		c        domain.Conversation
		metadata []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.CustomerPhone,
		&c.BusinessPhoneID,
		&c.Type,
		&c.Status,
		&c.LastMessageAt,
		&c.ExpiresAt,
		&c.LastInboundAt,
		&metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	md, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	c.Metadata = md
	return &c, nil
}
