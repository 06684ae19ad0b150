package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

type mediaRepository struct {
	pool *pgxpool.Pool
}

// NewMediaRepository instantiates repository.
func NewMediaRepository(pool *pgxpool.Pool) MediaRepository {
	return &mediaRepository{pool: pool}
}

const mediaColumns = `id, provider_media_id, type, origin, mime_type, filename, size_bytes, storage_path, content_hash, status, uploader_id, failure_reason, metadata, created_at, updated_at, deleted_at, purged_at`

func (r *mediaRepository) Create(ctx context.Context, m *domain.Media) error {
	metadata, err := metadataJSON(m.Metadata)
	if err != nil {
		return err
	}
	if m.Origin == "" {
		m.Origin = domain.MediaOriginUpload
	}
	const query = `
        INSERT INTO media (id, provider_media_id, type, origin, mime_type, filename, size_bytes, storage_path, content_hash, status, uploader_id, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		m.ID,
		m.ProviderMediaID,
		m.Type,
		m.Origin,
		m.MimeType,
		m.Filename,
		m.Size,
		m.StoragePath,
		m.ContentHash,
		m.Status,
		m.UploaderID,
		metadata,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *mediaRepository) GetByID(ctx context.Context, id string) (*domain.Media, error) {
	return scanMedia(r.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id=$1`, id))
}

func (r *mediaRepository) GetByProviderID(ctx context.Context, providerMediaID string) (*domain.Media, error) {
	return scanMedia(r.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE provider_media_id=$1`, providerMediaID))
}

func (r *mediaRepository) FindActiveByHash(ctx context.Context, hash string, mediaType domain.MediaType) (*domain.Media, error) {
	const query = `SELECT ` + mediaColumns + ` FROM media
        WHERE content_hash=$1 AND type=$2 AND origin='upload' AND status IN ('pending','uploading','uploaded')
        ORDER BY created_at LIMIT 1`
	return scanMedia(r.pool.QueryRow(ctx, query, hash, mediaType))
}

// Update writes the mutable fields. A content hash, once set, is never overwritten.
func (r *mediaRepository) Update(ctx context.Context, m *domain.Media) error {
	return r.update(ctx, m, "")
}

func (r *mediaRepository) UpdateIfStatus(ctx context.Context, m *domain.Media, expected domain.MediaStatus) error {
	return r.update(ctx, m, expected)
}

func (r *mediaRepository) update(ctx context.Context, m *domain.Media, expected domain.MediaStatus) error {
	metadata, err := metadataJSON(m.Metadata)
	if err != nil {
		return err
	}
	const query = `
        UPDATE media SET
            provider_media_id = $2,
            mime_type = $3,
            size_bytes = $4,
            storage_path = $5,
            content_hash = CASE WHEN content_hash = '' THEN $6 ELSE content_hash END,
            status = $7,
            failure_reason = $8,
            metadata = $9,
            deleted_at = $10,
            purged_at = $11,
            updated_at = now()
        WHERE id=$1 AND ($12::text = '' OR status = $12::text)
        RETURNING content_hash, updated_at`
	err = r.pool.QueryRow(ctx, query,
		m.ID,
		m.ProviderMediaID,
		m.MimeType,
		m.Size,
		m.StoragePath,
		m.ContentHash,
		m.Status,
		m.FailureReason,
		metadata,
		m.DeletedAt,
		m.PurgedAt,
		string(expected),
	).Scan(&m.ContentHash, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if errors.Is(err, pgx.ErrNoRows) && expected != "" {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media WHERE id=$1)`, m.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrConflict
		}
	}
	return notFound(err)
}

func (r *mediaRepository) FailStaleUploads(ctx context.Context, before time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
        UPDATE media SET status='failed', failure_reason=$2, updated_at=now()
        WHERE status IN ('pending','uploading') AND purged_at IS NULL AND updated_at < $1`, before, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *mediaRepository) ListCleanupCandidates(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]domain.Media, error) {
	limit = normalizeLimit(limit, 100, 1000)
	const query = `SELECT ` + mediaColumns + ` FROM media m
        WHERE m.purged_at IS NULL
          AND m.id::text > $2
          AND COALESCE(m.deleted_at, m.created_at) < $1
          AND (
            m.status IN ('deleted', 'failed')
            OR (m.status = 'uploaded' AND NOT EXISTS (
                SELECT 1 FROM messages msg
                WHERE msg.media_id = m.provider_media_id OR msg.media_id = m.id::text))
          )
        ORDER BY m.id::text
        LIMIT $3`
	rows, err := r.pool.Query(ctx, query, cutoff, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (r *mediaRepository) CountSharingHash(ctx context.Context, hash, excludeID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM media WHERE content_hash=$1 AND id::text <> $2 AND purged_at IS NULL AND storage_path <> ''`,
		hash, excludeID).Scan(&count)
	return count, err
}

func scanMedia(row pgx.Row) (*domain.Media, error) {
	var (
		m        domain.Media
		metadata []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.ProviderMediaID,
		&m.Type,
		&m.Origin,
		&m.MimeType,
		&m.Filename,
		&m.Size,
		&m.StoragePath,
		&m.ContentHash,
		&m.Status,
		&m.UploaderID,
		&m.FailureReason,
		&metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
		&m.PurgedAt,
	); err != nil {
		return nil, notFound(err)
	}
	md, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	m.Metadata = md
	return &m, nil
}
