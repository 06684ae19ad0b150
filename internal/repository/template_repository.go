package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

type templateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository instantiates repository.
func NewTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepository{pool: pool}
}

const templateColumns = `id, provider_template_id, name, language, category, components, status, rejected_reason, created_at, updated_at, synced_at`

func (r *templateRepository) Create(ctx context.Context, t *domain.Template) error {
	components, err := componentsJSON(t.Components)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO templates (id, provider_template_id, name, language, category, components, status, rejected_reason, synced_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		t.ID,
		t.ProviderTemplateID,
		t.Name,
		t.Language,
		t.Category,
		components,
		t.Status,
		t.RejectedReason,
		t.SyncedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *templateRepository) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, id))
}

func (r *templateRepository) GetByNameLanguage(ctx context.Context, name, language string) (*domain.Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE name=$1 AND language=$2`, name, language))
}

func (r *templateRepository) Update(ctx context.Context, t *domain.Template) error {
	components, err := componentsJSON(t.Components)
	if err != nil {
		return err
	}
	const query = `
        UPDATE templates SET
            provider_template_id=$2, category=$3, components=$4, status=$5, rejected_reason=$6, synced_at=$7, updated_at=now()
        WHERE id=$1
        RETURNING updated_at`
	err = r.pool.QueryRow(ctx, query,
		t.ID,
		t.ProviderTemplateID,
		t.Category,
		components,
		t.Status,
		t.RejectedReason,
		t.SyncedAt,
	).Scan(&t.UpdatedAt)
	return notFound(err)
}

func (r *templateRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM templates WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *templateRepository) List(ctx context.Context, filter TemplateFilter) ([]domain.Template, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM templates WHERE %s ORDER BY name, language`,
		templateColumns, strings.Join(clauses, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// UpsertBatch runs in one transaction so a sync is applied all or nothing.
func (r *templateRepository) UpsertBatch(ctx context.Context, templates []domain.Template) (int, error) {
	if len(templates) == 0 {
		return 0, nil
	}
	const query = `
        INSERT INTO templates (id, provider_template_id, name, language, category, components, status, rejected_reason, synced_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (name, language) DO UPDATE SET
            provider_template_id = EXCLUDED.provider_template_id,
            category = EXCLUDED.category,
            components = EXCLUDED.components,
            status = EXCLUDED.status,
            rejected_reason = EXCLUDED.rejected_reason,
            synced_at = EXCLUDED.synced_at,
            updated_at = now()`

	batch := &pgx.Batch{}
	for i := range templates {
		t := &templates[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		components, err := componentsJSON(t.Components)
		if err != nil {
			return 0, err
		}
		batch.Queue(query, t.ID, t.ProviderTemplateID, t.Name, t.Language, t.Category, components, t.Status, t.RejectedReason, t.SyncedAt)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := tx.SendBatch(ctx, batch)
	for range templates {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, err
		}
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(templates), nil
}

func (r *templateRepository) UpdateStatusByProviderID(ctx context.Context, providerTemplateID string, status domain.TemplateStatus, reason string) (*domain.Template, error) {
	query := `
        UPDATE templates SET status=$2, rejected_reason=$3, updated_at=now()
        WHERE provider_template_id=$1
        RETURNING ` + templateColumns
	return scanTemplate(r.pool.QueryRow(ctx, query, providerTemplateID, status, reason))
}

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var (
		t          domain.Template
		components []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.ProviderTemplateID,
		&t.Name,
		&t.Language,
		&t.Category,
		&components,
		&t.Status,
		&t.RejectedReason,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.SyncedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &t.Components); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func componentsJSON(components []domain.TemplateComponent) ([]byte, error) {
	if components == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(components)
}
