package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"afterwon/internal/models"
)

var ErrGenerationNotFound = errors.New("generation not found")

type GenerationRepository struct {
	pool *pgxpool.Pool
}

func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepository {
	return &GenerationRepository{pool: pool}
}

const generationColumns = `
	id, user_id, session_id, kind, style, size, extras, description, prompt, checksum,
	ephemeral_kind, ephemeral_href, durable_url, durable_key, status, attempts, last_error,
	created_at, updated_at
`

// Create inserts a pending row. Re-creating an existing generation is a no-op.
func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	const query = `
		INSERT INTO generations (
			id, user_id, session_id, kind, style, size, extras, description, prompt, checksum,
			ephemeral_kind, ephemeral_href, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, COALESCE($14, NOW()), NOW()
		)
		ON CONFLICT (id) DO NOTHING
	`

	extras := g.Extras
	if extras == nil {
		extras = []string{}
	}
	var createdAt *time.Time
	if !g.CreatedAt.IsZero() {
		createdAt = &g.CreatedAt
	}

	_, err := r.pool.Exec(ctx, query,
		g.ID,
		g.UserID,
		g.SessionID,
		string(g.Kind),
		string(g.Style),
		g.Size,
		extras,
		g.Description,
		g.Prompt,
		g.Checksum,
		string(g.EphemeralKind),
		g.EphemeralHref,
		string(models.GenerationRecordPending),
		createdAt,
	)
	return err
}

// MarkStored patches in the durable reference.
func (r *GenerationRepository) MarkStored(ctx context.Context, id string, ref models.DurableRef) error {
	const query = `
		UPDATE generations
		SET durable_url = $2,
		    durable_key = $3,
		    status = $4,
		    attempts = attempts + 1,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, ref.URL, ref.Key, string(models.GenerationRecordStored))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGenerationNotFound
	}
	return nil
}

// MarkDegraded records a failed persistence run. A row that is already stored
// keeps its durable reference.
func (r *GenerationRepository) MarkDegraded(ctx context.Context, id string, attempts int, reason string) error {
	const query = `
		UPDATE generations
		SET status = $2,
		    attempts = attempts + $3,
		    last_error = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status != $5
	`
	_, err := r.pool.Exec(ctx, query, id,
		string(models.GenerationRecordDegraded),
		attempts,
		reason,
		string(models.GenerationRecordStored),
	)
	return err
}

// MarkExpired takes a degraded row out of the resync queue once its
// ephemeral image is gone.
func (r *GenerationRepository) MarkExpired(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE generations
		SET status = $2,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	_, err := r.pool.Exec(ctx, query, id,
		string(models.GenerationRecordExpired),
		reason,
		string(models.GenerationRecordDegraded),
	)
	return err
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`

	g, err := scanGeneration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Generation{}, ErrGenerationNotFound
		}
		return models.Generation{}, err
	}
	return g, nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + `
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, userID, limit, offset)
}

// ListDegraded returns degraded rows untouched for at least olderThan, oldest
// first.
func (r *GenerationRepository) ListDegraded(ctx context.Context, limit int, olderThan time.Duration) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + `
		FROM generations
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	cutoff := time.Now().Add(-olderThan)
	return r.list(ctx, query, string(models.GenerationRecordDegraded), cutoff, limit)
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	generations := []models.Generation{}
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}

func scanGeneration(row pgx.Row) (models.Generation, error) {
	var g models.Generation
	var kind, style, status, ekind string
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.SessionID,
		&kind,
		&style,
		&g.Size,
		&g.Extras,
		&g.Description,
		&g.Prompt,
		&g.Checksum,
		&ekind,
		&g.EphemeralHref,
		&g.DurableURL,
		&g.DurableKey,
		&status,
		&g.Attempts,
		&g.LastError,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return models.Generation{}, err
	}
	g.Kind = models.Kind(kind)
	g.Style = models.Style(style)
	g.Status = models.GenerationRecordStatus(status)
	g.EphemeralKind = models.RefKind(ekind)
	return g, nil
}
