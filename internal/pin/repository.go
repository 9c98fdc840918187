package pin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"profile-gate/internal/clock"
)

// Repository is the Postgres store for protected pages and the attempt ledger.
type Repository struct {
	db    *sql.DB
	clock clock.Clock
}

type CleanupResult struct {
	DeletedAttempts int64 `json:"deleted_attempts"`
}

func NewRepository(db *sql.DB, clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.System()
	}
	return &Repository{db: db, clock: clk}
}

const pageColumns = `id, profile_id, title, secret_digest, secret_version, visibility_mode, allow_remember, is_active, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (ProtectedPage, error) {
	var p ProtectedPage
	var mode string
	if err := row.Scan(&p.ID, &p.ProfileID, &p.Title, &p.SecretDigest, &p.SecretVersion, &mode, &p.AllowRemember, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return ProtectedPage{}, err
	}
	p.VisibilityMode = VisibilityMode(mode)
	return p, nil
}

func (r *Repository) ActivePages(ctx context.Context, profileID, targetPageID string) ([]ProtectedPage, error) {
	query := `SELECT ` + pageColumns + `
		FROM protected_pages
		WHERE profile_id = $1 AND is_active = TRUE`
	args := []any{profileID}
	if targetPageID != "" {
		query += ` AND id = $2`
		args = append(args, targetPageID)
	}
	query += ` ORDER BY created_at ASC`

	return r.queryPages(ctx, query, args...)
}

func (r *Repository) ListPages(ctx context.Context, profileID string) ([]ProtectedPage, error) {
	return r.queryPages(ctx, `SELECT `+pageColumns+`
		FROM protected_pages
		WHERE profile_id = $1
		ORDER BY created_at ASC`, profileID)
}

func (r *Repository) queryPages(ctx context.Context, query string, args ...any) ([]ProtectedPage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query protected pages: %w", err)
	}
	defer rows.Close()

	pages := make([]ProtectedPage, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan protected page: %w", err)
		}
		pages = append(pages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protected pages: %w", err)
	}

	return pages, nil
}

func (r *Repository) Page(ctx context.Context, pageID string) (ProtectedPage, error) {
	p, err := scanPage(r.db.QueryRowContext(ctx, `SELECT `+pageColumns+`
		FROM protected_pages
		WHERE id = $1`, pageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProtectedPage{}, ErrPageNotFound
		}
		return ProtectedPage{}, fmt.Errorf("query protected page: %w", err)
	}

	return p, nil
}

func (r *Repository) CreatePage(ctx context.Context, profileID string, input PageInput) (ProtectedPage, error) {
	id, err := newPageID()
	if err != nil {
		return ProtectedPage{}, err
	}

	now := r.clock.Now()
	p := ProtectedPage{
		ID:             id,
		ProfileID:      profileID,
		Title:          input.Title,
		SecretDigest:   input.SecretDigest,
		SecretVersion:  1,
		VisibilityMode: input.VisibilityMode,
		AllowRemember:  input.AllowRemember,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO protected_pages (`+pageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, p.ID, p.ProfileID, p.Title, p.SecretDigest, p.SecretVersion, string(p.VisibilityMode), p.AllowRemember, p.IsActive, now)
	if err != nil {
		return ProtectedPage{}, fmt.Errorf("insert protected page: %w", err)
	}

	return p, nil
}

// RotateSecret replaces the digest and bumps the version in one statement.
func (r *Repository) RotateSecret(ctx context.Context, profileID, pageID, digest string) (ProtectedPage, error) {
	p, err := scanPage(r.db.QueryRowContext(ctx, `
		UPDATE protected_pages
		SET secret_digest = $3, secret_version = secret_version + 1, updated_at = $4
		WHERE id = $1 AND profile_id = $2
		RETURNING `+pageColumns, pageID, profileID, digest, r.clock.Now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProtectedPage{}, ErrPageNotFound
		}
		return ProtectedPage{}, fmt.Errorf("rotate page secret: %w", err)
	}

	return p, nil
}

func (r *Repository) UpdatePage(ctx context.Context, profileID, pageID string, patch PagePatch) (ProtectedPage, error) {
	var mode any
	if patch.VisibilityMode != nil {
		mode = string(*patch.VisibilityMode)
	}

	p, err := scanPage(r.db.QueryRowContext(ctx, `
		UPDATE protected_pages
		SET title = COALESCE($3, title),
			visibility_mode = COALESCE($4, visibility_mode),
			allow_remember = COALESCE($5, allow_remember),
			is_active = COALESCE($6, is_active),
			updated_at = $7
		WHERE id = $1 AND profile_id = $2
		RETURNING `+pageColumns, pageID, profileID, nullable(patch.Title), mode, nullable(patch.AllowRemember), nullable(patch.IsActive), r.clock.Now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProtectedPage{}, ErrPageNotFound
		}
		return ProtectedPage{}, fmt.Errorf("update protected page: %w", err)
	}

	return p, nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r *Repository) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate attempt id: %w", err)
		}
		rec.ID = id.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pin_attempts (id, profile_id, origin_hash, success, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.ProfileID, rec.OriginHash, rec.Success, rec.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert pin attempt: %w", err)
	}

	return nil
}

func (r *Repository) FailureCountInWindow(ctx context.Context, profileID, originHash string, since time.Time) (FailureWindow, error) {
	var window FailureWindow
	var oldest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(attempted_at)
		FROM pin_attempts
		WHERE profile_id = $1 AND origin_hash = $2 AND success = FALSE AND attempted_at > $3
	`, profileID, originHash, since.UTC()).Scan(&window.Count, &oldest)
	if err != nil {
		return FailureWindow{}, fmt.Errorf("count pin failures: %w", err)
	}
	if oldest.Valid {
		window.Oldest = oldest.Time.UTC()
	}

	return window, nil
}

// DeleteAttemptsBefore removes ledger rows older than cutoff, at most batchSize per call.
func (r *Repository) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM pin_attempts
			WHERE attempted_at < $1
			ORDER BY attempted_at ASC
			LIMIT $2
		)
		DELETE FROM pin_attempts t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale pin attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("stale pin attempts rows affected: %w", err)
	}

	return CleanupResult{DeletedAttempts: affected}, nil
}
