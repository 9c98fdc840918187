package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, t Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capability_tokens (id, subject_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.SubjectID, t.Purpose, t.TokenHash, t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert capability token: %w", err)
	}

	return nil
}

func (s *PostgresStore) DeleteUnexpired(ctx context.Context, subjectID, purpose, tokenHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM capability_tokens
		WHERE subject_id = $1 AND purpose = $2 AND token_hash = $3 AND expires_at > $4
	`, subjectID, purpose, tokenHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("redeem capability token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem capability token rows affected: %w", err)
	}

	return affected == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM capability_tokens
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM capability_tokens t
		USING stale
		WHERE t.id = stale.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired capability tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired capability tokens rows affected: %w", err)
	}

	return affected, nil
}
