package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

const columns = `id, user_id, token_digest, jti, family, expires_at, created_at, revoked_at, replaced_by_jti`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts token. A digest or jti collision surfaces as a unique
// violation (see dbx.IsUniqueViolation).
func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_digest, jti, family, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.TokenDigest, token.JTI, token.Family, token.ExpiresAt, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	query := `SELECT ` + columns + ` FROM refresh_tokens WHERE token_digest = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, digest))
}

func (r *PostgresRepository) FindByDigestForUpdate(ctx context.Context, digest string) (*models.RefreshToken, error) {
	query := `SELECT ` + columns + ` FROM refresh_tokens WHERE token_digest = $1 FOR UPDATE`
	return scanOne(r.db.QueryRowContext(ctx, query, digest))
}

func (r *PostgresRepository) MarkRotated(ctx context.Context, id string, replacedByJTI string, at time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by_jti = $3
		WHERE id = $1 AND revoked_at IS NULL
	`
	n, err := r.exec(ctx, query, id, at, replacedByJTI)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrConflict
	}
	return nil
}

func (r *PostgresRepository) RevokeByDigest(ctx context.Context, digest string, at time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE token_digest = $1 AND revoked_at IS NULL
	`
	n, err := r.exec(ctx, query, digest, at)
	return n > 0, err
}

func (r *PostgresRepository) RevokeFamily(ctx context.Context, family string, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE family = $1 AND revoked_at IS NULL
	`
	return r.exec(ctx, query, family, at)
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	return r.exec(ctx, query, userID, at)
}

func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*models.RefreshToken, error) {
	query := `SELECT ` + columns + ` FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.RefreshToken
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*models.RefreshToken, error) {
	t, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func scan(s scanner) (*models.RefreshToken, error) {
	var (
		t          models.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.TokenDigest, &t.JTI, &t.Family,
		&t.ExpiresAt, &t.CreatedAt, &revokedAt, &replacedBy); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	if replacedBy.Valid {
		jti := replacedBy.String
		t.ReplacedByJTI = &jti
	}
	return &t, nil
}
