package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/token-service/internal/models"
)

const tokenColumns = `id, user_id, token_type, token_value, created_at, revoked, revoked_at`

// TokenRepository stores the current access and refresh token of each user in PostgreSQL.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// FindByUserAndType returns the stored row for a user and token type, revoked or not.
func (r *TokenRepository) FindByUserAndType(ctx context.Context, userID int64, tokenType models.TokenType) (*models.TokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM jwt_tokens WHERE user_id = $1 AND token_type = $2 LIMIT 1`
	var record models.TokenRecord
	if err := r.db.GetContext(ctx, &record, query, userID, tokenType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find token by user and type: %w", err)
	}
	return &record, nil
}

// FindActiveByValue returns the non-revoked row holding exactly this token value.
func (r *TokenRepository) FindActiveByValue(ctx context.Context, value string, tokenType models.TokenType) (*models.TokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM jwt_tokens WHERE token_value = $1 AND token_type = $2 AND revoked = FALSE LIMIT 1`
	var record models.TokenRecord
	if err := r.db.GetContext(ctx, &record, query, value, tokenType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find active token by value: %w", err)
	}
	return &record, nil
}

// Upsert writes the token value for the (user, type) pair and resets its revocation state.
func (r *TokenRepository) Upsert(ctx context.Context, userID int64, tokenType models.TokenType, value string, issuedAt time.Time) error {
	const query = `INSERT INTO jwt_tokens (user_id, token_type, token_value, created_at, revoked, revoked_at)
VALUES ($1, $2, $3, $4, FALSE, NULL)
ON CONFLICT (user_id, token_type) DO UPDATE SET token_value = EXCLUDED.token_value, created_at = EXCLUDED.created_at, revoked = FALSE, revoked_at = NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, tokenType, value, issuedAt); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// MarkRevoked flags the active row for the pair as revoked.
func (r *TokenRepository) MarkRevoked(ctx context.Context, userID int64, tokenType models.TokenType, revokedAt time.Time) error {
	const query = `UPDATE jwt_tokens SET revoked = TRUE, revoked_at = $3 WHERE user_id = $1 AND token_type = $2 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, tokenType, revokedAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
