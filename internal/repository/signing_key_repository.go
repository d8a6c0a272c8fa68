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

// SigningKeyRepository stores encrypted signing keys in PostgreSQL.
type SigningKeyRepository struct {
	db *sqlx.DB
}

// NewSigningKeyRepository creates a new instance of SigningKeyRepository.
func NewSigningKeyRepository(db *sqlx.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

// FindLatest returns the most recently created signing key.
func (r *SigningKeyRepository) FindLatest(ctx context.Context) (*models.SigningKey, error) {
	const query = `SELECT id, signing_key, created_at FROM jwt_signing_keys ORDER BY created_at DESC, id DESC LIMIT 1`
	var key models.SigningKey
	if err := r.db.GetContext(ctx, &key, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find latest signing key: %w", err)
	}
	return &key, nil
}

// Create inserts a signing key and fills in its generated id.
func (r *SigningKeyRepository) Create(ctx context.Context, key *models.SigningKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO jwt_signing_keys (signing_key, created_at) VALUES ($1, $2) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, key.EncryptedMaterial, key.CreatedAt).Scan(&key.ID); err != nil {
		return fmt.Errorf("create signing key: %w", err)
	}
	return nil
}
