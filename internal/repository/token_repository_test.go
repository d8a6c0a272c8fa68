package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/token-service/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var tokenRowColumns = []string{"id", "user_id", "token_type", "token_value", "created_at", "revoked", "revoked_at"}

func TestTokenFindByUserAndType(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(tokenRowColumns).AddRow(1, 42, string(models.TokenTypeAccess), "tok", now, false, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token_type, token_value, created_at, revoked, revoked_at FROM jwt_tokens WHERE user_id = $1 AND token_type = $2 LIMIT 1")).
		WithArgs(int64(42), string(models.TokenTypeAccess)).
		WillReturnRows(rows)

	record, err := repo.FindByUserAndType(context.Background(), 42, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.UserID)
	assert.Equal(t, models.TokenTypeAccess, record.TokenType)
	assert.Equal(t, "tok", record.TokenValue)
	assert.False(t, record.Revoked)
	assert.Nil(t, record.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenFindByUserAndTypeNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectQuery("FROM jwt_tokens WHERE user_id").
		WithArgs(int64(1), string(models.TokenTypeRefresh)).
		WillReturnRows(sqlmock.NewRows(tokenRowColumns))

	_, err := repo.FindByUserAndType(context.Background(), 1, models.TokenTypeRefresh)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenFindActiveByValue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(tokenRowColumns).AddRow(3, 7, string(models.TokenTypeRefresh), "refresh-value", now, false, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jwt_tokens WHERE token_value = $1 AND token_type = $2 AND revoked = FALSE LIMIT 1")).
		WithArgs("refresh-value", string(models.TokenTypeRefresh)).
		WillReturnRows(rows)

	record, err := repo.FindActiveByValue(context.Background(), "refresh-value", models.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(7), record.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenFindActiveByValueWrapsDriverErrors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	boom := errors.New("connection reset")
	mock.ExpectQuery("FROM jwt_tokens WHERE token_value").WillReturnError(boom)

	_, err := repo.FindActiveByValue(context.Background(), "v", models.TokenTypeAccess)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
}

func TestTokenUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, token_type) DO UPDATE")).
		WithArgs(int64(42), string(models.TokenTypeAccess), "new-token", issuedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), 42, models.TokenTypeAccess, "new-token", issuedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenMarkRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	revokedAt := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jwt_tokens SET revoked = TRUE, revoked_at = $3 WHERE user_id = $1 AND token_type = $2 AND revoked = FALSE")).
		WithArgs(int64(42), string(models.TokenTypeRefresh), revokedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkRevoked(context.Background(), 42, models.TokenTypeRefresh, revokedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSigningKeyFindLatest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSigningKeyRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "signing_key", "created_at"}).AddRow(5, "ciphertext", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, signing_key, created_at FROM jwt_signing_keys ORDER BY created_at DESC, id DESC LIMIT 1")).
		WillReturnRows(rows)

	key, err := repo.FindLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), key.ID)
	assert.Equal(t, "ciphertext", key.EncryptedMaterial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSigningKeyFindLatestEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSigningKeyRepository(db)

	mock.ExpectQuery("FROM jwt_signing_keys").WillReturnRows(sqlmock.NewRows([]string{"id", "signing_key", "created_at"}))

	_, err := repo.FindLatest(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSigningKeyCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSigningKeyRepository(db)

	createdAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jwt_signing_keys (signing_key, created_at) VALUES ($1, $2) RETURNING id")).
		WithArgs("ciphertext", createdAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	key := &models.SigningKey{EncryptedMaterial: "ciphertext", CreatedAt: createdAt}
	require.NoError(t, repo.Create(context.Background(), key))
	assert.Equal(t, int64(9), key.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	userID := int64(42)
	entry := &models.AuditLog{UserID: &userID, Action: models.AuditActionLogin, Resource: "auth"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
