package models

import "time"

// TokenType distinguishes the two kinds of session tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "ACCESS"
	TokenTypeRefresh TokenType = "REFRESH"
)

// TokenTypes lists every token type in revocation order.
var TokenTypes = []TokenType{TokenTypeAccess, TokenTypeRefresh}

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// TokenRecord is the current stored token for a (user, type) pair.
// Issuance overwrites the row in place; it is never deleted.
type TokenRecord struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	TokenType  TokenType  `db:"token_type" json:"token_type"`
	TokenValue string     `db:"token_value" json:"token_value"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// SigningKey is a persisted, encrypted HMAC signing secret. The newest row wins.
type SigningKey struct {
	ID                int64     `db:"id" json:"id"`
	EncryptedMaterial string    `db:"signing_key" json:"signing_key"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
