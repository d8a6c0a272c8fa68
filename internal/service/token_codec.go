package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/token-service/internal/models"
)

type signingKeyProvider interface {
	SigningKey() (string, error)
}

// TokenCodec signs and cryptographically verifies session tokens with HS512.
// It does no I/O: persisted state is checked by TokenService.
type TokenCodec struct {
	keys       signingKeyProvider
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec constructs a codec reading the signing secret from keys.
func NewTokenCodec(keys signingKeyProvider, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		keys:       keys,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the time source used for iat/exp and expiry checks.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// IssueAccessToken signs an access token carrying the user's id, email and role.
func (c *TokenCodec) IssueAccessToken(userID int64, email string, role models.UserRole) (string, *models.TokenClaims, error) {
	claims := c.baseClaims(models.TokenTypeAccess, email, c.accessTTL)
	claims.UserID = userID
	claims.Role = role
	signed, err := c.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// IssueRefreshToken signs a refresh token whose subject is the user id.
func (c *TokenCodec) IssueRefreshToken(userID int64) (string, *models.TokenClaims, error) {
	claims := c.baseClaims(models.TokenTypeRefresh, strconv.FormatInt(userID, 10), c.refreshTTL)
	signed, err := c.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse checks structure, signature and expiry and returns the claims.
func (c *TokenCodec) Parse(tokenString string) (*models.TokenClaims, error) {
	secret, err := c.keys.SigningKey()
	if err != nil {
		return nil, err
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}
	return claims, nil
}

func (c *TokenCodec) baseClaims(tokenType models.TokenType, subject string, ttl time.Duration) *models.TokenClaims {
	issuedAt := c.now()
	return &models.TokenClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
}

func (c *TokenCodec) sign(claims *models.TokenClaims) (string, error) {
	secret, err := c.keys.SigningKey()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}
