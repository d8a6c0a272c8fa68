package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
)

// TokenStore persists the current token per (user, type). Lookups report a
// missing row as sql.ErrNoRows.
//
// Upsert overwrites the value for the pair and clears the revoked flag.
// Concurrent upserts for the same pair are last-writer-wins.
type TokenStore interface {
	FindByUserAndType(ctx context.Context, userID int64, tokenType models.TokenType) (*models.TokenRecord, error)
	FindActiveByValue(ctx context.Context, value string, tokenType models.TokenType) (*models.TokenRecord, error)
	Upsert(ctx context.Context, userID int64, tokenType models.TokenType, value string, issuedAt time.Time) error
	MarkRevoked(ctx context.Context, userID int64, tokenType models.TokenType, revokedAt time.Time) error
}

// UserDirectory is the external service owning user identities.
// GetUserByID returns (nil, nil) for an unknown user.
type UserDirectory interface {
	VerifyCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error)
	GetUserByID(ctx context.Context, id int64) (*models.UserIdentity, error)
}

// TokenService drives the token lifecycle: issue, rotate, revoke and verify.
type TokenService struct {
	codec     *TokenCodec
	store     TokenStore
	directory UserDirectory
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(codec *TokenCodec, store TokenStore, directory UserDirectory, logger *zap.Logger, metrics *MetricsService) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		codec:     codec,
		store:     store,
		directory: directory,
		logger:    logger,
		metrics:   metrics,
	}
}

// Issue signs a new access/refresh pair and stores both, replacing any previous pair.
func (s *TokenService) Issue(ctx context.Context, userID int64, email string, role models.UserRole) (*models.AuthTokens, error) {
	issuedAt := s.codec.now()
	access, refresh, err := s.issuePair(ctx, userID, email, role)
	if err != nil {
		return nil, err
	}

	return &models.AuthTokens{
		UserID:               userID,
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: issuedAt.Add(s.codec.AccessTTL()).UTC(),
	}, nil
}

// Refresh rotates the pair owned by a valid refresh token. The presented
// token stops verifying because its value is no longer stored.
func (s *TokenService) Refresh(ctx context.Context, oldRefreshToken string) (*models.AuthTokens, error) {
	claims, err := s.Verify(ctx, oldRefreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, s.reject(fmt.Errorf("%w: malformed subject %q", ErrSignatureInvalid, claims.Subject), models.TokenTypeRefresh)
	}

	user, err := s.directory.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", userID, err)
	}
	if user == nil || !user.Active {
		return nil, s.reject(ErrUserInactiveOrNotFound, models.TokenTypeRefresh)
	}

	access, refresh, err := s.issuePair(ctx, userID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	accessClaims, err := s.codec.Parse(access)
	if err != nil {
		return nil, fmt.Errorf("decode rotated access token: %w", err)
	}

	s.metrics.RecordRotation()
	s.logger.Info("tokens rotated", zap.Int64("user_id", userID))

	return &models.AuthTokens{
		UserID:               userID,
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: accessClaims.ExpiresAt.Time.UTC(),
	}, nil
}

// Revoke flags the user's active access and refresh rows. Missing or
// already revoked rows are left alone.
func (s *TokenService) Revoke(ctx context.Context, userID int64) error {
	for _, tokenType := range models.TokenTypes {
		record, err := s.store.FindByUserAndType(ctx, userID, tokenType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return fmt.Errorf("find %s token for user %d: %w", tokenType, userID, err)
		}
		if record.Revoked {
			continue
		}
		if err := s.store.MarkRevoked(ctx, userID, tokenType, s.codec.now().UTC()); err != nil {
			return fmt.Errorf("revoke %s token for user %d: %w", tokenType, userID, err)
		}
		s.metrics.RecordRevocation(tokenType)
	}
	return nil
}

// Verify checks signature and expiry, then the type claim, then that the
// exact value is still stored and not revoked.
func (s *TokenService) Verify(ctx context.Context, token string, expected models.TokenType) (*models.TokenClaims, error) {
	claims, err := s.codec.Parse(token)
	if err != nil {
		if IsAuthFailure(err) {
			return nil, s.reject(err, expected)
		}
		return nil, err
	}

	if claims.Type != expected {
		return nil, s.reject(fmt.Errorf("%w: expected %s, got %q", ErrTokenTypeMismatch, expected, claims.Type), expected)
	}

	if _, err := s.store.FindActiveByValue(ctx, token, expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(ErrTokenNotFoundOrRevoked, expected)
		}
		return nil, fmt.Errorf("lookup %s token: %w", expected, err)
	}

	return claims, nil
}

func (s *TokenService) issuePair(ctx context.Context, userID int64, email string, role models.UserRole) (string, string, error) {
	access, _, err := s.codec.IssueAccessToken(userID, email, role)
	if err != nil {
		return "", "", err
	}
	refresh, _, err := s.codec.IssueRefreshToken(userID)
	if err != nil {
		return "", "", err
	}

	if err := s.save(ctx, userID, models.TokenTypeAccess, access); err != nil {
		return "", "", err
	}
	if err := s.save(ctx, userID, models.TokenTypeRefresh, refresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *TokenService) save(ctx context.Context, userID int64, tokenType models.TokenType, value string) error {
	if err := s.store.Upsert(ctx, userID, tokenType, value, s.codec.now().UTC()); err != nil {
		return fmt.Errorf("store %s token for user %d: %w", tokenType, userID, err)
	}
	s.metrics.RecordTokenIssued(tokenType)
	s.logger.Debug("token stored", zap.Int64("user_id", userID), zap.String("type", string(tokenType)))
	return nil
}

func (s *TokenService) reject(err error, tokenType models.TokenType) error {
	reason := FailureReason(err)
	s.metrics.RecordVerificationFailure(reason)
	s.logger.Debug("token validation failed",
		zap.String("type", string(tokenType)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}
