package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
	appErrors "github.com/noah-isme/token-service/pkg/errors"
)

type tokenLifecycle interface {
	Issue(ctx context.Context, userID int64, email string, role models.UserRole) (*models.AuthTokens, error)
	Refresh(ctx context.Context, oldRefreshToken string) (*models.AuthTokens, error)
	Revoke(ctx context.Context, userID int64) error
	Verify(ctx context.Context, token string, expected models.TokenType) (*models.TokenClaims, error)
}

// AuditRecorder persists authentication audit entries.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthService is the public boundary used by the HTTP layer. Every token or
// credential failure is reported as one opaque authentication failure.
type AuthService struct {
	tokens    tokenLifecycle
	directory UserDirectory
	audit     AuditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance. audit may be nil.
func NewAuthService(tokens tokenLifecycle, directory UserDirectory, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{tokens: tokens, directory: directory, audit: audit, validator: validate, logger: logger}
}

// Login verifies credentials with the user directory and issues a token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.directory.VerifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.fail("login", err)
	}
	if user == nil || !user.Active {
		return nil, s.fail("login", ErrUserInactiveOrNotFound)
	}

	email := user.Email
	if email == "" {
		email = req.Email
	}

	tokens, err := s.tokens.Issue(ctx, user.ID, email, user.Role)
	if err != nil {
		return nil, s.fail("issue tokens", err)
	}

	s.record(ctx, user.ID, models.AuditActionLogin, `{"status":"success"}`, models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent})
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("email", email))
	return tokens, nil
}

// Refresh rotates the caller's token pair.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.AuthTokens, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	tokens, err := s.tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.fail("refresh tokens", err)
	}

	s.logger.Info("tokens refreshed", zap.String("refresh_token", tokenPrefix(req.RefreshToken)))
	s.record(ctx, tokens.UserID, models.AuditActionRefresh, `{"refresh":"rotated"}`, models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent})
	return tokens, nil
}

// Logout revokes every stored token of the user. Repeating it is harmless.
func (s *AuthService) Logout(ctx context.Context, userID int64, meta models.ClientMeta) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return s.fail("revoke tokens", err)
	}
	s.record(ctx, userID, models.AuditActionLogout, `{"status":"logout"}`, meta)
	s.logger.Info("tokens revoked", zap.Int64("user_id", userID))
	return nil
}

// ForceLogout revokes another user's tokens on behalf of an administrator.
func (s *AuthService) ForceLogout(ctx context.Context, actorID, userID int64, meta models.ClientMeta) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return s.fail("revoke tokens", err)
	}
	s.record(ctx, userID, models.AuditActionForceLogout, fmt.Sprintf(`{"revoked_by":%d}`, actorID), meta)
	s.logger.Info("tokens revoked by administrator", zap.Int64("user_id", userID), zap.Int64("actor_id", actorID))
	return nil
}

// Authenticate verifies an access token presented on a request.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.TokenClaims, error) {
	claims, err := s.tokens.Verify(ctx, accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, s.fail("verify access token", err)
	}
	return claims, nil
}

func (s *AuthService) fail(op string, err error) error {
	if reason := FailureReason(err); reason != "" {
		s.logger.Info("authentication rejected", zap.String("operation", op), zap.String("reason", reason))
		return appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
	}
	s.logger.Error("auth operation failed", zap.String("operation", op), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+op)
}

func (s *AuthService) record(ctx context.Context, userID int64, action, payload string, meta models.ClientMeta) {
	if s.audit == nil {
		return
	}
	resourceID := strconv.FormatInt(userID, 10)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func tokenPrefix(token string) string {
	if len(token) <= 10 {
		return "..."
	}
	return token[:10] + "..."
}
