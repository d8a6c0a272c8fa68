package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
)

// signingKeyBytes is the amount of entropy drawn for a new signing secret.
const signingKeyBytes = 64

// SigningKeyStore persists encrypted signing keys. FindLatest returns
// sql.ErrNoRows when no key has been stored yet.
type SigningKeyStore interface {
	FindLatest(ctx context.Context) (*models.SigningKey, error)
	Create(ctx context.Context, key *models.SigningKey) error
}

// KeyProtector encrypts the signing secret for storage.
type KeyProtector interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SigningKeyService loads or provisions the HMAC signing secret once at
// startup and serves it from memory afterwards.
type SigningKeyService struct {
	store     SigningKeyStore
	protector KeyProtector
	logger    *zap.Logger
	metrics   *MetricsService
	random    io.Reader
	now       func() time.Time

	mu  sync.RWMutex
	key string
}

// NewSigningKeyService constructs a SigningKeyService instance.
func NewSigningKeyService(store SigningKeyStore, protector KeyProtector, logger *zap.Logger, metrics *MetricsService) *SigningKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SigningKeyService{
		store:     store,
		protector: protector,
		logger:    logger,
		metrics:   metrics,
		random:    rand.Reader,
		now:       time.Now,
	}
}

// Initialize resolves the active signing secret. It must succeed before any
// token is issued or verified.
//
// When the newest stored key cannot be decrypted a fresh key is minted and
// persisted. Every token signed with the old key stops verifying from then on.
func (s *SigningKeyService) Initialize(ctx context.Context) error {
	key, err := s.loadOrGenerate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.key = key
	s.mu.Unlock()

	s.logger.Info("signing key loaded", zap.Int("length", len(key)))
	return nil
}

// SigningKey returns the cached plaintext secret.
func (s *SigningKeyService) SigningKey() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == "" {
		return "", ErrSigningKeyNotInitialized
	}
	return s.key, nil
}

// Initialized reports whether Initialize has completed.
func (s *SigningKeyService) Initialized() bool {
	_, err := s.SigningKey()
	return err == nil
}

func (s *SigningKeyService) loadOrGenerate(ctx context.Context) (string, error) {
	latest, err := s.store.FindLatest(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("no signing key stored, generating one")
			return s.generateAndSave(ctx)
		}
		return "", fmt.Errorf("load latest signing key: %w", err)
	}

	plain, err := s.protector.Decrypt(latest.EncryptedMaterial)
	if err != nil || plain == "" {
		s.logger.Warn("failed to decrypt signing key, generating a new one; previously issued tokens will no longer verify",
			zap.Int64("key_id", latest.ID),
			zap.Error(err),
		)
		s.metrics.RecordKeyRegeneration()
		return s.generateAndSave(ctx)
	}

	return plain, nil
}

func (s *SigningKeyService) generateAndSave(ctx context.Context) (string, error) {
	buf := make([]byte, signingKeyBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)

	encrypted, err := s.protector.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("encrypt new signing key: %w", err)
	}

	record := &models.SigningKey{
		EncryptedMaterial: encrypted,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("persist new signing key: %w", err)
	}

	s.logger.Warn("new signing key generated and stored encrypted", zap.Int64("key_id", record.ID))
	return plain, nil
}
