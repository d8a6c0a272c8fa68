package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
)

const (
	redisSigningKeysIndex = "signing_keys"
	redisSigningKeySeq    = "signing_keys:seq"
	redisTokenSeq         = "tokens:seq"

	redisRevokeAttempts = 3
)

// RedisTokenRepository keeps token records and signing keys in Redis. It
// satisfies the same contracts as the PostgreSQL repositories and reports
// missing rows as sql.ErrNoRows.
type RedisTokenRepository struct {
	client *redis.Client
	logger *zap.Logger

	// beforeRevokeWrite runs between the read and the write of MarkRevoked.
	beforeRevokeWrite func()
}

// NewRedisTokenRepository constructs a Redis-backed token repository.
func NewRedisTokenRepository(client *redis.Client, logger *zap.Logger) *RedisTokenRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTokenRepository{client: client, logger: logger}
}

// FindByUserAndType returns the stored record for a user and token type.
func (r *RedisTokenRepository) FindByUserAndType(ctx context.Context, userID int64, tokenType models.TokenType) (*models.TokenRecord, error) {
	raw, err := r.client.Get(ctx, userTokenKey(userID, tokenType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("redis get token for user %d: %w", userID, err)
	}
	var record models.TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal token record for user %d: %w", userID, err)
	}
	return &record, nil
}

// FindActiveByValue resolves a token value through the value index.
func (r *RedisTokenRepository) FindActiveByValue(ctx context.Context, value string, tokenType models.TokenType) (*models.TokenRecord, error) {
	owner, err := r.client.Get(ctx, tokenValueKey(tokenType, value)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("redis get token value index: %w", err)
	}
	record, err := r.FindByUserAndType(ctx, owner, tokenType)
	if err != nil {
		return nil, err
	}
	if record.Revoked || record.TokenValue != value {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

// Upsert overwrites the record for the pair. It reads the current row first,
// so two concurrent writers race and the later one wins.
func (r *RedisTokenRepository) Upsert(ctx context.Context, userID int64, tokenType models.TokenType, value string, issuedAt time.Time) error {
	existing, err := r.FindByUserAndType(ctx, userID, tokenType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	record := models.TokenRecord{
		UserID:     userID,
		TokenType:  tokenType,
		TokenValue: value,
		CreatedAt:  issuedAt,
	}
	if existing != nil {
		record.ID = existing.ID
	} else {
		id, err := r.client.Incr(ctx, redisTokenSeq).Result()
		if err != nil {
			return fmt.Errorf("redis allocate token id: %w", err)
		}
		record.ID = id
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	pipe := r.client.TxPipeline()
	if existing != nil && existing.TokenValue != value {
		pipe.Del(ctx, tokenValueKey(tokenType, existing.TokenValue))
	}
	pipe.Set(ctx, userTokenKey(userID, tokenType), payload, 0)
	pipe.Set(ctx, tokenValueKey(tokenType, value), userID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert token for user %d: %w", userID, err)
	}
	return nil
}

// MarkRevoked flags the stored record for the pair as revoked. The record key
// is watched, so a concurrent Upsert forces a re-read instead of being
// overwritten by the stale record.
func (r *RedisTokenRepository) MarkRevoked(ctx context.Context, userID int64, tokenType models.TokenType, revokedAt time.Time) error {
	key := userTokenKey(userID, tokenType)
	revoke := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var record models.TokenRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("unmarshal token record for user %d: %w", userID, err)
		}
		if record.Revoked {
			return nil
		}
		record.Revoked = true
		record.RevokedAt = &revokedAt

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal token record: %w", err)
		}
		if r.beforeRevokeWrite != nil {
			r.beforeRevokeWrite()
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < redisRevokeAttempts; attempt++ {
		err = r.client.Watch(ctx, revoke, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		r.logger.Debug("token record changed during revoke, retrying", zap.Int64("user_id", userID), zap.String("token_type", string(tokenType)))
	}
	if err != nil {
		return fmt.Errorf("redis revoke token for user %d: %w", userID, err)
	}
	return nil
}

// FindLatest returns the newest signing key by creation time, breaking ties
// on the highest id like the SQL adapter does.
func (r *RedisTokenRepository) FindLatest(ctx context.Context) (*models.SigningKey, error) {
	top, err := r.client.ZRevRangeWithScores(ctx, redisSigningKeysIndex, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list signing keys: %w", err)
	}
	if len(top) == 0 {
		return nil, sql.ErrNoRows
	}

	score := strconv.FormatFloat(top[0].Score, 'f', -1, 64)
	tied, err := r.client.ZRangeByScore(ctx, redisSigningKeysIndex, &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list signing keys: %w", err)
	}
	id := latestID(tied)
	if id == "" {
		return nil, sql.ErrNoRows
	}

	raw, err := r.client.Get(ctx, signingKeyKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Warn("signing key index points at a missing key", zap.String("key_id", id))
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("redis get signing key %s: %w", id, err)
	}
	var key models.SigningKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("unmarshal signing key %s: %w", id, err)
	}
	return &key, nil
}

func latestID(members []string) string {
	var (
		best   string
		bestID int64 = -1
	)
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		if id > bestID {
			best, bestID = m, id
		}
	}
	return best
}

// Create stores a signing key and indexes it by creation time.
func (r *RedisTokenRepository) Create(ctx context.Context, key *models.SigningKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	id, err := r.client.Incr(ctx, redisSigningKeySeq).Result()
	if err != nil {
		return fmt.Errorf("redis allocate signing key id: %w", err)
	}
	key.ID = id

	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal signing key: %w", err)
	}

	member := strconv.FormatInt(id, 10)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, signingKeyKey(member), payload, 0)
	pipe.ZAdd(ctx, redisSigningKeysIndex, redis.Z{Score: float64(key.CreatedAt.UnixMilli()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create signing key: %w", err)
	}
	return nil
}

func userTokenKey(userID int64, tokenType models.TokenType) string {
	return fmt.Sprintf("tokens:user:%d:%s", userID, tokenType)
}

// tokenValueKey hashes the value so token strings never appear in key names.
func tokenValueKey(tokenType models.TokenType, value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("tokens:value:%s:%s", tokenType, hex.EncodeToString(sum[:]))
}

func signingKeyKey(id string) string {
	return "signing_keys:" + id
}
