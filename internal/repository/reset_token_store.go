package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/pharmacy-storefront/internal/utils"
)

// ErrResetTokenInvalid covers unknown, expired and already used tokens.
var ErrResetTokenInvalid = errors.New("Invalid or expired reset token")

// ResetTokenStore keeps password-reset tokens in Redis.  Keys are the
// SHA-256 of the token, values the user id; the key TTL is the token
// lifetime and consuming a token deletes it.
type ResetTokenStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewResetTokenStore(rdb *redis.Client, ttl time.Duration) *ResetTokenStore {
	return &ResetTokenStore{rdb: rdb, prefix: "pwreset:", ttl: ttl}
}

func (s *ResetTokenStore) key(raw string) string { return s.prefix + utils.HashRefreshRaw(raw) }

// Issue creates a token for userID.
func (s *ResetTokenStore) Issue(ctx context.Context, userID uint64) (string, error) {
	raw, err := utils.NewResetToken()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, s.key(raw), strconv.FormatUint(userID, 10), s.ttl).Err(); err != nil {
		return "", err
	}
	return raw, nil
}

// Peek returns the token's user without using it up.
func (s *ResetTokenStore) Peek(ctx context.Context, raw string) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.key(raw)).Result()
	return parseResetValue(v, err)
}

// Consume returns the token's user and invalidates the token.
func (s *ResetTokenStore) Consume(ctx context.Context, raw string) (uint64, error) {
	v, err := s.rdb.GetDel(ctx, s.key(raw)).Result()
	return parseResetValue(v, err)
}

func parseResetValue(v string, err error) (uint64, error) {
	if errors.Is(err, redis.Nil) {
		return 0, ErrResetTokenInvalid
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, ErrResetTokenInvalid
	}
	return id, nil
}
