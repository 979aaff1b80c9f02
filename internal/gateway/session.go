package gateway

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/antirek/chatapp-sub000/pkg/errors"
)

// TokenResolver maps a bearer token to an owner id.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RedisSessions resolves tokens against session records written by the
// auth flow, one string key per token.
type RedisSessions struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSessions(rdb *redis.Client, prefix string) *RedisSessions {
	return &RedisSessions{rdb: rdb, prefix: prefix}
}

func (s *RedisSessions) Resolve(ctx context.Context, token string) (string, error) {
	ownerID, err := s.rdb.Get(ctx, s.prefix+token).Result()
	if err == redis.Nil {
		return "", errors.NotFound("unknown session token", nil)
	}
	if err != nil {
		return "", errors.Transient("session lookup failed", err)
	}
	return ownerID, nil
}
