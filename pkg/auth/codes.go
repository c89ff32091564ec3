package auth

import (
	"context"
	"time"

	"github.com/Ramsey-B/aster/pkg/redis"
)

// usedCodePrefix namespaces consumed authorization code ids in Redis
const usedCodePrefix = "auth:code:used:"

// CodeRegistry records consumed authorization codes so each code is
// exchanged at most once across all replicas.
type CodeRegistry interface {
	// Consume marks the code id as used. Returns false when it was
	// already consumed.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// RedisCodeRegistry implements CodeRegistry with a SETNX marker that lives
// slightly longer than the code itself.
type RedisCodeRegistry struct {
	client *redis.Client
}

// NewRedisCodeRegistry creates a Redis-backed code registry
func NewRedisCodeRegistry(client *redis.Client) *RedisCodeRegistry {
	return &RedisCodeRegistry{client: client}
}

func (r *RedisCodeRegistry) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, usedCodePrefix+jti, "1", ttl)
}
