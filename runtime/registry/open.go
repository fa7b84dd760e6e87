package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/LiveInspect/pkg/config"
)

// Open builds the Store selected by cfg and verifies it is reachable. The
// returned close function releases backend connections.
func Open(ctx context.Context, cfg config.RegistryConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", config.RegistryMemory:
		return NewMemoryStore(), func() error { return nil }, nil
	case config.RegistryRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("registry: redis ping %s: %w", cfg.RedisAddr, err)
		}
		store := NewRedisStore(client, WithPrefix(cfg.Prefix), WithTTL(cfg.TTL))
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("registry: unknown backend %q", cfg.Backend)
	}
}
