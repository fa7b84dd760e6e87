package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/LiveInspect/pkg/config"
	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...), mr
}

func backends(t *testing.T) map[string]Store {
	redisStore, _ := setupRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

			require.NoError(t, store.Register(ctx, &Record{
				ID:         "s-1",
				State:      StateConnecting,
				RemoteAddr: "10.0.0.1:4000",
				CreatedAt:  created,
			}))

			rec, err := store.Get(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, StateConnecting, rec.State)
			assert.Equal(t, "10.0.0.1:4000", rec.RemoteAddr)
			assert.True(t, rec.CreatedAt.Equal(created))

			require.NoError(t, store.Update(ctx, "s-1", StateStreaming, pkgerrors.CodeNone))
			require.NoError(t, store.Update(ctx, "s-1", StateClosing, pkgerrors.CodeUpstreamRejected))
			rec, err = store.Get(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, StateClosing, rec.State)
			assert.Equal(t, pkgerrors.CodeUpstreamRejected, rec.LastErrorCode)
			assert.True(t, rec.UpdatedAt.After(created))

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.NoError(t, store.Deregister(ctx, "s-1"))
			_, err = store.Get(ctx, "s-1")
			assert.ErrorIs(t, err, ErrNotFound)

			n, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStore_ListOrderedByCreation(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			for i, id := range []string{"c", "a", "b"} {
				require.NoError(t, store.Register(ctx, &Record{
					ID:        id,
					State:     StateStreaming,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}

			recs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.Equal(t, "c", recs[0].ID)
			assert.Equal(t, "a", recs[1].ID)
			assert.Equal(t, "b", recs[2].ID)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.ErrorIs(t, store.Register(ctx, nil), ErrInvalidID)
			assert.ErrorIs(t, store.Register(ctx, &Record{}), ErrInvalidID)
			assert.ErrorIs(t, store.Update(ctx, "missing", StateStreaming, pkgerrors.CodeNone), ErrNotFound)
			assert.NoError(t, store.Deregister(ctx, "missing"))

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			recs, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, &Record{ID: "s", State: StateConnecting}))

	rec, err := store.Get(ctx, "s")
	require.NoError(t, err)
	rec.State = StateClosing

	again, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, again.State)
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("test"), WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Record{ID: "s-9", State: StateConnecting}))
	assert.True(t, mr.Exists("test:session:s-9"))
	assert.Equal(t, time.Minute, mr.TTL("test:session:s-9"))

	members, err := mr.Members("test:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-9"}, members)
}

func TestRedisStore_ExpiredRecordsPrunedFromIndex(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Record{ID: "old", State: StateStreaming}))
	mr.Del("liveinspect:session:old")
	require.NoError(t, store.Register(ctx, &Record{ID: "new", State: StateStreaming}))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)

	members, err := mr.Members("liveinspect:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := Open(ctx, config.RegistryConfig{Backend: config.RegistryMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	store, closeFn, err = Open(ctx, config.RegistryConfig{
		Backend:   config.RegistryRedis,
		RedisAddr: mr.Addr(),
		Prefix:    "li",
		TTL:       time.Hour,
	})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)
	assert.NoError(t, closeFn())

	_, _, err = Open(ctx, config.RegistryConfig{Backend: "etcd"})
	assert.Error(t, err)
}
