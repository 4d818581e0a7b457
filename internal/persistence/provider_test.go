package persistence

import (
	"context"
	"testing"

	"netcluster/internal/logs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	UUID  string   `msgpack:"uuid"`
	Name  string   `msgpack:"name"`
	Elo   int      `msgpack:"elo"`
	Kits  []string `msgpack:"kits"`
	Owner bool     `msgpack:"owner,omitempty"`
}

func newRedisProvider(t *testing.T) (*RedisProvider[profile], *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisProvider[profile](client, "profiles", logs.NewLogger(10, logs.DEBUG)), mr
}

func TestProviders(t *testing.T) {
	providers := map[string]func(t *testing.T) Provider[profile]{
		"memory": func(*testing.T) Provider[profile] { return NewMemoryProvider[profile]() },
		"redis": func(t *testing.T) Provider[profile] {
			p, _ := newRedisProvider(t)
			return p
		},
	}

	for name, newProvider := range providers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := newProvider(t)
			require.NoError(t, p.Start(ctx))

			bob := profile{UUID: "b", Name: "bob", Elo: 1200, Kits: []string{"nodebuff"}}
			alice := profile{UUID: "a", Name: "alice", Elo: 1500, Kits: []string{"sumo", "builduhc"}, Owner: true}
			require.NoError(t, p.Save(ctx, bob.UUID, bob))
			require.NoError(t, p.Save(ctx, alice.UUID, alice))

			got, ok, err := p.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, alice, got)

			_, ok, err = p.Get(ctx, "nobody")
			require.NoError(t, err)
			assert.False(t, ok)

			bob.Elo = 1250
			require.NoError(t, p.Save(ctx, bob.UUID, bob))

			all, err := p.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []profile{alice, bob}, all)
		})
	}
}

func TestRedisProvider_RequiresStart(t *testing.T) {
	p, _ := newRedisProvider(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.Save(ctx, "a", profile{}), ErrNotStarted)
	_, _, err := p.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = p.GetAll(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRedisProvider_StoresMsgpackInCollectionHash(t *testing.T) {
	p, mr := newRedisProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Save(ctx, "a", profile{UUID: "a", Name: "alice"}))

	keys, err := mr.HKeys("doc:profiles")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestRedisProvider_SkipsCorruptDocuments(t *testing.T) {
	p, mr := newRedisProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Save(ctx, "a", profile{UUID: "a", Name: "alice"}))
	mr.HSet("doc:profiles", "broken", "\xc1")

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []profile{{UUID: "a", Name: "alice"}}, all)

	_, _, err = p.Get(ctx, "broken")
	assert.Error(t, err)
}

func TestRedisProvider_StartFailsWhenUnreachable(t *testing.T) {
	p, mr := newRedisProvider(t)
	mr.Close()

	assert.Error(t, p.Start(context.Background()))
}
