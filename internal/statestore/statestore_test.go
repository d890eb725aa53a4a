package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/neftit/taskgate/internal/models"
)

func newSQLite(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OAuthState{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	state := State{Provider: "x", CodeVerifier: "verifier-123"}
	require.NoError(t, store.Set(ctx, "abc", state))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Provider)
	assert.Equal(t, "verifier-123", got.CodeVerifier)
	assert.False(t, got.CreatedAt.IsZero())

	got.AccessToken = "token"
	got.ProviderUserID = "42"
	got.Result = &Result{Type: "X_AUTH_SUCCESS", UserID: "42", Username: "alice"}
	require.NoError(t, store.Set(ctx, "abc", got))

	got, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "42", got.ProviderUserID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "alice", got.Result.Username)
	assert.True(t, got.Result.Success())

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour).WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "old", State{Provider: "discord"}))
	now = now.Add(30 * time.Minute)
	require.NoError(t, store.Set(ctx, "new", State{Provider: "discord"}))

	now = now.Add(45 * time.Minute)
	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrStateNotFound)
	_, err = store.Get(ctx, "new")
	assert.NoError(t, err)

	removed, err := store.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestRedisStore(t *testing.T) {
	_, client := newRedis(t)
	exerciseStore(t, NewRedisStore(client, time.Hour))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := NewRedisStore(client, time.Hour)

	require.NoError(t, store.Set(ctx, "abc", State{Provider: "x"}))
	assert.True(t, mr.Exists(statePrefix+"abc"))

	mr.FastForward(61 * time.Minute)
	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestDBStore(t *testing.T) {
	exerciseStore(t, NewDBStore(newSQLite(t), time.Hour))
}

func TestDBStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewDBStore(newSQLite(t), time.Hour)

	require.NoError(t, store.Set(ctx, "stale", State{Provider: "x", CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, store.Set(ctx, "fresh", State{Provider: "x"}))

	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrStateNotFound)

	removed, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	_, client := newRedis(t)
	assert.Equal(t, "redis", Select(ctx, client, nil, time.Hour).Name())

	mr, down := newRedis(t)
	mr.Close()
	assert.Equal(t, "database", Select(ctx, down, newSQLite(t), time.Hour).Name())

	assert.Equal(t, "memory", Select(ctx, nil, nil, time.Hour).Name())
}
