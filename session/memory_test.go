package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	got, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got, "missing session should be (nil, nil)")

	sess := &Session{ClientID: "c1", ServerID: "s1", ConnectedAt: time.Now()}
	require.NoError(t, store.Create(ctx, sess))

	got, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ServerID)

	require.NoError(t, store.Delete(ctx, "c1"))
	got, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20 * time.Millisecond)

	require.NoError(t, store.Create(ctx, &Session{ClientID: "c1"}))

	time.Sleep(40 * time.Millisecond)
	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got, "session should expire after TTL")
}

func TestMemoryStoreRefreshTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(50 * time.Millisecond)

	require.NoError(t, store.Create(ctx, &Session{ClientID: "c1"}))

	// Keep refreshing past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		require.NoError(t, store.RefreshTTL(ctx, "c1"))
	}

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.NotNil(t, got, "refreshed session should still be alive")

	// Refreshing a deleted session is a no-op.
	require.NoError(t, store.Delete(ctx, "c1"))
	assert.NoError(t, store.RefreshTTL(ctx, "c1"))
}
