package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	c := New(mr.Addr(), 0)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestSetIfNotExistsClaimsOnce(t *testing.T) {
	c := newTestCache(t)

	claimed, err := c.SetIfNotExists("qr_nonce:abc", "session-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	// Every replay loses.
	claimed, err = c.SetIfNotExists("qr_nonce:abc", "session-2", time.Minute)
	require.NoError(t, err)
	require.False(t, claimed)

	value, err := c.Get("qr_nonce:abc")
	require.NoError(t, err)
	require.Equal(t, "session-1", value, "the first claimant's value survives")
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("key", "value", time.Minute))

	value, err := c.Get("key")
	require.NoError(t, err)
	require.Equal(t, "value", value)

	exists, err := c.Exists("key")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, c.Delete("key"))

	exists, err = c.Exists("key")
	require.NoError(t, err)
	require.False(t, exists)
}
