package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := newRedisCache(mr.Addr(), false)
	require.NoError(t, err)
	return c
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	setValue := map[string]string{"email_norm": "user@example.com"}
	require.NoError(t, c.Set(ctx, "contact:user@example.com", setValue, 10*time.Minute))

	var getValue map[string]string
	require.NoError(t, c.Get(ctx, "contact:user@example.com", &getValue))
	assert.Equal(t, setValue, getValue)
}

func TestGetMissReturnsNil(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var getValue map[string]string
	err := c.Get(ctx, "missing", &getValue)
	assert.NoError(t, err)
	assert.Empty(t, getValue)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	var got string
	require.NoError(t, c.Get(ctx, "key", &got))
	assert.Empty(t, got)
}
