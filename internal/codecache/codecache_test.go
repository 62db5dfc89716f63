package codecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFreshness(t *testing.T) {
	captured := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Code{Code: "123456", CapturedAt: captured}
	assert.True(t, c.FreshAt(captured.Add(4*time.Minute+59*time.Second), 5*time.Minute))
	assert.False(t, c.FreshAt(captured.Add(5*time.Minute+time.Second), 5*time.Minute))
	assert.False(t, Code{}.FreshAt(captured, time.Hour))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, ok, err := m.Get(ctx, "+1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "+1", Code{Code: "55555"}))
	c, ok, err := m.Get(ctx, "+1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "55555", c.Code)

	require.NoError(t, m.Delete(ctx, "+1"))
	require.NoError(t, m.Delete(ctx, "+1"))
	_, ok, _ = m.Get(ctx, "+1")
	assert.False(t, ok)
}
