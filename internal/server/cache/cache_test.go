package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetAddEvict(t *testing.T) {
	c, err := New[string](2)
	require.NoError(t, err)

	c.Add("a", "1")
	c.Add("b", "2")
	c.Add("c", "3")

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	_, err := New[int](0)
	assert.Error(t, err)
}

func TestCache_InvalidateOnCollectionChange(t *testing.T) {
	bus := events.NewBus(logging.Nop(), 8)
	bus.Start(context.Background())
	defer bus.Stop()

	c, err := New[string](8)
	require.NoError(t, err)
	detach := c.InvalidateOn(bus, "properties")

	c.Add(Key("0000000000", "", "accessTokenSecret"), "s3cr3t")
	bus.Publish(context.Background(), events.CacheClean("users"), nil)
	bus.Publish(context.Background(), events.CacheClean("properties"), nil)

	require.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	detach()
	c.Add("k", "v")
	bus.Publish(context.Background(), events.CacheClean("properties"), nil)
	bus.Stop()
	assert.Equal(t, 1, c.Len())
}

func TestCache_AddIfDropsValuesFromBeforePurge(t *testing.T) {
	c, err := New[string](8)
	require.NoError(t, err)

	gen := c.Generation()
	c.Purge()
	assert.False(t, c.AddIf("k", "stale", gen))
	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.True(t, c.AddIf("k", "fresh", c.Generation()))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestCache_GetOrLoad(t *testing.T) {
	c, err := New[string](8)
	require.NoError(t, err)

	loads := 0
	load := func() (string, error) {
		loads++
		return "v1", nil
	}

	v, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	v, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, loads)

	_, err = c.GetOrLoad("missing", func() (string, error) { return "", errors.New("boom") })
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, c.Len(), "failed loads are not cached")
}

func TestCache_GetOrLoadRacingPurge(t *testing.T) {
	c, err := New[string](8)
	require.NoError(t, err)

	// the collection changes between the read and the store
	v, err := c.GetOrLoad("k", func() (string, error) {
		c.Purge()
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v, "the caller still gets what it read")
	assert.Zero(t, c.Len())

	v, err = c.GetOrLoad("k", func() (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a|b|c", Key("a", "b", "c"))
}
