package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/tw-watcher/internal"
)

type countingScraper struct {
	catalogCalls  int
	scheduleCalls int
	err           error
}

func (c *countingScraper) Descriptor() string {
	return "counting"
}

func (c *countingScraper) Catalog(context.Context) (internal.Catalog, error) {
	c.catalogCalls++
	if c.err != nil {
		return internal.Catalog{}, c.err
	}
	return internal.Catalog{Options: map[string]string{"a": "1"}}, nil
}

func (c *countingScraper) Schedule(context.Context, internal.ScheduleRequest) (internal.Schedule, error) {
	c.scheduleCalls++
	if c.err != nil {
		return nil, c.err
	}
	return internal.Schedule{"a": {}}, nil
}

func TestUnit_Cached_CatalogHit(t *testing.T) {
	inner := &countingScraper{}
	cached := Cached()(inner)

	for range 3 {
		catalog, err := cached.Catalog(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1", catalog.Options["a"])
	}
	assert.Equal(t, 1, inner.catalogCalls)
}

func TestUnit_Cached_ScheduleKeyedByRequest(t *testing.T) {
	inner := &countingScraper{}
	cached := Cached()(inner)
	ctx := context.Background()

	reqA := internal.ScheduleRequest{MovieKey: "m1", Theaters: map[string]string{"x": "1"}}
	reqB := internal.ScheduleRequest{MovieKey: "m2", Theaters: map[string]string{"x": "1"}}

	_, err := cached.Schedule(ctx, reqA)
	require.NoError(t, err)
	_, err = cached.Schedule(ctx, reqA)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.scheduleCalls, "same request is served from cache")

	_, err = cached.Schedule(ctx, reqB)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.scheduleCalls, "different movie misses")
}

func TestUnit_Cached_ErrorsNotCached(t *testing.T) {
	inner := &countingScraper{err: errors.New("upstream down")}
	cached := Cached()(inner)
	ctx := context.Background()

	_, err := cached.Catalog(ctx)
	require.Error(t, err)
	_, err = cached.Catalog(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, inner.catalogCalls)

	inner.err = nil
	_, err = cached.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.catalogCalls)
}

func TestUnit_Cached_Invalidate(t *testing.T) {
	inner := &countingScraper{}
	cached := Cached()(inner)
	ctx := context.Background()

	_, err := cached.Catalog(ctx)
	require.NoError(t, err)
	_, err = cached.Schedule(ctx, internal.ScheduleRequest{MovieKey: "m1"})
	require.NoError(t, err)

	inv, ok := cached.(internal.CacheInvalidator)
	require.True(t, ok)
	inv.InvalidateCache()

	_, err = cached.Catalog(ctx)
	require.NoError(t, err)
	_, err = cached.Schedule(ctx, internal.ScheduleRequest{MovieKey: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.catalogCalls)
	assert.Equal(t, 2, inner.scheduleCalls)
}

func TestUnit_Cached_PassesDescriptor(t *testing.T) {
	cached := Cached()(&countingScraper{})
	assert.Equal(t, "counting", cached.Descriptor())
}

func TestUnit_Registry(t *testing.T) {
	r := NewRegistry(testConfig(), Cached())

	assert.Equal(t, []string{DescriptorShowtime, DescriptorVieshow}, r.Descriptors())

	s, err := r.Get(DescriptorVieshow)
	require.NoError(t, err)
	assert.Equal(t, DescriptorVieshow, s.Descriptor())

	_, err = r.Get("megabox")
	assert.ErrorIs(t, err, ErrUnknownChain)

	require.NoError(t, r.Invalidate(DescriptorShowtime))
}
