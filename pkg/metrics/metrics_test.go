package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Resolutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Resolved(models.ConnectionTypeAiEmbedding, time.Millisecond, nil)
	c.Resolved(models.ConnectionTypeAiEmbedding, time.Millisecond, errors.New("boom"))
	c.MemoHit(models.ConnectionTypeAiEmbedding)

	assert.InDelta(t, 1, testutil.ToFloat64(c.Resolutions.WithLabelValues("ai_embedding", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Resolutions.WithLabelValues("ai_embedding", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.MemoHits.WithLabelValues("ai_embedding")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollectors_CacheObserver(t *testing.T) {
	c := New(nil)

	m := cache.New(cache.WithMetrics(c.Cache()), cache.WithMaxEntries(1))
	ctx := context.Background()

	factory := func(context.Context) (any, error) { return "store", nil }

	_, err := m.GetOrCreate(ctx, "wf", "a", factory)
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, "wf", "a", factory)
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, "wf", "b", factory)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(c.CacheLookups.WithLabelValues("hit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.CacheLookups.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.CacheEvictions.WithLabelValues("capacity")), 0)
}
