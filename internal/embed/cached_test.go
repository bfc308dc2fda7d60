package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	*StaticProvider
	embedCalls      int
	embedBatchCalls int
}

func newCountingProvider() *countingProvider {
	return &countingProvider{StaticProvider: NewStaticProvider(64, "counting-test")}
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return c.StaticProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedBatchCalls++
	return c.StaticProvider.EmbedBatch(ctx, texts)
}

func TestCachedProviderEmbedCachesRepeatedText(t *testing.T) {
	inner := newCountingProvider()
	p, err := NewCachedProvider(inner, 0)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "repeated text")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "repeated text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedProviderEmbedBatchOnlyCallsInnerForMisses(t *testing.T) {
	inner := newCountingProvider()
	p, err := NewCachedProvider(inner, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Embed(ctx, "already cached")
	require.NoError(t, err)

	results, err := p.EmbedBatch(ctx, []string{"already cached", "new text"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, inner.embedBatchCalls)
}

func TestCachedProviderDimensionsModelNameDelegate(t *testing.T) {
	inner := newCountingProvider()
	p, err := NewCachedProvider(inner, 0)
	require.NoError(t, err)

	assert.Equal(t, inner.Dimensions(), p.Dimensions())
	assert.Equal(t, inner.ModelName(), p.ModelName())
}

func TestCachedProviderCloseClosesInner(t *testing.T) {
	inner := newCountingProvider()
	p, err := NewCachedProvider(inner, 0)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.False(t, inner.Available(context.Background()))
}
