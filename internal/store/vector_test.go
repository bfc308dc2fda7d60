package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWStoreAddAndSearch(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"v1", "v2"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID)
}

func TestHNSWStoreAddRejectsDimensionMismatch(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s.Close()

	err = s.Add(context.Background(), []string{"v1"}, [][]float32{{1, 2, 3}})
	assert.Error(t, err)
}

func TestHNSWStoreDeleteRemovesID(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"v1"}, [][]float32{{1, 0, 0, 0}}))
	require.True(t, s.Contains("v1"))

	require.NoError(t, s.Delete(ctx, []string{"v1"}))
	assert.False(t, s.Contains("v1"))
	assert.Equal(t, 0, s.Count())
}

func TestHNSWStoreReAddReplacesVector(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"v1"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, s.Add(ctx, []string{"v1"}, [][]float32{{0, 1, 0, 0}}))

	assert.Equal(t, 1, s.Count())
}

func TestHNSWStoreSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"v1", "v2"}, [][]float32{
		{1, 0, 0, 0},
		{0, 0, 1, 0},
	}))
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	s2, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Load(path))

	assert.Equal(t, 2, s2.Count())
	assert.True(t, s2.Contains("v1"))
}

func TestReadHNSWStoreDimensionsOnFreshStore(t *testing.T) {
	dims, err := ReadHNSWStoreDimensions(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWStoreEmptySearchReturnsEmpty(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	defer s.Close()

	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
