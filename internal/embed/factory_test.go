package embed

import (
	"testing"

	"github.com/kevinmichaelchen/ixchel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDefaultsToStatic(t *testing.T) {
	p, err := NewProvider(config.EmbeddingConfig{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 768, p.Dimensions())
	assert.Equal(t, "static-768", p.ModelName())
}

func TestNewProviderHonorsConfiguredDimensionAndModel(t *testing.T) {
	p, err := NewProvider(config.EmbeddingConfig{
		Provider:  "static",
		Model:     "static-256",
		Dimension: 256,
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 256, p.Dimensions())
	assert.Equal(t, "static-256", p.ModelName())
}

func TestNewProviderRejectsUnknownProvider(t *testing.T) {
	_, err := NewProvider(config.EmbeddingConfig{Provider: "mlx"})
	assert.Error(t, err)
}
