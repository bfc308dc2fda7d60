package embed

import (
	"fmt"

	"github.com/kevinmichaelchen/ixchel/internal/config"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

// NewProvider builds the Embedding Provider configured by cfg
// (spec.md §2, §6). Only the static provider is implemented: Ixchel
// defines the Provider contract and ships a deterministic
// implementation so syncs never depend on a model download or network
// access, but it does not attach any native-FFI model backend (see
// DESIGN.md for why MLX/Ollama backends were dropped).
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "static":
		dims := cfg.Dimension
		if dims <= 0 {
			dims = 768
		}
		model := cfg.Model
		if model == "" {
			model = fmt.Sprintf("static-%d", dims)
		}
		inner := NewStaticProvider(dims, model)
		cached, err := NewCachedProvider(inner, DefaultEmbeddingCacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	default:
		return nil, ixerr.New(ixerr.ErrCodeProviderUnavailable,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}
