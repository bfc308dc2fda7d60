package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintIsDeterministic(t *testing.T) {
	id1, err := Mint("dec", "Use PostgreSQL|2026-01-15T00:00:00Z|alice", nil)
	require.NoError(t, err)
	id2, err := Mint("dec", "Use PostgreSQL|2026-01-15T00:00:00Z|alice", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.True(t, Valid(id1))
}

func TestMintDifferentSeedsDiffer(t *testing.T) {
	id1, err := Mint("dec", "seed-a", nil)
	require.NoError(t, err)
	id2, err := Mint("dec", "seed-b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestMintExtendsHexLenOnCollision(t *testing.T) {
	seed := "Use PostgreSQL|2026-01-15T00:00:00Z|alice"
	firstAttempt, err := Mint("dec", seed, nil)
	require.NoError(t, err)

	calls := 0
	exists := func(candidate string) bool {
		calls++
		if candidate == firstAttempt {
			return true
		}
		return false
	}

	id, err := Mint("dec", seed, exists)
	require.NoError(t, err)
	assert.NotEqual(t, firstAttempt, id)
	_, hexPart, ok := Split(id)
	require.True(t, ok)
	assert.Equal(t, DefaultHexLen+hexLenStep, len(hexPart))
}

func TestMintFailsWhenExhausted(t *testing.T) {
	_, err := Mint("dec", "seed", func(string) bool { return true })
	assert.Error(t, err)
}

func TestMintRejectsEmptyPrefix(t *testing.T) {
	_, err := Mint("", "seed", nil)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	prefix, hexPart, ok := Split("dec-aaa111")
	require.True(t, ok)
	assert.Equal(t, "dec", prefix)
	assert.Equal(t, "aaa111", hexPart)

	_, _, ok = Split("not-an-id-!!")
	assert.False(t, ok)
}

func TestContentHashHexStable(t *testing.T) {
	h1 := ContentHashHex([]byte("hello"))
	h2 := ContentHashHex([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3 := ContentHashHex([]byte("hello!"))
	assert.NotEqual(t, h1, h3)
}
