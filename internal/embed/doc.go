// Package embed implements the Embedding Provider contract (spec.md §2):
// a pure function from text to an L2-normalized vector of known
// dimension, with a batch variant, used by the Sync Engine and the
// Query Surface's semantic search. The default provider is static and
// deterministic so tests never depend on a model download or network
// access; other backends can implement Provider without touching the
// Sync Engine.
package embed
