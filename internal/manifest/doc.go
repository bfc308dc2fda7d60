// Package manifest implements the per-repo sync manifest (spec.md §3,
// §4.5 step 1/6): a map from repo-relative file path to the fingerprint
// the Sync Engine uses to classify a file as unchanged, touched, or
// changed without re-parsing every file on every pass.
//
// The manifest is persisted as a single JSON blob under the Indexed
// Cache's metadata bucket, key "manifest:ixchel:v1" — it is not its own
// bbolt bucket, mirroring the teacher's convention of keeping small,
// whole-document state (see internal/store's metadata bucket usage) out
// of per-row buckets.
package manifest
