// Package sync implements the Sync Engine (spec.md §4.5): the single
// sync(repo_root) pass that reconciles the Markdown Store against the
// Indexed Cache. One Engine.Sync call enumerates entity files, classifies
// each by a three-stage stat/hash/parse filter, embeds the changed set,
// and mutates the cache under one write transaction before persisting
// the manifest as its final write.
package sync
