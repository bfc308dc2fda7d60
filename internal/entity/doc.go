// Package entity implements the Entity Registry and Relationship
// Registry (spec §4.1): the catalog of known entity kinds and the
// validity matrix governing which (from_kind, relation, to_kind) triples
// may form an edge. Both registries load built-in defaults and overlay
// project-defined TOML files, the same layered-defaults shape the
// ambient config package uses.
package entity
