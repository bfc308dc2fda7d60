// Package mdstore implements the Markdown Store (spec §4.3): file
// discovery, YAML-frontmatter parsing and serialization, and BLAKE3
// content hashing for the .ixchel/ Markdown tree.
package mdstore
