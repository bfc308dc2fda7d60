// Package ident mints and validates the human-facing entity identifiers
// of the form {prefix}-{hex}, per the ID Module (spec §4.2).
package ident

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"lukechampine.com/blake3"

	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

// DefaultHexLen is the initial hex length used when minting an id.
const DefaultHexLen = 8

// MaxHexLen is the hard cap on hex length; minting fails past this point.
const MaxHexLen = 32

// hexLenStep is how much the hex length grows on each collision retry.
const hexLenStep = 2

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*-[0-9a-f]+$`)

// Exists reports whether candidate is already in use, so Mint can extend
// the hex length and retry on collision.
type Exists func(candidate string) bool

// Mint derives a new id of the form {prefix}-{hex} from kind's canonical
// prefix and a content seed (conventionally title+timestamp+creator).
// Hex length starts at DefaultHexLen and grows by 2 on collision, up to
// MaxHexLen, at which point minting fails.
func Mint(prefix string, seed string, exists Exists) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("ident: prefix must not be empty")
	}

	sum := blake3.Sum256([]byte(seed))
	full := hex.EncodeToString(sum[:])

	for n := DefaultHexLen; n <= MaxHexLen; n += hexLenStep {
		if n > len(full) {
			n = len(full)
		}
		candidate := fmt.Sprintf("%s-%s", prefix, full[:n])
		if exists == nil || !exists(candidate) {
			return candidate, nil
		}
		if n == len(full) {
			break
		}
	}

	return "", ixerr.New(ixerr.ErrCodeIDExhausted,
		fmt.Sprintf("ident: exhausted hex lengths up to %d minting id for prefix %q", MaxHexLen, prefix), nil)
}

// Split parses an id into its prefix and hex components. Returns false if
// id does not match the {prefix}-{hex} shape.
func Split(id string) (prefix, hexPart string, ok bool) {
	if !idPattern.MatchString(id) {
		return "", "", false
	}
	idx := strings.IndexByte(id, '-')
	return id[:idx], id[idx+1:], true
}

// Valid reports whether id has the well-formed {prefix}-{hex} shape. It
// does not check that prefix is a registered kind; that is
// entity.Registry's job.
func Valid(id string) bool {
	_, _, ok := Split(id)
	return ok
}

// ContentHash returns the BLAKE3-256 digest of data, used for both
// content_hash fingerprints and id seeds that want full determinism.
func ContentHash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// ContentHashHex is ContentHash hex-encoded, the manifest's content_hash
// representation.
func ContentHashHex(data []byte) string {
	sum := ContentHash(data)
	return hex.EncodeToString(sum[:])
}
