// Package sanitize derives storage-safe names from client identifiers and
// validates caller-supplied identifiers and paths.
//
// Vector index namespaces (Qdrant collections, chromem directories) must
// match ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length of a namespace name.
	MaxIdentifierLength = 64

	// hashLength is the number of hex characters of the raw-ID hash.
	hashLength = 8

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, replaces characters outside [a-z0-9_] with
// underscores, collapses and trims underscores, and truncates to
// MaxIdentifierLength with a hash suffix.
//
//	"Lexsy, Inc."  -> "lexsy_inc"
//	"" or "!!!"    -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = strings.TrimRight(out[:MaxIdentifierLength-hashLength-1], "_") + "_" + shortHash(out)
	}
	return out
}

// Namespace returns the index namespace for a raw client ID: a readable
// prefix from Identifier plus a hash of the raw ID. Distinct IDs that sanitize
// to the same prefix ("Lexsy" and "lexsy") still get distinct namespaces.
//
//	"lexsy" -> "lexsy_<8 hex>"
func Namespace(clientID string) string {
	prefix := Identifier(clientID)
	if max := MaxIdentifierLength - hashLength - 1; len(prefix) > max {
		prefix = strings.TrimRight(prefix[:max], "_")
	}
	return prefix + "_" + shortHash(clientID)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}
