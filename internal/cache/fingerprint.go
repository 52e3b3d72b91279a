package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize trims, lowercases and collapses every whitespace run to a single
// space, so trivially different phrasings of a message share a key.
func Normalize(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	space := false
	for _, r := range strings.TrimSpace(message) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Fingerprint derives the cache key for a message within a session scope.
// The result is prefix followed by 64 hex characters. An empty session id
// selects the global scope.
func Fingerprint(prefix, sessionID, message string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(message)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
