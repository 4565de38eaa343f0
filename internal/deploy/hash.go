package deploy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// hashLen is the number of hex characters kept from the SHA-256 digest.
const hashLen = 16

// CanonicalHash returns the first 16 hex characters of the SHA-256 over the
// canonical JSON form of v: keys sorted lexicographically at every level.
// Two structures that are equal under key-order-insensitive comparison hash
// identically.
func CanonicalHash(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize bundle: %w", err)
	}
	// Round-trip through untyped maps so every object becomes a map whose
	// keys encoding/json emits in sorted order.
	var norm interface{}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return "", fmt.Errorf("failed to normalize bundle: %w", err)
	}
	canon, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize bundle: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:hashLen], nil
}
