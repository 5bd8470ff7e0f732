package pheromone

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashPayload computes a stable digest of a JSON payload for merge
// matching: hash with sorted keys at each structural level, then take
// a short prefix of a strong digest (8 bytes of SHA-256 is sufficient
// for in-process matching). This is the same
// "hash raw bytes with sha256, truncate, encode" idiom as the donor's
// internal/idgen/hash.go GenerateHashID, but keyed off a canonicalized
// payload instead of an issue title/description/creator tuple.
//
// encoding/json already marshals map[string]interface{} keys in
// sorted order, so round-tripping the payload through
// Unmarshal-then-Marshal is sufficient to canonicalize key order at
// every nesting level without hand-rolled sorting.
func HashPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return emptyPayloadHash
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Malformed payloads still need a stable identity for merge
		// matching; hash the raw bytes directly rather than failing
		// the emit.
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:8])
	}

	canonBytes, err := json.Marshal(v)
	if err != nil {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:8])
	}
	sum := sha256.Sum256(canonBytes)
	return hex.EncodeToString(sum[:8])
}

var emptyPayloadHash = func() string {
	sum := sha256.Sum256([]byte("null"))
	return hex.EncodeToString(sum[:8])
}()
