// Package hash provides the content hashing used for duplicate detection
// and embedding cache keys.
package hash

import (
	"encoding/hex"
	"strings"

	"github.com/minio/highwayhash"
)

// Fixed key so hashes are stable across processes and restarts.
var hashKey = []byte("docbrain.content.hash.v1........")

// Content hashes raw document bytes for duplicate detection.
func Content(data []byte) string {
	sum := highwayhash.Sum128(data, hashKey)
	return hex.EncodeToString(sum[:])
}

// CacheKey derives the embedding cache key from the model identifier and
// the normalised chunk text. Identical text embedded under the same model
// always maps to the same key, regardless of which document produced it.
func CacheKey(modelID, text string) string {
	normalised := strings.Join(strings.Fields(text), " ")
	sum := highwayhash.Sum128([]byte(modelID+"\x00"+normalised), hashKey)
	return modelID + ":" + hex.EncodeToString(sum[:])
}
