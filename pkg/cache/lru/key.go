package lru

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// GenerateKey computes a SHA-256 digest of the fields that decide an
// analysis result. Each field is length-prefixed so that no two distinct
// inputs share a byte stream. Image bytes are never part of the key.
func GenerateKey(content, operation, context string) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range [...]string{content, operation, context} {
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
