package moderation

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

func aliasKey(secret string) [32]byte {
	return blake2b.Sum256([]byte("forum-alias:" + secret))
}

// anonAlias derives a stable pseudonym for an author inside one thread.
// The same author gets different aliases in different threads.
func anonAlias(key [32]byte, authorID uint64, threadID string) string {
	h, _ := blake2b.New(8, key[:]) // 32-byte key is always accepted
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], authorID)
	h.Write(id[:])
	h.Write([]byte(threadID))
	return "anon-" + hex.EncodeToString(h.Sum(nil))
}
