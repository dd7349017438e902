package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken creates a SHA-256 hash of a credential for storage. The
// control plane keeps hashes, never the credentials themselves.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken reports whether token hashes to storedHash. The
// comparison is constant time.
func VerifyToken(token, storedHash string) bool {
	h := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
