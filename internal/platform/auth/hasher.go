package auth

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// Hasher derives the loggedInHash cookie value for a user id. The value is
// the lowercase hex SHA-512 digest of "{id}-{secret}". Anyone holding the
// secret can mint a session for any id, so the secret is never logged.
type Hasher struct {
	secret string
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: secret}
}

// Hash returns the 128 character hex digest for identifier.
func (h *Hasher) Hash(identifier string) string {
	sum := sha512.Sum512([]byte(identifier + "-" + h.secret))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether hash is the digest of identifier, in constant time.
func (h *Hasher) Matches(identifier, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(identifier)), []byte(hash)) == 1
}
