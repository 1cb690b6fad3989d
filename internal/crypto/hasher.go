package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashEmail returns the hex SHA-256 of a normalized email address. This is
// the only durable identity the system keeps; there is no reverse index.
func HashEmail(normalized string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(normalized)))
}

// HashMagicToken returns the hex SHA-256 of a raw magic-link token, so the
// stored row is useless to anyone who reads the database.
func HashMagicToken(rawToken string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(rawToken)))
}

// NewResumeToken generates an opaque 256-bit resume token. It is handed to
// the client exactly once and never stored verbatim.
func NewResumeToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate resume token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Hasher derives session ids from resume tokens with a server-held secret.
// Without the secret, observing a session id gives no way to forge a
// matching token.
type Hasher struct {
	secret []byte
}

func NewHasher(secret []byte) *Hasher {
	return &Hasher{secret: secret}
}

// HashResumeToken returns the hex HMAC-SHA256 of the token under the server
// secret. The result is the session id.
func (h *Hasher) HashResumeToken(token string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
