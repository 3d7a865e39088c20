package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// secretBytes is the entropy of the secret part of a plaintext token.
const secretBytes = 32

const tokenSeparator = "|"

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the lookup hash stored for a token secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func formatPlainText(id, secret string) string {
	return id + tokenSeparator + secret
}

// parsePlainText splits "<id>|<secret>". Tokens without an id prefix return
// an empty id and the whole input as the secret.
func parsePlainText(plain string) (id, secret string, ok bool) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return "", "", false
	}

	id, secret, found := strings.Cut(plain, tokenSeparator)
	if !found {
		return "", plain, true
	}
	if id == "" || secret == "" || strings.Contains(secret, tokenSeparator) {
		return "", "", false
	}
	return id, secret, true
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
