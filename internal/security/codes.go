package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strings"
)

// codeAlphabet omits characters that are easy to misread on a kiosk screen (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeSecretLength is the number of characters in a generated kiosk code.
const CodeSecretLength = 8

// GenerateCodeSecret returns a random kiosk code of CodeSecretLength characters using crypto/rand.
func GenerateCodeSecret() (string, error) {
	out := make([]byte, CodeSecretLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// NormalizeCodeSecret uppercases the secret and drops spaces and dashes people type while copying a code.
func NormalizeCodeSecret(secret string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(secret) {
		if r == ' ' || r == '-' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashCodeSecret returns the hex SHA-256 of the normalized secret. Only the hash is stored.
func HashCodeSecret(secret string) string {
	h := sha256.Sum256([]byte(NormalizeCodeSecret(secret)))
	return hex.EncodeToString(h[:])
}

// CodeSecretHashEqual performs constant-time comparison of the provided secret's hash with the stored hash.
func CodeSecretHashEqual(providedSecret, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCodeSecret(providedSecret)), []byte(storedHash)) == 1
}
