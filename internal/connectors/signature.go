package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ValidHMACSHA256 reports whether signature is the hex HMAC-SHA256 of body
// keyed with secret, after stripping prefix (for example "sha256=").
// An empty secret or malformed signature never validates.
func ValidHMACSHA256(secret string, body []byte, signature, prefix string) bool {
	if secret == "" || signature == "" {
		return false
	}
	if prefix != "" {
		if !strings.HasPrefix(signature, prefix) {
			return false
		}
		signature = strings.TrimPrefix(signature, prefix)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignHMACSHA256 returns the hex HMAC-SHA256 of body keyed with secret.
func SignHMACSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidToken compares a shared token in constant time.
func ValidToken(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
