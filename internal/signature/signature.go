// Package signature signs and verifies payloads with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const Prefix = "sha256="

// Sign returns "sha256=<hex>" for payload keyed by secret.
func Sign(payload []byte, secret string) string {
	return Prefix + hex.EncodeToString(digest(payload, secret))
}

// Verify checks signature against payload. The "sha256=" prefix is optional.
func Verify(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, Prefix)
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) == 0 {
		return false
	}
	return hmac.Equal(provided, digest(payload, secret))
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
