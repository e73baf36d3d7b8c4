package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignPayload computes the hex HMAC-SHA512 of payload with the shared secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the provided signature matches the payload.
// Comparison is constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
