package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Signature"

// SignPayload returns hex(HMAC-SHA256(key, body)), the value sent in the
// X-Signature header of every webhook delivery.
func SignPayload(key string, body []byte) string {
	return hmacSHA256Hex([]byte(key), body)
}

// VerifyPayload checks a signature produced by SignPayload in constant time.
func VerifyPayload(key string, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// HashAPIKey returns the lookup digest stored next to a sealed API key.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex encoding.
func hmacSHA256Hex(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
