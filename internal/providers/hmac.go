package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// verifyHexHMACSHA256 checks a hex-encoded HMAC-SHA256 signature of body
// against a key derived by hashing secret, the scheme CryptoBot's
// webhook verification uses.
func verifyHexHMACSHA256(secret string, body []byte, signatureHex string) bool {
	keyHash := sha256.Sum256([]byte(secret))
	mac := hmac.New(sha256.New, keyHash[:])
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	gotBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expectedBytes, gotBytes)
}
