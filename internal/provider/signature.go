// internal/provider/signature.go
package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload computes the hex HMAC-SHA256 signature of payload with secret,
// in the "sha256=<hex>" form providers put in their signature header.
func SignPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSignature checks a provider signature header against the raw
// payload using a shared secret. The comparison is constant time. An empty
// secret never verifies: a tenant without a configured secret must fail
// closed, not open.
func VerifyHMACSignature(secret, payload []byte, signatureHeader string) bool {
	if len(secret) == 0 || signatureHeader == "" {
		return false
	}

	header := strings.TrimPrefix(signatureHeader, "sha256=")
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}
