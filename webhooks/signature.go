package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signatureHeader carries the HMAC WhatsApp computes over the raw body with
// the app secret.
const signatureHeader = "X-Hub-Signature-256"

// verifySignature checks a raw webhook body against its signature header in
// constant time. The header value is "sha256=" followed by the hex digest.
func verifySignature(appSecret string, body []byte, header string) bool {
	provided, found := strings.CutPrefix(header, "sha256=")
	if !found {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
