// Package webhook verifies and decodes WhatsApp Cloud API webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Sign returns the header value for body under secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signatureHeader against an HMAC-SHA256 of the raw body.
// It fails closed on an empty secret or a missing or malformed header.
func Verify(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	header := strings.TrimSpace(signatureHeader)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyChallenge validates the subscription handshake and returns the
// challenge to echo back.
func VerifyChallenge(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != "subscribe" || expectedToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return "", false
	}
	return challenge, true
}
