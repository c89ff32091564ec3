package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Header is the signature header sent with each webhook delivery.
const Header = "X-Zendesk-Webhook-Signature"

// secretBytes is the webhook secret length, 256 bits.
const secretBytes = 32

// Sign computes the base64-encoded HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHeader matches the signature of the exact
// raw body under secret. The comparison is constant time, and every failure
// path returns false rather than an error so rejections are indistinguishable
// to the sender.
func Verify(body []byte, signatureHeader string, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// NewWebhookSecret returns a new random webhook signing secret, base64
// encoded. Issued once per installation at creation.
func NewWebhookSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
