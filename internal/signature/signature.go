// Package signature implements the X-Hub-Signature-256 scheme used both to
// authenticate inbound webhooks and to sign outbound deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	Header = "X-Hub-Signature-256"
	Prefix = "sha256="
)

var (
	ErrMissing   = errors.New("signature header missing")
	ErrMalformed = errors.New("signature header malformed")
	ErrMismatch  = errors.New("signature mismatch")
)

// Sign returns "sha256=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the exact body bytes.
func Verify(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissing
	}
	got, ok := strings.CutPrefix(header, Prefix)
	if !ok {
		return ErrMalformed
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return ErrMalformed
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(gotMAC, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}
