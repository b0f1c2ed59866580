package util

import (
	"crypto/rand"
	"encoding/base64"
)

// NewSecret returns 32 random bytes encoded as URL-safe base64.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + base64.RawURLEncoding.EncodeToString(b), nil
}
