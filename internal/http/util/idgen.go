package util

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	// LinkIDLength is the number of URL-safe characters in a link ID.
	// 8 characters of the base64url alphabet give 48 bits of entropy,
	// which makes accidental collision negligible; creation still retries
	// on a primary-key conflict.
	LinkIDLength = 8

	referenceLength = 16
)

// NewLinkID mints a short URL-safe link identifier.
func NewLinkID() (string, error) {
	return randomString(LinkIDLength)
}

// NewChallengeReference mints the reference included in a 402 payment
// challenge so a payer can tag their transaction.
func NewChallengeReference() (string, error) {
	return randomString(referenceLength)
}

func randomString(length int) (string, error) {
	// base64url encodes 3 bytes into 4 chars; round up and trim.
	buf := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:length], nil
}
