// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token generates voting link tokens and their verifiers.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// RandomBytes is the entropy of a token in bytes (256 bits).
	RandomBytes = 32
	// Length is the length of an encoded token.
	Length = 43
	// HashLength is the length of an encoded verifier.
	HashLength = 64
	// MinSecretLength is the minimum length of the configured secret in bytes.
	MinSecretLength = 32
)

const keyInfo = "votelinks token verifier v1"

var (
	// ErrSecretTooShort is returned when the configured secret is missing or too short.
	ErrSecretTooShort = fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	// ErrMalformedToken is returned for candidates that can never be a valid token.
	ErrMalformedToken = errors.New("malformed token")
)

var encoding = base64.RawURLEncoding

// Codec issues tokens and computes their keyed verifiers.
type Codec struct {
	key    []byte
	random io.Reader
}

// NewCodec derives the HMAC key from secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving token key: %w", err)
	}

	return &Codec{key: key, random: rand.Reader}, nil
}

// Issue generates a new token and its verifier.
// Returns (plaintext token for delivery, verifier for storage, error).
func (c *Codec) Issue() (string, string, error) {
	buf := make([]byte, RandomBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext := encoding.EncodeToString(buf)
	return plaintext, c.hash(plaintext), nil
}

// Verify recomputes the verifier of a presented token.
func (c *Codec) Verify(candidate string) (string, error) {
	if !wellFormed(candidate) {
		return "", ErrMalformedToken
	}
	return c.hash(candidate), nil
}

// Equal compares two verifiers in constant time.
func (c *Codec) Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (c *Codec) hash(token string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func wellFormed(candidate string) bool {
	if len(candidate) != Length {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		ch := candidate[i]
		isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
		if !isAlnum && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}

// HashPrefix shortens a verifier for log output.
func HashPrefix(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
