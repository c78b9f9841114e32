package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

/* Signatures are computed over the exact bytes sent on the wire.
 * Receivers must verify against the raw request body, never against a
 * re-encoded object: key order and number formatting are not stable
 * across JSON encoders.
 */

const (
	// Header carries the hex HMAC-SHA256 digest of the request body
	Header = "X-Webhook-Signature"

	// IDHeader, EventHeader and TimestampHeader are informational and not signed
	IDHeader        = "X-Webhook-ID"
	EventHeader     = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"

	// SecretPrefix is the prefix for generated signing secrets
	SecretPrefix = "whsec_"

	// MinSecretBytes is the minimum recommended secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits)
	MaxSecretBytes = 64

	// DefaultSecretBytes is used when registering endpoints
	DefaultSecretBytes = 32
)

var (
	ErrEmptySecret       = errors.New("signing secret is empty")
	ErrMissingSignature  = errors.New("signature header is missing")
	ErrSignatureMismatch = errors.New("signature does not match payload")
)

// Secret represents a signing secret handed to an endpoint owner
type Secret struct {
	raw     []byte
	encoded string
}

// GenerateSecret creates a new cryptographically secure signing secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:     b,
		encoded: SecretPrefix + base64.StdEncoding.EncodeToString(b),
	}, nil
}

// ParseSecret parses a base64-encoded secret with the whsec_ prefix
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}

	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	return Secret{raw: raw, encoded: encoded}, nil
}

// String returns the encoded secret. It is also the HMAC key.
func (s Secret) String() string {
	return s.encoded
}

// Bytes returns the random bytes behind the secret
func (s Secret) Bytes() []byte {
	return s.raw
}

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
// An empty payload is signed as empty bytes; an empty secret is rejected
// with ErrEmptySecret.
func Sign(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether digest is the signature of payload under secret.
// Comparison is constant-time; malformed digests simply fail.
func Verify(secret string, payload []byte, digest string) bool {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false
	}

	supplied, err := hex.DecodeString(strings.TrimSpace(digest))
	if err != nil {
		return false
	}

	want, _ := hex.DecodeString(expected)
	return hmac.Equal(want, supplied)
}

// VerifyRequest reads the raw body of r and checks it against the signature
// header. The body is restored on r so handlers can read it again.
func VerifyRequest(secret string, r *http.Request) ([]byte, error) {
	digest := r.Header.Get(Header)
	if digest == "" {
		return nil, ErrMissingSignature
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		r.Body.Close()
		body = b
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !Verify(secret, body, digest) {
		return nil, ErrSignatureMismatch
	}
	return body, nil
}
