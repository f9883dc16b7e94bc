// Package accessurl governs retrieval access to stored objects: it signs
// time-limited URLs for the local backend's routed endpoints and rewrites
// backend URLs onto a CDN edge host when one is configured.
package accessurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signing errors.
var (
	ErrNoSecretKey       = errors.New("no signing secret configured")
	ErrMissingSignature  = errors.New("missing signature parameter")
	ErrMissingExpiration = errors.New("missing expires parameter")
	ErrInvalidExpiration = errors.New("invalid expires parameter")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrExpired           = errors.New("url has expired")
)

// Signer generates and validates HMAC-SHA256 signed URLs. The local storage
// backend cannot encode an expiry into a filesystem path, so access runs
// through routed endpoints whose URLs carry a signature and expiration that
// this signer mints and checks.
type Signer struct {
	secretKey         []byte
	defaultExpiration time.Duration
}

// NewSigner creates a Signer. The secret must be shared between the process
// minting URLs and the process serving them.
func NewSigner(secret string, defaultExpiration time.Duration) *Signer {
	if defaultExpiration <= 0 {
		defaultExpiration = time.Hour
	}
	return &Signer{
		secretKey:         []byte(secret),
		defaultExpiration: defaultExpiration,
	}
}

// Sign appends signature and expiration query parameters to path. The path
// may already carry query parameters; they are included in the signed
// payload, so tampering with any of them invalidates the URL.
func (s *Signer) Sign(path string, expiresIn time.Duration) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiration
	}

	expiresAt := time.Now().Add(expiresIn).Unix()
	signature := s.signature(payload(path, expiresAt))

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssignature=%s&expires=%d", path, separator, signature, expiresAt), nil
}

// ValidateRequest checks the signature and expiration of an incoming request
// against the path it was signed for.
func (s *Signer) ValidateRequest(r *http.Request) error {
	if len(s.secretKey) == 0 {
		return ErrNoSecretKey
	}

	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")

	if signature == "" {
		return ErrMissingSignature
	}
	if expiresStr == "" {
		return ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	// Rebuild the signed path: original query params minus the signing ones.
	path := r.URL.Path
	cleanQuery := url.Values{}
	for k, v := range query {
		if k != "signature" && k != "expires" {
			cleanQuery[k] = v
		}
	}
	if len(cleanQuery) > 0 {
		path = path + "?" + cleanQuery.Encode()
	}

	return s.Validate(path, signature, expiresAt)
}

// Validate checks a signature and expiration for the given signed path.
func (s *Signer) Validate(path, signature string, expiresAt int64) error {
	if time.Now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.signature(payload(path, expiresAt))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func payload(path string, expiresAt int64) string {
	return fmt.Sprintf("%s|%d", path, expiresAt)
}

func (s *Signer) signature(payload string) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
