// Package signature computes and verifies the X-Signature request header
// shared between the proxy and the internal API.
//
// The signature is hex(sha256(canonical_path + body + secret)) where
// canonical_path is the request path followed by "?query" when a query string
// is present. Components are concatenated without delimiters.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"unicode/utf8"
)

// HeaderSignature carries the hex-encoded request signature.
const HeaderSignature = "X-Signature"

var (
	// ErrEmptySecret is returned when a signer is built without a secret.
	ErrEmptySecret = errors.New("signature: secret must not be empty")

	// ErrInvalidPath is returned for request paths that are not valid UTF-8.
	ErrInvalidPath = errors.New("signature: request path is not valid UTF-8")
)

// CanonicalPath returns path with "?rawQuery" appended iff rawQuery is non-empty.
func CanonicalPath(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}

// ValidatePath rejects paths that cannot be encoded as UTF-8 without loss.
func ValidatePath(path string) error {
	if !utf8.ValidString(path) {
		return ErrInvalidPath
	}
	return nil
}

// Sign returns the hex signature over path, query, body and secret.
func Sign(path, rawQuery string, body []byte, secret string) string {
	h := sha256.New()
	h.Write([]byte(CanonicalPath(path, rawQuery)))
	h.Write(body)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Signer holds a process-wide secret. It is safe for concurrent use.
type Signer struct {
	secret string
}

// NewSigner returns a Signer for secret. An empty secret is a configuration
// error: the process must not sign with an empty key.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: secret}, nil
}

// Sign returns the signature for the given request components.
func (s *Signer) Sign(path, rawQuery string, body []byte) string {
	return Sign(path, rawQuery, body, s.secret)
}

// Verify reports whether got is the signature for the given request components.
// An empty got never verifies.
func (s *Signer) Verify(path, rawQuery string, body []byte, got string) bool {
	if got == "" {
		return false
	}
	want := s.Sign(path, rawQuery, body)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// VerifyRequest checks the X-Signature header of req against the path, raw
// query and body as seen by the server. body must be the raw request body;
// req.Body is not read.
func (s *Signer) VerifyRequest(req *http.Request, body []byte) bool {
	if ValidatePath(req.URL.Path) != nil {
		return false
	}
	return s.Verify(req.URL.Path, req.URL.RawQuery, body, req.Header.Get(HeaderSignature))
}

// Attach sets the X-Signature header on h, replacing any existing value.
func (s *Signer) Attach(h http.Header, path, rawQuery string, body []byte) {
	h.Set(HeaderSignature, s.Sign(path, rawQuery, body))
}
