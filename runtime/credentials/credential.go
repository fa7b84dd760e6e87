// Package credentials holds the upstream credential used by the relay to
// authenticate against the AI backend.
//
// The credential is process-wide read-only configuration: it is created once
// at startup and injected into every relay task. It never travels to clients
// and its String form is always redacted.
package credentials

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultHeaderName is the header Gemini accepts for API keys.
const DefaultHeaderName = "x-goog-api-key"

// Validation errors. Both are reported to clients as NoCredential.
var (
	ErrMissing   = errors.New("upstream credential is not configured")
	ErrMalformed = errors.New("upstream credential is malformed")
)

// minKeyLength rejects obviously truncated keys. Google keys are 39 characters.
const minKeyLength = 16

// Credential applies authentication to an upstream handshake.
type Credential interface {
	// Apply adds authentication headers to the handshake request headers.
	Apply(h http.Header)

	// Validate reports whether the credential is present and well-formed.
	Validate() error

	// Type returns the credential type identifier.
	Type() string
}

// APIKey implements header-based API key authentication.
type APIKey struct {
	key        string
	headerName string
}

// APIKeyOption configures an APIKey.
type APIKeyOption func(*APIKey)

// WithHeaderName sets the header name for the API key.
func WithHeaderName(name string) APIKeyOption {
	return func(c *APIKey) {
		c.headerName = name
	}
}

// NewAPIKey creates an API key credential. Surrounding whitespace is trimmed.
func NewAPIKey(key string, opts ...APIKeyOption) *APIKey {
	c := &APIKey{
		key:        strings.TrimSpace(key),
		headerName: DefaultHeaderName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply sets the API key header. A missing key leaves h untouched.
func (c *APIKey) Apply(h http.Header) {
	if c.key != "" {
		h.Set(c.headerName, c.key)
	}
}

// Validate checks presence and basic shape without contacting the backend.
func (c *APIKey) Validate() error {
	if c == nil || c.key == "" {
		return ErrMissing
	}
	if len(c.key) < minKeyLength || strings.ContainsAny(c.key, " \t\r\n") {
		return ErrMalformed
	}
	return nil
}

// Type returns "api_key".
func (c *APIKey) Type() string {
	return "api_key"
}

// Value returns the raw key for transports that cannot use headers.
func (c *APIKey) Value() string {
	return c.key
}

// String never reveals the key.
func (c *APIKey) String() string {
	if c == nil || c.key == "" {
		return "api_key(<unset>)"
	}
	return "api_key(" + c.key[:min(4, len(c.key))] + "...[REDACTED])"
}

// GoString keeps %#v from printing the key.
func (c *APIKey) GoString() string {
	return c.String()
}
