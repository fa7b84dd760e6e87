package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validator checks a Config for consistency. Problems that prevent startup
// are errors; conditions the server tolerates (a missing API key) are
// warnings.
type Validator struct {
	config *Config
	errs   []error
	warns  []string
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{config: cfg}
}

// Validate runs every check and returns all errors joined.
func (v *Validator) Validate() error {
	v.validateServer()
	v.validateUpstream()
	v.validateClient()
	v.validateRegistry()
	v.validateLogging()

	if v.config.APIKey == "" {
		v.warns = append(v.warns, "GEMINI_API_KEY is not set; live sessions will fail with NoCredential")
	}

	if len(v.errs) > 0 {
		return fmt.Errorf("configuration validation failed with %d errors: %w", len(v.errs), errors.Join(v.errs...))
	}
	return nil
}

// Warnings returns the warnings collected by the last Validate call.
func (v *Validator) Warnings() []string {
	return v.warns
}

func (v *Validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *Validator) validateServer() {
	s := v.config.Server
	if s.Addr == "" {
		v.fail("server.addr is required")
	}
	if !strings.HasPrefix(s.LivePath, "/") {
		v.fail("server.live_path must start with '/': %q", s.LivePath)
	}
	if s.MaxMessageSize <= 0 {
		v.fail("server.max_message_size must be positive")
	}
}

func (v *Validator) validateUpstream() {
	u := v.config.Upstream
	parsed, err := url.Parse(u.URL)
	if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
		v.fail("upstream.url must be a ws:// or wss:// URL: %q", u.URL)
	} else if parsed.Query().Has("key") {
		v.fail("upstream.url must not carry the API key; use GEMINI_API_KEY")
	}
	if u.Model == "" {
		v.fail("upstream.model is required")
	}
	if u.DialTimeout <= 0 || u.SetupTimeout <= 0 {
		v.fail("upstream timeouts must be positive")
	}
}

func (v *Validator) validateClient() {
	c := v.config.Client
	if c.ConnectTimeout <= 0 {
		v.fail("client.connect_timeout must be positive")
	}
	if c.OutboundBuffer < 1 {
		v.fail("client.outbound_buffer must be at least 1")
	}
	if c.PreReadyBuffer < 0 {
		v.fail("client.pre_ready_buffer must not be negative")
	}
	if c.MaxChunkRate < 1 {
		v.fail("client.max_chunk_rate must be at least 1")
	}
}

func (v *Validator) validateRegistry() {
	r := v.config.Registry
	switch r.Backend {
	case RegistryMemory:
	case RegistryRedis:
		if r.RedisAddr == "" {
			v.fail("registry.redis_addr is required for the redis backend")
		}
	default:
		v.fail("registry.backend must be %q or %q: %q", RegistryMemory, RegistryRedis, r.Backend)
	}
	if r.TTL < 0 {
		v.fail("registry.ttl must not be negative")
	}
}

func (v *Validator) validateLogging() {
	switch strings.ToLower(v.config.Logging.Format) {
	case "", "text", "json":
	default:
		v.fail("logging.format must be text or json: %q", v.config.Logging.Format)
	}
}
