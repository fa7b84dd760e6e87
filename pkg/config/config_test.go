package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liveinspect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	v := NewValidator(cfg)

	require.NoError(t, v.Validate())
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultConnectTimeout, cfg.Client.ConnectTimeout)
	assert.Contains(t, v.Warnings()[0], "GEMINI_API_KEY")
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultUpstreamModel, cfg.Upstream.Model)
	assert.Empty(t, cfg.APIKey)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
  allowed_origins: ["https://inspect.example"]
upstream:
  voice: Puck
  setup_timeout: 3s
client:
  outbound_buffer: 16
registry:
  backend: redis
  redis_addr: localhost:6379
logging:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"https://inspect.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "Puck", cfg.Upstream.Voice)
	assert.Equal(t, 3*time.Second, cfg.Upstream.SetupTimeout)
	assert.Equal(t, 16, cfg.Client.OutboundBuffer)
	assert.Equal(t, RegistryRedis, cfg.Registry.Backend)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultLivePath, cfg.Server.LivePath)
	assert.Equal(t, DefaultPreReadyBuffer, cfg.Client.PreReadyBuffer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":8080\"\n")
	t.Setenv("GEMINI_API_KEY", "AIza-test-key")
	t.Setenv("LIVEINSPECT_SERVER_ADDR", ":9090")
	t.Setenv("LIVEINSPECT_CLIENT_CONNECT_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AIza-test-key", cfg.APIKey)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Client.ConnectTimeout)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("LIVEINSPECT_SERVER_ADDR", ":7070")
	t.Setenv("GEMINI_API_KEY", "")
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))

	path := filepath.Join(t.TempDir(), ".env")
	body := "GEMINI_API_KEY=AIza-from-dotenv\nLIVEINSPECT_SERVER_ADDR=:6060\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	require.NoError(t, LoadEnvFile(path))
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "AIza-from-dotenv", cfg.APIKey)
	assert.Equal(t, ":7070", cfg.Server.Addr, "existing variables win")

	assert.ErrorContains(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")), "failed to load env file")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.LivePath = "live"
	cfg.Upstream.URL = "https://example.com?key=leak"
	cfg.Client.OutboundBuffer = 0
	cfg.Registry.Backend = "etcd"
	cfg.Logging.Format = "xml"

	err := NewValidator(cfg).Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "5 errors")
	assert.Contains(t, msg, "live_path")
	assert.Contains(t, msg, "upstream.url")
	assert.Contains(t, msg, "outbound_buffer")
	assert.Contains(t, msg, "registry.backend")
	assert.Contains(t, msg, "logging.format")
}

func TestValidate_RejectsKeyInURL(t *testing.T) {
	cfg := Default()
	cfg.Upstream.URL = "wss://example.com/ws?key=AIza123"

	err := NewValidator(cfg).Validate()
	assert.ErrorContains(t, err, "must not carry the API key")
}

func TestValidate_RedisNeedsAddr(t *testing.T) {
	cfg := Default()
	cfg.Registry.Backend = RegistryRedis

	assert.ErrorContains(t, NewValidator(cfg).Validate(), "redis_addr")
}
