package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "dispatchd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "dispatchd", cfg.Observability.ServiceName)
	assert.Equal(t, HistoryBackendMemory, cfg.History.Backend)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, time.Second, cfg.Executor.RetryDelay.Duration())
	assert.Equal(t, "strict", cfg.Executor.EnforcementLevel)
	assert.Equal(t, int64(10000), cfg.Executor.CostCap)
	assert.False(t, cfg.Executor.DisableLearning)
	assert.False(t, cfg.Executor.DisableRedaction)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 8088
observability:
  enable_telemetry: true
  service_name: dispatchd-test
  otlp_protocol: http/protobuf
history:
  backend: redis
  redis_addr: localhost:6379
  redis_password: hunter2
events:
  enabled: true
  subject_prefix: acme.dispatch
executor:
  max_retries: 5
  retry_delay: 250ms
  enforcement_level: moderate
  ops_per_second: 2.5
  disable_redaction: true
  redaction_allowlist:
    - "^sk_test_"
catalog:
  path: /etc/dispatchd/agents.yaml
  watch: true
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.True(t, cfg.Observability.EnableTelemetry)
	assert.Equal(t, "dispatchd-test", cfg.Observability.ServiceName)
	assert.Equal(t, "http/protobuf", cfg.Observability.OTLPProtocol)
	assert.Equal(t, HistoryBackendRedis, cfg.History.Backend)
	assert.Equal(t, "hunter2", cfg.History.RedisPassword.Value())
	assert.Equal(t, "acme.dispatch", cfg.Events.SubjectPrefix)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.RetryDelay.Duration())
	assert.Equal(t, "moderate", cfg.Executor.EnforcementLevel)
	assert.InDelta(t, 2.5, cfg.Executor.OpsPerSecond, 1e-9)
	assert.True(t, cfg.Executor.DisableRedaction)
	assert.Equal(t, []string{"^sk_test_"}, cfg.Executor.RedactionAllowlist)
	assert.True(t, cfg.Catalog.Watch)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0600)

	t.Setenv("SERVER_HTTP_PORT", "9999")
	t.Setenv("EXECUTOR_COST_CAP", "500")
	t.Setenv("EVENTS_SUBJECT_PREFIX", "from.env")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, int64(500), cfg.Executor.CostCap)
	assert.Equal(t, "from.env", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsSiblingPrefixDir(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))

	_, err := LoadWithFile(filepath.Join(sibling, "config.yaml"))
	assert.Error(t, err)
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "executor:\n  enforcement_level: relaxed\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enforcement_level")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("SERVER_HTTP_PORT"))
	assert.Equal(t, "history.redis_addr", envKey("HISTORY_REDIS_ADDR"))
	assert.Equal(t, "", envKey("PATH"))
	assert.Equal(t, "", envKey("GOPATH_EXTRA"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"redis without addr", func(c *Config) { c.History.Backend = HistoryBackendRedis }, "redis_addr"},
		{"unknown backend", func(c *Config) { c.History.Backend = "etcd" }, "unknown history backend"},
		{"bad protocol", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.OTLPProtocol = "thrift"
		}, "otlp_protocol"},
		{"negative cost cap", func(c *Config) { c.Executor.CostCap = -1 }, "cost_cap"},
		{"watch without path", func(c *Config) { c.Catalog.Watch = true }, "catalog.watch"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())

	data, err := json.Marshal(struct{ P Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
