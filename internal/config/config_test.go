package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
policy_sources:
  local_files: ["/etc/authz/policies"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RefreshIntervalSecs)
	assert.Equal(t, []string{"access-", "access_"}, cfg.PropertyParsePrefixes)
	assert.True(t, cfg.DecisionCache.Enabled)
	assert.Equal(t, "stdout", cfg.Audit.Type)
}

func TestLoadRejectsMissingPolicySource(t *testing.T) {
	path := writeConfig(t, `refresh_interval_secs: 5`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsExternallyManagedWithoutEntitySources(t *testing.T) {
	path := writeConfig(t, `
policy_sources:
  local_files: ["/etc/authz/policies"]
externally_managed_user_and_roles: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
policy_sources:
  local_files: ["/etc/authz/policies"]
logging:
  level: verbose
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestDecisionCacheTTL(t *testing.T) {
	c := DecisionCacheConfig{TTLSecs: 300}
	assert.Equal(t, "5m0s", c.TTL().String())
}
