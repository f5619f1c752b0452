package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/config"
	"github.com/warp/policy-engine/policy"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Payroll.SyncConcurrency)

	th, err := cfg.Approval.Thresholds()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(th.Default))
	assert.Contains(t, cfg.Approval.CEORoles, "owner")
}

func TestLoad_FileWithExpansionAndOrgThresholds(t *testing.T) {
	t.Setenv("TEST_POLICY_DB", "/tmp/test-policies.db")
	path := writeConfig(t, `
listen_addr: ":9090"
db:
  path: ${TEST_POLICY_DB}
log:
  level: debug
  format: json
approval:
  ceo_threshold: 750
  org_thresholds:
    org-big: "5000.50"
payroll:
  sync_concurrency: 8
  locale: de
  currency: EUR
versioning:
  retain: 10
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test-policies.db", cfg.DB.Path)
	assert.Equal(t, 10, cfg.Versioning.Retain)
	assert.Equal(t, "EUR", cfg.Payroll.Currency)

	th, err := cfg.Approval.Thresholds()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(750).Equal(th.Default))
	assert.True(t, decimal.RequireFromString("5000.50").Equal(th.For(policy.OrgID("org-big"))))
	assert.True(t, decimal.NewFromInt(750).Equal(th.For(policy.OrgID("org-small"))))

	// Role lists keep their defaults when the file does not mention them
	assert.NotEmpty(t, cfg.Approval.HRRoles)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9090\"\n")
	t.Setenv("POLICY_LISTEN_ADDR", ":7070")
	t.Setenv("POLICY_PAYROLL_SYNC_CONCURRENCY", "2")
	t.Setenv("POLICY_APPROVAL_CEO_ROLES", "ceo,founder")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Payroll.SyncConcurrency)
	assert.Equal(t, []string{"ceo", "founder"}, cfg.Approval.CEORoles)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty listen addr", func(c *config.Config) { c.ListenAddr = "" }},
		{"empty db path", func(c *config.Config) { c.DB.Path = "" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"bad threshold", func(c *config.Config) { c.Approval.CEOThreshold = "lots" }},
		{"bad org threshold", func(c *config.Config) { c.Approval.OrgThresholds = map[string]string{"o": "x"} }},
		{"no ceo roles", func(c *config.Config) { c.Approval.CEORoles = nil }},
		{"zero concurrency", func(c *config.Config) { c.Payroll.SyncConcurrency = 0 }},
		{"bad locale", func(c *config.Config) { c.Payroll.Locale = "not a locale!" }},
		{"negative retain", func(c *config.Config) { c.Versioning.Retain = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf, false)

	logger.Info("hidden")
	logger.Warn("shown", "policy_id", "pol-1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"policy_id":"pol-1"`)
}
