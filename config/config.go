// Package config loads server configuration from YAML and the environment.
//
// Precedence, lowest to highest: Default(), the YAML file (with ${VAR}
// expansion), then POLICY_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
)

type Config struct {
	ListenAddr string           `yaml:"listen_addr" env:"POLICY_LISTEN_ADDR"`
	DB         DBConfig         `yaml:"db" envPrefix:"POLICY_DB_"`
	Log        LogConfig        `yaml:"log" envPrefix:"POLICY_LOG_"`
	Approval   ApprovalConfig   `yaml:"approval" envPrefix:"POLICY_APPROVAL_"`
	Payroll    PayrollConfig    `yaml:"payroll" envPrefix:"POLICY_PAYROLL_"`
	Versioning VersioningConfig `yaml:"versioning" envPrefix:"POLICY_VERSIONING_"`
}

type DBConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type ApprovalConfig struct {
	// Amounts are strings so they reach decimal.Decimal without float rounding.
	CEOThreshold  string            `yaml:"ceo_threshold" env:"CEO_THRESHOLD"`
	OrgThresholds map[string]string `yaml:"org_thresholds" env:"ORG_THRESHOLDS"`
	HRRoles       []string          `yaml:"hr_roles" env:"HR_ROLES"`
	CEORoles      []string          `yaml:"ceo_roles" env:"CEO_ROLES"`
}

type PayrollConfig struct {
	SyncConcurrency int    `yaml:"sync_concurrency" env:"SYNC_CONCURRENCY"`
	Locale          string `yaml:"locale" env:"LOCALE"`
	Currency        string `yaml:"currency" env:"CURRENCY"`
}

type VersioningConfig struct {
	Retain int `yaml:"retain" env:"RETAIN"`
}

// Default returns a configuration that runs a local server.
func Default() Config {
	roles := approval.DefaultRoles()
	return Config{
		ListenAddr: ":8080",
		DB:         DBConfig{Path: "./data/policies.db"},
		Log:        LogConfig{Level: "info", Format: "text"},
		Approval: ApprovalConfig{
			CEOThreshold: approval.DefaultCEOThreshold.String(),
			HRRoles:      roles.HR,
			CEORoles:     roles.CEO,
		},
		Payroll: PayrollConfig{
			SyncConcurrency: payroll.DefaultSyncConcurrency,
			Locale:          "en",
			Currency:        "USD",
		},
	}
}

// Load reads path (optional) over Default(), applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.Approval.Thresholds(); err != nil {
		return err
	}
	if len(c.Approval.HRRoles) == 0 || len(c.Approval.CEORoles) == 0 {
		return fmt.Errorf("approval.hr_roles and approval.ceo_roles must not be empty")
	}
	if c.Payroll.SyncConcurrency < 1 {
		return fmt.Errorf("payroll.sync_concurrency must be at least 1")
	}
	if _, err := payroll.NewPrinter(c.Payroll.Locale); err != nil {
		return fmt.Errorf("payroll.locale: %w", err)
	}
	if c.Payroll.Currency == "" {
		return fmt.Errorf("payroll.currency is required")
	}
	if c.Versioning.Retain < 0 {
		return fmt.Errorf("versioning.retain must not be negative")
	}
	return nil
}

// Thresholds converts the configured amounts for the approval workflow.
func (a ApprovalConfig) Thresholds() (approval.Thresholds, error) {
	def, err := decimal.NewFromString(a.CEOThreshold)
	if err != nil {
		return approval.Thresholds{}, fmt.Errorf("approval.ceo_threshold: %w", err)
	}
	th := approval.Thresholds{Default: def}
	if len(a.OrgThresholds) > 0 {
		th.PerOrg = make(map[policy.OrgID]decimal.Decimal, len(a.OrgThresholds))
		for org, raw := range a.OrgThresholds {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return approval.Thresholds{}, fmt.Errorf("approval.org_thresholds[%s]: %w", org, err)
			}
			th.PerOrg[policy.OrgID(org)] = v
		}
	}
	return th, nil
}

func (a ApprovalConfig) Roles() approval.Roles {
	return approval.Roles{HR: a.HRRoles, CEO: a.CEORoles}
}

// NewLogger builds the process logger. verbose forces debug level.
func (l LogConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
