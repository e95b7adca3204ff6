package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"foureyes/internal/verification"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foureyes.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
applications:
  shop:
    repository: acme/shop
`)

	config, apps, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.DatabasePath != "./foureyes.db" {
		t.Errorf("expected default database path, got %s", config.DatabasePath)
	}
	if config.SnapshotPath != "./snapshots.db" {
		t.Errorf("expected default snapshot path, got %s", config.SnapshotPath)
	}
	if config.GitHub.RebaseLookback != DefaultRebaseLookback {
		t.Errorf("expected default lookback %d, got %d", DefaultRebaseLookback, config.GitHub.RebaseLookback)
	}

	app := apps["shop"]
	if app == nil {
		t.Fatal("expected the shop application")
	}
	if app.Repository != (verification.Repository{Owner: "acme", Name: "shop"}) {
		t.Errorf("unexpected repository %+v", app.Repository)
	}
	if app.BaseBranch != DefaultBaseBranch {
		t.Errorf("expected default base branch, got %s", app.BaseBranch)
	}
	if len(app.Environments) != 1 || app.Environments[0] != "production" {
		t.Errorf("expected default environments, got %v", app.Environments)
	}
	if app.ImplicitApproval != verification.ImplicitOff {
		t.Errorf("implicit approval defaults off, got %s", app.ImplicitApproval)
	}
	if !app.AutoBaseline {
		t.Error("auto baseline defaults on")
	}
	if app.AuditStartYear != nil {
		t.Errorf("expected no audit cutoff, got %v", app.AuditStartYear)
	}
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
database_path: /var/lib/foureyes/audit.db
snapshot_path: /var/lib/foureyes/snapshots.db
github:
  token_env: SHOP_GITHUB_TOKEN
  requests_per_second: 2.5
  rebase_lookback: 100
bot_accounts:
  - custom-bot[bot]
applications:
  shop:
    repository: acme/shop
    base_branch: trunk
    environments: [production, staging]
    audit_start_year: 2023
    implicit_approval: dependabot_only
    auto_baseline: false
`)

	config, apps, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.GitHub.TokenEnv != "SHOP_GITHUB_TOKEN" {
		t.Errorf("unexpected token env %s", config.GitHub.TokenEnv)
	}
	if config.GitHub.RebaseLookback != 100 {
		t.Errorf("unexpected lookback %d", config.GitHub.RebaseLookback)
	}
	if len(config.BotAccounts) != 1 || config.BotAccounts[0] != "custom-bot[bot]" {
		t.Errorf("unexpected bot accounts %v", config.BotAccounts)
	}

	app := apps["shop"]
	if app.BaseBranch != "trunk" {
		t.Errorf("unexpected base branch %s", app.BaseBranch)
	}
	if len(app.Environments) != 2 {
		t.Errorf("unexpected environments %v", app.Environments)
	}
	if app.AuditStartYear == nil || *app.AuditStartYear != 2023 {
		t.Errorf("unexpected audit start year %v", app.AuditStartYear)
	}
	if app.ImplicitApproval != verification.ImplicitDependabotOnly {
		t.Errorf("unexpected implicit approval %s", app.ImplicitApproval)
	}
	if app.AutoBaseline {
		t.Error("auto baseline explicitly disabled")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadConfigInvalidApp(t *testing.T) {
	path := writeConfig(t, `
applications:
  shop:
    repository: not-a-repo
`)

	_, _, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "shop") {
		t.Errorf("error should name the application, got %v", err)
	}
}

func TestValidateAppConfig(t *testing.T) {
	testCases := []struct {
		name      string
		config    AppConfig
		wantError string
	}{
		{
			name:      "missing repository",
			config:    AppConfig{},
			wantError: "missing required 'repository' field",
		},
		{
			name:      "malformed repository",
			config:    AppConfig{Repository: "acme/shop/extra"},
			wantError: "repository must be 'owner/name'",
		},
		{
			name:      "negative audit year",
			config:    AppConfig{Repository: "acme/shop", AuditStartYear: -1},
			wantError: "audit_start_year must be a positive year",
		},
		{
			name:      "unknown implicit approval",
			config:    AppConfig{Repository: "acme/shop", ImplicitApproval: "sometimes"},
			wantError: "implicit_approval must be one of",
		},
		{
			name:      "branch starting with dash",
			config:    AppConfig{Repository: "acme/shop", BaseBranch: "-main"},
			wantError: "branch name cannot start with '-'",
		},
		{
			name:      "empty environment",
			config:    AppConfig{Repository: "acme/shop", Environments: []string{" "}},
			wantError: "environments[0] is empty",
		},
		{
			name:   "valid config",
			config: AppConfig{Repository: "acme/shop", ImplicitApproval: "all"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errors := ValidateAppConfig("shop", tc.config)
			if tc.wantError == "" {
				if len(errors) != 0 {
					t.Errorf("expected no errors, got %v", errors)
				}
				return
			}
			found := false
			for _, e := range errors {
				if strings.Contains(e, tc.wantError) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error containing %q, got %v", tc.wantError, errors)
			}
		})
	}
}

func TestTokenFallsBackToDefaultEnv(t *testing.T) {
	t.Setenv(DefaultTokenEnv, "default-token")
	t.Setenv("CUSTOM_TOKEN", "custom-token")

	config := &Config{}
	if got := config.Token(); got != "default-token" {
		t.Errorf("expected the default env read, got %q", got)
	}

	config.GitHub.TokenEnv = "CUSTOM_TOKEN"
	if got := config.Token(); got != "custom-token" {
		t.Errorf("expected the custom env read, got %q", got)
	}
}
