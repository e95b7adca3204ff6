// Package config loads and validates the audit configuration from YAML:
// the applications under audit, their repository and policy settings, and
// the GitHub/database wiring.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"foureyes/internal/verification"
)

const (
	DefaultBaseBranch     = "main"
	DefaultRebaseLookback = 50
	DefaultTokenEnv       = "FOUREYES_GITHUB_TOKEN"
)

// GitHubConfig wires the GitHub client
type GitHubConfig struct {
	// TokenEnv names the environment variable holding the API token;
	// the token itself never lives in the config file
	TokenEnv          string  `yaml:"token_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RebaseLookback    int     `yaml:"rebase_lookback"`
}

// AppConfig is the YAML form of one audited application
type AppConfig struct {
	Repository       string   `yaml:"repository"` // owner/name
	BaseBranch       string   `yaml:"base_branch"`
	Environments     []string `yaml:"environments"`
	AuditStartYear   int      `yaml:"audit_start_year"` // 0 = no cutoff
	ImplicitApproval string   `yaml:"implicit_approval"`
	AutoBaseline     *bool    `yaml:"auto_baseline"` // default true
}

// Config is the root configuration structure
type Config struct {
	DatabasePath string               `yaml:"database_path"`
	SnapshotPath string               `yaml:"snapshot_path"`
	GitHub       GitHubConfig         `yaml:"github"`
	BotAccounts  []string             `yaml:"bot_accounts"`
	Applications map[string]AppConfig `yaml:"applications"`
}

// App is a validated application with defaults applied
type App struct {
	Name             string
	Repository       verification.Repository
	BaseBranch       string
	Environments     []string
	AuditStartYear   *int
	ImplicitApproval verification.ImplicitApprovalMode
	AutoBaseline     bool
}

// Token reads the GitHub token from the configured environment variable
func (c *Config) Token() string {
	env := c.GitHub.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	return os.Getenv(env)
}

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[string]*App, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if config.Applications == nil {
		config.Applications = make(map[string]AppConfig)
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "./foureyes.db"
	}
	if config.SnapshotPath == "" {
		config.SnapshotPath = "./snapshots.db"
	}
	if config.GitHub.RebaseLookback == 0 {
		config.GitHub.RebaseLookback = DefaultRebaseLookback
	}

	apps := make(map[string]*App)
	for name, appConfig := range config.Applications {
		errors := ValidateAppConfig(name, appConfig)
		if len(errors) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for application '%s':\n%s",
				name, strings.Join(errors, "\n"))
		}

		repo, err := verification.ParseRepository(appConfig.Repository)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid repository for application '%s': %w", name, err)
		}

		baseBranch := appConfig.BaseBranch
		if baseBranch == "" {
			baseBranch = DefaultBaseBranch
		}

		environments := appConfig.Environments
		if len(environments) == 0 {
			environments = []string{"production"}
		}

		var auditStartYear *int
		if appConfig.AuditStartYear > 0 {
			year := appConfig.AuditStartYear
			auditStartYear = &year
		}

		mode := verification.ImplicitApprovalMode(appConfig.ImplicitApproval)
		if appConfig.ImplicitApproval == "" {
			mode = verification.ImplicitOff
		}

		autoBaseline := true
		if appConfig.AutoBaseline != nil {
			autoBaseline = *appConfig.AutoBaseline
		}

		apps[name] = &App{
			Name:             name,
			Repository:       repo,
			BaseBranch:       baseBranch,
			Environments:     environments,
			AuditStartYear:   auditStartYear,
			ImplicitApproval: mode,
			AutoBaseline:     autoBaseline,
		}
	}

	return &config, apps, nil
}

// ValidateAppConfig validates a single application configuration
func ValidateAppConfig(name string, config AppConfig) []string {
	var errors []string

	if config.Repository == "" {
		errors = append(errors, fmt.Sprintf("  - Application '%s': missing required 'repository' field", name))
	} else if strings.Count(config.Repository, "/") != 1 ||
		strings.HasPrefix(config.Repository, "/") ||
		strings.HasSuffix(config.Repository, "/") {
		errors = append(errors, fmt.Sprintf("  - Application '%s': repository must be 'owner/name', got '%s'",
			name, config.Repository))
	}

	if config.AuditStartYear < 0 {
		errors = append(errors, fmt.Sprintf("  - Application '%s': audit_start_year must be a positive year, got %d",
			name, config.AuditStartYear))
	}

	switch verification.ImplicitApprovalMode(config.ImplicitApproval) {
	case "", verification.ImplicitOff, verification.ImplicitDependabotOnly, verification.ImplicitAll:
	default:
		errors = append(errors, fmt.Sprintf("  - Application '%s': implicit_approval must be one of off, dependabot_only, all, got '%s'",
			name, config.ImplicitApproval))
	}

	if branch := config.BaseBranch; strings.HasPrefix(branch, "-") {
		errors = append(errors, fmt.Sprintf("  - Application '%s': branch name cannot start with '-', got '%s'",
			name, branch))
	}

	for i, env := range config.Environments {
		if strings.TrimSpace(env) == "" {
			errors = append(errors, fmt.Sprintf("  - Application '%s': environments[%d] is empty", name, i))
		}
	}

	return errors
}
