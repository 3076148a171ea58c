// Package config provides centralized configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Env     string
	Sync    SyncSettings
	Jira    JiraSettings
	Tracker TrackerSettings
	Worker  WorkerSettings
	Server  ServerSettings
	Store   StoreSettings
}

// SyncSettings defines when a save event triggers synchronization. These
// values have no defaults; synchronization stays inert until all of them are
// configured.
type SyncSettings struct {
	// Enabled is the global switch. Disabled means events are ignored.
	Enabled bool

	// AcceptedStatus is the host status identifier whose edge transition
	// fires the trigger.
	AcceptedStatus string

	// RequiredRole is the role the saving actor must hold in the item's
	// project.
	RequiredRole string

	// SummaryTemplate renders the external issue summary. It is evaluated at
	// job-processing time with {{.ID}} and {{.Title}} of the work item.
	SummaryTemplate string
}

// JiraSettings holds credentials and targeting for the external Jira site.
type JiraSettings struct {
	BaseURL    string
	Email      string
	APIToken   string
	ProjectKey string
	IssueType  string
}

// TrackerSettings holds the host tracker API endpoint used for write-back.
type TrackerSettings struct {
	BaseURL string
	Token   string
}

// WorkerSettings tunes the background queue workers.
type WorkerSettings struct {
	Count             int
	MaxAttempts       int
	PollInterval      time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	RequestTimeout    time.Duration
	ProcessingTimeout time.Duration
	ReclaimInterval   time.Duration
}

// ServerSettings tunes the HTTP intake endpoint.
type ServerSettings struct {
	ListenAddr   string
	WebhookToken string
}

// StoreSettings locates the durable job store.
type StoreSettings struct {
	Path string
}

// loadDotenv makes a local .env file visible outside production. Values
// already present in the process environment win.
var loadDotenv = sync.OnceFunc(func() {
	if strings.ToLower(os.Getenv("SOLDER_ENV")) != "production" {
		_ = godotenv.Load()
	}
})

// LoadConfig initializes and loads configuration from environment variables.
// It is cheap and reads the environment fresh on every call, so callers that
// need snapshot semantics simply call it again.
func LoadConfig() (*Config, error) {
	loadDotenv()

	// Initialize Viper for environment variables
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("env", "SOLDER_ENV")
	v.BindEnv("sync.enabled", "SYNC_ENABLED")
	v.BindEnv("sync.accepted_status", "SYNC_ACCEPTED_STATUS")
	v.BindEnv("sync.required_role", "SYNC_REQUIRED_ROLE")
	v.BindEnv("sync.summary_template", "SYNC_SUMMARY_TEMPLATE")
	v.BindEnv("jira.url", "JIRA_URL")
	v.BindEnv("jira.email", "JIRA_EMAIL")
	v.BindEnv("jira.api_token", "JIRA_API_TOKEN")
	v.BindEnv("jira.project_key", "JIRA_PROJECT_KEY")
	v.BindEnv("jira.issue_type", "JIRA_ISSUE_TYPE")
	v.BindEnv("tracker.url", "TRACKER_API_URL")
	v.BindEnv("tracker.token", "TRACKER_API_TOKEN")
	v.BindEnv("worker.count", "WORKER_COUNT")
	v.BindEnv("worker.max_attempts", "WORKER_MAX_ATTEMPTS")
	v.BindEnv("worker.poll_interval", "WORKER_POLL_INTERVAL")
	v.BindEnv("worker.backoff_base", "WORKER_BACKOFF_BASE")
	v.BindEnv("worker.backoff_cap", "WORKER_BACKOFF_CAP")
	v.BindEnv("worker.request_timeout", "WORKER_REQUEST_TIMEOUT")
	v.BindEnv("worker.processing_timeout", "WORKER_PROCESSING_TIMEOUT")
	v.BindEnv("worker.reclaim_interval", "WORKER_RECLAIM_INTERVAL")
	v.BindEnv("server.listen_addr", "SOLDER_LISTEN_ADDR")
	v.BindEnv("server.webhook_token", "SOLDER_WEBHOOK_TOKEN")
	v.BindEnv("store.path", "SOLDER_DB_PATH")

	// Operational knobs get defaults. The sync-defining values deliberately
	// do not: a half-configured sync must stay inert, never guess.
	v.SetDefault("env", "development")
	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.backoff_base", "30s")
	v.SetDefault("worker.backoff_cap", "1h")
	v.SetDefault("worker.request_timeout", "30s")
	v.SetDefault("worker.processing_timeout", "5m")
	v.SetDefault("worker.reclaim_interval", "1m")
	v.SetDefault("server.listen_addr", ":8458")
	v.SetDefault("store.path", "solder.db")

	// Create config structure
	config := &Config{
		Env: v.GetString("env"),
		Sync: SyncSettings{
			Enabled:         v.GetBool("sync.enabled"),
			AcceptedStatus:  v.GetString("sync.accepted_status"),
			RequiredRole:    v.GetString("sync.required_role"),
			SummaryTemplate: v.GetString("sync.summary_template"),
		},
		Jira: JiraSettings{
			BaseURL:    v.GetString("jira.url"),
			Email:      v.GetString("jira.email"),
			APIToken:   v.GetString("jira.api_token"),
			ProjectKey: v.GetString("jira.project_key"),
			IssueType:  v.GetString("jira.issue_type"),
		},
		Tracker: TrackerSettings{
			BaseURL: v.GetString("tracker.url"),
			Token:   v.GetString("tracker.token"),
		},
		Worker: WorkerSettings{
			Count:             v.GetInt("worker.count"),
			MaxAttempts:       v.GetInt("worker.max_attempts"),
			PollInterval:      v.GetDuration("worker.poll_interval"),
			BackoffBase:       v.GetDuration("worker.backoff_base"),
			BackoffCap:        v.GetDuration("worker.backoff_cap"),
			RequestTimeout:    v.GetDuration("worker.request_timeout"),
			ProcessingTimeout: v.GetDuration("worker.processing_timeout"),
			ReclaimInterval:   v.GetDuration("worker.reclaim_interval"),
		},
		Server: ServerSettings{
			ListenAddr:   v.GetString("server.listen_addr"),
			WebhookToken: v.GetString("server.webhook_token"),
		},
		Store: StoreSettings{
			Path: v.GetString("store.path"),
		},
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig ensures the operational knobs are usable. Sync-defining
// values are checked separately by MissingForSync so a bare deployment can
// still run the server and the operator commands.
func validateConfig(config *Config) error {
	var invalid []string

	if config.Worker.Count < 1 {
		invalid = append(invalid, "WORKER_COUNT")
	}
	if config.Worker.MaxAttempts < 1 {
		invalid = append(invalid, "WORKER_MAX_ATTEMPTS")
	}
	if config.Worker.PollInterval <= 0 {
		invalid = append(invalid, "WORKER_POLL_INTERVAL")
	}
	if config.Worker.BackoffBase <= 0 {
		invalid = append(invalid, "WORKER_BACKOFF_BASE")
	}
	if config.Worker.BackoffCap < config.Worker.BackoffBase {
		invalid = append(invalid, "WORKER_BACKOFF_CAP")
	}
	if config.Worker.RequestTimeout <= 0 {
		invalid = append(invalid, "WORKER_REQUEST_TIMEOUT")
	}
	if config.Worker.ProcessingTimeout <= 0 {
		invalid = append(invalid, "WORKER_PROCESSING_TIMEOUT")
	}
	if config.Worker.ReclaimInterval <= 0 {
		invalid = append(invalid, "WORKER_RECLAIM_INTERVAL")
	}
	if config.Store.Path == "" {
		invalid = append(invalid, "SOLDER_DB_PATH")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration values: %v", invalid)
	}

	return nil
}

// MissingForSync returns the environment variable names that must be set
// before a save event can fire, in a stable order. Empty means ready.
func (c *Config) MissingForSync() []string {
	var missing []string

	if c.Sync.AcceptedStatus == "" {
		missing = append(missing, "SYNC_ACCEPTED_STATUS")
	}
	if c.Sync.RequiredRole == "" {
		missing = append(missing, "SYNC_REQUIRED_ROLE")
	}
	if c.Sync.SummaryTemplate == "" {
		missing = append(missing, "SYNC_SUMMARY_TEMPLATE")
	}
	if c.Jira.BaseURL == "" {
		missing = append(missing, "JIRA_URL")
	}
	if c.Jira.Email == "" {
		missing = append(missing, "JIRA_EMAIL")
	}
	if c.Jira.APIToken == "" {
		missing = append(missing, "JIRA_API_TOKEN")
	}
	if c.Jira.ProjectKey == "" {
		missing = append(missing, "JIRA_PROJECT_KEY")
	}
	if c.Jira.IssueType == "" {
		missing = append(missing, "JIRA_ISSUE_TYPE")
	}
	if c.Tracker.BaseURL == "" {
		missing = append(missing, "TRACKER_API_URL")
	}
	if c.Tracker.Token == "" {
		missing = append(missing, "TRACKER_API_TOKEN")
	}

	return missing
}

// SyncReady reports whether every sync-defining value is present.
func (c *Config) SyncReady() bool {
	return len(c.MissingForSync()) == 0
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Env) == "production"
}

// Provider yields configuration snapshots. The engine takes one snapshot per
// trigger evaluation and workers take one per job attempt, so credential and
// template edits apply to everything not yet succeeded.
type Provider interface {
	Snapshot() (*Config, error)
}

// EnvProvider re-reads the process environment on every snapshot.
type EnvProvider struct{}

// Snapshot implements Provider.
func (EnvProvider) Snapshot() (*Config, error) {
	return LoadConfig()
}

// StaticProvider always returns the same configuration. Intended for tests.
type StaticProvider struct {
	Config *Config
}

// Snapshot implements Provider.
func (p StaticProvider) Snapshot() (*Config, error) {
	return p.Config, nil
}
