package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Config holds the application settings. It satisfies the go-core
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	AnalysisURL           string
	ElevenLabsAPIKey      string
	ElevenLabsAgentID     string
	ElevenLabsURL         string
	DefaultPhone          string
	SeedFile              string
	WatchSeeds            bool
	DatabaseURL           string
	AuditBuffer           int
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude analysis provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.AnalysisURL, "analysis-url", "", "remote analysis endpoint (replaces the in-process Claude analyzer)")
	fs.StringVar(&c.ElevenLabsAPIKey, "elevenlabs-api-key", "", "ElevenLabs API key (empty = simulated voice calls)")
	fs.StringVar(&c.ElevenLabsAgentID, "elevenlabs-agent-id", "", "ElevenLabs conversational agent ID")
	fs.StringVar(&c.ElevenLabsURL, "elevenlabs-url", "", "ElevenLabs conversation endpoint override")
	fs.StringVar(&c.DefaultPhone, "default-phone", "", "phone number used when a voice call request carries none")
	fs.StringVar(&c.SeedFile, "seed-alerts-file", "", "YAML file with seed alerts (empty = built-in seeds)")
	fs.BoolVar(&c.WatchSeeds, "watch-seed-alerts", false, "add new alerts appearing in the seed file while running")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the audit trail (empty = no audit trail)")
	fs.IntVar(&c.AuditBuffer, "audit-buffer", 256, "audit events buffered before dropping (1..65536)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for confirmation requests")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// One analyzer must be configured: remote endpoint or Claude.
	if c.AnalysisURL == "" {
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY or ANALYSIS_URL is required"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	}

	for name, v := range map[string]string{
		"ANALYSIS_URL":      c.AnalysisURL,
		"ELEVENLABS_URL":    c.ElevenLabsURL,
		"SLACK_WEBHOOK_URL": c.SlackWebhookURL,
	} {
		if err := checkURL(v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}

	if c.WatchSeeds && c.SeedFile == "" {
		errs = append(errs, errors.New("WATCH_SEED_ALERTS requires SEED_ALERTS_FILE"))
	}

	if c.AuditBuffer <= 0 || c.AuditBuffer > 65536 {
		errs = append(errs, fmt.Errorf("invalid AUDIT_BUFFER %d (must be 1..65536)", c.AuditBuffer))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// checkURL accepts empty or absolute http(s) URLs.
func checkURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}
