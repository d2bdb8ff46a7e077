package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	TemplatesPath         string
	StatesPath            string
	AllowRegression       bool
	BatchWorkers          int
	StalledAfterDays      int
	StalledLimit          int
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.TemplatesPath, "templates-path", "", "YAML file overriding explanation templates (empty = built-in)")
	fs.StringVar(&c.StatesPath, "states-path", "", "YAML file overriding the final/non-final state partition (empty = built-in)")
	fs.BoolVar(&c.AllowRegression, "allow-regression", false, "apply final-to-non-final transitions instead of rejecting them")
	fs.IntVar(&c.BatchWorkers, "batch-workers", 8, "concurrent workers per batch evaluation (1..64)")
	fs.IntVar(&c.StalledAfterDays, "stalled-after-days", 90, "days before a non-final state counts as stalled (1..365)")
	fs.IntVar(&c.StalledLimit, "stalled-limit", 10, "stalled non-final advisories tolerated before the quality check fails (1..10000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for state change notifications")
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

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// API token is required: the API mutates advisory state
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.BatchWorkers <= 0 || c.BatchWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid BATCH_WORKERS %d (must be 1..64)", c.BatchWorkers))
	}

	if c.StalledAfterDays <= 0 || c.StalledAfterDays > 365 {
		errs = append(errs, fmt.Errorf("invalid STALLED_AFTER_DAYS %d (must be 1..365)", c.StalledAfterDays))
	}

	if c.StalledLimit <= 0 || c.StalledLimit > 10000 {
		errs = append(errs, fmt.Errorf("invalid STALLED_LIMIT %d (must be 1..10000)", c.StalledLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
