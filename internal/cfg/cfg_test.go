package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIToken:              "test-token-123",
		BatchWorkers:          8,
		StalledAfterDays:      90,
		StalledLimit:          10,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.BatchWorkers != 8 {
		t.Errorf("BatchWorkers = %d, want 8", c.BatchWorkers)
	}
	if c.StalledAfterDays != 90 {
		t.Errorf("StalledAfterDays = %d, want 90", c.StalledAfterDays)
	}
	if c.StalledLimit != 10 {
		t.Errorf("StalledLimit = %d, want 10", c.StalledLimit)
	}
	if c.AllowRegression {
		t.Error("AllowRegression = true, want false by default")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-api-token", "tok-override",
		"-database-url", "postgres://localhost/verdict",
		"-allow-regression",
		"-batch-workers", "16",
		"-stalled-after-days", "30",
		"-stalled-limit", "25",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.APIToken != "tok-override" {
		t.Errorf("APIToken = %q, want %q", c.APIToken, "tok-override")
	}
	if c.DatabaseURL != "postgres://localhost/verdict" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if !c.AllowRegression {
		t.Error("AllowRegression = false, want true")
	}
	if c.BatchWorkers != 16 {
		t.Errorf("BatchWorkers = %d, want 16", c.BatchWorkers)
	}
	if c.StalledAfterDays != 30 {
		t.Errorf("StalledAfterDays = %d, want 30", c.StalledAfterDays)
	}
	if c.StalledLimit != 25 {
		t.Errorf("StalledLimit = %d, want 25", c.StalledLimit)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				APIToken: "t", BatchWorkers: 1, StalledAfterDays: 1, StalledLimit: 1,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				APIToken: "t", BatchWorkers: 64, StalledAfterDays: 365, StalledLimit: 10000,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 90, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       Config{DrainSeconds: -1, ShutdownBudgetSeconds: 90, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       Config{DrainSeconds: 301, ShutdownBudgetSeconds: 302, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     Config{DrainSeconds: 300, ShutdownBudgetSeconds: 300, APIPort: 8080},
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 0, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 301, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 60, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "budget less than drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 30, APIPort: 8080},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 0},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 65536},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Required and bounded fields
		{
			name: "empty api token",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "", BatchWorkers: 8, StalledAfterDays: 90,
			},
			wantErr:   true,
			errSubstr: []string{"API_TOKEN"},
		},
		{
			name: "workers zero",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "t", BatchWorkers: 0, StalledAfterDays: 90,
			},
			wantErr:   true,
			errSubstr: []string{"BATCH_WORKERS"},
		},
		{
			name: "workers above max",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "t", BatchWorkers: 65, StalledAfterDays: 90,
			},
			wantErr:   true,
			errSubstr: []string{"BATCH_WORKERS"},
		},
		{
			name: "stalled days zero",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "t", BatchWorkers: 8, StalledAfterDays: 0, StalledLimit: 10,
			},
			wantErr:   true,
			errSubstr: []string{"STALLED_AFTER_DAYS"},
		},
		{
			name: "stalled limit zero",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "t", BatchWorkers: 8, StalledAfterDays: 90, StalledLimit: 0,
			},
			wantErr:   true,
			errSubstr: []string{"STALLED_LIMIT"},
		},
		{
			name: "stalled limit above max",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				APIToken: "t", BatchWorkers: 8, StalledAfterDays: 90, StalledLimit: 10001,
			},
			wantErr:   true,
			errSubstr: []string{"STALLED_LIMIT"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 0, APIPort: 0},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "API_TOKEN", "BATCH_WORKERS", "STALLED_AFTER_DAYS", "STALLED_LIMIT"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, workers, stalled, limit int
		token                                        string
	}{
		{60, 90, 8080, 8, 90, 10, "tok"},
		{1, 2, 1, 1, 1, 1, "t"},
		{299, 300, 65535, 64, 365, 10000, "t"},
		{0, 0, 0, 0, 0, 0, ""},
		{-1, -1, -1, -1, -1, -1, ""},
		{300, 300, 65535, 8, 90, 10, "t"},
		{301, 302, 65536, 65, 366, 10001, ""},
		{150, 100, 8080, 8, 90, 10, "t"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.workers, s.stalled, s.limit, s.token)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, workers, stalled, limit int, token string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			APIToken:              token,
			BatchWorkers:          workers,
			StalledAfterDays:      stalled,
			StalledLimit:          limit,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		tokenOK := token != ""
		workersOK := workers >= 1 && workers <= 64
		stalledOK := stalled >= 1 && stalled <= 365
		limitOK := limit >= 1 && limit <= 10000

		allValid := drainOK && budgetOK && portOK && crossOK && tokenOK && workersOK && stalledOK && limitOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
