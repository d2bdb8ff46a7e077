// Package quality runs data quality checks over the current advisory states.
package quality

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

// maxDetails caps the offending advisory ids attached to a failed check so a
// mass failure does not balloon the report.
const maxDetails = 20

// defaultStalledLimit is the number of stalled non-final advisories tolerated
// before the stall check fails. A slow upstream is normal for a handful of
// advisories; only a pile-up signals a data problem.
const defaultStalledLimit = 10

var cveRe = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// StateSource is the slice of the store the checker needs.
type StateSource interface {
	CurrentStates(ctx context.Context) ([]advisory.Version, error)
}

// Result is the outcome of one check.
type Result struct {
	Check   string   `json:"check"`
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Report is the outcome of a full checker run.
type Report struct {
	GeneratedAt   time.Time `json:"generated_at"`
	AdvisoryCount int       `json:"advisory_count"`
	Passed        bool      `json:"passed"`
	Results       []Result  `json:"results"`
}

// Checker validates the current state set against the pipeline's data
// contract. Checks are advisory quality gates, not write-path validation:
// they run after the fact and report, never block.
type Checker struct {
	source       StateSource
	stalledAfter time.Duration
	stalledLimit int
	logger       log.Logger
}

// New creates a checker. stalledAfter bounds how long a non-final state may
// sit unchanged before it counts as stalled; stalledLimit is how many stalled
// advisories the stall check tolerates before failing. A non-positive limit
// uses the default.
func New(source StateSource, stalledAfter time.Duration, stalledLimit int, logger log.Logger) *Checker {
	if stalledLimit <= 0 {
		stalledLimit = defaultStalledLimit
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Checker{
		source:       source,
		stalledAfter: stalledAfter,
		stalledLimit: stalledLimit,
		logger:       logger,
	}
}

// Run executes every check against the current states and returns the report.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	states, err := c.source.CurrentStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current states: %w", err)
	}

	report := &Report{
		GeneratedAt:   time.Now().UTC(),
		AdvisoryCount: len(states),
		Passed:        true,
	}

	checks := []func([]advisory.Version) Result{
		checkNoNullStates,
		checkExplanationCompleteness,
		checkFixedHasVersion,
		checkCVEFormat,
		c.checkStalledNonFinal,
	}
	for _, check := range checks {
		r := check(states)
		if !r.Passed {
			report.Passed = false
			c.logger.Warn(ctx, "quality check failed",
				"check", r.Check,
				"message", r.Message,
			)
		}
		report.Results = append(report.Results, r)
	}

	return report, nil
}

func checkNoNullStates(states []advisory.Version) Result {
	var offenders []string
	for _, v := range states {
		if v.State == "" || v.ReasonCode == "" || v.Confidence == "" {
			offenders = append(offenders, v.AdvisoryID)
		}
	}
	return result("no_null_states", offenders,
		"every advisory has a state, reason code, and confidence",
		"%d advisories missing state, reason code, or confidence")
}

func checkExplanationCompleteness(states []advisory.Version) Result {
	var offenders []string
	for _, v := range states {
		if v.Explanation == "" {
			offenders = append(offenders, v.AdvisoryID)
		}
	}
	return result("explanation_completeness", offenders,
		"every advisory has an explanation",
		"%d advisories without an explanation")
}

func checkFixedHasVersion(states []advisory.Version) Result {
	var offenders []string
	for _, v := range states {
		if v.State == advisory.StateFixed && v.FixedVersion == "" {
			offenders = append(offenders, v.AdvisoryID)
		}
	}
	return result("fixed_has_version", offenders,
		"every fixed advisory carries a fixed version",
		"%d fixed advisories without a fixed version")
}

func checkCVEFormat(states []advisory.Version) Result {
	var offenders []string
	for _, v := range states {
		if v.CVEID != "" && !cveRe.MatchString(v.CVEID) {
			offenders = append(offenders, v.AdvisoryID)
		}
	}
	return result("cve_id_format", offenders,
		"every CVE id matches CVE-YYYY-NNNN",
		"%d advisories with a malformed CVE id")
}

// checkStalledNonFinal tolerates up to stalledLimit-1 stalled advisories: a
// few advisories legitimately wait on a slow upstream, so only the count
// reaching the limit fails the check.
func (c *Checker) checkStalledNonFinal(states []advisory.Version) Result {
	cutoff := time.Now().UTC().Add(-c.stalledAfter)

	var offenders []string
	for _, v := range states {
		if v.StateType == advisory.TypeNonFinal && v.EffectiveFrom.Before(cutoff) {
			offenders = append(offenders, v.AdvisoryID)
		}
	}
	if len(offenders) < c.stalledLimit {
		return Result{
			Check:   "stalled_non_final",
			Passed:  true,
			Message: fmt.Sprintf("%d non-final advisories older than %s (limit %d)", len(offenders), c.stalledAfter, c.stalledLimit),
		}
	}

	details := offenders
	if len(details) > maxDetails {
		details = details[:maxDetails]
	}
	return Result{
		Check:   "stalled_non_final",
		Passed:  false,
		Message: fmt.Sprintf("%d non-final advisories unchanged beyond the stall threshold (limit %d)", len(offenders), c.stalledLimit),
		Details: details,
	}
}

func result(check string, offenders []string, okMsg, failMsg string) Result {
	if len(offenders) == 0 {
		return Result{Check: check, Passed: true, Message: okMsg}
	}
	details := offenders
	if len(details) > maxDetails {
		details = details[:maxDetails]
	}
	return Result{
		Check:   check,
		Passed:  false,
		Message: fmt.Sprintf(failMsg, len(offenders)),
		Details: details,
	}
}
