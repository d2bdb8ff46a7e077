package advisory

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a single named, prioritized test against an enriched record.
// Evaluate must be a pure function of its input: given a record it returns a
// Decision when the rule applies, nil when it does not, and an error only for
// a genuine evaluation defect. Lower priority numbers are evaluated first.
type Rule interface {
	ID() string
	Priority() int
	ReasonCode() string
	Evaluate(rec Record) (*Decision, error)
}

// ruleInfo carries the identity shared by every rule implementation.
type ruleInfo struct {
	id         string
	priority   int
	reasonCode string
}

func (r ruleInfo) ID() string         { return r.id }
func (r ruleInfo) Priority() int      { return r.priority }
func (r ruleInfo) ReasonCode() string { return r.reasonCode }

// DefaultRules returns the default rule chain. The set is closed and
// registered here in priority order; the engine re-sorts defensively at
// construction so insertion order is not load-bearing.
func DefaultRules() []Rule {
	return []Rule{
		CsvOverrideRule{ruleInfo{"R0", 0, "CSV_OVERRIDE"}},
		NvdRejectedRule{ruleInfo{"R1", 1, "NVD_REJECTED"}},
		UpstreamFixRule{ruleInfo{"R2", 2, "UPSTREAM_FIX"}},
		UnderInvestigationRule{ruleInfo{"R5", 5, "NEW_CVE"}},
		PendingUpstreamRule{ruleInfo{"R6", 6, "AWAITING_FIX"}},
	}
}

// CsvOverrideRule matches advisories the internal security team has marked
// not applicable via the override CSV. Highest priority: an analyst override
// beats every upstream signal.
type CsvOverrideRule struct{ ruleInfo }

// Evaluate implements Rule.
func (r CsvOverrideRule) Evaluate(rec Record) (*Decision, error) {
	if rec.String("override_status") != "not_applicable" {
		return nil, nil
	}

	reason := rec.String("override_reason")
	if reason == "" {
		reason = "Internal policy"
	}
	updated := calendarDate(rec.String("csv_updated_at"))

	return &Decision{
		State:      StateNotApplicable,
		StateType:  TypeFinal,
		Confidence: ConfidenceHigh,
		ReasonCode: r.reasonCode,
		Evidence: map[string]any{
			"csv_override":   rec.String("override_status"),
			"csv_reason":     reason,
			"csv_updated_at": rec.String("csv_updated_at"),
		},
		Explanation: fmt.Sprintf(
			"Marked as not applicable by Echo security team. Reason: %s. Updated: %s.",
			reason, updated,
		),
		// This rule records an internal-team action, not a multi-source
		// consensus, so the source list is fixed.
		ContributingSources: []string{"echo_csv"},
		DissentingSources:   []string{},
	}, nil
}

// NvdRejectedRule matches CVEs the National Vulnerability Database has
// formally rejected.
type NvdRejectedRule struct{ ruleInfo }

// Evaluate implements Rule.
func (r NvdRejectedRule) Evaluate(rec Record) (*Decision, error) {
	if !rec.Bool("is_rejected") {
		return nil, nil
	}

	return &Decision{
		State:      StateNotApplicable,
		StateType:  TypeFinal,
		Confidence: ConfidenceHigh,
		ReasonCode: r.reasonCode,
		Evidence: map[string]any{
			"is_rejected":          true,
			"nvd_rejection_status": rec.String("nvd_rejection_status"),
		},
		Explanation:         "This CVE has been rejected by the National Vulnerability Database.",
		ContributingSources: []string{"nvd"},
		DissentingSources:   []string{},
	}, nil
}

// UpstreamFixRule matches advisories where a fix is available and a concrete
// fixed version is known.
type UpstreamFixRule struct{ ruleInfo }

// Evaluate implements Rule.
func (r UpstreamFixRule) Evaluate(rec Record) (*Decision, error) {
	fixedVersion := rec.String("fixed_version")
	if !rec.Bool("fix_available") || fixedVersion == "" {
		return nil, nil
	}

	return &Decision{
		State:        StateFixed,
		StateType:    TypeFinal,
		FixedVersion: fixedVersion,
		Confidence:   ConfidenceHigh,
		ReasonCode:   r.reasonCode,
		Evidence: map[string]any{
			"fix_available":     true,
			"fixed_version":     fixedVersion,
			"osv_fixed_version": rec.String("osv_fixed_version"),
		},
		Explanation:         fmt.Sprintf("Fixed in version %s. Fix available from upstream.", fixedVersion),
		ContributingSources: sourcesOrEmpty(rec),
		DissentingSources:   []string{},
	}, nil
}

// UnderInvestigationRule matches recently published advisories with no
// substantive signals yet.
type UnderInvestigationRule struct{ ruleInfo }

// Evaluate implements Rule.
func (r UnderInvestigationRule) Evaluate(rec Record) (*Decision, error) {
	if rec.Bool("has_signal") {
		return nil, nil
	}

	return &Decision{
		State:      StateUnderInvestigation,
		StateType:  TypeNonFinal,
		Confidence: ConfidenceLow,
		ReasonCode: r.reasonCode,
		Evidence: map[string]any{
			"has_signal":   false,
			"source_count": rec.Int("source_count"),
		},
		Explanation:         "Recently published CVE under analysis. Awaiting upstream signals.",
		ContributingSources: sourcesOrEmpty(rec),
		DissentingSources:   []string{},
	}, nil
}

// PendingUpstreamRule is the catch-all: the advisory is acknowledged but no
// fix exists yet. Always matches.
type PendingUpstreamRule struct{ ruleInfo }

// Evaluate implements Rule.
func (r PendingUpstreamRule) Evaluate(rec Record) (*Decision, error) {
	sources := sourcesOrEmpty(rec)

	consulted := "none"
	if len(sources) > 0 {
		consulted = strings.Join(sources, ", ")
	}

	return &Decision{
		State:      StatePendingUpstream,
		StateType:  TypeNonFinal,
		Confidence: ConfidenceMedium,
		ReasonCode: r.reasonCode,
		Evidence: map[string]any{
			"fix_available": false,
			"cvss_score":    rec.Float("cvss_score"),
			"source_count":  rec.Int("source_count"),
		},
		Explanation: fmt.Sprintf(
			"No fix currently available upstream. Monitoring for updates. Sources consulted: %s.",
			consulted,
		),
		ContributingSources: sources,
		DissentingSources:   []string{},
	}, nil
}

func sourcesOrEmpty(rec Record) []string {
	if s := rec.Sources(); s != nil {
		return s
	}
	return []string{}
}

// calendarDate reduces an ISO-8601 timestamp to its calendar date, returning
// "unknown date" when the value is empty or unparseable.
func calendarDate(s string) string {
	if s == "" {
		return "unknown date"
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return "unknown date"
}
