package advisory

import (
	"encoding/json"
	"strconv"
	"time"
)

// State is the authoritative disposition assigned to an advisory.
type State string

const (
	// StateFixed means a fix is available upstream.
	StateFixed State = "fixed"

	// StateNotApplicable means the advisory does not apply (override or rejection).
	StateNotApplicable State = "not_applicable"

	// StateWontFix means upstream has declined to fix.
	StateWontFix State = "wont_fix"

	// StatePendingUpstream means no fix is available yet.
	StatePendingUpstream State = "pending_upstream"

	// StateUnderInvestigation means the advisory is too new to classify.
	StateUnderInvestigation State = "under_investigation"

	// StateUnknown means evaluation failed and no disposition could be made.
	StateUnknown State = "unknown"
)

// StateType classifies a state as terminal or still evolving.
type StateType string

const (
	TypeFinal    StateType = "final"
	TypeNonFinal StateType = "non_final"
)

// Confidence grades how strong the signals behind a decision are.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Decision is the immutable outcome of evaluating one enriched advisory
// record against the rule chain.
type Decision struct {
	State               State          `json:"state"`
	StateType           StateType      `json:"state_type"`
	FixedVersion        string         `json:"fixed_version,omitempty"`
	Confidence          Confidence     `json:"confidence"`
	ReasonCode          string         `json:"reason_code"`
	Evidence            map[string]any `json:"evidence"`
	Explanation         string         `json:"explanation"`
	ContributingSources []string       `json:"contributing_sources"`
	DissentingSources   []string       `json:"dissenting_sources"`
}

// AppliedRule returns the rule id stamped into evidence by the engine.
func (d *Decision) AppliedRule() string {
	if d == nil || d.Evidence == nil {
		return ""
	}
	if v, ok := d.Evidence["applied_rule"].(string); ok {
		return v
	}
	return ""
}

// Snapshot is a candidate state for an advisory, ready to be versioned by a
// StateStore. It carries the decision fields plus the advisory identity.
type Snapshot struct {
	AdvisoryID          string         `json:"advisory_id"`
	CVEID               string         `json:"cve_id"`
	PackageName         string         `json:"package_name"`
	State               State          `json:"state"`
	StateType           StateType      `json:"state_type"`
	FixedVersion        string         `json:"fixed_version,omitempty"`
	Confidence          Confidence     `json:"confidence"`
	Explanation         string         `json:"explanation"`
	ReasonCode          string         `json:"reason_code"`
	Evidence            map[string]any `json:"evidence"`
	DecisionRule        string         `json:"decision_rule"`
	ContributingSources []string       `json:"contributing_sources"`
	DissentingSources   []string       `json:"dissenting_sources"`
	StalenessScore      float64        `json:"staleness_score"`
}

// Version is one SCD2 history row: a Snapshot plus its validity interval.
// Past versions are immutable; only the row being superseded has its
// EffectiveTo and IsCurrent fields updated, exactly once.
type Version struct {
	Snapshot

	HistoryID     string     `json:"history_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsCurrent     bool       `json:"is_current"`
	RunID         string     `json:"run_id"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StateChanged reports whether candidate differs from the current version on
// the change-relevant fields: state, fixed_version, confidence, reason_code.
// Evidence, explanation text, and source lists are deliberately excluded so
// that evidence-only churn never creates history rows.
func StateChanged(current *Version, candidate *Snapshot) bool {
	if current == nil {
		return true
	}
	return current.State != candidate.State ||
		current.FixedVersion != candidate.FixedVersion ||
		current.Confidence != candidate.Confidence ||
		current.ReasonCode != candidate.ReasonCode
}

// Record is one enriched advisory record as produced by the upstream
// enrichment step. Keys may be absent or loosely typed; accessors are
// tolerant and never panic.
type Record map[string]any

// AdvisoryID returns the stable composite key, or "unknown" when absent.
func (r Record) AdvisoryID() string {
	if id := r.String("advisory_id"); id != "" {
		return id
	}
	return "unknown"
}

// String returns the value for key as a string, or "" when absent or not
// representable. Numeric values are formatted, everything else is dropped.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Bool returns the value for key as a bool, defaulting to false.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// Float returns the value for key as a float64, defaulting to 0.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Int returns the value for key as an int, defaulting to 0.
func (r Record) Int(key string) int {
	return int(r.Float(key))
}

// Sources returns the record's declared contributing sources. Accepts a
// []string, a []any of strings, or a JSON-encoded string of either; anything
// else yields an empty list.
func (r Record) Sources() []string {
	switch v := r["contributing_sources"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}
