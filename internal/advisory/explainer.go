package advisory

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"
)

// placeholderRe matches {variable} placeholders in explanation templates.
var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// templateDefaults fills recognized template variables that the evidence did
// not supply, so a sparse evidence map still renders a complete sentence.
var templateDefaults = map[string]string{
	"csv_reason":           "Internal policy",
	"csv_updated_at":       "unknown date",
	"nvd_rejection_reason": "Not specified",
	"fixed_version":        "unknown",
	"fix_source":           "upstream",
	"fix_url":              "Not available",
	"first_seen":           "unknown",
	"last_checked":         "unknown",
	"sources_list":         "none",
	"error":                "Unknown error",
}

// DefaultTemplates returns the built-in explanation templates keyed by
// reason code.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"CSV_OVERRIDE": "Marked as not applicable by Echo security team. " +
			"Reason: {csv_reason}. Updated: {csv_updated_at}.",
		"NVD_REJECTED": "This CVE has been rejected by the National Vulnerability Database.",
		"UPSTREAM_FIX": "Fixed in version {fixed_version}. Fix available from upstream.",
		"NEW_CVE":      "Recently published CVE under analysis. Awaiting upstream signals.",
		"AWAITING_FIX": "No fix currently available upstream. Sources consulted: {sources_list}.",
		"ERROR":        "Unable to determine status. Error: {error}",
		"DEFAULT":      "Status determined by enrichment pipeline.",
	}
}

// LoadTemplates reads a reason_code -> template mapping from a YAML file and
// overlays it on the defaults, so a partial file only overrides what it
// names.
func LoadTemplates(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	templates := DefaultTemplates()
	for code, tmpl := range overrides {
		templates[code] = tmpl
	}
	return templates, nil
}

// Explainer renders a decision's reason code and evidence into a
// customer-facing sentence. It is independent of decisioning: callers key it
// by reason code, and it never fails - malformed evidence downgrades to a
// generic sentence with a warning.
type Explainer struct {
	templates map[string]string
	logger    log.Logger
}

// NewExplainer creates an explainer. A nil template map uses the defaults.
func NewExplainer(templates map[string]string, logger log.Logger) *Explainer {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Explainer{templates: templates, logger: logger}
}

// Explain renders the template for reasonCode using evidence-derived values.
// Unknown reason codes use the DEFAULT template; a template variable still
// missing after defaulting falls back to a generic sentence.
func (e *Explainer) Explain(ctx context.Context, reasonCode string, evidence map[string]any, fixedVersion string) string {
	template, ok := e.templates[reasonCode]
	if !ok {
		template = e.templates["DEFAULT"]
	}

	values := prepareValues(evidence, fixedVersion)

	missing := ""
	rendered := placeholderRe.ReplaceAllStringFunc(template, func(ph string) string {
		key := ph[1 : len(ph)-1]
		if v, ok := values[key]; ok {
			return v
		}
		missing = key
		return ph
	})

	if missing != "" {
		e.logger.Warn(ctx, "missing template variable",
			"variable", missing,
			"reason_code", reasonCode,
		)
		state := "unknown"
		if s, ok := evidence["state"].(string); ok && s != "" {
			state = s
		}
		return fmt.Sprintf("Advisory classified as %s. Reason: %s.", state, reasonCode)
	}

	return strings.TrimSpace(rendered)
}

// ExplanationContext bundles a rendered explanation with selected decision
// metadata for callers that want both.
type ExplanationContext struct {
	Explanation         string   `json:"explanation"`
	ReasonCode          string   `json:"reason_code"`
	Confidence          string   `json:"confidence"`
	AppliedRule         string   `json:"applied_rule"`
	SourceCount         int      `json:"source_count"`
	ContributingSources []string `json:"contributing_sources"`
}

// ExplainWithContext renders the explanation and attaches evidence metadata.
func (e *Explainer) ExplainWithContext(ctx context.Context, reasonCode string, evidence map[string]any, fixedVersion string) *ExplanationContext {
	out := &ExplanationContext{
		Explanation: e.Explain(ctx, reasonCode, evidence, fixedVersion),
		ReasonCode:  reasonCode,
		Confidence:  "unknown",
		AppliedRule: "unknown",
	}

	if v, ok := evidence["confidence"].(string); ok && v != "" {
		out.Confidence = v
	}
	if v, ok := evidence["applied_rule"].(string); ok && v != "" {
		out.AppliedRule = v
	}
	if v, ok := evidence["source_count"]; ok {
		out.SourceCount = Record{"source_count": v}.Int("source_count")
	}
	out.ContributingSources = Record{"contributing_sources": evidence["contributing_sources"]}.Sources()

	return out
}

// prepareValues builds the substitution context: every evidence entry
// stringified (nil becomes "unknown"), ISO-8601 timestamps reduced to
// calendar dates, source lists joined, and built-in defaults merged for all
// recognized variables.
func prepareValues(evidence map[string]any, fixedVersion string) map[string]string {
	values := make(map[string]string, len(evidence)+len(templateDefaults))

	for key, v := range evidence {
		switch val := v.(type) {
		case nil:
			values[key] = "unknown"
		case string:
			values[key] = val
		default:
			values[key] = fmt.Sprint(val)
		}
	}

	if fixedVersion != "" {
		values["fixed_version"] = fixedVersion
	}

	// Reduce anything that parses as a timestamp to its calendar date.
	for key, v := range values {
		if d := calendarDate(v); d != "unknown date" && looksLikeTimestamp(v) {
			values[key] = d
		}
	}
	if v, ok := values["csv_updated_at"]; ok && (v == "" || v == "unknown") {
		values["csv_updated_at"] = "unknown date"
	}

	if raw, ok := evidence["contributing_sources"]; ok {
		sources := Record{"contributing_sources": raw}.Sources()
		if len(sources) > 0 {
			values["sources_list"] = strings.Join(sources, ", ")
		} else {
			values["sources_list"] = "none"
		}
	}

	for key, def := range templateDefaults {
		if _, ok := values[key]; !ok {
			values[key] = def
		}
	}

	return values
}

// looksLikeTimestamp guards date reduction so plain version strings and
// numbers are left alone.
func looksLikeTimestamp(s string) bool {
	return len(s) >= 10 && s[4] == '-' && s[7] == '-'
}
