package advisory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrNoMatchingRule is returned when no rule produced a decision. With the
// catch-all rule registered this indicates a configuration defect, not a
// property of the record.
var ErrNoMatchingRule = xerrors.New("no rule matched")

// batchWorkers bounds concurrent rule evaluation in DecideBatch. Decisioning
// is pure and CPU-bound, so a small pool is enough.
const batchWorkers = 8

// Engine applies a fixed rule chain to enriched advisory records in priority
// order and returns the first match. Evaluation is deterministic: the same
// record always yields the same state, reason code, and confidence.
type Engine struct {
	rules  []Rule
	logger log.Logger
}

// NewEngine creates an engine over the given rules, sorted by ascending
// priority at construction. A nil or empty rule list falls back to
// DefaultRules.
func NewEngine(rules []Rule, logger log.Logger) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = log.Nop()
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Engine{rules: sorted, logger: logger}
}

// Rules returns the rule chain in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Decide evaluates the rule chain against a record and returns the first
// matching decision, stamped with the rule that applied. A single rule's
// evaluation error is logged and treated as a non-match; only the absence of
// any match is an error.
func (e *Engine) Decide(ctx context.Context, rec Record) (*Decision, error) {
	advisoryID := rec.AdvisoryID()

	for _, rule := range e.rules {
		decision, err := rule.Evaluate(rec)
		if err != nil {
			e.logger.Error(ctx, err, "rule evaluation failed",
				"rule", rule.ID(),
				"advisory_id", advisoryID,
			)
			continue
		}
		if decision == nil {
			continue
		}

		if decision.Evidence == nil {
			decision.Evidence = map[string]any{}
		}
		decision.Evidence["applied_rule"] = rule.ID()

		e.logger.Info(ctx, "rule matched",
			"rule", rule.ID(),
			"advisory_id", advisoryID,
			"state", decision.State,
		)
		return decision, nil
	}

	return nil, fmt.Errorf("advisory %s: %w", advisoryID, ErrNoMatchingRule)
}

// DecideBatch evaluates records independently and returns decisions in input
// order. Evaluation runs on a bounded worker pool; one record's failure never
// affects the others - it yields a synthetic low-confidence ERROR decision
// carrying the failure text instead.
func (e *Engine) DecideBatch(ctx context.Context, recs []Record) []*Decision {
	decisions := make([]*Decision, len(recs))

	workers := batchWorkers
	if len(recs) < workers {
		workers = len(recs)
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range idx {
				d, err := e.Decide(ctx, recs[i])
				if err != nil {
					e.logger.Error(ctx, err, "decision failed",
						"advisory_id", recs[i].AdvisoryID(),
					)
					d = errorDecision(recs[i], err)
				}
				decisions[i] = d
			}
		}()
	}
	for i := range recs {
		idx <- i
	}
	close(idx)
	wg.Wait()

	return decisions
}

// errorDecision is the fallback when decisioning a record fails outright.
// Evidence still carries applied_rule so the decision reads like any other.
func errorDecision(rec Record, evalErr error) *Decision {
	return &Decision{
		State:      StateUnknown,
		StateType:  TypeNonFinal,
		Confidence: ConfidenceLow,
		ReasonCode: "ERROR",
		Evidence: map[string]any{
			"applied_rule": "ERROR",
			"error":        evalErr.Error(),
			"advisory_id":  rec.AdvisoryID(),
		},
		Explanation:         fmt.Sprintf("Error processing advisory: %v", evalErr),
		ContributingSources: []string{},
		DissentingSources:   []string{},
	}
}

// TraceEntry records the outcome of one rule during a full-chain trace.
type TraceEntry struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
	Matched  bool   `json:"matched"`
	Result   State  `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Explanation is the result of tracing every rule against a record. Used for
// audit and debugging, never for production decisioning.
type Explanation struct {
	AdvisoryID     string       `json:"advisory_id"`
	Decision       *Decision    `json:"decision"`
	Trace          []TraceEntry `json:"evaluation_trace"`
	RulesEvaluated int          `json:"total_rules_evaluated"`
}

// Explain runs every rule regardless of earlier matches and returns the
// ordered trace plus the decision that production evaluation would return.
func (e *Engine) Explain(ctx context.Context, rec Record) *Explanation {
	trace := make([]TraceEntry, 0, len(e.rules))
	var matched *Decision

	for _, rule := range e.rules {
		entry := TraceEntry{RuleID: rule.ID(), Priority: rule.Priority()}

		decision, err := rule.Evaluate(rec)
		switch {
		case err != nil:
			entry.Error = err.Error()
		case decision != nil:
			entry.Matched = true
			entry.Result = decision.State
			if matched == nil {
				if decision.Evidence == nil {
					decision.Evidence = map[string]any{}
				}
				decision.Evidence["applied_rule"] = rule.ID()
				matched = decision
			}
		}
		trace = append(trace, entry)
	}

	return &Explanation{
		AdvisoryID:     rec.AdvisoryID(),
		Decision:       matched,
		Trace:          trace,
		RulesEvaluated: len(trace),
	}
}
