package advisory

import (
	"sync"
	"time"
)

// RunStats accumulates observability counters for one evaluation run. All
// counters are named and explicitly initialized; updates go through the
// record methods so concurrent batch workers can share one instance.
type RunStats struct {
	mu sync.Mutex

	runID       string
	startedAt   time.Time
	completedAt time.Time

	processed    int
	stateChanges int
	rejected     int
	errors       int

	transitions map[string]int
	rulesFired  map[string]int
	errorMsgs   []string
}

// NewRunStats creates an empty stats collector for a run.
func NewRunStats(runID string) *RunStats {
	return &RunStats{
		runID:       runID,
		startedAt:   time.Now().UTC(),
		transitions: make(map[string]int),
		rulesFired:  make(map[string]int),
	}
}

// RecordProcessed counts one evaluated record.
func (s *RunStats) RecordProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
}

// RecordTransition counts a state transition. Identical from/to pairs are
// re-confirmations and are not counted as changes.
func (s *RunStats) RecordTransition(from, to State) {
	if from == to {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(from) + "->" + string(to)
	if from == "" {
		key = "new->" + string(to)
	}
	s.transitions[key]++
	s.stateChanges++
}

// RecordRuleFired counts a rule application.
func (s *RunStats) RecordRuleFired(ruleID, reasonCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesFired[ruleID+":"+reasonCode]++
}

// RecordRejected counts a transition rejected by the state machine.
func (s *RunStats) RecordRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected++
}

// RecordError counts a failure and keeps its message for the summary.
func (s *RunStats) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	s.errorMsgs = append(s.errorMsgs, msg)
}

// Complete stamps the completion time.
func (s *RunStats) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedAt = time.Now().UTC()
}

// RunSummary is the serializable view of a run's stats.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Processed    int            `json:"advisories_processed"`
	StateChanges int            `json:"state_changes"`
	Rejected     int            `json:"transitions_rejected"`
	Errors       int            `json:"errors"`
	Transitions  map[string]int `json:"transitions"`
	RulesFired   map[string]int `json:"rules_fired"`
	ErrorMsgs    []string       `json:"error_messages,omitempty"`
}

// Summary returns a copy of the accumulated stats.
func (s *RunStats) Summary() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &RunSummary{
		RunID:        s.runID,
		StartedAt:    s.startedAt,
		Processed:    s.processed,
		StateChanges: s.stateChanges,
		Rejected:     s.rejected,
		Errors:       s.errors,
		Transitions:  make(map[string]int, len(s.transitions)),
		RulesFired:   make(map[string]int, len(s.rulesFired)),
		ErrorMsgs:    append([]string(nil), s.errorMsgs...),
	}
	for k, v := range s.transitions {
		out.Transitions[k] = v
	}
	for k, v := range s.rulesFired {
		out.RulesFired[k] = v
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		out.CompletedAt = &t
	}
	return out
}
