package advisory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"
)

// Partition overrides the default final/non-final state sets. When supplied,
// the two sets together define the complete allowed-state universe.
type Partition struct {
	Final    []State `yaml:"final" json:"final"`
	NonFinal []State `yaml:"non_final" json:"non_final"`
}

// LoadPartition reads a state partition from a YAML file. Both sets must be
// non-empty and disjoint.
func LoadPartition(path string) (*Partition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}

	var p Partition
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse partition: %w", err)
	}
	if len(p.Final) == 0 || len(p.NonFinal) == 0 {
		return nil, fmt.Errorf("partition must define both final and non_final states")
	}

	final := make(map[State]bool, len(p.Final))
	for _, s := range p.Final {
		final[s] = true
	}
	for _, s := range p.NonFinal {
		if final[s] {
			return nil, fmt.Errorf("state %s is both final and non_final", s)
		}
	}
	return &p, nil
}

// StateMachine validates advisory state transitions.
//
// Transition rules:
//   - first decision (no current state): always valid
//   - same state: valid (re-confirmation)
//   - non-final current: valid regardless of target
//   - final -> non-final: regression, rejected unless explicitly allowed
//   - final -> different final: valid, logged (rare but legitimate)
type StateMachine struct {
	final    map[State]bool
	nonFinal map[State]bool
	logger   log.Logger
}

// NewStateMachine creates a state machine with the default partition, or the
// supplied one when non-nil.
func NewStateMachine(p *Partition, logger log.Logger) *StateMachine {
	if logger == nil {
		logger = log.Nop()
	}

	final := []State{StateFixed, StateNotApplicable, StateWontFix}
	nonFinal := []State{StatePendingUpstream, StateUnderInvestigation, StateUnknown}
	if p != nil {
		final = p.Final
		nonFinal = p.NonFinal
	}

	sm := &StateMachine{
		final:    make(map[State]bool, len(final)),
		nonFinal: make(map[State]bool, len(nonFinal)),
		logger:   logger,
	}
	for _, s := range final {
		sm.final[s] = true
	}
	for _, s := range nonFinal {
		sm.nonFinal[s] = true
	}
	return sm
}

// Known reports whether state belongs to the configured universe.
func (m *StateMachine) Known(state State) bool {
	return m.final[state] || m.nonFinal[state]
}

// IsFinal reports whether state is terminal.
func (m *StateMachine) IsFinal(state State) bool {
	return m.final[state]
}

// TypeOf returns the classification for a known state, or "" otherwise.
func (m *StateMachine) TypeOf(state State) StateType {
	switch {
	case m.final[state]:
		return TypeFinal
	case m.nonFinal[state]:
		return TypeNonFinal
	default:
		return ""
	}
}

// ValidateTransition reports whether moving from current to next is legal.
// An empty current means this is the advisory's first decision. The returned
// reason is non-empty only on rejection. Rejection is a result, not an error:
// the caller decides whether to refuse the write or retry with
// allowRegression.
func (m *StateMachine) ValidateTransition(ctx context.Context, current, next State, allowRegression bool) (bool, string) {
	if !m.Known(next) {
		return false, fmt.Sprintf("invalid target state: %s", next)
	}

	// First-ever decision.
	if current == "" {
		return true, ""
	}

	if !m.Known(current) {
		return false, fmt.Sprintf("invalid current state: %s", current)
	}

	if current == next {
		return true, ""
	}

	// Non-final states accept any new information.
	if !m.final[current] {
		return true, ""
	}

	if !m.final[next] {
		if allowRegression {
			m.logger.Warn(ctx, "allowing state regression",
				"from", current,
				"to", next,
			)
			return true, ""
		}
		return false, fmt.Sprintf("regression not allowed: %s (final) -> %s (non-final)", current, next)
	}

	m.logger.Info(ctx, "final state change",
		"from", current,
		"to", next,
	)
	return true, ""
}

// AllowedTransitions returns the target states reachable from current:
// everything for non-final states, only final states for final states, and
// nothing for unknown states. The result is sorted for determinism.
func (m *StateMachine) AllowedTransitions(current State) []State {
	var out []State
	switch {
	case m.nonFinal[current]:
		for s := range m.final {
			out = append(out, s)
		}
		for s := range m.nonFinal {
			out = append(out, s)
		}
	case m.final[current]:
		for s := range m.final {
			out = append(out, s)
		}
	default:
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TransitionDescription is the structured view of one candidate transition.
// IsRegression is true exactly when current is final and next is non-final,
// independent of whether a regression override would make it valid.
type TransitionDescription struct {
	FromState       State     `json:"from_state"`
	ToState         State     `json:"to_state"`
	IsValid         bool      `json:"is_valid"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	FromType        StateType `json:"from_type,omitempty"`
	ToType          StateType `json:"to_type,omitempty"`
	IsRegression    bool      `json:"is_regression"`
}

// DescribeTransition returns transition metadata without applying any
// regression override.
func (m *StateMachine) DescribeTransition(ctx context.Context, current, next State) TransitionDescription {
	valid, reason := m.ValidateTransition(ctx, current, next, false)

	return TransitionDescription{
		FromState:       current,
		ToState:         next,
		IsValid:         valid,
		RejectionReason: reason,
		FromType:        m.TypeOf(current),
		ToType:          m.TypeOf(next),
		IsRegression:    current != "" && m.final[current] && m.nonFinal[next],
	}
}
