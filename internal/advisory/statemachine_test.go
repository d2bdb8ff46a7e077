package advisory

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestValidateTransition_FirstDecision(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	valid, reason := m.ValidateTransition(context.Background(), "", StateFixed, false)
	if !valid {
		t.Errorf("first decision rejected: %s", reason)
	}
}

func TestValidateTransition_SameState(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	valid, _ := m.ValidateTransition(context.Background(), StateFixed, StateFixed, false)
	if !valid {
		t.Error("re-confirmation rejected")
	}
}

func TestValidateTransition_NonFinalToAnything(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)
	ctx := context.Background()

	for _, next := range []State{StateFixed, StateNotApplicable, StateWontFix, StateUnderInvestigation, StateUnknown} {
		valid, reason := m.ValidateTransition(ctx, StatePendingUpstream, next, false)
		if !valid {
			t.Errorf("pending_upstream -> %s rejected: %s", next, reason)
		}
	}
}

func TestValidateTransition_RegressionRejected(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	valid, reason := m.ValidateTransition(context.Background(), StateFixed, StatePendingUpstream, false)
	if valid {
		t.Fatal("regression accepted without override")
	}
	want := "regression not allowed: fixed (final) -> pending_upstream (non-final)"
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}

func TestValidateTransition_RegressionAllowed(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	valid, reason := m.ValidateTransition(context.Background(), StateFixed, StatePendingUpstream, true)
	if !valid {
		t.Errorf("regression rejected with override: %s", reason)
	}
}

func TestValidateTransition_FinalToFinal(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	valid, reason := m.ValidateTransition(context.Background(), StateFixed, StateWontFix, false)
	if !valid {
		t.Errorf("final -> final rejected: %s", reason)
	}
}

func TestValidateTransition_UnknownStates(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)
	ctx := context.Background()

	valid, reason := m.ValidateTransition(ctx, StateFixed, "bogus", false)
	if valid {
		t.Error("unknown target accepted")
	}
	if reason != "invalid target state: bogus" {
		t.Errorf("reason = %q", reason)
	}

	valid, reason = m.ValidateTransition(ctx, "bogus", StateFixed, false)
	if valid {
		t.Error("unknown current accepted")
	}
	if reason != "invalid current state: bogus" {
		t.Errorf("reason = %q", reason)
	}
}

func TestCustomPartition(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(&Partition{
		Final:    []State{"done"},
		NonFinal: []State{"open"},
	}, nil)
	ctx := context.Background()

	if !m.Known("done") || !m.Known("open") {
		t.Fatal("custom states not known")
	}
	if m.Known(StateFixed) {
		t.Error("default state known under custom partition")
	}

	valid, _ := m.ValidateTransition(ctx, "done", "open", false)
	if valid {
		t.Error("custom regression accepted")
	}
}

func TestTypeOf(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	if got := m.TypeOf(StateFixed); got != TypeFinal {
		t.Errorf("TypeOf(fixed) = %q, want %q", got, TypeFinal)
	}
	if got := m.TypeOf(StateUnknown); got != TypeNonFinal {
		t.Errorf("TypeOf(unknown) = %q, want %q", got, TypeNonFinal)
	}
	if got := m.TypeOf("bogus"); got != "" {
		t.Errorf("TypeOf(bogus) = %q, want empty", got)
	}
}

func TestAllowedTransitions(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)

	got := m.AllowedTransitions(StatePendingUpstream)
	want := []State{StateFixed, StateNotApplicable, StatePendingUpstream, StateUnderInvestigation, StateUnknown, StateWontFix}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedTransitions(pending_upstream) = %v, want %v", got, want)
	}

	got = m.AllowedTransitions(StateFixed)
	want = []State{StateFixed, StateNotApplicable, StateWontFix}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedTransitions(fixed) = %v, want %v", got, want)
	}

	if got := m.AllowedTransitions("bogus"); got != nil {
		t.Errorf("AllowedTransitions(bogus) = %v, want nil", got)
	}
}

func TestDescribeTransition(t *testing.T) {
	t.Parallel()

	m := NewStateMachine(nil, nil)
	ctx := context.Background()

	d := m.DescribeTransition(ctx, StateFixed, StatePendingUpstream)
	if d.IsValid {
		t.Error("IsValid = true for regression without override")
	}
	if !d.IsRegression {
		t.Error("IsRegression = false, want true")
	}
	if d.FromType != TypeFinal || d.ToType != TypeNonFinal {
		t.Errorf("types = %q -> %q", d.FromType, d.ToType)
	}
	if d.RejectionReason == "" {
		t.Error("RejectionReason is empty")
	}

	d = m.DescribeTransition(ctx, StatePendingUpstream, StateFixed)
	if !d.IsValid {
		t.Errorf("IsValid = false: %s", d.RejectionReason)
	}
	if d.IsRegression {
		t.Error("IsRegression = true for forward transition")
	}
}

func TestLoadPartition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "states.yaml")
	data := []byte("final: [resolved, dismissed]\nnon_final: [open]\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPartition(path)
	if err != nil {
		t.Fatalf("LoadPartition: %v", err)
	}
	if !reflect.DeepEqual(p.Final, []State{"resolved", "dismissed"}) {
		t.Errorf("Final = %v", p.Final)
	}
	if !reflect.DeepEqual(p.NonFinal, []State{"open"}) {
		t.Errorf("NonFinal = %v", p.NonFinal)
	}

	m := NewStateMachine(p, nil)
	if valid, reason := m.ValidateTransition(context.Background(), "open", "resolved", false); !valid {
		t.Errorf("open -> resolved rejected: %s", reason)
	}
}

func TestLoadPartition_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"missing non_final", "final: [fixed]\n"},
		{"overlapping sets", "final: [fixed]\nnon_final: [fixed, unknown]\n"},
		{"malformed yaml", "final: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "states.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPartition(path); err == nil {
				t.Error("LoadPartition accepted invalid partition")
			}
		})
	}
}

func TestLoadPartition_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadPartition(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadPartition accepted a missing file")
	}
}
