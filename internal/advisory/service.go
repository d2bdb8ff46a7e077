package advisory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// ServiceHooks are optional callbacks invoked by the service at decision and
// persistence milestones. Nil hooks are skipped.
type ServiceHooks struct {
	OnDecision          func(reasonCode string, state State)
	OnApply             func(changed bool, state State, seconds float64)
	OnRejected          func(from, to State)
	OnRegressionAllowed func()
	OnBatch             func(size int, seconds float64)
}

// Change describes one applied state change, for notification.
type Change struct {
	AdvisoryID   string     `json:"advisory_id"`
	CVEID        string     `json:"cve_id"`
	PackageName  string     `json:"package_name"`
	FromState    State      `json:"from_state,omitempty"`
	ToState      State      `json:"to_state"`
	ReasonCode   string     `json:"reason_code"`
	Confidence   Confidence `json:"confidence"`
	Explanation  string     `json:"explanation"`
	RunID        string     `json:"run_id"`
	IsRegression bool       `json:"is_regression"`
	At           time.Time  `json:"at"`
}

// Notifier delivers applied state changes to an external channel.
type Notifier interface {
	Send(ctx context.Context, change *Change) error
}

// Outcome is the result of processing one record end to end.
type Outcome struct {
	AdvisoryID    string    `json:"advisory_id"`
	Decision      *Decision `json:"decision"`
	PreviousState State     `json:"previous_state,omitempty"`
	Applied       bool      `json:"applied"`
	Rejected      bool      `json:"rejected"`
	RejectReason  string    `json:"reject_reason,omitempty"`
}

// Service is the business boundary for advisory disposition: it decides,
// guards the transition, and versions the result.
type Service struct {
	engine          *Engine
	machine         *StateMachine
	store           StateStore
	logger          log.Logger
	hooks           ServiceHooks
	notifier        Notifier
	allowRegression bool
	batchWorkers    int
}

// ServiceOptions tunes service policy.
type ServiceOptions struct {
	// AllowRegression applies final -> non-final transitions instead of
	// rejecting them. Every allowed regression is logged at warn level.
	AllowRegression bool

	// BatchWorkers bounds concurrency in ProcessBatch. Zero means a
	// sensible default.
	BatchWorkers int
}

// NewService creates an advisory service.
func NewService(engine *Engine, machine *StateMachine, store StateStore, logger log.Logger, hooks ServiceHooks, notifier Notifier, opts ServiceOptions) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	workers := opts.BatchWorkers
	if workers <= 0 {
		workers = batchWorkers
	}
	return &Service{
		engine:          engine,
		machine:         machine,
		store:           store,
		logger:          logger,
		hooks:           hooks,
		notifier:        notifier,
		allowRegression: opts.AllowRegression,
		batchWorkers:    workers,
	}
}

// Process evaluates one enriched record and, when the transition is legal,
// applies the decided state to the store. A rejected transition is a normal
// outcome, not an error; errors are reserved for store failures.
func (s *Service) Process(ctx context.Context, rec Record, runID string, stats *RunStats) (*Outcome, error) {
	advisoryID := rec.AdvisoryID()
	L := s.logger.With("advisory_id", advisoryID, "run_id", runID)

	decision, err := s.engine.Decide(ctx, rec)
	if err != nil {
		// Catch-all rule missing or broken: synthesize the error
		// decision so the advisory still gets a disposition.
		L.Error(ctx, err, "decision failed")
		decision = errorDecision(rec, err)
		if stats != nil {
			stats.RecordError(err.Error())
		}
	}

	if s.hooks.OnDecision != nil {
		s.hooks.OnDecision(decision.ReasonCode, decision.State)
	}
	if stats != nil {
		stats.RecordProcessed()
		stats.RecordRuleFired(decision.AppliedRule(), decision.ReasonCode)
	}

	current, ok, err := s.store.GetCurrent(ctx, advisoryID)
	if err != nil {
		return nil, err
	}

	var currentState State
	if ok {
		currentState = current.State
	}

	outcome := &Outcome{
		AdvisoryID:    advisoryID,
		Decision:      decision,
		PreviousState: currentState,
	}

	valid, reason := s.machine.ValidateTransition(ctx, currentState, decision.State, s.allowRegression)
	if !valid {
		L.Warn(ctx, "transition rejected",
			"from", currentState,
			"to", decision.State,
			"reason", reason,
		)
		if s.hooks.OnRejected != nil {
			s.hooks.OnRejected(currentState, decision.State)
		}
		if stats != nil {
			stats.RecordRejected()
		}
		outcome.Rejected = true
		outcome.RejectReason = reason
		return outcome, nil
	}

	isRegression := currentState != "" && s.machine.IsFinal(currentState) && !s.machine.IsFinal(decision.State)
	if isRegression && s.hooks.OnRegressionAllowed != nil {
		s.hooks.OnRegressionAllowed()
	}

	start := time.Now()
	changed, err := s.store.Apply(ctx, NewSnapshot(rec, decision), runID)
	if err != nil {
		return nil, err
	}
	if s.hooks.OnApply != nil {
		s.hooks.OnApply(changed, decision.State, time.Since(start).Seconds())
	}

	outcome.Applied = changed
	if !changed {
		return outcome, nil
	}

	if stats != nil {
		stats.RecordTransition(currentState, decision.State)
	}

	L.Info(ctx, "state applied",
		"from", currentState,
		"to", decision.State,
		"reason_code", decision.ReasonCode,
		"confidence", decision.Confidence,
	)

	if s.notifier != nil {
		change := &Change{
			AdvisoryID:   advisoryID,
			CVEID:        rec.String("cve_id"),
			PackageName:  rec.String("package_name"),
			FromState:    currentState,
			ToState:      decision.State,
			ReasonCode:   decision.ReasonCode,
			Confidence:   decision.Confidence,
			Explanation:  decision.Explanation,
			RunID:        runID,
			IsRegression: isRegression,
			At:           time.Now().UTC(),
		}
		if err := s.notifier.Send(ctx, change); err != nil {
			L.Error(ctx, err, "state change notification failed")
		}
	}

	return outcome, nil
}

// ProcessBatch processes records independently on a bounded worker pool and
// returns outcomes in input order. One record's failure never affects the
// others; failed records carry a synthetic ERROR decision in their outcome.
func (s *Service) ProcessBatch(ctx context.Context, recs []Record, runID string) ([]*Outcome, *RunSummary) {
	stats := NewRunStats(runID)
	outcomes := make([]*Outcome, len(recs))
	start := time.Now()

	workers := s.batchWorkers
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
				outcome, err := s.Process(ctx, recs[i], runID, stats)
				if err != nil {
					s.logger.Error(ctx, err, "batch record failed",
						"advisory_id", recs[i].AdvisoryID(),
					)
					stats.RecordError(err.Error())
					outcome = &Outcome{
						AdvisoryID: recs[i].AdvisoryID(),
						Decision:   errorDecision(recs[i], err),
					}
				}
				outcomes[i] = outcome
			}
		}()
	}
	for i := range recs {
		idx <- i
	}
	close(idx)
	wg.Wait()

	stats.Complete()
	if s.hooks.OnBatch != nil {
		s.hooks.OnBatch(len(recs), time.Since(start).Seconds())
	}

	return outcomes, stats.Summary()
}

// Explain traces every rule against a record without persisting anything.
func (s *Service) Explain(ctx context.Context, rec Record) *Explanation {
	return s.engine.Explain(ctx, rec)
}

// Current returns the current version for an advisory.
func (s *Service) Current(ctx context.Context, advisoryID string) (*Version, bool, error) {
	return s.store.GetCurrent(ctx, advisoryID)
}

// History returns the full version history for an advisory, oldest first.
func (s *Service) History(ctx context.Context, advisoryID string) ([]Version, error) {
	return s.store.History(ctx, advisoryID)
}

// StateAt returns the version effective at a point in time.
func (s *Service) StateAt(ctx context.Context, advisoryID string, t time.Time) (*Version, bool, error) {
	return s.store.StateAt(ctx, advisoryID, t)
}

// CurrentStates returns the current version of every advisory.
func (s *Service) CurrentStates(ctx context.Context) ([]Version, error) {
	return s.store.CurrentStates(ctx)
}

// NewSnapshot builds the candidate persisted state from a record and its
// decision.
func NewSnapshot(rec Record, d *Decision) *Snapshot {
	decisionRule := ""
	if rule := d.AppliedRule(); rule != "" {
		decisionRule = rule + ":" + strings.ToLower(d.ReasonCode)
	}

	return &Snapshot{
		AdvisoryID:          rec.AdvisoryID(),
		CVEID:               rec.String("cve_id"),
		PackageName:         rec.String("package_name"),
		State:               d.State,
		StateType:           d.StateType,
		FixedVersion:        d.FixedVersion,
		Confidence:          d.Confidence,
		Explanation:         d.Explanation,
		ReasonCode:          d.ReasonCode,
		Evidence:            d.Evidence,
		DecisionRule:        decisionRule,
		ContributingSources: d.ContributingSources,
		DissentingSources:   d.DissentingSources,
		StalenessScore:      rec.Float("staleness_score"),
	}
}
