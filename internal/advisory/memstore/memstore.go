// Package memstore provides an in-memory implementation of
// advisory.StateStore. Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

// Store holds advisory state history in memory. Apply serializes per
// advisory via a lock map, mirroring the row-lock semantics of the
// PostgreSQL store; different advisories proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	history map[string][]*advisory.Version // advisory ID -> versions, oldest first

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex // advisory ID -> apply lock
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		history: make(map[string][]*advisory.Version),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) applyLock(advisoryID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[advisoryID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[advisoryID] = l
	}
	return l
}

// GetCurrent retrieves the current version for an advisory. Returns a copy.
func (s *Store) GetCurrent(_ context.Context, advisoryID string) (*advisory.Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.history[advisoryID] {
		if v.IsCurrent {
			cp := *v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// Apply versions the candidate state. The read-compare-write sequence runs
// under the advisory's apply lock so concurrent calls for the same advisory
// cannot both open a current version.
func (s *Store) Apply(_ context.Context, candidate *advisory.Snapshot, runID string) (bool, error) {
	l := s.applyLock(candidate.AdvisoryID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *advisory.Version
	for _, v := range s.history[candidate.AdvisoryID] {
		if v.IsCurrent {
			current = v
			break
		}
	}

	if !advisory.StateChanged(current, candidate) {
		return false, nil
	}

	now := time.Now().UTC()

	if current != nil {
		current.IsCurrent = false
		t := now
		current.EffectiveTo = &t
	}

	next := &advisory.Version{
		Snapshot:      *candidate,
		HistoryID:     ulid.Make().String(),
		EffectiveFrom: now,
		IsCurrent:     true,
		RunID:         runID,
		CreatedAt:     now,
	}
	s.history[candidate.AdvisoryID] = append(s.history[candidate.AdvisoryID], next)

	return true, nil
}

// StateAt retrieves the version effective at time t. Returns a copy.
func (s *Store) StateAt(_ context.Context, advisoryID string, t time.Time) (*advisory.Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.history[advisoryID] {
		if v.EffectiveFrom.After(t) {
			continue
		}
		if v.EffectiveTo == nil || v.EffectiveTo.After(t) {
			cp := *v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// History retrieves all versions for an advisory, oldest first. Returns copies.
func (s *Store) History(_ context.Context, advisoryID string) ([]advisory.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]advisory.Version, 0, len(s.history[advisoryID]))
	for _, v := range s.history[advisoryID] {
		out = append(out, *v)
	}
	return out, nil
}

// CurrentStates retrieves the current version of every advisory, ordered by
// advisory id. Returns copies.
func (s *Store) CurrentStates(_ context.Context) ([]advisory.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []advisory.Version
	for _, versions := range s.history {
		for _, v := range versions {
			if v.IsCurrent {
				out = append(out, *v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdvisoryID < out[j].AdvisoryID })
	return out, nil
}

// CountChanges counts versions created by the given run.
func (s *Store) CountChanges(_ context.Context, runID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, versions := range s.history {
		for _, v := range versions {
			if v.RunID == runID {
				n++
			}
		}
	}
	return n, nil
}
