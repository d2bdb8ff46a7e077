package advisory

import (
	"context"
	"time"
)

// StateStore is the SCD2 persistence interface for advisory state.
//
// Apply must execute its read-compare-write sequence atomically per
// advisory_id: concurrent calls for the same advisory are serialized so that
// exactly one row per advisory ever has is_current set. Calls for different
// advisories are independent. Storage failures are propagated, never retried
// here; retry policy belongs to the orchestrator.
type StateStore interface {
	// GetCurrent returns the unique current version for an advisory.
	GetCurrent(ctx context.Context, advisoryID string) (*Version, bool, error)

	// Apply versions the candidate state: a no-op when nothing
	// change-relevant differs from the current version, otherwise the
	// current version is closed and a new one opened. Reports whether a
	// new version was created.
	Apply(ctx context.Context, candidate *Snapshot, runID string) (bool, error)

	// StateAt returns the version that was effective at time t.
	StateAt(ctx context.Context, advisoryID string, t time.Time) (*Version, bool, error)

	// History returns all versions for an advisory, oldest first.
	History(ctx context.Context, advisoryID string) ([]Version, error)

	// CurrentStates returns the current version of every advisory,
	// ordered by advisory id.
	CurrentStates(ctx context.Context) ([]Version, error)

	// CountChanges counts versions created by the given pipeline run.
	CountChanges(ctx context.Context, runID string) (int, error)
}
