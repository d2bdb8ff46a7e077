// Package pgstore provides a PostgreSQL implementation of advisory.StateStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

var tracer = otel.Tracer("github.com/linnemanlabs/verdict/internal/advisory/pgstore")

//go:embed schema.sql
var schema string

// Store persists advisory state history in PostgreSQL. The history is append
// only: versioning closes rows, it never rewrites them.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const versionColumns = `history_id, advisory_id, cve_id, package_name, state, state_type,
	fixed_version, confidence, explanation, reason_code, evidence, decision_rule,
	contributing_sources, dissenting_sources, staleness_score,
	effective_from, effective_to, is_current, run_id, created_at`

// GetCurrent retrieves the current version for an advisory.
func (s *Store) GetCurrent(ctx context.Context, advisoryID string) (*advisory.Version, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetCurrent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + versionColumns + ` FROM advisory_state_history WHERE advisory_id = $1 AND is_current`
	v, err := scanVersionRow(s.pool.QueryRow(ctx, query, advisoryID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Apply versions the candidate state inside a transaction. The current row is
// locked with FOR UPDATE so concurrent applies for the same advisory
// serialize on the database; the partial unique index backs the invariant
// that only one row per advisory is ever current.
func (s *Store) Apply(ctx context.Context, candidate *advisory.Snapshot, runID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Apply", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + versionColumns + ` FROM advisory_state_history WHERE advisory_id = $1 AND is_current FOR UPDATE`
	current, err := scanVersionRow(tx.QueryRow(ctx, query, candidate.AdvisoryID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	if !advisory.StateChanged(current, candidate) {
		return false, nil
	}

	now := time.Now().UTC()

	if current != nil {
		_, err = tx.Exec(ctx,
			`UPDATE advisory_state_history SET is_current = FALSE, effective_to = $1 WHERE history_id = $2`,
			now, current.HistoryID,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, fmt.Errorf("close current version: %w", err)
		}
	}

	if err := insertVersion(ctx, tx, candidate, runID, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// StateAt retrieves the version effective at time t.
func (s *Store) StateAt(ctx context.Context, advisoryID string, t time.Time) (*advisory.Version, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.StateAt", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + versionColumns + ` FROM advisory_state_history
		WHERE advisory_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)`
	v, err := scanVersionRow(s.pool.QueryRow(ctx, query, advisoryID, t))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// History retrieves all versions for an advisory, oldest first.
func (s *Store) History(ctx context.Context, advisoryID string) ([]advisory.Version, error) {
	ctx, span := tracer.Start(ctx, "pgstore.History", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + versionColumns + ` FROM advisory_state_history WHERE advisory_id = $1 ORDER BY effective_from`
	rows, err := s.pool.Query(ctx, query, advisoryID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out, err := collectVersions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// CurrentStates retrieves the current version of every advisory, ordered by
// advisory id.
func (s *Store) CurrentStates(ctx context.Context) ([]advisory.Version, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CurrentStates", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + versionColumns + ` FROM advisory_state_history WHERE is_current ORDER BY advisory_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query current states: %w", err)
	}
	defer rows.Close()

	out, err := collectVersions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// CountChanges counts versions created by the given run.
func (s *Store) CountChanges(ctx context.Context, runID string) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CountChanges", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM advisory_state_history WHERE run_id = $1`, runID,
	).Scan(&n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, c *advisory.Snapshot, runID string, now time.Time) error {
	evidenceJSON, err := json.Marshal(c.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	contributing := c.ContributingSources
	if contributing == nil {
		contributing = []string{}
	}
	dissenting := c.DissentingSources
	if dissenting == nil {
		dissenting = []string{}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO advisory_state_history (
			history_id, advisory_id, cve_id, package_name, state, state_type,
			fixed_version, confidence, explanation, reason_code, evidence, decision_rule,
			contributing_sources, dissenting_sources, staleness_score,
			effective_from, effective_to, is_current, run_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULL,TRUE,$17,$18)`,
		ulid.Make().String(), c.AdvisoryID, c.CVEID, c.PackageName, string(c.State), string(c.StateType),
		c.FixedVersion, string(c.Confidence), c.Explanation, c.ReasonCode, evidenceJSON, c.DecisionRule,
		contributing, dissenting, c.StalenessScore,
		now, runID, now,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func collectVersions(rows pgx.Rows) ([]advisory.Version, error) {
	var out []advisory.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

// scanVersionRow scans a single row into an advisory.Version.
// Returns (nil, nil) when no row is found.
func scanVersionRow(row pgx.Row) (*advisory.Version, error) {
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func scanVersion(row pgx.Row) (*advisory.Version, error) {
	var (
		v            advisory.Version
		state        string
		stateType    string
		confidence   string
		evidenceJSON []byte
	)

	err := row.Scan(
		&v.HistoryID, &v.AdvisoryID, &v.CVEID, &v.PackageName, &state, &stateType,
		&v.FixedVersion, &confidence, &v.Explanation, &v.ReasonCode, &evidenceJSON, &v.DecisionRule,
		&v.ContributingSources, &v.DissentingSources, &v.StalenessScore,
		&v.EffectiveFrom, &v.EffectiveTo, &v.IsCurrent, &v.RunID, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	v.State = advisory.State(state)
	v.StateType = advisory.StateType(stateType)
	v.Confidence = advisory.Confidence(confidence)

	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &v.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}

	return &v, nil
}
