// Package advisoryapi exposes advisory disposition over HTTP.
package advisoryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/verdict/internal/advisory"
	"github.com/linnemanlabs/verdict/internal/quality"
)

// AdvisoryService defines the business operations advisoryapi needs.
type AdvisoryService interface {
	ProcessBatch(ctx context.Context, recs []advisory.Record, runID string) ([]*advisory.Outcome, *advisory.RunSummary)
	Explain(ctx context.Context, rec advisory.Record) *advisory.Explanation
	Current(ctx context.Context, advisoryID string) (*advisory.Version, bool, error)
	History(ctx context.Context, advisoryID string) ([]advisory.Version, error)
	StateAt(ctx context.Context, advisoryID string, t time.Time) (*advisory.Version, bool, error)
	CurrentStates(ctx context.Context) ([]advisory.Version, error)
}

// QualityRunner runs the data quality checks.
type QualityRunner interface {
	Run(ctx context.Context) (*quality.Report, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       AdvisoryService
	explainer *advisory.Explainer
	checker   QualityRunner
}

// New creates a new API handler. A nil explainer uses the built-in templates.
// The quality checker is optional; without it the quality endpoint returns
// 404.
func New(logger log.Logger, svc AdvisoryService, explainer *advisory.Explainer, checker QualityRunner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("advisory service is required"))
	}
	if explainer == nil {
		explainer = advisory.NewExplainer(nil, logger)
	}
	return &API{
		logger:    logger,
		svc:       svc,
		explainer: explainer,
		checker:   checker,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluations", a.handleEvaluate)
		r.Post("/explain", a.handleExplain)
		r.Get("/advisories", a.handleCurrentStates)
		r.Get("/advisories/{id}", a.handleGetAdvisory)
		r.Get("/advisories/{id}/history", a.handleGetHistory)
		r.Get("/advisories/{id}/at", a.handleStateAt)
		r.Get("/advisories/{id}/explanation", a.handleGetExplanation)
		if a.checker != nil {
			r.Get("/quality", a.handleQuality)
		}
	})
}

func (a *API) handleGetAdvisory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("verdict.advisory.id", id))

	v, ok, err := a.svc.Current(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get advisory state", "advisory_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("verdict.advisory.state", string(v.State)))

	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	history, err := a.svc.History(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get advisory history", "advisory_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"advisory_id": id,
		"versions":    history,
	})
}

func (a *API) handleStateAt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := time.Parse(time.RFC3339, r.URL.Query().Get("t"))
	if err != nil {
		http.Error(w, `{"error":"query parameter t must be RFC 3339"}`, http.StatusBadRequest)
		return
	}

	v, ok, err := a.svc.StateAt(r.Context(), id, t)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get state at time", "advisory_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"no state at that time"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// handleGetExplanation re-renders the stored advisory's explanation from the
// currently loaded templates, so template changes apply without re-evaluating.
func (a *API) handleGetExplanation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	v, ok, err := a.svc.Current(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get advisory state", "advisory_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, a.explainer.ExplainWithContext(r.Context(), v.ReasonCode, v.Evidence, v.FixedVersion))
}

func (a *API) handleCurrentStates(w http.ResponseWriter, r *http.Request) {
	states, err := a.svc.CurrentStates(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list current states")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at":   time.Now().UTC(),
		"advisory_count": len(states),
		"advisories":     states,
	})
}

func (a *API) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := a.checker.Run(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "quality check run failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
