package advisoryapi

import (
	"encoding/json"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

// maxBatchRecords bounds a single evaluation request.
const maxBatchRecords = 10000

// evaluationRequest is one batch of enriched records to evaluate. RunID is
// optional; a fresh one is minted when absent so every evaluation is
// attributable.
type evaluationRequest struct {
	RunID   string            `json:"run_id"`
	Records []advisory.Record `json:"records"`
}

func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, `{"error":"records is required"}`, http.StatusBadRequest)
		return
	}
	if len(req.Records) > maxBatchRecords {
		http.Error(w, `{"error":"too many records"}`, http.StatusRequestEntityTooLarge)
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}

	a.logger.Info(r.Context(), "evaluation batch accepted",
		"run_id", runID,
		"records", len(req.Records),
	)

	outcomes, summary := a.svc.ProcessBatch(r.Context(), req.Records, runID)

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"outcomes": outcomes,
		"summary":  summary,
	})
}

func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	var rec advisory.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(rec) == 0 {
		http.Error(w, `{"error":"record is required"}`, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, a.svc.Explain(r.Context(), rec))
}
