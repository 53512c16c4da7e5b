package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

// ============================================================================
// Request Types
// ============================================================================

// StartRCARequest for POST /problems/{id}/rca/start
type StartRCARequest struct {
	AnalysisType string   `json:"analysis_type"`
	TeamMembers  []string `json:"team_members,omitempty"`
	InitialNotes string   `json:"initial_notes,omitempty"`
}

// AdvancePhaseRequest for PUT /problems/{id}/rca/phase
type AdvancePhaseRequest struct {
	Phase models.RCAPhase `json:"phase"`
	Notes string          `json:"notes,omitempty"`
}

// AddFindingRequest for POST /problems/{id}/rca/findings
type AddFindingRequest struct {
	FindingType models.FindingType `json:"finding_type"`
	Description string             `json:"description"`
	EvidenceRef string             `json:"evidence_ref,omitempty"`
}

// CompleteRCARequest for POST /problems/{id}/rca/complete
type CompleteRCARequest struct {
	Notes string `json:"notes,omitempty"`
}

// AbortRCARequest for POST /problems/{id}/rca/abort
type AbortRCARequest struct {
	Reason string `json:"reason"`
}

// ============================================================================
// Handler
// ============================================================================

// RCAHandler exposes the root cause analysis state machine.
type RCAHandler struct {
	rcaService services.RCAService
	logger     *zap.Logger
}

// NewRCAHandler creates a new RCA handler.
func NewRCAHandler(rcaService services.RCAService, logger *zap.Logger) *RCAHandler {
	return &RCAHandler{
		rcaService: rcaService,
		logger:     logger,
	}
}

// RegisterRoutes registers the RCA handler's routes on the given mux.
func (h *RCAHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/problems/{id}/rca"

	mux.HandleFunc("GET "+base, scope(h.Progress))
	mux.HandleFunc("POST "+base+"/start", scope(h.Start))
	mux.HandleFunc("PUT "+base+"/phase", scope(h.AdvancePhase))
	mux.HandleFunc("POST "+base+"/findings", scope(h.AddFinding))
	mux.HandleFunc("POST "+base+"/complete", scope(h.Complete))
	mux.HandleFunc("POST "+base+"/abort", scope(h.Abort))
}

// Start handles POST /problems/{id}/rca/start
func (h *RCAHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req StartRCARequest
	if !h.decode(w, r, &req) {
		return
	}

	problem, err := h.rcaService.StartRCA(r.Context(), id, services.StartRCAInput{
		AnalysisType: req.AnalysisType,
		TeamMembers:  req.TeamMembers,
		InitialNotes: req.InitialNotes,
	})
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, problem, h.logger)
}

// AdvancePhase handles PUT /problems/{id}/rca/phase
func (h *RCAHandler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req AdvancePhaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	problem, err := h.rcaService.AdvancePhase(r.Context(), id, req.Phase, req.Notes)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, problem, h.logger)
}

// Progress handles GET /problems/{id}/rca
func (h *RCAHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	progress, err := h.rcaService.GetProgress(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, progress, h.logger)
}

// AddFinding handles POST /problems/{id}/rca/findings
func (h *RCAHandler) AddFinding(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddFindingRequest
	if !h.decode(w, r, &req) {
		return
	}

	finding, err := h.rcaService.AddFinding(r.Context(), id, services.FindingInput{
		FindingType: req.FindingType,
		Description: req.Description,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, finding, h.logger)
}

// Complete handles POST /problems/{id}/rca/complete
func (h *RCAHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req CompleteRCARequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	completion, err := h.rcaService.CompleteRCA(r.Context(), id, req.Notes)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, completion, h.logger)
}

// Abort handles POST /problems/{id}/rca/abort
func (h *RCAHandler) Abort(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req AbortRCARequest
	if !h.decode(w, r, &req) {
		return
	}

	problem, err := h.rcaService.AbortRCA(r.Context(), id, req.Reason)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, problem, h.logger)
}

func (h *RCAHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return false
	}
	return true
}
