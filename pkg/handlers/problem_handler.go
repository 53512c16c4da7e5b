package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// ProblemListResponse for GET /problems
type ProblemListResponse struct {
	Problems []*models.Problem `json:"problems"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// CreateProblemRequest for POST /problems
type CreateProblemRequest struct {
	Title            string                     `json:"title"`
	Description      string                     `json:"description"`
	Symptom          string                     `json:"symptom,omitempty"`
	Status           models.ProblemStatus       `json:"status,omitempty"`
	Priority         models.Priority            `json:"priority,omitempty"`
	Category         models.Category            `json:"category,omitempty"`
	BusinessImpact   models.BusinessImpact      `json:"business_impact,omitempty"`
	AffectedServices []string                   `json:"affected_services,omitempty"`
	IncidentRef      *string                    `json:"incident_ref,omitempty"`
	CustomFields     map[string]json.RawMessage `json:"custom_fields,omitempty"`
}

// UpdateProblemRequest for PUT /problems/{id}. Version may instead be sent
// in the If-Match header.
type UpdateProblemRequest struct {
	models.ProblemPatch
	Version *int `json:"version,omitempty"`
}

// DeleteProblemRequest is the optional body of DELETE /problems/{id}.
type DeleteProblemRequest struct {
	Reason  string `json:"reason"`
	Version *int   `json:"version,omitempty"`
}

// ProblemHistoryResponse for GET /problems/{id}/history
type ProblemHistoryResponse struct {
	History []*models.ProblemHistory `json:"history"`
	Total   int                      `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// ProblemHandler handles problem CRUD HTTP requests.
type ProblemHandler struct {
	problemService services.ProblemService
	logger         *zap.Logger
}

// NewProblemHandler creates a new problem handler.
func NewProblemHandler(problemService services.ProblemService, logger *zap.Logger) *ProblemHandler {
	return &ProblemHandler{
		problemService: problemService,
		logger:         logger,
	}
}

// RegisterRoutes registers the problem handler's routes on the given mux.
func (h *ProblemHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /problems", scope(h.List))
	mux.HandleFunc("POST /problems", scope(h.Create))
	mux.HandleFunc("GET /problems/{id}", scope(h.Get))
	mux.HandleFunc("PUT /problems/{id}", scope(h.Update))
	mux.HandleFunc("DELETE /problems/{id}", scope(h.Delete))
	mux.HandleFunc("GET /problems/{id}/history", scope(h.History))
}

// List handles GET /problems
func (h *ProblemHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProblemFilter(r.URL.Query(), true)
	if err != nil {
		writeFilterError(w, r, err, h.logger)
		return
	}

	problems, total, err := h.problemService.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	if problems == nil {
		problems = []*models.Problem{}
	}

	writeData(w, http.StatusOK, ProblemListResponse{
		Problems: problems,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, h.logger)
}

// Create handles POST /problems
func (h *ProblemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}

	problem, err := h.problemService.Create(r.Context(), services.CreateProblemInput{
		Title:            req.Title,
		Description:      req.Description,
		Symptom:          req.Symptom,
		Status:           req.Status,
		Priority:         req.Priority,
		Category:         req.Category,
		BusinessImpact:   req.BusinessImpact,
		AffectedServices: req.AffectedServices,
		IncidentRef:      req.IncidentRef,
		CustomFields:     req.CustomFields,
	})
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, problem, h.logger)
}

// Get handles GET /problems/{id}
func (h *ProblemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	problem, err := h.problemService.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, problem, h.logger)
}

// Update handles PUT /problems/{id}
func (h *ProblemHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}

	problem, err := h.problemService.Update(r.Context(), id, req.ProblemPatch, version)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, problem, h.logger)
}

// Delete handles DELETE /problems/{id}
// The reason comes from the JSON body or the reason query parameter.
func (h *ProblemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req DeleteProblemRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "Invalid request body", h.logger)
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = r.URL.Query().Get("reason")
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}

	if err := h.problemService.Delete(r.Context(), id, req.Reason, version); err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /problems/{id}/history
func (h *ProblemHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	history, err := h.problemService.History(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	if history == nil {
		history = []*models.ProblemHistory{}
	}

	writeData(w, http.StatusOK, ProblemHistoryResponse{History: history, Total: len(history)}, h.logger)
}
