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

// KnownErrorRequest is the body of POST /known-errors, PUT /known-errors/{id}
// and POST /problems/{id}/known-error. Omitted fields keep their current
// (update) or derived (create) value.
type KnownErrorRequest struct {
	Title          *string            `json:"title,omitempty"`
	Symptom        *string            `json:"symptom,omitempty"`
	RootCause      *string            `json:"root_cause,omitempty"`
	Workaround     *string            `json:"workaround,omitempty"`
	Solution       *string            `json:"solution,omitempty"`
	Category       *models.Category   `json:"category,omitempty"`
	Tags           *[]string          `json:"tags,omitempty"`
	SearchKeywords *[]string          `json:"search_keywords,omitempty"`
	Visibility     *models.Visibility `json:"visibility,omitempty"`
}

func (req KnownErrorRequest) toInput() services.KnownErrorInput {
	return services.KnownErrorInput{
		Title:          req.Title,
		Symptom:        req.Symptom,
		RootCause:      req.RootCause,
		Workaround:     req.Workaround,
		Solution:       req.Solution,
		Category:       req.Category,
		Tags:           req.Tags,
		SearchKeywords: req.SearchKeywords,
		Visibility:     req.Visibility,
	}
}

// KnownErrorListResponse for GET /known-errors
type KnownErrorListResponse struct {
	KnownErrors []*models.KnownError `json:"known_errors"`
	Total       int                  `json:"total"`
}

// KnownErrorSearchResponse for GET /known-errors/search/similar
type KnownErrorSearchResponse struct {
	Matches []models.KnownErrorMatch `json:"matches"`
	Total   int                      `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// KnownErrorHandler handles the known-error knowledge base.
type KnownErrorHandler struct {
	knownErrorService services.KnownErrorService
	logger            *zap.Logger
}

// NewKnownErrorHandler creates a new known error handler.
func NewKnownErrorHandler(knownErrorService services.KnownErrorService, logger *zap.Logger) *KnownErrorHandler {
	return &KnownErrorHandler{
		knownErrorService: knownErrorService,
		logger:            logger,
	}
}

// RegisterRoutes registers the known error handler's routes on the given mux.
func (h *KnownErrorHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/known-errors"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("POST "+base, scope(h.Create))
	mux.HandleFunc("GET "+base+"/search/similar", scope(h.SearchSimilar))
	mux.HandleFunc("GET "+base+"/statistics/usage", scope(h.UsageStatistics))
	mux.HandleFunc("GET "+base+"/{id}", scope(h.Get))
	mux.HandleFunc("PUT "+base+"/{id}", scope(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", scope(h.Delete))
	mux.HandleFunc("POST "+base+"/{id}/use", scope(h.RecordUsage))
	mux.HandleFunc("POST /problems/{id}/known-error", scope(h.CreateFromProblem))
}

// List handles GET /known-errors
func (h *KnownErrorHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.KnownErrorFilter
	if c := strings.TrimSpace(q.Get("category")); c != "" {
		category := models.Category(c)
		filter.Category = &category
	}
	if v := strings.TrimSpace(q.Get("visibility")); v != "" {
		visibility := models.Visibility(v)
		filter.Visibility = &visibility
	}

	kes, err := h.knownErrorService.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	if kes == nil {
		kes = []*models.KnownError{}
	}

	writeData(w, http.StatusOK, KnownErrorListResponse{KnownErrors: kes, Total: len(kes)}, h.logger)
}

// Create handles POST /known-errors
func (h *KnownErrorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req KnownErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}

	ke, err := h.knownErrorService.Create(r.Context(), req.toInput())
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, ke, h.logger)
}

// Get handles GET /known-errors/{id}
func (h *KnownErrorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseKnownErrorID(w, r, h.logger)
	if !ok {
		return
	}

	ke, err := h.knownErrorService.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, ke, h.logger)
}

// Update handles PUT /known-errors/{id}
func (h *KnownErrorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseKnownErrorID(w, r, h.logger)
	if !ok {
		return
	}

	var req KnownErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}

	ke, err := h.knownErrorService.Update(r.Context(), id, req.toInput())
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, ke, h.logger)
}

// Delete handles DELETE /known-errors/{id}
func (h *KnownErrorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseKnownErrorID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.knownErrorService.Delete(r.Context(), id); err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordUsage handles POST /known-errors/{id}/use
func (h *KnownErrorHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseKnownErrorID(w, r, h.logger)
	if !ok {
		return
	}

	ke, err := h.knownErrorService.RecordUsage(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, ke, h.logger)
}

// SearchSimilar handles GET /known-errors/search/similar?symptom=&category=&limit=
func (h *KnownErrorHandler) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseIntParam(q, "limit", 0)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}
	var category *models.Category
	if c := strings.TrimSpace(q.Get("category")); c != "" {
		cat := models.Category(c)
		category = &cat
	}

	matches, err := h.knownErrorService.SearchSimilar(r.Context(), q.Get("symptom"), category, limit)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	if matches == nil {
		matches = []models.KnownErrorMatch{}
	}

	writeData(w, http.StatusOK, KnownErrorSearchResponse{Matches: matches, Total: len(matches)}, h.logger)
}

// UsageStatistics handles GET /known-errors/statistics/usage?top=
func (h *KnownErrorHandler) UsageStatistics(w http.ResponseWriter, r *http.Request) {
	top, err := parseIntParam(r.URL.Query(), "top", 0)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}

	stats, err := h.knownErrorService.UsageStatistics(r.Context(), top)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, stats, h.logger)
}

// CreateFromProblem handles POST /problems/{id}/known-error
func (h *KnownErrorHandler) CreateFromProblem(w http.ResponseWriter, r *http.Request) {
	problemID, ok := ParseProblemID(w, r, h.logger)
	if !ok {
		return
	}

	var req KnownErrorRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "Invalid request body", h.logger)
			return
		}
	}

	ke, err := h.knownErrorService.CreateFromProblem(r.Context(), problemID, req.toInput())
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, ke, h.logger)
}
