package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

// ============================================================================
// Request Types
// ============================================================================

// BulkUpdateRequest for PUT /problems/bulk-update
type BulkUpdateRequest struct {
	IDs     []string            `json:"ids"`
	Updates models.ProblemPatch `json:"updates"`
}

// BulkDeleteRequest for DELETE /problems/bulk-delete
type BulkDeleteRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

// ============================================================================
// Handler
// ============================================================================

// BulkHandler handles bulk operations and exports.
type BulkHandler struct {
	bulkService services.BulkService
	logger      *zap.Logger
}

// NewBulkHandler creates a new bulk handler.
func NewBulkHandler(bulkService services.BulkService, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{
		bulkService: bulkService,
		logger:      logger,
	}
}

// RegisterRoutes registers the bulk handler's routes on the given mux.
func (h *BulkHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("PUT /problems/bulk-update", scope(h.BulkUpdate))
	mux.HandleFunc("DELETE /problems/bulk-delete", scope(h.BulkDelete))
	mux.HandleFunc("GET /problems/export", scope(h.Export))
}

// BulkUpdate handles PUT /problems/bulk-update
// Per-item failures are reported in the result with status 200.
func (h *BulkHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}
	ids, err := parseIDList(req.IDs)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}

	result, err := h.bulkService.BulkUpdate(r.Context(), ids, req.Updates)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, result, h.logger)
}

// BulkDelete handles DELETE /problems/bulk-delete
func (h *BulkHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", h.logger)
		return
	}
	ids, err := parseIDList(req.IDs)
	if err != nil {
		writeBadRequest(w, err.Error(), h.logger)
		return
	}

	result, err := h.bulkService.BulkDelete(r.Context(), ids, req.Reason)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, result, h.logger)
}

// Export handles GET /problems/export?format=
// Rows are streamed; headers are only committed once the first byte is
// written so that errors before any output still get a JSON error body.
func (h *BulkHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := models.ExportFormat(strings.ToLower(strings.TrimSpace(q.Get("format"))))
	if format == "" {
		format = models.ExportFormatCSV
	}
	if !format.IsValid() {
		writeBadRequest(w, "format must be csv, json or yaml", h.logger)
		return
	}
	filter, err := parseProblemFilter(q, false)
	if err != nil {
		writeFilterError(w, r, err, h.logger)
		return
	}

	out := &exportWriter{
		ResponseWriter: w,
		contentType:    format.ContentType(),
		filename:       fmt.Sprintf("problems-%s.%s", time.Now().UTC().Format("20060102"), format),
	}
	if err := h.bulkService.Export(r.Context(), filter, format, out); err != nil {
		if !out.started {
			WriteServiceError(w, r, err, h.logger)
			return
		}
		// Headers are gone; the truncated body is all the client gets.
		h.logger.Error("Export aborted mid-stream", zap.Error(err))
		return
	}
	if !out.started {
		out.start()
	}
}

// exportWriter defers setting download headers until the first write.
type exportWriter struct {
	http.ResponseWriter
	contentType string
	filename    string
	started     bool
}

func (e *exportWriter) start() {
	e.started = true
	e.Header().Set("Content-Type", e.contentType)
	e.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", e.filename))
	e.ResponseWriter.WriteHeader(http.StatusOK)
}

func (e *exportWriter) Write(b []byte) (int, error) {
	if !e.started {
		e.start()
	}
	return e.ResponseWriter.Write(b)
}

func parseIDList(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid problem ID %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
