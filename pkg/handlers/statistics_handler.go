package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

// StatisticsHandler serves problem statistics, trends and KPIs.
type StatisticsHandler struct {
	statisticsService services.StatisticsService
	logger            *zap.Logger
}

// NewStatisticsHandler creates a new statistics handler.
func NewStatisticsHandler(statisticsService services.StatisticsService, logger *zap.Logger) *StatisticsHandler {
	return &StatisticsHandler{
		statisticsService: statisticsService,
		logger:            logger,
	}
}

// RegisterRoutes registers the statistics handler's routes on the given mux.
func (h *StatisticsHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /problems/statistics", scope(h.Statistics))
	mux.HandleFunc("GET /problems/trends", scope(h.Trends))
	mux.HandleFunc("GET /problems/kpis", scope(h.KPIs))
}

// Statistics handles GET /problems/statistics
// Accepts the same filter parameters as GET /problems, without pagination.
func (h *StatisticsHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProblemFilter(r.URL.Query(), false)
	if err != nil {
		writeFilterError(w, r, err, h.logger)
		return
	}

	stats, err := h.statisticsService.BasicStatistics(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, stats, h.logger)
}

// Trends handles GET /problems/trends?period=
func (h *StatisticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.statisticsService.Trends(r.Context(), periodParam(r))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, trends, h.logger)
}

// KPIs handles GET /problems/kpis?period=
func (h *StatisticsHandler) KPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := h.statisticsService.KPIs(r.Context(), periodParam(r))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, kpis, h.logger)
}

// periodParam defaults to 30 days.
func periodParam(r *http.Request) models.TrendPeriod {
	if p := strings.TrimSpace(r.URL.Query().Get("period")); p != "" {
		return models.TrendPeriod(p)
	}
	return models.TrendPeriod30d
}
