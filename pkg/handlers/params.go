package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ScopeMiddleware wraps a handler so it runs with a database scope in its
// request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ParseProblemID extracts and validates the problem ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseProblemID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_problem_id", "Invalid problem ID format", logger)
}

// ParseKnownErrorID extracts and validates the known error ID from the request path.
// Expects path parameter: id
func ParseKnownErrorID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_known_error_id", "Invalid known error ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parseProblemFilter reads the list/statistics/export filter from the query
// string and rejects unknown enum values with a *apperrors.ValidationError
// naming the parameter. Multi-valued parameters accept
// repetition (?status=a&status=b) or commas (?status=a,b).
func parseProblemFilter(q url.Values, paginate bool) (models.ProblemFilter, error) {
	filter := models.ProblemFilter{
		Statuses:        enumValues[models.ProblemStatus](q, "status"),
		Priorities:      enumValues[models.Priority](q, "priority"),
		Categories:      enumValues[models.Category](q, "category"),
		BusinessImpacts: enumValues[models.BusinessImpact](q, "business_impact"),
		RCAPhases:       enumValues[models.RCAPhase](q, "rca_phase"),
		AffectedService: strings.TrimSpace(q.Get("affected_service")),
		Search:          strings.TrimSpace(q.Get("q")),
	}

	var err error
	if filter.CreatedFrom, err = parseTimeParam(q, "created_from"); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseTimeParam(q, "created_to"); err != nil {
		return filter, err
	}

	if !paginate {
		return filter, services.ValidateProblemFilter(filter)
	}
	if filter.Limit, err = parseIntParam(q, "limit", defaultPageLimit); err != nil {
		return filter, err
	}
	if filter.Limit < 1 || filter.Limit > maxPageLimit {
		return filter, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
	}
	if filter.Offset, err = parseIntParam(q, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}
	return filter, services.ValidateProblemFilter(filter)
}

// writeFilterError reports a parseProblemFilter failure as 400, keeping the
// per-field details of a validation error.
func writeFilterError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var validationErr *apperrors.ValidationError
	if errors.As(err, &validationErr) {
		WriteServiceError(w, r, err, logger)
		return
	}
	writeBadRequest(w, err.Error(), logger)
}

func enumValues[T ~string](q url.Values, key string) []T {
	var out []T
	for _, raw := range q[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, T(part))
			}
		}
	}
	return out
}

func parseIntParam(q url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseTimeParam(q url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", key)
	}
	return &t, nil
}

// expectedVersion returns the optimistic-lock version sent by the client,
// taken from the body first, then the If-Match header (quoted or bare),
// then the version query parameter. Nil means no check.
func expectedVersion(r *http.Request, fromBody *int) (*int, error) {
	if fromBody != nil {
		return fromBody, nil
	}
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	source := "If-Match header"
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("version"))
		source = "version"
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return nil, fmt.Errorf("%s must be a positive integer", source)
	}
	return &v, nil
}
