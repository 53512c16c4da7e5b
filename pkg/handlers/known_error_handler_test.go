package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

func newKnownErrorMux(svc services.KnownErrorService) *http.ServeMux {
	mux := http.NewServeMux()
	NewKnownErrorHandler(svc, zap.NewNop()).RegisterRoutes(mux, noScope)
	return mux
}

func TestKnownErrorHandler_CreateAndUpdate(t *testing.T) {
	var created, updated services.KnownErrorInput
	svc := &mockKnownErrorService{
		createFn: func(ctx context.Context, input services.KnownErrorInput) (*models.KnownError, error) {
			created = input
			return &models.KnownError{ID: uuid.New(), Title: *input.Title}, nil
		},
		updateFn: func(ctx context.Context, id uuid.UUID, input services.KnownErrorInput) (*models.KnownError, error) {
			updated = input
			return &models.KnownError{ID: id}, nil
		},
	}
	mux := newKnownErrorMux(svc)

	rec := serve(t, mux, http.MethodPost, "/known-errors", map[string]any{
		"title":    "Pool exhaustion",
		"symptom":  "timeouts",
		"category": "software",
		"tags":     []string{"db"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Pool exhaustion", decodeData[models.KnownError](t, rec).Title)
	require.NotNil(t, created.Category)
	assert.Equal(t, models.CategorySoftware, *created.Category)
	require.NotNil(t, created.Tags)
	assert.Equal(t, []string{"db"}, *created.Tags)
	assert.Nil(t, created.Workaround)

	rec = serve(t, mux, http.MethodPut, "/known-errors/"+uuid.NewString(), map[string]any{"workaround": "restart"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, updated.Workaround)
	assert.Equal(t, "restart", *updated.Workaround)
	assert.Nil(t, updated.Title, "omitted fields stay nil so they are left unchanged")
}

func TestKnownErrorHandler_ListFilters(t *testing.T) {
	var got models.KnownErrorFilter
	svc := &mockKnownErrorService{
		listFn: func(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error) {
			got = filter
			return nil, nil
		},
	}

	rec := serve(t, newKnownErrorMux(svc), http.MethodGet, "/known-errors?category=network&visibility=public", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[KnownErrorListResponse](t, rec)
	assert.NotNil(t, resp.KnownErrors)
	require.NotNil(t, got.Category)
	assert.Equal(t, models.CategoryNetwork, *got.Category)
	require.NotNil(t, got.Visibility)
	assert.Equal(t, models.VisibilityPublic, *got.Visibility)
}

func TestKnownErrorHandler_GetAndDelete(t *testing.T) {
	id := uuid.New()
	deleted := false
	svc := &mockKnownErrorService{
		getFn: func(ctx context.Context, got uuid.UUID) (*models.KnownError, error) {
			if got != id {
				return nil, apperrors.ErrNotFound
			}
			return &models.KnownError{ID: id}, nil
		},
		deleteFn: func(ctx context.Context, got uuid.UUID) error {
			deleted = got == id
			return nil
		},
	}
	mux := newKnownErrorMux(svc)

	rec := serve(t, mux, http.MethodGet, "/known-errors/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, mux, http.MethodGet, "/known-errors/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, mux, http.MethodGet, "/known-errors/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_known_error_id", decodeError(t, rec).Error)

	rec = serve(t, mux, http.MethodDelete, "/known-errors/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, deleted)
}

func TestKnownErrorHandler_RecordUsage(t *testing.T) {
	svc := &mockKnownErrorService{
		recordFn: func(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
			return &models.KnownError{ID: id, UsageCount: 4}, nil
		},
	}

	rec := serve(t, newKnownErrorMux(svc), http.MethodPost, "/known-errors/"+uuid.NewString()+"/use", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decodeData[models.KnownError](t, rec).UsageCount)
}

func TestKnownErrorHandler_SearchSimilar(t *testing.T) {
	var gotSymptom string
	var gotCategory *models.Category
	var gotLimit int
	svc := &mockKnownErrorService{
		searchFn: func(ctx context.Context, symptom string, category *models.Category, limit int) ([]models.KnownErrorMatch, error) {
			gotSymptom, gotCategory, gotLimit = symptom, category, limit
			return []models.KnownErrorMatch{{KnownError: &models.KnownError{Title: "Pool"}, Score: 1.5}}, nil
		},
	}
	mux := newKnownErrorMux(svc)

	rec := serve(t, mux, http.MethodGet, "/known-errors/search/similar?symptom=db+timeout&category=software&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[KnownErrorSearchResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.InDelta(t, 1.5, resp.Matches[0].Score, 0.001)
	assert.Equal(t, "db timeout", gotSymptom)
	require.NotNil(t, gotCategory)
	assert.Equal(t, models.CategorySoftware, *gotCategory)
	assert.Equal(t, 5, gotLimit)

	rec = serve(t, mux, http.MethodGet, "/known-errors/search/similar?symptom=x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, gotCategory)
	assert.Zero(t, gotLimit, "the service applies the default limit")

	rec = serve(t, mux, http.MethodGet, "/known-errors/search/similar?symptom=x&limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnownErrorHandler_UsageStatistics(t *testing.T) {
	var gotTop int
	svc := &mockKnownErrorService{
		usageStatsFn: func(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error) {
			gotTop = topN
			return &models.KnownErrorUsageStats{Total: 3, TotalUsage: 12}, nil
		},
	}

	rec := serve(t, newKnownErrorMux(svc), http.MethodGet, "/known-errors/statistics/usage?top=3", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, decodeData[models.KnownErrorUsageStats](t, rec).TotalUsage)
	assert.Equal(t, 3, gotTop)
}

func TestKnownErrorHandler_CreateFromProblem(t *testing.T) {
	problemID := uuid.New()
	var gotOverrides services.KnownErrorInput
	svc := &mockKnownErrorService{
		fromProblem: func(ctx context.Context, pid uuid.UUID, overrides services.KnownErrorInput) (*models.KnownError, error) {
			if pid != problemID {
				return nil, &apperrors.BusinessRuleViolation{Rule: "root_cause_not_identified", Message: "root cause not identified"}
			}
			gotOverrides = overrides
			return &models.KnownError{ID: uuid.New(), SourceProblemID: &pid}, nil
		},
	}
	mux := newKnownErrorMux(svc)

	rec := serve(t, mux, http.MethodPost, "/problems/"+problemID.String()+"/known-error", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	ke := decodeData[models.KnownError](t, rec)
	require.NotNil(t, ke.SourceProblemID)
	assert.Equal(t, problemID, *ke.SourceProblemID)
	assert.Nil(t, gotOverrides.Title)

	rec = serve(t, mux, http.MethodPost, "/problems/"+problemID.String()+"/known-error", map[string]any{"solution": "patch driver"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, gotOverrides.Solution)
	assert.Equal(t, "patch driver", *gotOverrides.Solution)

	rec = serve(t, mux, http.MethodPost, "/problems/"+uuid.NewString()+"/known-error", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
