package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/services"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// noScope runs handlers without a database scope.
func noScope(next http.HandlerFunc) http.HandlerFunc { return next }

type mockProblemService struct {
	createFn  func(ctx context.Context, input services.CreateProblemInput) (*models.Problem, error)
	getFn     func(ctx context.Context, id uuid.UUID) (*models.Problem, error)
	listFn    func(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error)
	updateFn  func(ctx context.Context, id uuid.UUID, patch models.ProblemPatch, expectedVersion *int) (*models.Problem, error)
	deleteFn  func(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int) error
	historyFn func(ctx context.Context, id uuid.UUID) ([]*models.ProblemHistory, error)
}

var _ services.ProblemService = (*mockProblemService)(nil)

func (m *mockProblemService) Create(ctx context.Context, input services.CreateProblemInput) (*models.Problem, error) {
	return m.createFn(ctx, input)
}
func (m *mockProblemService) Get(ctx context.Context, id uuid.UUID) (*models.Problem, error) {
	return m.getFn(ctx, id)
}
func (m *mockProblemService) List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error) {
	return m.listFn(ctx, filter)
}
func (m *mockProblemService) Update(ctx context.Context, id uuid.UUID, patch models.ProblemPatch, expectedVersion *int) (*models.Problem, error) {
	return m.updateFn(ctx, id, patch, expectedVersion)
}
func (m *mockProblemService) Delete(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int) error {
	return m.deleteFn(ctx, id, reason, expectedVersion)
}
func (m *mockProblemService) History(ctx context.Context, id uuid.UUID) ([]*models.ProblemHistory, error) {
	return m.historyFn(ctx, id)
}

type mockRCAService struct {
	startFn    func(ctx context.Context, id uuid.UUID, input services.StartRCAInput) (*models.Problem, error)
	advanceFn  func(ctx context.Context, id uuid.UUID, target models.RCAPhase, notes string) (*models.Problem, error)
	completeFn func(ctx context.Context, id uuid.UUID, notes string) (*models.RCACompletion, error)
	abortFn    func(ctx context.Context, id uuid.UUID, reason string) (*models.Problem, error)
	findingFn  func(ctx context.Context, id uuid.UUID, input services.FindingInput) (*models.RCAFinding, error)
	progressFn func(ctx context.Context, id uuid.UUID) (*models.RCAProgress, error)
}

var _ services.RCAService = (*mockRCAService)(nil)

func (m *mockRCAService) StartRCA(ctx context.Context, id uuid.UUID, input services.StartRCAInput) (*models.Problem, error) {
	return m.startFn(ctx, id, input)
}
func (m *mockRCAService) AdvancePhase(ctx context.Context, id uuid.UUID, target models.RCAPhase, notes string) (*models.Problem, error) {
	return m.advanceFn(ctx, id, target, notes)
}
func (m *mockRCAService) CompleteRCA(ctx context.Context, id uuid.UUID, notes string) (*models.RCACompletion, error) {
	return m.completeFn(ctx, id, notes)
}
func (m *mockRCAService) AbortRCA(ctx context.Context, id uuid.UUID, reason string) (*models.Problem, error) {
	return m.abortFn(ctx, id, reason)
}
func (m *mockRCAService) AddFinding(ctx context.Context, id uuid.UUID, input services.FindingInput) (*models.RCAFinding, error) {
	return m.findingFn(ctx, id, input)
}
func (m *mockRCAService) GetProgress(ctx context.Context, id uuid.UUID) (*models.RCAProgress, error) {
	return m.progressFn(ctx, id)
}

type mockKnownErrorService struct {
	createFn     func(ctx context.Context, input services.KnownErrorInput) (*models.KnownError, error)
	getFn        func(ctx context.Context, id uuid.UUID) (*models.KnownError, error)
	listFn       func(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error)
	updateFn     func(ctx context.Context, id uuid.UUID, input services.KnownErrorInput) (*models.KnownError, error)
	deleteFn     func(ctx context.Context, id uuid.UUID) error
	fromProblem  func(ctx context.Context, problemID uuid.UUID, overrides services.KnownErrorInput) (*models.KnownError, error)
	searchFn     func(ctx context.Context, symptom string, category *models.Category, limit int) ([]models.KnownErrorMatch, error)
	recordFn     func(ctx context.Context, id uuid.UUID) (*models.KnownError, error)
	usageStatsFn func(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error)
}

var _ services.KnownErrorService = (*mockKnownErrorService)(nil)

func (m *mockKnownErrorService) Create(ctx context.Context, input services.KnownErrorInput) (*models.KnownError, error) {
	return m.createFn(ctx, input)
}
func (m *mockKnownErrorService) Get(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	return m.getFn(ctx, id)
}
func (m *mockKnownErrorService) List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error) {
	return m.listFn(ctx, filter)
}
func (m *mockKnownErrorService) Update(ctx context.Context, id uuid.UUID, input services.KnownErrorInput) (*models.KnownError, error) {
	return m.updateFn(ctx, id, input)
}
func (m *mockKnownErrorService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}
func (m *mockKnownErrorService) CreateFromProblem(ctx context.Context, problemID uuid.UUID, overrides services.KnownErrorInput) (*models.KnownError, error) {
	return m.fromProblem(ctx, problemID, overrides)
}
func (m *mockKnownErrorService) SearchSimilar(ctx context.Context, symptom string, category *models.Category, limit int) ([]models.KnownErrorMatch, error) {
	return m.searchFn(ctx, symptom, category, limit)
}
func (m *mockKnownErrorService) RecordUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	return m.recordFn(ctx, id)
}
func (m *mockKnownErrorService) UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error) {
	return m.usageStatsFn(ctx, topN)
}

type mockStatisticsService struct {
	basicFn  func(ctx context.Context, filter models.ProblemFilter) (*models.ProblemStatistics, error)
	trendsFn func(ctx context.Context, period models.TrendPeriod) (*models.ProblemTrends, error)
	kpisFn   func(ctx context.Context, period models.TrendPeriod) (*models.ProblemKPIs, error)
}

var _ services.StatisticsService = (*mockStatisticsService)(nil)

func (m *mockStatisticsService) BasicStatistics(ctx context.Context, filter models.ProblemFilter) (*models.ProblemStatistics, error) {
	return m.basicFn(ctx, filter)
}
func (m *mockStatisticsService) Trends(ctx context.Context, period models.TrendPeriod) (*models.ProblemTrends, error) {
	return m.trendsFn(ctx, period)
}
func (m *mockStatisticsService) KPIs(ctx context.Context, period models.TrendPeriod) (*models.ProblemKPIs, error) {
	return m.kpisFn(ctx, period)
}

type mockBulkService struct {
	updateFn func(ctx context.Context, ids []uuid.UUID, patch models.ProblemPatch) (*models.BulkResult, error)
	deleteFn func(ctx context.Context, ids []uuid.UUID, reason string) (*models.BulkResult, error)
	exportFn func(ctx context.Context, filter models.ProblemFilter, format models.ExportFormat, w io.Writer) error
}

var _ services.BulkService = (*mockBulkService)(nil)

func (m *mockBulkService) BulkUpdate(ctx context.Context, ids []uuid.UUID, patch models.ProblemPatch) (*models.BulkResult, error) {
	return m.updateFn(ctx, ids, patch)
}
func (m *mockBulkService) BulkDelete(ctx context.Context, ids []uuid.UUID, reason string) (*models.BulkResult, error) {
	return m.deleteFn(ctx, ids, reason)
}
func (m *mockBulkService) Export(ctx context.Context, filter models.ProblemFilter, format models.ExportFormat, w io.Writer) error {
	return m.exportFn(ctx, filter, format, w)
}
