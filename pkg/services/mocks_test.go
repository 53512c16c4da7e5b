package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
)

// ============================================================================
// In-memory problem repository
// ============================================================================

type mockProblemRepo struct {
	mu       sync.Mutex
	problems map[uuid.UUID]*models.Problem
	findings map[uuid.UUID][]models.RCAFinding
	history  []*models.ProblemHistory
	seq      int64
	now      func() time.Time

	// updateErr, when set, is returned by Update instead of writing.
	updateErr error
	// updates counts successful writes through Update.
	updates int
}

func newMockProblemRepo() *mockProblemRepo {
	return &mockProblemRepo{
		problems: make(map[uuid.UUID]*models.Problem),
		findings: make(map[uuid.UUID][]models.RCAFinding),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ repositories.ProblemRepository = (*mockProblemRepo)(nil)

// seed stores p as is, filling in identity fields the caller left empty.
func (m *mockProblemRepo) seed(p *models.Problem) *models.Problem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProblemNumber == "" {
		m.seq++
		p.ProblemNumber = models.FormatProblemNumber(m.seq)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	if p.Status == "" {
		p.Status = models.ProblemStatusNew
	}
	if p.RCAPhase == "" {
		p.RCAPhase = models.RCAPhaseNotStarted
	}
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}
	if p.Category == "" {
		p.Category = models.CategoryOther
	}
	if p.BusinessImpact == "" {
		p.BusinessImpact = models.BusinessImpactNone
	}
	m.problems[p.ID] = p.Clone()
	m.findings[p.ID] = append([]models.RCAFinding(nil), p.RCAFindings...)
	return p
}

func (m *mockProblemRepo) Create(ctx context.Context, p *models.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	p.ID = uuid.New()
	p.ProblemNumber = models.FormatProblemNumber(m.seq)
	p.Version = 1
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.problems[p.ID] = p.Clone()
	return nil
}

func (m *mockProblemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *mockProblemRepo) getLocked(id uuid.UUID) (*models.Problem, error) {
	p, ok := m.problems[id]
	if !ok || p.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	c := p.Clone()
	c.RCAFindings = append([]models.RCAFinding{}, m.findings[id]...)
	return c, nil
}

func (m *mockProblemRepo) matching(filter models.ProblemFilter) []*models.Problem {
	var out []*models.Problem
	for _, p := range m.problems {
		if p.DeletedAt != nil {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, p.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !slices.Contains(filter.Priorities, p.Priority) {
			continue
		}
		if len(filter.Categories) > 0 && !slices.Contains(filter.Categories, p.Category) {
			continue
		}
		if len(filter.BusinessImpacts) > 0 && !slices.Contains(filter.BusinessImpacts, p.BusinessImpact) {
			continue
		}
		if len(filter.RCAPhases) > 0 && !slices.Contains(filter.RCAPhases, p.RCAPhase) {
			continue
		}
		if filter.AffectedService != "" && !slices.Contains(p.AffectedServices, filter.AffectedService) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.CreatedFrom != nil && p.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && p.CreatedAt.After(*filter.CreatedTo) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

func (m *mockProblemRepo) List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.matching(filter)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ProblemNumber > all[j].ProblemNumber
	})

	total := len(all)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return all[start:end], total, nil
}

func (m *mockProblemRepo) Stream(ctx context.Context, filter models.ProblemFilter, fn func(*models.Problem) error) error {
	m.mu.Lock()
	all := m.matching(filter)
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ProblemNumber < all[j].ProblemNumber })
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	for _, p := range all {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockProblemRepo) Update(ctx context.Context, p *models.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.problems[p.ID]
	if !ok || stored.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	if stored.Version != p.Version {
		return apperrors.ErrVersionConflict
	}

	p.Version++
	p.UpdatedAt = m.now()
	c := p.Clone()
	c.RCAFindings = nil
	m.problems[p.ID] = c
	m.updates++
	return nil
}

func (m *mockProblemRepo) SoftDelete(ctx context.Context, id uuid.UUID, expectedVersion int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.problems[id]
	if !ok || stored.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return apperrors.ErrVersionConflict
	}
	now := m.now()
	stored.DeletedAt = &now
	stored.DeletedReason = &reason
	stored.Version++
	return nil
}

func (m *mockProblemRepo) AddFinding(ctx context.Context, f *models.RCAFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.RecordedAt = m.now()
	m.findings[f.ProblemID] = append(m.findings[f.ProblemID], *f)
	return nil
}

func (m *mockProblemRepo) ListFindings(ctx context.Context, problemID uuid.UUID) ([]models.RCAFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RCAFinding{}, m.findings[problemID]...), nil
}

func (m *mockProblemRepo) DeleteFindings(ctx context.Context, problemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.findings, problemID)
	return nil
}

func (m *mockProblemRepo) AddHistory(ctx context.Context, h *models.ProblemHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h.ID = uuid.New()
	h.CreatedAt = m.now()
	c := *h
	m.history = append(m.history, &c)
	return nil
}

func (m *mockProblemRepo) ListHistory(ctx context.Context, problemID uuid.UUID) ([]*models.ProblemHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ProblemHistory
	for _, h := range m.history {
		if h.ProblemID == problemID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockProblemRepo) historyActions(problemID uuid.UUID) []models.HistoryAction {
	entries, _ := m.ListHistory(context.Background(), problemID)
	actions := make([]models.HistoryAction, 0, len(entries))
	for _, h := range entries {
		actions = append(actions, h.Action)
	}
	return actions
}

// snapshot and restore give the mock transaction rollback semantics.
type problemRepoState struct {
	problems map[uuid.UUID]*models.Problem
	findings map[uuid.UUID][]models.RCAFinding
	history  []*models.ProblemHistory
}

func (m *mockProblemRepo) snapshot() problemRepoState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := problemRepoState{
		problems: make(map[uuid.UUID]*models.Problem, len(m.problems)),
		findings: make(map[uuid.UUID][]models.RCAFinding, len(m.findings)),
		history:  append([]*models.ProblemHistory(nil), m.history...),
	}
	for id, p := range m.problems {
		s.problems[id] = p.Clone()
	}
	for id, f := range m.findings {
		s.findings[id] = append([]models.RCAFinding(nil), f...)
	}
	return s
}

func (m *mockProblemRepo) restore(s problemRepoState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.problems, m.findings, m.history = s.problems, s.findings, s.history
}

// ============================================================================
// In-memory known-error repository
// ============================================================================

type mockKnownErrorRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.KnownError
	now     func() time.Time
	gets    int
}

func newMockKnownErrorRepo() *mockKnownErrorRepo {
	return &mockKnownErrorRepo{
		entries: make(map[uuid.UUID]*models.KnownError),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ repositories.KnownErrorRepository = (*mockKnownErrorRepo)(nil)

func cloneKnownError(ke *models.KnownError) *models.KnownError {
	c := *ke
	c.Tags = append([]string(nil), ke.Tags...)
	c.SearchKeywords = append([]string(nil), ke.SearchKeywords...)
	return &c
}

func (m *mockKnownErrorRepo) seed(ke *models.KnownError) *models.KnownError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ke.ID == uuid.Nil {
		ke.ID = uuid.New()
	}
	if ke.CreatedAt.IsZero() {
		ke.CreatedAt = m.now()
	}
	if ke.Category == "" {
		ke.Category = models.CategoryOther
	}
	if ke.Visibility == "" {
		ke.Visibility = models.VisibilityPublic
	}
	m.entries[ke.ID] = cloneKnownError(ke)
	return ke
}

func (m *mockKnownErrorRepo) Create(ctx context.Context, ke *models.KnownError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ke.ID = uuid.New()
	ke.CreatedAt = m.now()
	ke.UpdatedAt = ke.CreatedAt
	m.entries[ke.ID] = cloneKnownError(ke)
	return nil
}

func (m *mockKnownErrorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	ke, ok := m.entries[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneKnownError(ke), nil
}

func (m *mockKnownErrorRepo) List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.KnownError, 0)
	for _, ke := range m.entries {
		if filter.Category != nil && ke.Category != *filter.Category {
			continue
		}
		if filter.Visibility != nil && ke.Visibility != *filter.Visibility {
			continue
		}
		out = append(out, cloneKnownError(ke))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockKnownErrorRepo) Update(ctx context.Context, ke *models.KnownError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[ke.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	c := cloneKnownError(ke)
	c.UsageCount, c.LastUsedAt = stored.UsageCount, stored.LastUsedAt
	c.UpdatedAt = m.now()
	m.entries[ke.ID] = c
	return nil
}

func (m *mockKnownErrorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// FindCandidates returns every entry of the category. The service ranks and
// drops non-matching entries itself.
func (m *mockKnownErrorRepo) FindCandidates(ctx context.Context, text string, tokens []string, category *models.Category) ([]*models.KnownError, error) {
	return m.List(ctx, models.KnownErrorFilter{Category: category})
}

func (m *mockKnownErrorRepo) IncrementUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ke, ok := m.entries[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	now := m.now()
	ke.UsageCount++
	ke.LastUsedAt = &now
	return cloneKnownError(ke), nil
}

func (m *mockKnownErrorRepo) UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error) {
	all, _ := m.List(ctx, models.KnownErrorFilter{})

	stats := &models.KnownErrorUsageStats{
		Total:         len(all),
		ByCategory:    zeroCounts(models.ValidCategories),
		RecentlyAdded: all[:min(topN, len(all))],
	}
	var used []*models.KnownError
	for _, ke := range all {
		stats.TotalUsage += ke.UsageCount
		stats.ByCategory[ke.Category]++
		if ke.UsageCount == 0 {
			stats.NeverUsedCount++
		} else {
			used = append(used, ke)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].UsageCount > used[j].UsageCount })
	stats.TopUsed = used[:min(topN, len(used))]
	return stats, nil
}

// ============================================================================
// Publisher and transactions
// ============================================================================

type publishedEvent struct {
	Subject  string
	EntityID uuid.UUID
	Data     any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

var _ events.Publisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) Publish(ctx context.Context, subject string, entityID uuid.UUID, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Subject: subject, EntityID: entityID, Data: data})
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Subject
	}
	return out
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// rollbackTx returns a TxFunc that restores repo to its prior state when fn fails.
func rollbackTx(repo *mockProblemRepo) TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		saved := repo.snapshot()
		if err := fn(ctx); err != nil {
			repo.restore(saved)
			return err
		}
		return nil
	}
}

// fixedClock returns a clock that always reports t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func errBoom(what string) error {
	return fmt.Errorf("boom: %s", what)
}
