package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/cache"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
)

// Search ranking weights.
const (
	substringBonus   = 0.5
	defaultTopUsed   = 10
	maxUsageStatsTop = 100
)

// KnownErrorInput holds the editable fields of a known error. Nil fields are
// left unchanged on update and defaulted on create.
type KnownErrorInput struct {
	Title          *string
	Symptom        *string
	RootCause      *string
	Workaround     *string
	Solution       *string
	Category       *models.Category
	Tags           *[]string
	SearchKeywords *[]string
	Visibility     *models.Visibility
}

// KnownErrorService manages the known-error knowledge base.
type KnownErrorService interface {
	Create(ctx context.Context, input KnownErrorInput) (*models.KnownError, error)
	Get(ctx context.Context, id uuid.UUID) (*models.KnownError, error)
	List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error)
	Update(ctx context.Context, id uuid.UUID, input KnownErrorInput) (*models.KnownError, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateFromProblem documents a problem whose root cause is identified as
	// a known error and links the two. Fields in overrides replace the values
	// derived from the problem and its findings.
	CreateFromProblem(ctx context.Context, problemID uuid.UUID, overrides KnownErrorInput) (*models.KnownError, error)

	// SearchSimilar ranks known errors by keyword and substring overlap with
	// symptom. This is lexical matching, not semantic search.
	SearchSimilar(ctx context.Context, symptom string, category *models.Category, limit int) ([]models.KnownErrorMatch, error)

	// RecordUsage counts one reuse of a known error. Each call counts once.
	RecordUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error)

	UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error)
}

// KnownErrorServiceConfig holds search limits.
type KnownErrorServiceConfig struct {
	DefaultSearchLimit int
	MaxSearchLimit     int
}

type knownErrorService struct {
	repo        repositories.KnownErrorRepository
	problemRepo repositories.ProblemRepository
	cache       cache.KnownErrorCache
	runInTx     TxFunc
	publisher   events.Publisher
	config      KnownErrorServiceConfig
	now         func() time.Time
	logger      *zap.Logger
}

// NewKnownErrorService creates a new KnownErrorService.
func NewKnownErrorService(
	repo repositories.KnownErrorRepository,
	problemRepo repositories.ProblemRepository,
	knownErrorCache cache.KnownErrorCache,
	runInTx TxFunc,
	publisher events.Publisher,
	config KnownErrorServiceConfig,
	logger *zap.Logger,
) KnownErrorService {
	if knownErrorCache == nil {
		knownErrorCache = cache.Noop{}
	}
	if config.DefaultSearchLimit < 1 {
		config.DefaultSearchLimit = 10
	}
	if config.MaxSearchLimit < config.DefaultSearchLimit {
		config.MaxSearchLimit = config.DefaultSearchLimit
	}
	return &knownErrorService{
		repo:        repo,
		problemRepo: problemRepo,
		cache:       knownErrorCache,
		runInTx:     runInTx,
		publisher:   publisher,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.Named("known-error-service"),
	}
}

var _ KnownErrorService = (*knownErrorService)(nil)

// ============================================================================
// CRUD
// ============================================================================

func (s *knownErrorService) Create(ctx context.Context, input KnownErrorInput) (*models.KnownError, error) {
	ke := &models.KnownError{
		Category:   models.CategoryOther,
		Visibility: models.VisibilityPublic,
		CreatedBy:  models.ActorName(ctx),
	}
	if err := applyKnownErrorInput(ke, input); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, ke); err != nil {
		return nil, err
	}

	s.logger.Info("Known error created", zap.String("known_error_id", ke.ID.String()))
	s.publisher.Publish(ctx, events.SubjectKnownErrorCreated, ke.ID, map[string]any{"category": ke.Category})
	return ke, nil
}

// Get reads through the cache.
func (s *knownErrorService) Get(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	if ke, ok := s.cache.Get(id); ok {
		return ke, nil
	}
	ke, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ke)
	return ke, nil
}

func (s *knownErrorService) List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error) {
	if filter.Category != nil && !filter.Category.IsValid() {
		return nil, apperrors.NewValidationError("category", "must be one of "+joinEnum(models.ValidCategories))
	}
	if filter.Visibility != nil && !filter.Visibility.IsValid() {
		return nil, apperrors.NewValidationError("visibility", "must be public or internal")
	}
	return s.repo.List(ctx, filter)
}

func (s *knownErrorService) Update(ctx context.Context, id uuid.UUID, input KnownErrorInput) (*models.KnownError, error) {
	ke, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Keywords derived from the old text are re-derived unless the caller
	// supplies its own.
	textChanged := input.Title != nil || input.Symptom != nil || input.Tags != nil
	if textChanged && input.SearchKeywords == nil {
		ke.SearchKeywords = nil
	}
	if err := applyKnownErrorInput(ke, input); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, ke); err != nil {
		return nil, err
	}
	s.cache.Delete(id)
	return ke, nil
}

func (s *knownErrorService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)
	s.logger.Info("Known error deleted", zap.String("known_error_id", id.String()))
	return nil
}

// applyKnownErrorInput merges input into ke and validates the result.
func applyKnownErrorInput(ke *models.KnownError, input KnownErrorInput) error {
	if input.Title != nil {
		ke.Title = strings.TrimSpace(*input.Title)
	}
	if input.Symptom != nil {
		ke.Symptom = strings.TrimSpace(*input.Symptom)
	}
	if input.RootCause != nil {
		ke.RootCause = strings.TrimSpace(*input.RootCause)
	}
	if input.Workaround != nil {
		ke.Workaround = strings.TrimSpace(*input.Workaround)
	}
	if input.Solution != nil {
		ke.Solution = strings.TrimSpace(*input.Solution)
	}
	if input.Category != nil {
		ke.Category = *input.Category
	}
	if input.Tags != nil {
		ke.Tags = uniqueStrings(*input.Tags)
	}
	if input.SearchKeywords != nil {
		ke.SearchKeywords = normalizeKeywords(*input.SearchKeywords)
	}
	if input.Visibility != nil {
		ke.Visibility = *input.Visibility
	}

	verr := &apperrors.ValidationError{}
	validateTitle(verr, ke.Title)
	if ke.Symptom == "" {
		verr.Add("symptom", "is required")
	}
	if ke.Solution == "" {
		verr.Add("solution", "is required")
	}
	if !ke.Category.IsValid() {
		verr.Add("category", "must be one of "+joinEnum(models.ValidCategories))
	}
	if !ke.Visibility.IsValid() {
		verr.Add("visibility", "must be public or internal")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if len(ke.SearchKeywords) == 0 {
		ke.SearchKeywords = deriveKeywords(ke.Title, ke.Symptom, ke.Tags)
	}
	if ke.Tags == nil {
		ke.Tags = []string{}
	}
	return nil
}

// deriveKeywords builds search keywords from title, symptom and tags.
func deriveKeywords(title, symptom string, tags []string) []string {
	return tokenize(title + " " + symptom + " " + strings.Join(tags, " "))
}

// normalizeKeywords lowercases caller-supplied keywords so they match tokenize output.
func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(k)))
	}
	return uniqueStrings(out)
}

// ============================================================================
// Create from problem
// ============================================================================

func (s *knownErrorService) CreateFromProblem(ctx context.Context, problemID uuid.UUID, overrides KnownErrorInput) (*models.KnownError, error) {
	var created *models.KnownError
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.problemRepo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if !p.RCAPhase.AtLeast(models.RCAPhaseRootCauseIdentified) {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: string(models.RCAPhaseRootCauseIdentified),
				Message:  "a known error can only be created once the root cause is identified",
			}
		}
		if p.KnownErrorID != nil {
			return fmt.Errorf("%w: problem %s is already linked to known error %s",
				apperrors.ErrConflict, p.ProblemNumber, p.KnownErrorID)
		}

		ke := knownErrorFromProblem(p)
		ke.CreatedBy = models.ActorName(ctx)
		if err := applyKnownErrorInput(ke, overrides); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, ke); err != nil {
			return err
		}

		next := p.Clone()
		next.KnownErrorID = &ke.ID
		switch next.Status {
		case models.ProblemStatusNew, models.ProblemStatusInvestigating, models.ProblemStatusRCAInProgress:
			next.ApplyStatus(models.ProblemStatusKnownError, s.now())
		}
		if err := s.problemRepo.Update(ctx, next); err != nil {
			return err
		}

		entry := &models.ProblemHistory{
			ProblemID: problemID,
			Action:    models.HistoryActionUpdated,
			Note:      strPtr("known error created: " + ke.ID.String()),
			Actor:     models.ActorName(ctx),
		}
		if next.Status != p.Status {
			entry.FromValue = strPtr(string(p.Status))
			entry.ToValue = strPtr(string(next.Status))
		}
		if err := s.problemRepo.AddHistory(ctx, entry); err != nil {
			return err
		}

		created = ke
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Known error created from problem",
		zap.String("known_error_id", created.ID.String()),
		zap.String("problem_id", problemID.String()))
	s.publisher.Publish(ctx, events.SubjectKnownErrorCreated, created.ID, map[string]any{
		"category":          created.Category,
		"source_problem_id": problemID,
	})
	return created, nil
}

// knownErrorFromProblem derives a draft: cause findings become the root cause
// and recommendation findings the solution.
func knownErrorFromProblem(p *models.Problem) *models.KnownError {
	ke := &models.KnownError{
		Title:           p.Title,
		Symptom:         p.SymptomText(),
		RootCause:       joinFindings(p.FindingsOfType(models.FindingTypeCause)),
		Solution:        joinFindings(p.FindingsOfType(models.FindingTypeRecommendation)),
		Category:        p.Category,
		Tags:            append([]string(nil), p.AffectedServices...),
		Visibility:      models.VisibilityInternal,
		SourceProblemID: &p.ID,
	}
	return ke
}

func joinFindings(findings []models.RCAFinding) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, f.Description)
	}
	return strings.Join(parts, "\n")
}

// ============================================================================
// Search and usage
// ============================================================================

func (s *knownErrorService) SearchSimilar(ctx context.Context, symptom string, category *models.Category, limit int) ([]models.KnownErrorMatch, error) {
	verr := &apperrors.ValidationError{}
	symptom = strings.TrimSpace(symptom)
	if symptom == "" {
		verr.Add("symptom", "is required")
	}
	if category != nil && !category.IsValid() {
		verr.Add("category", "must be one of "+joinEnum(models.ValidCategories))
	}
	switch {
	case limit == 0:
		limit = s.config.DefaultSearchLimit
	case limit < 0 || limit > s.config.MaxSearchLimit:
		verr.Add("limit", fmt.Sprintf("must be between 1 and %d", s.config.MaxSearchLimit))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	tokens := tokenize(symptom)
	candidates, err := s.repo.FindCandidates(ctx, symptom, tokens, category)
	if err != nil {
		return nil, err
	}

	matches := rankKnownErrors(symptom, tokens, candidates)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// rankKnownErrors scores candidates and orders them by score, then
// usage_count descending, then last_used_at descending. Candidates with a
// zero score are dropped.
//
// score = |query tokens found in the entry's keywords, title or symptom| / |query tokens|
// plus substringBonus when either symptom text contains the other.
func rankKnownErrors(symptom string, tokens []string, candidates []*models.KnownError) []models.KnownErrorMatch {
	query := normalizeText(symptom)

	matches := make([]models.KnownErrorMatch, 0, len(candidates))
	for _, ke := range candidates {
		vocabulary := make(map[string]struct{})
		for _, k := range ke.SearchKeywords {
			vocabulary[strings.ToLower(k)] = struct{}{}
		}
		for _, t := range tokenize(ke.Title + " " + ke.Symptom) {
			vocabulary[t] = struct{}{}
		}

		score := 0.0
		if len(tokens) > 0 {
			hits := 0
			for _, t := range tokens {
				if _, ok := vocabulary[t]; ok {
					hits++
				}
			}
			score = float64(hits) / float64(len(tokens))
		}

		entry := normalizeText(ke.Symptom)
		if query != "" && entry != "" && (strings.Contains(entry, query) || strings.Contains(query, entry)) {
			score += substringBonus
		}

		if score > 0 {
			matches = append(matches, models.KnownErrorMatch{KnownError: ke, Score: round2(score)})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.KnownError.UsageCount != b.KnownError.UsageCount {
			return a.KnownError.UsageCount > b.KnownError.UsageCount
		}
		la, lb := a.KnownError.LastUsedAt, b.KnownError.LastUsedAt
		switch {
		case la != nil && lb != nil && !la.Equal(*lb):
			return la.After(*lb)
		case la != nil && lb == nil:
			return true
		case la == nil && lb != nil:
			return false
		}
		return a.KnownError.CreatedAt.After(b.KnownError.CreatedAt)
	})

	return matches
}

func (s *knownErrorService) RecordUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	ke, err := s.repo.IncrementUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(id)

	s.publisher.Publish(ctx, events.SubjectKnownErrorUsed, id, map[string]any{"usage_count": ke.UsageCount})
	return ke, nil
}

func (s *knownErrorService) UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error) {
	switch {
	case topN == 0:
		topN = defaultTopUsed
	case topN < 0 || topN > maxUsageStatsTop:
		return nil, apperrors.NewValidationError("top", fmt.Sprintf("must be between 1 and %d", maxUsageStatsTop))
	}

	stats, err := s.repo.UsageStatistics(ctx, topN)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

