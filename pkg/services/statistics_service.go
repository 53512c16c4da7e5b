package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
)

const (
	rollingWindowBuckets = 7
	day                  = 24 * time.Hour
)

// SLAPolicy returns the resolution target for a priority.
type SLAPolicy func(models.Priority) time.Duration

// StatisticsService computes problem statistics, trends and KPIs. Each call
// reads one consistent snapshot, so counts and rates within a response agree
// with each other even while problems are being written.
type StatisticsService interface {
	BasicStatistics(ctx context.Context, filter models.ProblemFilter) (*models.ProblemStatistics, error)
	Trends(ctx context.Context, period models.TrendPeriod) (*models.ProblemTrends, error)
	KPIs(ctx context.Context, period models.TrendPeriod) (*models.ProblemKPIs, error)
}

type statisticsService struct {
	problemRepo    repositories.ProblemRepository
	knownErrorRepo repositories.KnownErrorRepository
	readSnapshot   TxFunc
	sla            SLAPolicy
	now            func() time.Time
	logger         *zap.Logger
}

// NewStatisticsService creates a new StatisticsService.
func NewStatisticsService(
	problemRepo repositories.ProblemRepository,
	knownErrorRepo repositories.KnownErrorRepository,
	readSnapshot TxFunc,
	sla SLAPolicy,
	logger *zap.Logger,
) StatisticsService {
	return &statisticsService{
		problemRepo:    problemRepo,
		knownErrorRepo: knownErrorRepo,
		readSnapshot:   readSnapshot,
		sla:            sla,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.Named("statistics-service"),
	}
}

var _ StatisticsService = (*statisticsService)(nil)

func (s *statisticsService) BasicStatistics(ctx context.Context, filter models.ProblemFilter) (*models.ProblemStatistics, error) {
	filter.Limit, filter.Offset = 0, 0
	if err := ValidateProblemFilter(filter); err != nil {
		return nil, err
	}

	snapshot, err := s.loadSnapshot(ctx, filter, false)
	if err != nil {
		return nil, err
	}
	return computeBasicStatistics(snapshot.Problems, snapshot.TakenAt), nil
}

func (s *statisticsService) Trends(ctx context.Context, period models.TrendPeriod) (*models.ProblemTrends, error) {
	if !period.IsValid() {
		return nil, apperrors.NewValidationError("period", "must be one of "+joinEnum(models.ValidTrendPeriods))
	}

	snapshot, err := s.loadSnapshot(ctx, s.windowFilter(), false)
	if err != nil {
		return nil, err
	}
	return computeTrends(snapshot, period), nil
}

func (s *statisticsService) KPIs(ctx context.Context, period models.TrendPeriod) (*models.ProblemKPIs, error) {
	if !period.IsValid() {
		return nil, apperrors.NewValidationError("period", "must be one of "+joinEnum(models.ValidTrendPeriods))
	}

	snapshot, err := s.loadSnapshot(ctx, s.windowFilter(), true)
	if err != nil {
		return nil, err
	}
	return computeKPIs(snapshot, period, s.sla), nil
}

// windowFilter selects every problem created up to now. Problems created
// before the window still count when they were resolved inside it.
func (s *statisticsService) windowFilter() models.ProblemFilter {
	now := s.now()
	return models.ProblemFilter{CreatedTo: &now}
}

// loadSnapshot reads problems, and optionally known errors, in one read-only
// repeatable-read transaction.
func (s *statisticsService) loadSnapshot(ctx context.Context, filter models.ProblemFilter, withKnownErrors bool) (*models.ProblemSnapshot, error) {
	snapshot := &models.ProblemSnapshot{}
	err := s.readSnapshot(ctx, func(ctx context.Context) error {
		problems, _, err := s.problemRepo.List(ctx, filter)
		if err != nil {
			return err
		}
		snapshot.Problems = problems

		if withKnownErrors {
			kes, err := s.knownErrorRepo.List(ctx, models.KnownErrorFilter{})
			if err != nil {
				return err
			}
			snapshot.KnownErrors = kes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	snapshot.TakenAt = s.now()

	s.logger.Debug("Loaded statistics snapshot",
		zap.Int("problems", len(snapshot.Problems)),
		zap.Int("known_errors", len(snapshot.KnownErrors)))
	return snapshot, nil
}

// ============================================================================
// Pure computations
// ============================================================================

func computeBasicStatistics(problems []*models.Problem, now time.Time) *models.ProblemStatistics {
	stats := &models.ProblemStatistics{
		Total:            len(problems),
		ByStatus:         zeroCounts(models.ValidProblemStatuses),
		ByPriority:       zeroCounts(models.ValidPriorities),
		ByCategory:       zeroCounts(models.ValidCategories),
		ByBusinessImpact: zeroCounts(models.ValidBusinessImpacts),
		GeneratedAt:      now,
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var resolutionHours []float64

	for _, p := range problems {
		stats.ByStatus[p.Status]++
		stats.ByPriority[p.Priority]++
		stats.ByCategory[p.Category]++
		stats.ByBusinessImpact[p.BusinessImpact]++

		if d, ok := p.ResolutionTime(); ok {
			resolutionHours = append(resolutionHours, d.Hours())
		}
		if t := p.ResolvedTime(); t != nil && !t.Before(monthStart) && !t.After(now) {
			stats.ResolvedThisMonth++
		}
		if p.RCAPhase != models.RCAPhaseNotStarted {
			stats.RCAStartedCount++
		}
		if p.RCAPhase == models.RCAPhaseCompleted {
			stats.RCACompletedCount++
		}
		if p.KnownErrorID != nil {
			stats.KnownErrorLinkedCount++
		}
	}

	stats.AvgResolutionHours = round2(mean(resolutionHours))
	stats.RCACompletionRate = percent(stats.RCACompletedCount, stats.RCAStartedCount)
	return stats
}

// periodWindow returns the first day of the period (midnight UTC) and the
// number of daily buckets. The current day is the last bucket.
func periodWindow(period models.TrendPeriod, now time.Time) (time.Time, int) {
	days := period.Days()
	today := now.UTC().Truncate(day)
	return today.AddDate(0, 0, -(days - 1)), days
}

func computeTrends(snapshot *models.ProblemSnapshot, period models.TrendPeriod) *models.ProblemTrends {
	now := snapshot.TakenAt
	from, days := periodWindow(period, now)

	trends := &models.ProblemTrends{
		Period:           period,
		From:             from,
		To:               now,
		Daily:            make([]models.TrendBucket, days),
		ByCategory:       zeroCounts(models.ValidCategories),
		ByBusinessImpact: zeroCounts(models.ValidBusinessImpacts),
	}
	resolvedHours := make([][]float64, days)
	for i := range trends.Daily {
		trends.Daily[i].Date = from.AddDate(0, 0, i).Format(time.DateOnly)
	}

	bucketOf := func(t time.Time) (int, bool) {
		if t.Before(from) || t.After(now) {
			return 0, false
		}
		return int(t.Sub(from) / day), true
	}

	for _, p := range snapshot.Problems {
		if i, ok := bucketOf(p.CreatedAt); ok {
			trends.Daily[i].Created++
			trends.TotalCreated++
			trends.ByCategory[p.Category]++
			trends.ByBusinessImpact[p.BusinessImpact]++
		}
		if t := p.ResolvedTime(); t != nil {
			if i, ok := bucketOf(*t); ok {
				trends.Daily[i].Resolved++
				trends.TotalResolved++
				if d, ok := p.ResolutionTime(); ok {
					resolvedHours[i] = append(resolvedHours[i], d.Hours())
				}
			}
		}
	}

	for i := range trends.Daily {
		trends.Daily[i].AvgResolutionHours = round2(mean(resolvedHours[i]))

		// Rolling mean over the daily averages of the buckets in the window
		// that had any resolution.
		var window []float64
		for j := max(0, i-rollingWindowBuckets+1); j <= i; j++ {
			if len(resolvedHours[j]) > 0 {
				window = append(window, mean(resolvedHours[j]))
			}
		}
		trends.Daily[i].RollingAvgHours = round2(mean(window))
	}

	return trends
}

func computeKPIs(snapshot *models.ProblemSnapshot, period models.TrendPeriod, sla SLAPolicy) *models.ProblemKPIs {
	now := snapshot.TakenAt
	from, _ := periodWindow(period, now)
	inWindow := func(t time.Time) bool { return !t.Before(from) && !t.After(now) }

	kpis := &models.ProblemKPIs{Period: period, From: from, To: now}

	var resolutionHours []float64
	firstTime := 0
	createdByService := make(map[string][]time.Time)

	for _, p := range snapshot.Problems {
		if t := p.ResolvedTime(); t != nil && inWindow(*t) {
			d, _ := p.ResolutionTime()
			resolutionHours = append(resolutionHours, d.Hours())
			kpis.ResolvedCount++
			if p.ReopenCount == 0 {
				firstTime++
			}
			if sla != nil && d <= sla(p.Priority) {
				kpis.ResolvedWithinSLA++
			}
		}

		if !inWindow(p.CreatedAt) {
			continue
		}
		kpis.TotalProblems++
		if isRecurrence(p, snapshot.KnownErrors) {
			kpis.RecurringCount++
		}
		for _, svc := range p.AffectedServices {
			createdByService[svc] = append(createdByService[svc], p.CreatedAt)
		}
	}

	kpis.MTTRHours = round2(mean(resolutionHours))
	kpis.MTBFHours = round2(meanTimeBetween(createdByService))
	kpis.FirstTimeResolutionRate = percent(firstTime, kpis.ResolvedCount)
	kpis.SLAComplianceRate = percent(kpis.ResolvedWithinSLA, kpis.ResolvedCount)
	kpis.RecurrenceRate = percent(kpis.RecurringCount, kpis.TotalProblems)
	return kpis
}

// meanTimeBetween returns the mean gap in hours between consecutive problems
// of the same service, over all services.
func meanTimeBetween(createdByService map[string][]time.Time) float64 {
	var gaps []float64
	for _, times := range createdByService {
		if len(times) < 2 {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		for i := 1; i < len(times); i++ {
			gaps = append(gaps, times[i].Sub(times[i-1]).Hours())
		}
	}
	return mean(gaps)
}

// isRecurrence reports whether p repeats a problem already documented as a
// known error: same category, overlapping symptom text, and the known error
// came from a different, earlier problem.
func isRecurrence(p *models.Problem, knownErrors []*models.KnownError) bool {
	symptom := normalizeText(p.SymptomText())
	if symptom == "" {
		return false
	}
	for _, ke := range knownErrors {
		if ke.SourceProblemID == nil || *ke.SourceProblemID == p.ID {
			continue
		}
		if ke.Category != p.Category || !ke.CreatedAt.Before(p.CreatedAt) {
			continue
		}
		known := normalizeText(ke.Symptom)
		if known != "" && (strings.Contains(symptom, known) || strings.Contains(known, symptom)) {
			return true
		}
	}
	return false
}

// ============================================================================
// Helpers
// ============================================================================

func zeroCounts[T comparable](keys []T) map[T]int {
	m := make(map[T]int, len(keys))
	for _, k := range keys {
		m[k] = 0
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percent returns part/whole as a percentage rounded to two decimals, and 0
// when whole is 0.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(whole))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
