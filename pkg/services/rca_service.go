package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
)

// StartRCAInput holds the parameters of start_rca.
type StartRCAInput struct {
	AnalysisType string
	TeamMembers  []string
	InitialNotes string
}

// FindingInput holds a finding to append.
type FindingInput struct {
	FindingType models.FindingType
	Description string
	EvidenceRef string
}

// RCAService drives the root cause analysis state machine of a problem.
//
// Phases only move forward, one step per call. Every precondition failure is
// returned as a typed error and leaves the problem untouched. Operations are
// never retried here; a rejected call must be resubmitted by the caller.
type RCAService interface {
	StartRCA(ctx context.Context, problemID uuid.UUID, input StartRCAInput) (*models.Problem, error)
	AdvancePhase(ctx context.Context, problemID uuid.UUID, target models.RCAPhase, notes string) (*models.Problem, error)
	CompleteRCA(ctx context.Context, problemID uuid.UUID, notes string) (*models.RCACompletion, error)
	AbortRCA(ctx context.Context, problemID uuid.UUID, reason string) (*models.Problem, error)
	AddFinding(ctx context.Context, problemID uuid.UUID, input FindingInput) (*models.RCAFinding, error)
	GetProgress(ctx context.Context, problemID uuid.UUID) (*models.RCAProgress, error)
}

type rcaService struct {
	repo      repositories.ProblemRepository
	runInTx   TxFunc
	publisher events.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewRCAService creates a new RCAService.
func NewRCAService(
	repo repositories.ProblemRepository,
	runInTx TxFunc,
	publisher events.Publisher,
	logger *zap.Logger,
) RCAService {
	return &rcaService{
		repo:      repo,
		runInTx:   runInTx,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("rca-service"),
	}
}

var _ RCAService = (*rcaService)(nil)

// ============================================================================
// Transitions
// ============================================================================

func (s *rcaService) StartRCA(ctx context.Context, problemID uuid.UUID, input StartRCAInput) (*models.Problem, error) {
	var started *models.Problem
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if p.RCAPhase != models.RCAPhaseNotStarted {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: string(models.RCAPhaseNotStarted),
				Message:  "RCA already started",
			}
		}

		now := s.now()
		next := p.Clone()
		next.RCAPhase = models.RCAPhaseDataCollection
		next.RCAStartedAt = &now
		next.RCACompletedAt = nil
		next.AnalysisType = nullableString(strings.TrimSpace(input.AnalysisType))
		next.RCATeam = uniqueStrings(input.TeamMembers)
		if next.Status == models.ProblemStatusNew || next.Status == models.ProblemStatusInvestigating {
			next.ApplyStatus(models.ProblemStatusRCAInProgress, now)
		}

		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		if err := s.addTransition(ctx, problemID, models.HistoryActionRCAStarted, p.RCAPhase, next.RCAPhase, input.InitialNotes); err != nil {
			return err
		}

		started = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("RCA started", zap.String("problem_id", problemID.String()))
	s.publisher.Publish(ctx, events.SubjectRCAStarted, problemID, map[string]any{
		"phase":         started.RCAPhase,
		"analysis_type": started.AnalysisType,
		"team_members":  started.RCATeam,
	})
	return started, nil
}

// AdvancePhase moves to target, which must be the immediate successor of the
// current phase. Advancing into completed requires solution_design exactly as
// CompleteRCA does.
func (s *rcaService) AdvancePhase(ctx context.Context, problemID uuid.UUID, target models.RCAPhase, notes string) (*models.Problem, error) {
	if !target.IsValid() {
		return nil, apperrors.NewValidationError("target_phase", "must be one of "+joinEnum(models.RCAPhases))
	}

	var advanced *models.Problem
	var from models.RCAPhase
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if p.RCAPhase == models.RCAPhaseNotStarted && target == models.RCAPhaseDataCollection {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: "rca started",
				Message:  "RCA has not been started; use start to begin data collection",
			}
		}
		if !p.RCAPhase.CanTransitionTo(target) {
			return &apperrors.IllegalTransitionError{Current: string(p.RCAPhase), Target: string(target)}
		}

		from = p.RCAPhase
		next := p.Clone()
		next.RCAPhase = target
		action := models.HistoryActionPhaseAdvanced
		if target == models.RCAPhaseCompleted {
			now := s.now()
			next.RCACompletedAt = &now
			action = models.HistoryActionRCACompleted
		}

		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		if err := s.addTransition(ctx, problemID, action, from, target, notes); err != nil {
			return err
		}

		advanced = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("RCA phase advanced",
		zap.String("problem_id", problemID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)))

	subject := events.SubjectRCAAdvanced
	if target == models.RCAPhaseCompleted {
		subject = events.SubjectRCACompleted
	}
	s.publisher.Publish(ctx, subject, problemID, map[string]any{
		"from":                 from,
		"to":                   target,
		"known_error_eligible": advanced.KnownErrorEligible(),
	})
	return advanced, nil
}

func (s *rcaService) CompleteRCA(ctx context.Context, problemID uuid.UUID, notes string) (*models.RCACompletion, error) {
	var completed *models.Problem
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if p.RCAPhase != models.RCAPhaseSolutionDesign {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: string(models.RCAPhaseSolutionDesign),
			}
		}

		now := s.now()
		next := p.Clone()
		next.RCAPhase = models.RCAPhaseCompleted
		next.RCACompletedAt = &now

		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		if err := s.addTransition(ctx, problemID, models.HistoryActionRCACompleted, p.RCAPhase, next.RCAPhase, notes); err != nil {
			return err
		}

		completed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &models.RCACompletion{
		Problem:            completed,
		KnownErrorEligible: completed.KnownErrorEligible(),
	}

	s.logger.Info("RCA completed",
		zap.String("problem_id", problemID.String()),
		zap.Bool("known_error_eligible", result.KnownErrorEligible))
	s.publisher.Publish(ctx, events.SubjectRCACompleted, problemID, map[string]any{
		"from":                 models.RCAPhaseSolutionDesign,
		"to":                   models.RCAPhaseCompleted,
		"known_error_eligible": result.KnownErrorEligible,
	})
	return result, nil
}

// AbortRCA is the only backwards transition. It returns the problem to
// not_started and discards the RCA's timestamps, team and findings. The
// reason is kept in the history entry.
func (s *rcaService) AbortRCA(ctx context.Context, problemID uuid.UUID, reason string) (*models.Problem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reason", "is required")
	}

	var aborted *models.Problem
	var from models.RCAPhase
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if p.RCAPhase == models.RCAPhaseNotStarted {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: "rca started",
				Message:  "RCA has not been started",
			}
		}
		if p.Status.IsResolved() {
			return &apperrors.BusinessRuleViolation{
				Rule:    "resolved_problem_rca_locked",
				Message: "cannot abort the RCA of a resolved or closed problem; reopen it first",
			}
		}

		from = p.RCAPhase
		next := p.Clone()
		next.RCAPhase = models.RCAPhaseNotStarted
		next.RCAStartedAt = nil
		next.RCACompletedAt = nil
		next.AnalysisType = nil
		next.RCATeam = nil
		next.RCAFindings = []models.RCAFinding{}
		if next.Status == models.ProblemStatusRCAInProgress {
			next.ApplyStatus(models.ProblemStatusInvestigating, s.now())
		}

		if err := s.repo.DeleteFindings(ctx, problemID); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		if err := s.addTransition(ctx, problemID, models.HistoryActionRCAAborted, from, next.RCAPhase, reason); err != nil {
			return err
		}

		aborted = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("RCA aborted",
		zap.String("problem_id", problemID.String()),
		zap.String("from", string(from)))
	s.publisher.Publish(ctx, events.SubjectRCAAborted, problemID, map[string]any{
		"from":   from,
		"reason": reason,
	})
	return aborted, nil
}

// ============================================================================
// Findings and progress
// ============================================================================

func (s *rcaService) AddFinding(ctx context.Context, problemID uuid.UUID, input FindingInput) (*models.RCAFinding, error) {
	verr := &apperrors.ValidationError{}
	if !input.FindingType.IsValid() {
		verr.Add("finding_type", "must be one of "+joinEnum(models.ValidFindingTypes))
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		verr.Add("description", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	finding := &models.RCAFinding{
		ProblemID:   problemID,
		FindingType: input.FindingType,
		Description: description,
		EvidenceRef: nullableString(strings.TrimSpace(input.EvidenceRef)),
		RecordedBy:  models.ActorName(ctx),
	}

	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, problemID)
		if err != nil {
			return err
		}
		if p.RCAPhase == models.RCAPhaseNotStarted {
			return &apperrors.InvalidStateError{
				Current:  string(p.RCAPhase),
				Expected: "rca started",
				Message:  "findings can only be added after the RCA has started",
			}
		}

		if err := s.repo.AddFinding(ctx, finding); err != nil {
			return err
		}
		return s.repo.AddHistory(ctx, &models.ProblemHistory{
			ProblemID: problemID,
			Action:    models.HistoryActionFindingAdded,
			ToValue:   strPtr(string(finding.FindingType)),
			Note:      strPtr(finding.Description),
			Actor:     finding.RecordedBy,
		})
	})
	if err != nil {
		return nil, err
	}

	return finding, nil
}

func (s *rcaService) GetProgress(ctx context.Context, problemID uuid.UUID) (*models.RCAProgress, error) {
	p, err := s.repo.GetByID(ctx, problemID)
	if err != nil {
		return nil, err
	}
	return buildProgress(p, s.now()), nil
}

// buildProgress derives the progress view. Elapsed time stops at completion.
func buildProgress(p *models.Problem, now time.Time) *models.RCAProgress {
	progress := &models.RCAProgress{
		ProblemID:          p.ID,
		Phase:              p.RCAPhase,
		PercentComplete:    p.RCAPhase.PercentComplete(),
		StartedAt:          p.RCAStartedAt,
		CompletedAt:        p.RCACompletedAt,
		AnalysisType:       p.AnalysisType,
		TeamMembers:        p.RCATeam,
		Findings:           p.RCAFindings,
		KnownErrorEligible: p.KnownErrorEligible(),
	}
	if progress.Findings == nil {
		progress.Findings = []models.RCAFinding{}
	}
	if next, ok := p.RCAPhase.Next(); ok {
		progress.NextPhase = &next
	}
	if p.RCAStartedAt != nil {
		end := now
		if p.RCACompletedAt != nil {
			end = *p.RCACompletedAt
		}
		progress.ElapsedSeconds = int64(end.Sub(*p.RCAStartedAt).Seconds())
	}
	return progress
}

func (s *rcaService) addTransition(ctx context.Context, problemID uuid.UUID, action models.HistoryAction, from, to models.RCAPhase, note string) error {
	return s.repo.AddHistory(ctx, &models.ProblemHistory{
		ProblemID: problemID,
		Action:    action,
		FromValue: strPtr(string(from)),
		ToValue:   strPtr(string(to)),
		Note:      nullableString(strings.TrimSpace(note)),
		Actor:     models.ActorName(ctx),
	})
}
