package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
)

const maxTitleLength = 255

// CreateProblemInput holds the fields accepted when a problem is reported.
type CreateProblemInput struct {
	Title            string
	Description      string
	Symptom          string
	Status           models.ProblemStatus // new (default) or investigating
	Priority         models.Priority
	Category         models.Category
	BusinessImpact   models.BusinessImpact
	AffectedServices []string
	IncidentRef      *string
	CustomFields     map[string]json.RawMessage
}

// ProblemService provides problem CRUD and field edits.
type ProblemService interface {
	// Create reports a new problem with rca_phase not_started.
	Create(ctx context.Context, input CreateProblemInput) (*models.Problem, error)

	// Get returns a problem with its findings.
	Get(ctx context.Context, id uuid.UUID) (*models.Problem, error)

	// List returns one page of problems and the total number of matches.
	List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error)

	// Update applies patch. When expectedVersion is non-nil the update fails
	// with ErrVersionConflict unless it matches the stored version.
	Update(ctx context.Context, id uuid.UUID, patch models.ProblemPatch, expectedVersion *int) (*models.Problem, error)

	// Delete soft-deletes a problem whose status allows deletion.
	Delete(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int) error

	// History returns the audit trail of a problem, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]*models.ProblemHistory, error)
}

type problemService struct {
	repo         repositories.ProblemRepository
	registry     *models.CustomFieldRegistry
	nonDeletable []models.ProblemStatus
	runInTx      TxFunc
	publisher    events.Publisher
	now          func() time.Time
	logger       *zap.Logger
}

// NewProblemService creates a new ProblemService.
func NewProblemService(
	repo repositories.ProblemRepository,
	registry *models.CustomFieldRegistry,
	nonDeletable []models.ProblemStatus,
	runInTx TxFunc,
	publisher events.Publisher,
	logger *zap.Logger,
) ProblemService {
	if registry == nil {
		registry, _ = models.NewCustomFieldRegistry(nil)
	}
	return &problemService{
		repo:         repo,
		registry:     registry,
		nonDeletable: nonDeletable,
		runInTx:      runInTx,
		publisher:    publisher,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.Named("problem-service"),
	}
}

var _ ProblemService = (*problemService)(nil)

func (s *problemService) Create(ctx context.Context, input CreateProblemInput) (*models.Problem, error) {
	verr := &apperrors.ValidationError{}

	p := &models.Problem{
		Title:            strings.TrimSpace(input.Title),
		Description:      input.Description,
		Symptom:          strings.TrimSpace(input.Symptom),
		Status:           input.Status,
		Priority:         input.Priority,
		Category:         input.Category,
		BusinessImpact:   input.BusinessImpact,
		AffectedServices: uniqueStrings(input.AffectedServices),
		IncidentRef:      input.IncidentRef,
		RCAPhase:         models.RCAPhaseNotStarted,
		RCAFindings:      []models.RCAFinding{},
		CreatedBy:        models.ActorName(ctx),
	}

	if p.Status == "" {
		p.Status = models.ProblemStatusNew
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
	if p.Symptom == "" {
		p.Symptom = p.Title
	}

	validateTitle(verr, p.Title)
	if p.Status != models.ProblemStatusNew && p.Status != models.ProblemStatusInvestigating {
		verr.Add("status", "new problems must start as new or investigating")
	}
	validateClassification(verr, p.Priority, p.Category, p.BusinessImpact)

	customFields, fieldErrs := s.registry.Apply(nil, input.CustomFields)
	for k, v := range fieldErrs {
		verr.Add(k, v)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	p.CustomFields = customFields

	err := s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		return s.repo.AddHistory(ctx, &models.ProblemHistory{
			ProblemID: p.ID,
			Action:    models.HistoryActionCreated,
			ToValue:   strPtr(string(p.Status)),
			Note:      input.IncidentRef,
			Actor:     models.ActorName(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Problem created",
		zap.String("problem_id", p.ID.String()),
		zap.String("problem_number", p.ProblemNumber))
	s.publisher.Publish(ctx, events.SubjectProblemCreated, p.ID, map[string]any{
		"problem_number": p.ProblemNumber,
		"priority":       p.Priority,
		"category":       p.Category,
	})

	return p, nil
}

func (s *problemService) Get(ctx context.Context, id uuid.UUID) (*models.Problem, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *problemService) List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error) {
	if err := ValidateProblemFilter(filter); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, filter)
}

func (s *problemService) Update(ctx context.Context, id uuid.UUID, patch models.ProblemPatch, expectedVersion *int) (*models.Problem, error) {
	if patch.IsEmpty() {
		return nil, apperrors.NewValidationError("body", "no fields to update")
	}

	var updated *models.Problem
	err := s.runInTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return apperrors.ErrVersionConflict
		}

		next, changed, err := s.applyPatch(current, &patch)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			updated = current
			return nil
		}

		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}

		entry := &models.ProblemHistory{
			ProblemID: id,
			Action:    models.HistoryActionUpdated,
			Note:      strPtr("changed: " + strings.Join(changed, ", ")),
			Actor:     models.ActorName(ctx),
		}
		if next.Status != current.Status {
			entry.FromValue = strPtr(string(current.Status))
			entry.ToValue = strPtr(string(next.Status))
		}
		if err := s.repo.AddHistory(ctx, entry); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// applyPatch validates patch against p and returns an updated copy together
// with the names of the fields that changed. p itself is never modified.
func (s *problemService) applyPatch(p *models.Problem, patch *models.ProblemPatch) (*models.Problem, []string, error) {
	verr := &apperrors.ValidationError{}
	next := p.Clone()
	var changed []string

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		validateTitle(verr, title)
		if title != next.Title {
			next.Title = title
			changed = append(changed, "title")
		}
	}
	if patch.Description != nil && *patch.Description != next.Description {
		next.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.Symptom != nil {
		symptom := strings.TrimSpace(*patch.Symptom)
		if symptom != next.Symptom {
			next.Symptom = symptom
			changed = append(changed, "symptom")
		}
	}
	if patch.Priority != nil && *patch.Priority != next.Priority {
		next.Priority = *patch.Priority
		changed = append(changed, "priority")
	}
	if patch.Category != nil && *patch.Category != next.Category {
		next.Category = *patch.Category
		changed = append(changed, "category")
	}
	if patch.BusinessImpact != nil && *patch.BusinessImpact != next.BusinessImpact {
		next.BusinessImpact = *patch.BusinessImpact
		changed = append(changed, "business_impact")
	}
	validateClassification(verr, next.Priority, next.Category, next.BusinessImpact)

	if patch.AffectedServices != nil {
		services := uniqueStrings(*patch.AffectedServices)
		if !slices.Equal(services, next.AffectedServices) {
			next.AffectedServices = services
			changed = append(changed, "affected_services")
		}
	}

	if len(patch.CustomFields) > 0 {
		fields, fieldErrs := s.registry.Apply(next.CustomFields, patch.CustomFields)
		for k, v := range fieldErrs {
			verr.Add(k, v)
		}
		next.CustomFields = fields
		changed = append(changed, "custom_fields")
	}

	if patch.Status != nil && !patch.Status.IsValid() {
		verr.Add("status", "must be one of "+joinEnum(models.ValidProblemStatuses))
	}
	if err := verr.OrNil(); err != nil {
		return nil, nil, err
	}

	if patch.Status != nil && *patch.Status != next.Status {
		if err := checkStatusChange(next, *patch.Status); err != nil {
			return nil, nil, err
		}
		next.ApplyStatus(*patch.Status, s.now())
		changed = append(changed, "status")
	}

	return next, changed, nil
}

// checkStatusChange enforces the workflow rules on a manual status change.
func checkStatusChange(p *models.Problem, target models.ProblemStatus) error {
	switch target {
	case models.ProblemStatusResolved:
		if !p.RCAPhase.AllowsResolution() {
			return &apperrors.BusinessRuleViolation{
				Rule: "root_cause_required",
				Message: fmt.Sprintf("cannot resolve problem while rca_phase is %s; the root cause must be identified first",
					p.RCAPhase),
			}
		}
	case models.ProblemStatusClosed:
		if p.ResolvedAt == nil && !p.RCAPhase.AllowsResolution() {
			msg := fmt.Sprintf("cannot close an unresolved problem while rca_phase is %s; the root cause must be identified first", p.RCAPhase)
			return &apperrors.BusinessRuleViolation{Rule: "root_cause_required", Message: msg}
		}
	case models.ProblemStatusRCAInProgress:
		if p.RCAPhase == models.RCAPhaseNotStarted {
			return &apperrors.IllegalTransitionError{Field: "status", Current: string(p.Status), Target: string(target)}
		}
	case models.ProblemStatusKnownError:
		if p.KnownErrorID == nil {
			return &apperrors.BusinessRuleViolation{
				Rule:    "known_error_required",
				Message: "cannot set status known_error before a known error is linked to the problem",
			}
		}
	}
	return nil
}

func (s *problemService) Delete(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int) error {
	err := s.runInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != p.Version {
			return apperrors.ErrVersionConflict
		}
		if slices.Contains(s.nonDeletable, p.Status) {
			return &apperrors.BusinessRuleViolation{
				Rule:    "non_deletable_status",
				Message: fmt.Sprintf("problems in status %s cannot be deleted", p.Status),
			}
		}

		if err := s.repo.SoftDelete(ctx, id, p.Version, reason); err != nil {
			return err
		}
		return s.repo.AddHistory(ctx, &models.ProblemHistory{
			ProblemID: id,
			Action:    models.HistoryActionDeleted,
			FromValue: strPtr(string(p.Status)),
			Note:      nullableString(reason),
			Actor:     models.ActorName(ctx),
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("Problem deleted", zap.String("problem_id", id.String()))
	s.publisher.Publish(ctx, events.SubjectProblemDeleted, id, map[string]any{"reason": reason})
	return nil
}

func (s *problemService) History(ctx context.Context, id uuid.UUID) ([]*models.ProblemHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// ============================================================================
// Validation helpers
// ============================================================================

func validateTitle(verr *apperrors.ValidationError, title string) {
	switch {
	case title == "":
		verr.Add("title", "is required")
	case len([]rune(title)) > maxTitleLength:
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
}

func validateClassification(verr *apperrors.ValidationError, p models.Priority, c models.Category, b models.BusinessImpact) {
	if !p.IsValid() {
		verr.Add("priority", "must be one of "+joinEnum(models.ValidPriorities))
	}
	if !c.IsValid() {
		verr.Add("category", "must be one of "+joinEnum(models.ValidCategories))
	}
	if !b.IsValid() {
		verr.Add("business_impact", "must be one of "+joinEnum(models.ValidBusinessImpacts))
	}
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func strPtr(s string) *string {
	return &s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
