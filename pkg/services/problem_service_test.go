package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/events"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

var problemTestNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newTestProblemService(t *testing.T, repo *mockProblemRepo, pub *recordingPublisher, defs ...models.CustomFieldDefinition) *problemService {
	t.Helper()
	registry, err := models.NewCustomFieldRegistry(defs)
	require.NoError(t, err)

	nonDeletable := []models.ProblemStatus{models.ProblemStatusInvestigating, models.ProblemStatusRCAInProgress}
	svc := NewProblemService(repo, registry, nonDeletable, rollbackTx(repo), pub, zap.NewNop()).(*problemService)
	svc.now = fixedClock(problemTestNow)
	return svc
}

func statusPtr(s models.ProblemStatus) *models.ProblemStatus {
	return &s
}

func TestProblemService_Create_Defaults(t *testing.T) {
	repo := newMockProblemRepo()
	pub := &recordingPublisher{}
	svc := newTestProblemService(t, repo, pub)
	ctx := models.WithActor(context.Background(), models.ActorContext{Name: "service-desk"})

	p, err := svc.Create(ctx, CreateProblemInput{
		Title:            "  VPN drops every hour  ",
		AffectedServices: []string{"vpn", " vpn ", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, "PRB-000001", p.ProblemNumber)
	assert.Equal(t, "VPN drops every hour", p.Title)
	assert.Equal(t, "VPN drops every hour", p.Symptom)
	assert.Equal(t, models.ProblemStatusNew, p.Status)
	assert.Equal(t, models.PriorityMedium, p.Priority)
	assert.Equal(t, models.CategoryOther, p.Category)
	assert.Equal(t, models.BusinessImpactNone, p.BusinessImpact)
	assert.Equal(t, models.RCAPhaseNotStarted, p.RCAPhase)
	assert.Equal(t, []string{"vpn"}, p.AffectedServices)
	assert.Equal(t, 1, p.Version)
	require.NotNil(t, p.CreatedBy)
	assert.Equal(t, "service-desk", *p.CreatedBy)

	assert.Equal(t, []models.HistoryAction{models.HistoryActionCreated}, repo.historyActions(p.ID))
	assert.Equal(t, []string{events.SubjectProblemCreated}, pub.subjects())
}

func TestProblemService_Create_Validation(t *testing.T) {
	svc := newTestProblemService(t, newMockProblemRepo(), &recordingPublisher{})

	_, err := svc.Create(context.Background(), CreateProblemInput{
		Title:    "",
		Status:   models.ProblemStatusResolved,
		Priority: "urgent",
	})

	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields, "title")
	assert.Contains(t, validationErr.Fields, "status")
	assert.Contains(t, validationErr.Fields, "priority")
	assert.NotContains(t, validationErr.Fields, "category")
}

func TestProblemService_Create_CustomFields(t *testing.T) {
	defs := []models.CustomFieldDefinition{
		{Name: "vendor_ticket", Type: models.CustomFieldString, MaxLength: 12},
		{Name: "region", Type: models.CustomFieldEnum, Options: []string{"emea", "apac"}, Required: true},
	}
	svc := newTestProblemService(t, newMockProblemRepo(), &recordingPublisher{}, defs...)

	_, err := svc.Create(context.Background(), CreateProblemInput{
		Title: "Printer queue stuck",
		CustomFields: map[string]json.RawMessage{
			"vendor_ticket": json.RawMessage(`42`),
			"colour":        json.RawMessage(`"blue"`),
		},
	})
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "must be a string", validationErr.Fields["custom_fields.vendor_ticket"])
	assert.Equal(t, "unknown custom field", validationErr.Fields["custom_fields.colour"])
	assert.Equal(t, "is required", validationErr.Fields["custom_fields.region"])

	p, err := svc.Create(context.Background(), CreateProblemInput{
		Title: "Printer queue stuck",
		CustomFields: map[string]json.RawMessage{
			"vendor_ticket": json.RawMessage(`"HP-1234"`),
			"region":        json.RawMessage(`"emea"`),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "HP-1234", p.CustomFields["vendor_ticket"].Value())
	assert.Equal(t, "emea", p.CustomFields["region"].Value())
}

func TestProblemService_Update_Fields(t *testing.T) {
	repo := newMockProblemRepo()
	svc := newTestProblemService(t, repo, &recordingPublisher{})
	p := repo.seed(&models.Problem{Title: "Old title"})

	title := "New title"
	priority := models.PriorityHigh
	updated, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Title: &title, Priority: &priority}, nil)
	require.NoError(t, err)

	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, models.PriorityHigh, updated.Priority)
	assert.Equal(t, 2, updated.Version)

	history, err := svc.History(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "changed: title, priority", *history[0].Note)
}

func TestProblemService_Update_EmptyPatch(t *testing.T) {
	repo := newMockProblemRepo()
	svc := newTestProblemService(t, repo, &recordingPublisher{})
	p := repo.seed(&models.Problem{Title: "x"})

	_, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{}, nil)
	var validationErr *apperrors.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestProblemService_Update_NoChangeDoesNotWrite(t *testing.T) {
	repo := newMockProblemRepo()
	svc := newTestProblemService(t, repo, &recordingPublisher{})
	p := repo.seed(&models.Problem{Title: "Same"})

	title := "Same"
	updated, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Title: &title}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Zero(t, repo.updates)
	assert.Empty(t, repo.historyActions(p.ID))
}

func TestProblemService_Update_VersionConflict(t *testing.T) {
	repo := newMockProblemRepo()
	svc := newTestProblemService(t, repo, &recordingPublisher{})
	p := repo.seed(&models.Problem{Title: "Versioned"})

	title := "first writer"
	_, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Title: &title}, intPtr(1))
	require.NoError(t, err)

	stale := "second writer"
	_, err = svc.Update(context.Background(), p.ID, models.ProblemPatch{Title: &stale}, intPtr(1))
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, "first writer", mustGet(t, repo, p.ID).Title)
}

func TestProblemService_Update_StatusRules(t *testing.T) {
	keID := uuid.New()

	tests := []struct {
		name    string
		problem models.Problem
		target  models.ProblemStatus
		check   func(t *testing.T, err error)
	}{
		{
			name:    "resolve before root cause",
			problem: models.Problem{RCAPhase: models.RCAPhaseAnalysis, Status: models.ProblemStatusRCAInProgress},
			target:  models.ProblemStatusResolved,
			check: func(t *testing.T, err error) {
				var ruleErr *apperrors.BusinessRuleViolation
				require.ErrorAs(t, err, &ruleErr)
				assert.Equal(t, "root_cause_required", ruleErr.Rule)
			},
		},
		{
			name:    "close before root cause",
			problem: models.Problem{RCAPhase: models.RCAPhaseNotStarted, Status: models.ProblemStatusNew},
			target:  models.ProblemStatusClosed,
			check: func(t *testing.T, err error) {
				var ruleErr *apperrors.BusinessRuleViolation
				require.ErrorAs(t, err, &ruleErr)
				assert.Equal(t, "root_cause_required", ruleErr.Rule)
			},
		},
		{
			name: "close resolved problem",
			problem: models.Problem{
				RCAPhase: models.RCAPhaseCompleted, Status: models.ProblemStatusResolved,
				ResolvedAt: &problemTestNow,
			},
			target: models.ProblemStatusClosed,
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "close after root cause without resolving first",
			problem: models.Problem{RCAPhase: models.RCAPhaseSolutionDesign, Status: models.ProblemStatusRCAInProgress},
			target:  models.ProblemStatusClosed,
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "rca_in_progress without RCA",
			problem: models.Problem{RCAPhase: models.RCAPhaseNotStarted},
			target:  models.ProblemStatusRCAInProgress,
			check: func(t *testing.T, err error) {
				var transitionErr *apperrors.IllegalTransitionError
				require.ErrorAs(t, err, &transitionErr)
				assert.Equal(t, "status", transitionErr.StateField())
				assert.Equal(t, "new", transitionErr.Current)
				assert.Equal(t, "rca_in_progress", transitionErr.Target)
			},
		},
		{
			name:    "known_error without link",
			problem: models.Problem{RCAPhase: models.RCAPhaseRootCauseIdentified},
			target:  models.ProblemStatusKnownError,
			check: func(t *testing.T, err error) {
				var ruleErr *apperrors.BusinessRuleViolation
				require.ErrorAs(t, err, &ruleErr)
				assert.Equal(t, "known_error_required", ruleErr.Rule)
			},
		},
		{
			name:    "unknown status",
			problem: models.Problem{},
			target:  models.ProblemStatus("archived"),
			check: func(t *testing.T, err error) {
				var validationErr *apperrors.ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Contains(t, validationErr.Fields, "status")
			},
		},
		{
			name:    "resolve after root cause",
			problem: models.Problem{RCAPhase: models.RCAPhaseRootCauseIdentified, Status: models.ProblemStatusRCAInProgress},
			target:  models.ProblemStatusResolved,
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "known_error with link",
			problem: models.Problem{RCAPhase: models.RCAPhaseRootCauseIdentified, KnownErrorID: &keID},
			target:  models.ProblemStatusKnownError,
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockProblemRepo()
			svc := newTestProblemService(t, repo, &recordingPublisher{})
			p := tt.problem
			p.Title = "Status rules"
			repo.seed(&p)
			before := mustGet(t, repo, p.ID)

			_, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Status: statusPtr(tt.target)}, nil)
			tt.check(t, err)
			if err != nil {
				assert.Empty(t, cmp.Diff(before, mustGet(t, repo, p.ID)))
			}
		})
	}
}

func TestProblemService_Update_ResolveAndReopen(t *testing.T) {
	repo := newMockProblemRepo()
	svc := newTestProblemService(t, repo, &recordingPublisher{})
	p := repo.seed(&models.Problem{Title: "Reopenable", RCAPhase: models.RCAPhaseCompleted, Status: models.ProblemStatusRCAInProgress})

	resolved, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Status: statusPtr(models.ProblemStatusResolved)}, nil)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, problemTestNow, *resolved.ResolvedAt)

	reopened, err := svc.Update(context.Background(), p.ID, models.ProblemPatch{Status: statusPtr(models.ProblemStatusInvestigating)}, nil)
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Equal(t, 1, reopened.ReopenCount)

	history, err := repo.ListHistory(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "resolved", *history[1].FromValue)
	assert.Equal(t, "investigating", *history[1].ToValue)
}

func TestProblemService_Delete(t *testing.T) {
	repo := newMockProblemRepo()
	pub := &recordingPublisher{}
	svc := newTestProblemService(t, repo, pub)
	ctx := context.Background()

	blocked := repo.seed(&models.Problem{Title: "Busy", Status: models.ProblemStatusRCAInProgress, RCAPhase: models.RCAPhaseAnalysis})
	err := svc.Delete(ctx, blocked.ID, "duplicate", nil)
	var ruleErr *apperrors.BusinessRuleViolation
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "non_deletable_status", ruleErr.Rule)

	p := repo.seed(&models.Problem{Title: "Duplicate of PRB-000001"})
	err = svc.Delete(ctx, p.ID, "duplicate", intPtr(2))
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

	require.NoError(t, svc.Delete(ctx, p.ID, "duplicate", intPtr(1)))

	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = svc.Delete(ctx, p.ID, "again", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, []string{events.SubjectProblemDeleted}, pub.subjects())
}

func TestProblemService_History_NotFound(t *testing.T) {
	svc := newTestProblemService(t, newMockProblemRepo(), &recordingPublisher{})
	_, err := svc.History(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func intPtr(i int) *int {
	return &i
}
