package services

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/locks"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// countingLocker records every key it locks.
type countingLocker struct {
	inner locks.Locker
	mu    sync.Mutex
	keys  map[string]int
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys[key]++
	l.mu.Unlock()
	return l.inner.Lock(ctx, key)
}

func newTestBulkService(repo *mockProblemRepo, cfg BulkConfig) (BulkService, *countingLocker) {
	nonDeletable := []models.ProblemStatus{models.ProblemStatusInvestigating, models.ProblemStatusRCAInProgress}
	problems := NewProblemService(repo, nil, nonDeletable, passthroughTx, &recordingPublisher{}, zap.NewNop())
	locker := &countingLocker{inner: locks.NewLocalLocker(), keys: make(map[string]int)}
	return NewBulkService(problems, repo, locker, nil, passthroughTx, cfg, zap.NewNop()), locker
}

func defaultBulkConfig() BulkConfig {
	return BulkConfig{MaxIDs: 10, MaxConcurrency: 4, ExportMaxRows: 100}
}

func TestBulkService_BulkUpdate_PartialFailure(t *testing.T) {
	repo := newMockProblemRepo()
	svc, locker := newTestBulkService(repo, defaultBulkConfig())

	ok := repo.seed(&models.Problem{Title: "ok", RCAPhase: models.RCAPhaseRootCauseIdentified, Status: models.ProblemStatusRCAInProgress})
	early := repo.seed(&models.Problem{Title: "early", RCAPhase: models.RCAPhaseAnalysis, Status: models.ProblemStatusRCAInProgress})
	missing := uuid.New()

	result, err := svc.BulkUpdate(context.Background(), []uuid.UUID{ok.ID, missing, early.ID},
		models.ProblemPatch{Status: statusPtr(models.ProblemStatusResolved)})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	assert.Equal(t, []uuid.UUID{ok.ID}, result.Succeeded)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, missing, result.Failures[0].ID)
	assert.Equal(t, apperrors.CodeNotFound, result.Failures[0].Code)
	assert.Equal(t, early.ID, result.Failures[1].ID)
	assert.Equal(t, apperrors.CodeBusinessRule, result.Failures[1].Code)
	assert.NotEmpty(t, result.Failures[1].Reason)

	assert.Equal(t, models.ProblemStatusResolved, mustGet(t, repo, ok.ID).Status)
	assert.Equal(t, models.ProblemStatusRCAInProgress, mustGet(t, repo, early.ID).Status)

	assert.Equal(t, 1, locker.keys["problem:"+ok.ID.String()])
	assert.Equal(t, 1, locker.keys["problem:"+missing.String()])
}

func TestBulkService_BulkUpdate_FailureCodes(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, defaultBulkConfig())

	notStarted := repo.seed(&models.Problem{Title: "a"})
	badPriority := models.Priority("p0")

	result, err := svc.BulkUpdate(context.Background(), []uuid.UUID{notStarted.ID},
		models.ProblemPatch{Status: statusPtr(models.ProblemStatusRCAInProgress)})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, apperrors.CodeIllegalTransition, result.Failures[0].Code)

	result, err = svc.BulkUpdate(context.Background(), []uuid.UUID{notStarted.ID},
		models.ProblemPatch{Priority: &badPriority})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, apperrors.CodeValidation, result.Failures[0].Code)
}

func TestBulkService_BulkUpdate_InternalErrorIsNotLeaked(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, defaultBulkConfig())
	p := repo.seed(&models.Problem{Title: "a"})
	repo.updateErr = errBoom("connection reset by peer at 10.0.0.5")

	priority := models.PriorityLow
	result, err := svc.BulkUpdate(context.Background(), []uuid.UUID{p.ID}, models.ProblemPatch{Priority: &priority})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, apperrors.CodeInternal, result.Failures[0].Code)
	assert.Equal(t, "internal error", result.Failures[0].Reason)
}

func TestBulkService_Validation(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, BulkConfig{MaxIDs: 2, MaxConcurrency: 2})
	priority := models.PriorityLow

	tests := []struct {
		name  string
		run   func() error
		field string
	}{
		{"no ids", func() error {
			_, err := svc.BulkUpdate(context.Background(), nil, models.ProblemPatch{Priority: &priority})
			return err
		}, "ids"},
		{"too many ids", func() error {
			_, err := svc.BulkUpdate(context.Background(), []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}, models.ProblemPatch{Priority: &priority})
			return err
		}, "ids"},
		{"empty patch", func() error {
			_, err := svc.BulkUpdate(context.Background(), []uuid.UUID{uuid.New()}, models.ProblemPatch{})
			return err
		}, "patch"},
		{"delete without reason", func() error {
			_, err := svc.BulkDelete(context.Background(), []uuid.UUID{uuid.New()}, " ")
			return err
		}, "reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var validationErr *apperrors.ValidationError
			require.ErrorAs(t, tt.run(), &validationErr)
			assert.Contains(t, validationErr.Fields, tt.field)
		})
	}
	assert.Zero(t, repo.updates)
}

func TestBulkService_BulkDelete(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, defaultBulkConfig())

	deletable := repo.seed(&models.Problem{Title: "dup", Status: models.ProblemStatusNew})
	busy := repo.seed(&models.Problem{Title: "busy", Status: models.ProblemStatusInvestigating})

	result, err := svc.BulkDelete(context.Background(), []uuid.UUID{deletable.ID, busy.ID}, "cleanup")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{deletable.ID}, result.Succeeded)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, busy.ID, result.Failures[0].ID)
	assert.Equal(t, apperrors.CodeBusinessRule, result.Failures[0].Code)

	_, err = repo.GetByID(context.Background(), deletable.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = repo.GetByID(context.Background(), busy.ID)
	assert.NoError(t, err)
}

func TestBulkService_DuplicateIDsAreSerialized(t *testing.T) {
	repo := newMockProblemRepo()
	svc, locker := newTestBulkService(repo, defaultBulkConfig())
	p := repo.seed(&models.Problem{Title: "twice"})

	result, err := svc.BulkDelete(context.Background(), []uuid.UUID{p.ID, p.ID, p.ID}, "dup")
	require.NoError(t, err)

	// Exactly one delete wins; the others see the problem already gone
	// instead of racing on its version.
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	for _, f := range result.Failures {
		assert.Equal(t, apperrors.CodeNotFound, f.Code)
	}
	assert.Equal(t, 3, locker.keys["problem:"+p.ID.String()])
}

func TestBulkService_ConcurrentBatches(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, defaultBulkConfig())

	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = repo.seed(&models.Problem{Title: "batch"}).ID
	}

	priorities := []models.Priority{models.PriorityLow, models.PriorityHigh, models.PriorityCritical}
	var wg sync.WaitGroup
	for _, pr := range priorities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.BulkUpdate(context.Background(), ids, models.ProblemPatch{Priority: &pr})
			if !assert.NoError(t, err) {
				return
			}
			assert.Zero(t, result.FailureCount, "serialized writers never see a stale version")
		}()
	}
	wg.Wait()

	for _, id := range ids {
		p := mustGet(t, repo, id)
		assert.Contains(t, priorities, p.Priority)
	}
}

func TestBulkService_Export(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, BulkConfig{MaxIDs: 10, MaxConcurrency: 1, ExportMaxRows: 3})

	repo.seed(&models.Problem{Title: "first, with comma", Category: models.CategoryNetwork})
	repo.seed(&models.Problem{Title: "second", Category: models.CategoryNetwork})
	repo.seed(&models.Problem{Title: "third", Category: models.CategoryNetwork})
	repo.seed(&models.Problem{Title: "other", Category: models.CategorySoftware})

	var buf bytes.Buffer
	err := svc.Export(context.Background(), models.ProblemFilter{Categories: []models.Category{models.CategoryNetwork}, Limit: 1, Offset: 2}, "", &buf)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, "header plus every matching row; pagination does not apply")
	assert.True(t, strings.HasPrefix(lines[0], "problem_number,id,title"))
	assert.True(t, strings.HasPrefix(lines[1], `PRB-000001,`))
	assert.Contains(t, lines[1], `"first, with comma"`)

	buf.Reset()
	err = svc.Export(context.Background(), models.ProblemFilter{Categories: []models.Category{models.CategorySoftware}}, models.ExportFormatJSON, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"title":"other"`)

	err = svc.Export(context.Background(), models.ProblemFilter{}, models.ExportFormat("xml"), &buf)
	var validationErr *apperrors.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestBulkService_Export_OverRowLimitFailsBeforeWriting(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, BulkConfig{MaxIDs: 10, MaxConcurrency: 1, ExportMaxRows: 2})

	for _, title := range []string{"a", "b", "c"} {
		repo.seed(&models.Problem{Title: title, Category: models.CategoryHardware})
	}

	var buf bytes.Buffer
	err := svc.Export(context.Background(), models.ProblemFilter{}, models.ExportFormatCSV, &buf)

	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields["filter"], "matches 3 problems")
	assert.Zero(t, buf.Len(), "nothing is written when the export would be truncated")

	// A filter that fits under the limit exports normally.
	repo.seed(&models.Problem{Title: "d", Category: models.CategoryNetwork})
	err = svc.Export(context.Background(), models.ProblemFilter{Categories: []models.Category{models.CategoryNetwork}}, models.ExportFormatJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestBulkService_Export_UnknownFilterValue(t *testing.T) {
	repo := newMockProblemRepo()
	svc, _ := newTestBulkService(repo, defaultBulkConfig())

	var buf bytes.Buffer
	err := svc.Export(context.Background(), models.ProblemFilter{Statuses: []models.ProblemStatus{"resovled"}}, "", &buf)

	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Fields, "status")
	assert.Zero(t, buf.Len())
}
