package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/export"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/locks"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/repositories"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/workpool"
)

// BulkConfig bounds batch operations.
type BulkConfig struct {
	MaxIDs         int
	MaxConcurrency int
	ExportMaxRows  int
}

// BulkService applies one operation to many problems. Each id is processed
// independently: a failure on one id is reported in the result and does not
// affect the others.
type BulkService interface {
	BulkUpdate(ctx context.Context, ids []uuid.UUID, patch models.ProblemPatch) (*models.BulkResult, error)
	BulkDelete(ctx context.Context, ids []uuid.UUID, reason string) (*models.BulkResult, error)

	// Export writes every problem matching filter to w in the given format.
	Export(ctx context.Context, filter models.ProblemFilter, format models.ExportFormat, w io.Writer) error
}

type bulkService struct {
	problems     ProblemService
	repo         repositories.ProblemRepository
	locker       locks.Locker
	scope        ScopeFunc
	readSnapshot TxFunc
	pool         *workpool.Pool
	config       BulkConfig
	logger       *zap.Logger
}

// NewBulkService creates a new BulkService. scope gives every concurrent item
// its own database connection; when nil, items share ctx's scope, which is
// only safe with MaxConcurrency 1 or a storage that is not connection bound.
func NewBulkService(
	problems ProblemService,
	repo repositories.ProblemRepository,
	locker locks.Locker,
	scope ScopeFunc,
	readSnapshot TxFunc,
	config BulkConfig,
	logger *zap.Logger,
) BulkService {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &bulkService{
		problems:     problems,
		repo:         repo,
		locker:       locker,
		scope:        scope,
		readSnapshot: readSnapshot,
		pool:         workpool.New(workpool.Config{MaxConcurrent: config.MaxConcurrency}, logger),
		config:       config,
		logger:       logger.Named("bulk-service"),
	}
}

var _ BulkService = (*bulkService)(nil)

func (s *bulkService) BulkUpdate(ctx context.Context, ids []uuid.UUID, patch models.ProblemPatch) (*models.BulkResult, error) {
	verr := s.validateIDs(ids)
	if patch.IsEmpty() {
		verr.Add("patch", "no fields to update")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	result := s.run(ctx, "update", ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.problems.Update(ctx, id, patch, nil)
		return err
	})
	return result, nil
}

func (s *bulkService) BulkDelete(ctx context.Context, ids []uuid.UUID, reason string) (*models.BulkResult, error) {
	verr := s.validateIDs(ids)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		verr.Add("reason", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	result := s.run(ctx, "delete", ids, func(ctx context.Context, id uuid.UUID) error {
		return s.problems.Delete(ctx, id, reason, nil)
	})
	return result, nil
}

func (s *bulkService) validateIDs(ids []uuid.UUID) *apperrors.ValidationError {
	verr := &apperrors.ValidationError{}
	switch {
	case len(ids) == 0:
		verr.Add("ids", "at least one id is required")
	case s.config.MaxIDs > 0 && len(ids) > s.config.MaxIDs:
		verr.Add("ids", fmt.Sprintf("at most %d ids per request", s.config.MaxIDs))
	}
	return verr
}

// run applies fn to every id through the worker pool. Each item holds the
// record lock for its id, so duplicate ids in one batch, or concurrent
// batches touching the same problem, are applied one after another.
func (s *bulkService) run(ctx context.Context, op string, ids []uuid.UUID, fn func(ctx context.Context, id uuid.UUID) error) *models.BulkResult {
	items := make([]workpool.Item[struct{}], len(ids))
	for i, id := range ids {
		items[i] = workpool.Item[struct{}]{
			ID: id.String(),
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.withRecord(ctx, id, fn)
			},
		}
	}

	results := workpool.Process(ctx, s.pool, items)

	out := &models.BulkResult{
		Succeeded: make([]uuid.UUID, 0, len(ids)),
		Failures:  make([]models.BulkFailure, 0),
	}
	for i, r := range results {
		if r.Err == nil {
			out.Succeeded = append(out.Succeeded, ids[i])
			continue
		}
		out.Failures = append(out.Failures, s.failure(op, ids[i], r.Err))
	}
	out.SuccessCount = len(out.Succeeded)
	out.FailureCount = len(out.Failures)

	s.logger.Info("Bulk operation finished",
		zap.String("operation", op),
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", out.SuccessCount),
		zap.Int("failed", out.FailureCount))
	return out
}

func (s *bulkService) withRecord(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, id uuid.UUID) error) error {
	unlock, err := s.locker.Lock(ctx, "problem:"+id.String())
	if err != nil {
		return err
	}
	defer unlock()

	if s.scope != nil {
		scoped, cleanup, err := s.scope(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire database scope: %w", err)
		}
		defer cleanup()
		ctx = scoped
	}
	return fn(ctx, id)
}

// failure converts an item error into a reportable entry. Internal errors
// are logged and replaced with a generic reason.
func (s *bulkService) failure(op string, id uuid.UUID, err error) models.BulkFailure {
	code := apperrors.Code(err)
	reason := err.Error()
	if code == apperrors.CodeInternal {
		s.logger.Error("Bulk item failed",
			zap.String("operation", op),
			zap.String("problem_id", id.String()),
			zap.Error(err))
		reason = "internal error"
	}
	return models.BulkFailure{ID: id, Code: code, Reason: reason}
}

func (s *bulkService) Export(ctx context.Context, filter models.ProblemFilter, format models.ExportFormat, w io.Writer) error {
	if format == "" {
		format = models.ExportFormatCSV
	}
	if !format.IsValid() {
		return apperrors.NewValidationError("format", "must be csv, json or yaml")
	}

	if err := ValidateProblemFilter(filter); err != nil {
		return err
	}

	writer, err := export.NewWriter(format, w)
	if err != nil {
		return err
	}

	filter.Offset = 0
	filter.Limit = 0

	// The count and the stream read the same snapshot, so an export either
	// contains every matching row or fails before writing anything.
	rows := 0
	err = s.readSnapshot(ctx, func(ctx context.Context) error {
		if s.config.ExportMaxRows > 0 {
			countFilter := filter
			countFilter.Limit = 1
			_, total, err := s.repo.List(ctx, countFilter)
			if err != nil {
				return err
			}
			if total > s.config.ExportMaxRows {
				return apperrors.NewValidationError("filter", fmt.Sprintf(
					"export matches %d problems, more than the limit of %d; narrow the filter", total, s.config.ExportMaxRows))
			}
		}
		return s.repo.Stream(ctx, filter, func(p *models.Problem) error {
			rows++
			return writer.Write(p)
		})
	})
	if err != nil {
		var verr *apperrors.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return fmt.Errorf("failed to export problems: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}

	s.logger.Info("Problems exported",
		zap.String("format", string(format)),
		zap.Int("rows", rows))
	return nil
}
