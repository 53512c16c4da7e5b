package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// KnownErrorRepository provides data access for the known-error knowledge base.
type KnownErrorRepository interface {
	Create(ctx context.Context, ke *models.KnownError) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.KnownError, error)
	List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error)
	Update(ctx context.Context, ke *models.KnownError) error
	Delete(ctx context.Context, id uuid.UUID) error

	// FindCandidates returns known errors that share at least one keyword with
	// tokens or whose title or symptom contains text. Ranking happens in the caller.
	FindCandidates(ctx context.Context, text string, tokens []string, category *models.Category) ([]*models.KnownError, error)

	// IncrementUsage atomically bumps usage_count and last_used_at and returns the updated row.
	IncrementUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error)

	UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error)
}

type knownErrorRepository struct{}

// NewKnownErrorRepository creates a new KnownErrorRepository.
func NewKnownErrorRepository() KnownErrorRepository {
	return &knownErrorRepository{}
}

var _ KnownErrorRepository = (*knownErrorRepository)(nil)

const knownErrorColumns = `
	id, title, symptom, root_cause, workaround, solution, category, tags,
	search_keywords, usage_count, last_used_at, visibility, source_problem_id,
	created_by, created_at, updated_at`

// ============================================================================
// CRUD Operations
// ============================================================================

func (r *knownErrorRepository) Create(ctx context.Context, ke *models.KnownError) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if ke.ID == uuid.Nil {
		ke.ID = uuid.New()
	}

	query := `
		INSERT INTO known_errors (
			id, title, symptom, root_cause, workaround, solution, category, tags,
			search_keywords, visibility, source_problem_id, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING usage_count, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		ke.ID,
		ke.Title,
		ke.Symptom,
		ke.RootCause,
		ke.Workaround,
		ke.Solution,
		string(ke.Category),
		nonNilStrings(ke.Tags),
		nonNilStrings(ke.SearchKeywords),
		string(ke.Visibility),
		ke.SourceProblemID,
		ke.CreatedBy,
		now,
	).Scan(&ke.UsageCount, &ke.CreatedAt, &ke.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create known error: %w", err)
	}

	return nil
}

func (r *knownErrorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + knownErrorColumns + ` FROM known_errors WHERE id = $1`
	ke, err := scanKnownError(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return ke, nil
}

func (r *knownErrorRepository) List(ctx context.Context, filter models.KnownErrorFilter) ([]*models.KnownError, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	w := &whereBuilder{}
	if filter.Category != nil {
		w.add("category = ?", string(*filter.Category))
	}
	if filter.Visibility != nil {
		w.add("visibility = ?", string(*filter.Visibility))
	}

	query := `SELECT` + knownErrorColumns + ` FROM known_errors` + w.sql() + ` ORDER BY created_at DESC, id`
	return r.queryKnownErrors(ctx, q.Query, query, w.args...)
}

// Update writes the editable fields. Usage counters are never written here.
func (r *knownErrorRepository) Update(ctx context.Context, ke *models.KnownError) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE known_errors
		SET title = $2, symptom = $3, root_cause = $4, workaround = $5, solution = $6,
		    category = $7, tags = $8, search_keywords = $9, visibility = $10, updated_at = now()
		WHERE id = $1
		RETURNING usage_count, last_used_at, updated_at`

	err = q.QueryRow(ctx, query,
		ke.ID,
		ke.Title,
		ke.Symptom,
		ke.RootCause,
		ke.Workaround,
		ke.Solution,
		string(ke.Category),
		nonNilStrings(ke.Tags),
		nonNilStrings(ke.SearchKeywords),
		string(ke.Visibility),
	).Scan(&ke.UsageCount, &ke.LastUsedAt, &ke.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update known error: %w", err)
	}

	return nil
}

// Delete removes the known error. Problems linked to it keep existing with
// their link cleared by the foreign key.
func (r *knownErrorRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM known_errors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete known error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ============================================================================
// Search and usage
// ============================================================================

func (r *knownErrorRepository) FindCandidates(ctx context.Context, text string, tokens []string, category *models.Category) ([]*models.KnownError, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	w := &whereBuilder{}
	if category != nil {
		w.add("category = ?", string(*category))
	}
	pattern := "%" + escapeLike(text) + "%"
	w.add("(search_keywords && ? OR symptom ILIKE ? OR title ILIKE ?)", nonNilStrings(tokens), pattern, pattern)

	query := `SELECT` + knownErrorColumns + ` FROM known_errors` + w.sql()
	return r.queryKnownErrors(ctx, q.Query, query, w.args...)
}

func (r *knownErrorRepository) IncrementUsage(ctx context.Context, id uuid.UUID) (*models.KnownError, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE known_errors
		SET usage_count = usage_count + 1, last_used_at = now()
		WHERE id = $1
		RETURNING` + knownErrorColumns

	ke, err := scanKnownError(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to record known error usage: %w", err)
	}
	return ke, nil
}

func (r *knownErrorRepository) UsageStatistics(ctx context.Context, topN int) (*models.KnownErrorUsageStats, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.KnownErrorUsageStats{ByCategory: make(map[models.Category]int)}
	for _, c := range models.ValidCategories {
		stats.ByCategory[c] = 0
	}

	err = q.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(usage_count), 0), count(*) FILTER (WHERE usage_count = 0)
		FROM known_errors`).Scan(&stats.Total, &stats.TotalUsage, &stats.NeverUsedCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count known errors: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT category, count(*) FROM known_errors GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to group known errors: %w", err)
	}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.ByCategory[models.Category(category)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category counts: %w", err)
	}

	stats.TopUsed, err = r.queryKnownErrors(ctx, q.Query, `SELECT`+knownErrorColumns+`
		FROM known_errors
		WHERE usage_count > 0
		ORDER BY usage_count DESC, last_used_at DESC NULLS LAST, id
		LIMIT $1`, topN)
	if err != nil {
		return nil, err
	}

	stats.RecentlyAdded, err = r.queryKnownErrors(ctx, q.Query, `SELECT`+knownErrorColumns+`
		FROM known_errors
		ORDER BY created_at DESC, id
		LIMIT $1`, topN)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

type queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

func (r *knownErrorRepository) queryKnownErrors(ctx context.Context, query queryFunc, sql string, args ...any) ([]*models.KnownError, error) {
	rows, err := query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query known errors: %w", err)
	}
	defer rows.Close()

	out := make([]*models.KnownError, 0)
	for rows.Next() {
		ke, err := scanKnownError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ke)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known errors: %w", err)
	}
	return out, nil
}

func scanKnownError(row pgx.Row) (*models.KnownError, error) {
	var ke models.KnownError
	var category, visibility string

	err := row.Scan(
		&ke.ID,
		&ke.Title,
		&ke.Symptom,
		&ke.RootCause,
		&ke.Workaround,
		&ke.Solution,
		&category,
		&ke.Tags,
		&ke.SearchKeywords,
		&ke.UsageCount,
		&ke.LastUsedAt,
		&visibility,
		&ke.SourceProblemID,
		&ke.CreatedBy,
		&ke.CreatedAt,
		&ke.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan known error: %w", err)
	}

	ke.Category = models.Category(category)
	ke.Visibility = models.Visibility(visibility)
	return &ke, nil
}
