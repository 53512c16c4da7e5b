package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/database"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// ProblemRepository provides data access for problems, their RCA findings and history.
// Soft-deleted problems are invisible to every read.
type ProblemRepository interface {
	Create(ctx context.Context, p *models.Problem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Problem, error)
	List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error)
	Stream(ctx context.Context, filter models.ProblemFilter, fn func(*models.Problem) error) error
	Update(ctx context.Context, p *models.Problem) error
	SoftDelete(ctx context.Context, id uuid.UUID, expectedVersion int, reason string) error

	AddFinding(ctx context.Context, f *models.RCAFinding) error
	ListFindings(ctx context.Context, problemID uuid.UUID) ([]models.RCAFinding, error)
	DeleteFindings(ctx context.Context, problemID uuid.UUID) error

	AddHistory(ctx context.Context, h *models.ProblemHistory) error
	ListHistory(ctx context.Context, problemID uuid.UUID) ([]*models.ProblemHistory, error)
}

type problemRepository struct{}

// NewProblemRepository creates a new ProblemRepository.
func NewProblemRepository() ProblemRepository {
	return &problemRepository{}
}

var _ ProblemRepository = (*problemRepository)(nil)

const problemColumns = `
	id, problem_number, title, description, symptom, status, priority, category,
	business_impact, affected_services, incident_ref, rca_phase, rca_started_at,
	rca_completed_at, analysis_type, rca_team, known_error_id, custom_fields,
	resolved_at, closed_at, reopen_count, version, created_by, created_at, updated_at`

// ============================================================================
// Problem CRUD
// ============================================================================

func (r *problemRepository) Create(ctx context.Context, p *models.Problem) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	var seq int64
	if err := q.QueryRow(ctx, `SELECT nextval('problem_number_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate problem number: %w", err)
	}
	p.ProblemNumber = models.FormatProblemNumber(seq)

	customFields, err := p.CustomFields.MarshalStored()
	if err != nil {
		return fmt.Errorf("failed to encode custom fields: %w", err)
	}

	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1

	query := `
		INSERT INTO problems (
			id, problem_number, title, description, symptom, status, priority, category,
			business_impact, affected_services, incident_ref, rca_phase, rca_started_at,
			rca_completed_at, analysis_type, rca_team, known_error_id, custom_fields,
			resolved_at, closed_at, reopen_count, version, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $24)
		RETURNING created_at, updated_at`

	err = q.QueryRow(ctx, query,
		p.ID,
		p.ProblemNumber,
		p.Title,
		p.Description,
		p.Symptom,
		string(p.Status),
		string(p.Priority),
		string(p.Category),
		string(p.BusinessImpact),
		nonNilStrings(p.AffectedServices),
		p.IncidentRef,
		string(p.RCAPhase),
		p.RCAStartedAt,
		p.RCACompletedAt,
		p.AnalysisType,
		nonNilStrings(p.RCATeam),
		p.KnownErrorID,
		customFields,
		p.ResolvedAt,
		p.ClosedAt,
		p.ReopenCount,
		p.Version,
		p.CreatedBy,
		now,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create problem: %w", err)
	}

	return nil
}

// GetByID returns the problem with its findings, or apperrors.ErrNotFound.
func (r *problemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Problem, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + problemColumns + ` FROM problems WHERE id = $1 AND deleted_at IS NULL`
	p, err := scanProblem(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	findings, err := r.ListFindings(ctx, id)
	if err != nil {
		return nil, err
	}
	p.RCAFindings = findings

	return p, nil
}

// List returns one page of problems matching filter and the total number of
// matches. A zero Limit returns every match. Findings are not loaded.
func (r *problemRepository) List(ctx context.Context, filter models.ProblemFilter) ([]*models.Problem, int, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, 0, err
	}

	w := buildProblemFilter(filter)
	query := `SELECT` + problemColumns + `, count(*) OVER() FROM problems` + w.sql() +
		` ORDER BY created_at DESC, problem_number DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.next(filter.Offset)
	}

	rows, err := q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list problems: %w", err)
	}
	defer rows.Close()

	problems := make([]*models.Problem, 0)
	total := 0
	for rows.Next() {
		p, err := scanProblemWithTotal(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		p.RCAFindings = []models.RCAFinding{}
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating problems: %w", err)
	}

	// An offset past the end returns no rows and therefore no window count.
	if len(problems) == 0 && filter.Offset > 0 {
		cw := buildProblemFilter(filter)
		if err := q.QueryRow(ctx, `SELECT count(*) FROM problems`+cw.sql(), cw.args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count problems: %w", err)
		}
	}

	return problems, total, nil
}

// Stream calls fn for every problem matching filter, in problem number order,
// without holding the whole result in memory. Limit caps the row count.
func (r *problemRepository) Stream(ctx context.Context, filter models.ProblemFilter, fn func(*models.Problem) error) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	w := buildProblemFilter(filter)
	query := `SELECT` + problemColumns + ` FROM problems` + w.sql() + ` ORDER BY problem_number`
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.next(filter.Limit)
	}

	rows, err := q.Query(ctx, query, w.args...)
	if err != nil {
		return fmt.Errorf("failed to query problems for export: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Update writes every mutable column if the stored version still equals
// p.Version, then bumps p.Version. A stale version returns
// apperrors.ErrVersionConflict; a missing row returns apperrors.ErrNotFound.
func (r *problemRepository) Update(ctx context.Context, p *models.Problem) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	customFields, err := p.CustomFields.MarshalStored()
	if err != nil {
		return fmt.Errorf("failed to encode custom fields: %w", err)
	}

	query := `
		UPDATE problems
		SET title = $3, description = $4, symptom = $5, status = $6, priority = $7,
		    category = $8, business_impact = $9, affected_services = $10, rca_phase = $11,
		    rca_started_at = $12, rca_completed_at = $13, analysis_type = $14, rca_team = $15,
		    known_error_id = $16, custom_fields = $17, resolved_at = $18, closed_at = $19,
		    reopen_count = $20, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING version, updated_at`

	err = q.QueryRow(ctx, query,
		p.ID,
		p.Version,
		p.Title,
		p.Description,
		p.Symptom,
		string(p.Status),
		string(p.Priority),
		string(p.Category),
		string(p.BusinessImpact),
		nonNilStrings(p.AffectedServices),
		string(p.RCAPhase),
		p.RCAStartedAt,
		p.RCACompletedAt,
		p.AnalysisType,
		nonNilStrings(p.RCATeam),
		p.KnownErrorID,
		customFields,
		p.ResolvedAt,
		p.ClosedAt,
		p.ReopenCount,
	).Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missOrConflict(ctx, q, p.ID)
		}
		return fmt.Errorf("failed to update problem: %w", err)
	}

	return nil
}

func (r *problemRepository) SoftDelete(ctx context.Context, id uuid.UUID, expectedVersion int, reason string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE problems
		SET deleted_at = now(), deleted_reason = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`

	result, err := q.Exec(ctx, query, id, expectedVersion, nullString(reason))
	if err != nil {
		return fmt.Errorf("failed to delete problem: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missOrConflict(ctx, q, id)
	}

	return nil
}

// missOrConflict distinguishes a vanished row from a concurrent write after a
// compare-and-swap matched nothing.
func (r *problemRepository) missOrConflict(ctx context.Context, q database.Querier, id uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM problems WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check problem existence: %w", err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrVersionConflict
}

// ============================================================================
// Findings
// ============================================================================

func (r *problemRepository) AddFinding(ctx context.Context, f *models.RCAFinding) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	query := `
		INSERT INTO problem_rca_findings (id, problem_id, finding_type, description, evidence_ref, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING recorded_at`

	err = q.QueryRow(ctx, query,
		f.ID,
		f.ProblemID,
		string(f.FindingType),
		f.Description,
		f.EvidenceRef,
		f.RecordedBy,
	).Scan(&f.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to add finding: %w", err)
	}

	return nil
}

// ListFindings returns findings in the order they were recorded.
func (r *problemRepository) ListFindings(ctx context.Context, problemID uuid.UUID) ([]models.RCAFinding, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, problem_id, finding_type, description, evidence_ref, recorded_at, recorded_by
		FROM problem_rca_findings
		WHERE problem_id = $1
		ORDER BY seq`

	rows, err := q.Query(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := make([]models.RCAFinding, 0)
	for rows.Next() {
		var f models.RCAFinding
		var findingType string
		if err := rows.Scan(&f.ID, &f.ProblemID, &findingType, &f.Description, &f.EvidenceRef, &f.RecordedAt, &f.RecordedBy); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.FindingType = models.FindingType(findingType)
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}

// DeleteFindings removes all findings of a problem. Only an RCA abort does this.
func (r *problemRepository) DeleteFindings(ctx context.Context, problemID uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `DELETE FROM problem_rca_findings WHERE problem_id = $1`, problemID); err != nil {
		return fmt.Errorf("failed to delete findings: %w", err)
	}
	return nil
}

// ============================================================================
// History
// ============================================================================

func (r *problemRepository) AddHistory(ctx context.Context, h *models.ProblemHistory) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}

	query := `
		INSERT INTO problem_history (id, problem_id, action, from_value, to_value, note, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		h.ID,
		h.ProblemID,
		string(h.Action),
		h.FromValue,
		h.ToValue,
		h.Note,
		h.Actor,
	).Scan(&h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add history entry: %w", err)
	}

	return nil
}

func (r *problemRepository) ListHistory(ctx context.Context, problemID uuid.UUID) ([]*models.ProblemHistory, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, problem_id, action, from_value, to_value, note, actor, created_at
		FROM problem_history
		WHERE problem_id = $1
		ORDER BY seq`

	rows, err := q.Query(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.ProblemHistory, 0)
	for rows.Next() {
		var h models.ProblemHistory
		var action string
		if err := rows.Scan(&h.ID, &h.ProblemID, &action, &h.FromValue, &h.ToValue, &h.Note, &h.Actor, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		h.Action = models.HistoryAction(action)
		entries = append(entries, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

// ============================================================================
// Filter and scanning
// ============================================================================

// buildProblemFilter renders the predicates shared by listing, statistics and export.
func buildProblemFilter(f models.ProblemFilter) *whereBuilder {
	w := &whereBuilder{}
	w.add("deleted_at IS NULL")

	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", enumStrings(f.Statuses))
	}
	if len(f.Priorities) > 0 {
		w.add("priority = ANY(?)", enumStrings(f.Priorities))
	}
	if len(f.Categories) > 0 {
		w.add("category = ANY(?)", enumStrings(f.Categories))
	}
	if len(f.BusinessImpacts) > 0 {
		w.add("business_impact = ANY(?)", enumStrings(f.BusinessImpacts))
	}
	if len(f.RCAPhases) > 0 {
		w.add("rca_phase = ANY(?)", enumStrings(f.RCAPhases))
	}
	if f.AffectedService != "" {
		w.add("? = ANY(affected_services)", f.AffectedService)
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		w.add("(title ILIKE ? OR description ILIKE ? OR symptom ILIKE ? OR problem_number ILIKE ?)",
			pattern, pattern, pattern, pattern)
	}
	if f.CreatedFrom != nil {
		w.add("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.add("created_at < ?", *f.CreatedTo)
	}

	return w
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func scanProblem(row pgx.Row) (*models.Problem, error) {
	return scanProblemWithTotal(row, nil)
}

// scanProblemWithTotal scans problemColumns and, when total is non-nil, a
// trailing window count.
func scanProblemWithTotal(row pgx.Row, total *int) (*models.Problem, error) {
	var p models.Problem
	var status, priority, category, impact, phase string
	var customFields []byte

	dest := []any{
		&p.ID,
		&p.ProblemNumber,
		&p.Title,
		&p.Description,
		&p.Symptom,
		&status,
		&priority,
		&category,
		&impact,
		&p.AffectedServices,
		&p.IncidentRef,
		&phase,
		&p.RCAStartedAt,
		&p.RCACompletedAt,
		&p.AnalysisType,
		&p.RCATeam,
		&p.KnownErrorID,
		&customFields,
		&p.ResolvedAt,
		&p.ClosedAt,
		&p.ReopenCount,
		&p.Version,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if total != nil {
		dest = append(dest, total)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan problem: %w", err)
	}

	p.Status = models.ProblemStatus(status)
	p.Priority = models.Priority(priority)
	p.Category = models.Category(category)
	p.BusinessImpact = models.BusinessImpact(impact)
	p.RCAPhase = models.RCAPhase(phase)

	cf, err := models.UnmarshalStoredCustomFields(customFields)
	if err != nil {
		return nil, err
	}
	p.CustomFields = cf

	return &p, nil
}
