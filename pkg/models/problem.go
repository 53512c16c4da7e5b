package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Problem Status
// ============================================================================

// ProblemStatus represents where a problem sits in its lifecycle.
//
//	new → investigating → rca_in_progress → known_error → resolved → closed
type ProblemStatus string

const (
	ProblemStatusNew           ProblemStatus = "new"
	ProblemStatusInvestigating ProblemStatus = "investigating"
	ProblemStatusRCAInProgress ProblemStatus = "rca_in_progress"
	ProblemStatusKnownError    ProblemStatus = "known_error"
	ProblemStatusResolved      ProblemStatus = "resolved"
	ProblemStatusClosed        ProblemStatus = "closed"
)

// ValidProblemStatuses contains all valid status values in lifecycle order.
var ValidProblemStatuses = []ProblemStatus{
	ProblemStatusNew,
	ProblemStatusInvestigating,
	ProblemStatusRCAInProgress,
	ProblemStatusKnownError,
	ProblemStatusResolved,
	ProblemStatusClosed,
}

// IsValid returns true if the status is one of ValidProblemStatuses.
func (s ProblemStatus) IsValid() bool {
	for _, v := range ValidProblemStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsResolved returns true for resolved and closed problems.
func (s ProblemStatus) IsResolved() bool {
	return s == ProblemStatusResolved || s == ProblemStatusClosed
}

// ============================================================================
// Priority, Category, Business Impact
// ============================================================================

// Priority is the technical urgency of a problem.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ValidPriorities contains all valid priority values.
var ValidPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// IsValid returns true if the priority is one of ValidPriorities.
func (p Priority) IsValid() bool {
	for _, v := range ValidPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// Category classifies the technical area of a problem or known error.
type Category string

const (
	CategorySoftware Category = "software"
	CategoryHardware Category = "hardware"
	CategoryNetwork  Category = "network"
	CategoryOther    Category = "other"
)

// ValidCategories contains all valid category values.
var ValidCategories = []Category{CategorySoftware, CategoryHardware, CategoryNetwork, CategoryOther}

// IsValid returns true if the category is one of ValidCategories.
func (c Category) IsValid() bool {
	for _, v := range ValidCategories {
		if v == c {
			return true
		}
	}
	return false
}

// BusinessImpact is the severity of a problem's effect on business operations,
// independent of its technical priority.
type BusinessImpact string

const (
	BusinessImpactCritical BusinessImpact = "critical"
	BusinessImpactHigh     BusinessImpact = "high"
	BusinessImpactMedium   BusinessImpact = "medium"
	BusinessImpactLow      BusinessImpact = "low"
	BusinessImpactNone     BusinessImpact = "none"
)

// ValidBusinessImpacts contains all valid business impact values.
var ValidBusinessImpacts = []BusinessImpact{
	BusinessImpactCritical,
	BusinessImpactHigh,
	BusinessImpactMedium,
	BusinessImpactLow,
	BusinessImpactNone,
}

// IsValid returns true if the impact is one of ValidBusinessImpacts.
func (b BusinessImpact) IsValid() bool {
	for _, v := range ValidBusinessImpacts {
		if v == b {
			return true
		}
	}
	return false
}

// ============================================================================
// Problem Model
// ============================================================================

// Problem is the underlying cause of one or more incidents.
// Stored in problems table; findings live in problem_rca_findings.
type Problem struct {
	ID               uuid.UUID      `json:"id"`
	ProblemNumber    string         `json:"problem_number"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Symptom          string         `json:"symptom"`
	Status           ProblemStatus  `json:"status"`
	Priority         Priority       `json:"priority"`
	Category         Category       `json:"category"`
	BusinessImpact   BusinessImpact `json:"business_impact"`
	AffectedServices []string       `json:"affected_services"`
	IncidentRef      *string        `json:"incident_ref,omitempty"`

	RCAPhase       RCAPhase     `json:"rca_phase"`
	RCAStartedAt   *time.Time   `json:"rca_started_at,omitempty"`
	RCACompletedAt *time.Time   `json:"rca_completed_at,omitempty"`
	AnalysisType   *string      `json:"analysis_type,omitempty"`
	RCATeam        []string     `json:"rca_team,omitempty"`
	RCAFindings    []RCAFinding `json:"rca_findings"`

	KnownErrorID *uuid.UUID  `json:"known_error_id,omitempty"`
	CustomFields CustomFields `json:"custom_fields,omitempty"`

	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ReopenCount int        `json:"reopen_count"`

	// Version is incremented on every write and used for compare-and-swap updates.
	Version int `json:"version"`

	CreatedBy     *string    `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"-"`
	DeletedReason *string    `json:"-"`
}

// FormatProblemNumber renders a sequence value as a human readable problem number.
func FormatProblemNumber(seq int64) string {
	return fmt.Sprintf("PRB-%06d", seq)
}

// SymptomText returns the text used for known-error matching.
func (p *Problem) SymptomText() string {
	if p.Symptom != "" {
		return p.Symptom
	}
	return p.Title
}

// ResolutionTime returns how long the problem took to resolve, and false if
// it has not been resolved.
func (p *Problem) ResolutionTime() (time.Duration, bool) {
	t := p.ResolvedTime()
	if t == nil {
		return 0, false
	}
	return t.Sub(p.CreatedAt), true
}

// ResolvedTime returns the time the problem was resolved. A problem closed
// without an explicit resolution counts as resolved at its close time only
// once its root cause was identified; otherwise it was never resolved.
func (p *Problem) ResolvedTime() *time.Time {
	if p.ResolvedAt != nil {
		return p.ResolvedAt
	}
	if p.ClosedAt != nil && p.RCAPhase.AllowsResolution() {
		return p.ClosedAt
	}
	return nil
}

// ApplyStatus moves the problem to status and maintains the resolution
// timestamps and reopen counter. It does not check business rules.
func (p *Problem) ApplyStatus(status ProblemStatus, now time.Time) {
	if status == p.Status {
		return
	}
	wasResolved := p.Status.IsResolved()

	switch status {
	case ProblemStatusResolved:
		p.ResolvedAt = &now
		p.ClosedAt = nil
	case ProblemStatusClosed:
		if p.ResolvedAt == nil && p.RCAPhase.AllowsResolution() {
			p.ResolvedAt = &now
		}
		p.ClosedAt = &now
	default:
		if wasResolved {
			p.ReopenCount++
			p.ResolvedAt = nil
			p.ClosedAt = nil
		}
	}
	p.Status = status
}

// Clone returns a deep copy, used to compare state before and after a failed operation.
func (p *Problem) Clone() *Problem {
	if p == nil {
		return nil
	}
	c := *p
	c.AffectedServices = append([]string(nil), p.AffectedServices...)
	c.RCATeam = append([]string(nil), p.RCATeam...)
	c.RCAFindings = append([]RCAFinding(nil), p.RCAFindings...)
	if p.CustomFields != nil {
		c.CustomFields = make(CustomFields, len(p.CustomFields))
		for k, v := range p.CustomFields {
			c.CustomFields[k] = v
		}
	}
	return &c
}

// ============================================================================
// Patch and Filter
// ============================================================================

// ProblemPatch holds the editable fields of a problem. Nil fields are left unchanged.
type ProblemPatch struct {
	Title            *string                    `json:"title,omitempty"`
	Description      *string                    `json:"description,omitempty"`
	Symptom          *string                    `json:"symptom,omitempty"`
	Status           *ProblemStatus             `json:"status,omitempty"`
	Priority         *Priority                  `json:"priority,omitempty"`
	Category         *Category                  `json:"category,omitempty"`
	BusinessImpact   *BusinessImpact            `json:"business_impact,omitempty"`
	AffectedServices *[]string                  `json:"affected_services,omitempty"`
	CustomFields     map[string]json.RawMessage `json:"custom_fields,omitempty"`
}

// IsEmpty returns true if the patch changes nothing.
func (p *ProblemPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Symptom == nil && p.Status == nil &&
		p.Priority == nil && p.Category == nil && p.BusinessImpact == nil &&
		p.AffectedServices == nil && len(p.CustomFields) == 0
}

// ProblemFilter selects problems for listing, statistics and export.
// All three use the same predicates so their results agree.
type ProblemFilter struct {
	Statuses        []ProblemStatus  `json:"status,omitempty"`
	Priorities      []Priority       `json:"priority,omitempty"`
	Categories      []Category       `json:"category,omitempty"`
	BusinessImpacts []BusinessImpact `json:"business_impact,omitempty"`
	RCAPhases       []RCAPhase       `json:"rca_phase,omitempty"`
	AffectedService string           `json:"affected_service,omitempty"`
	Search          string           `json:"q,omitempty"`
	CreatedFrom     *time.Time       `json:"created_from,omitempty"`
	CreatedTo       *time.Time       `json:"created_to,omitempty"`
	Limit           int              `json:"limit,omitempty"`
	Offset          int              `json:"offset,omitempty"`
}

// ============================================================================
// History
// ============================================================================

// HistoryAction identifies what happened in a problem history entry.
type HistoryAction string

const (
	HistoryActionCreated       HistoryAction = "created"
	HistoryActionUpdated       HistoryAction = "updated"
	HistoryActionRCAStarted    HistoryAction = "rca_started"
	HistoryActionPhaseAdvanced HistoryAction = "phase_advanced"
	HistoryActionRCACompleted  HistoryAction = "rca_completed"
	HistoryActionRCAAborted    HistoryAction = "rca_aborted"
	HistoryActionFindingAdded  HistoryAction = "finding_added"
	HistoryActionDeleted       HistoryAction = "deleted"
)

// ProblemHistory is an append-only audit record for a problem.
type ProblemHistory struct {
	ID        uuid.UUID     `json:"id"`
	ProblemID uuid.UUID     `json:"problem_id"`
	Action    HistoryAction `json:"action"`
	FromValue *string       `json:"from_value,omitempty"`
	ToValue   *string       `json:"to_value,omitempty"`
	Note      *string       `json:"note,omitempty"`
	Actor     *string       `json:"actor,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
