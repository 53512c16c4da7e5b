package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// RCA Phases
// ============================================================================

// RCAPhase is the root-cause-analysis phase of a problem.
// State machine (strictly forward, one step at a time):
//
//	not_started → data_collection → analysis → root_cause_identified → solution_design → completed
//
// The only backwards move is an explicit abort, which returns to not_started.
type RCAPhase string

const (
	RCAPhaseNotStarted          RCAPhase = "not_started"
	RCAPhaseDataCollection      RCAPhase = "data_collection"
	RCAPhaseAnalysis            RCAPhase = "analysis"
	RCAPhaseRootCauseIdentified RCAPhase = "root_cause_identified"
	RCAPhaseSolutionDesign      RCAPhase = "solution_design"
	RCAPhaseCompleted           RCAPhase = "completed"
)

// RCAPhases lists all phases in order.
var RCAPhases = []RCAPhase{
	RCAPhaseNotStarted,
	RCAPhaseDataCollection,
	RCAPhaseAnalysis,
	RCAPhaseRootCauseIdentified,
	RCAPhaseSolutionDesign,
	RCAPhaseCompleted,
}

// Index returns the position of the phase in RCAPhases, or -1 if unknown.
func (p RCAPhase) Index() int {
	for i, v := range RCAPhases {
		if v == p {
			return i
		}
	}
	return -1
}

// IsValid returns true if the phase is one of RCAPhases.
func (p RCAPhase) IsValid() bool {
	return p.Index() >= 0
}

// IsTerminal returns true for the completed phase.
func (p RCAPhase) IsTerminal() bool {
	return p == RCAPhaseCompleted
}

// Next returns the immediate successor, and false for the terminal or an unknown phase.
func (p RCAPhase) Next() (RCAPhase, bool) {
	i := p.Index()
	if i < 0 || i == len(RCAPhases)-1 {
		return "", false
	}
	return RCAPhases[i+1], true
}

// CanTransitionTo returns true if target is the immediate successor of p.
func (p RCAPhase) CanTransitionTo(target RCAPhase) bool {
	next, ok := p.Next()
	return ok && next == target
}

// AtLeast returns true if p is the same phase as other or later.
func (p RCAPhase) AtLeast(other RCAPhase) bool {
	return p.Index() >= other.Index() && other.Index() >= 0
}

// AllowsResolution returns true once the root cause is known, which is the
// earliest point a problem may be marked resolved.
func (p RCAPhase) AllowsResolution() bool {
	return p.AtLeast(RCAPhaseRootCauseIdentified)
}

// PercentComplete returns the position of the phase as a percentage, where
// not_started is 0 and completed is 100.
func (p RCAPhase) PercentComplete() int {
	i := p.Index()
	if i <= 0 {
		return 0
	}
	return i * 100 / (len(RCAPhases) - 1)
}

// ============================================================================
// Findings
// ============================================================================

// FindingType classifies an RCA finding.
type FindingType string

const (
	FindingTypeSymptom        FindingType = "symptom"
	FindingTypeCause          FindingType = "cause"
	FindingTypeEvidence       FindingType = "evidence"
	FindingTypeRecommendation FindingType = "recommendation"
)

// ValidFindingTypes contains all valid finding types.
var ValidFindingTypes = []FindingType{
	FindingTypeSymptom,
	FindingTypeCause,
	FindingTypeEvidence,
	FindingTypeRecommendation,
}

// IsValid returns true if the finding type is one of ValidFindingTypes.
func (t FindingType) IsValid() bool {
	for _, v := range ValidFindingTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RCAFinding is one observation recorded during an RCA. Findings are
// append-only: never edited after creation.
type RCAFinding struct {
	ID          uuid.UUID   `json:"id"`
	ProblemID   uuid.UUID   `json:"problem_id"`
	FindingType FindingType `json:"finding_type"`
	Description string      `json:"description"`
	EvidenceRef *string     `json:"evidence_ref,omitempty"`
	RecordedAt  time.Time   `json:"recorded_at"`
	RecordedBy  *string     `json:"recorded_by,omitempty"`
}

// ============================================================================
// Progress and transition results
// ============================================================================

// RCAProgress summarises the state of an RCA.
type RCAProgress struct {
	ProblemID          uuid.UUID    `json:"problem_id"`
	Phase              RCAPhase     `json:"phase"`
	NextPhase          *RCAPhase    `json:"next_phase,omitempty"`
	PercentComplete    int          `json:"percent_complete"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	ElapsedSeconds     int64        `json:"elapsed_seconds"`
	AnalysisType       *string      `json:"analysis_type,omitempty"`
	TeamMembers        []string     `json:"team_members,omitempty"`
	Findings           []RCAFinding `json:"findings"`
	KnownErrorEligible bool         `json:"known_error_eligible"`
}

// RCACompletion is returned when an RCA reaches the completed phase.
type RCACompletion struct {
	Problem            *Problem `json:"problem"`
	KnownErrorEligible bool     `json:"known_error_eligible"`
}

// KnownErrorEligible returns true when a known error may be created from the
// problem: the root cause is identified and no known error is linked yet.
func (p *Problem) KnownErrorEligible() bool {
	return p.RCAPhase.AtLeast(RCAPhaseRootCauseIdentified) && p.KnownErrorID == nil
}

// FindingsOfType returns the problem's findings of the given type, in order.
func (p *Problem) FindingsOfType(t FindingType) []RCAFinding {
	var out []RCAFinding
	for _, f := range p.RCAFindings {
		if f.FindingType == t {
			out = append(out, f)
		}
	}
	return out
}
