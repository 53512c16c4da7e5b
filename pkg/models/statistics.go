package models

import "time"

// ProblemSnapshot is a consistent view of the data set read in one transaction.
// Statistics are computed from a snapshot so that percentages stay internally consistent.
type ProblemSnapshot struct {
	Problems    []*Problem
	KnownErrors []*KnownError
	TakenAt     time.Time
}

// ProblemStatistics holds the basic counts over a filtered set of problems.
type ProblemStatistics struct {
	Total                 int                    `json:"total"`
	ByStatus              map[ProblemStatus]int  `json:"by_status"`
	ByPriority            map[Priority]int       `json:"by_priority"`
	ByCategory            map[Category]int       `json:"by_category"`
	ByBusinessImpact      map[BusinessImpact]int `json:"by_business_impact"`
	AvgResolutionHours    float64                `json:"avg_resolution_hours"`
	ResolvedThisMonth     int                    `json:"resolved_this_month"`
	RCAStartedCount       int                    `json:"rca_started_count"`
	RCACompletedCount     int                    `json:"rca_completed_count"`
	RCACompletionRate     float64                `json:"rca_completion_rate"`
	KnownErrorLinkedCount int                    `json:"known_error_linked_count"`
	GeneratedAt           time.Time              `json:"generated_at"`
}

// TrendPeriod is the look-back window for trends and KPIs.
type TrendPeriod string

const (
	TrendPeriod7d  TrendPeriod = "7d"
	TrendPeriod30d TrendPeriod = "30d"
	TrendPeriod90d TrendPeriod = "90d"
	TrendPeriod1y  TrendPeriod = "1y"
)

// ValidTrendPeriods contains all accepted periods.
var ValidTrendPeriods = []TrendPeriod{TrendPeriod7d, TrendPeriod30d, TrendPeriod90d, TrendPeriod1y}

// Days returns the number of days the period covers, or 0 if unknown.
func (p TrendPeriod) Days() int {
	switch p {
	case TrendPeriod7d:
		return 7
	case TrendPeriod30d:
		return 30
	case TrendPeriod90d:
		return 90
	case TrendPeriod1y:
		return 365
	default:
		return 0
	}
}

// IsValid returns true if the period is one of ValidTrendPeriods.
func (p TrendPeriod) IsValid() bool {
	return p.Days() > 0
}

// TrendBucket holds per-day counts.
type TrendBucket struct {
	Date               string  `json:"date"` // YYYY-MM-DD (UTC)
	Created            int     `json:"created"`
	Resolved           int     `json:"resolved"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	RollingAvgHours    float64 `json:"rolling_avg_resolution_hours"`
}

// ProblemTrends holds creation and resolution trends for a period.
type ProblemTrends struct {
	Period           TrendPeriod            `json:"period"`
	From             time.Time              `json:"from"`
	To               time.Time              `json:"to"`
	Daily            []TrendBucket          `json:"daily"`
	ByCategory       map[Category]int       `json:"by_category"`
	ByBusinessImpact map[BusinessImpact]int `json:"by_business_impact"`
	TotalCreated     int                    `json:"total_created"`
	TotalResolved    int                    `json:"total_resolved"`
}

// ProblemKPIs holds service-management KPIs over a window.
type ProblemKPIs struct {
	Period                  TrendPeriod `json:"period"`
	From                    time.Time   `json:"from"`
	To                      time.Time   `json:"to"`
	MTTRHours               float64     `json:"mttr_hours"`
	MTBFHours               float64     `json:"mtbf_hours"`
	FirstTimeResolutionRate float64     `json:"first_time_resolution_rate"`
	RecurrenceRate          float64     `json:"recurrence_rate"`
	SLAComplianceRate       float64     `json:"sla_compliance_rate"`
	ResolvedCount           int         `json:"resolved_count"`
	ResolvedWithinSLA       int         `json:"resolved_within_sla"`
	RecurringCount          int         `json:"recurring_count"`
	TotalProblems           int         `json:"total_problems"`
}
