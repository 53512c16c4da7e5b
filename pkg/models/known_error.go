package models

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who may see a known error.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

// IsValid returns true for public and internal.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityInternal
}

// KnownError is a documented, previously diagnosed problem with a workaround or fix.
// Stored in known_errors table. Its lifecycle is independent of the problem it
// was created from: deleting the problem leaves the known error in place.
type KnownError struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Symptom         string     `json:"symptom"`
	RootCause       string     `json:"root_cause"`
	Workaround      string     `json:"workaround,omitempty"`
	Solution        string     `json:"solution"`
	Category        Category   `json:"category"`
	Tags            []string   `json:"tags"`
	SearchKeywords  []string   `json:"search_keywords"`
	UsageCount      int        `json:"usage_count"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	Visibility      Visibility `json:"visibility"`
	SourceProblemID *uuid.UUID `json:"source_problem_id,omitempty"`
	CreatedBy       *string    `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// KnownErrorFilter narrows known-error listings.
type KnownErrorFilter struct {
	Category   *Category   `json:"category,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
}

// KnownErrorMatch is a ranked search result.
type KnownErrorMatch struct {
	KnownError *KnownError `json:"known_error"`
	Score      float64     `json:"score"`
}

// KnownErrorUsageStats summarises how the knowledge base is used.
type KnownErrorUsageStats struct {
	Total          int              `json:"total"`
	TotalUsage     int              `json:"total_usage"`
	TopUsed        []*KnownError    `json:"top_used"`
	ByCategory     map[Category]int `json:"by_category"`
	RecentlyAdded  []*KnownError    `json:"recently_added"`
	NeverUsedCount int              `json:"never_used_count"`
}
