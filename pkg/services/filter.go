package services

import (
	"fmt"
	"slices"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// ValidateProblemFilter rejects unknown enum values, an inverted creation
// window and negative paging. Listing, statistics and export share it.
func ValidateProblemFilter(filter models.ProblemFilter) error {
	verr := &apperrors.ValidationError{}
	checkEnumFilter(verr, "status", filter.Statuses, models.ValidProblemStatuses)
	checkEnumFilter(verr, "priority", filter.Priorities, models.ValidPriorities)
	checkEnumFilter(verr, "category", filter.Categories, models.ValidCategories)
	checkEnumFilter(verr, "business_impact", filter.BusinessImpacts, models.ValidBusinessImpacts)
	checkEnumFilter(verr, "rca_phase", filter.RCAPhases, models.RCAPhases)

	if filter.CreatedFrom != nil && filter.CreatedTo != nil && filter.CreatedFrom.After(*filter.CreatedTo) {
		verr.Add("created_from", "must not be after created_to")
	}
	if filter.Limit < 0 {
		verr.Add("limit", "must not be negative")
	}
	if filter.Offset < 0 {
		verr.Add("offset", "must not be negative")
	}
	return verr.OrNil()
}

func checkEnumFilter[T ~string](verr *apperrors.ValidationError, field string, values, valid []T) {
	for _, v := range values {
		if !slices.Contains(valid, v) {
			verr.Add(field, fmt.Sprintf("unknown value %q; must be one of %s", v, joinEnum(valid)))
			return
		}
	}
}
