package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Demographic is the target population of a grant.
type Demographic string

const (
	DemographicMinority        Demographic = "minority"
	DemographicRural           Demographic = "rural"
	DemographicLowIncome       Demographic = "low-income"
	DemographicFirstGeneration Demographic = "first-generation"
	DemographicDisabled        Demographic = "disabled"
	DemographicVeteran         Demographic = "veteran"
	DemographicOther           Demographic = "other"
)

// EducationLevel is the schooling stage a grant or student belongs to.
type EducationLevel string

const (
	EducationHighSchool    EducationLevel = "high-school"
	EducationUndergraduate EducationLevel = "undergraduate"
	EducationGraduate      EducationLevel = "graduate"
	EducationDoctoral      EducationLevel = "doctoral"
	EducationVocational    EducationLevel = "vocational"
)

// Grant is a funding pool students apply to.
type Grant struct {
	ID                   string          `db:"id" json:"id"`
	GrantOwner           string          `db:"grant_owner" json:"grant_owner"`
	Title                string          `db:"title" json:"title"`
	Description          string          `db:"description" json:"description"`
	TotalFunding         decimal.Decimal `db:"total_funding" json:"total_funding"`
	RemainingFunding     decimal.Decimal `db:"remaining_funding" json:"remaining_funding"`
	TargetDemographic    Demographic     `db:"target_demographic" json:"target_demographic"`
	TargetEducationLevel EducationLevel  `db:"target_education_level" json:"target_education_level"`
	MaxGrantPerStudent   decimal.Decimal `db:"max_grant_per_student" json:"max_grant_per_student"`
	ApplicationDeadline  time.Time       `db:"application_deadline" json:"application_deadline"`
	IsActive             bool            `db:"is_active" json:"is_active"`
	ApprovedStudents     []string        `db:"-" json:"approved_students"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

// AcceptsApplications reports whether the grant is open at the given instant.
func (g Grant) AcceptsApplications(now time.Time) bool {
	return g.IsActive && now.Before(g.ApplicationDeadline)
}

// HasApproved reports whether the student is already in the approved list.
func (g Grant) HasApproved(address string) bool {
	for _, s := range g.ApprovedStudents {
		if s == address {
			return true
		}
	}
	return false
}
