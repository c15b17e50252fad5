package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the review state of a grant application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// GrantApplication is a student's funding request against a grant.
type GrantApplication struct {
	ID                   string            `db:"id" json:"id"`
	GrantID              string            `db:"grant_id" json:"grant_id"`
	StudentAddress       string            `db:"student_address" json:"student_address"`
	ApplicationText      string            `db:"application_text" json:"application_text"`
	RequestedAmount      decimal.Decimal   `db:"requested_amount" json:"requested_amount"`
	ApplicationTimestamp time.Time         `db:"application_timestamp" json:"application_timestamp"`
	Status               ApplicationStatus `db:"status" json:"status"`
	ReviewedBy           *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote           *string           `db:"review_note" json:"review_note,omitempty"`
}

// ApplicationFilter narrows application listings.
type ApplicationFilter struct {
	ID             string            `json:"id,omitempty"`
	GrantID        string            `json:"grant_id,omitempty"`
	GrantOwner     string            `json:"grant_owner,omitempty"`
	StudentAddress string            `json:"student_address,omitempty"`
	Status         ApplicationStatus `json:"status,omitempty"`
}

// Matches reports whether the application satisfies the filter. GrantOwner is resolved by the caller.
func (f ApplicationFilter) Matches(app GrantApplication) bool {
	if f.ID != "" && app.ID != f.ID {
		return false
	}
	if f.GrantID != "" && app.GrantID != f.GrantID {
		return false
	}
	if f.StudentAddress != "" && app.StudentAddress != f.StudentAddress {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	return true
}

// ReviewResult reports the outcome of an approve or reject call.
type ReviewResult struct {
	ApplicationID string            `json:"application_id"`
	Changed       bool              `json:"changed"`
	Application   *GrantApplication `json:"application,omitempty"`
	Grant         *Grant            `json:"grant,omitempty"`
	Digest        string            `json:"digest,omitempty"`
}
