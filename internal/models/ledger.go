package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommandKind names a ledger entry point.
type CommandKind string

const (
	CommandRegisterStudent CommandKind = "register_student"
	CommandSubmitGrantApp  CommandKind = "submit_grant_application"
	CommandPurchaseItem    CommandKind = "purchase_item_educational"
	CommandCreateGrant     CommandKind = "create_grant"
	CommandApproveGrantApp CommandKind = "approve_grant_application"
	CommandRejectGrantApp  CommandKind = "reject_grant_application"
	CommandVerifyStudent   CommandKind = "verify_student"
	ledgerModule                       = "grant_system"
)

// Target renders the fully qualified entry point for a package.
func (k CommandKind) Target(packageID string) string {
	return packageID + "::" + ledgerModule + "::" + string(k)
}

// Command is a request to mutate ledger state. Exactly one payload is set, matching Kind.
type Command struct {
	ID       string      `json:"id"`
	Kind     CommandKind `json:"kind"`
	Sender   string      `json:"sender"`
	Target   string      `json:"target"`
	IssuedAt time.Time   `json:"issued_at"`

	Register *RegisterStudentPayload   `json:"register,omitempty"`
	Submit   *SubmitApplicationPayload `json:"submit,omitempty"`
	Purchase *PurchaseItemPayload      `json:"purchase,omitempty"`
	Create   *CreateGrantPayload       `json:"create,omitempty"`
	Review   *ReviewPayload            `json:"review,omitempty"`
	Verify   *VerifyStudentPayload     `json:"verify,omitempty"`
}

// RegisterStudentPayload carries profile fields.
type RegisterStudentPayload struct {
	Name           string         `json:"name" validate:"required,max=120"`
	Age            int            `json:"age" validate:"required,min=1,max=150"`
	Demographic    Demographic    `json:"demographic" validate:"required,oneof=minority rural low-income first-generation disabled veteran other"`
	EducationLevel EducationLevel `json:"education_level" validate:"required,oneof=high-school undergraduate graduate doctoral vocational"`
}

// SubmitApplicationPayload requests funding from a grant.
type SubmitApplicationPayload struct {
	GrantID         string          `json:"grant_id" validate:"required"`
	ApplicationText string          `json:"application_text" validate:"required,max=1000"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
}

// PurchaseItemPayload pays a store for a catalog item.
type PurchaseItemPayload struct {
	StoreID string          `json:"store_id" validate:"required"`
	ItemID  string          `json:"item_id" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateGrantPayload opens a new grant.
type CreateGrantPayload struct {
	Title                string          `json:"title" validate:"required,max=200"`
	Description          string          `json:"description" validate:"required,max=4000"`
	TotalFunding         decimal.Decimal `json:"total_funding"`
	TargetDemographic    Demographic     `json:"target_demographic" validate:"required,oneof=minority rural low-income first-generation disabled veteran other"`
	TargetEducationLevel EducationLevel  `json:"target_education_level" validate:"required,oneof=high-school undergraduate graduate doctoral vocational"`
	MaxGrantPerStudent   decimal.Decimal `json:"max_grant_per_student"`
	ApplicationDeadline  time.Time       `json:"application_deadline" validate:"required"`
}

// ReviewPayload decides on a pending application.
type ReviewPayload struct {
	ApplicationID string `json:"application_id" validate:"required"`
	Note          string `json:"note,omitempty" validate:"max=1000"`
}

// VerifyStudentPayload marks a student's documents verified.
type VerifyStudentPayload struct {
	StudentAddress string `json:"student_address" validate:"required"`
}

// Receipt is the authoritative post-state of an executed command.
type Receipt struct {
	CommandID   string            `json:"command_id"`
	Kind        CommandKind       `json:"kind"`
	Digest      string            `json:"digest"`
	ExecutedAt  time.Time         `json:"executed_at"`
	Changed     bool              `json:"changed"`
	Profile     *StudentProfile   `json:"profile,omitempty"`
	Application *GrantApplication `json:"application,omitempty"`
	Grant       *Grant            `json:"grant,omitempty"`
	Wallet      *StudentWallet    `json:"wallet,omitempty"`
}

// LedgerSnapshot is the ledger's view of one address plus the shared catalogs.
type LedgerSnapshot struct {
	Profile      *StudentProfile    `json:"profile,omitempty"`
	Wallet       *StudentWallet     `json:"wallet,omitempty"`
	Applications []GrantApplication `json:"applications"`
	Grants       []Grant            `json:"grants"`
	Stores       []EducationalStore `json:"stores"`
}
