package models

import "time"

// StudentProfile is the registered identity of a student.
type StudentProfile struct {
	ID                    string         `db:"id" json:"id"`
	StudentAddress        string         `db:"student_address" json:"student_address"`
	Name                  string         `db:"name" json:"name"`
	Age                   int            `db:"age" json:"age"`
	Demographic           Demographic    `db:"demographic" json:"demographic"`
	EducationLevel        EducationLevel `db:"education_level" json:"education_level"`
	DocumentsVerified     bool           `db:"documents_verified" json:"documents_verified"`
	VerificationTimestamp *time.Time     `db:"verification_timestamp" json:"verification_timestamp,omitempty"`
	TotalGrantsReceived   int            `db:"total_grants_received" json:"total_grants_received"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}
