package models

import "time"

// SessionState is everything a connected client renders from.
type SessionState struct {
	IsConnected    bool               `json:"is_connected"`
	CurrentAddress string             `json:"current_address"`
	Role           Role               `json:"role"`
	Loading        bool               `json:"loading"`
	Error          *string            `json:"error"`
	Grants         []Grant            `json:"grants"`
	Applications   []GrantApplication `json:"applications"`
	StudentProfile *StudentProfile    `json:"student_profile"`
	StudentWallet  *StudentWallet     `json:"student_wallet"`
	Stores         []EducationalStore `json:"stores"`
	SystemStats    *SystemRegistry    `json:"system_stats"`
	ConnectedAt    time.Time          `json:"connected_at"`
}
