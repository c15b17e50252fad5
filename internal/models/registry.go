package models

import "github.com/shopspring/decimal"

// RegistryID identifies the single aggregate registry record.
const RegistryID = "registry"

// SystemRegistry holds platform-wide counters.
type SystemRegistry struct {
	ID                      string          `json:"id"`
	TotalStudents           int             `json:"total_students"`
	TotalGrants             int             `json:"total_grants"`
	TotalStores             int             `json:"total_stores"`
	TotalFundingDistributed decimal.Decimal `json:"total_funding_distributed"`
}
