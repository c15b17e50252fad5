package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MerchantType classifies where granted funds were spent.
type MerchantType string

const (
	MerchantEducational MerchantType = "educational"
	MerchantRegular     MerchantType = "regular"
)

// StudentWallet holds granted funds available for marketplace purchases.
type StudentWallet struct {
	ID               string           `db:"id" json:"id"`
	StudentAddress   string           `db:"student_address" json:"student_address"`
	AvailableBalance decimal.Decimal  `db:"available_balance" json:"available_balance"`
	TotalReceived    decimal.Decimal  `db:"total_received" json:"total_received"`
	SpendingHistory  []SpendingRecord `db:"-" json:"spending_history"`
}

// SpendingRecord is one purchase paid from a wallet.
type SpendingRecord struct {
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	MerchantAddress string          `db:"merchant_address" json:"merchant_address"`
	MerchantType    MerchantType    `db:"merchant_type" json:"merchant_type"`
	ItemDescription string          `db:"item_description" json:"item_description"`
	Timestamp       time.Time       `db:"timestamp" json:"timestamp"`
}

// WalletID derives the deterministic wallet identifier for an address.
func WalletID(address string) string {
	return "wallet_" + address
}
