package models

import "github.com/shopspring/decimal"

// StoreType categorises marketplace stores.
type StoreType string

const (
	StoreUniversity   StoreType = "university"
	StoreBookstore    StoreType = "bookstore"
	StoreOnlineCourse StoreType = "online_course"
	StoreEquipment    StoreType = "equipment"
	StoreSoftware     StoreType = "software"
	StoreSupplies     StoreType = "supplies"
)

// EducationalStore is a marketplace merchant.
type EducationalStore struct {
	ID                    string      `db:"id" json:"id" yaml:"id"`
	Owner                 string      `db:"owner" json:"owner" yaml:"owner"`
	Name                  string      `db:"name" json:"name" yaml:"name"`
	StoreType             StoreType   `db:"store_type" json:"store_type" yaml:"store_type"`
	IsVerifiedEducational bool        `db:"is_verified_educational" json:"is_verified_educational" yaml:"is_verified_educational"`
	Items                 []StoreItem `db:"-" json:"items" yaml:"items"`
}

// StoreItem is a purchasable catalog entry.
type StoreItem struct {
	ItemID      string          `db:"item_id" json:"item_id" yaml:"item_id"`
	Name        string          `db:"name" json:"name" yaml:"name"`
	Description string          `db:"description" json:"description" yaml:"description"`
	Price       decimal.Decimal `db:"price" json:"price" yaml:"price"`
	IsAvailable bool            `db:"is_available" json:"is_available" yaml:"is_available"`
}

// Item finds a catalog entry by id.
func (s EducationalStore) Item(itemID string) (StoreItem, bool) {
	for _, item := range s.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return StoreItem{}, false
}

// MerchantType reports how purchases at this store are classified.
func (s EducationalStore) MerchantType() MerchantType {
	if s.IsVerifiedEducational {
		return MerchantEducational
	}
	return MerchantRegular
}
