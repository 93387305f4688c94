package domain

import "github.com/shopspring/decimal"

type Medicine struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Brand           string          `db:"brand" json:"brand"`
	Category        string          `db:"category" json:"category"`
	Dosage          string          `db:"dosage" json:"dosage"`
	Price           decimal.Decimal `db:"price" json:"price"`
	QuantityInStock int64           `db:"quantity_in_stock" json:"quantity_in_stock"`
	ReorderLevel    int64           `db:"reorder_level" json:"reorder_level"`
	BatchNumber     string          `db:"batch_number" json:"batch_number"`
	ManufactureDate *string         `db:"manufacture_date" json:"manufacture_date,omitempty"`
	ExpiryDate      *string         `db:"expiry_date" json:"expiry_date,omitempty"`
	Supplier        string          `db:"supplier" json:"supplier"`
}
