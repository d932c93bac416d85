package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one product (and optional variant) a user intends to buy,
// joined with the product data checkout needs.
type CartLine struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uint            `json:"userId"`
	ProductID uuid.UUID       `json:"productId"`
	VariantID *uuid.UUID      `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`

	ProductName    string              `json:"productName"`
	ProductSKU     string              `json:"sku"`
	ProductPrice   decimal.Decimal     `json:"-"`
	VariantSKU     *string             `json:"variantSku,omitempty"`
	VariantPrice   decimal.NullDecimal `json:"-"`
	CatalogKey     *string             `json:"-"`
	TrackInventory bool                `json:"-"`
}

// CurrentUnitPrice is the variant price when the line has a variant,
// otherwise the product price.
func (l *CartLine) CurrentUnitPrice() decimal.Decimal {
	if l.VariantID != nil && l.VariantPrice.Valid {
		return l.VariantPrice.Decimal
	}
	return l.ProductPrice
}

// SKU prefers the variant SKU.
func (l *CartLine) SKU() string {
	if l.VariantSKU != nil && *l.VariantSKU != "" {
		return *l.VariantSKU
	}
	return l.ProductSKU
}

type Cart struct {
	Lines []CartLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type AddItemParams struct {
	UserID    uint
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

type createLineParams struct {
	UserID    uint
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

// LinesTotal sums quantity times snapshot price.
func LinesTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
