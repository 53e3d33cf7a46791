package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — товар каталога мерчанта. SKU уникален на всю платформу.
type Product struct {
	ID           string
	MerchantID   string
	SKU          string
	Name         string
	Description  string
	UnitPrice    decimal.Decimal
	ReorderLevel int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductPatch описывает частичное обновление товара.
// Quantity: побочный канал правки остатка, проходит через складской учёт.
type ProductPatch struct {
	Name         *string
	Description  *string
	UnitPrice    *decimal.Decimal
	ReorderLevel *int
	IsActive     *bool
	Quantity     *int
}

// Apply применяет изменения к товару (кроме Quantity).
func (p ProductPatch) Apply(product *Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.UnitPrice != nil {
		product.UnitPrice = *p.UnitPrice
	}
	if p.ReorderLevel != nil {
		product.ReorderLevel = *p.ReorderLevel
	}
	if p.IsActive != nil {
		product.IsActive = *p.IsActive
	}
}
