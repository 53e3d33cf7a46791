package domain

import (
	"fmt"
	"sort"
	"time"
)

// MovementType: направление движения остатка.
type MovementType string

const (
	MovementStockIn  MovementType = "STOCK_IN"
	MovementStockOut MovementType = "STOCK_OUT"
)

// ReferenceType: тип сущности, вызвавшей движение остатка.
type ReferenceType string

const (
	ReferenceOrder         ReferenceType = "ORDER"
	ReferenceProductUpdate ReferenceType = "PRODUCT_UPDATE"
	ReferenceStockReceipt  ReferenceType = "STOCK_RECEIPT"
)

// StockItem — остаток одного товара на одном складе.
// Инвариант: Available + Reserved == Quantity, оба слагаемых неотрицательны.
type StockItem struct {
	ID          string
	ProductID   string
	WarehouseID string
	Quantity    int
	Reserved    int
	Available   int
	// ReorderLevel: порог, ниже которого позиция считается заканчивающейся.
	ReorderLevel int
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

// Validate проверяет складской инвариант.
func (s StockItem) Validate() error {
	if s.Available < 0 || s.Reserved < 0 || s.Available+s.Reserved != s.Quantity {
		return fmt.Errorf("%w: stock item %s quantity=%d reserved=%d available=%d",
			ErrStockInvariant, s.ID, s.Quantity, s.Reserved, s.Available)
	}
	return nil
}

// Reserve переводит n единиц из доступных в резерв.
func (s *StockItem) Reserve(n int) error {
	if n <= 0 {
		return ErrItemQtyInvalid
	}
	if s.Available < n {
		return ErrInsufficientStock
	}
	s.Available -= n
	s.Reserved += n
	return s.Validate()
}

// Release возвращает n единиц из резерва в доступные.
func (s *StockItem) Release(n int) error {
	if n <= 0 || s.Reserved < n {
		return fmt.Errorf("%w: release %d of reserved %d", ErrStockInvariant, n, s.Reserved)
	}
	s.Reserved -= n
	s.Available += n
	return s.Validate()
}

// Consume списывает n единиц резерва при отгрузке: уменьшаются резерв и общее количество.
func (s *StockItem) Consume(n int) error {
	if n <= 0 || s.Reserved < n {
		return fmt.Errorf("%w: consume %d of reserved %d", ErrStockInvariant, n, s.Reserved)
	}
	s.Reserved -= n
	s.Quantity -= n
	return s.Validate()
}

// Receive приходует n единиц.
func (s *StockItem) Receive(n int) error {
	if n <= 0 {
		return ErrItemQtyInvalid
	}
	s.Quantity += n
	s.Available += n
	return s.Validate()
}

// SetQuantity выставляет фактическое количество, сохраняя резервы.
// Возвращает изменение количества.
func (s *StockItem) SetQuantity(quantity int) (int, error) {
	if quantity < 0 {
		return 0, NewValidationError("quantity", "must be non-negative")
	}
	if quantity < s.Reserved {
		return 0, fmt.Errorf("%w: quantity %d, reserved %d", ErrQuantityBelowReserved, quantity, s.Reserved)
	}
	delta := quantity - s.Quantity
	s.Quantity = quantity
	s.Available = quantity - s.Reserved
	return delta, s.Validate()
}

// IsLow сообщает, что доступный остаток достиг порога дозаказа.
func (s StockItem) IsLow() bool {
	return s.Available <= s.ReorderLevel
}

// StockMovement: неизменяемая запись об изменении остатка.
type StockMovement struct {
	ID            string
	StockItemID   string
	ProductID     string
	WarehouseID   string
	Type          MovementType
	Quantity      int
	ReferenceType ReferenceType
	ReferenceID   string
	Note          string
	CreatedBy     string
	CreatedAt     time.Time
}

// MovementForDelta строит движение по знаку изменения количества.
func MovementForDelta(item StockItem, delta int) StockMovement {
	mv := StockMovement{
		StockItemID: item.ID,
		ProductID:   item.ProductID,
		WarehouseID: item.WarehouseID,
		Type:        MovementStockIn,
		Quantity:    delta,
	}
	if delta < 0 {
		mv.Type = MovementStockOut
		mv.Quantity = -delta
	}
	return mv
}

// StockCandidate: складская позиция вместе с кодом склада для упорядочивания.
type StockCandidate struct {
	Item          StockItem
	WarehouseCode string
}

// SortCandidates упорядочивает кандидатов по коду склада, затем по id склада.
func SortCandidates(candidates []StockCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].WarehouseCode != candidates[j].WarehouseCode {
			return candidates[i].WarehouseCode < candidates[j].WarehouseCode
		}
		return candidates[i].Item.WarehouseID < candidates[j].Item.WarehouseID
	})
}

// Draw: сколько единиц берётся из конкретной складской позиции.
type Draw struct {
	StockItemID   string
	WarehouseID   string
	WarehouseCode string
	Quantity      int
}

// PlanReservation жадно распределяет qty по кандидатам в заданном порядке.
// Если суммарно доступно меньше qty, возвращает ErrInsufficientStock.
func PlanReservation(candidates []StockCandidate, qty int) ([]Draw, error) {
	if qty <= 0 {
		return nil, ErrItemQtyInvalid
	}

	total := 0
	for _, c := range candidates {
		if c.Item.Available > 0 {
			total += c.Item.Available
		}
	}
	if total < qty {
		return nil, ErrInsufficientStock
	}

	remaining := qty
	draws := make([]Draw, 0, len(candidates))
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		if c.Item.Available <= 0 {
			continue
		}
		take := min(remaining, c.Item.Available)
		draws = append(draws, Draw{
			StockItemID:   c.Item.ID,
			WarehouseID:   c.Item.WarehouseID,
			WarehouseCode: c.WarehouseCode,
			Quantity:      take,
		})
		remaining -= take
	}
	return draws, nil
}
