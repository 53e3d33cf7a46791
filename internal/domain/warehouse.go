package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Warehouse: склад оператора.
// MerchantVisible управляет тем, показывается ли адрес склада мерчанту.
type Warehouse struct {
	ID              string
	Code            string
	Name            string
	Address         string
	City            string
	IsActive        bool
	MerchantVisible bool
	CreatedAt       time.Time
}

// WarehouseCodePrefix строит префикс кода склада из города: первые три буквы в верхнем регистре.
func WarehouseCodePrefix(city string) string {
	letters := make([]rune, 0, 3)
	for _, r := range strings.TrimSpace(city) {
		if !unicode.IsLetter(r) {
			continue
		}
		letters = append(letters, unicode.ToUpper(r))
		if len(letters) == 3 {
			break
		}
	}
	for len(letters) < 3 {
		letters = append(letters, 'X')
	}
	return string(letters)
}

// WarehouseCode формирует код склада вида DHA-01.
func WarehouseCode(city string, seq int) string {
	if seq < 1 {
		seq = 1
	}
	return fmt.Sprintf("%s-%02d", WarehouseCodePrefix(city), seq)
}
