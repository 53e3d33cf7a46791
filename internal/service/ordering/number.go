package ordering

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOrderNumber генерирует номер вида ORD-YYYYMMDD-XXXXXX по дате в UTC.
// Уникальность обеспечивает ограничение в хранилище, коллизии повторяются вызывающим.
func NewOrderNumber(at time.Time) (string, error) {
	suffix := make([]byte, 6)
	limit := big.NewInt(int64(len(numberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate order number: %w", err)
		}
		suffix[i] = numberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix), nil
}
