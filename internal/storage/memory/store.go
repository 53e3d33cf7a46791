package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Store — общее in-memory состояние всех репозиториев (для разработки/тестов).
// Один мьютекс на всё хранилище даёт атомарность оформления заказа
// и смены статуса так же, как транзакция в PostgreSQL.
type Store struct {
	mu sync.RWMutex

	merchants  map[string]domain.Merchant
	users      map[string]domain.User
	products   map[string]domain.Product
	skus       map[string]string
	warehouses map[string]domain.Warehouse
	stock      map[string]domain.StockItem
	stockKeys  map[stockKey]string
	movements  []domain.StockMovement

	orders       map[string]domain.Order
	orderNumbers map[string]string
	history      map[string][]domain.OrderStatusHistory
	returns      map[string]domain.ReturnRequest
	refunds      map[string]domain.RefundRequest

	audit         []domain.AuditEntry
	apiKeys       map[string]domain.APIKey
	apiKeyPrefix  map[string]string
	apiLogs       []domain.APIRequestLog
	notifications []domain.Notification
	outbox        map[string]*outboxRecord
	outboxOrder   []string
}

type stockKey struct {
	productID   string
	warehouseID string
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		merchants:    make(map[string]domain.Merchant),
		users:        make(map[string]domain.User),
		products:     make(map[string]domain.Product),
		skus:         make(map[string]string),
		warehouses:   make(map[string]domain.Warehouse),
		stock:        make(map[string]domain.StockItem),
		stockKeys:    make(map[stockKey]string),
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		history:      make(map[string][]domain.OrderStatusHistory),
		returns:      make(map[string]domain.ReturnRequest),
		refunds:      make(map[string]domain.RefundRequest),
		apiKeys:      make(map[string]domain.APIKey),
		apiKeyPrefix: make(map[string]string),
		outbox:       make(map[string]*outboxRecord),
	}
}

// candidatesLocked возвращает позиции товара на активных складах в порядке резервирования.
// staged перекрывает сохранённые значения незакоммиченными изменениями.
func (s *Store) candidatesLocked(productID string, staged map[string]domain.StockItem) []domain.StockCandidate {
	candidates := make([]domain.StockCandidate, 0, 2)
	for _, item := range s.stock {
		if item.ProductID != productID {
			continue
		}
		wh, ok := s.warehouses[item.WarehouseID]
		if !ok || !wh.IsActive {
			continue
		}
		if override, ok := staged[item.ID]; ok {
			item = override
		}
		candidates = append(candidates, domain.StockCandidate{Item: item, WarehouseCode: wh.Code})
	}
	domain.SortCandidates(candidates)
	return candidates
}

func (s *Store) appendAuditLocked(entry domain.AuditEntry) {
	if entry.ID == "" {
		return
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.audit = append(s.audit, entry)
}

func (s *Store) enqueueLocked(msgs []domain.OutboxMessage) {
	for _, msg := range msgs {
		msg.Payload = append([]byte(nil), msg.Payload...)
		s.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxPending,
			createdAt: msg.CreatedAt,
			updatedAt: msg.CreatedAt,
		}
		s.outboxOrder = append(s.outboxOrder, msg.ID)
	}
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = make([]domain.OrderItem, len(src.Items))
	for i, item := range src.Items {
		item.Allocations = append([]domain.Allocation(nil), item.Allocations...)
		dst.Items[i] = item
	}
	return dst
}

func paginate[T any](items []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
