package domain

import (
	"context"
	"time"
)

// OrderPlacement: всё, что сохраняется одной транзакцией при оформлении заказа:
// заказ с позициями, резервы по складам, движения STOCK_OUT, первая запись истории,
// запись аудита и события outbox.
type OrderPlacement struct {
	Order   Order
	History OrderStatusHistory
	Audit   AuditEntry
	Events  []OutboxMessage
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// PlaceOrder атомарно проверяет и резервирует сток и сохраняет заказ.
	// Возвращает ErrInsufficientStock без каких-либо изменений, если стока не хватает,
	// и ErrOrderNumberConflict, если номер заказа занят.
	PlaceOrder(ctx context.Context, p OrderPlacement) (Order, error)
	// Get возвращает заказ с позициями и резервами или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) (Page[Order], error)
	// History возвращает журнал статусов заказа по возрастанию времени.
	History(ctx context.Context, orderID string) ([]OrderStatusHistory, error)
	// ChangeStatus применяет переход с учётом optimistic locking и эффекта на резервы.
	ChangeStatus(ctx context.Context, change StatusChange) (Order, error)
	// Movements возвращает движения стока, вызванные заказом.
	Movements(ctx context.Context, orderID string) ([]StockMovement, error)
}

// StockReceipt: приход товара на склад.
type StockReceipt struct {
	ProductID   string
	WarehouseID string
	Quantity    int
	Note        string
	ActorID     string
	At          time.Time
}

// StockAdjustment: установка фактического количества товара (побочный канал правки товара).
// FallbackWarehouseID используется, если у товара ещё нет складских позиций.
type StockAdjustment struct {
	ProductID           string
	Quantity            int
	FallbackWarehouseID string
	Note                string
	ActorID             string
	At                  time.Time
}

// StockRepository: единственная точка изменения складских остатков вне заказов.
type StockRepository interface {
	// ListByProduct возвращает складские позиции товара в порядке резервирования.
	ListByProduct(ctx context.Context, productID string) ([]StockCandidate, error)
	// Receive приходует товар, лениво создавая складскую позицию.
	Receive(ctx context.Context, receipt StockReceipt) (StockItem, StockMovement, error)
	// Adjust выставляет фактическое количество с сохранением резервов.
	Adjust(ctx context.Context, adj StockAdjustment) (StockItem, StockMovement, error)
	// MovementsByProduct возвращает движения товара, новые первыми.
	MovementsByProduct(ctx context.Context, productID string, limit int) ([]StockMovement, error)
	// LowStock возвращает позиции с доступным остатком не выше порога.
	LowStock(ctx context.Context, merchantID string, limit int) ([]StockItem, error)
}

// ProductRepository хранит каталог товаров.
type ProductRepository interface {
	Create(ctx context.Context, p Product) error
	Get(ctx context.Context, id string) (Product, error)
	Update(ctx context.Context, p Product) error
	// ListActive возвращает активные товары мерчанта из списка ids.
	ListActive(ctx context.Context, merchantID string, ids []string) ([]Product, error)
}

// WarehouseRepository хранит склады.
type WarehouseRepository interface {
	// Create возвращает ErrWarehouseCodeTaken при конфликте кода.
	Create(ctx context.Context, w Warehouse) error
	Get(ctx context.Context, id string) (Warehouse, error)
	// Update сохраняет изменённые атрибуты склада, код не меняется.
	Update(ctx context.Context, w Warehouse) error
	List(ctx context.Context, activeOnly bool) ([]Warehouse, error)
	// FirstActive возвращает первый активный склад по коду или ErrWarehouseNotFound.
	FirstActive(ctx context.Context) (Warehouse, error)
	// CountByCodePrefix считает склады с кодом, начинающимся с prefix.
	CountByCodePrefix(ctx context.Context, prefix string) (int, error)
}

// MerchantRepository хранит мерчантов.
type MerchantRepository interface {
	Create(ctx context.Context, m Merchant) error
	Get(ctx context.Context, id string) (Merchant, error)
}

// UserRepository хранит пользователей платформы.
type UserRepository interface {
	Create(ctx context.Context, u User) error
	Get(ctx context.Context, id string) (User, error)
	// FindByMerchantRole возвращает активных пользователей мерчанта с ролью.
	FindByMerchantRole(ctx context.Context, merchantID string, role Role) ([]User, error)
}

// RequestUpdate: условное обновление запроса: применяется, только если статус не изменился.
type RequestUpdate struct {
	ExpectedStatus RequestStatus
	Audit          AuditEntry
	Events         []OutboxMessage
}

// ReturnRepository хранит запросы на возврат товара.
type ReturnRepository interface {
	Create(ctx context.Context, r ReturnRequest) error
	Get(ctx context.Context, id string) (ReturnRequest, error)
	List(ctx context.Context, filter RequestFilter) (Page[ReturnRequest], error)
	// Update возвращает ErrRequestConflict, если статус уже изменён.
	Update(ctx context.Context, r ReturnRequest, upd RequestUpdate) error
}

// RefundRepository хранит запросы на возврат средств.
type RefundRepository interface {
	Create(ctx context.Context, r RefundRequest) error
	Get(ctx context.Context, id string) (RefundRequest, error)
	List(ctx context.Context, filter RequestFilter) (Page[RefundRequest], error)
	// Update возвращает ErrRequestConflict, если статус уже изменён.
	Update(ctx context.Context, r RefundRequest, upd RequestUpdate) error
}

// AuditRepository хранит журнал аудита.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, entityType, entityID string) ([]AuditEntry, error)
}

// APIKeyRepository хранит API-ключи интеграций.
type APIKeyRepository interface {
	Create(ctx context.Context, key APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// APIRequestLogRepository хранит журнал вызовов внешнего API.
type APIRequestLogRepository interface {
	Append(ctx context.Context, entry APIRequestLog) error
	ListByKey(ctx context.Context, apiKeyID string, limit int) ([]APIRequestLog, error)
}

// NotificationRepository хранит уведомления платформы.
type NotificationRepository interface {
	// Create идемпотентен по ID: повторная вставка ничего не меняет.
	Create(ctx context.Context, n Notification) error
	// ListFor возвращает уведомления пользователя и его роли, новые первыми.
	ListFor(ctx context.Context, userID string, role Role, limit int) ([]Notification, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, status int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, status int) error
	// Delete освобождает ключ; отсутствие записи не ошибка.
	Delete(ctx context.Context, key string) error
	// DeleteExpired возвращает удалённые записи без тела ответа.
	DeleteExpired(ctx context.Context, before time.Time, limit int) ([]IdempotencyRecord, error)
}
