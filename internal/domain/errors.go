package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMerchantRequired: у заказа/товара не определён мерчант.
	ErrMerchantRequired = errors.New("merchant_id is required")
	// ErrMerchantNotFound возвращается, если мерчант не найден.
	ErrMerchantNotFound = errors.New("merchant not found")
	// ErrMerchantInactive: мерчант деактивирован и не может принимать заказы.
	ErrMerchantInactive = errors.New("merchant is inactive")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserEmailTaken: email пользователя уже занят.
	ErrUserEmailTaken = errors.New("user email already exists")

	// ErrItemsRequired: заказ без позиций.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrItemQtyInvalid — количество в позиции должно быть положительным.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrItemPriceInvalid: цена позиции должна быть положительной.
	ErrItemPriceInvalid = errors.New("item unit price must be greater than zero")
	// ErrDeliveryFeeNegative: стоимость доставки не может быть отрицательной.
	ErrDeliveryFeeNegative = errors.New("delivery fee must be non-negative")
	// ErrAmountMismatch: итоговая сумма не совпадает с суммой позиций и доставки.
	ErrAmountMismatch = errors.New("order total does not match items and delivery fee")
	// ErrProductsUnavailable: часть товаров не найдена у мерчанта или неактивна.
	ErrProductsUnavailable = errors.New("some products not found or inactive")
	// ErrInsufficientStock: доступного остатка не хватает для резерва.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNumberConflict: сгенерированный номер заказа уже занят.
	ErrOrderNumberConflict = errors.New("order number already exists")
	// ErrOrderVersionConflict сигнализирует о конкурентном изменении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidStatus: значение статуса не входит в перечисление.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTransition — переход между статусами запрещён.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrSKUTaken: SKU уникален на всю платформу.
	ErrSKUTaken = errors.New("sku already exists")
	// ErrWarehouseNotFound возвращается, если склад не найден.
	ErrWarehouseNotFound = errors.New("warehouse not found")
	// ErrWarehouseInactive: операции со стоком неактивного склада запрещены.
	ErrWarehouseInactive = errors.New("warehouse is inactive")
	// ErrStockItemNotFound возвращается, если складская позиция не найдена.
	ErrStockItemNotFound = errors.New("stock item not found")
	// ErrQuantityBelowReserved: новое количество меньше уже зарезервированного.
	ErrQuantityBelowReserved = errors.New("quantity is below reserved quantity")
	// ErrStockInvariant: нарушен инвариант available + reserved == quantity.
	ErrStockInvariant = errors.New("stock invariant violated")

	// ErrReturnNotFound возвращается, если запрос на возврат товара не найден.
	ErrReturnNotFound = errors.New("return request not found")
	// ErrRefundNotFound возвращается, если запрос на возврат средств не найден.
	ErrRefundNotFound = errors.New("refund request not found")
	// ErrRequestConflict: запрос изменён параллельно.
	ErrRequestConflict = errors.New("request was modified concurrently")
	// ErrApprovedAmountRequired: для одобрения возврата средств нужна сумма.
	ErrApprovedAmountRequired = errors.New("approved amount is required to approve a refund")
	// ErrApprovedAmountInvalid: сумма одобрения должна быть в пределах суммы заказа.
	ErrApprovedAmountInvalid = errors.New("approved amount must be positive and not exceed order total")
	// ErrRejectionReasonRequired — для отказа нужна причина.
	ErrRejectionReasonRequired = errors.New("rejection reason is required to reject a request")
	// ErrOrderNotReturnable: заказ в текущем статусе нельзя вернуть.
	ErrOrderNotReturnable = errors.New("order status does not allow this request")

	// ErrForbidden: у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated: вызывающий не аутентифицирован.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAPIKeyNotFound возвращается, если API-ключ не найден.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError содержит ошибки по полям запроса.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError создаёт ошибку валидации с одним полем.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add добавляет замечание по полю.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// Empty сообщает, что замечаний нет.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsBusinessRule сообщает, что ошибка — нарушение бизнес-правила (HTTP 400).
func IsBusinessRule(err error) bool {
	for _, target := range []error{
		ErrItemsRequired,
		ErrItemQtyInvalid,
		ErrItemPriceInvalid,
		ErrDeliveryFeeNegative,
		ErrAmountMismatch,
		ErrProductsUnavailable,
		ErrInsufficientStock,
		ErrInvalidStatus,
		ErrInvalidTransition,
		ErrQuantityBelowReserved,
		ErrApprovedAmountRequired,
		ErrApprovedAmountInvalid,
		ErrRejectionReasonRequired,
		ErrOrderNotReturnable,
		ErrMerchantRequired,
		ErrMerchantInactive,
		ErrWarehouseInactive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrOrderNotFound,
		ErrProductNotFound,
		ErrWarehouseNotFound,
		ErrStockItemNotFound,
		ErrReturnNotFound,
		ErrRefundNotFound,
		ErrMerchantNotFound,
		ErrUserNotFound,
		ErrAPIKeyNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict сообщает о конфликте уникальности или конкурентном изменении.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSKUTaken) ||
		errors.Is(err, ErrUserEmailTaken) ||
		errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrRequestConflict) ||
		errors.Is(err, ErrOrderNumberConflict)
}
