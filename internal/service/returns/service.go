// Package returns ведёт запросы на возврат товара и возврат средств по заказам.
package returns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500

	kindReturn = "return"
	kindRefund = "refund"
)

// Deps: зависимости сервиса.
type Deps struct {
	Orders    domain.OrderRepository
	Returns   domain.ReturnRepository
	Refunds   domain.RefundRepository
	Validator *validation.Validator
	Metrics   *metrics.FulfillmentMetrics
	Logger    *log.Entry
}

// Service: сценарии запросов на возврат.
type Service struct {
	orders    domain.OrderRepository
	returns   domain.ReturnRepository
	refunds   domain.RefundRepository
	validator *validation.Validator
	metrics   *metrics.FulfillmentMetrics
	logger    *log.Entry
	now       func() time.Time
}

// New создаёт сервис.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "returns")
	}
	v := deps.Validator
	if v == nil {
		v = validation.New(validation.DefaultRegion)
	}
	return &Service{
		orders:    deps.Orders,
		returns:   deps.Returns,
		refunds:   deps.Refunds,
		validator: v,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateReturnInput: запрос на возврат товара.
type CreateReturnInput struct {
	OrderID string `json:"orderId" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=1000"`
}

// CreateRefundInput: запрос на возврат средств.
type CreateRefundInput struct {
	OrderID string          `json:"orderId" validate:"required"`
	Amount  decimal.Decimal `json:"amount" validate:"gt=0,money"`
	Reason  string          `json:"reason" validate:"required,max=1000"`
}

// DecisionInput: решение оператора по запросу.
type DecisionInput struct {
	Status          domain.RequestStatus `json:"status" validate:"required"`
	ApprovedAmount  *decimal.Decimal     `json:"approvedAmount,omitempty" validate:"omitempty,money"`
	RejectionReason string               `json:"rejectionReason,omitempty" validate:"max=1000"`
	AdminNotes      string               `json:"adminNotes,omitempty" validate:"max=1000"`
}

// CreateReturn регистрирует запрос на возврат доставленного заказа.
func (s *Service) CreateReturn(ctx context.Context, caller domain.Principal, in CreateReturnInput) (domain.ReturnRequest, error) {
	if err := canRequest(caller); err != nil {
		return domain.ReturnRequest{}, err
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.ReturnRequest{}, err
	}

	order, err := s.ownedOrder(ctx, caller, in.OrderID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if !domain.ReturnableStatus(order.Status) {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order is %s", domain.ErrOrderNotReturnable, order.Status)
	}

	now := s.now()
	req := domain.ReturnRequest{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		MerchantID:  order.MerchantID,
		Reason:      strings.TrimSpace(in.Reason),
		Status:      domain.RequestPending,
		RequestedBy: caller.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.returns.Create(ctx, req); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("create return request: %w", err)
	}
	s.record(kindReturn, req.Status)
	s.logger.WithFields(log.Fields{"return_id": req.ID, "order_id": order.ID}).Info("return request created")
	return req, nil
}

// CreateRefund регистрирует запрос на возврат средств. Запрошенная сумма
// не может превышать итог заказа.
func (s *Service) CreateRefund(ctx context.Context, caller domain.Principal, in CreateRefundInput) (domain.RefundRequest, error) {
	if err := canRequest(caller); err != nil {
		return domain.RefundRequest{}, err
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.RefundRequest{}, err
	}

	order, err := s.ownedOrder(ctx, caller, in.OrderID)
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if !domain.RefundableStatus(order.Status) {
		return domain.RefundRequest{}, fmt.Errorf("%w: order is %s", domain.ErrOrderNotReturnable, order.Status)
	}
	if in.Amount.GreaterThan(order.TotalAmount) {
		return domain.RefundRequest{}, domain.NewValidationError("amount", "must not exceed order total "+order.TotalAmount.StringFixed(2))
	}

	now := s.now()
	req := domain.RefundRequest{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		MerchantID:  order.MerchantID,
		Amount:      in.Amount,
		Reason:      strings.TrimSpace(in.Reason),
		Status:      domain.RequestPending,
		RequestedBy: caller.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.refunds.Create(ctx, req); err != nil {
		return domain.RefundRequest{}, fmt.Errorf("create refund request: %w", err)
	}
	s.record(kindRefund, req.Status)
	s.logger.WithFields(log.Fields{"refund_id": req.ID, "order_id": order.ID, "amount": req.Amount.StringFixed(2)}).Info("refund request created")
	return req, nil
}

// ListReturns возвращает страницу запросов на возврат товара.
func (s *Service) ListReturns(ctx context.Context, caller domain.Principal, filter domain.RequestFilter) (domain.Page[domain.ReturnRequest], error) {
	filter, err := scopeFilter(caller, filter)
	if err != nil {
		return domain.Page[domain.ReturnRequest]{}, err
	}
	return s.returns.List(ctx, filter)
}

// ListRefunds возвращает страницу запросов на возврат средств.
func (s *Service) ListRefunds(ctx context.Context, caller domain.Principal, filter domain.RequestFilter) (domain.Page[domain.RefundRequest], error) {
	filter, err := scopeFilter(caller, filter)
	if err != nil {
		return domain.Page[domain.RefundRequest]{}, err
	}
	return s.refunds.List(ctx, filter)
}

// DecideReturn применяет решение оператора к запросу на возврат товара.
func (s *Service) DecideReturn(ctx context.Context, caller domain.Principal, id string, in DecisionInput) (domain.ReturnRequest, error) {
	if !caller.IsAdmin() {
		return domain.ReturnRequest{}, fmt.Errorf("%w: only platform admins decide returns", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.ReturnRequest{}, err
	}

	req, err := s.returns.Get(ctx, id)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	from := req.Status
	if err := req.Apply(s.decision(caller, in)); err != nil {
		return domain.ReturnRequest{}, err
	}

	upd, err := s.requestUpdate(caller, from, req.Status, requestEvent{
		aggregate: domain.AggregateReturn,
		eventType: domain.EventReturnStatusChanged,
		action:    domain.AuditReturnStatusChanged,
		id:        req.ID,
		orderID:   req.OrderID,
		merchant:  req.MerchantID,
		note:      firstNonEmpty(in.RejectionReason, in.AdminNotes),
	}, in)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if err := s.returns.Update(ctx, req, upd); err != nil {
		return domain.ReturnRequest{}, err
	}

	s.record(kindReturn, req.Status)
	s.logger.WithFields(log.Fields{"return_id": req.ID, "from": from, "to": req.Status}).Info("return request status changed")
	return req, nil
}

// DecideRefund применяет решение оператора к запросу на возврат средств.
func (s *Service) DecideRefund(ctx context.Context, caller domain.Principal, id string, in DecisionInput) (domain.RefundRequest, error) {
	if !caller.IsAdmin() {
		return domain.RefundRequest{}, fmt.Errorf("%w: only platform admins decide refunds", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.RefundRequest{}, err
	}

	req, err := s.refunds.Get(ctx, id)
	if err != nil {
		return domain.RefundRequest{}, err
	}
	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return domain.RefundRequest{}, fmt.Errorf("load refund order: %w", err)
	}

	from := req.Status
	if err := req.Apply(s.decision(caller, in), order.TotalAmount); err != nil {
		return domain.RefundRequest{}, err
	}

	upd, err := s.requestUpdate(caller, from, req.Status, requestEvent{
		aggregate: domain.AggregateRefund,
		eventType: domain.EventRefundStatusChanged,
		action:    domain.AuditRefundStatusChanged,
		id:        req.ID,
		orderID:   req.OrderID,
		merchant:  req.MerchantID,
		note:      firstNonEmpty(in.RejectionReason, in.AdminNotes),
	}, in)
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if err := s.refunds.Update(ctx, req, upd); err != nil {
		return domain.RefundRequest{}, err
	}

	s.record(kindRefund, req.Status)
	fields := log.Fields{"refund_id": req.ID, "from": from, "to": req.Status}
	if req.ApprovedAmount != nil {
		fields["approved_amount"] = req.ApprovedAmount.StringFixed(2)
	}
	s.logger.WithFields(fields).Info("refund request status changed")
	return req, nil
}

type requestEvent struct {
	aggregate string
	eventType string
	action    domain.AuditAction
	id        string
	orderID   string
	merchant  string
	note      string
}

func (s *Service) decision(caller domain.Principal, in DecisionInput) domain.RequestDecision {
	return domain.RequestDecision{
		Status:          in.Status,
		ApprovedAmount:  in.ApprovedAmount,
		RejectionReason: strings.TrimSpace(in.RejectionReason),
		AdminNotes:      strings.TrimSpace(in.AdminNotes),
		ActorID:         caller.ID,
		At:              s.now(),
	}
}

func (s *Service) requestUpdate(caller domain.Principal, from, to domain.RequestStatus, ev requestEvent, in DecisionInput) (domain.RequestUpdate, error) {
	now := s.now()
	payload, err := json.Marshal(domain.StatusChangedPayload{
		ID:         ev.id,
		OrderID:    ev.orderID,
		MerchantID: ev.merchant,
		From:       string(from),
		To:         string(to),
		ChangedBy:  caller.ID,
		Note:       ev.note,
	})
	if err != nil {
		return domain.RequestUpdate{}, fmt.Errorf("encode request event: %w", err)
	}
	auditPayload, err := json.Marshal(in)
	if err != nil {
		return domain.RequestUpdate{}, fmt.Errorf("encode audit payload: %w", err)
	}

	return domain.RequestUpdate{
		ExpectedStatus: from,
		Audit: domain.AuditEntry{
			ID:         uuid.NewString(),
			ActorID:    caller.ID,
			ActorKind:  caller.Kind,
			MerchantID: ev.merchant,
			Action:     ev.action,
			EntityType: ev.aggregate,
			EntityID:   ev.id,
			Payload:    auditPayload,
			CreatedAt:  now,
		},
		Events: []domain.OutboxMessage{{
			ID:            uuid.NewString(),
			AggregateType: ev.aggregate,
			AggregateID:   ev.id,
			EventType:     ev.eventType,
			Payload:       payload,
			CreatedAt:     now,
		}},
	}, nil
}

// ownedOrder загружает заказ; чужой заказ для мерчанта не существует.
func (s *Service) ownedOrder(ctx context.Context, caller domain.Principal, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.SeesAllMerchants() && order.MerchantID != caller.MerchantID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) record(kind string, status domain.RequestStatus) {
	if s.metrics != nil {
		s.metrics.RecordRequestTransition(kind, string(status))
	}
}

func canRequest(caller domain.Principal) error {
	if !caller.HasRole(domain.RoleAdmin, domain.RoleMerchantAdmin, domain.RoleMerchantStaff) {
		return fmt.Errorf("%w: role cannot open requests", domain.ErrForbidden)
	}
	return nil
}

func scopeFilter(caller domain.Principal, filter domain.RequestFilter) (domain.RequestFilter, error) {
	if caller.Kind != domain.PrincipalUser || !caller.Role.Valid() {
		return filter, domain.ErrForbidden
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, domain.NewValidationError("status", "is not a valid request status")
	}
	filter.MerchantID = caller.ScopeMerchant(filter.MerchantID)
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	return filter, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
