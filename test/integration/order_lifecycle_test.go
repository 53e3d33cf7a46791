package integration

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/notify"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/accounts"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/returns"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// OrderLifecycleTestSuite прогоняет заказ через все сервисы поверх одного
// in-memory хранилища: сток, статусы, возвраты и уведомления.
type OrderLifecycleTestSuite struct {
	suite.Suite

	ctx      context.Context
	accounts *accounts.Service
	catalog  *catalog.Service
	orders   *ordering.Service
	returns  *returns.Service
	outbox   *outbox.Worker
	notifier *notify.Dispatcher
	pending  func() []domain.OutboxMessage

	admin      domain.Principal
	staff      domain.Principal
	warehouse  domain.Principal
	merchantID string
	productID  string
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()

	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	store := memory.NewStore()
	merchants := memory.NewMerchantRepository(store)
	users := memory.NewUserRepository(store)
	products := memory.NewProductRepository(store)
	warehouses := memory.NewWarehouseRepository(store)
	orderRepo := memory.NewOrderRepository(store)
	notifications := memory.NewNotificationRepository(store)
	outboxRepo := memory.NewOutboxRepository(store)
	s.pending = outboxRepo.AllPending

	s.accounts = accounts.New(accounts.Deps{
		Merchants:     merchants,
		Users:         users,
		APIKeys:       memory.NewAPIKeyRepository(store),
		Notifications: notifications,
		Logger:        logger,
	})
	s.catalog = catalog.New(catalog.Deps{
		Products:   products,
		Warehouses: warehouses,
		Stock:      memory.NewStockRepository(store),
		Logger:     logger,
	})
	s.orders = ordering.New(ordering.Deps{
		Orders:     orderRepo,
		Products:   products,
		Merchants:  merchants,
		Warehouses: warehouses,
		Logger:     logger,
	})
	s.returns = returns.New(returns.Deps{
		Orders:  orderRepo,
		Returns: memory.NewReturnRepository(store),
		Refunds: memory.NewRefundRepository(store),
		Logger:  logger,
	})

	queue := notify.NewMemoryQueue()
	s.outbox = outbox.NewWorker(outboxRepo, notify.NewEnqueuer(queue, logger), outbox.WithLogger(logger))
	s.notifier = notify.NewDispatcher(queue, notify.NewLogMailer(logger), merchants, users, notifications, notify.WithLogger(logger))

	s.admin = domain.Principal{Kind: domain.PrincipalUser, ID: "root", Role: domain.RoleAdmin}
	merchant, err := s.accounts.CreateMerchant(s.ctx, s.admin, accounts.MerchantInput{Name: "Tea House", Email: "shop@example.com"})
	s.Require().NoError(err)
	s.merchantID = merchant.ID

	owner, err := s.accounts.CreateUser(s.ctx, s.admin, accounts.UserInput{
		Email: "owner@example.com", Name: "Owner", Role: domain.RoleMerchantAdmin, MerchantID: merchant.ID,
	})
	s.Require().NoError(err)
	s.staff = domain.Principal{Kind: domain.PrincipalUser, ID: owner.ID, Role: domain.RoleMerchantAdmin, MerchantID: merchant.ID}
	s.warehouse = domain.Principal{Kind: domain.PrincipalUser, ID: "picker", Role: domain.RoleWarehouseStaff}

	product, err := s.catalog.CreateProduct(s.ctx, s.admin, catalog.CreateProductInput{
		MerchantID: merchant.ID,
		SKU:        "tea-01",
		Name:       "Assam Tea",
		UnitPrice:  decimal.NewFromInt(250),
		Quantity:   10,
	})
	s.Require().NoError(err)
	s.productID = product.Product.ID
}

func (s *OrderLifecycleTestSuite) createOrder(qty int) domain.Order {
	details, err := s.orders.Create(s.ctx, s.staff, ordering.CreateInput{
		CustomerName:    "Rahim Uddin",
		CustomerEmail:   "rahim@example.com",
		CustomerPhone:   "01712345678",
		ShippingAddress: ordering.AddressInput{Line1: "House 12, Road 5", City: "Dhaka"},
		Items:           []ordering.ItemInput{{ProductID: s.productID, Quantity: qty, UnitPrice: decimal.NewFromInt(250)}},
		DeliveryFee:     decimal.NewFromInt(60),
		PaymentMethod:   domain.PaymentCOD,
	})
	s.Require().NoError(err)
	return details.Order
}

func (s *OrderLifecycleTestSuite) stock() (quantity, reserved, available int) {
	ps, err := s.catalog.Stock(s.ctx, s.admin, s.productID)
	s.Require().NoError(err)
	return ps.Totals()
}

func (s *OrderLifecycleTestSuite) move(orderID string, to domain.OrderStatus) domain.Order {
	order, err := s.orders.Transition(s.ctx, s.warehouse, orderID, ordering.TransitionInput{Status: to})
	s.Require().NoError(err)
	return order
}

func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	order := s.createOrder(2)
	s.Equal(domain.OrderStatusPending, order.Status)
	s.Equal(domain.ReservationHeld, order.ReservationState)
	s.True(order.TotalAmount.Equal(decimal.RequireFromString("560")))

	qty, reserved, available := s.stock()
	s.Equal([3]int{10, 2, 8}, [3]int{qty, reserved, available})

	for _, status := range domain.HappyPath[1:] {
		order = s.move(order.ID, status)
		s.Equal(status, order.Status)
	}
	s.Equal(domain.ReservationConsumed, order.ReservationState)

	qty, reserved, available = s.stock()
	s.Equal([3]int{8, 0, 8}, [3]int{qty, reserved, available})

	history, err := s.orders.History(s.ctx, s.admin, order.ID)
	s.Require().NoError(err)
	s.Len(history, len(domain.HappyPath))
}

func (s *OrderLifecycleTestSuite) TestCancelReleasesReservation() {
	order := s.createOrder(3)

	cancelled, err := s.orders.Transition(s.ctx, s.staff, order.ID, ordering.TransitionInput{Status: domain.OrderStatusCancelled, Note: "customer changed mind"})
	s.Require().NoError(err)
	s.Equal(domain.ReservationReleased, cancelled.ReservationState)

	qty, reserved, available := s.stock()
	s.Equal([3]int{10, 0, 10}, [3]int{qty, reserved, available})

	_, err = s.orders.Transition(s.ctx, s.warehouse, order.ID, ordering.TransitionInput{Status: domain.OrderStatusConfirmed})
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

func (s *OrderLifecycleTestSuite) TestInsufficientStockLeavesNothingBehind() {
	_, err := s.orders.Create(s.ctx, s.staff, ordering.CreateInput{
		CustomerName:    "Karim",
		CustomerPhone:   "01812345678",
		ShippingAddress: ordering.AddressInput{Line1: "Flat 3B", City: "Dhaka"},
		Items:           []ordering.ItemInput{{ProductID: s.productID, Quantity: 11, UnitPrice: decimal.NewFromInt(250)}},
	})
	s.ErrorIs(err, domain.ErrInsufficientStock)

	_, reserved, available := s.stock()
	s.Zero(reserved)
	s.Equal(10, available)
	s.Empty(s.pending())
}

func (s *OrderLifecycleTestSuite) TestReturnAndRefundAfterDelivery() {
	order := s.createOrder(1)

	_, err := s.returns.CreateReturn(s.ctx, s.staff, returns.CreateReturnInput{OrderID: order.ID, Reason: "damaged"})
	s.ErrorIs(err, domain.ErrOrderNotReturnable)

	s.move(order.ID, domain.OrderStatusDelivered)

	ret, err := s.returns.CreateReturn(s.ctx, s.staff, returns.CreateReturnInput{OrderID: order.ID, Reason: "damaged"})
	s.Require().NoError(err)
	ret, err = s.returns.DecideReturn(s.ctx, s.admin, ret.ID, returns.DecisionInput{Status: domain.RequestApproved})
	s.Require().NoError(err)
	s.Equal(domain.RequestApproved, ret.Status)

	_, err = s.returns.CreateRefund(s.ctx, s.staff, returns.CreateRefundInput{
		OrderID: order.ID, Amount: decimal.NewFromInt(1000), Reason: "too much",
	})
	s.True(domain.IsValidation(err))

	refund, err := s.returns.CreateRefund(s.ctx, s.staff, returns.CreateRefundInput{
		OrderID: order.ID, Amount: decimal.NewFromInt(250), Reason: "damaged item",
	})
	s.Require().NoError(err)
	_, err = s.returns.DecideRefund(s.ctx, s.staff, refund.ID, returns.DecisionInput{Status: domain.RequestApproved})
	s.ErrorIs(err, domain.ErrForbidden)
}

func (s *OrderLifecycleTestSuite) TestOrderEventsReachNotifications() {
	s.createOrder(1)
	s.NotEmpty(s.pending())

	s.outbox.ProcessOnce(s.ctx)
	s.Empty(s.pending())
	s.Positive(s.notifier.ProcessOnce(s.ctx))

	for _, who := range []domain.Principal{s.staff, s.warehouse, s.admin} {
		inbox, err := s.accounts.Notifications(s.ctx, who, 10)
		s.Require().NoError(err)
		s.NotEmpty(inbox, "role %s", who.Role)
	}
}

func TestOrderLifecycleSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite skipped in short mode")
	}
	suite.Run(t, new(OrderLifecycleTestSuite))
}
