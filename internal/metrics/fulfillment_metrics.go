// Package metrics содержит прикладные метрики сервиса фулфилмента.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Каналы создания заказа.
const (
	ChannelInternal = "internal"
	ChannelExternal = "external"
)

// FulfillmentMetrics: метрики заказов, резервов и запросов на возврат.
type FulfillmentMetrics struct {
	ordersCreated     *prometheus.CounterVec
	orderRejected     *prometheus.CounterVec
	placementDuration prometheus.Histogram
	numberRetries     prometheus.Counter

	statusTransitions  *prometheus.CounterVec
	requestTransitions *prometheus.CounterVec
	stockMovements     *prometheus.CounterVec
}

// NewFulfillmentMetrics создаёт метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	return &FulfillmentMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders created, by channel",
		}, []string{"channel"}),
		orderRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_rejected_total",
			Help: "Total number of rejected order placements, by reason",
		}, []string{"reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_order_placement_duration_seconds",
			Help:    "Duration of the atomic reserve-and-persist step",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		numberRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_number_retries_total",
			Help: "Total number of order placements retried after an order number collision",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_status_transitions_total",
			Help: "Total number of accepted order status transitions, by target status",
		}, []string{"status"}),
		requestTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_request_transitions_total",
			Help: "Total number of return and refund request transitions",
		}, []string{"kind", "status"}),
		stockMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_stock_movements_total",
			Help: "Total number of stock movements written outside order placement",
		}, []string{"type", "reference"}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *FulfillmentMetrics) RecordOrderCreated(channel string) {
	m.ordersCreated.WithLabelValues(channel).Inc()
}

// RecordOrderRejected учитывает отказ в создании заказа.
func (m *FulfillmentMetrics) RecordOrderRejected(reason string) {
	m.orderRejected.WithLabelValues(reason).Inc()
}

// RecordPlacementDuration записывает длительность атомарного размещения.
func (m *FulfillmentMetrics) RecordPlacementDuration(d time.Duration) {
	m.placementDuration.Observe(d.Seconds())
}

// RecordOrderNumberRetry учитывает повтор из-за коллизии номера заказа.
func (m *FulfillmentMetrics) RecordOrderNumberRetry() {
	m.numberRetries.Inc()
}

// RecordStatusTransition учитывает принятый переход статуса заказа.
func (m *FulfillmentMetrics) RecordStatusTransition(status string) {
	m.statusTransitions.WithLabelValues(status).Inc()
}

// RecordRequestTransition учитывает переход запроса на возврат.
func (m *FulfillmentMetrics) RecordRequestTransition(kind, status string) {
	m.requestTransitions.WithLabelValues(kind, status).Inc()
}

// RecordStockMovement учитывает движение стока.
func (m *FulfillmentMetrics) RecordStockMovement(movementType, reference string) {
	m.stockMovements.WithLabelValues(movementType, reference).Inc()
}
