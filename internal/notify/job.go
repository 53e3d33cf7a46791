// Package notify рассылает уведомления о новых заказах: уведомления ролям
// платформы, письма клиенту и мерчанту, уведомление администратору мерчанта.
// Каждый шаг — отдельная задача очереди со своими повторами.
package notify

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Step: независимый шаг рассылки.
type Step string

const (
	StepWarehouseRole  Step = "warehouse_role"
	StepAdminRole      Step = "admin_role"
	StepCustomerEmail  Step = "customer_email"
	StepMerchantEmail  Step = "merchant_email"
	StepMerchantNotice Step = "merchant_notice"
)

// Job: задача рассылки по одному заказу.
type Job struct {
	ID        string                     `json:"id"`
	Step      Step                       `json:"step"`
	Order     domain.OrderCreatedPayload `json:"order"`
	Attempt   int                        `json:"attempt"`
	CreatedAt time.Time                  `json:"createdAt"`
}

// StepsFor возвращает шаги рассылки для заказа. Письмо клиенту
// отправляется, только если указан email.
func StepsFor(order domain.OrderCreatedPayload) []Step {
	steps := []Step{StepWarehouseRole, StepAdminRole}
	if order.CustomerEmail != "" {
		steps = append(steps, StepCustomerEmail)
	}
	return append(steps, StepMerchantEmail, StepMerchantNotice)
}
