package apiview

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DateLayout: формат дат в параметрах запроса.
const DateLayout = "2006-01-02"

// QueryParser разбирает параметры запроса и собирает ошибки в одну ValidationError.
type QueryParser struct {
	values url.Values
	errs   *domain.ValidationError
}

// NewQueryParser создаёт разборщик параметров.
func NewQueryParser(values url.Values) *QueryParser {
	return &QueryParser{values: values}
}

func (p *QueryParser) fail(field, message string) {
	if p.errs == nil {
		p.errs = domain.NewValidationError(field, message)
		return
	}
	p.errs.Add(field, message)
}

func (p *QueryParser) String(name string) string {
	return strings.TrimSpace(p.values.Get(name))
}

func (p *QueryParser) Int(name string) int {
	raw := p.String(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		p.fail(name, "must be a non-negative integer")
		return 0
	}
	return v
}

// Page разбирает номер страницы не больше domain.MaxPage.
func (p *QueryParser) Page(name string) int {
	v := p.Int(name)
	if v > domain.MaxPage {
		p.fail(name, "must not exceed "+strconv.Itoa(domain.MaxPage))
		return 0
	}
	return v
}

func (p *QueryParser) Bool(name string) bool {
	raw := p.String(name)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name, "must be a boolean")
		return false
	}
	return v
}

// Time разбирает RFC 3339 или дату. Для верхней границы дата означает
// конец дня: граница исключающая.
func (p *QueryParser) Time(name string, upper bool) time.Time {
	raw := p.String(name)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		p.fail(name, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		return time.Time{}
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (p *QueryParser) Err() error {
	if p.errs == nil {
		return nil
	}
	return p.errs
}

// ParseOrderFilter разбирает параметры списка заказов.
func ParseOrderFilter(values url.Values) (domain.OrderFilter, error) {
	p := NewQueryParser(values)
	filter := domain.OrderFilter{
		MerchantID:    p.String("merchantId"),
		Status:        domain.OrderStatus(strings.ToUpper(p.String("status"))),
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(p.String("paymentMethod"))),
		DateFrom:      p.Time("dateFrom", false),
		DateTo:        p.Time("dateTo", true),
		Page:          p.Page("page"),
		Limit:         p.Int("limit"),
	}
	if !filter.DateFrom.IsZero() && !filter.DateTo.IsZero() && !filter.DateFrom.Before(filter.DateTo) {
		p.fail("dateTo", "must be after dateFrom")
	}
	return filter, p.Err()
}

// ParseRequestFilter разбирает параметры списка запросов на возврат.
func ParseRequestFilter(values url.Values) (domain.RequestFilter, error) {
	p := NewQueryParser(values)
	filter := domain.RequestFilter{
		MerchantID: p.String("merchantId"),
		OrderID:    p.String("orderId"),
		Status:     domain.RequestStatus(strings.ToUpper(p.String("status"))),
		Page:       p.Page("page"),
		Limit:      p.Int("limit"),
	}
	return filter, p.Err()
}
