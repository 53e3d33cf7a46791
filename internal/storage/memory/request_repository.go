package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type returnRepositoryInMemory struct {
	s *Store
}

// NewReturnRepository создаёт in-memory реализацию ReturnRepository.
func NewReturnRepository(s *Store) domain.ReturnRepository {
	return &returnRepositoryInMemory{s: s}
}

func (r *returnRepositoryInMemory) Create(ctx context.Context, req domain.ReturnRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.returns[req.ID] = cloneReturn(req)
	return nil
}

func (r *returnRepositoryInMemory) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReturnRequest{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.returns[id]
	if !ok {
		return domain.ReturnRequest{}, domain.ErrReturnNotFound
	}
	return cloneReturn(req), nil
}

func (r *returnRepositoryInMemory) List(ctx context.Context, filter domain.RequestFilter) (domain.Page[domain.ReturnRequest], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[domain.ReturnRequest]{}, err
	}

	r.s.mu.RLock()
	matched := make([]domain.ReturnRequest, 0)
	for _, req := range r.s.returns {
		if matchRequest(filter, req.MerchantID, req.OrderID, req.Status) {
			matched = append(matched, cloneReturn(req))
		}
	}
	r.s.mu.RUnlock()

	sortNewestFirst(matched, func(req domain.ReturnRequest) (time.Time, string) { return req.CreatedAt, req.ID })
	return domain.Page[domain.ReturnRequest]{
		Items: paginate(matched, filter.Offset(), filter.Limit),
		Total: len(matched),
		Page:  max(filter.Page, 1),
		Limit: filter.Limit,
	}, nil
}

func (r *returnRepositoryInMemory) Update(ctx context.Context, req domain.ReturnRequest, upd domain.RequestUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.returns[req.ID]
	if !ok {
		return domain.ErrReturnNotFound
	}
	if current.Status != upd.ExpectedStatus {
		return domain.ErrRequestConflict
	}
	r.s.returns[req.ID] = cloneReturn(req)
	r.s.appendAuditLocked(upd.Audit)
	r.s.enqueueLocked(upd.Events)
	return nil
}

type refundRepositoryInMemory struct {
	s *Store
}

// NewRefundRepository создаёт in-memory реализацию RefundRepository.
func NewRefundRepository(s *Store) domain.RefundRepository {
	return &refundRepositoryInMemory{s: s}
}

func (r *refundRepositoryInMemory) Create(ctx context.Context, req domain.RefundRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.refunds[req.ID] = cloneRefund(req)
	return nil
}

func (r *refundRepositoryInMemory) Get(ctx context.Context, id string) (domain.RefundRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.RefundRequest{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.refunds[id]
	if !ok {
		return domain.RefundRequest{}, domain.ErrRefundNotFound
	}
	return cloneRefund(req), nil
}

func (r *refundRepositoryInMemory) List(ctx context.Context, filter domain.RequestFilter) (domain.Page[domain.RefundRequest], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[domain.RefundRequest]{}, err
	}

	r.s.mu.RLock()
	matched := make([]domain.RefundRequest, 0)
	for _, req := range r.s.refunds {
		if matchRequest(filter, req.MerchantID, req.OrderID, req.Status) {
			matched = append(matched, cloneRefund(req))
		}
	}
	r.s.mu.RUnlock()

	sortNewestFirst(matched, func(req domain.RefundRequest) (time.Time, string) { return req.CreatedAt, req.ID })
	return domain.Page[domain.RefundRequest]{
		Items: paginate(matched, filter.Offset(), filter.Limit),
		Total: len(matched),
		Page:  max(filter.Page, 1),
		Limit: filter.Limit,
	}, nil
}

func (r *refundRepositoryInMemory) Update(ctx context.Context, req domain.RefundRequest, upd domain.RequestUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.refunds[req.ID]
	if !ok {
		return domain.ErrRefundNotFound
	}
	if current.Status != upd.ExpectedStatus {
		return domain.ErrRequestConflict
	}
	r.s.refunds[req.ID] = cloneRefund(req)
	r.s.appendAuditLocked(upd.Audit)
	r.s.enqueueLocked(upd.Events)
	return nil
}

func matchRequest(f domain.RequestFilter, merchantID, orderID string, status domain.RequestStatus) bool {
	if f.MerchantID != "" && f.MerchantID != merchantID {
		return false
	}
	if f.OrderID != "" && f.OrderID != orderID {
		return false
	}
	return f.Status == "" || f.Status == status
}

func sortNewestFirst[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idI := key(items[i])
		tj, idJ := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idI > idJ
	})
}

func cloneReturn(src domain.ReturnRequest) domain.ReturnRequest {
	dst := src
	if src.ProcessedAt != nil {
		at := *src.ProcessedAt
		dst.ProcessedAt = &at
	}
	return dst
}

func cloneRefund(src domain.RefundRequest) domain.RefundRequest {
	dst := src
	if src.ProcessedAt != nil {
		at := *src.ProcessedAt
		dst.ProcessedAt = &at
	}
	if src.ApprovedAmount != nil {
		amount := *src.ApprovedAmount
		dst.ApprovedAmount = &amount
	}
	return dst
}

var (
	_ domain.ReturnRepository = (*returnRepositoryInMemory)(nil)
	_ domain.RefundRepository = (*refundRepositoryInMemory)(nil)
)
