package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	returnColumns = `id, order_id, merchant_id, reason, status, rejection_reason, admin_notes,
		requested_by, processed_at, processed_by, created_at, updated_at`
	refundColumns = `id, order_id, merchant_id, amount, reason, status, approved_amount, rejection_reason,
		admin_notes, requested_by, processed_at, processed_by, created_at, updated_at`
)

// requestWhere строит условия фильтра для таблиц запросов.
func requestWhere(f domain.RequestFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.MerchantID != "" {
		args = append(args, f.MerchantID)
		conds = append(conds, fmt.Sprintf("merchant_id = $%d", len(args)))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		conds = append(conds, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func pageQuery(base, where string, args []any, f domain.RequestFilter) (string, []any) {
	query := base + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	return query, args
}

type returnRepository struct {
	db *sql.DB
}

// NewReturnRepository создаёт PostgreSQL-реализацию ReturnRepository.
func NewReturnRepository(store *Store) domain.ReturnRepository {
	return &returnRepository{db: store.DB()}
}

func scanReturn(row rowScanner) (domain.ReturnRequest, error) {
	var (
		r         domain.ReturnRequest
		status    string
		processed sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.OrderID, &r.MerchantID, &r.Reason, &status, &r.RejectionReason, &r.AdminNotes,
		&r.RequestedBy, &processed, &r.ProcessedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.ReturnRequest{}, err
	}
	r.Status = domain.RequestStatus(status)
	r.ProcessedAt = timePtr(processed)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (r *returnRepository) Create(ctx context.Context, req domain.ReturnRequest) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO return_requests (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, req.ID, req.OrderID, req.MerchantID, req.Reason, string(req.Status), req.RejectionReason, req.AdminNotes,
		req.RequestedBy, nullTime(req.ProcessedAt), req.ProcessedBy, req.CreatedAt, req.UpdatedAt); err != nil {
		return fmt.Errorf("insert return request: %w", err)
	}
	return nil
}

func (r *returnRepository) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	req, err := scanReturn(r.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnRequest{}, domain.ErrReturnNotFound
		}
		return domain.ReturnRequest{}, fmt.Errorf("select return request: %w", err)
	}
	return req, nil
}

func (r *returnRepository) List(ctx context.Context, filter domain.RequestFilter) (domain.Page[domain.ReturnRequest], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := requestWhere(filter)
	page := domain.Page[domain.ReturnRequest]{Page: max(filter.Page, 1), Limit: filter.Limit, Items: []domain.ReturnRequest{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM return_requests`+where, args...).Scan(&page.Total); err != nil {
		return domain.Page[domain.ReturnRequest]{}, fmt.Errorf("count return requests: %w", err)
	}

	query, args := pageQuery(`SELECT `+returnColumns+` FROM return_requests`, where, args, filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.ReturnRequest]{}, fmt.Errorf("list return requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		req, err := scanReturn(rows)
		if err != nil {
			return domain.Page[domain.ReturnRequest]{}, fmt.Errorf("scan return request: %w", err)
		}
		page.Items = append(page.Items, req)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.ReturnRequest]{}, fmt.Errorf("iterate return requests: %w", err)
	}
	return page, nil
}

// Update применяет решение, только если статус в базе равен ожидаемому.
func (r *returnRepository) Update(ctx context.Context, req domain.ReturnRequest, upd domain.RequestUpdate) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	res, err := tx.ExecContext(ctx, `
		UPDATE return_requests
		SET status = $3, rejection_reason = $4, admin_notes = $5,
		    processed_at = $6, processed_by = $7, updated_at = $8
		WHERE id = $1 AND status = $2
	`, req.ID, string(upd.ExpectedStatus), string(req.Status), req.RejectionReason, req.AdminNotes,
		nullTime(req.ProcessedAt), req.ProcessedBy, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update return request: %w", err)
	}
	if err = requireUpdated(ctx, tx, res, "return_requests", req.ID, domain.ErrReturnNotFound); err != nil {
		return err
	}
	if err = insertAudit(ctx, tx, upd.Audit); err != nil {
		return err
	}
	if err = insertOutbox(ctx, tx, upd.Events); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit return update: %w", err)
	}
	return nil
}

type refundRepository struct {
	db *sql.DB
}

// NewRefundRepository создаёт PostgreSQL-реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepository{db: store.DB()}
}

func scanRefund(row rowScanner) (domain.RefundRequest, error) {
	var (
		r         domain.RefundRequest
		status    string
		approved  decimal.NullDecimal
		processed sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.OrderID, &r.MerchantID, &r.Amount, &r.Reason, &status, &approved,
		&r.RejectionReason, &r.AdminNotes, &r.RequestedBy, &processed, &r.ProcessedBy,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.RefundRequest{}, err
	}
	r.Status = domain.RequestStatus(status)
	if approved.Valid {
		amount := approved.Decimal
		r.ApprovedAmount = &amount
	}
	r.ProcessedAt = timePtr(processed)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *refundRepository) Create(ctx context.Context, req domain.RefundRequest) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO refund_requests (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, req.ID, req.OrderID, req.MerchantID, req.Amount, req.Reason, string(req.Status), nullDecimal(req.ApprovedAmount),
		req.RejectionReason, req.AdminNotes, req.RequestedBy, nullTime(req.ProcessedAt), req.ProcessedBy,
		req.CreatedAt, req.UpdatedAt); err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

func (r *refundRepository) Get(ctx context.Context, id string) (domain.RefundRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	req, err := scanRefund(r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefundRequest{}, domain.ErrRefundNotFound
		}
		return domain.RefundRequest{}, fmt.Errorf("select refund request: %w", err)
	}
	return req, nil
}

func (r *refundRepository) List(ctx context.Context, filter domain.RequestFilter) (domain.Page[domain.RefundRequest], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := requestWhere(filter)
	page := domain.Page[domain.RefundRequest]{Page: max(filter.Page, 1), Limit: filter.Limit, Items: []domain.RefundRequest{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refund_requests`+where, args...).Scan(&page.Total); err != nil {
		return domain.Page[domain.RefundRequest]{}, fmt.Errorf("count refund requests: %w", err)
	}

	query, args := pageQuery(`SELECT `+refundColumns+` FROM refund_requests`, where, args, filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.RefundRequest]{}, fmt.Errorf("list refund requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return domain.Page[domain.RefundRequest]{}, fmt.Errorf("scan refund request: %w", err)
		}
		page.Items = append(page.Items, req)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.RefundRequest]{}, fmt.Errorf("iterate refund requests: %w", err)
	}
	return page, nil
}

func (r *refundRepository) Update(ctx context.Context, req domain.RefundRequest, upd domain.RequestUpdate) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	res, err := tx.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $3, approved_amount = $4, rejection_reason = $5, admin_notes = $6,
		    processed_at = $7, processed_by = $8, updated_at = $9
		WHERE id = $1 AND status = $2
	`, req.ID, string(upd.ExpectedStatus), string(req.Status), nullDecimal(req.ApprovedAmount), req.RejectionReason,
		req.AdminNotes, nullTime(req.ProcessedAt), req.ProcessedBy, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}
	if err = requireUpdated(ctx, tx, res, "refund_requests", req.ID, domain.ErrRefundNotFound); err != nil {
		return err
	}
	if err = insertAudit(ctx, tx, upd.Audit); err != nil {
		return err
	}
	if err = insertOutbox(ctx, tx, upd.Events); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit refund update: %w", err)
	}
	return nil
}

// requireUpdated различает отсутствующую строку и конфликт статуса.
func requireUpdated(ctx context.Context, tx *sql.Tx, res sql.Result, table, id string, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", table, err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s exists: %w", table, err)
	}
	if !exists {
		return notFound
	}
	return domain.ErrRequestConflict
}

var (
	_ domain.ReturnRepository = (*returnRepository)(nil)
	_ domain.RefundRepository = (*refundRepository)(nil)
)
