package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type merchantRepository struct {
	db *sql.DB
}

// NewMerchantRepository создаёт PostgreSQL-реализацию MerchantRepository.
func NewMerchantRepository(store *Store) domain.MerchantRepository {
	return &merchantRepository{db: store.DB()}
}

func (r *merchantRepository) Create(ctx context.Context, m domain.Merchant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, email, phone, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, m.Name, m.Email, m.Phone, m.IsActive, m.CreatedAt, m.UpdatedAt); err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

func (r *merchantRepository) Get(ctx context.Context, id string) (domain.Merchant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m domain.Merchant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, is_active, created_at, updated_at
		FROM merchants
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Email, &m.Phone, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Merchant{}, domain.ErrMerchantNotFound
		}
		return domain.Merchant{}, fmt.Errorf("select merchant: %w", err)
	}
	return m, nil
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) Create(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var merchantID any
	if u.MerchantID != "" {
		merchantID = u.MerchantID
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, merchant_id, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Email, u.Name, string(u.Role), merchantID, u.IsActive, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u          domain.User
		role       string
		merchantID sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &merchantID, &u.IsActive, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.MerchantID = merchantID.String
	return u, nil
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, merchant_id, is_active, created_at
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (r *userRepository) FindByMerchantRole(ctx context.Context, merchantID string, role domain.Role) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, name, role, merchant_id, is_active, created_at
		FROM users
		WHERE merchant_id = $1 AND role = $2 AND is_active
		ORDER BY created_at, id
	`, merchantID, string(role))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()

	result := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return result, nil
}

type apiKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository создаёт PostgreSQL-реализацию APIKeyRepository.
func NewAPIKeyRepository(store *Store) domain.APIKeyRepository {
	return &apiKeyRepository{db: store.DB()}
}

func joinPermissions(perms []domain.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func splitPermissions(raw string) []domain.Permission {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	perms := make([]domain.Permission, 0, len(parts))
	for _, p := range parts {
		perms = append(perms, domain.Permission(strings.TrimSpace(p)))
	}
	return perms
}

func (r *apiKeyRepository) Create(ctx context.Context, key domain.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, merchant_id, name, prefix, secret_hash, permissions, is_active,
			expires_at, last_used_at, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, key.ID, key.MerchantID, key.Name, key.Prefix, key.SecretHash, joinPermissions(key.Permissions),
		key.IsActive, nullTime(key.ExpiresAt), nullTime(key.LastUsedAt), key.CreatedBy, key.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRequestConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) GetByPrefix(ctx context.Context, prefix string) (domain.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		key              domain.APIKey
		perms            string
		expires, lastUse sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, name, prefix, secret_hash, permissions, is_active,
		       expires_at, last_used_at, created_by, created_at
		FROM api_keys
		WHERE prefix = $1
	`, prefix).Scan(&key.ID, &key.MerchantID, &key.Name, &key.Prefix, &key.SecretHash, &perms,
		&key.IsActive, &expires, &lastUse, &key.CreatedBy, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return domain.APIKey{}, fmt.Errorf("select api key: %w", err)
	}
	key.Permissions = splitPermissions(perms)
	key.ExpiresAt = timePtr(expires)
	key.LastUsedAt = timePtr(lastUse)
	return key, nil
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for api key touch: %w", err)
	}
	if affected == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

type apiRequestLogRepository struct {
	db *sql.DB
}

// NewAPIRequestLogRepository создаёт PostgreSQL-реализацию APIRequestLogRepository.
func NewAPIRequestLogRepository(store *Store) domain.APIRequestLogRepository {
	return &apiRequestLogRepository{db: store.DB()}
}

func (r *apiRequestLogRepository) Append(ctx context.Context, e domain.APIRequestLog) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO api_request_logs (
			id, api_key_id, merchant_id, method, path, status_code, latency_ms,
			request_body, response_body, client_ip, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.APIKeyID, e.MerchantID, e.Method, e.Path, e.StatusCode, e.LatencyMs,
		e.RequestBody, e.ResponseBody, e.ClientIP, e.CreatedAt); err != nil {
		return fmt.Errorf("insert api request log: %w", err)
	}
	return nil
}

func (r *apiRequestLogRepository) ListByKey(ctx context.Context, apiKeyID string, limit int) ([]domain.APIRequestLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, api_key_id, merchant_id, method, path, status_code, latency_ms,
		       request_body, response_body, client_ip, created_at
		FROM api_request_logs
		WHERE api_key_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, apiKeyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list api request logs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.APIRequestLog, 0)
	for rows.Next() {
		var e domain.APIRequestLog
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.MerchantID, &e.Method, &e.Path, &e.StatusCode, &e.LatencyMs,
			&e.RequestBody, &e.ResponseBody, &e.ClientIP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api request log: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api request logs: %w", err)
	}
	return result, nil
}

var (
	_ domain.MerchantRepository      = (*merchantRepository)(nil)
	_ domain.UserRepository          = (*userRepository)(nil)
	_ domain.APIKeyRepository        = (*apiKeyRepository)(nil)
	_ domain.APIRequestLogRepository = (*apiRequestLogRepository)(nil)
)
