package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type merchantRepositoryInMemory struct {
	s *Store
}

// NewMerchantRepository создаёт in-memory реализацию MerchantRepository.
func NewMerchantRepository(s *Store) domain.MerchantRepository {
	return &merchantRepositoryInMemory{s: s}
}

func (r *merchantRepositoryInMemory) Create(ctx context.Context, m domain.Merchant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.merchants[m.ID] = m
	return nil
}

func (r *merchantRepositoryInMemory) Get(ctx context.Context, id string) (domain.Merchant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Merchant{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.merchants[id]
	if !ok {
		return domain.Merchant{}, domain.ErrMerchantNotFound
	}
	return m, nil
}

type userRepositoryInMemory struct {
	s *Store
}

// NewUserRepository создаёт in-memory реализацию UserRepository.
func NewUserRepository(s *Store) domain.UserRepository {
	return &userRepositoryInMemory{s: s}
}

func (r *userRepositoryInMemory) Create(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return domain.ErrUserEmailTaken
		}
	}
	r.s.users[u.ID] = u
	return nil
}

func (r *userRepositoryInMemory) Get(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *userRepositoryInMemory) FindByMerchantRole(ctx context.Context, merchantID string, role domain.Role) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	result := make([]domain.User, 0)
	for _, u := range r.s.users {
		if u.IsActive && u.MerchantID == merchantID && u.Role == role {
			result = append(result, u)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type apiKeyRepositoryInMemory struct {
	s *Store
}

// NewAPIKeyRepository создаёт in-memory реализацию APIKeyRepository.
func NewAPIKeyRepository(s *Store) domain.APIKeyRepository {
	return &apiKeyRepositoryInMemory{s: s}
}

func (r *apiKeyRepositoryInMemory) Create(ctx context.Context, key domain.APIKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.apiKeyPrefix[key.Prefix]; taken {
		return domain.ErrRequestConflict
	}
	r.s.apiKeys[key.ID] = cloneAPIKey(key)
	r.s.apiKeyPrefix[key.Prefix] = key.ID
	return nil
}

func (r *apiKeyRepositoryInMemory) GetByPrefix(ctx context.Context, prefix string) (domain.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return domain.APIKey{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.apiKeyPrefix[prefix]
	if !ok {
		return domain.APIKey{}, domain.ErrAPIKeyNotFound
	}
	return cloneAPIKey(r.s.apiKeys[id]), nil
}

func (r *apiKeyRepositoryInMemory) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key, ok := r.s.apiKeys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	key.LastUsedAt = &at
	r.s.apiKeys[id] = key
	return nil
}

func cloneAPIKey(src domain.APIKey) domain.APIKey {
	dst := src
	dst.SecretHash = append([]byte(nil), src.SecretHash...)
	dst.Permissions = append([]domain.Permission(nil), src.Permissions...)
	return dst
}

type apiRequestLogRepositoryInMemory struct {
	s *Store
}

// NewAPIRequestLogRepository создаёт in-memory реализацию APIRequestLogRepository.
func NewAPIRequestLogRepository(s *Store) domain.APIRequestLogRepository {
	return &apiRequestLogRepositoryInMemory{s: s}
}

func (r *apiRequestLogRepositoryInMemory) Append(ctx context.Context, entry domain.APIRequestLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.apiLogs = append(r.s.apiLogs, entry)
	return nil
}

// ListByKey возвращает вызовы ключа, новые первыми.
func (r *apiRequestLogRepositoryInMemory) ListByKey(ctx context.Context, apiKeyID string, limit int) ([]domain.APIRequestLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.APIRequestLog, 0)
	for i := len(r.s.apiLogs) - 1; i >= 0; i-- {
		if r.s.apiLogs[i].APIKeyID != apiKeyID {
			continue
		}
		result = append(result, r.s.apiLogs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

var (
	_ domain.MerchantRepository      = (*merchantRepositoryInMemory)(nil)
	_ domain.UserRepository          = (*userRepositoryInMemory)(nil)
	_ domain.APIKeyRepository        = (*apiKeyRepositoryInMemory)(nil)
	_ domain.APIRequestLogRepository = (*apiRequestLogRepositoryInMemory)(nil)
)
