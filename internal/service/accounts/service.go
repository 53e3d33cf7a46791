// Package accounts управляет мерчантами, пользователями, API-ключами
// и выдачей уведомлений платформы.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/validation"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
	maxKeyAttempts           = 3
)

// Deps: зависимости сервиса.
type Deps struct {
	Merchants     domain.MerchantRepository
	Users         domain.UserRepository
	APIKeys       domain.APIKeyRepository
	Notifications domain.NotificationRepository
	Validator     *validation.Validator
	Logger        *log.Entry
}

// Service: сценарии учётных записей.
type Service struct {
	merchants     domain.MerchantRepository
	users         domain.UserRepository
	keys          domain.APIKeyRepository
	notifications domain.NotificationRepository
	validator     *validation.Validator
	logger        *log.Entry
	now           func() time.Time
	generateKey   func() (auth.GeneratedKey, error)
}

// New создаёт сервис.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "accounts")
	}
	v := deps.Validator
	if v == nil {
		v = validation.New(validation.DefaultRegion)
	}
	return &Service{
		merchants:     deps.Merchants,
		users:         deps.Users,
		keys:          deps.APIKeys,
		notifications: deps.Notifications,
		validator:     v,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		generateKey:   auth.GenerateAPIKey,
	}
}

// MerchantInput: тело запроса на создание мерчанта.
type MerchantInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,phone"`
}

// CreateMerchant регистрирует мерчанта.
func (s *Service) CreateMerchant(ctx context.Context, caller domain.Principal, in MerchantInput) (domain.Merchant, error) {
	if !caller.IsAdmin() {
		return domain.Merchant{}, fmt.Errorf("%w: only platform admins create merchants", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.Merchant{}, err
	}
	phone := ""
	if in.Phone != "" {
		normalized, err := s.validator.NormalizePhone(in.Phone)
		if err != nil {
			return domain.Merchant{}, domain.NewValidationError("phone", "must be a valid phone number")
		}
		phone = normalized
	}

	now := s.now()
	m := domain.Merchant{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     phone,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.merchants.Create(ctx, m); err != nil {
		return domain.Merchant{}, err
	}
	s.logger.WithFields(log.Fields{"merchant_id": m.ID, "name": m.Name}).Info("merchant created")
	return m, nil
}

// UserInput: тело запроса на создание пользователя.
type UserInput struct {
	Email      string      `json:"email" validate:"required,email"`
	Name       string      `json:"name" validate:"required,max=255"`
	Role       domain.Role `json:"role" validate:"required,oneof=SJFS_ADMIN MERCHANT_ADMIN MERCHANT_STAFF WAREHOUSE_STAFF"`
	MerchantID string      `json:"merchantId,omitempty"`
}

// CreateUser заводит пользователя. Администратор мерчанта может добавлять
// только сотрудников своего мерчанта.
func (s *Service) CreateUser(ctx context.Context, caller domain.Principal, in UserInput) (domain.User, error) {
	if err := s.validator.Struct(in); err != nil {
		return domain.User{}, err
	}

	switch {
	case caller.IsAdmin():
	case caller.HasRole(domain.RoleMerchantAdmin):
		if !in.Role.MerchantBound() {
			return domain.User{}, fmt.Errorf("%w: merchant admin may only add merchant users", domain.ErrForbidden)
		}
		in.MerchantID = caller.MerchantID
	default:
		return domain.User{}, fmt.Errorf("%w: role cannot create users", domain.ErrForbidden)
	}

	if in.Role.MerchantBound() {
		if strings.TrimSpace(in.MerchantID) == "" {
			return domain.User{}, domain.NewValidationError("merchantId", "is required for merchant roles")
		}
		if _, err := s.merchants.Get(ctx, in.MerchantID); err != nil {
			return domain.User{}, err
		}
	} else {
		in.MerchantID = ""
	}

	u := domain.User{
		ID:         uuid.NewString(),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		Name:       strings.TrimSpace(in.Name),
		Role:       in.Role,
		MerchantID: in.MerchantID,
		IsActive:   true,
		CreatedAt:  s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return domain.User{}, err
	}
	s.logger.WithFields(log.Fields{"user_id": u.ID, "role": u.Role, "merchant_id": u.MerchantID}).Info("user created")
	return u, nil
}

// APIKeyInput: тело запроса на выпуск ключа.
type APIKeyInput struct {
	MerchantID  string              `json:"merchantId,omitempty"`
	Name        string              `json:"name" validate:"required,max=120"`
	Permissions []domain.Permission `json:"permissions" validate:"min=1,dive,oneof=orders:read orders:write"`
	ExpiresAt   *time.Time          `json:"expiresAt,omitempty"`
}

// IssuedKey — выпущенный ключ. Raw больше нигде не хранится.
type IssuedKey struct {
	Key domain.APIKey
	Raw string
}

// IssueAPIKey выпускает ключ интеграции мерчанта.
func (s *Service) IssueAPIKey(ctx context.Context, caller domain.Principal, in APIKeyInput) (IssuedKey, error) {
	switch {
	case caller.IsAdmin():
	case caller.HasRole(domain.RoleMerchantAdmin):
		in.MerchantID = caller.MerchantID
	default:
		return IssuedKey{}, fmt.Errorf("%w: role cannot issue api keys", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return IssuedKey{}, err
	}
	if strings.TrimSpace(in.MerchantID) == "" {
		return IssuedKey{}, domain.NewValidationError("merchantId", "is required")
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return IssuedKey{}, domain.NewValidationError("expiresAt", "must be in the future")
	}

	merchant, err := s.merchants.Get(ctx, in.MerchantID)
	if err != nil {
		return IssuedKey{}, err
	}
	if !merchant.IsActive {
		return IssuedKey{}, domain.ErrMerchantInactive
	}

	for attempt := 1; ; attempt++ {
		generated, err := s.generateKey()
		if err != nil {
			return IssuedKey{}, err
		}
		key := domain.APIKey{
			ID:          uuid.NewString(),
			MerchantID:  merchant.ID,
			Name:        strings.TrimSpace(in.Name),
			Prefix:      generated.Prefix,
			SecretHash:  generated.SecretHash,
			Permissions: uniquePermissions(in.Permissions),
			IsActive:    true,
			ExpiresAt:   in.ExpiresAt,
			CreatedBy:   caller.ID,
			CreatedAt:   now,
		}
		err = s.keys.Create(ctx, key)
		if err == nil {
			s.logger.WithFields(log.Fields{"api_key_id": key.ID, "merchant_id": key.MerchantID, "prefix": key.Prefix}).Info("api key issued")
			return IssuedKey{Key: key, Raw: generated.Raw}, nil
		}
		if !errors.Is(err, domain.ErrRequestConflict) || attempt >= maxKeyAttempts {
			return IssuedKey{}, err
		}
	}
}

// Notifications возвращает уведомления вызывающего и его роли.
func (s *Service) Notifications(ctx context.Context, caller domain.Principal, limit int) ([]domain.Notification, error) {
	if caller.Kind != domain.PrincipalUser || !caller.Role.Valid() {
		return nil, domain.ErrForbidden
	}
	switch {
	case limit <= 0:
		limit = defaultNotificationLimit
	case limit > maxNotificationLimit:
		limit = maxNotificationLimit
	}
	return s.notifications.ListFor(ctx, caller.ID, caller.Role, limit)
}

func uniquePermissions(perms []domain.Permission) []domain.Permission {
	seen := make(map[domain.Permission]struct{}, len(perms))
	result := make([]domain.Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
