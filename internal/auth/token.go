// Package auth аутентифицирует вызывающих: bearer JWT для внутреннего API
// и API-ключи интеграций для внешнего.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultTokenTTL: время жизни выпускаемого токена.
const DefaultTokenTTL = 12 * time.Hour

// Claims: полезная нагрузка токена пользователя платформы.
type Claims struct {
	Role       string `json:"role"`
	MerchantID string `json:"merchant_id,omitempty"`
	jwt.StandardClaims
}

// TokenManager выпускает и проверяет HS256-токены.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager создаёт менеджер токенов. Пустой секрет недопустим.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue выпускает токен для пользователя.
func (m *TokenManager) Issue(p domain.Principal) (string, error) {
	if p.Kind != domain.PrincipalUser || p.ID == "" || !p.Role.Valid() {
		return "", fmt.Errorf("issue token: %w", domain.ErrUnauthenticated)
	}
	now := m.now()
	claims := &Claims{
		Role:       string(p.Role),
		MerchantID: p.MerchantID,
		StandardClaims: jwt.StandardClaims{
			Subject:   p.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(m.ttl).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify проверяет подпись и срок токена и возвращает вызывающего.
// Любая ошибка оборачивает domain.ErrUnauthenticated.
func (m *TokenManager) Verify(raw string) (domain.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	role := domain.Role(claims.Role)
	switch {
	case claims.Subject == "":
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	case !role.Valid():
		return domain.Principal{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthenticated, claims.Role)
	case role.MerchantBound() && claims.MerchantID == "":
		return domain.Principal{}, fmt.Errorf("%w: merchant role without merchant", domain.ErrUnauthenticated)
	}

	return domain.Principal{
		Kind:       domain.PrincipalUser,
		ID:         claims.Subject,
		Role:       role,
		MerchantID: claims.MerchantID,
	}, nil
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
