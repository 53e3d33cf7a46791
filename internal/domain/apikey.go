package domain

import "time"

// APIKey — ключ внешней интеграции мерчанта.
// Секрет хранится только в виде bcrypt-хеша, поиск идёт по префиксу.
type APIKey struct {
	ID          string
	MerchantID  string
	Name        string
	Prefix      string
	SecretHash  []byte
	Permissions []Permission
	IsActive    bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedBy   string
	CreatedAt   time.Time
}

// Usable сообщает, что ключ активен и не истёк.
func (k APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Principal строит вызывающего из ключа.
func (k APIKey) Principal() Principal {
	perms := make([]Permission, len(k.Permissions))
	copy(perms, k.Permissions)
	return Principal{
		Kind:        PrincipalAPIKey,
		ID:          k.ID,
		MerchantID:  k.MerchantID,
		Permissions: perms,
	}
}

// APIRequestLog: журнал вызовов внешнего API.
type APIRequestLog struct {
	ID           string
	APIKeyID     string
	MerchantID   string
	Method       string
	Path         string
	StatusCode   int
	LatencyMs    int64
	RequestBody  string
	ResponseBody string
	ClientIP     string
	CreatedAt    time.Time
}
