package domain

import (
	"strings"
	"time"
)

// Role: роль пользователя платформы.
type Role string

const (
	// RoleAdmin: сотрудник оператора платформы (SJF).
	RoleAdmin Role = "SJFS_ADMIN"
	// RoleMerchantAdmin: администратор мерчанта.
	RoleMerchantAdmin Role = "MERCHANT_ADMIN"
	// RoleMerchantStaff: сотрудник мерчанта.
	RoleMerchantStaff Role = "MERCHANT_STAFF"
	// RoleWarehouseStaff — сотрудник склада.
	RoleWarehouseStaff Role = "WAREHOUSE_STAFF"
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMerchantAdmin, RoleMerchantStaff, RoleWarehouseStaff:
		return true
	default:
		return false
	}
}

// MerchantBound сообщает, что роль привязана к одному мерчанту.
func (r Role) MerchantBound() bool {
	return r == RoleMerchantAdmin || r == RoleMerchantStaff
}

// Permission: право API-ключа.
type Permission string

const (
	PermissionOrdersRead  Permission = "orders:read"
	PermissionOrdersWrite Permission = "orders:write"
)

// PrincipalKind различает пользователя и интеграцию по API-ключу.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalAPIKey PrincipalKind = "api_key"
)

// Principal: аутентифицированный вызывающий.
type Principal struct {
	Kind        PrincipalKind
	ID          string
	Role        Role
	MerchantID  string
	Permissions []Permission
}

// IsAdmin сообщает, что вызывающий — администратор платформы.
func (p Principal) IsAdmin() bool {
	return p.Kind == PrincipalUser && p.Role == RoleAdmin
}

// HasRole проверяет принадлежность пользователя к одной из ролей.
func (p Principal) HasRole(roles ...Role) bool {
	if p.Kind != PrincipalUser {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Can проверяет право API-ключа.
func (p Principal) Can(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// SeesAllMerchants сообщает, что вызывающий может читать данные любого мерчанта.
func (p Principal) SeesAllMerchants() bool {
	return p.HasRole(RoleAdmin, RoleWarehouseStaff)
}

// ScopeMerchant возвращает мерчанта, к которому привязан запрос.
// Администратор и склад могут указать мерчанта явно, остальные всегда привязаны к своему.
func (p Principal) ScopeMerchant(requested string) string {
	if p.SeesAllMerchants() {
		return strings.TrimSpace(requested)
	}
	return p.MerchantID
}

// Merchant: продавец на платформе.
type Merchant struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User: учётная запись сотрудника.
type User struct {
	ID         string
	Email      string
	Name       string
	Role       Role
	MerchantID string
	IsActive   bool
	CreatedAt  time.Time
}
