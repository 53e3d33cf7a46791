package domain

import "time"

// Notification: уведомление внутри платформы.
// Адресуется пользователю (UserID) или всем пользователям роли (Role).
type Notification struct {
	ID        string
	UserID    string
	Role      Role
	Type      string
	Title     string
	Message   string
	OrderID   string
	Read      bool
	CreatedAt time.Time
}
