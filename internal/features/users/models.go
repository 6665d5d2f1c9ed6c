// Package users реализует учётные записи пользователей.
// models.go описывает структуру строки таблицы users и публичную проекцию.
package users

import (
	"time"

	"github.com/google/uuid"
)

// User — строка таблицы users.
type User struct {
	ID         uuid.UUID `db:"id"`
	CreatedAt  time.Time `db:"created_at"`
	Email      string    `db:"email"`
	Username   string    `db:"username"`
	Tag        int       `db:"tag"` // 6-значный дискриминатор к username
	Icon       *string   `db:"icon"`
	Bio        *string   `db:"bio"`
	StatusType int       `db:"status_type"`
	StatusText string    `db:"status_text"`
	LastOnline time.Time `db:"last_online"`
	IsOnline   bool      `db:"is_online"`
	IsBanned   bool      `db:"is_banned"`
	IsVerified bool      `db:"is_verified"`
}

// Status — статус пользователя в публичной проекции.
type Status struct {
	Type int    `json:"type"`
	Text string `json:"text"`
}

// PublicUser — публичная проекция пользователя, уходящая клиентам.
type PublicUser struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	Icon       *string   `json:"icon"`
	Bio        *string   `json:"bio"`
	Status     Status    `json:"status"`
	LastOnline time.Time `json:"last_online"`
	IsOnline   bool      `json:"is_online"`
	IsBanned   bool      `json:"is_banned"`
	IsVerified bool      `json:"is_verified"`
}

// ToPublic строит публичную проекцию пользователя.
func (u *User) ToPublic() *PublicUser {
	return &PublicUser{
		ID:         u.ID,
		CreatedAt:  u.CreatedAt,
		Email:      u.Email,
		Username:   u.Username,
		Icon:       u.Icon,
		Bio:        u.Bio,
		Status:     Status{Type: u.StatusType, Text: u.StatusText},
		LastOnline: u.LastOnline,
		IsOnline:   u.IsOnline,
		IsBanned:   u.IsBanned,
		IsVerified: u.IsVerified,
	}
}
