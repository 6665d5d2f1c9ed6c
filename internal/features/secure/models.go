// Package secure реализует модель безопасности: токены сессий,
// коды подтверждения email и хеши паролей.
// models.go описывает структуры строк таблиц схемы secured.
package secure

import (
	"time"

	"github.com/google/uuid"
)

// TokenType — тип токена сессии.
type TokenType int

const (
	// TokenUser — токен обычного пользователя
	TokenUser TokenType = 1
	// TokenBot — токен бота
	TokenBot TokenType = 2
)

// Token — сессионный токен-предъявитель, привязанный к пользователю.
// Строка не мутирует после создания, за исключением last_used.
type Token struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	LastUsed  time.Time `db:"last_used"`
	Type      TokenType `db:"type"`
}

// VerificationCode — код подтверждения email.
// Инвариант: у пользователя не больше одного живого кода.
type VerificationCode struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Code      string    `db:"code"`
	CreatedAt time.Time `db:"created_at"`
	Expires   time.Time `db:"expires"`
}

// Password — хеш пароля пользователя.
type Password struct {
	UserID      uuid.UUID `db:"user_id"`
	Hash        string    `db:"hash"`
	LastUpdated time.Time `db:"last_updated"`
}
