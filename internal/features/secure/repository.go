// Package secure — repository.go работает с таблицами secured.tokens,
// secured.verification_codes, secured.passwords и secured.config.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package secure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"account-api/internal/common"
)

// Store описывает хранилище секретов. Сервис работает через этот
// интерфейс, чтобы в тестах можно было подставить заглушку.
type Store interface {
	InsertToken(ctx context.Context, userID uuid.UUID, typ TokenType) (*Token, error)
	TokenExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)
	TokensByUser(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	TouchToken(ctx context.Context, id uuid.UUID) error
	DeleteToken(ctx context.Context, id uuid.UUID) error
	PurgeStaleTokens(ctx context.Context, unusedSince time.Time) (int64, error)

	UpsertPassword(ctx context.Context, userID uuid.UUID, hash string) error
	GetPassword(ctx context.Context, userID uuid.UUID) (*Password, error)

	CodeInUse(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	ReplaceCode(ctx context.Context, userID uuid.UUID, code string, expires time.Time) (*VerificationCode, error)
	GetCodeByValue(ctx context.Context, code string) (*VerificationCode, error)
	DeleteCode(ctx context.Context, id uuid.UUID) error
	PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error)

	InsertUserConfig(ctx context.Context, userID uuid.UUID) error
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertToken создаёт новый токен сессии.
func (r *Repository) InsertToken(ctx context.Context, userID uuid.UUID, typ TokenType) (*Token, error) {
	query := `
		INSERT INTO secured.tokens (user_id, type)
		VALUES ($1, $2)
		RETURNING id, user_id, created_at, last_used, type
	`
	var t Token
	err := r.db.QueryRow(ctx, query, userID, int(typ)).Scan(
		&t.ID, &t.UserID, &t.CreatedAt, &t.LastUsed, &t.Type,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания токена: %w", err)
	}
	return &t, nil
}

// TokenExists проверяет наличие токена. Чуть быстрее полного чтения.
func (r *Repository) TokenExists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM secured.tokens WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки токена: %w", err)
	}
	return exists, nil
}

// GetToken читает токен по ID.
// Если токен не найден — возвращает common.ErrTokenNotFound.
func (r *Repository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	query := `
		SELECT id, user_id, created_at, last_used, type
		FROM secured.tokens
		WHERE id = $1
	`
	var t Token
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.CreatedAt, &t.LastUsed, &t.Type,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("токен %s: %w", id, common.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения токена: %w", err)
	}
	return &t, nil
}

// TokensByUser возвращает все токены пользователя.
func (r *Repository) TokensByUser(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	query := `
		SELECT id, user_id, created_at, last_used, type
		FROM secured.tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса токенов: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.UserID, &t.CreatedAt, &t.LastUsed, &t.Type); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// TouchToken обновляет время последнего использования токена.
func (r *Repository) TouchToken(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE secured.tokens SET last_used = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ошибка обновления last_used: %w", err)
	}
	return nil
}

// DeleteToken отзывает токен.
func (r *Repository) DeleteToken(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM secured.tokens WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("токен %s: %w", id, common.ErrTokenNotFound)
	}
	return nil
}

// PurgeStaleTokens удаляет токены, не использовавшиеся с указанного момента.
func (r *Repository) PurgeStaleTokens(ctx context.Context, unusedSince time.Time) (int64, error) {
	query := `DELETE FROM secured.tokens WHERE last_used < $1`
	tag, err := r.db.Exec(ctx, query, unusedSince)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertPassword заменяет хеш пароля пользователя.
// Старая строка удаляется перед вставкой новой.
func (r *Repository) UpsertPassword(ctx context.Context, userID uuid.UUID, hash string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM secured.passwords WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ошибка удаления старого пароля: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO secured.passwords (user_id, hash) VALUES ($1, $2)`, userID, hash,
	); err != nil {
		return fmt.Errorf("ошибка сохранения пароля: %w", err)
	}
	return tx.Commit(ctx)
}

// GetPassword читает текущий хеш пароля пользователя.
func (r *Repository) GetPassword(ctx context.Context, userID uuid.UUID) (*Password, error) {
	query := `SELECT user_id, hash, last_updated FROM secured.passwords WHERE user_id = $1`
	var p Password
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Hash, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пароль пользователя %s: %w", userID, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пароля: %w", err)
	}
	return &p, nil
}

// CodeInUse проверяет, занято ли значение кода среди живых кодов пользователя.
func (r *Repository) CodeInUse(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM secured.verification_codes WHERE user_id = $1 AND code = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки кода: %w", err)
	}
	return exists, nil
}

// ReplaceCode удаляет старый код пользователя и вставляет новый.
// Инвариант "не больше одного живого кода" обеспечивается именно здесь.
// Гонка между двумя конкурентными выдачами для одного пользователя
// не атомарна: проигравший перезапишет победителя, живой код всё равно
// останется ровно один.
func (r *Repository) ReplaceCode(ctx context.Context, userID uuid.UUID, code string, expires time.Time) (*VerificationCode, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM secured.verification_codes WHERE user_id = $1`, userID,
	); err != nil {
		return nil, fmt.Errorf("ошибка удаления старого кода: %w", err)
	}

	var vc VerificationCode
	err = tx.QueryRow(ctx, `
		INSERT INTO secured.verification_codes (user_id, code, expires)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, code, created_at, expires
	`, userID, code, expires).Scan(&vc.ID, &vc.UserID, &vc.Code, &vc.CreatedAt, &vc.Expires)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кода: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &vc, nil
}

// GetCodeByValue читает код подтверждения по значению.
// Если код не найден — возвращает common.ErrCodeNotFound.
func (r *Repository) GetCodeByValue(ctx context.Context, code string) (*VerificationCode, error) {
	query := `
		SELECT id, user_id, code, created_at, expires
		FROM secured.verification_codes
		WHERE code = $1
	`
	var vc VerificationCode
	err := r.db.QueryRow(ctx, query, code).Scan(&vc.ID, &vc.UserID, &vc.Code, &vc.CreatedAt, &vc.Expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка чтения кода: %w", err)
	}
	return &vc, nil
}

// DeleteCode удаляет код подтверждения.
func (r *Repository) DeleteCode(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM secured.verification_codes WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ошибка удаления кода: %w", err)
	}
	return nil
}

// PurgeExpiredCodes удаляет все истёкшие коды подтверждения.
func (r *Repository) PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM secured.verification_codes WHERE expires < $1`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки кодов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertUserConfig создаёт конфигурацию пользователя со значениями по умолчанию.
func (r *Repository) InsertUserConfig(ctx context.Context, userID uuid.UUID) error {
	query := `INSERT INTO secured.config (user_id) VALUES ($1)`
	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("ошибка создания конфигурации: %w", err)
	}
	return nil
}
