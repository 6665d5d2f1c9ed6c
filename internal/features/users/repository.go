// Package users — repository.go отвечает за все операции с таблицей users в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"account-api/internal/common"
)

const userColumns = `id, created_at, email, username, tag, icon, bio,
	       status_type, status_text, last_online, is_online, is_banned, is_verified`

// Directory описывает хранилище пользователей. Сервис и админ-воркер
// работают через этот интерфейс, чтобы в тестах подставлять заглушку.
type Directory interface {
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	TagInUse(ctx context.Context, username string, tag int) (bool, error)
	Insert(ctx context.Context, email, username string, tag int) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, page, pageSize int) ([]*User, error)
	SetVerified(ctx context.Context, id uuid.UUID) error
}

// Repository — реализация Directory поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ExistsByID проверяет наличие пользователя. Чуть быстрее полного чтения.
func (r *Repository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования: %w", err)
	}
	return exists, nil
}

// ExistsByEmail проверяет наличие пользователя по email.
func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования: %w", err)
	}
	return exists, nil
}

// GetByID: если не найден — ошибка с common.ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, id), id.String())
}

// GetByEmail: если не найден — ошибка с common.ErrUserNotFound.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, email), email)
}

// TagInUse проверяет, занята ли пара username+tag.
func (r *Repository) TagInUse(ctx context.Context, username string, tag int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND tag = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, username, tag).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки тега: %w", err)
	}
	return exists, nil
}

// Insert добавляет нового пользователя.
func (r *Repository) Insert(ctx context.Context, email, username string, tag int) (*User, error) {
	query := `
		INSERT INTO users (email, username, tag)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns
	return r.scanUser(r.db.QueryRow(ctx, query, email, username, tag), email)
}

// Delete удаляет пользователя.
// Если пользователь не найден — ошибка с common.ErrUserNotFound.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("пользователь %s: %w", id, common.ErrUserNotFound)
	}
	return nil
}

// List возвращает страницу пользователей, свежие — первыми.
func (r *Repository) List(ctx context.Context, page, pageSize int) ([]*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса пользователей: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.CreatedAt, &u.Email, &u.Username, &u.Tag, &u.Icon, &u.Bio,
			&u.StatusType, &u.StatusText, &u.LastOnline, &u.IsOnline, &u.IsBanned, &u.IsVerified,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// SetVerified помечает email пользователя подтверждённым.
func (r *Repository) SetVerified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET is_verified = TRUE WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ошибка подтверждения пользователя: %w", err)
	}
	return nil
}

func (r *Repository) scanUser(row pgx.Row, key string) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.Email, &u.Username, &u.Tag, &u.Icon, &u.Bio,
		&u.StatusType, &u.StatusText, &u.LastOnline, &u.IsOnline, &u.IsBanned, &u.IsVerified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь (%s): %w", key, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (%s): %w", key, err)
	}
	return &u, nil
}
