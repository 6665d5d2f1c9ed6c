// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, воркеры
// и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"account-api/internal/config"
	"account-api/internal/db/postgres"
	"account-api/internal/features/admin"
	"account-api/internal/features/secure"
	"account-api/internal/features/users"
	"account-api/internal/httpserver"
	"account-api/internal/jobs"
	"account-api/internal/mail"
	"account-api/internal/ws/middleware"
)

// App содержит все компоненты приложения.
type App struct {
	Server    *httpserver.Server
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	Limiter   *middleware.RateLimiter
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Публичный ключ владельца ===
	ownerKey, err := cfg.LoadOwnerPublicKey()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки ключа владельца: %w", err)
	}

	// === 3. Почта ===
	var mailer mail.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(cfg)
	} else {
		log.Warn("SMTP не настроен, коды подтверждения пишутся в лог")
		mailer = mail.LogMailer{}
	}

	// === 4. Репозитории ===
	secureRepo := secure.NewRepository(pool)
	userRepo := users.NewRepository(pool)

	// === 5. Сервисы ===
	secureService := secure.NewService(secureRepo, cfg)
	userService := users.NewService(userRepo, secureService, mailer, cfg)

	// === 6. Состояние админ-консоли и rate limiter ===
	registry := admin.NewRegistry()
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	// === 7. HTTP-сервер ===
	server := httpserver.New(cfg, userService, registry, ownerKey, limiter)

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(secureService)

	return &App{
		Server:    server,
		Scheduler: scheduler,
		DB:        pool,
		Limiter:   limiter,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.InitMigrations(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Users},
		{2, migration002Secured},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    created_at TIMESTAMP DEFAULT NOW(),
    email VARCHAR(255) UNIQUE NOT NULL,
    username VARCHAR(255) NOT NULL,
    tag INTEGER NOT NULL,
    icon TEXT,
    bio TEXT,
    status_type INTEGER NOT NULL DEFAULT 0,
    status_text VARCHAR(255) NOT NULL DEFAULT '',
    last_online TIMESTAMP DEFAULT NOW(),
    is_online BOOLEAN DEFAULT FALSE,
    is_banned BOOLEAN DEFAULT FALSE,
    is_verified BOOLEAN DEFAULT FALSE,
    UNIQUE (username, tag)
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

var migration002Secured = `
CREATE SCHEMA IF NOT EXISTS secured;

CREATE TABLE IF NOT EXISTS secured.passwords (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    hash TEXT NOT NULL,
    last_updated TIMESTAMP DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS secured.tokens (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at TIMESTAMP DEFAULT NOW(),
    last_used TIMESTAMP DEFAULT NOW(),
    type INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_tokens_user_id ON secured.tokens(user_id);

CREATE TABLE IF NOT EXISTS secured.verification_codes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    code TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    expires TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_codes_user_id ON secured.verification_codes(user_id);
CREATE INDEX IF NOT EXISTS idx_verification_codes_code ON secured.verification_codes(code);

CREATE TABLE IF NOT EXISTS secured.config (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    created_at TIMESTAMP DEFAULT NOW()
);
`
