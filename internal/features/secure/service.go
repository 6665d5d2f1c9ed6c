// Package secure — service.go содержит логику работы с токенами,
// кодами подтверждения и паролями.
package secure

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"account-api/internal/config"
)

// Длина кода подтверждения в байтах до base64url-кодирования.
const verificationCodeBytes = 256

// Service управляет токенами, кодами подтверждения и паролями.
type Service struct {
	store Store
	cfg   *config.Config
}

// NewService создаёт сервис безопасности.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// IssueToken создаёт и сохраняет новый токен сессии.
func (s *Service) IssueToken(ctx context.Context, userID uuid.UUID, typ TokenType) (*Token, error) {
	if typ != TokenUser && typ != TokenBot {
		typ = TokenUser
	}
	return s.store.InsertToken(ctx, userID, typ)
}

// TokenExists проверяет наличие токена в базе.
func (s *Service) TokenExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.TokenExists(ctx, id)
}

// GetToken читает токен по ID.
func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.store.GetToken(ctx, id)
}

// ListTokens возвращает все токены пользователя.
func (s *Service) ListTokens(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	return s.store.TokensByUser(ctx, userID)
}

// TouchToken фиксирует использование токена.
func (s *Service) TouchToken(ctx context.Context, id uuid.UUID) error {
	return s.store.TouchToken(ctx, id)
}

// RevokeToken отзывает токен.
func (s *Service) RevokeToken(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteToken(ctx, id)
}

// SetPassword хеширует и сохраняет пароль пользователя.
func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.UpsertPassword(ctx, userID, hash)
}

// CheckPassword сверяет пароль с сохранённым хешем.
func (s *Service) CheckPassword(ctx context.Context, userID uuid.UUID, password string) (bool, error) {
	stored, err := s.store.GetPassword(ctx, userID)
	if err != nil {
		return false, err
	}
	return VerifyPassword(password, stored.Hash), nil
}

// IssueVerificationCode создаёт новый код подтверждения для пользователя.
// Значение кода генерируется заново, пока не окажется уникальным среди
// живых кодов пользователя (вероятность коллизии при такой длине
// практически нулевая, но контракт цикла сохраняем). Старый код
// удаляется перед вставкой нового — живой код всегда один.
func (s *Service) IssueVerificationCode(ctx context.Context, userID uuid.UUID) (*VerificationCode, error) {
	expires := time.Now().Add(s.cfg.VerificationExpiry())

	var code string
	for {
		code = generateURLSafeCode()

		inUse, err := s.store.CodeInUse(ctx, userID, code)
		if err != nil {
			return nil, err
		}
		if !inUse {
			break
		}
	}

	vc, err := s.store.ReplaceCode(ctx, userID, code, expires)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"expires": vc.Expires.Format(time.RFC3339),
	}).Debug("Выдан новый код подтверждения")
	return vc, nil
}

// ResolveVerificationCode читает код подтверждения по значению.
// Проверка истечения и удаление истёкшего кода — на вызывающей стороне.
func (s *Service) ResolveVerificationCode(ctx context.Context, code string) (*VerificationCode, error) {
	return s.store.GetCodeByValue(ctx, code)
}

// DeleteVerificationCode уничтожает код (после успешной проверки
// или при обнаружении истечения).
func (s *Service) DeleteVerificationCode(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteCode(ctx, id)
}

// CreateUserConfig создаёт конфигурацию пользователя по умолчанию.
func (s *Service) CreateUserConfig(ctx context.Context, userID uuid.UUID) error {
	return s.store.InsertUserConfig(ctx, userID)
}

// PurgeExpired вычищает истёкшие коды подтверждения. Вызывается кроном.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredCodes(ctx, time.Now())
}

// PurgeStaleTokens вычищает токены, не использовавшиеся дольше retention.
func (s *Service) PurgeStaleTokens(ctx context.Context) (int64, error) {
	return s.store.PurgeStaleTokens(ctx, time.Now().Add(-s.cfg.TokenRetention))
}

// generateURLSafeCode генерирует случайную URL-безопасную строку.
func generateURLSafeCode() string {
	b := make([]byte, verificationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand не отказывает на живой системе; fallback только
		// чтобы не вернуть пустую строку
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// --- Криптографические утилиты ---

// Параметры Argon2id
const (
	argonMemory      uint32 = 65536 // 64 MB
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// HashPassword хеширует пароль в Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonIterations, argonParallelism, encodedSalt, encodedHash), nil
}

// VerifyPassword проверяет пароль по хешу Argon2id.
func VerifyPassword(password, encodedHash string) bool {
	// Парсим хеш
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	// Извлекаем параметры
	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	// Декодируем соль
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}

	// Декодируем хеш
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	// Вычисляем хеш введённого пароля
	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Сравниваем в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}
