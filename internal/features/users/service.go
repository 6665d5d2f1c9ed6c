// Package users — service.go содержит бизнес-логику учётных записей:
// регистрацию, вход по паролю, проверку сессий и подтверждение email.
package users

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
	"unicode"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"account-api/internal/common"
	"account-api/internal/config"
	"account-api/internal/features/secure"
	"account-api/internal/mail"
)

// Service управляет учётными записями.
// Связывает воркеры и HTTP-обработчики с репозиторием и моделью безопасности.
type Service struct {
	repo   Directory
	secure *secure.Service
	mailer mail.Mailer
	cfg    *config.Config
}

// NewService создаёт сервис пользователей.
func NewService(repo Directory, sec *secure.Service, mailer mail.Mailer, cfg *config.Config) *Service {
	return &Service{repo: repo, secure: sec, mailer: mailer, cfg: cfg}
}

// New регистрирует нового пользователя: проверяет требования к паролю,
// подбирает свободный тег, сохраняет хеш пароля, выдаёт код подтверждения
// и отправляет письмо.
func (s *Service) New(ctx context.Context, email, username, password string) (*User, error) {
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("email %s: %w", email, common.ErrUserAlreadyExists)
	}

	// Подбираем 6-значный тег: первые цифры от sha1(email+username),
	// при коллизии добавляем в хеш 16 случайных байт и пробуем снова.
	tag := initialTag(email, username)
	for {
		inUse, err := s.repo.TagInUse(ctx, username, tag)
		if err != nil {
			return nil, err
		}
		if !inUse {
			break
		}
		tag, err = rehashTag(email, username)
		if err != nil {
			return nil, err
		}
	}

	user, err := s.repo.Insert(ctx, email, username, tag)
	if err != nil {
		return nil, err
	}

	if err := s.secure.SetPassword(ctx, user.ID, password); err != nil {
		return nil, err
	}

	// Выдаём код подтверждения и отправляем письмо.
	// Отказ почты не валит регистрацию: код можно перевыдать.
	code, err := s.secure.IssueVerificationCode(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendVerificationCode(email, code.Code); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("Не удалось отправить письмо с кодом")
	}

	if err := s.secure.CreateUserConfig(ctx, user.ID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":  user.ID,
		"username": username,
		"tag":      tag,
	}).Info("Зарегистрирован новый пользователь")
	return user, nil
}

// Login проверяет email и пароль и при успехе выдаёт новый токен сессии.
func (s *Service) Login(ctx context.Context, email, password string) (*secure.Token, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	ok, err := s.secure.CheckPassword(ctx, user.ID, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("пользователь %s: %w", email, common.ErrPasswordIncorrect)
	}

	return s.secure.IssueToken(ctx, user.ID, secure.TokenUser)
}

// SessionVerify возвращает пользователя, если токен существует и
// принадлежит пользователю с указанным email. Любое несовпадение —
// nil без ошибки: выше это трактуется как отказ в аутентификации.
func (s *Service) SessionVerify(ctx context.Context, email string, tokenID uuid.UUID) (*User, error) {
	token, err := s.secure.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, common.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, err
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if token.UserID != user.ID {
		return nil, nil
	}

	// Единственная мутация токена за его жизнь
	if err := s.secure.TouchToken(ctx, token.ID); err != nil {
		log.WithError(err).WithField("token_id", token.ID).Warn("Не удалось обновить last_used")
	}
	return user, nil
}

// GetByID читает пользователя по ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Delete удаляет пользователя.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// List возвращает страницу пользователей.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]*User, error) {
	return s.repo.List(ctx, page, pageSize)
}

// Verify подтверждает email по коду из письма.
// Неизвестный код — common.ErrCodeNotFound; истёкший код удаляется
// и возвращается common.ErrCodeExpired.
func (s *Service) Verify(ctx context.Context, code string) (*User, error) {
	vc, err := s.secure.ResolveVerificationCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if vc.Expires.Before(time.Now()) {
		if err := s.secure.DeleteVerificationCode(ctx, vc.ID); err != nil {
			log.WithError(err).Warn("Не удалось удалить истёкший код")
		}
		return nil, common.ErrCodeExpired
	}

	if err := s.repo.SetVerified(ctx, vc.UserID); err != nil {
		return nil, err
	}
	// Код одноразовый: уничтожаем после успешной проверки
	if err := s.secure.DeleteVerificationCode(ctx, vc.ID); err != nil {
		log.WithError(err).Warn("Не удалось удалить использованный код")
	}

	return s.repo.GetByID(ctx, vc.UserID)
}

// validatePassword проверяет требования к паролю из конфигурации.
func (s *Service) validatePassword(password string) error {
	if len(password) < s.cfg.PasswordMinLength {
		return common.ErrWeakPassword
	}

	var lower, upper, digit, special int
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower++
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r):
			digit++
		default:
			special++
		}
	}

	if lower < s.cfg.PasswordRequireLowercase ||
		upper < s.cfg.PasswordRequireUppercase ||
		digit < s.cfg.PasswordRequireNumber ||
		special < s.cfg.PasswordRequireSpecial {
		return common.ErrWeakPassword
	}
	return nil
}

// initialTag вычисляет стартовый тег из sha1(email+username).
func initialTag(email, username string) int {
	sum := sha1.Sum([]byte(email + username))
	return tagFromDigest(sum[:])
}

// rehashTag пересчитывает тег с добавкой случайных байт.
func rehashTag(email, username string) (int, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return 0, fmt.Errorf("ошибка генерации соли тега: %w", err)
	}
	sum := sha1.Sum(append([]byte(email+username), salt...))
	return tagFromDigest(sum[:]), nil
}

// tagFromDigest берёт первые 6 десятичных цифр числа из дайджеста.
func tagFromDigest(digest []byte) int {
	dec := new(big.Int).SetBytes(digest).String()
	if len(dec) > 6 {
		dec = dec[:6]
	}
	tag, _ := strconv.Atoi(dec)
	return tag
}
