// Package admin — worker.go обрабатывает цель "admin": challenge-response
// аутентификация владельца и действия консоли над пользователями.
package admin

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"account-api/internal/common"
	"account-api/internal/config"
	"account-api/internal/features/users"
	"account-api/internal/ws"
)

// Тексты ответов админ-консоли. Контракт с клиентами — не менять.
const (
	errInvalidAction    = "Invalid action."
	errInvalidData      = "Invalid data."
	errMustWait         = "You must wait before trying again."
	errNotAuthenticated = "Not authenticated."
	errUserNotExist     = "User does not exist."

	msgAuthenticated = "Authenticated."
	msgAuthFailed    = "Authentication failed."
)

// Directory — операции каталога пользователей, нужные консоли.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, page, pageSize int) ([]*users.User, error)
}

// Worker обрабатывает сообщения цели "admin" одного соединения.
type Worker struct {
	conn     *ws.Conn
	registry *Registry
	users    Directory
	ownerKey *rsa.PublicKey
	cfg      *config.Config
}

// NewWorker создаёт воркер админ-консоли, привязанный к соединению.
func NewWorker(conn *ws.Conn, registry *Registry, dir Directory, ownerKey *rsa.PublicKey, cfg *config.Config) *Worker {
	return &Worker{
		conn:     conn,
		registry: registry,
		users:    dir,
		ownerKey: ownerKey,
		cfg:      cfg,
	}
}

// HandleMessage маршрутизирует действие консоли. Доменные ошибки
// аутентификации переводятся в документированные ответы в одной точке.
func (w *Worker) HandleMessage(ctx context.Context, msg ws.Message) error {
	err := w.dispatch(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrNotAuthenticated):
		return w.conn.SendError(errNotAuthenticated)
	case errors.Is(err, common.ErrTooManyAttempts):
		return w.conn.SendError(errMustWait)
	default:
		return err
	}
}

func (w *Worker) dispatch(ctx context.Context, msg ws.Message) error {
	switch msg.Action {
	case "auth":
		return w.auth(ctx)
	case "logoff":
		return w.logoff()
	case "get_users":
		return w.getUsers(ctx, msg.Data)
	case "get_user":
		return w.getUser(ctx, msg.Data)
	case "delete_user":
		return w.deleteUser(ctx, msg.Data)
	default:
		return w.conn.SendError(errInvalidAction)
	}
}

// auth проводит challenge-response аутентификацию владельца.
// Challenge: 32 случайных байта, зашифрованных публичным ключом владельца
// (RSA PKCS#1 v1.5), бинарным кадром. Клиент расшифровывает приватным
// ключом и отвечает md5 от открытого текста, тоже бинарным кадром.
func (w *Worker) auth(ctx context.Context) error {
	connID := w.conn.ID()

	// Waitlist: действует последняя записанная метка
	if notBefore, ok := w.registry.RetryNotBefore(connID); ok && time.Now().Before(notBefore) {
		return common.ErrTooManyAttempts
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		log.WithError(err).Error("Не удалось сгенерировать challenge")
		return nil
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, w.ownerKey, challenge)
	if err != nil {
		log.WithError(err).Error("Не удалось зашифровать challenge")
		return nil
	}

	if err := w.conn.SendBinary(encrypted); err != nil {
		return err
	}
	w.registry.SetChallenge(connID)

	// Ожидание ответа ограничено: разрыв или тайм-аут тихо
	// прерывают поток и не оставляют висящее состояние
	reply, err := w.conn.ReceiveBinary(w.cfg.AuthChallengeWait)
	if err != nil {
		w.registry.ResetPhase(connID)
		return err
	}

	expected := md5.Sum(challenge)
	if subtle.ConstantTimeCompare(reply, expected[:]) != 1 {
		w.registry.ResetPhase(connID)
		w.registry.RecordFailure(connID, w.cfg.AuthFailTimeout, w.cfg.AuthFailLockTime, w.cfg.AuthMaxFailAttempts)
		log.WithField("conn_id", connID).Warn("Неудачная попытка аутентификации админа")
		return w.conn.SendJSON(map[string]interface{}{
			"target": "admin",
			"data":   map[string]string{"message": msgAuthFailed},
		})
	}

	w.registry.SetAuthenticated(connID, time.Now().Add(w.cfg.AuthAdminTimeout))
	log.WithField("conn_id", connID).Info("Админ аутентифицирован")
	return w.conn.SendJSON(map[string]string{"message": msgAuthenticated})
}

func (w *Worker) logoff() error {
	connID := w.conn.ID()

	if !w.registry.IsAuthenticated(connID) {
		return common.ErrNotAuthenticated
	}

	w.registry.Clear(connID)
	return w.conn.SendJSON(map[string]interface{}{
		"action": "logoff",
		"data":   map[string]bool{"success": true},
	})
}

func (w *Worker) getUsers(ctx context.Context, data json.RawMessage) error {
	if !w.registry.IsAuthenticated(w.conn.ID()) {
		return common.ErrNotAuthenticated
	}

	var in struct {
		Page     *int `json:"page"`
		PageSize *int `json:"page_size"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Page == nil || in.PageSize == nil || *in.Page < 0 || *in.PageSize < 1 {
		return w.conn.SendError(errInvalidData)
	}

	list, err := w.users.List(ctx, *in.Page, *in.PageSize)
	if err != nil {
		log.WithError(err).Error("Не удалось получить список пользователей")
		return w.conn.SendError(errInvalidData)
	}

	public := make([]*users.PublicUser, 0, len(list))
	for _, u := range list {
		public = append(public, u.ToPublic())
	}

	return w.conn.SendJSON(map[string]interface{}{
		"action": "users",
		"data":   public,
	})
}

func (w *Worker) getUser(ctx context.Context, data json.RawMessage) error {
	if !w.registry.IsAuthenticated(w.conn.ID()) {
		return common.ErrNotAuthenticated
	}

	id, ok := parseIDInput(data)
	if !ok {
		return w.conn.SendError(errInvalidData)
	}

	user, err := w.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return w.conn.SendError(errUserNotExist)
		}
		log.WithError(err).Error("Не удалось получить пользователя")
		return w.conn.SendError(errInvalidData)
	}

	return w.conn.SendJSON(map[string]interface{}{
		"action": "user",
		"data":   user.ToPublic(),
	})
}

func (w *Worker) deleteUser(ctx context.Context, data json.RawMessage) error {
	if !w.registry.IsAuthenticated(w.conn.ID()) {
		return common.ErrNotAuthenticated
	}

	id, ok := parseIDInput(data)
	if !ok {
		return w.conn.SendError(errInvalidData)
	}

	if err := w.users.Delete(ctx, id); err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return w.conn.SendError(errUserNotExist)
		}
		log.WithError(err).Error("Не удалось удалить пользователя")
		return w.conn.SendError(errInvalidData)
	}

	log.WithFields(log.Fields{"conn_id": w.conn.ID(), "user_id": id}).Info("Пользователь удалён админом")
	return w.conn.SendJSON(map[string]interface{}{
		"action": "delete_user",
		"data":   map[string]bool{"success": true},
	})
}

// parseIDInput разбирает {"id":"<uuid>"} из полезной нагрузки.
func parseIDInput(data json.RawMessage) (uuid.UUID, bool) {
	var in struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.ID == nil {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(*in.ID)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
