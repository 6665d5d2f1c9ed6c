// Package users — worker.go обрабатывает цель "users": регистрация
// и вход по паролю.
package users

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"account-api/internal/common"
	"account-api/internal/ws"
)

const (
	errInvalidAction      = "Invalid action."
	errInvalidData        = "Invalid data."
	errAlreadyExists      = "User already exists."
	errInvalidCredentials = "Invalid credentials."
)

// Worker обрабатывает сообщения цели "users" одного соединения.
type Worker struct {
	conn    *ws.Conn
	service *Service
}

func NewWorker(conn *ws.Conn, service *Service) *Worker {
	return &Worker{conn: conn, service: service}
}

// HandleMessage маршрутизирует действие пользователя.
func (w *Worker) HandleMessage(ctx context.Context, msg ws.Message) error {
	switch msg.Action {
	case "new":
		return w.create(ctx, msg.Data)
	case "login":
		return w.login(ctx, msg.Data)
	default:
		return w.conn.SendError(errInvalidAction)
	}
}

func (w *Worker) create(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Username == nil || in.Email == nil || in.Password == nil {
		return w.conn.SendError(errInvalidData)
	}

	user, err := w.service.New(ctx, *in.Email, *in.Username, *in.Password)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrUserAlreadyExists):
			return w.conn.SendError(errAlreadyExists)
		case errors.Is(err, common.ErrWeakPassword):
			return w.conn.SendError(errInvalidData)
		default:
			log.WithError(err).Error("Не удалось создать пользователя")
			return w.conn.SendError(errInvalidData)
		}
	}

	return w.conn.SendJSON(map[string]interface{}{
		"action": "new",
		"data":   user.ToPublic(),
	})
}

func (w *Worker) login(ctx context.Context, data json.RawMessage) error {
	var in struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Email == nil || in.Password == nil {
		return w.conn.SendError(errInvalidData)
	}

	token, err := w.service.Login(ctx, *in.Email, *in.Password)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) || errors.Is(err, common.ErrPasswordIncorrect) {
			return w.conn.SendError(errInvalidCredentials)
		}
		log.WithError(err).Error("Ошибка входа пользователя")
		return w.conn.SendError(errInvalidData)
	}

	return w.conn.SendJSON(map[string]interface{}{
		"action": "login",
		"data":   map[string]string{"token": token.ID.String()},
	})
}
