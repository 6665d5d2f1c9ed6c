// Package ws — worker.go содержит базовый воркер соединения:
// цикл приёма, двухуровневую проверку конверта и маршрутизацию
// по зарегистрированным обработчикам.
package ws

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"account-api/internal/ws/middleware"
)

// Тексты протокольных ошибок. Это контракт с клиентами — не менять.
const (
	errInvalidData   = "Invalid data."
	errNoData        = "No data provided."
	errNoTarget      = "No target provided or target invalid."
	errDataInvalid   = "No data provided or data invalid."
	errNoAction      = "No action provided or action invalid."
	errUnknownTarget = "Target not found."
	errTooMany       = "Too many requests."
)

// Message — внутренний конверт, уходящий обработчику цели.
type Message struct {
	Action string
	Data   json.RawMessage
}

// Handler обрабатывает сообщения одной цели. Каждый экземпляр
// привязан к своему соединению.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Worker — базовый воркер соединения. Один воркер = одна горутина =
// строго последовательная обработка сообщений этого соединения.
type Worker struct {
	conn     *Conn
	handlers map[string]Handler
	limiter  *middleware.RateLimiter
}

// NewWorker создаёт воркер с фиксированной таблицей целей.
func NewWorker(conn *Conn, handlers map[string]Handler, limiter *middleware.RateLimiter) *Worker {
	return &Worker{
		conn:     conn,
		handlers: handlers,
		limiter:  limiter,
	}
}

// Run крутит цикл приёма до разрыва соединения.
// Любая ошибка, кроме транспортной, переводится в JSON-ответ,
// и цикл продолжает слушать.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if w.limiter != nil {
			w.limiter.Forget(w.conn.ID())
		}
		w.conn.Close()
	}()

	for {
		_, raw, err := w.conn.Read()
		if err != nil {
			// Разрыв соединения — штатное завершение цикла
			log.WithField("conn_id", w.conn.ID()).Debug("Соединение закрыто")
			return
		}

		middleware.LogMessage(w.conn.ID(), raw)

		if w.limiter != nil && !w.limiter.Allow(w.conn.ID()) {
			if err := w.conn.SendError(errTooMany); err != nil {
				return
			}
			continue
		}

		msg, target, protoErr := parseEnvelope(raw)
		if protoErr != "" {
			if err := w.conn.SendError(protoErr); err != nil {
				return
			}
			continue
		}

		// Встроенный пинг: отвечаем сразу, без маршрутизации
		if target == "ping" {
			if err := w.conn.SendJSON(map[string]string{"target": "pong"}); err != nil {
				return
			}
			continue
		}

		if err := w.directMessage(ctx, target, msg); err != nil {
			log.WithError(err).WithField("conn_id", w.conn.ID()).Debug("Соединение потеряно при обработке")
			return
		}
	}
}

// directMessage направляет сообщение обработчику цели.
// Ненайденная цель — протокольная ошибка, не разрыв.
func (w *Worker) directMessage(ctx context.Context, target string, msg Message) error {
	handler, ok := w.handlers[target]
	if !ok {
		return w.conn.SendError(errUnknownTarget)
	}

	defer middleware.RecoverFromPanic(w.conn.ID())
	return handler.HandleMessage(ctx, msg)
}

// parseEnvelope проверяет двухуровневый конверт сообщения.
// Возвращает либо разобранное сообщение и цель, либо текст
// протокольной ошибки (пустая строка = ошибки нет).
//
// Особый случай: для "ping" поле data не требуется вовсе,
// поэтому цель возвращается сразу после проверки target.
func parseEnvelope(raw []byte) (Message, string, string) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Message{}, "", errInvalidData
	}

	if len(top) == 0 {
		return Message{}, "", errNoData
	}

	target, ok := stringField(top, "target")
	if !ok || target == "" {
		return Message{}, "", errNoTarget
	}

	// Пинг не требует конверта с данными
	if target == "ping" {
		return Message{}, target, ""
	}

	inner, ok := objectField(top, "data")
	if !ok {
		return Message{}, "", errDataInvalid
	}

	action, ok := stringField(inner, "action")
	if !ok || action == "" {
		return Message{}, "", errNoAction
	}

	if _, ok := objectField(inner, "data"); !ok {
		return Message{}, "", errDataInvalid
	}

	return Message{Action: action, Data: inner["data"]}, target, ""
}

// stringField достаёт строковое поле: присутствует, не null, строка.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// objectField достаёт поле-объект: присутствует, не null, объект.
func objectField(obj map[string]json.RawMessage, key string) (map[string]json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	// json.Unmarshal принимает литерал null в map без ошибки
	if string(raw) == "null" {
		return nil, false
	}
	return m, true
}
