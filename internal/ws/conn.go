// Package ws превращает сырое WebSocket-соединение в поток
// проверенных и маршрутизированных сообщений.
// conn.go — обёртка над соединением: identity, JSON/бинарные кадры,
// безопасная конкурентная запись.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Сколько ждём завершения записи одного кадра
	writeWait = 10 * time.Second

	// Максимальный размер входящего сообщения
	maxMessageSize = 64 * 1024
)

// Conn — одно принятое соединение. Живёт от upgrade до разрыва,
// identity используется как ключ состояния аутентификации.
type Conn struct {
	id   string
	sock *websocket.Conn

	// Пишущие горутины (воркер и ответы об ошибках) сериализуются
	writeMu sync.Mutex
}

// NewConn оборачивает принятое WebSocket-соединение.
func NewConn(sock *websocket.Conn) *Conn {
	sock.SetReadLimit(maxMessageSize)
	return &Conn{
		id:   uuid.NewString(),
		sock: sock,
	}
}

// ID возвращает уникальный идентификатор соединения.
func (c *Conn) ID() string {
	return c.id
}

// Read читает один кадр. Ошибка означает разрыв соединения.
func (c *Conn) Read() (int, []byte, error) {
	// Снимаем дедлайн, который мог остаться после ожидания челленджа
	_ = c.sock.SetReadDeadline(time.Time{})
	return c.sock.ReadMessage()
}

// ReceiveBinary ждёт один бинарный кадр не дольше wait.
// Таймаут и разрыв соединения равнозначны: поток обрывается молча.
func (c *Conn) ReceiveBinary(wait time.Duration) ([]byte, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}
	mt, data, err := c.sock.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("ожидался бинарный кадр, получен тип %d", mt)
	}
	return data, nil
}

// SendJSON отправляет значение текстовым кадром.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации ответа: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// SendError отправляет стандартный конверт ошибки.
func (c *Conn) SendError(message string) error {
	return c.SendJSON(map[string]string{"error": message})
}

// SendBinary отправляет сырой бинарный кадр (шифрованный челлендж).
func (c *Conn) SendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteMessage(websocket.BinaryMessage, data)
}

// Close закрывает соединение.
func (c *Conn) Close() error {
	return c.sock.Close()
}
