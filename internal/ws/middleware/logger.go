package middleware

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// LogMessage логирует входящее сообщение соединения.
// Записывает: conn_id, размер и первые 50 символов сырого текста.
func LogMessage(connID string, raw []byte) {
	text := string(raw)
	if len(text) > 50 {
		text = text[:50] + "..."
	}

	log.WithFields(log.Fields{
		"conn_id": connID,
		"size":    len(raw),
		"text":    text,
		"time":    time.Now().Format("15:04:05"),
	}).Debug("Входящее сообщение")
}
