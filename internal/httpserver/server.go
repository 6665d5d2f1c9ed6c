// Package httpserver поднимает HTTP-поверхность сервиса:
// апгрейд WebSocket-соединений и подтверждение e-mail по ссылке.
package httpserver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"account-api/internal/common"
	"account-api/internal/config"
	"account-api/internal/features/admin"
	"account-api/internal/features/users"
	"account-api/internal/ws"
	"account-api/internal/ws/middleware"
)

// Server — HTTP-сервер с WebSocket-эндпоинтом.
type Server struct {
	cfg      *config.Config
	users    *users.Service
	registry *admin.Registry
	ownerKey *rsa.PublicKey
	limiter  *middleware.RateLimiter

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New собирает роутер и HTTP-сервер. Ничего не слушает до Start.
func New(cfg *config.Config, usersSvc *users.Service, registry *admin.Registry, ownerKey *rsa.PublicKey, limiter *middleware.RateLimiter) *Server {
	s := &Server{
		cfg:      cfg,
		users:    usersSvc,
		registry: registry,
		ownerKey: ownerKey,
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Клиенты ходят с разных origin (десктоп, TUI)
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := chi.NewRouter()
	router.Get("/ws", s.handleWebSocket)
	router.Get("/users/verify/{code}", s.handleVerify)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	return s
}

// Handler возвращает корневой обработчик роутера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start блокирующе слушает HTTPAddr до Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.cfg.HTTPAddr).Info("HTTP-сервер запущен")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket апгрейдит соединение и крутит цикл воркера
// до разрыва. Одна горутина на соединение.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Не удалось апгрейдить WebSocket")
		return
	}

	conn := ws.NewConn(sock)
	defer s.registry.Drop(conn.ID())

	log.WithField("conn_id", conn.ID()).Info("Новое WebSocket-соединение")

	handlers := map[string]ws.Handler{
		"users": users.NewWorker(conn, s.users),
		"admin": admin.NewWorker(conn, s.registry, s.users, s.ownerKey, s.cfg),
	}

	worker := ws.NewWorker(conn, handlers, s.limiter)
	worker.Run(r.Context())
}

// handleVerify подтверждает e-mail по коду из письма.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	user, err := s.users.Verify(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrCodeNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Code not found"})
		case errors.Is(err, common.ErrCodeExpired):
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Validation code expired"})
		default:
			log.WithError(err).Error("Ошибка подтверждения e-mail")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, user.ToPublic())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Не удалось записать JSON-ответ")
	}
}
