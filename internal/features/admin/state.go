// Package admin — state.go содержит state-машину аутентификации
// админ-консоли и waitlist неудачных попыток (in-memory).
package admin

import (
	"sync"
	"time"
)

// Phase — фаза аутентификации соединения.
type Phase int

const (
	PhaseUnauthenticated Phase = iota
	PhaseChallengeIssued
	PhaseAuthenticated
)

// AuthState — состояние аутентификации одного соединения.
type AuthState struct {
	Phase     Phase
	ExpiresAt time.Time // Значимо только для PhaseAuthenticated
}

// Registry хранит состояния аутентификации и waitlist по conn_id.
// Все операции потокобезопасны. Запись живёт до Drop при разрыве
// соединения, протухшая аутентификация сбрасывается лениво при чтении.
type Registry struct {
	mu       sync.Mutex
	states   map[string]AuthState
	waitlist map[string][]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		states:   make(map[string]AuthState),
		waitlist: make(map[string][]time.Time),
	}
}

// State возвращает текущее состояние соединения.
// Истёкшая аутентификация сбрасывается здесь же.
func (r *Registry) State(connID string) AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(connID)
}

func (r *Registry) stateLocked(connID string) AuthState {
	st, ok := r.states[connID]
	if !ok {
		return AuthState{Phase: PhaseUnauthenticated}
	}
	if st.Phase == PhaseAuthenticated && time.Now().After(st.ExpiresAt) {
		delete(r.states, connID)
		return AuthState{Phase: PhaseUnauthenticated}
	}
	return st
}

// IsAuthenticated сообщает, аутентифицировано ли соединение сейчас.
func (r *Registry) IsAuthenticated(connID string) bool {
	return r.State(connID).Phase == PhaseAuthenticated
}

// SetChallenge помечает, что соединению выдан challenge.
func (r *Registry) SetChallenge(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[connID] = AuthState{Phase: PhaseChallengeIssued}
}

// SetAuthenticated помечает соединение аутентифицированным до until.
func (r *Registry) SetAuthenticated(connID string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[connID] = AuthState{Phase: PhaseAuthenticated, ExpiresAt: until}
}

// ResetPhase возвращает соединение в неаутентифицированное состояние,
// не трогая waitlist.
func (r *Registry) ResetPhase(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, connID)
}

// RetryNotBefore возвращает момент, раньше которого соединению нельзя
// повторять попытку. Действует ПОСЛЕДНЯЯ запись waitlist.
func (r *Registry) RetryNotBefore(connID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waitlist[connID]
	if len(list) == 0 {
		return time.Time{}, false
	}
	return list[len(list)-1], true
}

// RecordFailure фиксирует неудачную попытку аутентификации.
// Обычная неудача задерживает на failTimeout; начиная с maxAttempts
// неудач соединение блокируется на lockTime.
func (r *Registry) RecordFailure(connID string, failTimeout, lockTime time.Duration, maxAttempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := failTimeout
	if len(r.waitlist[connID]) >= maxAttempts {
		delay = lockTime
	}
	r.waitlist[connID] = append(r.waitlist[connID], time.Now().Add(delay))
}

// Clear полностью очищает состояние соединения (logoff):
// и аутентификацию, и waitlist.
func (r *Registry) Clear(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, connID)
	delete(r.waitlist, connID)
}

// Drop удаляет записи разорванного соединения.
func (r *Registry) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, connID)
	delete(r.waitlist, connID)
}
