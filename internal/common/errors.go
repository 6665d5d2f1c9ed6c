// Package common — errors.go определяет доменные ошибки,
// которые используются во всех модулях сервиса.
// Эти ошибки позволяют воркерам различать типы проблем
// и переводить их в документированные JSON-ответы клиенту.
package common

import "errors"

// Ошибки пользователей
var (
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrUserAlreadyExists — пользователь с таким email уже существует
	ErrUserAlreadyExists = errors.New("пользователь с таким email уже существует")
	// ErrPasswordIncorrect — неверный пароль
	ErrPasswordIncorrect = errors.New("неверный пароль")
	// ErrWeakPassword — пароль не соответствует требованиям безопасности
	ErrWeakPassword = errors.New("пароль не соответствует требованиям безопасности")
)

// Ошибки токенов и кодов подтверждения
var (
	// ErrTokenNotFound — токен не найден
	ErrTokenNotFound = errors.New("токен не найден")
	// ErrCodeNotFound — код подтверждения не найден
	ErrCodeNotFound = errors.New("код подтверждения не найден")
	// ErrCodeExpired — код подтверждения истёк
	ErrCodeExpired = errors.New("код подтверждения истёк")
)

// Ошибки админки
var (
	// ErrNotAuthenticated — соединение не прошло аутентификацию администратора
	ErrNotAuthenticated = errors.New("соединение не аутентифицировано")
	// ErrTooManyAttempts — слишком много неудачных попыток аутентификации
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите")
)
