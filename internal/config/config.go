// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- HTTP ---
	HTTPAddr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"60s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"api"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"accounts"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Auth (админ-канал) ---
	// Путь к PEM-файлу с публичным RSA-ключом владельца. Приватный ключ
	// на сервере не хранится — он остаётся у оператора.
	AuthOwnerPublicKeyPath string `envconfig:"AUTH_OWNER_PUBLIC_KEY" required:"true"`
	// Пауза после неудачной попытки аутентификации
	AuthFailTimeout time.Duration `envconfig:"AUTH_FAIL_TIMEOUT" default:"10s"`
	// Базовое время ожидания между попытками
	AuthFailWaitTime time.Duration `envconfig:"AUTH_FAIL_WAIT_TIME" default:"5s"`
	// После скольких неудач включается жёсткая блокировка
	AuthMaxFailAttempts int `envconfig:"AUTH_MAX_FAIL_ATTEMPTS" default:"5"`
	// Жёсткая блокировка после превышения лимита попыток
	AuthFailLockTime time.Duration `envconfig:"AUTH_FAIL_LOCK_TIME" default:"1h"`
	// Время жизни админ-сессии
	AuthAdminTimeout time.Duration `envconfig:"AUTH_ADMIN_AUTH_TIMEOUT" default:"15m"`
	// Сколько ждём бинарный ответ на челлендж, прежде чем молча оборвать поток
	AuthChallengeWait time.Duration `envconfig:"AUTH_CHALLENGE_WAIT" default:"30s"`

	// --- User security ---
	VerificationExpiresDays  int `envconfig:"VERIFICATION_EXPIRES_DAYS" default:"1"`
	VerificationExpiresHours int `envconfig:"VERIFICATION_EXPIRES_HOURS" default:"0"`

	// Требования к паролю: минимальное количество символов каждого класса
	PasswordRequireLowercase int `envconfig:"PASSWORD_REQUIRE_LOWERCASE" default:"1"`
	PasswordRequireUppercase int `envconfig:"PASSWORD_REQUIRE_UPPERCASE" default:"1"`
	PasswordRequireNumber    int `envconfig:"PASSWORD_REQUIRE_NUMBER" default:"1"`
	PasswordRequireSpecial   int `envconfig:"PASSWORD_REQUIRE_SPECIAL" default:"1"`
	PasswordMinLength        int `envconfig:"PASSWORD_MIN_LENGTH" default:"12"`

	// --- Tokens ---
	// Токены, которыми не пользовались дольше этого срока, вычищаются кроном
	TokenRetention time.Duration `envconfig:"TOKEN_RETENTION" default:"2160h"`

	// --- Email ---
	SMTPHost     string `envconfig:"SMTP_HOST" default:""`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:""`
	// Базовый URL, который подставляется в письмо со ссылкой подтверждения
	VerifyBaseURL string `envconfig:"VERIFY_BASE_URL" default:"http://localhost:8080"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.AuthMaxFailAttempts <= 0 {
		return fmt.Errorf("AUTH_MAX_FAIL_ATTEMPTS должен быть > 0")
	}
	if c.AuthFailTimeout <= 0 || c.AuthFailLockTime <= 0 {
		return fmt.Errorf("некорректные AUTH_FAIL_TIMEOUT/AUTH_FAIL_LOCK_TIME")
	}
	if c.AuthAdminTimeout <= 0 {
		return fmt.Errorf("AUTH_ADMIN_AUTH_TIMEOUT должен быть > 0")
	}
	if c.AuthChallengeWait <= 0 {
		return fmt.Errorf("AUTH_CHALLENGE_WAIT должен быть > 0")
	}
	if c.VerificationExpiresDays < 0 || c.VerificationExpiresHours < 0 {
		return fmt.Errorf("некорректные VERIFICATION_EXPIRES_DAYS/HOURS")
	}
	if c.VerificationExpiresDays == 0 && c.VerificationExpiresHours == 0 {
		return fmt.Errorf("срок жизни кода подтверждения равен нулю")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	return nil
}

// VerificationExpiry возвращает срок жизни кода подтверждения.
func (c *Config) VerificationExpiry() time.Duration {
	return time.Duration(c.VerificationExpiresDays)*24*time.Hour +
		time.Duration(c.VerificationExpiresHours)*time.Hour
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOwnerPublicKey читает публичный RSA-ключ владельца из PEM-файла.
// Ключ используется для шифрования челленджа в админ-канале.
func (c *Config) LoadOwnerPublicKey() (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(c.AuthOwnerPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать ключ %s: %w", c.AuthOwnerPublicKeyPath, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("файл %s не содержит PEM-блока", c.AuthOwnerPublicKeyPath)
	}

	// Поддерживаем оба распространённых формата: PKIX и PKCS#1
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("ключ %s не является RSA-ключом", c.AuthOwnerPublicKeyPath)
		}
		return rsaPub, nil
	}

	rsaPub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать ключ %s: %w", c.AuthOwnerPublicKeyPath, err)
	}
	return rsaPub, nil
}
