// Пакет config — загрузка и валидация конфигурации Archive Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы реестра метаданных.
const (
	RegistryPostgres = "postgres"
	RegistryMemory   = "memory"
)

// Config содержит все параметры конфигурации Archive Module.
type Config struct {
	// Порт HTTP-сервера (диапазон 8020-8029)
	Port int
	// Корень хранилища управляемых файлов (абсолютный путь)
	StorageRoot string
	// Путь к директории журнала импорта
	WALDir string
	// Срок хранения завершённых записей журнала
	WALRetention time.Duration
	// Реализация реестра метаданных (postgres, memory)
	Registry string

	// Параметры PostgreSQL (только для Registry == postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Предельный размер пула подключений
	DBMaxConns int

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал автоматической сверки хранилища с реестром
	ReconcileInterval time.Duration
	// Пересчитывать SHA-256 при сверке
	ReconcileVerifyChecksums bool

	// Размер и TTL кэша метаданных файлов
	CacheSize int
	CacheTTL  time.Duration

	// URL JWKS endpoint; пустое значение отключает аутентификацию
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Пропускать проверку TLS-сертификатов JWKS endpoint
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Путь к TLS сертификату и ключу (опционально, оба или ни одного)
	TLSCert string
	TLSKey  string

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// Максимальный размер тела запроса API в байтах
	MaxRequestBytes int64

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// AR_PORT — порт HTTP-сервера (по умолчанию 8020)
	port, err := getEnvInt("AR_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("AR_PORT: %w", err)
	}
	if port < 8020 || port > 8029 {
		return nil, fmt.Errorf("AR_PORT: значение %d вне допустимого диапазона 8020-8029", port)
	}
	cfg.Port = port

	// AR_STORAGE_ROOT — обязательный, абсолютный путь
	cfg.StorageRoot, err = getEnvRequired("AR_STORAGE_ROOT")
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.StorageRoot) {
		return nil, fmt.Errorf("AR_STORAGE_ROOT: путь %q должен быть абсолютным", cfg.StorageRoot)
	}
	cfg.StorageRoot = filepath.Clean(cfg.StorageRoot)

	// AR_WAL_DIR — журнал импорта (по умолчанию {root}/.archive/wal)
	cfg.WALDir = getEnvDefault("AR_WAL_DIR", filepath.Join(cfg.StorageRoot, ".archive", "wal"))

	// AR_WAL_RETENTION — хранение завершённых записей журнала (по умолчанию 168h)
	cfg.WALRetention, err = getEnvDuration("AR_WAL_RETENTION", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AR_WAL_RETENTION: %w", err)
	}

	// AR_REGISTRY — реализация реестра (по умолчанию postgres)
	cfg.Registry = getEnvDefault("AR_REGISTRY", RegistryPostgres)
	if cfg.Registry != RegistryPostgres && cfg.Registry != RegistryMemory {
		return nil, fmt.Errorf("AR_REGISTRY: недопустимое значение %q, допустимые: postgres, memory", cfg.Registry)
	}

	if cfg.Registry == RegistryPostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// AR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AR_LOG_LEVEL: %w", err)
	}

	// AR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// AR_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("AR_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AR_RECONCILE_INTERVAL: %w", err)
	}

	// AR_RECONCILE_VERIFY_CHECKSUMS — пересчёт SHA-256 при сверке (по умолчанию false)
	cfg.ReconcileVerifyChecksums, err = getEnvBool("AR_RECONCILE_VERIFY_CHECKSUMS", false)
	if err != nil {
		return nil, fmt.Errorf("AR_RECONCILE_VERIFY_CHECKSUMS: %w", err)
	}

	// AR_CACHE_SIZE — размер LRU-кэша метаданных (по умолчанию 1000)
	cfg.CacheSize, err = getEnvInt("AR_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("AR_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("AR_CACHE_SIZE: значение должно быть положительным")
	}

	// AR_CACHE_TTL — TTL записей кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("AR_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_CACHE_TTL: %w", err)
	}

	// AR_JWKS_URL — опциональный; без него аутентификация отключена
	cfg.JWKSUrl = getEnvDefault("AR_JWKS_URL", "")

	// AR_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("AR_JWKS_CA_CERT", "")

	// AR_TLS_SKIP_VERIFY — пропуск проверки TLS JWKS endpoint (по умолчанию false)
	cfg.TLSSkipVerify, err = getEnvBool("AR_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("AR_TLS_SKIP_VERIFY: %w", err)
	}

	// AR_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("AR_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// AR_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("AR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// AR_JWT_LEEWAY — допустимое отклонение времени JWT (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("AR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_JWT_LEEWAY: %w", err)
	}

	// AR_TLS_CERT / AR_TLS_KEY — задаются вместе
	cfg.TLSCert = getEnvDefault("AR_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("AR_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("AR_TLS_CERT и AR_TLS_KEY должны задаваться вместе")
	}

	// AR_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "archive-module")
	cfg.DephealthGroup = getEnvDefault("AR_DEPHEALTH_GROUP", "archive-module")

	// AR_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("AR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// AR_MAX_REQUEST_BYTES — лимит тела запроса (по умолчанию 1 MiB)
	maxBytes, err := getEnvInt("AR_MAX_REQUEST_BYTES", 1<<20)
	if err != nil {
		return nil, fmt.Errorf("AR_MAX_REQUEST_BYTES: %w", err)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("AR_MAX_REQUEST_BYTES: значение должно быть положительным")
	}
	cfg.MaxRequestBytes = int64(maxBytes)

	// AR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase загружает параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("AR_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("AR_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("AR_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("AR_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("AR_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("AR_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("AR_DB_SSL_MODE", "disable")

	cfg.DBMaxConns, err = getEnvInt("AR_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("AR_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("AR_DB_MAX_CONNS: должно быть > 0, получено %d", cfg.DBMaxConns)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (формат postgres://) для dephealth.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
