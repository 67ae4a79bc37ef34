// Пакет config — загрузка и валидация конфигурации Photo Timeline
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

	"github.com/lmittmann/tint"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения бэкендов.
const (
	MetaBackendFile     = "file"
	MetaBackendRedis    = "redis"
	MetaBackendPostgres = "postgres"
	MetaBackendSQLite   = "sqlite"

	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config содержит все параметры конфигурации.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Пути к TLS-сертификату и ключу; пусто — HTTP без TLS
	TLSCert string
	TLSKey  string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout time.Duration
	// 0 — без ограничения (длинное воспроизведение видео)
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// --- Данные ---

	// Корневая директория данных
	DataDir string
	// Директория WAL
	WALDir string

	// --- Метаданные ---

	MetaBackend string
	MetaDir     string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	DBDSN string

	SQLitePath string

	// --- Содержимое ---

	BlobBackend string
	BlobDir     string

	S3Endpoint          string
	S3Region            string
	S3Bucket            string
	S3AccessKeyID       string
	S3SecretAccessKey   string
	S3UsePathStyle      bool
	S3Prefix            string
	S3PresignTTL        time.Duration
	S3RedirectPresigned bool

	// Кэш небольших объектов; размер 0 отключает кэш
	BlobCacheSize         int
	BlobCacheTTL          time.Duration
	BlobCacheMaxItemBytes int64

	// --- Медиа ---

	MaxFileSize       int64
	LongPressDuration time.Duration
	HandleTTL         time.Duration
	// Часовой пояс фильтра по датам и группировки по дням
	Location          *time.Location
	ReconcileInterval time.Duration

	// --- Аутентификация ---

	// URL JWKS; пусто — аутентификация API отключена
	JWKSURL             string
	JWKSCACert          string
	TLSSkipVerify       bool
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration
	// iss и aud проверяются, только если заданы
	JWTIssuer   string
	JWTAudience string
	// Scopes чтения и изменения; пусто — без проверки
	JWTReadScope  string
	JWTWriteScope string

	// --- topologymetrics ---

	ServiceID              string
	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("PT_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("PT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PT_PORT: порт должен быть от 1 до 65535, получено %d", cfg.Port)
	}

	cfg.TLSCert = os.Getenv("PT_TLS_CERT")
	cfg.TLSKey = os.Getenv("PT_TLS_KEY")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("PT_TLS_CERT и PT_TLS_KEY задаются вместе")
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PT_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("PT_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("PT_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("PT_HTTP_WRITE_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("PT_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("PT_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("PT_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDurationPositive("PT_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("PT_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Данные ---

	cfg.DataDir, err = getEnvRequired("PT_DATA_DIR")
	if err != nil {
		return nil, err
	}
	cfg.WALDir = getEnvDefault("PT_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))

	// --- Метаданные ---

	cfg.MetaBackend = getEnvDefault("PT_META_BACKEND", MetaBackendFile)
	switch cfg.MetaBackend {
	case MetaBackendFile, MetaBackendRedis, MetaBackendPostgres, MetaBackendSQLite:
	default:
		return nil, fmt.Errorf("PT_META_BACKEND: недопустимое значение %q, допустимые: file, redis, postgres, sqlite", cfg.MetaBackend)
	}
	cfg.MetaDir = getEnvDefault("PT_META_DIR", filepath.Join(cfg.DataDir, "meta"))

	cfg.RedisAddr = getEnvDefault("PT_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("PT_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("PT_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("PT_REDIS_DB: %w", err)
	}
	cfg.RedisKeyPrefix = getEnvDefault("PT_REDIS_KEY_PREFIX", "phototimeline:")

	cfg.DBDSN = os.Getenv("PT_DB_DSN")
	if cfg.MetaBackend == MetaBackendPostgres && cfg.DBDSN == "" {
		return nil, fmt.Errorf("PT_DB_DSN: обязателен для PT_META_BACKEND=postgres")
	}

	cfg.SQLitePath = getEnvDefault("PT_SQLITE_PATH", filepath.Join(cfg.DataDir, "meta.sqlite"))

	// --- Содержимое ---

	cfg.BlobBackend = getEnvDefault("PT_BLOB_BACKEND", BlobBackendFS)
	if cfg.BlobBackend != BlobBackendFS && cfg.BlobBackend != BlobBackendS3 {
		return nil, fmt.Errorf("PT_BLOB_BACKEND: недопустимое значение %q, допустимые: fs, s3", cfg.BlobBackend)
	}
	cfg.BlobDir = getEnvDefault("PT_BLOB_DIR", filepath.Join(cfg.DataDir, "blobs"))

	cfg.S3Endpoint = os.Getenv("PT_S3_ENDPOINT")
	cfg.S3Region = getEnvDefault("PT_S3_REGION", "us-east-1")
	cfg.S3Bucket = os.Getenv("PT_S3_BUCKET")
	if cfg.BlobBackend == BlobBackendS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("PT_S3_BUCKET: обязателен для PT_BLOB_BACKEND=s3")
	}
	cfg.S3AccessKeyID = os.Getenv("PT_S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("PT_S3_SECRET_ACCESS_KEY")
	if cfg.S3UsePathStyle, err = getEnvBool("PT_S3_USE_PATH_STYLE", false); err != nil {
		return nil, fmt.Errorf("PT_S3_USE_PATH_STYLE: %w", err)
	}
	cfg.S3Prefix = getEnvDefault("PT_S3_PREFIX", "media/")
	if cfg.S3PresignTTL, err = getEnvDurationPositive("PT_S3_PRESIGN_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("PT_S3_PRESIGN_TTL: %w", err)
	}
	if cfg.S3RedirectPresigned, err = getEnvBool("PT_S3_REDIRECT_PRESIGNED", false); err != nil {
		return nil, fmt.Errorf("PT_S3_REDIRECT_PRESIGNED: %w", err)
	}

	if cfg.BlobCacheSize, err = getEnvInt("PT_BLOB_CACHE_SIZE", 128); err != nil {
		return nil, fmt.Errorf("PT_BLOB_CACHE_SIZE: %w", err)
	}
	if cfg.BlobCacheSize < 0 {
		return nil, fmt.Errorf("PT_BLOB_CACHE_SIZE: значение не может быть отрицательным")
	}
	if cfg.BlobCacheTTL, err = getEnvDurationPositive("PT_BLOB_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("PT_BLOB_CACHE_TTL: %w", err)
	}
	if cfg.BlobCacheMaxItemBytes, err = getEnvInt64("PT_BLOB_CACHE_MAX_ITEM_BYTES", 2<<20); err != nil {
		return nil, fmt.Errorf("PT_BLOB_CACHE_MAX_ITEM_BYTES: %w", err)
	}

	// --- Медиа ---

	if cfg.MaxFileSize, err = getEnvInt64("PT_MAX_FILE_SIZE", 512<<20); err != nil {
		return nil, fmt.Errorf("PT_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("PT_MAX_FILE_SIZE: значение должно быть > 0")
	}
	if cfg.LongPressDuration, err = getEnvDurationPositive("PT_LONG_PRESS_DURATION", 1500*time.Millisecond); err != nil {
		return nil, fmt.Errorf("PT_LONG_PRESS_DURATION: %w", err)
	}
	if cfg.HandleTTL, err = getEnvDurationPositive("PT_HANDLE_TTL", 12*time.Hour); err != nil {
		return nil, fmt.Errorf("PT_HANDLE_TTL: %w", err)
	}
	tz := getEnvDefault("PT_TIMEZONE", "Local")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("PT_TIMEZONE: неизвестный часовой пояс %q", tz)
	}
	if cfg.ReconcileInterval, err = getEnvDurationPositive("PT_RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("PT_RECONCILE_INTERVAL: %w", err)
	}

	// --- Аутентификация ---

	cfg.JWKSURL = os.Getenv("PT_JWKS_URL")
	cfg.JWKSCACert = os.Getenv("PT_JWKS_CA_CERT")
	if cfg.TLSSkipVerify, err = getEnvBool("PT_TLS_SKIP_VERIFY", false); err != nil {
		return nil, fmt.Errorf("PT_TLS_SKIP_VERIFY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDurationPositive("PT_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("PT_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDurationPositive("PT_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("PT_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("PT_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("PT_JWT_LEEWAY: %w", err)
	}
	cfg.JWTIssuer = os.Getenv("PT_JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("PT_JWT_AUDIENCE")
	cfg.JWTReadScope = os.Getenv("PT_JWT_READ_SCOPE")
	cfg.JWTWriteScope = os.Getenv("PT_JWT_WRITE_SCOPE")

	// --- topologymetrics ---

	cfg.ServiceID = getEnvDefault("PT_SERVICE_ID", "photo-timeline")
	cfg.DephealthGroup = getEnvDefault("PT_DEPHEALTH_GROUP", "photo-timeline")
	if cfg.DephealthCheckInterval, err = getEnvDurationPositive("PT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("PT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// AuthEnabled сообщает, включена ли аутентификация API.
func (c *Config) AuthEnabled() bool {
	return c.JWKSURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Формат text — цветной консольный вывод tint.
func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.TimeOnly,
		})
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

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("длительность не может быть отрицательной")
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
