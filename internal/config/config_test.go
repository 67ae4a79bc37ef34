package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// allKeys — все переменные окружения PT_*, влияющие на Load.
var allKeys = []string{
	"PT_PORT", "PT_TLS_CERT", "PT_TLS_KEY", "PT_LOG_LEVEL", "PT_LOG_FORMAT",
	"PT_HTTP_READ_TIMEOUT", "PT_HTTP_WRITE_TIMEOUT", "PT_HTTP_IDLE_TIMEOUT", "PT_SHUTDOWN_TIMEOUT",
	"PT_DATA_DIR", "PT_WAL_DIR",
	"PT_META_BACKEND", "PT_META_DIR",
	"PT_REDIS_ADDR", "PT_REDIS_PASSWORD", "PT_REDIS_DB", "PT_REDIS_KEY_PREFIX",
	"PT_DB_DSN", "PT_SQLITE_PATH",
	"PT_BLOB_BACKEND", "PT_BLOB_DIR",
	"PT_S3_ENDPOINT", "PT_S3_REGION", "PT_S3_BUCKET", "PT_S3_ACCESS_KEY_ID", "PT_S3_SECRET_ACCESS_KEY",
	"PT_S3_USE_PATH_STYLE", "PT_S3_PREFIX", "PT_S3_PRESIGN_TTL", "PT_S3_REDIRECT_PRESIGNED",
	"PT_BLOB_CACHE_SIZE", "PT_BLOB_CACHE_TTL", "PT_BLOB_CACHE_MAX_ITEM_BYTES",
	"PT_MAX_FILE_SIZE", "PT_LONG_PRESS_DURATION", "PT_HANDLE_TTL", "PT_TIMEZONE", "PT_RECONCILE_INTERVAL",
	"PT_JWKS_URL", "PT_JWKS_CA_CERT", "PT_TLS_SKIP_VERIFY", "PT_JWKS_CLIENT_TIMEOUT",
	"PT_JWKS_REFRESH_INTERVAL", "PT_JWT_LEEWAY",
	"PT_JWT_ISSUER", "PT_JWT_AUDIENCE", "PT_JWT_READ_SCOPE", "PT_JWT_WRITE_SCOPE",
	"PT_SERVICE_ID", "PT_DEPHEALTH_GROUP", "PT_DEPHEALTH_CHECK_INTERVAL",
}

// setEnv очищает все PT_* и устанавливает переданные значения на время теста.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setEnv(t, map[string]string{"PT_DATA_DIR": "/tmp/pt"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8020 {
		t.Errorf("Port: ожидалось 8020, получено %d", cfg.Port)
	}
	if cfg.WALDir != "/tmp/pt/wal" {
		t.Errorf("WALDir: ожидалось /tmp/pt/wal, получено %q", cfg.WALDir)
	}
	if cfg.MetaBackend != MetaBackendFile || cfg.MetaDir != "/tmp/pt/meta" {
		t.Errorf("метаданные: ожидалось file в /tmp/pt/meta, получено %s в %q", cfg.MetaBackend, cfg.MetaDir)
	}
	if cfg.BlobBackend != BlobBackendFS || cfg.BlobDir != "/tmp/pt/blobs" {
		t.Errorf("содержимое: ожидалось fs в /tmp/pt/blobs, получено %s в %q", cfg.BlobBackend, cfg.BlobDir)
	}
	if cfg.SQLitePath != "/tmp/pt/meta.sqlite" {
		t.Errorf("SQLitePath: получено %q", cfg.SQLitePath)
	}
	if cfg.MaxFileSize != 512<<20 {
		t.Errorf("MaxFileSize: ожидалось %d, получено %d", 512<<20, cfg.MaxFileSize)
	}
	if cfg.LongPressDuration != 1500*time.Millisecond {
		t.Errorf("LongPressDuration: ожидалось 1.5s, получено %v", cfg.LongPressDuration)
	}
	if cfg.HandleTTL != 12*time.Hour {
		t.Errorf("HandleTTL: ожидалось 12h, получено %v", cfg.HandleTTL)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 6h, получено %v", cfg.ReconcileInterval)
	}
	if cfg.HTTPWriteTimeout != 0 {
		t.Errorf("HTTPWriteTimeout: ожидалось 0, получено %v", cfg.HTTPWriteTimeout)
	}
	if cfg.BlobCacheSize != 128 || cfg.BlobCacheMaxItemBytes != 2<<20 {
		t.Errorf("кэш: получено size=%d max_item=%d", cfg.BlobCacheSize, cfg.BlobCacheMaxItemBytes)
	}
	if cfg.S3Prefix != "media/" || cfg.S3Region != "us-east-1" {
		t.Errorf("S3: получено prefix=%q region=%q", cfg.S3Prefix, cfg.S3Region)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование: получено %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AuthEnabled() {
		t.Error("аутентификация по умолчанию должна быть отключена")
	}
	if cfg.Location != time.Local {
		t.Errorf("Location: ожидался Local, получено %v", cfg.Location)
	}
	if cfg.ServiceID != "photo-timeline" {
		t.Errorf("ServiceID: получено %q", cfg.ServiceID)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setEnv(t, map[string]string{
		"PT_DATA_DIR":            "/data",
		"PT_PORT":                "9000",
		"PT_META_BACKEND":        "redis",
		"PT_REDIS_ADDR":          "redis:6379",
		"PT_REDIS_DB":            "3",
		"PT_BLOB_BACKEND":        "s3",
		"PT_S3_BUCKET":           "photos",
		"PT_S3_USE_PATH_STYLE":   "true",
		"PT_TIMEZONE":            "UTC",
		"PT_LONG_PRESS_DURATION": "800ms",
		"PT_JWKS_URL":            "https://idp.example.com/certs",
		"PT_JWT_WRITE_SCOPE":     "photos:write",
		"PT_LOG_FORMAT":          "text",
		"PT_LOG_LEVEL":           "debug",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port: ожидалось 9000, получено %d", cfg.Port)
	}
	if cfg.MetaBackend != MetaBackendRedis || cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 3 {
		t.Errorf("redis: получено %s %q %d", cfg.MetaBackend, cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.BlobBackend != BlobBackendS3 || cfg.S3Bucket != "photos" || !cfg.S3UsePathStyle {
		t.Errorf("s3: получено %s %q %v", cfg.BlobBackend, cfg.S3Bucket, cfg.S3UsePathStyle)
	}
	if cfg.Location.String() != "UTC" {
		t.Errorf("Location: получено %v", cfg.Location)
	}
	if cfg.LongPressDuration != 800*time.Millisecond {
		t.Errorf("LongPressDuration: получено %v", cfg.LongPressDuration)
	}
	if !cfg.AuthEnabled() {
		t.Error("аутентификация должна быть включена")
	}
	if cfg.JWTWriteScope != "photos:write" || cfg.JWTReadScope != "" {
		t.Errorf("scopes: получено read=%q write=%q", cfg.JWTReadScope, cfg.JWTWriteScope)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование: получено %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"без PT_DATA_DIR", map[string]string{}},
		{"некорректный порт", map[string]string{"PT_DATA_DIR": "/d", "PT_PORT": "abc"}},
		{"порт вне диапазона", map[string]string{"PT_DATA_DIR": "/d", "PT_PORT": "70000"}},
		{"неизвестный бэкенд метаданных", map[string]string{"PT_DATA_DIR": "/d", "PT_META_BACKEND": "mongo"}},
		{"postgres без DSN", map[string]string{"PT_DATA_DIR": "/d", "PT_META_BACKEND": "postgres"}},
		{"неизвестный бэкенд содержимого", map[string]string{"PT_DATA_DIR": "/d", "PT_BLOB_BACKEND": "gcs"}},
		{"s3 без bucket", map[string]string{"PT_DATA_DIR": "/d", "PT_BLOB_BACKEND": "s3"}},
		{"некорректная длительность", map[string]string{"PT_DATA_DIR": "/d", "PT_HANDLE_TTL": "soon"}},
		{"нулевая длительность удержания", map[string]string{"PT_DATA_DIR": "/d", "PT_LONG_PRESS_DURATION": "0s"}},
		{"неизвестный часовой пояс", map[string]string{"PT_DATA_DIR": "/d", "PT_TIMEZONE": "Mars/Olympus"}},
		{"TLS без ключа", map[string]string{"PT_DATA_DIR": "/d", "PT_TLS_CERT": "/tls.crt"}},
		{"некорректный формат логов", map[string]string{"PT_DATA_DIR": "/d", "PT_LOG_FORMAT": "xml"}},
		{"некорректный уровень логов", map[string]string{"PT_DATA_DIR": "/d", "PT_LOG_LEVEL": "trace"}},
		{"отрицательный размер кэша", map[string]string{"PT_DATA_DIR": "/d", "PT_BLOB_CACHE_SIZE": "-1"}},
		{"нулевой лимит файла", map[string]string{"PT_DATA_DIR": "/d", "PT_MAX_FILE_SIZE": "0"}},
		{"некорректный bool", map[string]string{"PT_DATA_DIR": "/d", "PT_S3_USE_PATH_STYLE": "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.vars)
			if _, err := Load(); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, ожидалось %v", tt.input, got, tt.expected)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := SetupLogger(&Config{LogLevel: slog.LevelWarn, LogFormat: format})
		if logger == nil {
			t.Fatalf("%s: логгер не создан", format)
		}
		if logger.Enabled(t.Context(), slog.LevelInfo) {
			t.Errorf("%s: уровень info не должен быть включён", format)
		}
	}
}
