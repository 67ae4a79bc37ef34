// health.go — liveness и readiness probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/phototimeline/internal/config"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthFail     = "fail"
)

const pingTimeout = 2 * time.Second

// Pinger — хранилище, проверяющее своё соединение.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyReporter — состояние внешних зависимостей по данным topologymetrics.
type DependencyReporter interface {
	Health() map[string]bool
}

// probe — результат одной проверки готовности.
type probe struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Checks    map[string]any `json:"checks,omitempty"`
}

// HealthHandler обслуживает /health/live и /health/ready.
type HealthHandler struct {
	meta    Pinger
	blobDir string // пусто для s3
	walDir  string
	deps    DependencyReporter // nil без topologymetrics
}

// NewHealthHandler создаёт обработчик probes.
func NewHealthHandler(meta Pinger, blobDir, walDir string, deps DependencyReporter) *HealthHandler {
	return &HealthHandler{meta: meta, blobDir: blobDir, walDir: walDir, deps: deps}
}

func newHealthResponse(status string) healthResponse {
	return healthResponse{
		Status:    status,
		Service:   "photo-timeline",
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthLive отвечает 200, пока процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(healthOK))
}

// HealthReady проверяет хранилища. Сбой метаданных или содержимого
// даёт 503, сбой журнала или внешней зависимости — degraded с 200.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	meta := h.pingMeta(r.Context())
	blobs := writableDir(h.blobDir)
	journal := writableDir(h.walDir)

	status := healthOK
	if journal.Status != healthOK {
		status = healthDegraded
	}
	checks := map[string]any{"metadata": meta, "blobs": blobs, "wal": journal}
	if h.deps != nil {
		deps := h.deps.Health()
		for _, up := range deps {
			if !up {
				status = healthDegraded
			}
		}
		checks["dependencies"] = deps
	}

	code := http.StatusOK
	if meta.Status != healthOK || blobs.Status != healthOK {
		status, code = healthFail, http.StatusServiceUnavailable
	}

	resp := newHealthResponse(status)
	resp.Checks = checks
	writeJSON(w, code, resp)
}

func (h *HealthHandler) pingMeta(ctx context.Context) probe {
	if h.meta == nil {
		return probe{Status: healthOK, Message: "Проверка не настроена"}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.meta.Ping(ctx); err != nil {
		return probe{Status: healthFail, Message: "Хранилище метаданных недоступно: " + err.Error()}
	}
	return probe{Status: healthOK}
}

// writableDir проверяет запись в каталог пробным файлом.
func writableDir(dir string) probe {
	if dir == "" {
		return probe{Status: healthOK, Message: "Проверка не настроена"}
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return probe{Status: healthFail, Message: "Каталог " + filepath.Base(dir) + " недоступен для записи: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return probe{Status: healthOK}
}
