// handler.go — APIHandler собирает доменные handler'ы и монтирует маршруты.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// APIHandler — единая точка маршрутизации всех endpoints.
type APIHandler struct {
	media       *MediaHandler
	state       *StateHandler
	blobs       *BlobsHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
	metrics     http.Handler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	media *MediaHandler,
	state *StateHandler,
	blobs *BlobsHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
	metrics http.Handler,
) *APIHandler {
	return &APIHandler{
		media:       media,
		state:       state,
		blobs:       blobs,
		maintenance: maintenance,
		health:      health,
		metrics:     metrics,
	}
}

// MountPublic монтирует endpoints без аутентификации:
// health, metrics, контракт и выдачу содержимого по ссылке.
func (h *APIHandler) MountPublic(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Method(http.MethodGet, "/metrics", h.metrics)
	r.Get("/openapi.yaml", ServeOpenAPI)
	r.Get("/blobs/{token}", h.blobs.ServeBlob)
}

// MountAPI монтирует /api/v1/*.
func (h *APIHandler) MountAPI(r chi.Router) {
	r.Get("/api/v1/media", h.media.ListMedia)
	r.Post("/api/v1/media", h.media.AddMedia)
	r.Post("/api/v1/media/delete", h.media.DeleteMediaBatch)
	r.Get("/api/v1/media/{id}", h.media.GetMedia)
	r.Delete("/api/v1/media/{id}", h.media.DeleteMedia)

	r.Get("/api/v1/state", h.state.GetState)
	r.Post("/api/v1/layout/cycle", h.state.CycleLayout)
	r.Post("/api/v1/theme/toggle", h.state.ToggleTheme)

	r.Post("/api/v1/selection/enter", h.state.EnterSelection)
	r.Post("/api/v1/selection/toggle", h.state.ToggleSelection)
	r.Post("/api/v1/selection/cancel", h.state.CancelSelection)
	r.Post("/api/v1/selection/delete", h.state.ConfirmSelectionDelete)

	r.Post("/api/v1/viewer/open", h.state.OpenViewer)
	r.Post("/api/v1/viewer/next", h.state.ViewerNext)
	r.Post("/api/v1/viewer/prev", h.state.ViewerPrev)
	r.Post("/api/v1/viewer/close", h.state.CloseViewer)

	r.Post("/api/v1/pointer/down", h.state.PointerDown)
	r.Post("/api/v1/pointer/up", h.state.PointerUp)
	r.Post("/api/v1/pointer/leave", h.state.PointerLeave)
	r.Post("/api/v1/pointer/move", h.state.PointerMove)

	r.Post("/api/v1/maintenance/reconcile", h.maintenance.Reconcile)
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
