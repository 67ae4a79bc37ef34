// state.go — HTTP handlers состояния интерфейса: настройки, режим выбора,
// просмотр и жесты удержания.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bigkaa/phototimeline/internal/api/errors"
	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/domain/selection"
	"github.com/bigkaa/phototimeline/internal/service"
)

// StateHandler — обработчик endpoints состояния.
type StateHandler struct {
	media *service.MediaManager
}

// NewStateHandler создаёт обработчик endpoints состояния.
func NewStateHandler(media *service.MediaManager) *StateHandler {
	return &StateHandler{media: media}
}

// stateResponse — ответ GET /api/v1/state.
type stateResponse struct {
	Settings          model.Settings       `json:"settings"`
	Selection         selection.Snapshot   `json:"selection"`
	Filter            model.FilterCriteria `json:"filter"`
	ViewerID          string               `json:"viewer_id,omitempty"`
	LongPressDuration string               `json:"long_press_duration"`
}

// idRequest — тело запросов с одним id.
type idRequest struct {
	ID string `json:"id"`
}

func decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return "", false
	}
	if req.ID == "" {
		errors.ValidationError(w, "Поле 'id' обязательно")
		return "", false
	}
	return req.ID, true
}

// GetState обрабатывает GET /api/v1/state.
func (h *StateHandler) GetState(w http.ResponseWriter, _ *http.Request) {
	viewerID, _ := h.media.ViewerCurrent()
	writeJSON(w, http.StatusOK, stateResponse{
		Settings:          h.media.Settings(),
		Selection:         h.media.Selection(),
		Filter:            h.media.Filter(),
		ViewerID:          viewerID,
		LongPressDuration: h.media.LongPressDuration().String(),
	})
}

// CycleLayout обрабатывает POST /api/v1/layout/cycle.
func (h *StateHandler) CycleLayout(w http.ResponseWriter, r *http.Request) {
	s, err := h.media.CycleLayout(r.Context())
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ToggleTheme обрабатывает POST /api/v1/theme/toggle.
func (h *StateHandler) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	s, err := h.media.ToggleTheme(r.Context())
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Выбор ---

// EnterSelection обрабатывает POST /api/v1/selection/enter.
func (h *StateHandler) EnterSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	snap, err := h.media.EnterSelection(id)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ToggleSelection обрабатывает POST /api/v1/selection/toggle.
// В состоянии idle — 409 INVALID_TRANSITION.
func (h *StateHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	snap, err := h.media.ToggleSelection(id)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelSelection обрабатывает POST /api/v1/selection/cancel.
func (h *StateHandler) CancelSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.media.CancelSelection())
}

// ConfirmSelectionDelete обрабатывает POST /api/v1/selection/delete.
func (h *StateHandler) ConfirmSelectionDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.media.ConfirmSelectionDelete(r.Context())
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeleteResponse(res))
}

// --- Просмотр ---

// OpenViewer обрабатывает POST /api/v1/viewer/open.
func (h *StateHandler) OpenViewer(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	item, err := h.media.OpenViewer(id)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ViewerNext обрабатывает POST /api/v1/viewer/next.
func (h *StateHandler) ViewerNext(w http.ResponseWriter, _ *http.Request) {
	item, err := h.media.ViewerNext()
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ViewerPrev обрабатывает POST /api/v1/viewer/prev.
func (h *StateHandler) ViewerPrev(w http.ResponseWriter, _ *http.Request) {
	item, err := h.media.ViewerPrev()
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CloseViewer обрабатывает POST /api/v1/viewer/close.
func (h *StateHandler) CloseViewer(w http.ResponseWriter, _ *http.Request) {
	h.media.CloseViewer()
	w.WriteHeader(http.StatusNoContent)
}

// --- Жесты ---

// pointerResponse — итог жеста.
// long_press — удержание сработало, следующий click нужно подавить.
type pointerResponse struct {
	LongPress bool `json:"long_press"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// PointerDown обрабатывает POST /api/v1/pointer/down.
func (h *StateHandler) PointerDown(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	if err := h.media.PointerDown(id); err != nil {
		errors.FromError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PointerUp обрабатывает POST /api/v1/pointer/up.
func (h *StateHandler) PointerUp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pointerResponse{LongPress: h.media.PointerUp()})
}

// PointerLeave обрабатывает POST /api/v1/pointer/leave.
func (h *StateHandler) PointerLeave(w http.ResponseWriter, _ *http.Request) {
	h.media.PointerLeave()
	w.WriteHeader(http.StatusNoContent)
}

// moveRequest — тело POST /api/v1/pointer/move.
type moveRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// PointerMove обрабатывает POST /api/v1/pointer/move.
// Смещение за пределы допуска отменяет удержание.
func (h *StateHandler) PointerMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}
	cancelled := h.media.PointerMove(req.DX, req.DY)
	writeJSON(w, http.StatusOK, pointerResponse{Cancelled: cancelled})
}
