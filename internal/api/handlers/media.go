// media.go — HTTP handlers коллекции медиа.
// Список с фильтром, добавление (multipart), получение, удаление.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/phototimeline/internal/api/errors"
	"github.com/bigkaa/phototimeline/internal/api/middleware"
	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/service"
)

// multipartMemory — объём multipart, хранимый в памяти; остальное во временных файлах.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки и текстовые поля формы.
const multipartOverhead = 1 << 20

// MediaHandler — обработчик endpoints коллекции.
type MediaHandler struct {
	media       *service.MediaManager
	maxFileSize int64
	logger      *slog.Logger
}

// NewMediaHandler создаёт обработчик endpoints коллекции.
func NewMediaHandler(media *service.MediaManager, maxFileSize int64, logger *slog.Logger) *MediaHandler {
	if maxFileSize <= 0 {
		maxFileSize = service.DefaultMaxFileSize
	}
	return &MediaHandler{
		media:       media,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "media_handler")),
	}
}

// listParams — query-параметры GET /api/v1/media.
type listParams struct {
	Q      *string
	Start  *openapi_types.Date
	End    *openapi_types.Date
	Limit  *int
	Offset *int
}

// ListMedia обрабатывает GET /api/v1/media.
// Критерии запроса становятся текущим фильтром: по нему же идёт навигация просмотра.
func (h *MediaHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	var params listParams
	query := r.URL.Query()
	binds := []struct {
		name string
		dest any
	}{
		{"q", &params.Q},
		{"start", &params.Start},
		{"end", &params.End},
		{"limit", &params.Limit},
		{"offset", &params.Offset},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			errors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %s", b.name, err.Error()))
			return
		}
	}

	limit, offset := 0, 0
	if params.Limit != nil {
		limit = *params.Limit
		if limit < 0 || limit > 1000 {
			errors.ValidationError(w, "Параметр limit должен быть от 0 до 1000")
			return
		}
	}
	if params.Offset != nil {
		offset = *params.Offset
		if offset < 0 {
			errors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
	}

	var criteria model.FilterCriteria
	if params.Q != nil {
		criteria.SearchText = *params.Q
	}
	dr, err := model.ParseDateRange(dateString(params.Start), dateString(params.End), h.media.Location())
	if err != nil {
		errors.ValidationError(w, err.Error())
		return
	}
	criteria.DateRange = dr

	h.media.SetFilter(criteria)
	writeJSON(w, http.StatusOK, h.media.View(limit, offset))
}

func dateString(d *openapi_types.Date) string {
	if d == nil {
		return ""
	}
	return d.Format(openapi_types.DateFormat)
}

// AddMedia обрабатывает POST /api/v1/media.
// Multipart form: file (обязательно), caption, timestamp (RFC 3339, опционально).
func (h *MediaHandler) AddMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", h.maxFileSize))
			return
		}
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	var ts time.Time
	if raw := r.FormValue("timestamp"); raw != "" {
		ts, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errors.ValidationError(w, fmt.Sprintf("Некорректный timestamp %q: ожидается RFC 3339", raw))
			return
		}
	}

	item, err := h.media.Add(r.Context(), service.AddParams{
		Reader:      file,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Caption:     r.FormValue("caption"),
		Timestamp:   ts,
	})
	if err != nil {
		h.logger.Warn("Медиа не добавлено",
			slog.String("filename", header.Filename),
			slog.String("subject", middleware.SubjectFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		errors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

// GetMedia обрабатывает GET /api/v1/media/{id}.
func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteMedia обрабатывает DELETE /api/v1/media/{id}.
// Повторное удаление не ошибка: id попадает в already_absent.
func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	res := h.media.Delete(r.Context(), []string{chi.URLParam(r, "id")})
	if err := res.Err(); err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeleteResponse(res))
}

// idListRequest — тело POST /api/v1/media/delete.
type idListRequest struct {
	IDs []string `json:"ids"`
}

// DeleteMediaBatch обрабатывает POST /api/v1/media/delete.
// Частичный отказ не прерывает удаление остальных id: ответ 200 с полем failed.
func (h *MediaHandler) DeleteMediaBatch(w http.ResponseWriter, r *http.Request) {
	var req idListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}
	if len(req.IDs) == 0 {
		errors.ValidationError(w, "Поле 'ids' не может быть пустым")
		return
	}

	writeJSON(w, http.StatusOK, newDeleteResponse(h.media.Delete(r.Context(), req.IDs)))
}

// deleteResponse — ответ на удаление.
type deleteResponse struct {
	Count         int               `json:"count"`
	Deleted       []string          `json:"deleted"`
	AlreadyAbsent []string          `json:"already_absent"`
	Failed        map[string]string `json:"failed,omitempty"`
}

func newDeleteResponse(res *service.DeleteResult) deleteResponse {
	resp := deleteResponse{
		Count:         res.Count(),
		Deleted:       nonNil(res.Deleted),
		AlreadyAbsent: nonNil(res.AlreadyAbsent),
	}
	if len(res.Failed) > 0 {
		resp.Failed = make(map[string]string, len(res.Failed))
		for id, err := range res.Failed {
			resp.Failed[id] = err.Error()
		}
	}
	return resp
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
