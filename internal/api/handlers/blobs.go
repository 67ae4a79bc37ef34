// blobs.go — выдача содержимого по сессионной ссылке GET /blobs/{token}.
// Содержимое с поддержкой Seek отдаётся через http.ServeContent (Range, 206,
// If-None-Match); для S3 возможен 307 на прямую подписанную ссылку.
package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/phototimeline/internal/api/errors"
	"github.com/bigkaa/phototimeline/internal/service"
)

// BlobsHandler — обработчик выдачи содержимого.
type BlobsHandler struct {
	media  *service.MediaManager
	logger *slog.Logger
}

// NewBlobsHandler создаёт обработчик выдачи содержимого.
func NewBlobsHandler(media *service.MediaManager, logger *slog.Logger) *BlobsHandler {
	return &BlobsHandler{
		media:  media,
		logger: logger.With(slog.String("component", "blobs_handler")),
	}
}

// ServeBlob обрабатывает GET /blobs/{token}.
// Неизвестная, просроченная или освобождённая ссылка — 404.
func (h *BlobsHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	target, err := h.media.OpenByHandle(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		errors.FromError(w, err)
		return
	}

	if target.RedirectURL != "" {
		w.Header().Set("Cache-Control", "private, no-store")
		http.Redirect(w, r, target.RedirectURL, http.StatusTemporaryRedirect)
		return
	}

	obj := target.Object
	defer obj.Body.Close()

	contentType := target.Record.ContentType
	if contentType == "" {
		contentType = obj.Info.ContentType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if target.Record.Checksum != "" {
		w.Header().Set("ETag", `"`+target.Record.Checksum+`"`)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", obj.Info.ModTime, rs)
		return
	}

	// Поток без Seek: Range не поддерживается.
	w.Header().Set("Accept-Ranges", "none")
	if obj.Info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Debug("Передача содержимого прервана",
			slog.String("media_id", target.Record.ID),
			slog.String("error", err.Error()),
		)
	}
}
