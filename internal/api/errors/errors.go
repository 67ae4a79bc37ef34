// Пакет errors — ответы API с ошибками в формате
// {"error": {"code": "...", "message": "..."}}.
package errors //nolint:revive // имя пакета совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/domain/selection"
	"github.com/bigkaa/phototimeline/internal/service"
)

// Машиночитаемые коды из openapi.yaml.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeViewerClosed         = "VIEWER_CLOSED"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeReconcileInProgress  = "RECONCILE_IN_PROGRESS"
	CodeStorageError         = "STORAGE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Problem — пара HTTP-статус и код ошибки.
type Problem struct {
	Status int
	Code   string
}

var (
	badRequest  = Problem{http.StatusBadRequest, CodeValidationError}
	unauth      = Problem{http.StatusUnauthorized, CodeUnauthorized}
	forbidden   = Problem{http.StatusForbidden, CodeForbidden}
	tooLarge    = Problem{http.StatusRequestEntityTooLarge, CodeFileTooLarge}
	reconciling = Problem{http.StatusConflict, CodeReconcileInProgress}
	storage     = Problem{http.StatusBadGateway, CodeStorageError}
)

// sentinels сопоставляет ошибки сервисного слоя ответам API.
var sentinels = []struct {
	err error
	p   Problem
}{
	{service.ErrNotFound, Problem{http.StatusNotFound, CodeNotFound}},
	{service.ErrFileTooLarge, tooLarge},
	{service.ErrEmptyFile, badRequest},
	{model.ErrUnsupportedKind, Problem{http.StatusUnsupportedMediaType, CodeUnsupportedMediaType}},
	{service.ErrViewerClosed, Problem{http.StatusConflict, CodeViewerClosed}},
	{service.ErrReconcileInProgress, reconciling},
}

// Write отправляет ответ с ошибкой.
func (p Problem) Write(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(p.Status)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Code = p.Code
	body.Error.Message = message
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError отправляет ответ с произвольными статусом и кодом.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	Problem{status, code}.Write(w, message)
}

// Classify определяет ответ для ошибки сервисного слоя.
// Неизвестные ошибки считаются сбоем хранилища.
func Classify(err error) Problem {
	var te *selection.TransitionError
	if stderrors.As(err, &te) {
		return Problem{http.StatusConflict, CodeInvalidTransition}
	}
	for _, s := range sentinels {
		if stderrors.Is(err, s.err) {
			return s.p
		}
	}
	return storage
}

// FromError отправляет ответ по ошибке сервисного слоя.
func FromError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var te *selection.TransitionError
	if stderrors.As(err, &te) {
		msg = te.Message
	}
	Classify(err).Write(w, msg)
}

// Ответы для ошибок, выявленных до сервисного слоя.

func ValidationError(w http.ResponseWriter, message string)     { badRequest.Write(w, message) }
func Unauthorized(w http.ResponseWriter, message string)        { unauth.Write(w, message) }
func Forbidden(w http.ResponseWriter, message string)           { forbidden.Write(w, message) }
func FileTooLarge(w http.ResponseWriter, message string)        { tooLarge.Write(w, message) }
func ReconcileInProgress(w http.ResponseWriter, message string) { reconciling.Write(w, message) }
