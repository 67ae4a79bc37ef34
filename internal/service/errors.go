package service

import (
	"errors"
	"fmt"
	"sort"
)

// Ошибки сервиса медиа.
var (
	// ErrNotFound — медиа-элемент отсутствует в текущем представлении.
	ErrNotFound = errors.New("медиа-элемент не найден")
	// ErrFileTooLarge — содержимое превышает допустимый размер.
	ErrFileTooLarge = errors.New("файл превышает допустимый размер")
	// ErrEmptyFile — содержимое пустое.
	ErrEmptyFile = errors.New("пустой файл")
	// ErrViewerClosed — просмотр не открыт.
	ErrViewerClosed = errors.New("просмотр не открыт")
	// ErrReconcileInProgress — сверка уже выполняется.
	ErrReconcileInProgress = errors.New("сверка уже выполняется")
)

// DeleteResult — итог удаления набора элементов.
// Каждый id попадает ровно в одно из полей.
type DeleteResult struct {
	// Deleted — удалены из содержимого и метаданных
	Deleted []string `json:"deleted"`
	// AlreadyAbsent — неизвестные id (удалены ранее)
	AlreadyAbsent []string `json:"already_absent"`
	// Failed — id, удаление которых не удалось; их можно повторить
	Failed map[string]error `json:"-"`
}

// Count возвращает количество удалённых элементов.
func (r *DeleteResult) Count() int {
	return len(r.Deleted)
}

// FailedIDs возвращает отсортированный список неудачных id.
func (r *DeleteResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Err объединяет ошибки неудачных id или возвращает nil.
func (r *DeleteResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, id := range r.FailedIDs() {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Failed[id]))
	}
	return errors.Join(errs...)
}

// String — краткое описание для логов.
func (r *DeleteResult) String() string {
	return fmt.Sprintf("deleted=%d absent=%d failed=%d", len(r.Deleted), len(r.AlreadyAbsent), len(r.Failed))
}
