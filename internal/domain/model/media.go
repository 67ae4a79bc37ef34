// Пакет model — доменные модели Photo Timeline.
// MediaRecord — персистентная запись о медиа-элементе, хранится
// в слоте метаданных как элемент JSON-массива "media-records".
package model

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

// ErrUnsupportedKind — тип содержимого не является изображением или видео.
var ErrUnsupportedKind = errors.New("неподдерживаемый тип медиа")

// Kind — вид медиа-элемента.
type Kind string

const (
	// KindImage — изображение
	KindImage Kind = "image"
	// KindVideo — видео
	KindVideo Kind = "video"
)

// Valid проверяет, что Kind — одно из допустимых значений.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// KindFromContentType определяет вид медиа по MIME-типу.
// Параметры (charset и т.п.) отбрасываются.
func KindFromContentType(contentType string) (Kind, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage, nil
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, contentType)
	}
}

// MediaRecord — метаданные одного медиа-элемента.
// Содержимое (байты) хранится отдельно в Blob Store под ключом ID.
type MediaRecord struct {
	// ID — непрозрачный уникальный идентификатор (UUID v4 для новых записей)
	ID string `json:"id"`

	// Timestamp — момент добавления элемента, основа сортировки
	Timestamp time.Time `json:"timestamp"`

	// Caption — подпись, может быть пустой
	Caption string `json:"caption"`

	// Kind — image или video
	Kind Kind `json:"kind"`

	// ContentType — MIME-тип содержимого
	ContentType string `json:"content_type,omitempty"`

	// OriginalFilename — имя файла при загрузке
	OriginalFilename string `json:"original_filename,omitempty"`

	// Size — размер содержимого в байтах
	Size int64 `json:"size,omitempty"`

	// Checksum — SHA-256 содержимого (hex)
	Checksum string `json:"checksum,omitempty"`
}

// ResolvedMediaItem — запись, для которой получена воспроизводимая ссылка.
// Существует только в памяти и живёт не дольше сессии.
type ResolvedMediaItem struct {
	MediaRecord
	// URL — сессионная ссылка на содержимое
	URL string `json:"url"`
}
