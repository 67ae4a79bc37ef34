// Пакет blobstore — хранилище содержимого медиа-элементов по ключу id.
// Реализации: filestore (локальный диск) и s3store (S3-совместимое хранилище).
// Cached добавляет LRU-кэш небольших объектов поверх любой реализации.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound — объект с указанным id отсутствует.
var ErrNotFound = errors.New("объект не найден")

// Info — сведения об объекте.
type Info struct {
	ID          string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// PutResult — результат записи объекта.
type PutResult struct {
	Size     int64
	Checksum string
}

// Object — открытый для чтения объект. Body может реализовывать
// io.ReadSeeker для поддержки Range-запросов. Вызывающий код обязан
// закрыть Body.
type Object struct {
	Body io.ReadCloser
	Info Info
}

// Store — хранилище объектов.
type Store interface {
	// Put записывает объект целиком. Частично записанный объект
	// не становится видимым.
	Put(ctx context.Context, id string, r io.Reader, contentType string) (*PutResult, error)
	// Open открывает объект для чтения или возвращает ErrNotFound.
	Open(ctx context.Context, id string) (*Object, error)
	// Stat возвращает сведения об объекте или ErrNotFound.
	Stat(ctx context.Context, id string) (*Info, error)
	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, id string) error
	// List возвращает id всех объектов.
	List(ctx context.Context) ([]string, error)
}

// Presigner — хранилище, умеющее выдавать временные прямые ссылки.
type Presigner interface {
	PresignGet(ctx context.Context, id string, ttl time.Duration) (string, error)
}
