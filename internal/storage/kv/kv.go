// Пакет kv — долговременные слоты ключ→значение для метаданных.
// Значение слота — непрозрачные байты (JSON), запись слота атомарна:
// читатель видит либо старое, либо новое значение целиком.
//
// Реализации: filekv (директория с файлами), rediskv, pgkv, sqlitekv.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound — слот с указанным ключом отсутствует.
var ErrNotFound = errors.New("ключ не найден")

// Store — хранилище слотов.
type Store interface {
	// Get возвращает значение слота или ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put атомарно заменяет значение слота.
	Put(ctx context.Context, key string, value []byte) error
	// Delete удаляет слот. Отсутствующий слот — не ошибка.
	Delete(ctx context.Context, key string) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы.
	Close() error
}
