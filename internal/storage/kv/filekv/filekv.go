// Пакет filekv — слоты метаданных в виде JSON-файлов в директории.
// Каждый ключ — отдельный файл {key}.json. Запись выполняется атомарно:
// temp → fsync → rename.
package filekv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bigkaa/phototimeline/internal/storage/kv"
)

// slotSuffix — суффикс файла слота.
const slotSuffix = ".json"

// Store — файловое хранилище слотов.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New создаёт хранилище в dir, создавая директорию при необходимости.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir возвращает путь к директории слотов.
func (s *Store) Dir() string {
	return s.dir
}

// Get читает слот.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения слота %s: %w", key, err)
	}
	return data, nil
}

// Put атомарно записывает слот: temp файл → fsync → rename.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Delete удаляет слот. Возвращает nil, если слот уже не существует.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления слота %s: %w", key, err)
	}
	return nil
}

// Ping проверяет, что директория доступна на запись.
func (s *Store) Ping(_ context.Context) error {
	testFile := filepath.Join(s.dir, ".kv_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("директория метаданных %s недоступна для записи: %w", s.dir, err)
	}
	_ = os.Remove(testFile)
	return nil
}

// Close ничего не делает.
func (s *Store) Close() error { return nil }

// path возвращает путь к файлу слота. Ключи с разделителями пути отклоняются.
func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("недопустимый ключ слота: %q", key)
	}
	return filepath.Join(s.dir, key+slotSuffix), nil
}

var _ kv.Store = (*Store)(nil)
