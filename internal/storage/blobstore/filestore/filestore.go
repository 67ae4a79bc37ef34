// Пакет filestore — хранение содержимого медиа в файлах на диске.
// Объект id хранится как {id}.blob, его MIME-тип — в {id}.type.
// Запись выполняется потоково с подсчётом SHA-256 на лету по схеме
// temp → fsync → rename.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
)

const (
	blobSuffix = ".blob"
	typeSuffix = ".type"
)

// FileStore — управление файлами содержимого на диске.
type FileStore struct {
	dir string
}

// New создаёт FileStore, создавая директорию при необходимости.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию содержимого %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir возвращает путь к директории содержимого.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Put записывает данные из r на диск с подсчётом SHA-256 на лету.
// При ошибке временный файл удаляется, существующий объект не меняется.
func (fs *FileStore) Put(ctx context.Context, id string, r io.Reader, contentType string) (*blobstore.PutResult, error) {
	fullPath, err := fs.blobPath(id)
	if err != nil {
		return nil, err
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Тип пишется до rename: видимый объект всегда имеет тип
	if err := os.WriteFile(fs.typePath(id), []byte(contentType), 0o640); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи типа содержимого: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blobstore.PutResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект. Body — *os.File и поддерживает Seek.
func (fs *FileStore) Open(_ context.Context, id string) (*blobstore.Object, error) {
	fullPath, err := fs.blobPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", id, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", id, err)
	}

	return &blobstore.Object{
		Body: f,
		Info: blobstore.Info{
			ID:          id,
			Size:        stat.Size(),
			ContentType: fs.readType(id),
			ModTime:     stat.ModTime(),
		},
	}, nil
}

// Stat возвращает сведения об объекте.
func (fs *FileStore) Stat(_ context.Context, id string) (*blobstore.Info, error) {
	fullPath, err := fs.blobPath(id)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", id, err)
	}

	return &blobstore.Info{
		ID:          id,
		Size:        stat.Size(),
		ContentType: fs.readType(id),
		ModTime:     stat.ModTime(),
	}, nil
}

// Delete удаляет объект с диска. Возвращает nil, если объект уже не существует.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	fullPath, err := fs.blobPath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", id, err)
	}
	if err := os.Remove(fs.typePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления типа содержимого %s: %w", id, err)
	}
	return nil
}

// List возвращает id всех объектов в директории.
// Временные и служебные файлы пропускаются.
func (fs *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории содержимого: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, blobSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, blobSuffix))
	}
	return ids, nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего объекта.
func (fs *FileStore) ComputeChecksum(id string) (string, error) {
	fullPath, err := fs.blobPath(id)
	if err != nil {
		return "", err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", id, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", id, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (fs *FileStore) blobPath(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("недопустимый идентификатор объекта: %q", id)
	}
	return filepath.Join(fs.dir, id+blobSuffix), nil
}

func (fs *FileStore) typePath(id string) string {
	return filepath.Join(fs.dir, id+typeSuffix)
}

func (fs *FileStore) readType(id string) string {
	data, err := os.ReadFile(fs.typePath(id))
	if err != nil {
		return "application/octet-stream"
	}
	return strings.TrimSpace(string(data))
}

// validID допускает только буквы, цифры, дефис и подчёркивание.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ blobstore.Store = (*FileStore)(nil)
