//go:build !cgo

package sqlitekv

import (
	"context"
	"errors"

	"github.com/bigkaa/phototimeline/internal/storage/kv"
)

// Available — бэкенд недоступен без CGO.
const Available = false

var errNoCGO = errors.New("бэкенд SQLite недоступен в сборке без CGO: используйте PT_META_BACKEND=file или пересоберите с CGO_ENABLED=1")

// Store — заглушка для сборок без CGO.
type Store struct{}

// Open всегда возвращает ошибку.
func Open(string) (*Store, error) { return nil, errNoCGO }

func (s *Store) Get(context.Context, string) ([]byte, error) { return nil, errNoCGO }

func (s *Store) Put(context.Context, string, []byte) error { return errNoCGO }

func (s *Store) Delete(context.Context, string) error { return errNoCGO }

func (s *Store) Ping(context.Context) error { return errNoCGO }

func (s *Store) Close() error { return nil }

var _ kv.Store = (*Store)(nil)
