package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore — хранилище в памяти со счётчиком вызовов Open.
type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	types map[string]string
	opens int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, id string, r io.Reader, ct string) (*PutResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = b
	m.types[id] = ct
	return &PutResult{Size: int64(len(b))}, nil
}

func (m *memStore) Open(_ context.Context, id string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	b, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Body: io.NopCloser(bytes.NewReader(b)),
		Info: Info{ID: id, Size: int64(len(b)), ContentType: m.types[id]},
	}, nil
}

func (m *memStore) Stat(_ context.Context, id string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Info{ID: id, Size: int64(len(b)), ContentType: m.types[id]}, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	delete(m.types, id)
	return nil
}

func (m *memStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func readAll(t *testing.T, obj *Object) string {
	t.Helper()
	defer obj.Body.Close()
	b, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	return string(b)
}

func TestCached_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	c := NewCached(inner, 10, time.Minute, 1024)

	if _, err := c.Put(ctx, "a", strings.NewReader("hello"), "image/png"); err != nil {
		t.Fatalf("ошибка Put: %v", err)
	}

	for i := 0; i < 3; i++ {
		obj, err := c.Open(ctx, "a")
		if err != nil {
			t.Fatalf("ошибка Open: %v", err)
		}
		if got := readAll(t, obj); got != "hello" {
			t.Errorf("ожидалось hello, получено %q", got)
		}
		if _, ok := obj.Body.(io.Seeker); !ok {
			t.Error("содержимое из кэша должно поддерживать Seek")
		}
	}
	if inner.opens != 1 {
		t.Errorf("ожидался 1 вызов Open хранилища, получено %d", inner.opens)
	}
	if c.Len() != 1 {
		t.Errorf("ожидалась 1 запись в кэше, получено %d", c.Len())
	}
}

func TestCached_LargeObjectNotCached(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	c := NewCached(inner, 10, time.Minute, 4)

	_, _ = c.Put(ctx, "big", strings.NewReader("0123456789"), "video/mp4")

	for i := 0; i < 2; i++ {
		obj, err := c.Open(ctx, "big")
		if err != nil {
			t.Fatalf("ошибка Open: %v", err)
		}
		if got := readAll(t, obj); got != "0123456789" {
			t.Errorf("неожиданное содержимое %q", got)
		}
	}
	if inner.opens != 2 {
		t.Errorf("ожидалось 2 вызова Open хранилища, получено %d", inner.opens)
	}
	if c.Len() != 0 {
		t.Errorf("крупный объект не должен попадать в кэш, записей: %d", c.Len())
	}
}

func TestCached_InvalidateOnPutAndDelete(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	c := NewCached(inner, 10, time.Minute, 1024)

	_, _ = c.Put(ctx, "a", strings.NewReader("v1"), "image/png")
	obj, _ := c.Open(ctx, "a")
	readAll(t, obj)

	_, _ = c.Put(ctx, "a", strings.NewReader("v2"), "image/png")
	obj, err := c.Open(ctx, "a")
	if err != nil {
		t.Fatalf("ошибка Open: %v", err)
	}
	if got := readAll(t, obj); got != "v2" {
		t.Errorf("после Put ожидалось v2, получено %q", got)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("ошибка Delete: %v", err)
	}
	if _, err := c.Open(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := c.Stat(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete Stat должен вернуть ErrNotFound, получено %v", err)
	}
}

func TestCached_StatFromCache(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	c := NewCached(inner, 10, time.Minute, 1024)

	_, _ = c.Put(ctx, "a", strings.NewReader("abc"), "image/jpeg")
	obj, _ := c.Open(ctx, "a")
	readAll(t, obj)

	info, err := c.Stat(ctx, "a")
	if err != nil {
		t.Fatalf("ошибка Stat: %v", err)
	}
	if info.Size != 3 || info.ContentType != "image/jpeg" {
		t.Errorf("неожиданные сведения: %+v", info)
	}
	if c.Unwrap() != Store(inner) {
		t.Error("Unwrap должен вернуть исходное хранилище")
	}
}
