package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша содержимого.
var (
	blobCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_blob_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш содержимого медиа.",
	})
	blobCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_blob_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша содержимого медиа.",
	})
)

type cachedBlob struct {
	data []byte
	info Info
}

// Cached — LRU-кэш небольших объектов с TTL поверх Store.
// Объекты крупнее maxItemBytes читаются напрямую из нижележащего хранилища.
type Cached struct {
	inner        Store
	cache        *expirable.LRU[string, cachedBlob]
	maxItemBytes int64
}

// NewCached оборачивает хранилище кэшем.
// maxSize — максимальное количество объектов, ttl — время жизни записи.
func NewCached(inner Store, maxSize int, ttl time.Duration, maxItemBytes int64) *Cached {
	return &Cached{
		inner:        inner,
		cache:        expirable.NewLRU[string, cachedBlob](maxSize, nil, ttl),
		maxItemBytes: maxItemBytes,
	}
}

// Unwrap возвращает нижележащее хранилище.
func (c *Cached) Unwrap() Store {
	return c.inner
}

// Len возвращает количество объектов в кэше.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Put записывает объект и инвалидирует запись кэша.
func (c *Cached) Put(ctx context.Context, id string, r io.Reader, contentType string) (*PutResult, error) {
	c.cache.Remove(id)
	return c.inner.Put(ctx, id, r, contentType)
}

// Open отдаёт объект из кэша или читает его из хранилища.
// Body из кэша реализует io.ReadSeeker.
func (c *Cached) Open(ctx context.Context, id string) (*Object, error) {
	if b, ok := c.cache.Get(id); ok {
		blobCacheHitsTotal.Inc()
		return &Object{Body: readSeekNopCloser{bytes.NewReader(b.data)}, Info: b.info}, nil
	}
	blobCacheMissesTotal.Inc()

	obj, err := c.inner.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj.Info.Size <= 0 || obj.Info.Size > c.maxItemBytes {
		return obj, nil
	}

	data, err := io.ReadAll(io.LimitReader(obj.Body, c.maxItemBytes+1))
	obj.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", id, err)
	}
	if int64(len(data)) != obj.Info.Size {
		return nil, fmt.Errorf("размер объекта %s изменился при чтении: ожидалось %d, получено %d",
			id, obj.Info.Size, len(data))
	}

	c.cache.Add(id, cachedBlob{data: data, info: obj.Info})
	return &Object{Body: readSeekNopCloser{bytes.NewReader(data)}, Info: obj.Info}, nil
}

// Stat возвращает сведения из кэша или из хранилища.
func (c *Cached) Stat(ctx context.Context, id string) (*Info, error) {
	if b, ok := c.cache.Peek(id); ok {
		info := b.info
		return &info, nil
	}
	return c.inner.Stat(ctx, id)
}

// Delete удаляет объект и запись кэша.
func (c *Cached) Delete(ctx context.Context, id string) error {
	c.cache.Remove(id)
	return c.inner.Delete(ctx, id)
}

// List делегирует нижележащему хранилищу.
func (c *Cached) List(ctx context.Context) ([]string, error) {
	return c.inner.List(ctx)
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

var _ Store = (*Cached)(nil)
