// Пакет rediskv — слоты метаданных в Redis.
// Каждый слот — строковый ключ {prefix}{key}; SET атомарен.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/phototimeline/internal/storage/kv"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "phototimeline:"

// Store — хранилище слотов в Redis.
type Store struct {
	client *redis.Client
	prefix string
	owned  bool
}

// Options — параметры подключения.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open подключается к Redis и проверяет доступность.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", opts.Addr, err)
	}

	s := New(client, opts.Prefix)
	s.owned = true
	return s, nil
}

// New оборачивает существующий клиент. Клиент не закрывается в Close.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Client возвращает клиент Redis.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Get читает слот.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Put записывает слот без TTL.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет слот.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping проверяет подключение.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент, если он создан через Open.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

var _ kv.Store = (*Store)(nil)
