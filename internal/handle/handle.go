// Пакет handle — реестр воспроизводимых ссылок на содержимое медиа.
// Каждая ссылка — HS256 JWT, подписанный ключом процесса и привязанный
// к сессии. Ссылка действительна, пока не освобождена и не истекла.
// Каждая выданная ссылка освобождается ровно один раз.
package handle

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки реестра.
var (
	// ErrInvalid — токен не выдан этим процессом или повреждён.
	ErrInvalid = errors.New("недействительная ссылка")
	// ErrReleased — ссылка уже освобождена.
	ErrReleased = errors.New("ссылка уже освобождена")
)

// DefaultTTL — время жизни ссылки по умолчанию.
const DefaultTTL = 12 * time.Hour

// Prometheus-метрики ссылок.
var (
	handlesAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_handles_acquired_total",
		Help: "Общее количество выданных ссылок на содержимое.",
	})
	handlesReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_handles_released_total",
		Help: "Общее количество освобождённых ссылок на содержимое.",
	})
	handlesOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pt_handles_outstanding",
		Help: "Количество действующих ссылок на содержимое.",
	})
)

// Handle — выданная ссылка.
type Handle struct {
	Token     string
	MediaID   string
	URL       string
	ExpiresAt time.Time
}

// claims — содержимое токена ссылки.
type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// Option — опция реестра.
type Option func(*Registry)

// WithNow подменяет источник времени.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithBaseURL задаёт префикс URL ссылок. По умолчанию ссылки относительные.
func WithBaseURL(base string) Option {
	return func(r *Registry) { r.baseURL = base }
}

// Registry выдаёт и освобождает ссылки. Безопасен для конкурентного использования.
type Registry struct {
	key       []byte
	sessionID string
	ttl       time.Duration
	baseURL   string
	now       func() time.Time

	mu    sync.Mutex
	byID  map[string]*Handle
	byTok map[string]*Handle
}

// New создаёт реестр со случайным ключом подписи и новой сессией.
func New(ttl time.Duration, opts ...Option) (*Registry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа ссылок: %w", err)
	}

	r := &Registry{
		key:       key,
		sessionID: uuid.New().String(),
		ttl:       ttl,
		now:       time.Now,
		byID:      make(map[string]*Handle),
		byTok:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SessionID возвращает идентификатор сессии реестра.
func (r *Registry) SessionID() string {
	return r.sessionID
}

// Acquire возвращает действующую ссылку на медиа-элемент, выдавая новую
// при отсутствии. Истёкшая ссылка освобождается и заменяется.
func (r *Registry) Acquire(mediaID string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byID[mediaID]; ok {
		if r.now().Before(h.ExpiresAt) {
			return *h, nil
		}
		r.releaseLocked(h)
	}

	now := r.now()
	h := &Handle{MediaID: mediaID, ExpiresAt: now.Add(r.ttl)}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   mediaID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(h.ExpiresAt),
		},
		SessionID: r.sessionID,
	})
	signed, err := token.SignedString(r.key)
	if err != nil {
		return Handle{}, fmt.Errorf("ошибка подписи ссылки: %w", err)
	}
	h.Token = signed
	h.URL = r.baseURL + "/blobs/" + signed

	r.byID[mediaID] = h
	r.byTok[signed] = h
	handlesAcquiredTotal.Inc()
	handlesOutstanding.Inc()
	return *h, nil
}

// Lookup проверяет подпись, сессию и срок ссылки и возвращает id медиа.
func (r *Registry) Lookup(token string) (string, error) {
	c, err := r.verify(token,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byTok[token]
	if !ok {
		return "", ErrReleased
	}
	if h.MediaID != c.Subject {
		return "", fmt.Errorf("%w: несовпадение subject", ErrInvalid)
	}
	return h.MediaID, nil
}

// Release освобождает ссылку по токену. Повторное освобождение
// возвращает ErrReleased и не учитывается.
func (r *Registry) Release(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byTok[token]
	if !ok {
		// Подпись отличает освобождённую ссылку от посторонней строки.
		if _, err := r.verify(token, jwt.WithoutClaimsValidation()); err != nil {
			return err
		}
		return ErrReleased
	}
	r.releaseLocked(h)
	return nil
}

// ReleaseMedia освобождает ссылку медиа-элемента, если она выдана.
// Возвращает true, если ссылка была освобождена этим вызовом.
func (r *Registry) ReleaseMedia(mediaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[mediaID]
	if !ok {
		return false
	}
	r.releaseLocked(h)
	return true
}

// Holds сообщает, выдана ли действующая ссылка для медиа-элемента.
func (r *Registry) Holds(mediaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[mediaID]
	return ok
}

// Outstanding возвращает количество неосвобождённых ссылок.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTok)
}

// ReleaseAll освобождает все ссылки и возвращает их количество.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.byTok {
		r.releaseLocked(h)
		n++
	}
	return n
}

// verify проверяет подпись и сессию токена.
func (r *Registry) verify(token string, opts ...jwt.ParserOption) (*claims, error) {
	var c claims
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return r.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.SessionID != r.sessionID {
		return nil, fmt.Errorf("%w: чужая сессия", ErrInvalid)
	}
	return &c, nil
}

func (r *Registry) releaseLocked(h *Handle) {
	delete(r.byTok, h.Token)
	if cur, ok := r.byID[h.MediaID]; ok && cur == h {
		delete(r.byID, h.MediaID)
	}
	handlesReleasedTotal.Inc()
	handlesOutstanding.Dec()
}
