// Пакет gesture — распознавание long-press жеста на элементе таймлайна.
// Нажатие запускает таймер; отпускание, уход указателя или сдвиг
// больше допуска отменяют его. Сработавший таймер вызывает колбэк
// ровно один раз.
package gesture

import (
	"math"
	"sync"
	"time"
)

// DefaultDuration — длительность удержания по умолчанию.
const DefaultDuration = 1500 * time.Millisecond

// DefaultSlop — допустимый сдвиг указателя в пикселях.
const DefaultSlop = 10.0

// Timer — отменяемый таймер.
type Timer interface {
	Stop() bool
}

// AfterFunc запускает f через d. Подменяется в тестах.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Detector — детектор long-press для одного указателя.
type Detector struct {
	mu          sync.Mutex
	duration    time.Duration
	slop        float64
	after       AfterFunc
	onLongPress func(id string)

	// gen увеличивается при каждом нажатии и отмене;
	// таймер с устаревшим поколением колбэк не вызывает.
	gen     uint64
	timer   Timer
	pressed string
	fired   bool
}

// Option — опция детектора.
type Option func(*Detector)

// WithAfterFunc задаёт источник таймеров.
func WithAfterFunc(f AfterFunc) Option {
	return func(d *Detector) { d.after = f }
}

// WithSlop задаёт допуск сдвига в пикселях.
func WithSlop(px float64) Option {
	return func(d *Detector) { d.slop = px }
}

// New создаёт детектор. duration <= 0 — DefaultDuration.
func New(duration time.Duration, onLongPress func(id string), opts ...Option) *Detector {
	if duration <= 0 {
		duration = DefaultDuration
	}
	d := &Detector{
		duration:    duration,
		slop:        DefaultSlop,
		after:       stdAfterFunc,
		onLongPress: onLongPress,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duration возвращает длительность удержания.
func (d *Detector) Duration() time.Duration {
	return d.duration
}

// Press начинает удержание элемента id. Предыдущее удержание отменяется.
func (d *Detector) Press(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	d.pressed = id
	d.fired = false

	gen := d.gen
	d.timer = d.after(d.duration, func() { d.fire(gen) })
}

// Release завершает удержание. Возвращает true, если long-press уже
// сработал: последующий click в этом случае подавляется.
func (d *Detector) Release() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	fired := d.fired
	d.cancelLocked()
	return fired
}

// Leave — указатель покинул элемент.
func (d *Detector) Leave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Move — сдвиг указателя от точки нажатия. Сдвиг больше допуска
// отменяет удержание. Возвращает true, если удержание отменено.
func (d *Detector) Move(dx, dy float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pressed == "" || d.fired {
		return false
	}
	if math.Hypot(dx, dy) <= d.slop {
		return false
	}
	d.cancelLocked()
	return true
}

// Pending возвращает id удерживаемого элемента, если таймер ещё не сработал.
func (d *Detector) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pressed == "" || d.fired {
		return "", false
	}
	return d.pressed, true
}

func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pressed == "" || d.fired {
		d.mu.Unlock()
		return
	}
	d.fired = true
	id := d.pressed
	cb := d.onLongPress
	d.mu.Unlock()

	if cb != nil {
		cb(id)
	}
}

func (d *Detector) cancelLocked() {
	d.stopLocked()
	d.gen++
	d.pressed = ""
	d.fired = false
}

func (d *Detector) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
