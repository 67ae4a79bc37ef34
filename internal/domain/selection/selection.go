// Пакет selection — конечный автомат режима множественного выбора.
//
// Два состояния:
//   - idle — выбор неактивен, набор пуст
//   - selecting — набор содержит хотя бы один id
//
// Переходы:
//   - idle → selecting: Enter(seed)
//   - selecting → selecting: Toggle(id), если набор остаётся непустым
//   - selecting → idle: Toggle(id) последнего элемента, Cancel, удаление
//     всех выбранных элементов
//
// Потокобезопасен через sync.RWMutex.
package selection

import (
	"fmt"
	"sort"
	"sync"
)

// State — состояние режима выбора.
type State string

const (
	// StateIdle — выбор неактивен
	StateIdle State = "idle"
	// StateSelecting — активен выбор хотя бы одного элемента
	StateSelecting State = "selecting"
)

// Event — событие автомата.
type Event string

const (
	EventEnter  Event = "enter"
	EventToggle Event = "toggle"
	EventCancel Event = "cancel"
)

// validEvents — матрица допустимых событий для каждого состояния.
var validEvents = map[State]map[Event]bool{
	StateIdle:      {EventEnter: true, EventCancel: true},
	StateSelecting: {EventEnter: true, EventToggle: true, EventCancel: true},
}

// Snapshot — неизменяемый снимок состояния выбора.
type Snapshot struct {
	State    State    `json:"state"`
	Selected []string `json:"selected"`
}

// Active возвращает true в состоянии selecting.
func (s Snapshot) Active() bool {
	return s.State == StateSelecting
}

// Machine — автомат режима выбора.
type Machine struct {
	mu       sync.RWMutex
	selected map[string]struct{}
}

// New создаёт автомат в состоянии idle.
func New() *Machine {
	return &Machine{selected: make(map[string]struct{})}
}

// State возвращает текущее состояние.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	if len(m.selected) == 0 {
		return StateIdle
	}
	return StateSelecting
}

// Enter начинает выбор с элемента seed (long-press).
// В состоянии selecting seed добавляется к набору.
func (m *Machine) Enter(seed string) error {
	if seed == "" {
		return &TransitionError{Code: "INVALID_TRANSITION", Message: "пустой идентификатор элемента"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(EventEnter); err != nil {
		return err
	}
	m.selected[seed] = struct{}{}
	return nil
}

// Toggle переключает принадлежность id набору.
// Если набор становится пустым, автомат возвращается в idle.
// Возвращает новое состояние.
func (m *Machine) Toggle(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(EventToggle); err != nil {
		return m.stateLocked(), err
	}

	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
	} else {
		m.selected[id] = struct{}{}
	}
	return m.stateLocked(), nil
}

// Cancel очищает набор и переводит автомат в idle.
// В состоянии idle ничего не делает.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]struct{})
}

// Remove исключает ids из набора (удалённые элементы).
func (m *Machine) Remove(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.selected, id)
	}
}

// Retain оставляет в наборе только известные id.
func (m *Machine) Retain(known func(id string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.selected {
		if !known(id) {
			delete(m.selected, id)
		}
	}
}

// Selected возвращает отсортированную копию набора.
func (m *Machine) Selected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectedLocked()
}

func (m *Machine) selectedLocked() []string {
	ids := make([]string, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot возвращает согласованный снимок состояния и набора.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.stateLocked(), Selected: m.selectedLocked()}
}

func (m *Machine) checkLocked(ev Event) error {
	current := m.stateLocked()
	if !validEvents[current][ev] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("событие %s недопустимо в состоянии %s", ev, current),
		}
	}
	return nil
}

// TransitionError — ошибка недопустимого перехода.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
