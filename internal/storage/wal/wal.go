package wal

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const journalFile = "journal.jsonl"

// ErrNotPending — намерение уже завершено или неизвестно журналу.
var ErrNotPending = errors.New("намерение не ожидает завершения")

// Journal — журнал намерений в каталоге dir.
type Journal struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	f       *os.File
	pending map[string]*Intent
	// closed — число завершённых намерений, ещё не вычищенных Compact
	closed int
}

// Open открывает журнал в каталоге dir, создавая каталог при необходимости,
// и восстанавливает незавершённые намерения. Повреждённые строки, в том
// числе оборванная последняя, пропускаются.
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("создание каталога журнала %s: %w", dir, err)
	}
	j := &Journal{
		dir:     dir,
		logger:  logger.With(slog.String("component", "wal")),
		pending: make(map[string]*Intent),
	}
	torn, err := j.replay()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(j.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("журнал %s недоступен для записи: %w", j.path(), err)
	}
	if torn {
		// Следующее событие не должно склеиться с оборванной строкой
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("запись в журнал: %w", err)
		}
	}
	j.f = f

	if n := len(j.pending); n > 0 {
		j.logger.Warn("В журнале есть незавершённые намерения", slog.Int("count", n))
	}
	return j, nil
}

func (j *Journal) path() string {
	return filepath.Join(j.dir, journalFile)
}

// replay восстанавливает незавершённые намерения. Возвращает true, если
// файл не оканчивается переводом строки (оборванная запись).
func (j *Journal) replay() (bool, error) {
	data, err := os.ReadFile(j.path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("чтение журнала: %w", err)
	}

	for n, raw := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil || l.TxID == "" {
			j.logger.Warn("Пропущена повреждённая строка журнала", slog.Int("line", n+1))
			continue
		}
		switch l.Event {
		case eventBegin:
			j.pending[l.TxID] = l.intent()
		case eventCommit, eventAbort:
			if _, ok := j.pending[l.TxID]; ok {
				delete(j.pending, l.TxID)
				j.closed++
			}
		}
	}
	return len(data) > 0 && data[len(data)-1] != '\n', nil
}

// append дописывает строку и сбрасывает её на диск. Вызывается под mu.
func (j *Journal) append(l line) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}
	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("запись в журнал: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("fsync журнала: %w", err)
	}
	return nil
}

// Begin фиксирует намерение выполнить op над mediaIDs.
func (j *Journal) Begin(op Op, mediaIDs ...string) (*Intent, error) {
	if len(mediaIDs) == 0 {
		return nil, errors.New("намерение без медиа-элементов")
	}
	in := &Intent{
		TxID:      uuid.New().String(),
		Op:        op,
		MediaIDs:  slices.Clone(mediaIDs),
		StartedAt: time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.append(in.beginLine()); err != nil {
		return nil, err
	}
	j.pending[in.TxID] = in

	j.logger.Debug("Намерение зафиксировано",
		slog.String("tx_id", in.TxID),
		slog.String("op", string(op)),
		slog.Int("media_count", len(mediaIDs)),
	)
	return in, nil
}

// Commit отмечает намерение выполненным.
func (j *Journal) Commit(txID string) error {
	return j.finish(txID, eventCommit)
}

// Abort отмечает намерение отменённым.
func (j *Journal) Abort(txID string) error {
	return j.finish(txID, eventAbort)
}

func (j *Journal) finish(txID string, ev event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	in, ok := j.pending[txID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, txID)
	}
	if err := j.append(line{Event: ev, TxID: txID, At: time.Now().UTC()}); err != nil {
		return err
	}
	delete(j.pending, txID)
	j.closed++

	j.logger.Debug("Намерение завершено",
		slog.String("tx_id", txID),
		slog.String("event", string(ev)),
		slog.Duration("duration", time.Since(in.StartedAt)),
	)
	return nil
}

// Pending возвращает незавершённые намерения в порядке начала.
func (j *Journal) Pending() []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Intent, 0, len(j.pending))
	for _, in := range j.pending {
		out = append(out, *in)
	}
	slices.SortStableFunc(out, func(a, b Intent) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TxID, b.TxID)
	})
	return out
}

// Lookup возвращает незавершённое намерение по идентификатору.
func (j *Journal) Lookup(txID string) (Intent, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	in, ok := j.pending[txID]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}

// Compact переписывает журнал, оставляя только незавершённые намерения.
// Возвращает число вычищенных завершённых намерений.
func (j *Journal) Compact() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed == 0 {
		return 0, nil
	}

	tmp := j.path() + ".tmp"
	if err := j.writeSnapshot(tmp); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, j.path()); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("замена журнала: %w", err)
	}

	f, err := os.OpenFile(j.path(), os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("повторное открытие журнала: %w", err)
	}
	j.f.Close()
	j.f = f

	cleaned := j.closed
	j.closed = 0
	j.logger.Info("Журнал уплотнён",
		slog.Int("cleaned", cleaned),
		slog.Int("pending", len(j.pending)),
	)
	return cleaned, nil
}

func (j *Journal) writeSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("создание временного журнала: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, in := range j.pending {
		if err := enc.Encode(in.beginLine()); err != nil {
			f.Close()
			return fmt.Errorf("запись временного журнала: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("запись временного журнала: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync временного журнала: %w", err)
	}
	return f.Close()
}

// Dir возвращает каталог журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// Close закрывает файл журнала.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
