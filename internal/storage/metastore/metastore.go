// Пакет metastore — персистентные метаданные таймлайна поверх kv.Store.
//
// Слоты:
//   - media-records — JSON-массив MediaRecord в порядке вставки
//   - photos        — массив устаревшего формата с data URL (только чтение и очистка)
//   - layout, theme — JSON-строки настроек
//
// Каждый элемент массива проверяется при чтении: записи без id,
// с нераспознаваемым timestamp, неизвестным kind или повторным id
// отбрасываются и учитываются в Snapshot.Rejected.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/storage/kv"
)

// Ключи слотов.
const (
	KeyRecords = "media-records"
	KeyLegacy  = "photos"
	KeyLayout  = "layout"
	KeyTheme   = "theme"
)

// ErrCorrupt — значение слота не является ожидаемой JSON-структурой.
var ErrCorrupt = errors.New("повреждённое значение слота")

// Snapshot — результат чтения метаданных.
type Snapshot struct {
	// Records — валидные записи в порядке хранения
	Records []model.MediaRecord
	// Legacy — валидные записи устаревшего формата
	Legacy []model.LegacyPhoto
	// Rejected — количество отброшенных элементов обоих массивов
	Rejected int
}

// Store — хранилище метаданных.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// New создаёт хранилище метаданных поверх слотов.
func New(store kv.Store, logger *slog.Logger) *Store {
	return &Store{
		kv:     store,
		logger: logger.With(slog.String("component", "metastore")),
	}
}

// KV возвращает нижележащее хранилище слотов.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Load читает записи и устаревший массив. Отсутствующий слот —
// пустая коллекция. Ошибка возвращается только при сбое хранилища
// или если слот не является JSON-массивом.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Records: make([]model.MediaRecord, 0),
		Legacy:  make([]model.LegacyPhoto, 0),
	}

	items, err := s.readArray(ctx, KeyRecords)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(items))
	for i, raw := range items {
		rec, err := decodeRecord(raw)
		if err == nil && seen[rec.ID] {
			err = fmt.Errorf("повторный id %q", rec.ID)
		}
		if err != nil {
			snap.Rejected++
			s.logger.Warn("Запись метаданных отброшена",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		seen[rec.ID] = true
		snap.Records = append(snap.Records, rec)
	}

	legacy, err := s.readArray(ctx, KeyLegacy)
	if err != nil {
		return nil, err
	}
	for i, raw := range legacy {
		p, err := decodeLegacy(raw)
		if err == nil && seen[p.ID] {
			err = fmt.Errorf("id %q уже есть среди записей", p.ID)
		}
		if err != nil {
			snap.Rejected++
			s.logger.Warn("Запись устаревшего формата отброшена",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		seen[p.ID] = true
		snap.Legacy = append(snap.Legacy, p)
	}

	return snap, nil
}

// SaveRecords атомарно заменяет коллекцию записей.
func (s *Store) SaveRecords(ctx context.Context, records []model.MediaRecord) error {
	if records == nil {
		records = []model.MediaRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записей: %w", err)
	}
	if err := s.kv.Put(ctx, KeyRecords, data); err != nil {
		return fmt.Errorf("ошибка сохранения записей: %w", err)
	}
	return nil
}

// ClearLegacy удаляет слот устаревшего формата.
func (s *Store) ClearLegacy(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyLegacy); err != nil {
		return fmt.Errorf("ошибка удаления устаревших записей: %w", err)
	}
	return nil
}

// LoadSettings читает раскладку и тему. Отсутствующие или недопустимые
// значения заменяются значениями по умолчанию.
func (s *Store) LoadSettings(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()

	layout, err := s.readString(ctx, KeyLayout)
	if err != nil {
		return settings, err
	}
	if layout != "" {
		if l, perr := model.ParseLayout(layout); perr == nil {
			settings.Layout = l
		} else {
			s.logger.Warn("Недопустимая сохранённая раскладка, используется значение по умолчанию",
				slog.String("value", layout),
			)
		}
	}

	theme, err := s.readString(ctx, KeyTheme)
	if err != nil {
		return settings, err
	}
	if theme != "" {
		if th, perr := model.ParseTheme(theme); perr == nil {
			settings.Theme = th
		} else {
			s.logger.Warn("Недопустимая сохранённая тема, используется значение по умолчанию",
				slog.String("value", theme),
			)
		}
	}

	return settings, nil
}

// SaveLayout сохраняет раскладку.
func (s *Store) SaveLayout(ctx context.Context, l model.Layout) error {
	return s.writeString(ctx, KeyLayout, string(l))
}

// SaveTheme сохраняет тему.
func (s *Store) SaveTheme(ctx context.Context, t model.Theme) error {
	return s.writeString(ctx, KeyTheme, string(t))
}

func (s *Store) readArray(ctx context.Context, key string) ([]json.RawMessage, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения слота %s: %w", key, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, key, err)
	}
	return items, nil
}

// readString читает строковый слот. Поддерживаются JSON-строка и
// «сырое» значение без кавычек.
func (s *Store) readString(ctx context.Context, key string) (string, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("ошибка чтения слота %s: %w", key, err)
	}

	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	return v, nil
}

func (s *Store) writeString(ctx context.Context, key, value string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("ошибка сохранения %s: %w", key, err)
	}
	return nil
}

// rawRecord — элемент массива до проверки.
type rawRecord struct {
	ID               *string         `json:"id"`
	Timestamp        json.RawMessage `json:"timestamp"`
	Caption          *string         `json:"caption"`
	Kind             *string         `json:"kind"`
	ContentType      string          `json:"content_type"`
	OriginalFilename string          `json:"original_filename"`
	Size             int64           `json:"size"`
	Checksum         string          `json:"checksum"`
}

func decodeRecord(raw json.RawMessage) (model.MediaRecord, error) {
	var r rawRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.MediaRecord{}, fmt.Errorf("элемент не является объектом: %w", err)
	}

	if r.ID == nil || strings.TrimSpace(*r.ID) == "" {
		return model.MediaRecord{}, errors.New("отсутствует id")
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return model.MediaRecord{}, fmt.Errorf("запись %s: %w", *r.ID, err)
	}

	if r.Kind == nil {
		return model.MediaRecord{}, fmt.Errorf("запись %s: отсутствует kind", *r.ID)
	}
	kind := model.Kind(*r.Kind)
	if !kind.Valid() {
		return model.MediaRecord{}, fmt.Errorf("запись %s: недопустимый kind %q", *r.ID, *r.Kind)
	}

	rec := model.MediaRecord{
		ID:               *r.ID,
		Timestamp:        ts,
		Kind:             kind,
		ContentType:      r.ContentType,
		OriginalFilename: r.OriginalFilename,
		Size:             r.Size,
		Checksum:         r.Checksum,
	}
	if r.Caption != nil {
		rec.Caption = *r.Caption
	}
	return rec, nil
}

func decodeLegacy(raw json.RawMessage) (model.LegacyPhoto, error) {
	var p model.LegacyPhoto
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("элемент не является объектом: %w", err)
	}
	if strings.TrimSpace(p.ID) == "" {
		return p, errors.New("отсутствует id")
	}
	if _, err := time.Parse(time.RFC3339Nano, p.Date); err != nil {
		return p, fmt.Errorf("фото %s: некорректная дата %q", p.ID, p.Date)
	}
	if _, _, err := DecodeDataURL(p.DataURL); err != nil {
		return p, fmt.Errorf("фото %s: %w", p.ID, err)
	}
	return p, nil
}

// parseTimestamp принимает строку RFC 3339 или число миллисекунд Unix.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, errors.New("отсутствует timestamp")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("некорректный timestamp %q", s)
		}
		return ts, nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("некорректный timestamp %s", raw)
}
