// Пакет service — бизнес-логика Photo Timeline.
// media.go — MediaManager: единственный владелец коллекции медиа-элементов,
// производных представлений, состояния выбора и просмотра.
package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/phototimeline/internal/domain/gesture"
	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/domain/selection"
	"github.com/bigkaa/phototimeline/internal/domain/timeline"
	"github.com/bigkaa/phototimeline/internal/handle"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
	"github.com/bigkaa/phototimeline/internal/storage/metastore"
	"github.com/bigkaa/phototimeline/internal/storage/wal"
)

// Prometheus-метрики медиа.
var (
	mediaItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pt_media_items",
		Help: "Количество медиа-элементов в представлении (по типу).",
	}, []string{"kind"})

	mediaOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pt_media_operations_total",
		Help: "Общее количество операций над медиа (по операции и результату).",
	}, []string{"operation", "result"})

	mediaOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pt_media_operation_duration_seconds",
		Help:    "Длительность операций над медиа.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"operation"})
)

// DefaultMaxFileSize — максимальный размер содержимого по умолчанию.
const DefaultMaxFileSize int64 = 512 * 1024 * 1024

// MediaConfig — параметры MediaManager.
type MediaConfig struct {
	// MaxFileSize — максимальный размер содержимого в байтах
	MaxFileSize int64
	// Location — часовой пояс фильтра по датам и группировки по дням
	Location *time.Location
	// LongPressDuration — длительность удержания для входа в выбор
	LongPressDuration time.Duration
	// PresignTTL — время жизни прямой ссылки на S3
	PresignTTL time.Duration
	// RedirectPresigned — отдавать содержимое редиректом на прямую ссылку
	RedirectPresigned bool
}

// AddParams — параметры добавления медиа-элемента.
type AddParams struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	// Size — заявленный размер, 0 если неизвестен
	Size    int64
	Caption string
	// Timestamp — момент элемента, по умолчанию текущее время
	Timestamp time.Time
}

// LoadReport — итог загрузки состояния.
type LoadReport struct {
	Records        int `json:"records"`
	Resolved       int `json:"resolved"`
	MissingBlobs   int `json:"missing_blobs"`
	Rejected       int `json:"rejected"`
	LegacyImported int `json:"legacy_imported"`
	LegacyFailed   int `json:"legacy_failed"`
	Recovered      int `json:"recovered"`
}

// ViewGroup — элементы одного календарного дня.
type ViewGroup struct {
	Day   string                    `json:"day"`
	Items []model.ResolvedMediaItem `json:"items"`
}

// View — производное представление для отрисовки.
type View struct {
	Items     []model.ResolvedMediaItem `json:"items"`
	Groups    []ViewGroup               `json:"groups,omitempty"`
	Total     int                       `json:"total"`
	Limit     int                       `json:"limit"`
	Offset    int                       `json:"offset"`
	HasMore   bool                      `json:"has_more"`
	Filter    model.FilterCriteria      `json:"filter"`
	Settings  model.Settings            `json:"settings"`
	Selection selection.Snapshot        `json:"selection"`
	ViewerID  string                    `json:"viewer_id,omitempty"`
}

// BlobTarget — содержимое для отдачи по ссылке.
// Заполнено либо Object, либо RedirectURL.
type BlobTarget struct {
	Record      model.MediaRecord
	Object      *blobstore.Object
	RedirectURL string
}

// MediaManager — авторитетное состояние коллекции медиа.
// Мутации выполняются по одной (opMu). Чтения берут только mu и не ждут
// ввода-вывода хранилищ: во время мутации видно предыдущее состояние.
// Порядок блокировок: mu, затем handles, sel и press. Ссылки выдаются и
// переходы выбора выполняются под mu, иначе удаление может проскочить
// между проверкой записи и действием.
type MediaManager struct {
	meta    *metastore.Store
	blobs   blobstore.Store
	journal *wal.Journal
	handles *handle.Registry
	sel     *selection.Machine
	press   *gesture.Detector
	cfg     MediaConfig
	logger  *slog.Logger
	now     func() time.Time

	opMu sync.Mutex

	mu       sync.RWMutex
	records  []model.MediaRecord // порядок добавления
	missing  map[string]struct{} // записи без содержимого
	filter   model.FilterCriteria
	settings model.Settings
	viewerID string

	// beforeSelect вызывается под mu между проверкой записи и переходом
	// выбора или удержания. Только для тестов.
	beforeSelect func(id string)
}

// NewMediaManager создаёт менеджер. Состояние пустое до вызова Load.
func NewMediaManager(
	meta *metastore.Store,
	blobs blobstore.Store,
	journal *wal.Journal,
	handles *handle.Registry,
	cfg MediaConfig,
	logger *slog.Logger,
) *MediaManager {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LongPressDuration <= 0 {
		cfg.LongPressDuration = gesture.DefaultDuration
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}

	m := &MediaManager{
		meta:     meta,
		blobs:    blobs,
		journal:  journal,
		handles:  handles,
		sel:      selection.New(),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "media_manager")),
		now:      time.Now,
		records:  []model.MediaRecord{},
		missing:  map[string]struct{}{},
		settings: model.DefaultSettings(),
	}
	m.press = gesture.New(cfg.LongPressDuration, m.onLongPress)
	return m
}

// Load восстанавливает незавершённые транзакции, читает метаданные,
// импортирует устаревший формат, настройки и проверяет наличие содержимого.
// Ссылки предыдущей загрузки освобождаются.
func (m *MediaManager) Load(ctx context.Context) (*LoadReport, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()
	defer func() { mediaOperationDuration.WithLabelValues("load").Observe(time.Since(start).Seconds()) }()

	snap, err := m.meta.Load(ctx)
	if err != nil {
		mediaOperationsTotal.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("ошибка чтения метаданных: %w", err)
	}
	report := &LoadReport{Rejected: snap.Rejected}

	records, recovered, err := m.recoverWAL(ctx, snap.Records)
	if err != nil {
		mediaOperationsTotal.WithLabelValues("load", "error").Inc()
		return nil, err
	}
	report.Recovered = recovered

	records, report.LegacyImported, report.LegacyFailed = m.importLegacy(ctx, records, snap.Legacy)

	settings, err := m.meta.LoadSettings(ctx)
	if err != nil {
		m.logger.Warn("Ошибка чтения настроек, используются значения по умолчанию",
			slog.String("error", err.Error()),
		)
		settings = model.DefaultSettings()
	}

	missing := make(map[string]struct{})
	for _, rec := range records {
		if _, err := m.blobs.Stat(ctx, rec.ID); err != nil {
			missing[rec.ID] = struct{}{}
			if !errors.Is(err, blobstore.ErrNotFound) {
				m.logger.Warn("Ошибка проверки содержимого",
					slog.String("media_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.mu.Lock()
	released := m.handles.ReleaseAll()
	m.records = records
	m.missing = missing
	m.settings = settings
	m.sel.Retain(m.isResolvedLocked)
	if m.viewerID != "" && !m.isResolvedLocked(m.viewerID) {
		m.viewerID = ""
	}
	for _, rec := range records {
		if _, gone := missing[rec.ID]; gone {
			continue
		}
		if _, err := m.handles.Acquire(rec.ID); err != nil {
			m.logger.Error("Ошибка выдачи ссылки", slog.String("media_id", rec.ID), slog.String("error", err.Error()))
		}
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	report.Records = len(records)
	report.MissingBlobs = len(missing)
	report.Resolved = len(records) - len(missing)
	mediaOperationsTotal.WithLabelValues("load", "ok").Inc()

	m.logger.Info("Состояние загружено",
		slog.Int("records", report.Records),
		slog.Int("resolved", report.Resolved),
		slog.Int("missing_blobs", report.MissingBlobs),
		slog.Int("rejected", report.Rejected),
		slog.Int("legacy_imported", report.LegacyImported),
		slog.Int("recovered", report.Recovered),
		slog.Int("released_handles", released),
	)
	return report, nil
}

// recoverWAL завершает транзакции, прерванные рестартом.
// media_add без записи в метаданных откатывается (содержимое удаляется),
// media_delete доводится до конца для id, содержимое которых уже удалено.
func (m *MediaManager) recoverWAL(ctx context.Context, records []model.MediaRecord) ([]model.MediaRecord, int, error) {
	pending := m.journal.Pending()
	if len(pending) == 0 {
		return records, 0, nil
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = true
	}

	for _, entry := range pending {
		switch entry.Op {
		case wal.OpMediaAdd:
			for _, id := range entry.MediaIDs {
				if known[id] {
					continue
				}
				if err := m.blobs.Delete(ctx, id); err != nil {
					return nil, 0, fmt.Errorf("ошибка отката добавления %s: %w", id, err)
				}
			}
			if err := m.journal.Abort(entry.TxID); err != nil {
				m.logger.Warn("Ошибка завершения WAL-транзакции", slog.String("tx_id", entry.TxID), slog.String("error", err.Error()))
			}

		case wal.OpMediaDelete:
			gone := make(map[string]bool)
			for _, id := range entry.MediaIDs {
				if !known[id] {
					continue
				}
				_, err := m.blobs.Stat(ctx, id)
				if errors.Is(err, blobstore.ErrNotFound) {
					gone[id] = true
				}
			}
			if len(gone) > 0 {
				next := slices.DeleteFunc(slices.Clone(records), func(rec model.MediaRecord) bool { return gone[rec.ID] })
				if err := m.meta.SaveRecords(ctx, next); err != nil {
					return nil, 0, fmt.Errorf("ошибка завершения удаления: %w", err)
				}
				records = next
				for id := range gone {
					delete(known, id)
				}
			}
			if err := m.journal.Commit(entry.TxID); err != nil {
				m.logger.Warn("Ошибка завершения WAL-транзакции", slog.String("tx_id", entry.TxID), slog.String("error", err.Error()))
			}

		default:
			m.logger.Warn("Неизвестная операция WAL", slog.String("operation", string(entry.Op)))
			_ = m.journal.Abort(entry.TxID)
		}
	}

	if _, err := m.journal.Compact(); err != nil {
		m.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	}
	return records, len(pending), nil
}

// importLegacy переносит записи устаревшего формата: содержимое, затем
// метаданные, затем удаление устаревшего слота.
func (m *MediaManager) importLegacy(ctx context.Context, records []model.MediaRecord, legacy []model.LegacyPhoto) ([]model.MediaRecord, int, int) {
	if len(legacy) == 0 {
		return records, 0, 0
	}

	next := slices.Clone(records)
	failed := 0
	for _, p := range legacy {
		rec, err := m.importLegacyPhoto(ctx, p)
		if err != nil {
			failed++
			m.logger.Warn("Запись устаревшего формата не импортирована",
				slog.String("media_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		next = append(next, rec)
	}

	imported := len(next) - len(records)
	if imported == 0 {
		return records, 0, failed
	}
	if err := m.meta.SaveRecords(ctx, next); err != nil {
		m.logger.Error("Ошибка сохранения импортированных записей",
			slog.String("error", err.Error()),
		)
		return records, 0, len(legacy)
	}
	if err := m.meta.ClearLegacy(ctx); err != nil {
		m.logger.Warn("Ошибка удаления устаревшего слота", slog.String("error", err.Error()))
	}
	return next, imported, failed
}

func (m *MediaManager) importLegacyPhoto(ctx context.Context, p model.LegacyPhoto) (model.MediaRecord, error) {
	ct, data, err := metastore.DecodeDataURL(p.DataURL)
	if err != nil {
		return model.MediaRecord{}, err
	}
	kind, err := model.KindFromContentType(ct)
	if err != nil {
		return model.MediaRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Date)
	if err != nil {
		return model.MediaRecord{}, fmt.Errorf("некорректная дата %q: %w", p.Date, err)
	}

	res, err := m.blobs.Put(ctx, p.ID, bytes.NewReader(data), ct)
	if err != nil {
		return model.MediaRecord{}, fmt.Errorf("ошибка записи содержимого: %w", err)
	}
	return model.MediaRecord{
		ID:          p.ID,
		Timestamp:   ts,
		Caption:     p.Caption,
		Kind:        kind,
		ContentType: ct,
		Size:        res.Size,
		Checksum:    res.Checksum,
	}, nil
}

// Add записывает содержимое, затем метаданные, затем фиксирует запись
// в памяти. При любой ошибке состояние не меняется.
func (m *MediaManager) Add(ctx context.Context, params AddParams) (model.ResolvedMediaItem, error) {
	start := time.Now()
	defer func() { mediaOperationDuration.WithLabelValues("add").Observe(time.Since(start).Seconds()) }()

	item, err := m.add(ctx, params)
	if err != nil {
		mediaOperationsTotal.WithLabelValues("add", "error").Inc()
		return model.ResolvedMediaItem{}, err
	}
	mediaOperationsTotal.WithLabelValues("add", "ok").Inc()
	return item, nil
}

func (m *MediaManager) add(ctx context.Context, params AddParams) (model.ResolvedMediaItem, error) {
	if params.Reader == nil {
		return model.ResolvedMediaItem{}, ErrEmptyFile
	}
	if params.Size > m.cfg.MaxFileSize {
		return model.ResolvedMediaItem{}, fmt.Errorf("%w: %d байт, максимум %d", ErrFileTooLarge, params.Size, m.cfg.MaxFileSize)
	}

	br := bufio.NewReaderSize(params.Reader, 512)
	contentType := detectContentType(params.ContentType, params.Filename, br)
	kind, err := model.KindFromContentType(contentType)
	if err != nil {
		return model.ResolvedMediaItem{}, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	id := uuid.New().String()
	entry, err := m.journal.Begin(wal.OpMediaAdd, id)
	if err != nil {
		return model.ResolvedMediaItem{}, fmt.Errorf("ошибка создания транзакции: %w", err)
	}

	blobWritten := false
	rollback := func() {
		if blobWritten {
			if err := m.blobs.Delete(context.WithoutCancel(ctx), id); err != nil {
				m.logger.Error("Ошибка удаления содержимого при откате",
					slog.String("media_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := m.journal.Abort(entry.TxID); err != nil {
			m.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", entry.TxID),
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := m.blobs.Put(ctx, id, io.LimitReader(br, m.cfg.MaxFileSize+1), contentType)
	if err != nil {
		rollback()
		return model.ResolvedMediaItem{}, fmt.Errorf("ошибка записи содержимого: %w", err)
	}
	blobWritten = true

	if res.Size > m.cfg.MaxFileSize {
		rollback()
		return model.ResolvedMediaItem{}, fmt.Errorf("%w: максимум %d байт", ErrFileTooLarge, m.cfg.MaxFileSize)
	}
	if res.Size == 0 {
		rollback()
		return model.ResolvedMediaItem{}, ErrEmptyFile
	}

	ts := params.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	filename := ""
	if params.Filename != "" {
		filename = filepath.Base(params.Filename)
	}
	rec := model.MediaRecord{
		ID:               id,
		Timestamp:        ts.UTC(),
		Caption:          params.Caption,
		Kind:             kind,
		ContentType:      contentType,
		OriginalFilename: filename,
		Size:             res.Size,
		Checksum:         res.Checksum,
	}

	m.mu.RLock()
	next := append(slices.Clone(m.records), rec)
	m.mu.RUnlock()

	if err := m.meta.SaveRecords(ctx, next); err != nil {
		rollback()
		return model.ResolvedMediaItem{}, fmt.Errorf("ошибка записи метаданных: %w", err)
	}

	if err := m.journal.Commit(entry.TxID); err != nil {
		m.logger.Warn("Ошибка коммита WAL", slog.String("tx_id", entry.TxID), slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.records = next
	h, err := m.handles.Acquire(id)
	m.updateGaugesLocked()
	m.mu.Unlock()
	if err != nil {
		return model.ResolvedMediaItem{}, fmt.Errorf("ошибка выдачи ссылки: %w", err)
	}

	m.logger.Info("Медиа добавлено",
		slog.String("media_id", id),
		slog.String("kind", string(kind)),
		slog.Int64("size", res.Size),
	)
	return model.ResolvedMediaItem{MediaRecord: rec, URL: h.URL}, nil
}

// Delete удаляет элементы: содержимое каждого id независимо, затем одна
// запись метаданных для id, содержимое которых удалено. Ссылки удалённых
// элементов освобождаются ровно один раз, элементы исключаются из выбора,
// просмотр удалённого элемента закрывается.
func (m *MediaManager) Delete(ctx context.Context, ids []string) *DeleteResult {
	start := time.Now()
	defer func() { mediaOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds()) }()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	result := &DeleteResult{
		Deleted:       []string{},
		AlreadyAbsent: []string{},
		Failed:        map[string]error{},
	}

	m.mu.RLock()
	current := m.records
	known := make(map[string]bool, len(current))
	for _, rec := range current {
		known[rec.ID] = true
	}
	m.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var targets []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if known[id] {
			targets = append(targets, id)
		} else {
			result.AlreadyAbsent = append(result.AlreadyAbsent, id)
		}
	}

	if len(targets) == 0 {
		m.commitDelete(nil, result.AlreadyAbsent, nil)
		mediaOperationsTotal.WithLabelValues("delete", "ok").Inc()
		return result
	}

	entry, err := m.journal.Begin(wal.OpMediaDelete, targets...)
	if err != nil {
		for _, id := range targets {
			result.Failed[id] = fmt.Errorf("ошибка создания транзакции: %w", err)
		}
		m.commitDelete(nil, result.AlreadyAbsent, nil)
		mediaOperationsTotal.WithLabelValues("delete", "error").Inc()
		return result
	}

	gone := make(map[string]bool, len(targets))
	var goneIDs []string
	for _, id := range targets {
		if err := m.blobs.Delete(ctx, id); err != nil {
			result.Failed[id] = fmt.Errorf("ошибка удаления содержимого: %w", err)
			continue
		}
		gone[id] = true
		goneIDs = append(goneIDs, id)
	}

	if len(goneIDs) == 0 {
		_ = m.journal.Abort(entry.TxID)
		m.commitDelete(nil, result.AlreadyAbsent, nil)
		mediaOperationsTotal.WithLabelValues("delete", "error").Inc()
		return result
	}

	next := slices.DeleteFunc(slices.Clone(current), func(rec model.MediaRecord) bool { return gone[rec.ID] })
	if err := m.meta.SaveRecords(ctx, next); err != nil {
		// Содержимое уже удалено: элементы исключаются из представления,
		// запись WAL остаётся pending и будет завершена при следующей загрузке.
		for _, id := range goneIDs {
			result.Failed[id] = fmt.Errorf("ошибка записи метаданных: %w", err)
		}
		m.commitDelete(nil, result.AlreadyAbsent, goneIDs)
		mediaOperationsTotal.WithLabelValues("delete", "error").Inc()
		m.logger.Error("Ошибка записи метаданных при удалении",
			slog.Int("count", len(goneIDs)),
			slog.String("error", err.Error()),
		)
		return result
	}

	if err := m.journal.Commit(entry.TxID); err != nil {
		m.logger.Warn("Ошибка коммита WAL", slog.String("tx_id", entry.TxID), slog.String("error", err.Error()))
	}

	result.Deleted = goneIDs
	m.commitDelete(next, result.AlreadyAbsent, goneIDs)

	status := "ok"
	if len(result.Failed) > 0 {
		status = "partial"
	}
	mediaOperationsTotal.WithLabelValues("delete", status).Inc()
	m.logger.Info("Медиа удалено",
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("already_absent", len(result.AlreadyAbsent)),
		slog.Int("failed", len(result.Failed)),
	)
	return result
}

// commitDelete применяет удаление к состоянию в памяти.
// next == nil оставляет коллекцию записей без изменений, а gone помечает
// как записи без содержимого.
func (m *MediaManager) commitDelete(next []model.MediaRecord, absent, gone []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next != nil {
		m.records = next
		for _, id := range gone {
			delete(m.missing, id)
		}
	} else {
		for _, id := range gone {
			m.missing[id] = struct{}{}
		}
	}

	for _, id := range gone {
		m.handles.ReleaseMedia(id)
	}
	m.sel.Remove(absent...)
	m.sel.Remove(gone...)
	if slices.Contains(gone, m.viewerID) || slices.Contains(absent, m.viewerID) {
		m.viewerID = ""
	}
	if id, ok := m.press.Pending(); ok && slices.Contains(gone, id) {
		m.press.Leave()
	}
	m.updateGaugesLocked()
}

// SetFilter сохраняет критерии фильтра текущей сессии.
func (m *MediaManager) SetFilter(criteria model.FilterCriteria) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = criteria
}

// Filter возвращает текущие критерии фильтра.
func (m *MediaManager) Filter() model.FilterCriteria {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// Location возвращает часовой пояс фильтра по датам.
func (m *MediaManager) Location() *time.Location {
	return m.cfg.Location
}

// Query возвращает элементы, удовлетворяющие критериям, по убыванию времени.
func (m *MediaManager) Query(criteria model.FilterCriteria) []model.ResolvedMediaItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.resolveAllLocked(timeline.Query(m.resolvedLocked(), criteria))
}

// Items возвращает все элементы представления по убыванию времени.
func (m *MediaManager) Items() []model.ResolvedMediaItem {
	return m.Query(model.FilterCriteria{})
}

// View строит представление по текущему фильтру с пагинацией.
// limit 0 — все элементы. Для dated-grid элементы страницы группируются по дням.
func (m *MediaManager) View(limit, offset int) *View {
	m.mu.RLock()
	filter := m.filter
	settings := m.settings
	viewerID := m.viewerID
	page := timeline.Paginate(timeline.Query(m.resolvedLocked(), filter), limit, offset)
	items := m.resolveAllLocked(page.Items)
	m.mu.RUnlock()

	v := &View{
		Items:     items,
		Total:     page.Total,
		Limit:     limit,
		Offset:    offset,
		HasMore:   page.HasMore,
		Filter:    filter,
		Settings:  settings,
		Selection: m.sel.Snapshot(),
		ViewerID:  viewerID,
	}

	if settings.Layout == model.LayoutDatedGrid {
		byID := make(map[string]model.ResolvedMediaItem, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		for _, g := range timeline.GroupByDay(page.Items, m.cfg.Location) {
			group := ViewGroup{Day: g.Day, Items: make([]model.ResolvedMediaItem, 0, len(g.Items))}
			for _, rec := range g.Items {
				group.Items = append(group.Items, byID[rec.ID])
			}
			v.Groups = append(v.Groups, group)
		}
	}
	return v
}

// Resolve возвращает элемент со ссылкой на содержимое.
func (m *MediaManager) Resolve(id string) (model.ResolvedMediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.recordLocked(id)
	if !ok || !m.isResolvedLocked(id) {
		return model.ResolvedMediaItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h, err := m.handles.Acquire(id)
	if err != nil {
		return model.ResolvedMediaItem{}, fmt.Errorf("ошибка выдачи ссылки: %w", err)
	}
	return model.ResolvedMediaItem{MediaRecord: rec, URL: h.URL}, nil
}

// OpenByHandle открывает содержимое по токену ссылки.
func (m *MediaManager) OpenByHandle(ctx context.Context, token string) (*BlobTarget, error) {
	id, err := m.handles.Lookup(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	m.mu.RLock()
	rec, ok := m.recordLocked(id)
	resolved := ok && m.isResolvedLocked(id)
	m.mu.RUnlock()
	if !resolved {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if m.cfg.RedirectPresigned {
		if p, ok := presignerOf(m.blobs); ok {
			url, err := p.PresignGet(ctx, id, m.cfg.PresignTTL)
			if err == nil {
				return &BlobTarget{Record: rec, RedirectURL: url}, nil
			}
			m.logger.Warn("Ошибка подписи прямой ссылки, отдаём содержимое напрямую",
				slog.String("media_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	obj, err := m.blobs.Open(ctx, id)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	return &BlobTarget{Record: rec, Object: obj}, nil
}

// Settings возвращает текущие настройки.
func (m *MediaManager) Settings() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// CycleLayout переключает раскладку на следующую и сохраняет её.
func (m *MediaManager) CycleLayout(ctx context.Context) (model.Settings, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	next := m.Settings()
	next.Layout = next.Layout.Next()
	if err := m.meta.SaveLayout(ctx, next.Layout); err != nil {
		return model.Settings{}, fmt.Errorf("ошибка сохранения раскладки: %w", err)
	}

	m.mu.Lock()
	m.settings.Layout = next.Layout
	s := m.settings
	m.mu.Unlock()
	return s, nil
}

// ToggleTheme переключает тему и сохраняет её.
func (m *MediaManager) ToggleTheme(ctx context.Context) (model.Settings, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	next := m.Settings()
	next.Theme = next.Theme.Toggle()
	if err := m.meta.SaveTheme(ctx, next.Theme); err != nil {
		return model.Settings{}, fmt.Errorf("ошибка сохранения темы: %w", err)
	}

	m.mu.Lock()
	m.settings.Theme = next.Theme
	s := m.settings
	m.mu.Unlock()
	return s, nil
}

// --- Selection ---

// EnterSelection начинает выбор с элемента id.
func (m *MediaManager) EnterSelection(id string) (selection.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.checkSelectableLocked(id) {
		return m.sel.Snapshot(), fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := m.sel.Enter(id); err != nil {
		return m.sel.Snapshot(), err
	}
	return m.sel.Snapshot(), nil
}

// ToggleSelection переключает элемент id в наборе выбора.
func (m *MediaManager) ToggleSelection(id string) (selection.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.checkSelectableLocked(id) {
		return m.sel.Snapshot(), fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := m.sel.Toggle(id); err != nil {
		return m.sel.Snapshot(), err
	}
	return m.sel.Snapshot(), nil
}

// CancelSelection завершает выбор.
func (m *MediaManager) CancelSelection() selection.Snapshot {
	m.sel.Cancel()
	return m.sel.Snapshot()
}

// Selection возвращает снимок состояния выбора.
func (m *MediaManager) Selection() selection.Snapshot {
	return m.sel.Snapshot()
}

// ConfirmSelectionDelete удаляет выбранные элементы. После полного успеха
// выбор завершается, неудачные id остаются выбранными для повтора.
func (m *MediaManager) ConfirmSelectionDelete(ctx context.Context) (*DeleteResult, error) {
	ids := m.sel.Selected()
	if len(ids) == 0 {
		return nil, &selection.TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: "выбор не активен",
		}
	}
	return m.Delete(ctx, ids), nil
}

// --- Pointer (long-press) ---

// PointerDown начинает удержание элемента id.
func (m *MediaManager) PointerDown(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.checkSelectableLocked(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.press.Press(id)
	return nil
}

// PointerUp завершает удержание. Возвращает true, если сработал
// long-press и последующий click нужно подавить.
func (m *MediaManager) PointerUp() bool {
	return m.press.Release()
}

// PointerLeave отменяет удержание.
func (m *MediaManager) PointerLeave() {
	m.press.Leave()
}

// PointerMove сообщает о сдвиге указателя от точки нажатия.
func (m *MediaManager) PointerMove(dx, dy float64) bool {
	return m.press.Move(dx, dy)
}

// LongPressDuration возвращает длительность удержания.
func (m *MediaManager) LongPressDuration() time.Duration {
	return m.press.Duration()
}

func (m *MediaManager) onLongPress(id string) {
	if _, err := m.EnterSelection(id); err != nil {
		m.logger.Debug("Long-press не начал выбор",
			slog.String("media_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Debug("Long-press: начат выбор", slog.String("media_id", id))
}

// --- Viewer ---

// OpenViewer открывает просмотр элемента текущей последовательности.
func (m *MediaManager) OpenViewer(id string) (model.ResolvedMediaItem, error) {
	m.mu.Lock()
	seq := m.sequenceLocked()
	if !slices.Contains(seq, id) {
		m.mu.Unlock()
		return model.ResolvedMediaItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.viewerID = id
	m.mu.Unlock()

	return m.Resolve(id)
}

// ViewerNext переходит к следующему элементу. На последнем элементе
// позиция не меняется.
func (m *MediaManager) ViewerNext() (model.ResolvedMediaItem, error) {
	return m.viewerStep(1)
}

// ViewerPrev переходит к предыдущему элементу. На первом элементе
// позиция не меняется.
func (m *MediaManager) ViewerPrev() (model.ResolvedMediaItem, error) {
	return m.viewerStep(-1)
}

// CloseViewer закрывает просмотр.
func (m *MediaManager) CloseViewer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewerID = ""
}

// ViewerCurrent возвращает id просматриваемого элемента.
func (m *MediaManager) ViewerCurrent() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewerID, m.viewerID != ""
}

func (m *MediaManager) viewerStep(step int) (model.ResolvedMediaItem, error) {
	m.mu.Lock()
	if m.viewerID == "" {
		m.mu.Unlock()
		return model.ResolvedMediaItem{}, ErrViewerClosed
	}
	next, ok := timeline.Navigate(m.sequenceLocked(), m.viewerID, step)
	if !ok {
		// Элемент выпал из отфильтрованной последовательности.
		m.viewerID = ""
		m.mu.Unlock()
		return model.ResolvedMediaItem{}, ErrViewerClosed
	}
	m.viewerID = next
	m.mu.Unlock()

	return m.Resolve(next)
}

// Close освобождает все выданные ссылки и отменяет удержание.
func (m *MediaManager) Close() {
	m.press.Leave()
	n := m.handles.ReleaseAll()
	m.logger.Info("Ссылки освобождены", slog.Int("count", n))
}

// --- Внутренние помощники (вызываются под mu) ---

func (m *MediaManager) checkSelectableLocked(id string) bool {
	if !m.isResolvedLocked(id) {
		return false
	}
	if m.beforeSelect != nil {
		m.beforeSelect(id)
	}
	return true
}

func (m *MediaManager) isResolvedLocked(id string) bool {
	if _, gone := m.missing[id]; gone {
		return false
	}
	_, ok := m.recordLocked(id)
	return ok
}

func (m *MediaManager) recordLocked(id string) (model.MediaRecord, bool) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return model.MediaRecord{}, false
}

// resolvedLocked возвращает копию записей с содержимым в порядке добавления.
func (m *MediaManager) resolvedLocked() []model.MediaRecord {
	out := make([]model.MediaRecord, 0, len(m.records))
	for _, rec := range m.records {
		if _, gone := m.missing[rec.ID]; !gone {
			out = append(out, rec)
		}
	}
	return out
}

func (m *MediaManager) sequenceLocked() []string {
	return timeline.IDs(timeline.Query(m.resolvedLocked(), m.filter))
}

func (m *MediaManager) updateGaugesLocked() {
	counts := map[model.Kind]int{model.KindImage: 0, model.KindVideo: 0}
	for _, rec := range m.resolvedLocked() {
		counts[rec.Kind]++
	}
	for kind, n := range counts {
		mediaItems.WithLabelValues(string(kind)).Set(float64(n))
	}
}

// resolveAllLocked присоединяет ссылки к записям. Записи, для которых ссылку
// выдать не удалось, пропускаются.
func (m *MediaManager) resolveAllLocked(records []model.MediaRecord) []model.ResolvedMediaItem {
	items := make([]model.ResolvedMediaItem, 0, len(records))
	for _, rec := range records {
		h, err := m.handles.Acquire(rec.ID)
		if err != nil {
			m.logger.Warn("Ошибка выдачи ссылки", slog.String("media_id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		items = append(items, model.ResolvedMediaItem{MediaRecord: rec, URL: h.URL})
	}
	return items
}

// presignerOf находит Presigner под кэширующей обёрткой.
func presignerOf(s blobstore.Store) (blobstore.Presigner, bool) {
	p, ok := unwrapStore(s).(blobstore.Presigner)
	return p, ok
}

// detectContentType определяет MIME-тип: заявленный, по расширению,
// по первым байтам содержимого.
func detectContentType(declared, filename string, br *bufio.Reader) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ext := filepath.Ext(filename); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	head, _ := br.Peek(512)
	return http.DetectContentType(head)
}
