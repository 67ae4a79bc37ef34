// reconcile.go — фоновая сверка метаданных с хранилищем содержимого.
//
// Обнаруживает проблемы:
//   - orphaned_blob: содержимое без записи метаданных (удаляется)
//   - missing_blob: запись без содержимого (исключается из представления)
//   - size_mismatch: размер содержимого не совпадает с записью
//   - checksum_mismatch: контрольная сумма не совпадает с записью
//
// Запускается как горутина с периодическим тикером (PT_RECONCILE_INTERVAL)
// и по запросу через POST /api/v1/maintenance/reconcile.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/phototimeline/internal/domain/model"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pt_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pt_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип проблемы сверки.
type IssueType string

const (
	IssueOrphanedBlob     IssueType = "orphaned_blob"
	IssueMissingBlob      IssueType = "missing_blob"
	IssueSizeMismatch     IssueType = "size_mismatch"
	IssueChecksumMismatch IssueType = "checksum_mismatch"
)

// ReconcileIssue — обнаруженная проблема.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	MediaID     string    `json:"media_id"`
	Description string    `json:"description"`
}

// ReconcileSummary — сводка сверки.
type ReconcileSummary struct {
	OK                 int `json:"ok"`
	OrphanedBlobs      int `json:"orphaned_blobs"`
	MissingBlobs       int `json:"missing_blobs"`
	SizeMismatches     int `json:"size_mismatches"`
	ChecksumMismatches int `json:"checksum_mismatches"`
	Restored           int `json:"restored"`
}

// ReconcileResult — результат одного цикла сверки.
type ReconcileResult struct {
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	RecordsChecked int              `json:"records_checked"`
	Issues         []ReconcileIssue `json:"issues"`
	Summary        ReconcileSummary `json:"summary"`
}

// checksummer — хранилище, умеющее пересчитать SHA-256 содержимого.
type checksummer interface {
	ComputeChecksum(id string) (string, error)
}

// ReconcileService — сервис фоновой сверки.
type ReconcileService struct {
	media    *MediaManager
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(media *MediaManager, interval time.Duration, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		media:    media,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &ReconcileResult{StartedAt: time.Now().UTC()}
	rs.logger.Info("Сверка начата")

	m := rs.media
	m.opMu.Lock()
	m.mu.RLock()
	records := make([]model.MediaRecord, len(m.records))
	copy(records, m.records)
	m.mu.RUnlock()

	issues, missing, present := rs.reconcile(ctx, records)
	m.applyReconcile(missing, present)
	m.opMu.Unlock()

	result.CompletedAt = time.Now().UTC()
	result.RecordsChecked = len(records)
	result.Issues = issues

	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanedBlob:
			result.Summary.OrphanedBlobs++
		case IssueMissingBlob:
			result.Summary.MissingBlobs++
		case IssueSizeMismatch:
			result.Summary.SizeMismatches++
		case IssueChecksumMismatch:
			result.Summary.ChecksumMismatches++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	result.Summary.OK = len(records) - result.Summary.MissingBlobs - result.Summary.SizeMismatches - result.Summary.ChecksumMismatches
	if result.Summary.OK < 0 {
		result.Summary.OK = 0
	}
	result.Summary.Restored = len(present)

	duration := result.CompletedAt.Sub(result.StartedAt)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("records_checked", result.RecordsChecked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", result.Summary.OK),
		slog.Duration("duration", duration),
	)
	return result, false
}

// reconcile сравнивает записи с содержимым. Возвращает проблемы, id записей
// без содержимого и id ранее отсутствовавших записей, содержимое которых
// снова доступно.
func (rs *ReconcileService) reconcile(ctx context.Context, records []model.MediaRecord) ([]ReconcileIssue, []string, []string) {
	issues := []ReconcileIssue{}
	m := rs.media

	raw := unwrapStore(m.blobs)
	blobIDs, err := raw.List(ctx)
	if err != nil {
		rs.logger.Error("Ошибка получения списка содержимого",
			slog.String("error", err.Error()),
		)
		return issues, nil, nil
	}
	sort.Strings(blobIDs)

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = true
	}

	// 1. Содержимое без записи: удаляем
	for _, id := range blobIDs {
		if known[id] {
			continue
		}
		issues = append(issues, ReconcileIssue{
			Type:        IssueOrphanedBlob,
			MediaID:     id,
			Description: "Содержимое без записи метаданных удалено",
		})
		if err := m.blobs.Delete(ctx, id); err != nil {
			rs.logger.Warn("Ошибка удаления осиротевшего содержимого",
				slog.String("media_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m.mu.RLock()
	wasMissing := make(map[string]bool, len(m.missing))
	for id := range m.missing {
		wasMissing[id] = true
	}
	m.mu.RUnlock()

	cs, canChecksum := raw.(checksummer)

	// 2. Записи: наличие, размер, контрольная сумма
	var missing, present []string
	for _, rec := range records {
		info, err := raw.Stat(ctx, rec.ID)
		if err != nil {
			if !errors.Is(err, blobstore.ErrNotFound) {
				rs.logger.Warn("Ошибка проверки содержимого",
					slog.String("media_id", rec.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			issues = append(issues, ReconcileIssue{
				Type:        IssueMissingBlob,
				MediaID:     rec.ID,
				Description: "Запись без содержимого исключена из представления",
			})
			missing = append(missing, rec.ID)
			continue
		}
		if wasMissing[rec.ID] {
			present = append(present, rec.ID)
		}

		if rec.Size > 0 && info.Size != rec.Size {
			issues = append(issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				MediaID:     rec.ID,
				Description: "Размер содержимого не совпадает с записью",
			})
			continue
		}

		if canChecksum && rec.Checksum != "" {
			sum, err := cs.ComputeChecksum(rec.ID)
			if err != nil {
				rs.logger.Warn("Ошибка вычисления checksum",
					slog.String("media_id", rec.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if sum != rec.Checksum {
				issues = append(issues, ReconcileIssue{
					Type:        IssueChecksumMismatch,
					MediaID:     rec.ID,
					Description: "Checksum содержимого не совпадает с записью",
				})
			}
		}
	}

	return issues, missing, present
}

// applyReconcile обновляет набор записей без содержимого.
// Вызывается под opMu.
func (m *MediaManager) applyReconcile(missing, present []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range missing {
		if _, already := m.missing[id]; already {
			continue
		}
		m.missing[id] = struct{}{}
		m.handles.ReleaseMedia(id)
		m.sel.Remove(id)
		if m.viewerID == id {
			m.viewerID = ""
		}
	}
	for _, id := range present {
		delete(m.missing, id)
	}
	m.updateGaugesLocked()
}

// unwrapStore снимает кэширующие обёртки.
func unwrapStore(s blobstore.Store) blobstore.Store {
	for {
		u, ok := s.(interface{ Unwrap() blobstore.Store })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}
