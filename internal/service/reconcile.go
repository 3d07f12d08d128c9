// reconcile.go — фоновая сверка корня хранилища с реестром метаданных.
//
// Обнаруживает проблемы:
//   - orphaned_file: файл под корнем без записи в реестре
//   - missing_file: запись в реестре, но файла нет на диске
//   - size_mismatch: размер на диске не совпадает с реестром
//   - checksum_mismatch: SHA-256 не совпадает (только при verifyChecksums)
//
// Сверка только сообщает о проблемах и ничего не исправляет.
// Запускается как горутина с периодическим тикером (AR_RECONCILE_INTERVAL)
// и по запросу через API.
package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_reconcile_runs_total",
		Help: "Общее количество запусков сверки хранилища",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archive_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900},
	})
)

// reconcilePageSize — размер страницы при обходе реестра.
const reconcilePageSize = 500

// IssueType — тип проблемы, найденной сверкой.
type IssueType string

const (
	IssueOrphanedFile     IssueType = "orphaned_file"
	IssueMissingFile      IssueType = "missing_file"
	IssueSizeMismatch     IssueType = "size_mismatch"
	IssueChecksumMismatch IssueType = "checksum_mismatch"
)

// ReconcileIssue — одна найденная проблема.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	FileID      string    `json:"file_id,omitempty"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
}

// ReconcileSummary — количество проблем по типам.
type ReconcileSummary struct {
	OK                 int `json:"ok"`
	OrphanedFiles      int `json:"orphaned_files"`
	MissingFiles       int `json:"missing_files"`
	SizeMismatches     int `json:"size_mismatches"`
	ChecksumMismatches int `json:"checksum_mismatches"`
}

// ReconcileResult — результат одного прохода сверки.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	root            string
	fs              fsgateway.Gateway
	registry        repository.ManagedFileRepository
	store           *contentstore.Store
	interval        time.Duration
	verifyChecksums bool
	logger          *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	root string,
	gw fsgateway.Gateway,
	registry repository.ManagedFileRepository,
	store *contentstore.Store,
	interval time.Duration,
	verifyChecksums bool,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		root:            root,
		fs:              gw,
		registry:        registry,
		store:           store,
		interval:        interval,
		verifyChecksums: verifyChecksums,
		logger:          logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка хранилища запущена",
		slog.String("interval", rs.interval.String()),
		slog.Bool("verify_checksums", rs.verifyChecksums),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка хранилища остановлена")
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
			if _, _, err := rs.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rs.logger.Error("Ошибка сверки хранилища",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если сверка уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Сверка хранилища начата")

	issues, checked, err := rs.reconcile(ctx)
	if err != nil {
		return nil, false, err
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	summary := ReconcileSummary{}
	problemFiles := 0
	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanedFile:
			summary.OrphanedFiles++
		case IssueMissingFile:
			summary.MissingFiles++
			problemFiles++
		case IssueSizeMismatch:
			summary.SizeMismatches++
			problemFiles++
		case IssueChecksumMismatch:
			summary.ChecksumMismatches++
			problemFiles++
		}
	}
	summary.OK = checked - problemFiles

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Сверка хранилища завершена",
		slog.Int("files_checked", checked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", summary.OK),
		slog.Duration("duration", duration),
	)

	if issues == nil {
		issues = []ReconcileIssue{}
	}
	return &ReconcileResult{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: checked,
		Issues:       issues,
		Summary:      summary,
	}, false, nil
}

// reconcile сопоставляет записи реестра с файлами под корнем.
// Возвращает проблемы и число проверенных записей реестра.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int, error) {
	onDisk := make(map[string]*fsgateway.FileInfo)
	err := rs.fs.Walk(rs.root, func(path string, info *fsgateway.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		onDisk[path] = info
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	var issues []ReconcileIssue
	checked := 0

	for offset := 0; ; offset += reconcilePageSize {
		page, err := rs.registry.List(ctx, reconcilePageSize, offset)
		if err != nil {
			return nil, 0, err
		}

		for _, f := range page {
			checked++
			info, ok := onDisk[f.PhysicalPath]
			delete(onDisk, f.PhysicalPath)

			if !ok {
				// Файл вне корня не попадает в обход, проверяем его напрямую
				st, statErr := rs.fs.Stat(f.PhysicalPath)
				if statErr != nil {
					if !errors.Is(statErr, fs.ErrNotExist) {
						rs.logger.Warn("Ошибка чтения файла при сверке",
							slog.String("path", f.PhysicalPath),
							slog.String("error", statErr.Error()),
						)
						continue
					}
					issues = append(issues, ReconcileIssue{
						Type:        IssueMissingFile,
						FileID:      f.ID,
						Path:        f.PhysicalPath,
						Description: "Запись в реестре без файла на диске",
					})
					continue
				}
				info = st
			}

			if issue := rs.verify(f, info); issue != nil {
				issues = append(issues, *issue)
			}
		}

		if len(page) < reconcilePageSize {
			break
		}
	}

	for path := range onDisk {
		issues = append(issues, ReconcileIssue{
			Type:        IssueOrphanedFile,
			Path:        path,
			Description: "Файл под корнем хранилища без записи в реестре",
		})
	}
	return issues, checked, nil
}

// verify сверяет размер и, при включённой проверке, хэш содержимого.
func (rs *ReconcileService) verify(f *model.ManagedFile, info *fsgateway.FileInfo) *ReconcileIssue {
	if info.Size != f.FileSizeBytes {
		return &ReconcileIssue{
			Type:        IssueSizeMismatch,
			FileID:      f.ID,
			Path:        f.PhysicalPath,
			Description: "Размер файла на диске не совпадает с реестром",
		}
	}
	if !rs.verifyChecksums || f.FileHash == nil {
		return nil
	}

	report, err := rs.store.CheckIntegrity(f)
	if err != nil {
		rs.logger.Warn("Ошибка вычисления хэша при сверке",
			slog.String("path", f.PhysicalPath),
			slog.String("error", err.Error()),
		)
		return nil
	}
	switch report.Status {
	case model.IntegrityModified:
		return &ReconcileIssue{
			Type:        IssueChecksumMismatch,
			FileID:      f.ID,
			Path:        f.PhysicalPath,
			Description: "SHA-256 файла на диске не совпадает с реестром",
		}
	case model.IntegrityMissing:
		return &ReconcileIssue{
			Type:        IssueMissingFile,
			FileID:      f.ID,
			Path:        f.PhysicalPath,
			Description: "Файл исчез во время сверки",
		}
	}
	return nil
}
