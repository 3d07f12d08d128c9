// recovery.go — закрытие незавершённых транзакций журнала при старте.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

// recoveredReason — причина отмены транзакций, закрытых при старте.
const recoveredReason = "recovered"

// RecoveryReport — итог восстановления после аварийного останова.
type RecoveryReport struct {
	// Pending — количество найденных незавершённых транзакций
	Pending int `json:"pending"`
	// TempFilesRemoved — удалённые временные файлы импорта
	TempFilesRemoved []string `json:"temp_files_removed"`
	// UnregisteredFiles — размещённые на диске, но не зарегистрированные файлы.
	// Они не удаляются и будут показаны сверкой как orphaned_file.
	UnregisteredFiles []string `json:"unregistered_files"`
	// Committed — транзакции, у которых запись в реестре успела появиться
	Committed []string `json:"committed"`
	// InterruptedRenames — незавершённые переносы папок (старый путь)
	InterruptedRenames []string `json:"interrupted_renames"`
	// Cleaned — удалённые завершённые записи журнала
	Cleaned int `json:"cleaned"`
}

// RecoveryService закрывает pending-записи журнала.
type RecoveryService struct {
	journal   *wal.WAL
	fs        fsgateway.Gateway
	registry  repository.ManagedFileRepository
	retention time.Duration
	logger    *slog.Logger
}

// NewRecoveryService создаёт сервис восстановления. Завершённые записи
// журнала старше retention удаляются после восстановления.
func NewRecoveryService(
	journal *wal.WAL,
	gw fsgateway.Gateway,
	registry repository.ManagedFileRepository,
	retention time.Duration,
	logger *slog.Logger,
) *RecoveryService {
	return &RecoveryService{
		journal:   journal,
		fs:        gw,
		registry:  registry,
		retention: retention,
		logger:    logger.With(slog.String("component", "recovery")),
	}
}

// Recover обрабатывает все pending-записи журнала. Частично выполненные
// операции не откатываются: временные файлы удаляются, остальное
// фиксируется в отчёте и логе.
func (rs *RecoveryService) Recover(ctx context.Context) (*RecoveryReport, error) {
	pending, err := rs.journal.RecoverPending()
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{
		Pending:            len(pending),
		TempFilesRemoved:   []string{},
		UnregisteredFiles:  []string{},
		Committed:          []string{},
		InterruptedRenames: []string{},
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch entry.Operation {
		case wal.OpImport:
			rs.recoverImport(ctx, entry, report)
		case wal.OpFolderRename:
			rs.recoverRename(entry, report)
		default:
			rs.logger.Warn("Неизвестная операция в журнале",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
			rs.close(entry.TransactionID)
		}
	}

	if rs.retention > 0 {
		cleaned, err := rs.journal.CleanCompleted(rs.retention)
		if err != nil {
			rs.logger.Warn("Ошибка очистки журнала",
				slog.String("error", err.Error()),
			)
		}
		report.Cleaned = cleaned
	}

	if report.Pending > 0 {
		rs.logger.Warn("Восстановление после аварийного останова завершено",
			slog.Int("pending", report.Pending),
			slog.Int("temp_removed", len(report.TempFilesRemoved)),
			slog.Int("unregistered", len(report.UnregisteredFiles)),
			slog.Int("committed", len(report.Committed)),
			slog.Int("renames", len(report.InterruptedRenames)),
		)
	} else {
		rs.logger.Info("Незавершённых транзакций нет",
			slog.Int("cleaned", report.Cleaned),
		)
	}
	return report, nil
}

func (rs *RecoveryService) recoverImport(ctx context.Context, entry *wal.Entry, report *RecoveryReport) {
	if entry.TempPath != "" && rs.fs.Exists(entry.TempPath) {
		if err := rs.fs.Delete(entry.TempPath); err != nil {
			rs.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", entry.TempPath),
				slog.String("error", err.Error()),
			)
		} else {
			report.TempFilesRemoved = append(report.TempFilesRemoved, entry.TempPath)
		}
	}

	if entry.Target == "" || !rs.fs.Exists(entry.Target) {
		rs.close(entry.TransactionID)
		return
	}

	f, err := rs.registry.FindByPath(ctx, entry.Target)
	switch {
	case err == nil:
		// Файл зарегистрирован; связывание с владельцем могло не завершиться
		rs.logger.Warn("Импорт прерван после регистрации файла",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", f.ID),
			slog.String("path", entry.Target),
		)
		if err := rs.journal.Commit(entry.TransactionID, f.ID); err != nil {
			rs.logger.Warn("Не удалось завершить транзакцию журнала",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
		report.Committed = append(report.Committed, entry.TransactionID)
		return
	case errors.Is(err, repository.ErrNotFound):
		rs.logger.Warn("Файл размещён, но не зарегистрирован",
			slog.String("tx_id", entry.TransactionID),
			slog.String("path", entry.Target),
			slog.String("source", entry.Source),
		)
		report.UnregisteredFiles = append(report.UnregisteredFiles, entry.Target)
	default:
		rs.logger.Warn("Ошибка проверки файла в реестре",
			slog.String("path", entry.Target),
			slog.String("error", err.Error()),
		)
	}
	rs.close(entry.TransactionID)
}

func (rs *RecoveryService) recoverRename(entry *wal.Entry, report *RecoveryReport) {
	rs.logger.Warn("Перенос папки прерван, требуется сверка",
		slog.String("tx_id", entry.TransactionID),
		slog.String("old_path", entry.Source),
		slog.String("new_path", entry.Target),
		slog.Bool("old_exists", rs.fs.Exists(entry.Source)),
		slog.Bool("new_exists", rs.fs.Exists(entry.Target)),
	)
	report.InterruptedRenames = append(report.InterruptedRenames, entry.Source)
	rs.close(entry.TransactionID)
}

func (rs *RecoveryService) close(txID string) {
	if err := rs.journal.Rollback(txID, recoveredReason); err != nil {
		rs.logger.Warn("Не удалось закрыть транзакцию журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
