package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending — транзакция уже завершена.
var ErrNotPending = errors.New("транзакция журнала не в статусе pending")

// WAL — файловый журнал операций.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал в dir. Директория создаётся при отсутствии
// и проверяется на доступность записи.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Start открывает транзакцию со статусом pending.
func (w *WAL) Start(op OperationType, source, target string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Source:        source,
		Target:        target,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	w.logger.Debug("Транзакция журнала начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("target", target),
	)
	return entry, nil
}

// RecordTemp запоминает путь временного файла pending-транзакции.
func (w *WAL) RecordTemp(txID, tempPath string) error {
	return w.update(txID, func(e *Entry) {
		e.TempPath = tempPath
	})
}

// RecordTarget фиксирует фактический путь размещённого файла. Он может
// отличаться от планируемого, если имя заняли во время импорта.
func (w *WAL) RecordTarget(txID, target string) error {
	return w.update(txID, func(e *Entry) {
		e.Target = target
	})
}

// Commit завершает транзакцию; fileID — итоговый ManagedFile (может быть пустым).
func (w *WAL) Commit(txID, fileID string) error {
	err := w.update(txID, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusCommitted
		e.ManagedFileID = fileID
		e.CompletedAt = &now
	})
	if err == nil {
		w.logger.Debug("Транзакция журнала завершена",
			slog.String("tx_id", txID),
			slog.String("file_id", fileID),
		)
	}
	return err
}

// Rollback отменяет транзакцию с указанием причины.
// Изменения на диске журнал не откатывает.
func (w *WAL) Rollback(txID, reason string) error {
	err := w.update(txID, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusRolledBack
		e.Reason = reason
		e.CompletedAt = &now
	})
	if err == nil {
		w.logger.Debug("Транзакция журнала отменена",
			slog.String("tx_id", txID),
			slog.String("reason", reason),
		)
	}
	return err
}

// update применяет fn к pending-записи и атомарно сохраняет её.
func (w *WAL) update(txID string, fn func(e *Entry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("%w: %s имеет статус %s", ErrNotPending, txID, entry.Status)
	}

	fn(entry)

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}
	return nil
}

// RecoverPending возвращает незавершённые транзакции, упорядоченные по времени начала.
// Нечитаемые записи пропускаются с предупреждением.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.scan()
	if err != nil {
		return nil, err
	}

	var pending []*Entry
	for _, e := range entries {
		if e.Status != StatusPending {
			continue
		}
		pending = append(pending, e)
		w.logger.Warn("Обнаружена незавершённая транзакция журнала",
			slog.String("tx_id", e.TransactionID),
			slog.String("operation", string(e.Operation)),
			slog.String("target", e.Target),
			slog.Time("started_at", e.StartedAt),
		)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}

// Get читает запись по идентификатору транзакции.
func (w *WAL) Get(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readEntry(txID)
}

// CleanCompleted удаляет завершённые записи старше olderThan
// и возвращает их количество.
func (w *WAL) CleanCompleted(olderThan time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.scan()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	cleaned := 0
	for _, e := range entries {
		if e.Status == StatusPending || e.CompletedAt == nil || e.CompletedAt.After(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, walFileName(e.TransactionID))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Не удалось удалить запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// scan читает все записи журнала. Вызывается под w.mu.
func (w *WAL) scan() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	result := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		entry, err := w.readEntry(strings.TrimSuffix(filepath.Base(path), fileSuffix))
		if err != nil {
			w.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

// writeEntry атомарно записывает запись: temp файл → fsync → rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}
