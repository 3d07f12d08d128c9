package wal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), ".archive", "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание журнала, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория журнала не создана: %v", err)
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestImportLifecycle проверяет start → temp → commit.
func TestImportLifecycle(t *testing.T) {
	w := newWAL(t)

	entry, err := w.Start(OpImport, "/in/report.docx", "/srv/archive/Inbox/2024-03-09/report.docx")
	if err != nil {
		t.Fatalf("Start() ошибка: %v", err)
	}
	if entry.TransactionID == "" || entry.Status != StatusPending || entry.CompletedAt != nil {
		t.Fatalf("некорректная новая запись: %+v", entry)
	}

	if err := w.RecordTemp(entry.TransactionID, "/srv/archive/Inbox/2024-03-09/.x.import.tmp"); err != nil {
		t.Fatalf("RecordTemp() ошибка: %v", err)
	}
	if err := w.Commit(entry.TransactionID, "file-1"); err != nil {
		t.Fatalf("Commit() ошибка: %v", err)
	}

	got, err := w.Get(entry.TransactionID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Status != StatusCommitted {
		t.Errorf("ожидался статус %s, получен %s", StatusCommitted, got.Status)
	}
	if got.ManagedFileID != "file-1" || got.TempPath == "" || got.CompletedAt == nil {
		t.Errorf("поля записи не сохранены: %+v", got)
	}
}

// TestRecordTarget проверяет замену планируемого пути фактическим.
func TestRecordTarget(t *testing.T) {
	w := newWAL(t)

	entry, err := w.Start(OpImport, "/in/report.pdf", "/srv/archive/Shared/report.pdf")
	if err != nil {
		t.Fatalf("Start() ошибка: %v", err)
	}
	if err := w.RecordTemp(entry.TransactionID, "/srv/archive/Shared/.x.import.tmp"); err != nil {
		t.Fatalf("RecordTemp() ошибка: %v", err)
	}
	if err := w.RecordTarget(entry.TransactionID, "/srv/archive/Shared/report_1.pdf"); err != nil {
		t.Fatalf("RecordTarget() ошибка: %v", err)
	}

	got, err := w.Get(entry.TransactionID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Target != "/srv/archive/Shared/report_1.pdf" {
		t.Errorf("Target = %q", got.Target)
	}
	if got.Status != StatusPending || got.TempPath == "" {
		t.Errorf("остальные поля изменены: %+v", got)
	}

	if err := w.RecordTarget("missing-tx", "/x"); err == nil {
		t.Error("ожидалась ошибка для неизвестной транзакции")
	}
}

// TestRollback проверяет отмену с причиной.
func TestRollback(t *testing.T) {
	w := newWAL(t)
	entry, _ := w.Start(OpImport, "/in/a", "/out/a")

	if err := w.Rollback(entry.TransactionID, "COPY_FAILED"); err != nil {
		t.Fatalf("Rollback() ошибка: %v", err)
	}
	got, _ := w.Get(entry.TransactionID)
	if got.Status != StatusRolledBack || got.Reason != "COPY_FAILED" {
		t.Errorf("ожидалась отмена с причиной, получено %+v", got)
	}
}

// TestCompleted_NotPending проверяет, что завершённую транзакцию нельзя изменить.
func TestCompleted_NotPending(t *testing.T) {
	w := newWAL(t)
	entry, _ := w.Start(OpImport, "/in/a", "/out/a")
	_ = w.Commit(entry.TransactionID, "")

	for name, op := range map[string]func() error{
		"Commit":     func() error { return w.Commit(entry.TransactionID, "x") },
		"Rollback":   func() error { return w.Rollback(entry.TransactionID, "x") },
		"RecordTemp": func() error { return w.RecordTemp(entry.TransactionID, "x") },
	} {
		if err := op(); !errors.Is(err, ErrNotPending) {
			t.Errorf("%s: ожидалась ErrNotPending, получено: %v", name, err)
		}
	}
}

// TestGet_NotFound проверяет чтение несуществующей записи.
func TestGet_NotFound(t *testing.T) {
	w := newWAL(t)
	if _, err := w.Get("missing"); err == nil {
		t.Error("ожидалась ошибка для несуществующей транзакции")
	}
}

// TestRecoverPending проверяет выборку незавершённых транзакций.
func TestRecoverPending(t *testing.T) {
	w := newWAL(t)

	first, _ := w.Start(OpImport, "/in/1", "/out/1")
	done, _ := w.Start(OpImport, "/in/2", "/out/2")
	second, _ := w.Start(OpFolderRename, "/root/Old", "/root/New")
	_ = w.Commit(done.TransactionID, "f")

	// Повреждённая запись пропускается
	if err := os.WriteFile(filepath.Join(w.Dir(), "broken"+fileSuffix), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}

	pending, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("RecoverPending() ошибка: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ожидалось 2 pending, получено %d", len(pending))
	}

	ids := map[string]bool{pending[0].TransactionID: true, pending[1].TransactionID: true}
	if !ids[first.TransactionID] || !ids[second.TransactionID] {
		t.Errorf("неверный набор pending: %v", ids)
	}
	if pending[0].StartedAt.After(pending[1].StartedAt) {
		t.Error("pending должны быть упорядочены по времени начала")
	}
}

// TestCleanCompleted проверяет очистку завершённых записей.
func TestCleanCompleted(t *testing.T) {
	w := newWAL(t)

	pending, _ := w.Start(OpImport, "/in/p", "/out/p")
	committed, _ := w.Start(OpImport, "/in/c", "/out/c")
	rolled, _ := w.Start(OpImport, "/in/r", "/out/r")
	_ = w.Commit(committed.TransactionID, "f")
	_ = w.Rollback(rolled.TransactionID, "x")

	// Свежие записи не удаляются при ненулевом возрасте
	if n, _ := w.CleanCompleted(time.Hour); n != 0 {
		t.Errorf("ожидалось 0 удалённых, получено %d", n)
	}

	n, err := w.CleanCompleted(0)
	if err != nil {
		t.Fatalf("CleanCompleted() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("ожидалось 2 удалённых, получено %d", n)
	}
	if _, err := w.Get(pending.TransactionID); err != nil {
		t.Error("pending-запись не должна удаляться")
	}
}

// TestAtomicWrite проверяет отсутствие temp файла и валидность JSON.
func TestAtomicWrite(t *testing.T) {
	w := newWAL(t)
	entry, _ := w.Start(OpImport, "/in/a", "/out/a")

	tmpPath := filepath.Join(w.Dir(), walFileName(entry.TransactionID)+".tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("временный файл не должен существовать после записи: %s", tmpPath)
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if e.Operation != OpImport {
		t.Errorf("operation = %s", e.Operation)
	}
}

// TestConcurrentAccess проверяет потокобезопасность журнала.
func TestConcurrentAccess(t *testing.T) {
	w := newWAL(t)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.Start(OpImport, "/in/c", "/out/c")
			if err != nil {
				errs <- err
				return
			}
			if err := w.Commit(entry.TransactionID, "f"); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ошибка в горутине: %v", err)
	}
}
