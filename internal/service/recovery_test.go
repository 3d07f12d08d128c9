package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

func TestRecoveryService_Recover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1. Импорт прерван после копирования во временный файл
	dir := filepath.Join(env.root, "Inbox", "2024-03-15")
	tmp := filepath.Join(dir, "abc"+fsgateway.TempSuffix)
	writeFile(t, tmp, "partial")
	e1, _ := env.journal.Start(wal.OpImport, "/src/a.pdf", filepath.Join(dir, "a.pdf"))
	if err := env.journal.RecordTemp(e1.TransactionID, tmp); err != nil {
		t.Fatal(err)
	}

	// 2. Файл размещён, но запись в реестре не создана
	placed := filepath.Join(dir, "b.pdf")
	writeFile(t, placed, "placed")
	e2, _ := env.journal.Start(wal.OpImport, "/src/b.pdf", placed)

	// 3. Файл зарегистрирован, связывание не завершено
	registered := importInbox(t, env, "c.pdf", "registered")
	e3, _ := env.journal.Start(wal.OpImport, "/src/c.pdf", registered.FinalPath)

	// 4. Перенос папки прерван
	e4, _ := env.journal.Start(wal.OpFolderRename, filepath.Join(env.root, "Projects", "Old"), filepath.Join(env.root, "Projects", "New"))

	rs := NewRecoveryService(env.journal, env.fs, env.registry, 24*time.Hour, quietLogger())
	report, err := rs.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() ошибка: %v", err)
	}

	if report.Pending != 4 {
		t.Errorf("Pending = %d, хотели 4", report.Pending)
	}
	if len(report.TempFilesRemoved) != 1 || report.TempFilesRemoved[0] != tmp {
		t.Errorf("TempFilesRemoved = %v", report.TempFilesRemoved)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
	if len(report.UnregisteredFiles) != 1 || report.UnregisteredFiles[0] != placed {
		t.Errorf("UnregisteredFiles = %v", report.UnregisteredFiles)
	}
	if _, err := os.Stat(placed); err != nil {
		t.Error("размещённый файл не должен удаляться")
	}
	if len(report.Committed) != 1 || report.Committed[0] != e3.TransactionID {
		t.Errorf("Committed = %v", report.Committed)
	}
	if len(report.InterruptedRenames) != 1 {
		t.Errorf("InterruptedRenames = %v", report.InterruptedRenames)
	}

	if n := pendingCount(t, env.journal); n != 0 {
		t.Errorf("после восстановления осталось %d pending", n)
	}

	for txID, want := range map[string]wal.TransactionStatus{
		e1.TransactionID: wal.StatusRolledBack,
		e2.TransactionID: wal.StatusRolledBack,
		e3.TransactionID: wal.StatusCommitted,
		e4.TransactionID: wal.StatusRolledBack,
	} {
		entry, err := env.journal.Get(txID)
		if err != nil {
			t.Fatalf("Get(%s) ошибка: %v", txID, err)
		}
		if entry.Status != want {
			t.Errorf("%s: Status = %s, хотели %s", txID, entry.Status, want)
		}
	}

	// Повторный запуск ничего не находит
	again, err := rs.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Pending != 0 {
		t.Errorf("повторный Recover: Pending = %d", again.Pending)
	}
}

// TestRecoveryService_UsesRecordedTarget проверяет, что восстановление
// ищет файл по фактическому пути, а не по планируемому.
func TestRecoveryService_UsesRecordedTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Планируемое имя занято зарегистрированным файлом другого импорта
	other := importInbox(t, env, "report.pdf", "other")
	dir := filepath.Dir(other.FinalPath)

	placed := filepath.Join(dir, "report_1.pdf")
	writeFile(t, placed, "ours")
	entry, _ := env.journal.Start(wal.OpImport, "/src/report.pdf", other.FinalPath)
	if err := env.journal.RecordTarget(entry.TransactionID, placed); err != nil {
		t.Fatal(err)
	}

	rs := NewRecoveryService(env.journal, env.fs, env.registry, 0, quietLogger())
	report, err := rs.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() ошибка: %v", err)
	}
	if len(report.UnregisteredFiles) != 1 || report.UnregisteredFiles[0] != placed {
		t.Errorf("UnregisteredFiles = %v, хотели [%s]", report.UnregisteredFiles, placed)
	}
	if len(report.Committed) != 0 {
		t.Errorf("транзакция не должна связываться с чужим файлом: %v", report.Committed)
	}
}
