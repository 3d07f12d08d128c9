package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

// testEnv — сервисы поверх реальной файловой системы и реестра в памяти.
type testEnv struct {
	root     string
	srcDir   string
	fs       *fsgateway.OSGateway
	registry *repository.MemoryRegistry
	journal  *wal.WAL
	store    *contentstore.Store
	importer *ImportService
	files    *FileService
}

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := filepath.Join(t.TempDir(), "archive")
	if err := os.MkdirAll(root, 0o750); err != nil {
		t.Fatalf("ошибка создания корня: %v", err)
	}
	logger := quietLogger()

	journal, err := wal.New(filepath.Join(root, ".archive", "wal"), logger)
	if err != nil {
		t.Fatalf("wal.New() ошибка: %v", err)
	}

	gw := fsgateway.New()
	reg := repository.NewMemoryRegistry()
	store := contentstore.New(gw, reg, logger)
	planner := pathplan.New(root, pathplan.WithClock(func() time.Time { return fixedNow }))

	return &testEnv{
		root:     root,
		srcDir:   t.TempDir(),
		fs:       gw,
		registry: reg,
		journal:  journal,
		store:    store,
		importer: NewImportService(gw, reg, planner, store, journal, logger),
		files:    NewFileService(root, reg, store, gw, journal, NewCacheService(100, time.Minute), logger),
	}
}

// source записывает исходный файл вне корня хранилища.
func (e *testEnv) source(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.srcDir, name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("ошибка записи исходного файла: %v", err)
	}
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("ошибка создания директории: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("ошибка записи файла: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ошибка чтения %s: %v", path, err)
	}
	return string(data)
}

// pendingCount возвращает число незакрытых транзакций журнала.
func pendingCount(t *testing.T, j *wal.WAL) int {
	t.Helper()
	pending, err := j.RecoverPending()
	if err != nil {
		t.Fatalf("RecoverPending() ошибка: %v", err)
	}
	return len(pending)
}
