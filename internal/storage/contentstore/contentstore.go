// Пакет contentstore — хранилище содержимого с дедупликацией по SHA-256.
//
// Протокол Ingest: источник копируется одним потоковым проходом во
// временный файл в целевой директории с подсчётом хэша; если файл с таким
// хэшем уже зарегистрирован, копия удаляется и возвращается существующая
// запись. Иначе копия размещается под итоговым именем без перезаписи
// и регистрируется в реестре. Ограничение уникальности file_hash в реестре
// разрешает гонку двух одновременных импортов одинакового содержимого.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/stage"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/naming"
)

// Ошибки ContentStore.
var (
	// ErrCopyFailed — ошибка ввода-вывода при копировании или размещении.
	ErrCopyFailed = errors.New("ошибка копирования файла")
	// ErrIntegrityMismatch — размер копии не совпадает с размером источника.
	ErrIntegrityMismatch = errors.New("копия не совпадает с исходным файлом")
)

// maxPlaceAttempts — число попыток подобрать свободное имя, если целевое
// имя занято между планированием и размещением.
const maxPlaceAttempts = 16

// Store — хранилище управляемых файлов.
type Store struct {
	fs       fsgateway.Gateway
	registry repository.ManagedFileRepository
	logger   *slog.Logger
}

// New создаёт Store поверх файловой системы и реестра.
func New(gw fsgateway.Gateway, registry repository.ManagedFileRepository, logger *slog.Logger) *Store {
	return &Store{
		fs:       gw,
		registry: registry,
		logger:   logger.With(slog.String("component", "contentstore")),
	}
}

// IngestRequest — параметры сохранения одного файла.
type IngestRequest struct {
	// SourcePath — абсолютный путь исходного файла
	SourcePath string
	// TargetDir — существующая целевая директория
	TargetDir string
	// FileName — желаемое имя в TargetDir
	FileName string
	// OriginalFileName, DisplayName, MimeType — поля новой записи ManagedFile
	OriginalFileName string
	DisplayName      string
	MimeType         string
	// ExpectedSize — размер источника по stat; отрицательное значение отключает сверку
	ExpectedSize int64
	// Tracker — автомат этапов импорта (опционально)
	Tracker *stage.Tracker
	// OnCopied вызывается с путём временного файла сразу после копирования
	OnCopied func(tempPath string)
	// OnPlaced вызывается с итоговым путём до регистрации в реестре
	OnPlaced func(finalPath string)
}

// IngestResult — результат Ingest.
type IngestResult struct {
	// File — новая или существующая (при дедупликации) запись
	File *model.ManagedFile
	// Deduplicated — содержимое уже хранилось, копия не создана
	Deduplicated bool
}

// Ingest копирует источник, проверяет дубликат по хэшу и регистрирует файл.
//
// Ошибки: ErrCopyFailed, ErrIntegrityMismatch, repository.ErrPathConflict,
// а также ошибки реестра при регистрации.
func (s *Store) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	hc, err := s.fs.CopyHashing(req.SourcePath, req.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}
	if req.OnCopied != nil {
		req.OnCopied(hc.TempPath)
	}
	if err := advance(req.Tracker, stage.Copied); err != nil {
		s.discard(hc.TempPath)
		return nil, err
	}

	if req.ExpectedSize >= 0 && hc.Size != req.ExpectedSize {
		s.discard(hc.TempPath)
		return nil, fmt.Errorf("%w: ожидалось %d байт, скопировано %d",
			ErrIntegrityMismatch, req.ExpectedSize, hc.Size)
	}

	existing, err := s.registry.FindByHash(ctx, hc.Checksum)
	switch {
	case err == nil:
		s.discard(hc.TempPath)
		s.logger.Info("Содержимое уже хранится, используется существующий файл",
			slog.String("file_id", existing.ID),
			slog.String("checksum", hc.Checksum),
		)
		return s.hashed(req.Tracker, &IngestResult{File: existing, Deduplicated: true})
	case errors.Is(err, repository.ErrNotFound):
	default:
		// Последняя защита — ограничение уникальности file_hash при регистрации
		s.logger.Warn("Ошибка поиска по хэшу, файл будет зарегистрирован как новый",
			slog.String("checksum", hc.Checksum),
			slog.String("error", err.Error()),
		)
	}

	finalName, err := s.place(hc.TempPath, req.TargetDir, req.FileName)
	if err != nil {
		s.discard(hc.TempPath)
		return nil, fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}
	finalPath := filepath.Join(req.TargetDir, finalName)
	if req.OnPlaced != nil {
		req.OnPlaced(finalPath)
	}

	name := req.DisplayName
	if name == "" {
		name = finalName
	}
	checksum := hc.Checksum
	file := &model.ManagedFile{
		ID:               uuid.New().String(),
		Name:             name,
		OriginalFileName: req.OriginalFileName,
		PhysicalPath:     finalPath,
		FileHash:         &checksum,
		MimeType:         req.MimeType,
		FileSizeBytes:    hc.Size,
	}

	if err := s.registry.Create(ctx, file); err != nil {
		switch {
		case errors.Is(err, repository.ErrHashConflict):
			// Параллельный импорт успел зарегистрировать то же содержимое
			s.discard(finalPath)
			winner, findErr := s.registry.FindByHash(ctx, checksum)
			if findErr != nil {
				return nil, fmt.Errorf("ошибка получения зарегистрированного файла: %w", findErr)
			}
			s.logger.Info("Гонка дедупликации разрешена в пользу существующего файла",
				slog.String("file_id", winner.ID),
			)
			return s.hashed(req.Tracker, &IngestResult{File: winner, Deduplicated: true})
		case errors.Is(err, repository.ErrPathConflict):
			// Путь числится за другой записью, файл которой отсутствует на диске
			s.discard(finalPath)
			return nil, err
		default:
			return nil, err
		}
	}

	s.logger.Info("Файл сохранён",
		slog.String("file_id", file.ID),
		slog.String("path", finalPath),
		slog.Int64("size", file.FileSizeBytes),
	)
	return s.hashed(req.Tracker, &IngestResult{File: file})
}

func (s *Store) hashed(tr *stage.Tracker, res *IngestResult) (*IngestResult, error) {
	if tr == nil {
		return res, nil
	}
	outcome := stage.OutcomeStored
	if res.Deduplicated {
		outcome = stage.OutcomeDeduped
	}
	if err := tr.MarkHashed(outcome); err != nil {
		return nil, err
	}
	return res, nil
}

// place размещает временный файл; занятое имя разрешается заново
// по текущему содержимому директории.
func (s *Store) place(tmpPath, dir, name string) (string, error) {
	for range maxPlaceAttempts {
		err := s.fs.Place(tmpPath, filepath.Join(dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fsgateway.ErrExists) {
			return "", err
		}

		existing, listErr := s.fs.List(dir)
		if listErr != nil {
			return "", listErr
		}
		name = naming.ResolveUnique(name, existing)
	}
	return "", fmt.Errorf("не удалось подобрать свободное имя в %s", dir)
}

func (s *Store) discard(path string) {
	if err := s.fs.Delete(path); err != nil {
		s.logger.Warn("Не удалось удалить файл",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// Hash вычисляет SHA-256 потока, не загружая его в память целиком.
func Hash(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashFile вычисляет SHA-256 файла по пути.
func (s *Store) HashFile(path string) (string, error) {
	rc, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return Hash(rc)
}

// CheckIntegrity сверяет файл на диске с записью реестра.
func (s *Store) CheckIntegrity(file *model.ManagedFile) (*model.IntegrityReport, error) {
	report := &model.IntegrityReport{
		FileID:       file.ID,
		PhysicalPath: file.PhysicalPath,
		ExpectedHash: file.Hash(),
		CheckedAt:    time.Now().UTC(),
	}

	if _, err := s.fs.Stat(file.PhysicalPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			report.Status = model.IntegrityMissing
			return report, nil
		}
		return nil, err
	}

	// Хэш не записывался — файл считается целым
	if file.FileHash == nil {
		report.Status = model.IntegrityIntact
		return report, nil
	}

	actual, err := s.HashFile(file.PhysicalPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			report.Status = model.IntegrityMissing
			return report, nil
		}
		return nil, err
	}
	report.ActualHash = actual

	if actual == *file.FileHash {
		report.Status = model.IntegrityIntact
	} else {
		report.Status = model.IntegrityModified
	}
	return report, nil
}

// Remove удаляет запись реестра и, если deletePhysical, файл на диске.
// Файл, на который ссылаются владельцы с ограничением restrict, не удаляется
// (repository.ErrReferenced).
func (s *Store) Remove(ctx context.Context, file *model.ManagedFile, deletePhysical bool) error {
	if err := s.registry.Delete(ctx, file.ID); err != nil {
		return err
	}
	if !deletePhysical {
		return nil
	}
	if err := s.fs.Delete(file.PhysicalPath); err != nil {
		return fmt.Errorf("запись удалена, но файл остался на диске: %w", err)
	}
	return nil
}

func advance(tr *stage.Tracker, to stage.Stage) error {
	if tr == nil {
		return nil
	}
	return tr.Advance(to)
}
