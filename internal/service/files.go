// files.go — операции над уже сохранёнными файлами: получение записи,
// проверка целостности, удаление и перенос путей при переименовании папки.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

// FileService — операции над управляемыми файлами.
type FileService struct {
	root     string
	registry repository.Registry
	store    *contentstore.Store
	fs       fsgateway.Gateway
	journal  Journal
	cache    *CacheService
	// loads объединяет параллельные промахи кэша по одному id
	loads  singleflight.Group
	logger *slog.Logger
}

// NewFileService создаёт FileService.
func NewFileService(
	root string,
	registry repository.Registry,
	store *contentstore.Store,
	gw fsgateway.Gateway,
	journal Journal,
	cache *CacheService,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		root:     root,
		registry: registry,
		store:    store,
		fs:       gw,
		journal:  journal,
		cache:    cache,
		logger:   logger.With(slog.String("component", "files")),
	}
}

// Get возвращает запись ManagedFile по идентификатору.
func (s *FileService) Get(ctx context.Context, id string) (*model.ManagedFile, error) {
	if f, ok := s.cache.Get(id); ok {
		return f, nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		f, err := s.registry.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(f)
		return f, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return v.(*model.ManagedFile), nil
}

// CheckIntegrity сверяет файл на диске с хэшем из реестра.
// Запись берётся из реестра напрямую, минуя кэш.
func (s *FileService) CheckIntegrity(ctx context.Context, id string) (*model.IntegrityReport, error) {
	f, err := s.registry.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	report, err := s.store.CheckIntegrity(f)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки целостности %s: %w", id, err)
	}
	if report.Status != model.IntegrityIntact {
		s.logger.Warn("Нарушена целостность файла",
			slog.String("file_id", id),
			slog.String("status", string(report.Status)),
			slog.String("path", f.PhysicalPath),
		)
	}
	return report, nil
}

// Delete удаляет запись файла; при deletePhysical удаляется и файл на диске.
// Ссылки расходов и этапов конкурсов очищаются, версии документов,
// ресурсы проектов и общие ресурсы блокируют удаление (ErrFileInUse).
func (s *FileService) Delete(ctx context.Context, id string, deletePhysical bool) error {
	f, err := s.registry.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	if err := s.store.Remove(ctx, f, deletePhysical); err != nil {
		switch {
		case errors.Is(err, repository.ErrReferenced):
			return fmt.Errorf("%w: %s", ErrFileInUse, id)
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	s.cache.Invalidate(id)

	s.logger.Info("Файл удалён",
		slog.String("file_id", id),
		slog.Bool("physical", deletePhysical),
		slog.String("path", f.PhysicalPath),
	)
	return nil
}

// FolderRenameResult — результат применения события переименования папки.
type FolderRenameResult struct {
	OldPath string   `json:"old_path"`
	NewPath string   `json:"new_path"`
	Moved   bool     `json:"moved"`
	FileIDs []string `json:"file_ids"`
}

// ApplyFolderRename переносит физические пути файлов из папки oldPath в newPath.
// При move папка перемещается на диске; иначе считается, что её уже
// переименовали внешним образом и обновляется только реестр.
func (s *FileService) ApplyFolderRename(ctx context.Context, oldPath, newPath string, move bool) (*FolderRenameResult, error) {
	oldPath, newPath = filepath.Clean(oldPath), filepath.Clean(newPath)
	if err := s.validateRename(oldPath, newPath); err != nil {
		return nil, err
	}

	entry, err := s.journal.Start(wal.OpFolderRename, oldPath, newPath)
	if err != nil {
		return nil, err
	}

	if move {
		if err := s.fs.Move(oldPath, newPath); err != nil {
			s.rollback(entry.TransactionID, "move_failed")
			if errors.Is(err, fsgateway.ErrExists) {
				return nil, fmt.Errorf("%w: %s", ErrConflict, newPath)
			}
			return nil, err
		}
	}

	ids, err := s.registry.RewritePathPrefix(ctx, oldPath, newPath)
	if err != nil {
		if move {
			// Возвращаем папку на место, чтобы реестр и диск совпадали
			if mvErr := s.fs.Move(newPath, oldPath); mvErr != nil {
				s.logger.Error("Не удалось вернуть папку после ошибки реестра",
					slog.String("old_path", oldPath),
					slog.String("new_path", newPath),
					slog.String("error", mvErr.Error()),
				)
			}
		}
		s.rollback(entry.TransactionID, "registry_failed")
		if errors.Is(err, repository.ErrPathConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	s.cache.Invalidate(ids...)
	if err := s.journal.Commit(entry.TransactionID, ""); err != nil {
		s.logger.Warn("Не удалось завершить транзакцию журнала",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Пути файлов перенесены",
		slog.String("old_path", oldPath),
		slog.String("new_path", newPath),
		slog.Bool("moved", move),
		slog.Int("files", len(ids)),
	)
	if ids == nil {
		ids = []string{}
	}
	return &FolderRenameResult{OldPath: oldPath, NewPath: newPath, Moved: move, FileIDs: ids}, nil
}

// validateRename проверяет, что обе папки лежат под корнем хранилища
// и новая папка не вложена в старую.
func (s *FileService) validateRename(oldPath, newPath string) error {
	for field, p := range map[string]string{"old_path": oldPath, "new_path": newPath} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: %s должен быть абсолютным путём", ErrValidation, field)
		}
		rel := model.RelativeTo(s.root, p)
		if rel == p || rel == "." {
			return fmt.Errorf("%w: %s должен находиться внутри корня хранилища", ErrValidation, field)
		}
	}
	if oldPath == newPath {
		return fmt.Errorf("%w: старый и новый пути совпадают", ErrValidation)
	}
	if strings.HasPrefix(newPath, oldPath+string(filepath.Separator)) {
		return fmt.Errorf("%w: новая папка не может находиться внутри старой", ErrValidation)
	}
	return nil
}

func (s *FileService) rollback(txID, reason string) {
	if err := s.journal.Rollback(txID, reason); err != nil {
		s.logger.Warn("Не удалось отменить транзакцию журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
