// Пакет handlers — HTTP-обработчики Archive Module.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// DefaultMaxBodyBytes — ограничение размера тела запроса по умолчанию.
const DefaultMaxBodyBytes int64 = 1 << 20

// Importer — операции импорта (реализуется *service.ImportService).
type Importer interface {
	PreviewImport(ctx context.Context, req model.ImportRequest) *model.PreviewResult
	Import(ctx context.Context, req model.ImportRequest) *model.ImportResult
	BatchImport(ctx context.Context, reqs []model.ImportRequest) []*model.ImportResult
}

// FileManager — операции над сохранёнными файлами (реализуется *service.FileService).
type FileManager interface {
	Get(ctx context.Context, id string) (*model.ManagedFile, error)
	CheckIntegrity(ctx context.Context, id string) (*model.IntegrityReport, error)
	Delete(ctx context.Context, id string, deletePhysical bool) error
	ApplyFolderRename(ctx context.Context, oldPath, newPath string, move bool) (*service.FolderRenameResult, error)
}

// APIHandler — обработчики /api/v1.
type APIHandler struct {
	importer     Importer
	files        FileManager
	root         string
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewAPIHandler создаёт обработчики /api/v1. root — корень хранилища,
// используется для относительных путей в ответах. maxBodyBytes <= 0
// заменяется на DefaultMaxBodyBytes.
func NewAPIHandler(importer Importer, files FileManager, root string, maxBodyBytes int64, logger *slog.Logger) *APIHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &APIHandler{
		importer:     importer,
		files:        files,
		root:         root,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(slog.String("component", "api")),
	}
}

// readBody читает тело запроса с ограничением размера.
// При ошибке ответ уже записан и возвращается false.
func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.RequestTooLarge.Write(w, "Тело запроса превышает допустимый размер")
			return nil, false
		}
		apierrors.Validation.Write(w, "Не удалось прочитать тело запроса")
		return nil, false
	}
	if len(data) == 0 {
		apierrors.Validation.Write(w, "Тело запроса пустое")
		return nil, false
	}
	return data, true
}

// writeJSON сериализует v в JSON и записывает ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
