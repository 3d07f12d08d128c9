// files.go — обработчики /api/v1/files/{id}: запись, целостность, удаление.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// fileResponse — запись ManagedFile с путём относительно корня хранилища.
type fileResponse struct {
	*model.ManagedFile
	RelativePath string `json:"relative_path"`
}

// HandleGetFile — GET /api/v1/files/{id}.
func (h *APIHandler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	f, err := h.files.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id, "Ошибка получения файла")
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{ManagedFile: f, RelativePath: f.RelativePath(h.root)})
}

// HandleCheckIntegrity — GET /api/v1/files/{id}/integrity.
func (h *APIHandler) HandleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	report, err := h.files.CheckIntegrity(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id, "Ошибка проверки целостности")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleDeleteFile — DELETE /api/v1/files/{id}?delete_physical=true.
// Без delete_physical файл на диске сохраняется.
func (h *APIHandler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	deletePhysical := false
	if v := r.URL.Query().Get("delete_physical"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.Validation.Write(w, "Параметр delete_physical должен быть true или false")
			return
		}
		deletePhysical = b
	}

	if err := h.files.Delete(r.Context(), id, deletePhysical); err != nil {
		h.writeServiceError(w, err, id, "Ошибка удаления файла")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileID извлекает и проверяет идентификатор файла из пути.
func fileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.Validation.Write(w, "Идентификатор файла должен быть UUID")
		return "", false
	}
	return id, true
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, subject, logMsg string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound.Write(w, "Файл не найден")
	case errors.Is(err, service.ErrFileInUse):
		apierrors.FileInUse.Write(w, "Файл используется и не может быть удалён")
	case errors.Is(err, service.ErrValidation):
		apierrors.Validation.Write(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict.Write(w, err.Error())
	default:
		h.logger.Error(logMsg,
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		apierrors.Internal.Write(w, "Внутренняя ошибка сервиса")
	}
}
