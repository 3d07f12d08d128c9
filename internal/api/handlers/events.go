// events.go — приём событий об изменениях структуры папок.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
)

type folderRenamedRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	// Move — переместить папку на диске; false, если её уже переименовали
	Move bool `json:"move"`
}

// HandleFolderRenamed — POST /api/v1/events/folder-renamed.
func (h *APIHandler) HandleFolderRenamed(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req folderRenamedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		apierrors.Validation.Write(w, "Некорректный JSON события")
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		apierrors.Validation.Write(w, "Поля old_path и new_path обязательны")
		return
	}

	res, err := h.files.ApplyFolderRename(r.Context(), req.OldPath, req.NewPath, req.Move)
	if err != nil {
		h.writeServiceError(w, err, req.OldPath, "Ошибка переноса путей папки")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
