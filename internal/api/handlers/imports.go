// imports.go — обработчики импорта: одиночный, предпросмотр и пакетный.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// batchResponse — ответ пакетного импорта. Порядок results совпадает
// с порядком элементов запроса.
type batchResponse struct {
	Results   []*model.ImportResult `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

// HandleImport — POST /api/v1/imports.
// 201 — файл импортирован, 200 — использован существующий файл с тем же
// содержимым, 422 — доменная ошибка импорта (подробности в errors).
func (h *APIHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := model.DecodeImportRequest(data)
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	res := h.importer.Import(r.Context(), req)
	writeJSON(w, importStatus(res), res)
}

// HandlePreview — POST /api/v1/imports/preview. Ничего не меняет
// на диске и в реестре.
func (h *APIHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := model.DecodeImportRequest(data)
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.importer.PreviewImport(r.Context(), req))
}

// HandleBatchImport — POST /api/v1/imports/batch.
// Элемент с некорректным JSON получает результат VALIDATION_ERROR,
// остальные элементы импортируются.
func (h *APIHandler) HandleBatchImport(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	reqs, decodeErrs, err := model.DecodeImportBatch(data)
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	valid := make([]model.ImportRequest, 0, len(reqs))
	for i, req := range reqs {
		if decodeErrs[i] == nil {
			valid = append(valid, req)
		}
	}
	imported := h.importer.BatchImport(r.Context(), valid)

	resp := batchResponse{Results: make([]*model.ImportResult, len(reqs))}
	next := 0
	for i := range reqs {
		if decodeErrs[i] != nil {
			resp.Results[i] = model.FailedResult([]model.ImportError{{
				Code:    model.CodeValidationError,
				Field:   "importType",
				Message: decodeErrs[i].Error(),
			}}, nil)
		} else {
			resp.Results[i] = imported[next]
			next++
		}
		if resp.Results[i].Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func importStatus(res *model.ImportResult) int {
	switch {
	case res.Success && res.Deduplicated:
		return http.StatusOK
	case res.Success:
		return http.StatusCreated
	}
	for _, e := range res.Errors {
		if e.Code == model.CodeInternalError {
			return http.StatusInternalServerError
		}
	}
	return http.StatusUnprocessableEntity
}
