// Пакет errors — ответы HTTP API с ошибками.
// Формат тела: {"error": {"code": "...", "message": "..."}}.
// Ошибки конвейера импорта (SOURCE_NOT_FOUND и др.) возвращаются в теле
// ImportResult и через этот пакет не проходят.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется с алиасом

import (
	"encoding/json"
	"net/http"
)

// Kind — класс ошибки транспорта: HTTP-статус и машиночитаемый код.
type Kind struct {
	Status int
	Code   string
}

var (
	Validation          = Kind{http.StatusBadRequest, "VALIDATION_ERROR"}
	Unauthorized        = Kind{http.StatusUnauthorized, "UNAUTHORIZED"}
	Forbidden           = Kind{http.StatusForbidden, "FORBIDDEN"}
	NotFound            = Kind{http.StatusNotFound, "NOT_FOUND"}
	Conflict            = Kind{http.StatusConflict, "CONFLICT"}
	FileInUse           = Kind{http.StatusConflict, "FILE_IN_USE"}
	ReconcileInProgress = Kind{http.StatusConflict, "RECONCILE_IN_PROGRESS"}
	RequestTooLarge     = Kind{http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE"}
	Internal            = Kind{http.StatusInternalServerError, "INTERNAL_ERROR"}
)

type envelope struct {
	Error payload `json:"error"`
}

type payload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Write отправляет ошибку класса k с текстом message.
func (k Kind) Write(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(k.Status)
	_ = json.NewEncoder(w).Encode(envelope{Error: payload{Code: k.Code, Message: message}})
}
