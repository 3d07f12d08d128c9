// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// ReconcileRunner — запуск одного прохода сверки.
type ReconcileRunner interface {
	// RunOnce возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	logger     *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance")),
	}
}

// Reconcile запускает синхронную сверку и возвращает результат.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, inProgress, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("Ошибка сверки по запросу",
			slog.String("error", err.Error()),
		)
		apierrors.Internal.Write(w, "Сверка завершилась с ошибкой")
		return
	}
	if inProgress {
		apierrors.ReconcileInProgress.Write(w, "Сверка уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
