// health.go — Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
)

const statusFail = "fail"

// healthProbeName — имя пробного файла. Суффикс временного файла
// исключает его из сверки, если удаление не удалось.
const healthProbeName = ".health_check" + fsgateway.TempSuffix

// ReadinessChecker — проверка готовности внешней зависимости.
type ReadinessChecker interface {
	Name() string
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version     string
	storageRoot string
	walDir      string
	checkers    []ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// checkers — дополнительные зависимости (PostgreSQL в режиме postgres).
func NewHealthHandler(storageRoot, walDir string, checkers ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:     config.Version,
		storageRoot: storageRoot,
		walDir:      walDir,
		checkers:    checkers,
	}
}

// checkResult — состояние одной проверки готовности.
type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type probeResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	Service   string                 `json:"service"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

func (h *HealthHandler) probe(status string, checks map[string]checkResult) probeResponse {
	return probeResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Service:   "archive-module",
		Checks:    checks,
	}
}

// HealthLive — GET /health/live, зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.probe("ok", nil))
}

// HealthReady — GET /health/ready. Корень хранилища и журнал должны
// принимать запись, затем опрашиваются внешние зависимости.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]checkResult{
		"storage": writeProbe(h.storageRoot, "Корень хранилища недоступен для записи: "),
		"wal":     writeProbe(h.walDir, "Директория журнала недоступна для записи: "),
	}
	for _, c := range h.checkers {
		status, msg := c.CheckReady()
		checks[c.Name()] = checkResult{Status: status, Message: msg}
	}

	status := overallStatus(checks)
	code := http.StatusOK
	if status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h.probe(status, checks))
}

// writeProbe создаёт и удаляет пробный файл в dir.
func writeProbe(dir, failPrefix string) checkResult {
	if dir == "" {
		return checkResult{Status: "ok", Message: "Проверка не настроена"}
	}
	probe := filepath.Join(dir, healthProbeName)
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return checkResult{Status: statusFail, Message: failPrefix + err.Error()}
	}
	_ = os.Remove(probe)
	return checkResult{Status: "ok"}
}

// overallStatus: любой fail даёт fail, иначе любой degraded даёт degraded.
func overallStatus(checks map[string]checkResult) string {
	result := "ok"
	for _, c := range checks {
		switch c.Status {
		case statusFail:
			return statusFail
		case "degraded":
			result = "degraded"
		}
	}
	return result
}
