package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

type fakeReconciler struct {
	result     *service.ReconcileResult
	inProgress bool
	err        error
}

func (f *fakeReconciler) RunOnce(context.Context) (*service.ReconcileResult, bool, error) {
	return f.result, f.inProgress, f.err
}

func TestMaintenanceHandler_Reconcile(t *testing.T) {
	tests := []struct {
		name     string
		runner   *fakeReconciler
		wantCode int
	}{
		{
			name: "успех",
			runner: &fakeReconciler{result: &service.ReconcileResult{
				FilesChecked: 3,
				Issues:       []service.ReconcileIssue{{Type: service.IssueOrphanedFile, Path: "/archive/x"}},
				Summary:      service.ReconcileSummary{OK: 3, OrphanedFiles: 1},
			}},
			wantCode: http.StatusOK,
		},
		{"уже выполняется", &fakeReconciler{inProgress: true}, http.StatusConflict},
		{"ошибка", &fakeReconciler{err: errors.New("реестр недоступен")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMaintenanceHandler(tt.runner, testLogger())
			rec := httptest.NewRecorder()
			h.Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, хотели %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusConflict {
				if got := errorCode(t, rec); got != "RECONCILE_IN_PROGRESS" {
					t.Errorf("код = %q", got)
				}
			}
			if tt.wantCode == http.StatusOK {
				var res service.ReconcileResult
				if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
					t.Fatalf("ошибка разбора ответа: %v", err)
				}
				if res.FilesChecked != 3 || res.Summary.OrphanedFiles != 1 {
					t.Errorf("ответ = %+v", res)
				}
			}
		})
	}
}
