package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

const testKeyID = "server-test-key"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandlers собирает реальные сервисы поверх реестра в памяти.
func newTestHandlers(t *testing.T) (Handlers, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "archive")
	walDir := filepath.Join(root, ".archive", "wal")
	logger := quietLogger()

	journal, err := wal.New(walDir, logger)
	if err != nil {
		t.Fatalf("wal.New() ошибка: %v", err)
	}
	gw := fsgateway.New()
	reg := repository.NewMemoryRegistry()
	store := contentstore.New(gw, reg, logger)
	planner := pathplan.New(root)

	importer := service.NewImportService(gw, reg, planner, store, journal, logger)
	files := service.NewFileService(root, reg, store, gw, journal, service.NewCacheService(10, time.Minute), logger)
	reconcile := service.NewReconcileService(root, gw, reg, store, time.Hour, true, logger)

	return Handlers{
		Health:      handlers.NewHealthHandler(root, walDir),
		API:         handlers.NewAPIHandler(importer, files, root, 0, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconcile, logger),
	}, root
}

func sourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("ошибка записи исходного файла: %v", err)
	}
	return path
}

func inboxBody(t *testing.T, src string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"importType": "inbox", "sourcePath": src})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func send(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ImportFlowWithoutAuth(t *testing.T) {
	h, root := newTestHandlers(t)
	router := NewRouter(quietLogger(), h, nil)
	src := sourceFile(t, "scanned invoice")

	rec := send(t, router, http.MethodPost, "/api/v1/imports/preview", inboxBody(t, src), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: статус = %d, тело %s", rec.Code, rec.Body.String())
	}

	rec = send(t, router, http.MethodPost, "/api/v1/imports", inboxBody(t, src), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	var res model.ImportResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if !strings.HasPrefix(res.FinalPath, root) {
		t.Errorf("FinalPath = %q вне корня %q", res.FinalPath, root)
	}

	// Повторный импорт того же содержимого использует существующий файл
	rec = send(t, router, http.MethodPost, "/api/v1/imports", inboxBody(t, src), "")
	if rec.Code != http.StatusOK {
		t.Errorf("повторный import: статус = %d, хотели 200", rec.Code)
	}

	rec = send(t, router, http.MethodGet, "/api/v1/files/"+res.ManagedFileID, "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: статус = %d", rec.Code)
	}
	rec = send(t, router, http.MethodGet, "/api/v1/files/"+res.ManagedFileID+"/integrity", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"intact"`) {
		t.Errorf("integrity: статус = %d, тело %s", rec.Code, rec.Body.String())
	}

	rec = send(t, router, http.MethodPost, "/api/v1/maintenance/reconcile", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile: статус = %d", rec.Code)
	}
	var rr service.ReconcileResult
	if err := json.Unmarshal(rec.Body.Bytes(), &rr); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	if rr.FilesChecked != 1 || len(rr.Issues) != 0 {
		t.Errorf("reconcile = %+v", rr)
	}

	rec = send(t, router, http.MethodDelete, "/api/v1/files/"+res.ManagedFileID+"?delete_physical=true", "", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: статус = %d", rec.Code)
	}
	if _, err := os.Stat(res.FinalPath); !os.IsNotExist(err) {
		t.Errorf("файл не удалён с диска: %v", err)
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(quietLogger(), h, func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		if rec := send(t, router, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("%s: статус = %d, хотели 200", path, rec.Code)
		}
	}
	if rec := send(t, router, http.MethodGet, "/api/v1/files/x", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/v1 без токена: статус = %d, хотели 401", rec.Code)
	}
}

// buildJWKSetJSON строит JWKS JSON из публичного RSA ключа.
func buildJWKSetJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

func signToken(t *testing.T, key *rsa.PrivateKey, scope string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "archive-ui",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ScopeString: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRouter_Scopes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey))
	if err != nil {
		t.Fatalf("keyfunc.NewJWKSetJSON() ошибка: %v", err)
	}
	auth := middleware.NewJWTAuthWithKeyfunc(kf, 5*time.Second, quietLogger())

	h, _ := newTestHandlers(t)
	router := NewRouter(quietLogger(), h, auth.Middleware())
	src := sourceFile(t, "scope check")

	readToken := signToken(t, key, middleware.ScopeRead)
	writeToken := signToken(t, key, middleware.ScopeWrite)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"без токена", "/api/v1/imports/preview", "", http.StatusUnauthorized},
		{"read: предпросмотр", "/api/v1/imports/preview", readToken, http.StatusOK},
		{"read: импорт запрещён", "/api/v1/imports", readToken, http.StatusForbidden},
		{"write: предпросмотр", "/api/v1/imports/preview", writeToken, http.StatusOK},
		{"write: импорт", "/api/v1/imports", writeToken, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := send(t, router, http.MethodPost, tt.path, inboxBody(t, src), tt.token)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, хотели %d (тело %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
