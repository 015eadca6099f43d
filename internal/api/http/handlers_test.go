package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/permissions"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
)

const manifest = `{
	"name": "Demo",
	"version": "1.0.0",
	"pages": [{"path": "pages/home"}, {"path": "pages/detail"}]
}`

const service = `var JSBridge = { invokeCallbackHandler: function () {}, subscribeHandler: function () {} };`

type testServer struct {
	router *gin.Engine
	root   string
	gate   *permissions.Gate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	logger := zaptest.NewLogger(t)

	dir := filepath.Join(root, "demo", "release")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-service.js"), []byte(service), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("page {}"), 0o644))

	resolver, err := assets.NewResolver(assets.DefaultConfig(root), logger)
	require.NoError(t, err)
	gate := permissions.NewGate(nil, logger)
	loader := bundle.NewLoader(root, logger)

	m := app.NewManager(app.DefaultConfig(), app.Deps{
		Bundles: loader,
		Storage: storage.NewManager("", storage.DefaultLimit, logger),
		Gate:    gate,
		Assets:  resolver,
		Logger:  logger,
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	h := NewHandlers(m, loader, gate, resolver, nil, logger)
	r := gin.New()
	h.Register(r)
	h.RegisterFiles(r, "/files")
	return &testServer{router: r, root: root, gate: gate}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "closed", body["asset_fetch"])

	w = s.do(t, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListPackages(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/packages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	pkgs := decode(t, w)["packages"].([]any)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "demo", pkgs[0].(map[string]any)["app_id"])
}

func TestApplicationLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/apps/demo/launch", map[string]any{"path": "pages/detail?id=7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode(t, w)
	assert.Equal(t, "demo", info["app_id"])
	assert.Equal(t, "front", info["app_state"])
	assert.Equal(t, true, info["focused"])

	w = s.do(t, http.MethodGet, "/api/apps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["apps"], 1)

	w = s.do(t, http.MethodPost, "/api/apps/demo/navigate", app.NavRequest{Op: app.NavGotoHome})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/apps/demo/navigate", app.NavRequest{Op: "teleport"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/apps/demo/hide", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/apps/demo", nil)
	assert.Equal(t, "back", decode(t, w)["app_state"])

	w = s.do(t, http.MethodGet, "/api/apps/demo/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["entries"])

	w = s.do(t, http.MethodPost, "/api/apps/demo/show", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/apps/demo/relaunch", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, info["id"], decode(t, w)["id"])

	w = s.do(t, http.MethodDelete, "/api/apps/demo", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool {
		return s.do(t, http.MethodGet, "/api/apps/demo", nil).Code == http.StatusNotFound
	}, testTimeout, testTick)
}

func TestLaunchErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"not installed", "/api/apps/ghost/launch", nil, http.StatusNotFound, "not-found"},
		{"unknown env", "/api/apps/demo/launch", map[string]any{"envVersion": "beta"}, http.StatusBadRequest, "malformed-input"},
		{"bad body", "/api/apps/demo/launch", []int{1}, http.StatusBadRequest, "malformed-input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.kind, decode(t, w)["kind"])
		})
	}

	w := s.do(t, http.MethodPost, "/api/apps/ghost/show", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/apps/ghost/queue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishAndBroadcast(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/apps/demo/launch", nil).Code)

	w := s.do(t, http.MethodPost, "/api/apps/demo/publish", map[string]any{"key": "APP_USER_CAPTURE_SCREEN"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/apps/demo/publish", map[string]any{"key": "NOT_A_KEY"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/apps/demo/publish", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/broadcast/theme", map[string]any{"theme": "dark"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/broadcast/theme", map[string]any{"theme": "blue"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/broadcast/network", map[string]any{"isConnected": true, "networkType": "wifi"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPermissions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/permissions/scopes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["scopes"])

	w = s.do(t, http.MethodPost, "/api/permissions/demo/grant", map[string]any{"scopes": []string{permissions.ScopeCamera}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["permissions"], 1)
	assert.NoError(t, s.gate.RequestAuthorization(context.Background(), "demo", permissions.ScopeCamera))

	w = s.do(t, http.MethodPost, "/api/permissions/demo/grant", map[string]any{"scopes": []string{permissions.ScopeRecord}, "deny": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Error(t, s.gate.RequestAuthorization(context.Background(), "demo", permissions.ScopeRecord))

	w = s.do(t, http.MethodPost, "/api/permissions/demo/grant", map[string]any{"scopes": []string{"scope.teleport"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/permissions/demo/grant", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/permissions/demo/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["audit"], 1)
	w = s.do(t, http.MethodGet, "/api/permissions/demo/audit?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/permissions/demo/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["permissions"])
}

func TestServeFile(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/files/demo/release/style.css", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/css; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "page {}", w.Body.String())

	w = s.do(t, http.MethodGet, "/files/demo/release/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/files/demo/release/pages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeFileCompressed(t *testing.T) {
	s := newTestServer(t)
	css := strings.Repeat(".row { display: flex; }\n", 200)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "demo", "release", "big.css"), []byte(css), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/files/demo/release/big.css", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, css, string(body))
}
