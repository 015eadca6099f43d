package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "demo", "release")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(`{"pages": [{"path": "pages/home"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-service.js"), []byte(`var JSBridge = {invokeCallbackHandler: function () {}, subscribeHandler: function () {}};`), 0o644))

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Runtime.PackagesDir = root
	cfg.Storage.Dir = ""
	cfg.Surfaces.Headless = true
	cfg.RateLimit.Enabled = false
	return cfg
}

func TestRoutesAreWired(t *testing.T) {
	s, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	req := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, req(http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, req(http.MethodGet, "/api/packages").Code)

	w := req(http.MethodPost, "/api/apps/demo/launch")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = req(http.MethodGet, "/files/demo/release/app.json")
	assert.Equal(t, http.StatusOK, w.Code)

	w = req(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Server.MaxConnections = 4

	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestFilesPrefix(t *testing.T) {
	assert.Equal(t, "/files", filesPrefix(""))
	assert.Equal(t, "/static", filesPrefix("/static"))
	assert.Equal(t, "/pkg", filesPrefix("https://cdn.example.com/pkg"))
}
