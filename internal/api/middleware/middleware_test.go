package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	return r
}

func get(r http.Handler, path, remote string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := newRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  bool
	}{
		{"simple GET with origin", http.MethodGet, "http://localhost:3000", http.StatusOK, true},
		{"preflight", http.MethodOptions, "http://localhost:3000", http.StatusNoContent, true},
		{"no origin", http.MethodGet, "", http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantAllow {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSExposesTraceHeaders(t *testing.T) {
	router := newRouter(CORS(DefaultCORSConfig()))
	w := get(router, "/test", "", "Origin", "http://localhost:3000")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Trace-Id")
}

func TestCORSWithCustomOrigins(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins: []string{"https://console.example.org"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       time.Hour,
	}
	router := newRouter(CORS(cfg))

	// requests are addressed to example.com, so both origins are cross-origin
	w := get(router, "/test", "", "Origin", "https://console.example.org")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://console.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(router, "/test", "", "Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/test", "192.168.1.1:1234").Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/test", "192.168.1.1:1234").Code)

	// another client has its own budget
	assert.Equal(t, http.StatusOK, get(router, "/test", "192.168.1.2:1234").Code)
}

func TestRateLimitForgetsLeastRecentClient(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxClients: 2}))

	assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/test", "10.0.0.1:1").Code)

	// two newer clients push the first one out, which then starts afresh
	assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.2:1").Code)
	assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.3:1").Code)
	assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.1:1").Code)
}

func TestGlobalRateLimit(t *testing.T) {
	router := newRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	for i := 0; i < 2; i++ {
		remote := fmt.Sprintf("192.168.1.%d:1234", i+10)
		assert.Equal(t, http.StatusOK, get(router, "/test", remote).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/test", "192.168.1.99:1234").Code)
}

func TestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	router := newRouter(Logger(logger), Recovery(logger))

	get(router, "/test", "")
	get(router, "/missing", "")
	w := get(router, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	require.Equal(t, 1, logs.FilterMessage("request").Len())
	assert.Equal(t, 1, logs.FilterMessage("request rejected").Len())
	assert.Equal(t, 1, logs.FilterMessage("handler panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestDefaults(t *testing.T) {
	cors := DefaultCORSConfig()
	assert.Contains(t, cors.AllowOrigins, "*")
	assert.Contains(t, cors.AllowMethods, "DELETE")
	assert.Equal(t, 12*time.Hour, cors.MaxAge)

	rl := DefaultRateLimitConfig()
	assert.Equal(t, 100, rl.RequestsPerSecond)
	assert.Equal(t, 200, rl.Burst)
	assert.Positive(t, rl.MaxClients)
}

func BenchmarkRateLimit(b *testing.B) {
	router := newRouter(RateLimit(DefaultRateLimitConfig()))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
}
