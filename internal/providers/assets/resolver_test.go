package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.BaseURL = "http://host/apps/"
	cfg.Retries = 0
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = time.Millisecond
	r, err := NewResolver(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r, root
}

func put(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func TestSrcToRealURL(t *testing.T) {
	r, _ := newResolver(t)

	tests := []struct {
		name, env, src, want string
	}{
		{"relative", "", "images/a.png", "http://host/apps/demo/release/images/a.png"},
		{"absolute", "develop", "/images/a.png", "http://host/apps/demo/develop/images/a.png"},
		{"dots cleaned", "", "pages/../images/a b.png", "http://host/apps/demo/release/images/a%20b.png"},
		{"query dropped", "", "a.png?v=1", "http://host/apps/demo/release/a.png"},
		{"remote", "", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"data", "", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.SrcToRealURL("demo", tt.env, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.SrcToRealURL("demo", "", "")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
	_, err = r.SrcToRealURL("../demo", "", "a.png")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
	_, err = r.SrcToRealURL("demo", "prod", "a.png")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestStat(t *testing.T) {
	r, root := newResolver(t)
	put(t, root, "demo/release/images/a.png", pngBytes(t, 2, 2))
	put(t, root, "demo/release/app-service.js", []byte("var a = 1;"))

	a, err := r.Stat("demo", "", "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MIME)
	assert.Positive(t, a.Size)

	js, err := r.Stat("demo", "", "app-service.js")
	require.NoError(t, err)
	assert.Equal(t, "text/javascript; charset=utf-8", js.MIME)

	_, err = r.Stat("demo", "", "images")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.Stat("demo", "", "missing.png")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLocalImageInfo(t *testing.T) {
	r, root := newResolver(t)
	put(t, root, "demo/release/images/a.png", pngBytes(t, 30, 20))
	put(t, root, "demo/release/readme.txt", []byte("hello"))
	ctx := context.Background()

	info, err := r.ImageInfo(ctx, "demo", "", "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Width: 30, Height: 20, Path: "http://host/apps/demo/release/images/a.png", Type: "png"}, info)
	assert.Equal(t, 1, r.CacheLen())

	// served from cache even after the file is gone
	require.NoError(t, os.Remove(filepath.Join(root, "demo", "release", "images", "a.png")))
	again, err := r.ImageInfo(ctx, "demo", "", "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, info, again)

	r.Forget("demo")
	assert.Zero(t, r.CacheLen())
	_, err = r.ImageInfo(ctx, "demo", "", "images/a.png")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.ImageInfo(ctx, "demo", "", "readme.txt")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestRemoteImageInfo(t *testing.T) {
	img := pngBytes(t, 8, 4)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := hits.Add(1)
		switch req.URL.Path {
		case "/flaky.png":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write(img)
		case "/ok.png":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig(t.TempDir())
	cfg.Retries = 2
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	r, err := NewResolver(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	info, err := r.ImageInfo(ctx, "demo", "", srv.URL+"/flaky.png")
	require.NoError(t, err)
	assert.Equal(t, 8, info.Width)
	assert.Equal(t, srv.URL+"/flaky.png", info.Path)
	assert.EqualValues(t, 2, hits.Load(), "retried once")

	_, err = r.ImageInfo(ctx, "demo", "", srv.URL+"/missing.png")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	url, err := r.ForApp("demo", "").ResolveImage(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ok.png", url)
}

func TestRemoteFailuresOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, _ := newResolver(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := r.ImageInfo(ctx, "demo", "", srv.URL+"/a.png")
		assert.ErrorIs(t, err, errs.ErrTransport)
	}
	assert.Equal(t, resilience.StateOpen, r.BreakerState())

	_, err := r.ImageInfo(ctx, "demo", "", srv.URL+"/a.png")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 10, hits.Load())
}
