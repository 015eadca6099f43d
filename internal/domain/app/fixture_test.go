package app

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/navigation"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/permissions"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
)

const manifest = `{
	"name": "Demo",
	"version": "1.0.0",
	"pages": [{"path": "pages/home"}, {"path": "pages/me"}, {"path": "pages/detail"}],
	"tabBar": {"list": [{"path": "pages/home", "text": "Home"}, {"path": "pages/me", "text": "Me"}]}
}`

// service records what the logic context is told.
const service = `
var events = [];
var replies = {};
var launch = null;
var JSBridge = {
	invokeCallbackHandler: function (r) { replies[r.callbackId] = r; },
	subscribeHandler: function (event, params, surfaceId) {
		if (event === "APP_ON_LAUNCH") { launch = params; }
		events.push(params && params.state ? event + ":" + params.state : event);
	}
};
`

type fixture struct {
	root string
	clk  *clock.Mock
	m    *Manager
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := zaptest.NewLogger(t)

	res, err := assets.NewResolver(assets.DefaultConfig(root), logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewMock()
	m := NewManager(cfg, Deps{
		Bundles: bundle.NewLoader(root, logger),
		Storage: storage.NewManager("", storage.DefaultLimit, logger),
		Gate:    permissions.NewGate(permissions.AllowAll, logger),
		Assets:  res,
		Clock:   clk,
		Logger:  logger,
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return &fixture{root: root, clk: clk, m: m}
}

func (f *fixture) install(t *testing.T, appID, svc string) {
	t.Helper()
	dir := filepath.Join(f.root, appID, "release")
	write(t, filepath.Join(dir, "app.json"), manifest)
	write(t, filepath.Join(dir, "app-service.js"), svc)
	write(t, filepath.Join(dir, "style.css"), "page { color: red; }")
}

func (f *fixture) launch(t *testing.T, appID string, opts LaunchOptions) *Instance {
	t.Helper()
	f.install(t, appID, service)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.m.Launch(ctx, appID, opts)
	require.NoError(t, err)
	inst, ok := f.m.Get(appID)
	require.True(t, ok)
	return inst
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, png.Encode(out, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func eval(t *testing.T, inst *Instance, src string) any {
	t.Helper()
	v, err := inst.logic.Evaluate(context.Background(), "test.js", src)
	require.NoError(t, err)
	return v
}

func events(t *testing.T, inst *Instance) []string {
	t.Helper()
	s, _ := eval(t, inst, `events.join(",")`).(string)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// replied waits for the reply to callback id.
func replied(t *testing.T, inst *Instance, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, err := inst.logic.Evaluate(context.Background(), "poll.js", "replies["+id+"] !== undefined")
		return err == nil && v == true
	}, 2*time.Second, 5*time.Millisecond)
}

func info(t *testing.T, inst *Instance) Info {
	t.Helper()
	i, err := inst.Info(context.Background())
	require.NoError(t, err)
	return i
}

func currentPage(t *testing.T, in Info) navigation.PageInfo {
	t.Helper()
	for _, p := range append(in.Navigation.Stack, in.Navigation.Tabs...) {
		if p.ID == in.Navigation.Current {
			return p
		}
	}
	t.Fatalf("no current page in %+v", in.Navigation)
	return navigation.PageInfo{}
}

// indexOf returns the position of the first entry equal to want at or after
// from, or -1.
func indexOf(list []string, want string, from int) int {
	for i := from; i < len(list); i++ {
		if list[i] == want {
			return i
		}
	}
	return -1
}
