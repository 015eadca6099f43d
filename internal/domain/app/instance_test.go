package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
)

func TestLaunchAnnouncesAndOpensFirstTab(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{ReferrerInfo: &bridge.ReferrerInfo{AppID: "host", ExtraDataString: "x=1"}})

	got := events(t, inst)
	launch := indexOf(got, string(bridge.KeyOnLaunch), 0)
	show := indexOf(got, string(bridge.KeyOnShow), 0)
	load := indexOf(got, string(bridge.KeyPageOnLoad), 0)
	require.True(t, launch >= 0 && show > launch && load > show, "events: %v", got)
	assert.True(t, indexOf(got, string(bridge.KeyPageOnReady), load) > load)
	assert.Equal(t, "host", eval(t, inst, "launch.referrerInfo.appId"))

	in, err := f.m.Inspect(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "front", in.AppState)
	assert.Equal(t, "active", in.TaskState)
	assert.True(t, in.Focused)
	page := currentPage(t, in)
	assert.Equal(t, "/pages/home", page.Route)
	assert.True(t, page.TabBarPage)
	assert.NotZero(t, page.SurfaceID)
}

func TestStylesInjectedIntoSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	sid := currentPage(t, info(t, inst)).SurfaceID

	var lb *surface.Loopback
	require.NoError(t, inst.do(context.Background(), func() { lb = inst.renderers[sid] }))
	require.NotNil(t, lb)

	var evaluated []string
	for _, fr := range lb.Frames() {
		if fr.Type == bridge.FrameEvaluate {
			evaluated = append(evaluated, fr.Params)
		}
	}
	require.Len(t, evaluated, 2)
	assert.Contains(t, evaluated[0], "style.css")
	assert.Contains(t, evaluated[0], "color: red")
	assert.Equal(t, `__apphost.setTitle("");`, evaluated[1])
}

func TestBackgroundBelowSuspendDelayStaysActive(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, inst.Hide(ctx))
	f.clk.Add(4900 * time.Millisecond)

	// still active: traffic flows instead of being captured
	eval(t, inst, `nativeBridge.invoke("getStorageInfo", "{}", 52);`)
	replied(t, inst, "52")
	queued, err := inst.Queued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
	assert.Equal(t, "back", info(t, inst).AppState)

	require.NoError(t, inst.Show(ctx))
	f.clk.Add(time.Minute)

	in := info(t, inst)
	assert.Equal(t, "front", in.AppState)
	assert.Equal(t, "active", in.TaskState)
	assert.Equal(t, -1, indexOf(events(t, inst), "APP_ON_TASK_STATE_CHANGE:suspend", 0))
}

func TestSuspendedTrafficReplaysOnShow(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, inst.Hide(ctx))
	f.clk.Add(4900 * time.Millisecond)
	assert.Equal(t, "active", info(t, inst).TaskState)

	f.clk.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		in, err := inst.Info(ctx)
		return err == nil && in.TaskState == "suspend"
	}, 2*time.Second, 5*time.Millisecond)

	eval(t, inst, `nativeBridge.invoke("getStorageInfo", "{}", 41);`)
	require.NoError(t, inst.Publish(ctx, bridge.KeyThemeChange, map[string]string{"theme": "dark"}))

	var queued []lifecycle.Entry
	require.Eventually(t, func() bool {
		var err error
		queued, err = inst.Queued(ctx)
		return err == nil && len(queued) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, lifecycle.EntryInvoke, queued[0].Kind)
	assert.Equal(t, 41, queued[0].Invoke.CallbackID)
	assert.Equal(t, lifecycle.EntryDeliver, queued[1].Kind)
	assert.Equal(t, string(bridge.KeyThemeChange), queued[1].Frame.Event)
	assert.Equal(t, false, eval(t, inst, "replies[41] !== undefined"))

	require.NoError(t, inst.Show(ctx))
	replied(t, inst, "41")
	assert.Zero(t, info(t, inst).Queued)

	got := events(t, inst)
	hide := indexOf(got, string(bridge.KeyOnHide), 0)
	suspend := indexOf(got, "APP_ON_TASK_STATE_CHANGE:suspend", hide)
	resume := indexOf(got, "APP_ON_TASK_STATE_CHANGE:active", suspend)
	show := indexOf(got, string(bridge.KeyOnShow), resume)
	theme := indexOf(got, string(bridge.KeyThemeChange), show)
	assert.True(t, hide >= 0 && suspend > hide && resume > suspend && show > resume && theme > show, "events: %v", got)
}

func TestKillTimerTearsDownBackgroundInstance(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})

	require.NoError(t, inst.Hide(context.Background()))
	f.clk.Add(15 * time.Minute)

	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("instance still running after the kill delay")
	}
	_, ok := f.m.Get("demo")
	assert.False(t, ok)
	<-inst.logic.Done()
	assert.True(t, inst.logic.Exited())
	assert.Zero(t, f.m.Stats().Running)

	_, err := inst.Info(context.Background())
	assert.Error(t, err)
}

func TestKillSequence(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, inst.Hide(ctx))
	f.clk.Add(6 * time.Second)
	require.Eventually(t, func() bool {
		in, err := inst.Info(ctx)
		return err == nil && in.TaskState == "suspend"
	}, 2*time.Second, 5*time.Millisecond)
	eval(t, inst, `nativeBridge.invoke("clearStorage", "{}", 3);`)
	require.Eventually(t, func() bool {
		q, err := inst.Queued(ctx)
		return err == nil && len(q) == 1
	}, 2*time.Second, 5*time.Millisecond)

	surfaces := inst.pool.All()
	require.NotEmpty(t, surfaces)

	require.NoError(t, f.m.Kill(ctx, "demo"))
	<-inst.Done()
	<-inst.logic.Done()

	assert.True(t, inst.logic.Exited())
	assert.True(t, inst.pool.Stats().Closed)
	assert.Zero(t, inst.queue.Len())
	assert.Zero(t, inst.bridge.Pending())
	for _, s := range surfaces {
		assert.False(t, s.Healthy())
	}
	assert.Error(t, inst.ctx.Err())

	// killing twice is harmless
	assert.NoError(t, inst.Kill(ctx, "again"))
	assert.ErrorContains(t, f.m.Kill(ctx, "demo"), "not running")
}

// unloadRecorder keeps the routes of unloaded pages in storage, which
// outlives the logic context.
const unloadRecorder = `
var unloads = [];
var JSBridge = {
	invokeCallbackHandler: function () {},
	subscribeHandler: function (event, params) {
		if (event === "PAGE_ON_UNLOAD") {
			unloads.push(params.route);
			nativeStorage.setSync("unloads", unloads.join(","));
		}
	}
};
`

func TestKillUnloadsPagesBeforeLogicExits(t *testing.T) {
	f := newFixture(t, nil)
	f.install(t, "demo", unloadRecorder)
	ctx := context.Background()
	_, err := f.m.Launch(ctx, "demo", LaunchOptions{})
	require.NoError(t, err)
	inst, ok := f.m.Get("demo")
	require.True(t, ok)
	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavNavigateTo, URL: "/pages/detail"}))

	require.NoError(t, f.m.Kill(ctx, "demo"))
	<-inst.Done()
	select {
	case <-inst.logic.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("logic context still running after kill")
	}
	assert.True(t, inst.logic.Exited())

	item, err := inst.storage.Get("unloads")
	require.NoError(t, err)
	routes := strings.Split(item.Data, ",")
	detail := indexOf(routes, "/pages/detail", 0)
	home := indexOf(routes, "/pages/home", 0)
	assert.True(t, detail >= 0 && home > detail, "unloads: %v", routes)
}

func TestNavigationFromLogic(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})

	eval(t, inst, `nativeBridge.invoke("navigateTo", { url: "/pages/detail?id=3" }, 9);`)
	replied(t, inst, "9")
	assert.Nil(t, eval(t, inst, "replies[9].errMsg"))

	in := info(t, inst)
	require.Len(t, in.Navigation.Stack, 2)
	top := currentPage(t, in)
	assert.Equal(t, "/pages/detail", top.Route)
	assert.Equal(t, map[string]string{"id": "3"}, top.Query)

	eval(t, inst, `nativeBridge.invoke("navigateTo", { url: "/pages/me" }, 10);`)
	replied(t, inst, "10")
	assert.Equal(t, "cannot navigate to tab bar page", eval(t, inst, "replies[10].errMsg"))

	eval(t, inst, `nativeBridge.invoke("navigateBack", {}, 11);`)
	replied(t, inst, "11")
	assert.Len(t, info(t, inst).Navigation.Stack, 1)
}

func TestHostNavigation(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{Path: "pages/detail"})
	ctx := context.Background()

	page := currentPage(t, info(t, inst))
	assert.Equal(t, "/pages/detail", page.Route)
	assert.True(t, page.GotoHomeButton)

	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavGotoHome}))
	assert.Equal(t, "/pages/home", currentPage(t, info(t, inst)).Route)

	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavSelectTab, Index: 1}))
	assert.Equal(t, "/pages/me", currentPage(t, info(t, inst)).Route)

	err := inst.Navigate(ctx, NavRequest{Op: "fly"})
	assert.ErrorContains(t, err, "unknown navigation")
}

func TestStorageFromLogic(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})

	eval(t, inst, `
		nativeStorage.setSync("profile", { name: "ann" });
		nativeBridge.invoke("getStorage", { key: "profile" }, 7);
		nativeBridge.invoke("getStorage", { key: "missing" }, 8);
		nativeBridge.invoke("setStorage", { key: "n", data: 42 }, 12);
	`)
	replied(t, inst, "7")
	replied(t, inst, "8")
	replied(t, inst, "12")

	assert.Equal(t, "Object", eval(t, inst, "replies[7].result.dataType"))
	assert.Equal(t, "ann", eval(t, inst, "JSON.parse(replies[7].result.data).name"))
	assert.Equal(t, "data not found", eval(t, inst, "replies[8].errMsg"))
	assert.EqualValues(t, 42, eval(t, inst, `nativeStorage.getSync("n")`))

	eval(t, inst, `nativeBridge.invoke("getStorageInfo", {}, 13);`)
	replied(t, inst, "13")
	assert.Equal(t, "n,profile", eval(t, inst, "replies[13].result.keys.join(',')"))
}

func TestDeviceHandlers(t *testing.T) {
	f := newFixture(t, nil)
	f.install(t, "demo", service)
	writePNG(t, filepath.Join(f.root, "demo", "release", "images", "logo.png"), 3, 2)
	inst := f.launch(t, "demo", LaunchOptions{})
	ctx := context.Background()

	eval(t, inst, `
		nativeBridge.invoke("authorize", { scope: "scope.userInfo" }, 20);
		nativeBridge.invoke("authorize", { scope: "scope.nothing" }, 21);
		nativeBridge.invoke("getImageInfo", { src: "images/logo.png" }, 22);
		nativeBridge.invoke("getImageInfo", { src: "images/none.png" }, 23);
		nativeBridge.invoke("setKeepScreenOn", { keepScreenOn: true }, 24);
		nativeBridge.invoke("vibrate", {}, 25);
	`)
	for _, id := range []string{"20", "21", "22", "23", "24", "25"} {
		replied(t, inst, id)
	}

	assert.Nil(t, eval(t, inst, "replies[20].errMsg"))
	assert.Contains(t, eval(t, inst, "replies[21].errMsg"), "invalid scope")
	assert.EqualValues(t, 3, eval(t, inst, "replies[22].result.width"))
	assert.EqualValues(t, 2, eval(t, inst, "replies[22].result.height"))
	assert.Equal(t, "png", eval(t, inst, "replies[22].result.type"))
	assert.NotNil(t, eval(t, inst, "replies[23].errMsg"))
	assert.Contains(t, eval(t, inst, "replies[25].errMsg"), "unknown event")

	in := info(t, inst)
	assert.True(t, in.KeepScreenOn)
	assert.True(t, in.ScreenOn)

	require.NoError(t, inst.Hide(ctx))
	assert.False(t, info(t, inst).ScreenOn)
	require.NoError(t, inst.Show(ctx))
	assert.True(t, info(t, inst).ScreenOn)
}

func TestCanvasCommandsBatchPerTick(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	sid := currentPage(t, info(t, inst)).SurfaceID

	eval(t, inst, fmt.Sprintf(`
		nativeCanvas.exec(%d, 4, ["fillRect", 0, 0, 5, 5]);
		nativeCanvas.exec(%d, 4, ["stroke"]);
	`, sid, sid))

	var lb *surface.Loopback
	require.NoError(t, inst.do(context.Background(), func() { lb = inst.renderers[sid] }))
	require.NotNil(t, lb)

	var canvas []bridge.Frame
	require.Eventually(t, func() bool {
		canvas = canvas[:0]
		for _, fr := range lb.Frames() {
			if fr.Type == bridge.FrameCanvas {
				canvas = append(canvas, fr)
			}
		}
		return len(canvas) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, canvas, 1)
	assert.Equal(t, sid, canvas[0].SurfaceID)
	assert.True(t, strings.Index(canvas[0].Params, "fillRect") < strings.Index(canvas[0].Params, "stroke"))
	assert.Contains(t, canvas[0].Params, `"nodeId":4`)

	_, err := inst.logic.Evaluate(context.Background(), "bad.js", `nativeCanvas.exec(999, 1, ["fill"])`)
	assert.Error(t, err)
}

func TestCanvasCommandsStayWithTheirPage(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavNavigateTo, URL: "/pages/detail"}))
	sid := currentPage(t, info(t, inst)).SurfaceID
	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavNavigateBack, Delta: 1}))

	_, err := inst.logic.Evaluate(ctx, "stale.js", fmt.Sprintf(`nativeCanvas.exec(%d, 1, ["fillRect", 0, 0, 5, 5])`, sid))
	assert.ErrorContains(t, err, "no page on surface")

	require.NoError(t, inst.Navigate(ctx, NavRequest{Op: NavNavigateTo, URL: "/pages/detail?id=2"}))
	page := currentPage(t, info(t, inst))
	assert.Equal(t, map[string]string{"id": "2"}, page.Query)

	var lb *surface.Loopback
	require.NoError(t, inst.do(ctx, func() { lb = inst.renderers[page.SurfaceID] }))
	require.NotNil(t, lb)
	assert.Never(t, func() bool {
		for _, fr := range lb.Frames() {
			if fr.Type == bridge.FrameCanvas {
				return true
			}
		}
		return false
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestExitFromLogic(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.launch(t, "demo", LaunchOptions{})

	eval(t, inst, `nativeBridge.invoke("exitMiniProgram", {}, 30);`)
	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("exit did not kill the instance")
	}
	_, ok := f.m.Get("demo")
	assert.False(t, ok)
}

func TestRemoteRendererAttachAndDetach(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Headless = false })
	f.install(t, "demo", service)

	launched := make(chan error, 1)
	go func() {
		_, err := f.m.Launch(context.Background(), "demo", LaunchOptions{})
		launched <- err
	}()

	var inst *Instance
	require.Eventually(t, func() bool {
		var ok bool
		inst, ok = f.m.Get("demo")
		return ok && inst.pool.Stats().Lent > 0
	}, 2*time.Second, 5*time.Millisecond)

	var sid atomic.Int64
	lb := surface.NewLoopback(func(fr bridge.Frame) { inst.Receive(int(sid.Load()), fr) }, true)
	got, err := inst.AttachRenderer(context.Background(), 0, lb)
	require.NoError(t, err)
	sid.Store(int64(got))
	lb.Ready()

	select {
	case err := <-launched:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("launch did not finish after the renderer attached")
	}
	assert.Equal(t, got, currentPage(t, info(t, inst)).SurfaceID)

	inst.DetachRenderer(got, lb)
	require.Eventually(t, func() bool {
		p := currentPage(t, info(t, inst))
		return p.SurfaceID != 0 && p.SurfaceID != got
	}, 2*time.Second, 5*time.Millisecond)
}
