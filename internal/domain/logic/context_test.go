package logic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/batch"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// service is a minimal JSBridge like the one a service bundle installs.
const service = `
var replies = [];
var events = [];
var JSBridge = {
	invokeCallbackHandler: function (r) { replies.push(r); },
	subscribeHandler: function (event, params, surfaceId) {
		events.push({ event: event, params: params, surfaceId: surfaceId });
	}
};
`

type calls struct {
	mu       sync.Mutex
	invokes  []bridge.InvokeArgs
	publish  []bridge.PublishArgs
	commands []batch.Command
	storage  map[string]any
}

func newContext(t *testing.T, clk clock.Clock, cfg Config) (*Context, *calls) {
	t.Helper()
	rec := &calls{storage: make(map[string]any)}
	hooks := Hooks{
		Invoke: func(a bridge.InvokeArgs) {
			rec.mu.Lock()
			rec.invokes = append(rec.invokes, a)
			rec.mu.Unlock()
		},
		Publish: func(a bridge.PublishArgs) {
			rec.mu.Lock()
			rec.publish = append(rec.publish, a)
			rec.mu.Unlock()
		},
		Canvas: func(_ batch.Target, cmd batch.Command) error {
			if cmd.Op() == "" {
				return errs.New(errs.KindMalformedInput, "test", "bad command")
			}
			rec.mu.Lock()
			rec.commands = append(rec.commands, cmd)
			rec.mu.Unlock()
			return nil
		},
		Storage: func(op StorageOp, key string, value any) (any, error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			switch op {
			case StorageSet:
				rec.storage[key] = value
				return nil, nil
			case StorageGet:
				v, ok := rec.storage[key]
				if !ok {
					return nil, errs.New(errs.KindNotFound, "test", "data not found")
				}
				return v, nil
			}
			return nil, nil
		},
	}
	c, err := New("test", cfg, clk, hooks, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Exit)

	_, err = c.Evaluate(context.Background(), "service.js", service)
	require.NoError(t, err)
	return c, rec
}

func (r *calls) invoked() []bridge.InvokeArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.InvokeArgs(nil), r.invokes...)
}

func (r *calls) published() []bridge.PublishArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.PublishArgs(nil), r.publish...)
}

func eval(t *testing.T, c *Context, src string) any {
	t.Helper()
	v, err := c.Evaluate(context.Background(), "test.js", src)
	require.NoError(t, err)
	return v
}

func TestEvaluate(t *testing.T) {
	c, _ := newContext(t, clock.NewMock(), DefaultConfig())

	assert.EqualValues(t, 4, eval(t, c, "Math.sqrt(16)"))
	assert.Equal(t, "HELLO", eval(t, c, "'hello'.toUpperCase()"))
	assert.Nil(t, eval(t, c, "typeof require === 'undefined' ? undefined : 1"))

	_, err := c.Evaluate(context.Background(), "bad.js", "function (")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)

	_, err = c.Evaluate(context.Background(), "throw.js", "throw new Error('boom')")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunawayScriptInterrupted(t *testing.T) {
	c, _ := newContext(t, clock.NewMock(), Config{ScriptTimeout: 50 * time.Millisecond})

	_, err := c.Evaluate(context.Background(), "loop.js", "while (true) {}")
	assert.ErrorIs(t, err, errs.ErrResourceExhausted)

	// the context keeps working after an interrupt
	assert.EqualValues(t, 2, eval(t, c, "1 + 1"))
}

func TestNativeBridgeCalls(t *testing.T) {
	c, rec := newContext(t, clock.NewMock(), DefaultConfig())

	eval(t, c, `
		nativeBridge.invoke("navigateTo", JSON.stringify({ url: "/detail" }), 1);
		nativeBridge.invoke("getStorage", { key: "k" }, 2);
		nativeBridge.publish("PAGE_EVENT", "{}", 3);
	`)

	invokes := rec.invoked()
	require.Len(t, invokes, 2)
	assert.Equal(t, bridge.InvokeArgs{Event: "navigateTo", Params: `{"url":"/detail"}`, CallbackID: 1}, invokes[0])
	assert.Equal(t, "getStorage", invokes[1].Event)
	assert.JSONEq(t, `{"key":"k"}`, invokes[1].Params)
	assert.Equal(t, 2, invokes[1].CallbackID)

	require.Len(t, rec.published(), 1)
	assert.Equal(t, 3, rec.published()[0].SurfaceID)
}

func TestDeliverReachesScriptHandlers(t *testing.T) {
	c, _ := newContext(t, clock.NewMock(), DefaultConfig())

	require.NoError(t, c.Deliver(bridge.ReplyFrame(bridge.Reply{CallbackID: 7, Result: map[string]any{"ok": true}})))
	require.NoError(t, c.Deliver(bridge.ReplyFrame(bridge.Reply{CallbackID: 8, ErrMsg: "denied"})))
	require.NoError(t, c.Deliver(bridge.SubscribeFrame("APP_ON_SHOW", `{"path":"/home"}`, 0)))

	assert.EqualValues(t, 2, eval(t, c, "replies.length"))
	assert.EqualValues(t, 7, eval(t, c, "replies[0].callbackId"))
	assert.Equal(t, true, eval(t, c, "replies[0].result.ok"))
	assert.Equal(t, "denied", eval(t, c, "replies[1].errMsg"))
	assert.Equal(t, "APP_ON_SHOW", eval(t, c, "events[0].event"))
	assert.Equal(t, "/home", eval(t, c, "events[0].params.path"))
}

func TestTimersRunOnClock(t *testing.T) {
	clk := clock.NewMock()
	c, rec := newContext(t, clk, DefaultConfig())

	eval(t, c, `
		setTimeout(function (n) { nativeBridge.publish("timeout", "{}", n); }, 50, 4);
		var cancelled = setTimeout(function () { nativeBridge.publish("never", "{}", 0); }, 10);
		clearTimeout(cancelled);
		var ticks = 0;
		var iv = setInterval(function () {
			ticks++;
			if (ticks === 3) { clearInterval(iv); }
		}, 20);
	`)
	assert.Equal(t, 2, c.Timers())

	// timer callbacks are posted asynchronously, so keep time moving until
	// both the timeout and the third interval tick have run
	require.Eventually(t, func() bool {
		clk.Add(10 * time.Millisecond)
		v, err := c.Evaluate(context.Background(), "ticks.js", "ticks")
		return err == nil && v == int64(3) && len(rec.published()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "timeout", rec.published()[0].Event)
	assert.Equal(t, 4, rec.published()[0].SurfaceID)
	assert.Zero(t, c.Timers())
}

func TestCanvasAndStorageGlobals(t *testing.T) {
	c, rec := newContext(t, clock.NewMock(), DefaultConfig())

	eval(t, c, `nativeCanvas.exec(1, 9, ["fillRect", 0, 0, 10, 10]);`)
	rec.mu.Lock()
	require.Len(t, rec.commands, 1)
	assert.Equal(t, "fillRect", rec.commands[0].Op())
	rec.mu.Unlock()

	_, err := c.Evaluate(context.Background(), "bad-canvas.js", `nativeCanvas.exec(1, 9, "fill")`)
	assert.Error(t, err)

	eval(t, c, `nativeStorage.setSync("token", "abc")`)
	assert.Equal(t, "abc", eval(t, c, `nativeStorage.getSync("token")`))
	assert.Equal(t, "caught", eval(t, c, `
		(function () {
			try { nativeStorage.getSync("missing"); return "no"; }
			catch (e) { return "caught"; }
		})()
	`))
}

func TestExitStopsEverything(t *testing.T) {
	clk := clock.NewMock()
	c, rec := newContext(t, clk, DefaultConfig())
	eval(t, c, `setTimeout(function () { nativeBridge.publish("late", "{}", 0); }, 10);`)

	c.Exit()
	<-c.Done()
	assert.True(t, c.Exited())
	assert.Zero(t, c.Timers())

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.published())

	_, err := c.Evaluate(context.Background(), "after.js", "1")
	assert.ErrorIs(t, err, errs.ErrStateConflict)
	assert.ErrorIs(t, c.Deliver(bridge.SubscribeFrame("APP_ON_SHOW", "{}", 0)), errs.ErrTransport)
	assert.False(t, c.Post(func() {}))
}

func TestExitAfterPendingRunsQueuedWork(t *testing.T) {
	clk := clock.NewMock()
	c, rec := newContext(t, clk, DefaultConfig())
	eval(t, c, `
		JSBridge.subscribeHandler = function (event) { nativeBridge.publish(event, "{}", 0); };
		setTimeout(function () { nativeBridge.publish("late", "{}", 0); }, 10);
	`)

	require.NoError(t, c.Deliver(bridge.SubscribeFrame("PAGE_ON_UNLOAD", `{"pageId":2}`, 2)))
	require.NoError(t, c.Deliver(bridge.SubscribeFrame("PAGE_ON_UNLOAD", `{"pageId":1}`, 1)))
	c.ExitAfterPending()

	assert.ErrorIs(t, c.Deliver(bridge.SubscribeFrame("APP_ON_SHOW", "{}", 0)), errs.ErrTransport)
	assert.False(t, c.Post(func() {}))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context did not exit after its queued work")
	}
	assert.True(t, c.Exited())
	assert.Zero(t, c.Timers())

	clk.Add(time.Second)
	got := rec.published()
	require.Len(t, got, 2)
	assert.Equal(t, "PAGE_ON_UNLOAD", got[0].Event)
	assert.Equal(t, "PAGE_ON_UNLOAD", got[1].Event)
}

func TestExitAfterPendingInterruptsRunawayScript(t *testing.T) {
	c, _ := newContext(t, clock.NewMock(), Config{ScriptTimeout: 50 * time.Millisecond})
	require.True(t, c.Post(func() {
		_, _ = c.vm.RunString(`for (;;) {}`)
	}))
	c.ExitAfterPending()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runaway script kept the context alive")
	}
	assert.True(t, c.Exited())
}
