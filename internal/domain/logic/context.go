package logic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/loop"
)

// Context is the single-threaded script domain of one application instance.
// The goja VM is only touched from the context's own loop.
type Context struct {
	name   string
	config Config
	hooks  Hooks
	clock  clock.Clock
	logger *zap.Logger

	loop *loop.Loop
	vm   *goja.Runtime

	mu       sync.Mutex
	timers   map[int64]*timer
	timerSeq int64

	closing atomic.Bool
	exited  atomic.Bool
}

type timer struct {
	t        *clock.Timer
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
}

// New creates a logic context with its own loop and a fresh VM.
func New(name string, config Config, clk clock.Clock, hooks Hooks, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if config.ScriptTimeout <= 0 {
		config.ScriptTimeout = DefaultConfig().ScriptTimeout
	}
	if config.MaxCallStackSize <= 0 {
		config.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}

	c := &Context{
		name:   name,
		config: config,
		hooks:  hooks,
		clock:  clk,
		logger: logger.Named("logic").With(zap.String("context", name)),
		timers: make(map[int64]*timer),
	}
	c.loop = loop.New("logic:"+name, c.logger)

	var setupErr error
	err := c.loop.Do(context.Background(), func() {
		c.vm = goja.New()
		c.vm.SetMaxCallStackSize(config.MaxCallStackSize)
		// host values reach scripts under their wire names
		c.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
		setupErr = c.setupGlobals()
	})
	if err == nil {
		err = setupErr
	}
	if err != nil {
		c.loop.Stop()
		return nil, errs.Wrap(errs.KindInternal, "logic.New", err)
	}
	return c, nil
}

// Post schedules fn on the logic loop after everything already queued.
func (c *Context) Post(fn func()) bool {
	if c.closing.Load() {
		return false
	}
	return c.loop.Post(fn)
}

// Exited reports whether Exit was called.
func (c *Context) Exited() bool { return c.exited.Load() }

// Evaluate runs src as a script named name and waits for it to finish.
func (c *Context) Evaluate(ctx context.Context, name, src string) (any, error) {
	if c.closing.Load() {
		return nil, errs.New(errs.KindStateConflict, "logic.Evaluate", "context exited")
	}

	var (
		out    any
		runErr error
	)
	err := c.loop.Do(ctx, func() {
		prog, err := goja.Compile(name, src, false)
		if err != nil {
			runErr = errs.Wrap(errs.KindMalformedInput, "logic.Evaluate", err)
			return
		}
		runErr = c.guard(func() error {
			v, err := c.vm.RunProgram(prog)
			if err == nil {
				out = exportValue(v)
			}
			return err
		})
	})
	if errors.Is(err, loop.ErrStopped) {
		return nil, errs.New(errs.KindStateConflict, "logic.Evaluate", "context exited")
	}
	if err != nil {
		return nil, err
	}
	return out, runErr
}

// Deliver implements bridge.Endpoint. Replies go to the script's callback
// handler, subscriptions to its subscribe handler. Delivery is asynchronous.
func (c *Context) Deliver(f bridge.Frame) error {
	if c.closing.Load() {
		return errs.New(errs.KindTransport, "logic.Deliver", "context exited")
	}
	if !c.loop.Post(func() { c.dispatch(f) }) {
		return errs.New(errs.KindTransport, "logic.Deliver", "context exited")
	}
	return nil
}

func (c *Context) dispatch(f bridge.Frame) {
	var (
		method string
		args   []goja.Value
	)
	switch f.Type {
	case bridge.FrameReply:
		reply := c.vm.NewObject()
		_ = reply.Set("callbackId", f.CallbackID)
		if f.ErrMsg != "" {
			_ = reply.Set("errMsg", f.ErrMsg)
		} else {
			_ = reply.Set("result", c.vm.ToValue(f.Result))
		}
		method, args = callbackHandler, []goja.Value{reply}
	case bridge.FrameSubscribe:
		method = subscribeHandler
		args = []goja.Value{c.vm.ToValue(f.Event), c.parse(f.Params), c.vm.ToValue(f.SurfaceID)}
	default:
		c.logger.Debug("ignoring frame", zap.String("type", string(f.Type)))
		return
	}

	fn, ok := c.handler(method)
	if !ok {
		c.logger.Debug("no script handler", zap.String("handler", method), zap.String("event", f.Event))
		return
	}
	if err := c.guard(func() error {
		_, err := fn(goja.Undefined(), args...)
		return err
	}); err != nil {
		c.logger.Warn("script handler failed",
			zap.String("handler", method),
			zap.String("event", f.Event),
			zap.Error(err),
		)
	}
}

// handler looks up JSBridge.<method>.
func (c *Context) handler(method string) (goja.Callable, bool) {
	obj := c.vm.Get(bridgeGlobal)
	if obj == nil || goja.IsUndefined(obj) || goja.IsNull(obj) {
		return nil, false
	}
	return goja.AssertFunction(obj.ToObject(c.vm).Get(method))
}

// parse turns a JSON params string into a script value. Malformed params
// arrive as the raw string.
func (c *Context) parse(params string) goja.Value {
	if params == "" {
		return c.vm.NewObject()
	}
	var v any
	if err := sonic.UnmarshalString(params, &v); err != nil {
		return c.vm.ToValue(params)
	}
	return c.vm.ToValue(v)
}

// guard runs fn with the script timeout armed.
func (c *Context) guard(fn func() error) error {
	t := time.AfterFunc(c.config.ScriptTimeout, func() {
		c.vm.Interrupt("script timeout exceeded")
	})
	err := fn()
	t.Stop()
	c.vm.ClearInterrupt()

	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return errs.New(errs.KindResourceExhausted, "logic.guard", "%v", interrupted.Value())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return errs.New(errs.KindInternal, "logic.guard", "%s", exception.Error())
	}
	return errs.Wrap(errs.KindInternal, "logic.guard", err)
}

// Exit stops timers, interrupts any running script and stops the loop.
// Queued work is dropped.
func (c *Context) Exit() {
	c.closing.Store(true)
	if !c.exited.CompareAndSwap(false, true) {
		return
	}
	c.stopTimers()
	c.vm.Interrupt("context exited")
	c.loop.Stop()
	c.logger.Debug("logic context exited")
}

// ExitAfterPending stops timers and lets the work already queued run before
// exiting. New work is refused from now on. A script still running after the
// script timeout is interrupted.
func (c *Context) ExitAfterPending() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.stopTimers()
	t := time.AfterFunc(c.config.ScriptTimeout, c.Exit)
	if !c.loop.Post(func() {
		t.Stop()
		c.Exit()
	}) {
		t.Stop()
		c.Exit()
	}
}

func (c *Context) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		if t.t != nil {
			t.t.Stop()
		}
		delete(c.timers, id)
	}
}

// Done is closed once the loop has stopped.
func (c *Context) Done() <-chan struct{} { return c.loop.Done() }

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
