package logic

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/batch"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// setupGlobals installs the host API and removes module loading.
func (c *Context) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := c.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := c.vm.NewObject()
	for _, level := range []string{"log", "debug", "info", "warn", "error"} {
		if err := console.Set(level, c.consoleFunc(level)); err != nil {
			return err
		}
	}

	native := c.vm.NewObject()
	_ = native.Set("invoke", c.invoke)
	_ = native.Set("publish", c.publish)

	canvas := c.vm.NewObject()
	_ = canvas.Set("exec", c.canvasExec)

	storage := c.vm.NewObject()
	_ = storage.Set("getSync", c.storageFunc(StorageGet))
	_ = storage.Set("setSync", c.storageFunc(StorageSet))
	_ = storage.Set("removeSync", c.storageFunc(StorageRemove))
	_ = storage.Set("clearSync", c.storageFunc(StorageClear))
	_ = storage.Set("infoSync", c.storageFunc(StorageInfo))

	globals := map[string]any{
		"console":       console,
		"nativeBridge":  native,
		"nativeCanvas":  canvas,
		"nativeStorage": storage,
		"setTimeout":    c.setTimer(false),
		"setInterval":   c.setTimer(true),
		"clearTimeout":  c.clearTimer,
		"clearInterval": c.clearTimer,
	}
	for name, v := range globals {
		if err := c.vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "debug":
			c.logger.Debug(msg, zap.String("source", "console"))
		case "warn":
			c.logger.Warn(msg, zap.String("source", "console"))
		case "error":
			c.logger.Error(msg, zap.String("source", "console"))
		default:
			c.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// params renders a script value as the JSON params string of a message.
func (c *Context) params(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "{}"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	return bridge.EncodeParams(v.Export())
}

// invoke is nativeBridge.invoke(event, params, callbackId).
func (c *Context) invoke(call goja.FunctionCall) goja.Value {
	if c.hooks.Invoke == nil {
		return goja.Undefined()
	}
	c.hooks.Invoke(bridge.InvokeArgs{
		Event:      call.Argument(0).String(),
		Params:     c.params(call.Argument(1)),
		CallbackID: int(call.Argument(2).ToInteger()),
	})
	return goja.Undefined()
}

// publish is nativeBridge.publish(event, params, surfaceId).
func (c *Context) publish(call goja.FunctionCall) goja.Value {
	if c.hooks.Publish == nil {
		return goja.Undefined()
	}
	c.hooks.Publish(bridge.PublishArgs{
		Event:     call.Argument(0).String(),
		Params:    c.params(call.Argument(1)),
		SurfaceID: int(call.Argument(2).ToInteger()),
	})
	return goja.Undefined()
}

// canvasExec is nativeCanvas.exec(surfaceId, nodeId, command).
func (c *Context) canvasExec(call goja.FunctionCall) goja.Value {
	if c.hooks.Canvas == nil {
		return goja.Undefined()
	}
	target := batch.Target{
		SurfaceID: int(call.Argument(0).ToInteger()),
		NodeID:    int(call.Argument(1).ToInteger()),
	}
	raw, ok := call.Argument(2).Export().([]any)
	if !ok {
		panic(c.vm.NewTypeError("canvas command must be an array"))
	}
	if err := c.hooks.Canvas(target, batch.Command(raw)); err != nil {
		panic(c.vm.NewGoError(err))
	}
	return goja.Undefined()
}

func (c *Context) storageFunc(op StorageOp) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if c.hooks.Storage == nil {
			panic(c.vm.NewGoError(errs.New(errs.KindNotFound, "logic.storage", "storage unavailable")))
		}
		var (
			key   string
			value any
		)
		if len(call.Arguments) > 0 {
			key = call.Argument(0).String()
		}
		if len(call.Arguments) > 1 {
			value = exportValue(call.Argument(1))
		}
		out, err := c.hooks.Storage(op, key, value)
		if err != nil {
			panic(c.vm.NewGoError(err))
		}
		return c.vm.ToValue(out)
	}
}

// setTimer implements setTimeout and setInterval on the context clock.
// Callbacks run on the logic loop.
func (c *Context) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(c.vm.NewTypeError("timer callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		t := &timer{fn: fn, args: args}
		if repeat {
			t.interval = delay
			if t.interval < time.Millisecond {
				t.interval = time.Millisecond
			}
		}

		c.mu.Lock()
		c.timerSeq++
		id := c.timerSeq
		c.timers[id] = t
		c.mu.Unlock()

		c.arm(id, t, delay)
		return c.vm.ToValue(id)
	}
}

func (c *Context) arm(id int64, t *timer, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, live := c.timers[id]; !live || c.closing.Load() {
		return
	}
	t.t = c.clock.AfterFunc(delay, func() {
		c.Post(func() { c.fire(id) })
	})
}

func (c *Context) fire(id int64) {
	c.mu.Lock()
	t, ok := c.timers[id]
	if ok && t.interval == 0 {
		delete(c.timers, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.guard(func() error {
		_, err := t.fn(goja.Undefined(), t.args...)
		return err
	}); err != nil {
		c.logger.Warn("timer callback failed", zap.Int64("timer", id), zap.Error(err))
	}
	if t.interval > 0 {
		c.arm(id, t, t.interval)
	}
}

func (c *Context) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		if t.t != nil {
			t.t.Stop()
		}
		delete(c.timers, id)
	}
	c.mu.Unlock()
	return goja.Undefined()
}

// Timers returns the number of live timers.
func (c *Context) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
