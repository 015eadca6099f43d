package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Source identifies where a message came from. LogicSource is the logic
// context; any positive value is a surface id.
type Source int

const LogicSource Source = 0

// Endpoint receives frames for one container.
type Endpoint interface {
	Deliver(f Frame) error
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(f Frame) error

func (fn EndpointFunc) Deliver(f Frame) error { return fn(f) }

// Handler serves one invocation. It must eventually Resolve or Reject the
// call, from any goroutine.
type Handler func(call *Call)

// Table maps events to handlers.
type Table map[Event]Handler

// Listener observes a broadcast on the host side.
type Listener func(key SubscribeKey, params string)

// Options configures a Bridge.
type Options struct {
	// Post runs fn on the owning host loop. Replies are always delivered
	// through it so they serialize with everything else the instance does.
	Post func(fn func())

	// Logic is the logic context endpoint.
	Logic Endpoint

	// Surface looks up a surface endpoint by id.
	Surface func(id int) (Endpoint, bool)

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Bridge routes invocations to handlers and broadcasts to containers.
type Bridge struct {
	post    func(func())
	logic   Endpoint
	surface func(int) (Endpoint, bool)
	logger  *zap.Logger
	metrics *monitoring.Metrics

	table     [eventCount]Handler
	callbacks *callbacks

	subsMu    sync.RWMutex
	subs      map[SubscribeKey][]*subscription
	keys      map[SubscribeKey]struct{}
	nextSubID int

	closed atomic.Bool
}

type subscription struct {
	id int
	fn Listener
}

// New creates a bridge serving table.
func New(opts Options, table Table) *Bridge {
	b := &Bridge{
		post:      opts.Post,
		logic:     opts.Logic,
		surface:   opts.Surface,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		callbacks: newCallbacks(),
		subs:      make(map[SubscribeKey][]*subscription),
		keys:      make(map[SubscribeKey]struct{}, len(builtinKeys)),
	}
	if b.post == nil {
		b.post = func(fn func()) { fn() }
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.surface == nil {
		b.surface = func(int) (Endpoint, bool) { return nil, false }
	}
	for ev, h := range table {
		if ev > EventUnknown && ev < eventCount {
			b.table[ev] = h
		}
	}
	for _, k := range builtinKeys {
		b.keys[k] = struct{}{}
	}
	return b
}

// Invoke dispatches an invocation from src. The reply, success or error, is
// delivered back to src at most once.
func (b *Bridge) Invoke(src Source, args InvokeArgs) {
	if b.closed.Load() {
		return
	}
	if args.CallbackID <= 0 {
		b.logger.Warn("invocation without callback id dropped",
			zap.String("event", args.Event),
			zap.Int("source", int(src)),
		)
		b.metrics.RecordInvocation(args.Event, "malformed")
		return
	}

	ev := ParseEvent(args.Event)
	if !b.callbacks.register(src, args.CallbackID, ev) {
		b.logger.Warn("duplicate callback id dropped",
			zap.String("event", args.Event),
			zap.Int("callback_id", args.CallbackID),
			zap.Int("source", int(src)),
		)
		b.metrics.RecordInvocation(args.Event, "duplicate")
		return
	}

	call := &Call{Event: ev, Args: args, Source: src, bridge: b}

	h := b.table[ev]
	if ev == EventUnknown || h == nil {
		b.metrics.RecordInvocation("unknown", "error")
		call.Reject(errs.New(errs.KindNotFound, "bridge.Invoke", "unknown event %q", args.Event))
		return
	}

	b.metrics.RecordInvocation(ev.String(), "dispatched")
	b.dispatch(h, call)
}

func (b *Bridge) dispatch(h Handler, call *Call) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event", call.Event.String()),
				zap.Any("panic", r),
			)
			call.Reject(errs.New(errs.KindInternal, "bridge.Invoke", "%s failed", call.Event))
		}
	}()
	h(call)
}

// deliverReply runs on the host loop.
func (b *Bridge) deliverReply(src Source, ev Event, r Reply) {
	if !b.callbacks.consume(src, r.CallbackID) {
		b.logger.Debug("late or duplicate reply dropped",
			zap.String("event", ev.String()),
			zap.Int("callback_id", r.CallbackID),
		)
		b.metrics.RecordReplyDropped("stale")
		return
	}

	ep, err := b.endpoint(src)
	if err != nil {
		b.logger.Debug("reply target gone", zap.Int("source", int(src)), zap.Error(err))
		b.metrics.RecordReplyDropped("target_gone")
		return
	}

	status := "ok"
	if r.ErrMsg != "" {
		status = "error"
	} else if r.Result == nil {
		r.Result = map[string]any{}
	}
	b.metrics.RecordInvocation(ev.String(), status)

	if err := ep.Deliver(ReplyFrame(r)); err != nil {
		b.logger.Warn("reply delivery failed",
			zap.Int("callback_id", r.CallbackID),
			zap.Error(err),
		)
	}
}

// Subscribe registers a host-side listener for key. The returned function
// removes it.
func (b *Bridge) Subscribe(key SubscribeKey, fn Listener) func() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.nextSubID++
	sub := &subscription{id: b.nextSubID, fn: fn}
	b.subs[key] = append(b.subs[key], sub)
	b.keys[key] = struct{}{}

	return func() {
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		list := b.subs[key]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// RegisterKey makes key publishable without a host-side listener.
func (b *Bridge) RegisterKey(key SubscribeKey) {
	b.subsMu.Lock()
	b.keys[key] = struct{}{}
	b.subsMu.Unlock()
}

// Publish broadcasts key with data. Host listeners are notified first; the
// message then goes to the logic context, or to surface target when target
// is positive.
func (b *Bridge) Publish(key SubscribeKey, data any, target int) error {
	if b.closed.Load() {
		return errs.New(errs.KindStateConflict, "bridge.Publish", "bridge closed")
	}

	b.subsMu.RLock()
	_, known := b.keys[key]
	listeners := append([]*subscription(nil), b.subs[key]...)
	b.subsMu.RUnlock()

	if !known {
		return errs.New(errs.KindNotFound, "bridge.Publish", "unregistered method key %q", key)
	}

	params := EncodeParams(data)
	for _, l := range listeners {
		l.fn(key, params)
	}
	b.metrics.RecordPublish(string(key))

	ep, err := b.endpoint(Source(target))
	if err != nil {
		return err
	}
	return ep.Deliver(SubscribeFrame(string(key), params, 0))
}

// Forward relays a publication between containers. From the logic context
// the target surface is required; from a surface the message goes to the
// logic context tagged with the originating surface id.
func (b *Bridge) Forward(from Source, args PublishArgs) error {
	if b.closed.Load() {
		return errs.New(errs.KindStateConflict, "bridge.Forward", "bridge closed")
	}
	if args.Event == "" {
		return errs.New(errs.KindMalformedInput, "bridge.Forward", "publish without event")
	}

	if from == LogicSource {
		if args.SurfaceID <= 0 {
			return errs.New(errs.KindMalformedInput, "bridge.Forward", "publish %q without target surface", args.Event)
		}
		ep, err := b.endpoint(Source(args.SurfaceID))
		if err != nil {
			return err
		}
		return ep.Deliver(SubscribeFrame(args.Event, args.Params, 0))
	}

	if b.logic == nil {
		return errs.New(errs.KindNotFound, "bridge.Forward", "logic context not found")
	}
	return b.logic.Deliver(SubscribeFrame(args.Event, args.Params, int(from)))
}

// Forget discards pending callbacks owned by src, typically a surface that
// is being recycled.
func (b *Bridge) Forget(src Source) int {
	return b.callbacks.forget(src)
}

// Pending returns the number of invocations still owed a reply.
func (b *Bridge) Pending() int {
	return b.callbacks.len()
}

// Close drops all pending callbacks; later replies are discarded.
func (b *Bridge) Close() {
	if b.closed.Swap(true) {
		return
	}
	if n := b.callbacks.reset(); n > 0 {
		b.logger.Debug("bridge closed with pending callbacks", zap.Int("pending", n))
	}
}

func (b *Bridge) endpoint(src Source) (Endpoint, error) {
	if src == LogicSource {
		if b.logic == nil {
			return nil, errs.New(errs.KindNotFound, "bridge", "logic context not found")
		}
		return b.logic, nil
	}
	ep, ok := b.surface(int(src))
	if !ok {
		return nil, errs.New(errs.KindNotFound, "bridge", "target container %d not found", int(src))
	}
	return ep, nil
}

// Call is one in-flight invocation.
type Call struct {
	Event  Event
	Args   InvokeArgs
	Source Source

	bridge *Bridge
	done   atomic.Bool
}

// Decode parses the invocation params into v.
func (c *Call) Decode(v any) error {
	return DecodeParams(c.Args.Params, v)
}

// Resolve answers the call with result. Only the first answer counts.
func (c *Call) Resolve(result any) {
	c.finish(Reply{CallbackID: c.Args.CallbackID, Result: result})
}

// Reject answers the call with err.
func (c *Call) Reject(err error) {
	if err == nil {
		err = fmt.Errorf("%s failed", c.Event)
	}
	c.finish(Reply{CallbackID: c.Args.CallbackID, ErrMsg: errs.Message(err)})
}

// Complete resolves with result when err is nil and rejects otherwise.
func (c *Call) Complete(result any, err error) {
	if err != nil {
		c.Reject(err)
		return
	}
	c.Resolve(result)
}

func (c *Call) finish(r Reply) {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	b := c.bridge
	b.post(func() { b.deliverReply(c.Source, c.Event, r) })
}
