package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/batch"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/logic"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// fromLogicInvoke runs on the logic loop and hands the call to the host loop.
func (i *Instance) fromLogicInvoke(args bridge.InvokeArgs) {
	i.loop.Post(func() {
		if i.capture(lifecycle.Entry{Kind: lifecycle.EntryInvoke, Invoke: args}) {
			return
		}
		i.bridge.Invoke(bridge.LogicSource, args)
	})
}

// fromLogicPublish runs on the logic loop and hands the message to the host
// loop.
func (i *Instance) fromLogicPublish(args bridge.PublishArgs) {
	i.loop.Post(func() {
		if i.capture(lifecycle.Entry{Kind: lifecycle.EntryPublish, Publish: args}) {
			return
		}
		i.forwardFromLogic(args)
	})
}

// deliverToLogic is the bridge endpoint of the logic context.
func (i *Instance) deliverToLogic(f bridge.Frame) error {
	if i.capture(lifecycle.Entry{Kind: lifecycle.EntryDeliver, Frame: f}) {
		return nil
	}
	return i.logic.Deliver(f)
}

// capture queues e when the instance is suspended. The task state
// notification itself is published before suspension takes effect, so it is
// never captured.
func (i *Instance) capture(e lifecycle.Entry) bool {
	if !i.machine.Suspended() {
		return false
	}
	e.At = i.clock.Now()
	i.queue.Append(e)
	i.metrics.RecordQueued()
	return true
}

// replay dispatches a captured entry exactly as it would have been live.
func (i *Instance) replay(e lifecycle.Entry) {
	switch e.Kind {
	case lifecycle.EntryInvoke:
		i.bridge.Invoke(bridge.LogicSource, e.Invoke)
	case lifecycle.EntryPublish:
		i.forwardFromLogic(e.Publish)
	case lifecycle.EntryDeliver:
		if err := i.logic.Deliver(e.Frame); err != nil {
			i.logger.Debug("replay delivery failed", zap.Error(err))
		}
	}
}

func (i *Instance) forwardFromLogic(args bridge.PublishArgs) {
	if err := i.bridge.Forward(bridge.LogicSource, args); err != nil {
		i.logger.Debug("publish from logic dropped", zap.String("event", args.Event), zap.Error(err))
	}
}

// surfaceEndpoint resolves a surface for the bridge. Called on the host loop.
func (i *Instance) surfaceEndpoint(sid int) (bridge.Endpoint, bool) {
	s, ok := i.pool.Lookup(sid)
	if !ok {
		return nil, false
	}
	return s, true
}

// fromSurface applies a frame a renderer sent. Runs on the host loop.
func (i *Instance) fromSurface(sid int, f bridge.Frame) {
	s, ok := i.pool.Lookup(sid)
	if !ok {
		i.logger.Debug("frame from unknown surface dropped", zap.Int("surface_id", sid), zap.String("type", string(f.Type)))
		return
	}
	if s.Receive(f) {
		return
	}

	switch f.Type {
	case bridge.FrameInvoke:
		args, err := f.Invoke()
		if err != nil {
			i.logger.Warn("malformed invoke from surface", zap.Int("surface_id", sid), zap.Error(err))
			return
		}
		i.bridge.Invoke(bridge.Source(sid), args)
	case bridge.FramePublish:
		args, err := f.Publish()
		if err != nil {
			i.logger.Warn("malformed publish from surface", zap.Int("surface_id", sid), zap.Error(err))
			return
		}
		if err := i.bridge.Forward(bridge.Source(sid), args); err != nil {
			i.logger.Debug("publish from surface dropped", zap.Int("surface_id", sid), zap.Error(err))
		}
	default:
		i.logger.Debug("unexpected frame from surface", zap.Int("surface_id", sid), zap.String("type", string(f.Type)))
	}
}

// newSurface is the pool factory. Headless instances pair each surface with
// a loopback renderer; otherwise the surface waits for a renderer to attach.
func (i *Instance) newSurface() (*surface.Surface, error) {
	sid := i.surfaceSeq.Next()
	s := surface.New(sid, i.logger)
	if !i.cfg.Headless {
		return s, nil
	}

	lb := surface.NewLoopback(func(f bridge.Frame) {
		i.loop.Post(func() { i.fromSurface(sid, f) })
	}, true)
	s.Attach(lb)
	i.renderers[sid] = lb
	lb.Ready()
	return s, nil
}

// prepareSurface injects the application styles into a new or recycled
// surface.
func (i *Instance) prepareSurface(s *surface.Surface) {
	i.canvas.Drop(s.ID())
	for _, st := range i.bundle.Styles {
		s.Inject(styleScript(st))
	}
	// a recycled surface must not keep the previous page's title
	s.Inject(titleScript(i.defaultTitle()))
}

func (i *Instance) defaultTitle() string {
	if m := i.bundle.Manifest; m != nil {
		if t, ok := m.Window["navigationBarTitleText"].(string); ok {
			return t
		}
	}
	return ""
}

// AttachRenderer connects a remote renderer. With sid zero the lowest
// numbered surface without a renderer is chosen. The surface id is returned.
func (i *Instance) AttachRenderer(ctx context.Context, sid int, t surface.Transport) (int, error) {
	var (
		chosen int
		aerr   error
	)
	err := i.do(ctx, func() {
		var target *surface.Surface
		for _, s := range i.pool.All() {
			if !s.Healthy() {
				continue
			}
			if sid != 0 && s.ID() == sid {
				target = s
				break
			}
			if sid == 0 && !s.Attached() {
				target = s
				break
			}
		}
		if target == nil {
			aerr = errs.New(errs.KindNotFound, "app.AttachRenderer", "no surface is waiting for a renderer")
			return
		}
		target.Attach(t)
		chosen = target.ID()
		i.logger.Info("renderer attached", zap.Int("surface_id", chosen))
	})
	if err != nil {
		return 0, err
	}
	return chosen, aerr
}

// Receive hands a frame from a remote renderer to the host loop.
func (i *Instance) Receive(sid int, f bridge.Frame) bool {
	return i.loop.Post(func() { i.fromSurface(sid, f) })
}

// DetachRenderer disconnects t from surface sid. A surface that loses its
// renderer is terminated, which re-presents any page it was showing.
func (i *Instance) DetachRenderer(sid int, t surface.Transport) {
	i.loop.Post(func() {
		s, ok := i.pool.Lookup(sid)
		if !ok || !s.Detach(t) {
			return
		}
		i.logger.Info("renderer detached", zap.Int("surface_id", sid))
		i.canvas.Drop(sid)
		if n := i.bridge.Forget(bridge.Source(sid)); n > 0 {
			i.logger.Debug("pending callbacks dropped", zap.Int("surface_id", sid), zap.Int("count", n))
		}
		s.SetState(surface.StateTerminated)
	})
}

// enqueueCanvas runs on the logic loop.
func (i *Instance) enqueueCanvas(t batch.Target, cmd batch.Command) error {
	_, lease, ok := i.pool.Lease(t.SurfaceID)
	if !ok {
		return errs.New(errs.KindNotFound, "app.canvas", "no page on surface %d", t.SurfaceID)
	}
	t.Lease = lease
	return i.canvas.Enqueue(t, cmd)
}

// sendCanvas runs on a canvas worker and hands the batch to the host loop.
func (i *Instance) sendCanvas(t batch.Target, commands []batch.Command) error {
	frame := bridge.Frame{
		Type:      bridge.FrameCanvas,
		SurfaceID: t.SurfaceID,
		Params:    bridge.EncodeParams(batch.Payload{NodeID: t.NodeID, Commands: commands}),
	}
	if !i.loop.Post(func() {
		// batches of a previous page never reach the next one
		s, lease, ok := i.pool.Lease(t.SurfaceID)
		if !ok || lease != t.Lease {
			i.logger.Debug("stale canvas batch dropped", zap.Int("surface_id", t.SurfaceID))
			return
		}
		if err := s.Send(frame); err != nil {
			i.logger.Debug("canvas batch dropped", zap.Int("surface_id", t.SurfaceID), zap.Error(err))
		}
	}) {
		return errs.New(errs.KindStateConflict, "app.canvas", "instance stopped")
	}
	return nil
}

// storageSync serves the synchronous storage calls of the logic context.
func (i *Instance) storageSync(op logic.StorageOp, key string, value any) (any, error) {
	switch op {
	case logic.StorageGet:
		item, err := i.storage.Get(key)
		if err != nil {
			return nil, err
		}
		return item.Decode()
	case logic.StorageSet:
		if key == "" {
			return nil, errs.New(errs.KindMalformedInput, "app.storage", "key is required")
		}
		item, err := storage.Encode(value)
		if err != nil {
			return nil, err
		}
		return nil, i.storage.Set(key, item)
	case logic.StorageRemove:
		return nil, i.storage.Remove(key)
	case logic.StorageClear:
		return nil, i.storage.Clear()
	case logic.StorageInfo:
		info, err := i.storage.Info()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"keys":        info.Keys,
			"currentSize": info.CurrentSize,
			"limitSize":   info.LimitSize,
		}, nil
	}
	return nil, errs.New(errs.KindMalformedInput, "app.storage", "unknown storage op %q", op)
}
