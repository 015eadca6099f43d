package surface

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// State is the load state of a surface.
type State uint8

const (
	StateNone State = iota
	StateLoaded
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	}
	return "none"
}

// Transport carries frames to the renderer behind a surface.
type Transport interface {
	Send(f bridge.Frame) error
	Close() error
}

// Surface is one rendering surface. It is owned by an instance loop and
// must only be used from it.
type Surface struct {
	id     int
	logger *zap.Logger

	state     State
	transport Transport
	pageID    int
	uses      int

	afterLoad   []func()
	firstRender func()
	onFailure   func(State)
	scripts     []string
}

// New creates a surface in the none state.
func New(id int, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{id: id, logger: logger.With(zap.Int("surface_id", id))}
}

// ID returns the surface id.
func (s *Surface) ID() int { return s.id }

// State returns the load state.
func (s *Surface) State() State { return s.state }

// PageID returns the bound page, or 0.
func (s *Surface) PageID() int { return s.pageID }

// Uses returns how many times the surface has been recycled.
func (s *Surface) Uses() int { return s.uses }

// Healthy reports whether the surface may be handed out.
func (s *Surface) Healthy() bool {
	return s.state != StateTerminated && s.state != StateFailed
}

// Attached reports whether a renderer is connected.
func (s *Surface) Attached() bool { return s.transport != nil }

// Bind records the page the surface is displaying.
func (s *Surface) Bind(pageID int) { s.pageID = pageID }

// Attach connects a renderer, replacing any previous one.
func (s *Surface) Attach(t Transport) {
	if s.transport != nil && s.transport != t {
		_ = s.transport.Close()
	}
	s.transport = t
}

// Detach disconnects t if it is the current renderer.
func (s *Surface) Detach(t Transport) bool {
	if s.transport != t {
		return false
	}
	s.transport = nil
	return true
}

// SetState applies a load state change. Entering loaded runs functions
// queued by RunAfterLoad; any other state drops them. Entering terminated or
// failed notifies the failure handler.
func (s *Surface) SetState(st State) {
	prev := s.state
	s.state = st

	if st == StateLoaded {
		pending := s.afterLoad
		s.afterLoad = nil
		for _, fn := range pending {
			fn()
		}
		return
	}

	s.afterLoad = nil
	if (st == StateTerminated || st == StateFailed) && prev != st {
		s.logger.Warn("surface unhealthy", zap.String("state", st.String()))
		if h := s.onFailure; h != nil {
			s.onFailure = nil
			h(st)
		}
	}
}

// RunAfterLoad runs fn now if baseline content is loaded, or once it is.
func (s *Surface) RunAfterLoad(fn func()) {
	switch s.state {
	case StateLoaded:
		fn()
	case StateNone:
		s.afterLoad = append(s.afterLoad, fn)
	}
}

// Send delivers a frame to the renderer.
func (s *Surface) Send(f bridge.Frame) error {
	if !s.Healthy() {
		return errs.New(errs.KindTransport, "surface.Send", "surface %d is %s", s.id, s.state)
	}
	if s.transport == nil {
		return errs.New(errs.KindTransport, "surface.Send", "surface %d has no renderer", s.id)
	}
	if err := s.transport.Send(f); err != nil {
		return errs.Wrap(errs.KindTransport, "surface.Send", err)
	}
	return nil
}

// Deliver implements bridge.Endpoint.
func (s *Surface) Deliver(f bridge.Frame) error {
	return s.Send(f)
}

// Inject evaluates script in the surface once loaded. Injected scripts are
// page-local and dropped on reset.
func (s *Surface) Inject(script string) {
	s.scripts = append(s.scripts, script)
	s.RunAfterLoad(func() {
		if err := s.Send(bridge.Frame{Type: bridge.FrameEvaluate, Params: script}); err != nil {
			s.logger.Debug("inject failed", zap.Error(err))
		}
	})
}

// Scripts returns the scripts injected since the last reset.
func (s *Surface) Scripts() []string {
	return append([]string(nil), s.scripts...)
}

// OnFirstRender sets the handler for the next first-render signal.
func (s *Surface) OnFirstRender(fn func()) { s.firstRender = fn }

// FirstRendered fires and clears the first-render handler.
func (s *Surface) FirstRendered() {
	if h := s.firstRender; h != nil {
		s.firstRender = nil
		h()
	}
}

// OnFailure sets the handler run once when the surface becomes unhealthy.
func (s *Surface) OnFailure(fn func(State)) { s.onFailure = fn }

// Reset clears everything tied to the previous page and asks the renderer
// to reload its baseline. The surface returns to none until the renderer
// reports loaded again.
func (s *Surface) Reset() {
	s.pageID = 0
	s.firstRender = nil
	s.onFailure = nil
	s.afterLoad = nil
	s.scripts = nil
	s.uses++

	if !s.Healthy() {
		return
	}
	s.state = StateNone
	if s.transport != nil {
		if err := s.transport.Send(bridge.Frame{Type: bridge.FrameReload}); err != nil {
			s.logger.Debug("reload failed", zap.Error(err))
		}
	}
}

// Close tears the surface down.
func (s *Surface) Close() {
	s.afterLoad = nil
	s.firstRender = nil
	s.onFailure = nil
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	if s.state != StateFailed {
		s.state = StateTerminated
	}
}

// Receive applies a renderer frame that concerns the surface itself: load
// state reports and the first-render signal. It returns false for frames the
// bridge must route.
func (s *Surface) Receive(f bridge.Frame) bool {
	switch f.Type {
	case bridge.FrameLoaded:
		s.SetState(StateLoaded)
		return true
	case bridge.FrameFailed:
		s.SetState(StateFailed)
		return true
	case bridge.FramePublish:
		if f.Event == bridge.FirstRenderEvent {
			s.FirstRendered()
			return true
		}
	}
	return false
}
