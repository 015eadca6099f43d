package navigation

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// loadPage is the payload of the load frame sent to a surface.
type loadPage struct {
	PageID int               `json:"pageId"`
	Route  string            `json:"route"`
	Query  map[string]string `json:"query,omitempty"`
}

// renderWait races the surface's first frame against the first-render
// timeout and the overall load timeout. Whichever comes first settles it.
type renderWait struct {
	settled bool
	render  *clock.Timer
	load    *clock.Timer
}

func (w *renderWait) stop() {
	if w.render != nil {
		w.render.Stop()
	}
	if w.load != nil {
		w.load.Stop()
	}
}

// present borrows a surface for p and loads it. done runs on the loop once
// the page is ready or has failed to load; on failure p keeps no surface.
func (n *Navigator) present(p *Page, announce bool, done func(error)) {
	s, err := n.surfaces.Idle()
	if err != nil {
		done(err)
		return
	}

	p.surfaceID = s.ID()
	p.state = PageAwaitingFirstRender
	s.Bind(p.id)

	w := &renderWait{}
	settle := func(err error, via string) {
		if w.settled {
			return
		}
		w.settled = true
		w.stop()

		if err != nil {
			n.logger.Warn("page failed to load",
				zap.Int("page_id", p.id),
				zap.String("route", p.route.Path),
				zap.Error(err),
			)
			n.releaseSurface(p)
			p.state = PageCreated
			done(err)
			return
		}

		n.metrics.RecordFirstRender(via)
		if p.state == PageAwaitingFirstRender {
			p.state = PageReady
		}
		s.OnFailure(func(surface.State) { n.surfaceLost(p) })
		n.emit(bridge.KeyPageOnReady, n.payload(p))
		done(nil)
	}

	if n.cfg.LoadTimeout > 0 {
		w.load = n.clock.AfterFunc(n.cfg.LoadTimeout, func() {
			n.post(func() {
				settle(errs.New(errs.KindTransport, "navigation.present", "navigation failed to load %s", p.route.Path), "")
			})
		})
	}

	s.OnFailure(func(st surface.State) {
		settle(errs.New(errs.KindTransport, "navigation.present", "surface %s while loading %s", st, p.route.Path), "")
	})

	s.RunAfterLoad(func() {
		if w.settled {
			return
		}
		s.OnFirstRender(func() { settle(nil, "renderer") })
		w.render = n.clock.AfterFunc(n.cfg.FirstRenderTimeout, func() {
			n.post(func() { settle(nil, "timeout") })
		})

		if announce && !p.announced {
			p.announced = true
			n.emit(bridge.KeyPageOnLoad, n.payload(p))
		}
		frame := bridge.Frame{
			Type:   bridge.FrameLoadPage,
			Params: bridge.EncodeParams(loadPage{PageID: p.id, Route: p.route.Path, Query: p.route.Query}),
		}
		if err := s.Send(frame); err != nil {
			settle(err, "")
		}
	})
}

// surfaceLost replaces the dead surface of a live page with a fresh one.
func (n *Navigator) surfaceLost(p *Page) {
	if n.closed || p.state == PageUnloaded {
		return
	}
	n.logger.Warn("page surface lost, replacing",
		zap.Int("page_id", p.id),
		zap.Int("surface_id", p.surfaceID),
	)
	wasShown := p.state == PageShown
	n.releaseSurface(p)
	p.state = PageCreated

	if !n.inStack(p.id) {
		// off-screen tab pages get a surface again when selected
		return
	}
	n.present(p, false, func(err error) {
		if err != nil {
			return
		}
		if wasShown || n.current == p.id {
			n.show(p)
		}
	})
}

// releaseSurface hands p's surface back to the pool.
func (n *Navigator) releaseSurface(p *Page) {
	if p.surfaceID == 0 {
		return
	}
	if s, ok := n.surfaces.Lookup(p.surfaceID); ok {
		if err := n.surfaces.Push(s); err != nil {
			n.logger.Debug("surface return failed", zap.Int("surface_id", p.surfaceID), zap.Error(err))
		}
	}
	p.surfaceID = 0
}
