package surface

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Loopback is an in-process renderer. It records what it is sent and answers
// the way a well-behaved renderer would: a reload reports loaded again and,
// when AutoRender is set, a page load reports its first frame.
//
// notify receives the frames a real renderer would send back over the socket.
type Loopback struct {
	notify     func(bridge.Frame)
	autoRender bool

	mu     sync.Mutex
	frames []bridge.Frame
	closed bool
}

// NewLoopback creates a loopback renderer.
func NewLoopback(notify func(bridge.Frame), autoRender bool) *Loopback {
	return &Loopback{notify: notify, autoRender: autoRender}
}

// Send records f and emits the renderer's answer, if any.
func (l *Loopback) Send(f bridge.Frame) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errs.New(errs.KindTransport, "surface.Loopback", "renderer closed")
	}
	l.frames = append(l.frames, f)
	auto := l.autoRender
	l.mu.Unlock()

	switch f.Type {
	case bridge.FrameReload:
		l.emit(bridge.Frame{Type: bridge.FrameLoaded})
	case bridge.FrameLoadPage:
		if auto {
			l.emit(bridge.Frame{Type: bridge.FramePublish, Event: bridge.FirstRenderEvent})
		}
	}
	return nil
}

// Ready reports the renderer's baseline content as loaded.
func (l *Loopback) Ready() {
	l.emit(bridge.Frame{Type: bridge.FrameLoaded})
}

// Paint reports the first frame of the current page.
func (l *Loopback) Paint() {
	l.emit(bridge.Frame{Type: bridge.FramePublish, Event: bridge.FirstRenderEvent})
}

// SetAutoRender toggles automatic first-frame reports.
func (l *Loopback) SetAutoRender(on bool) {
	l.mu.Lock()
	l.autoRender = on
	l.mu.Unlock()
}

// Frames returns everything sent so far.
func (l *Loopback) Frames() []bridge.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bridge.Frame(nil), l.frames...)
}

// Close stops the renderer.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *Loopback) emit(f bridge.Frame) {
	if l.notify != nil {
		l.notify(f)
	}
}
