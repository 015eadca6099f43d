// Package loop provides a serial task executor.
//
// A Loop owns one goroutine that runs posted functions one at a time, in
// posting order. State touched only from inside a loop needs no locks. Every
// application instance, every logic context and every socket writer runs on
// its own Loop; cross-domain traffic is a Post to the receiving loop.
package loop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when posting to a stopped loop.
var ErrStopped = errors.New("loop stopped")

// Loop runs posted tasks sequentially on a dedicated goroutine.
// The queue is unbounded so a task may post to its own loop.
type Loop struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New starts a loop.
func New(name string, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post schedules fn and reports whether it was accepted.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside the same loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop prevents further posts. Tasks still queued are dropped; the task
// currently running, if any, completes. Safe to call from inside the loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.logger.Debug("loop stopped with queued tasks",
			zap.String("loop", l.name),
			zap.Int("dropped", dropped),
		)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		if fn == nil {
			<-l.wake
			continue
		}
		l.exec(fn)
	}
}

// next pops the head task. It returns (nil, true) when the queue is empty and
// the loop should wait, and (nil, false) once stopped.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil, false
	}
	if len(l.queue) == 0 {
		return nil, true
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked",
				zap.String("loop", l.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}
