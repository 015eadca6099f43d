// Package batch coalesces drawing commands issued by application logic.
//
// Commands for one canvas accumulate between scheduling ticks of the logic
// loop and leave as a single message per tick. Commands that reference an
// external image are resolved in batch order before the batch is sent, so
// a slow image never lets later commands overtake it.
package batch

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/loop"
)

// Ops whose first argument is an image source that must be resolved first.
const (
	OpDrawImage               = "drawImage"
	OpSetFillStyleByPattern   = "setFillStyleByPattern"
	OpSetStrokeStyleByPattern = "setStrokeStyleByPattern"
)

// Command is one drawing operation: the op name followed by its arguments.
type Command []any

// Op returns the command name, or "" for a malformed command.
func (c Command) Op() string {
	if len(c) == 0 {
		return ""
	}
	op, _ := c[0].(string)
	return op
}

// Async reports whether the command waits on an image load.
func (c Command) Async() bool {
	switch c.Op() {
	case OpDrawImage, OpSetFillStyleByPattern, OpSetStrokeStyleByPattern:
		return true
	}
	return false
}

// Target identifies a canvas node on a surface. Lease tells apart the pages
// a recycled surface has shown.
type Target struct {
	SurfaceID int
	NodeID    int
	Lease     uint64
}

func (t Target) String() string {
	return strconv.Itoa(t.SurfaceID) + "/" + strconv.Itoa(t.NodeID)
}

// Payload is the body of a canvas frame.
type Payload struct {
	NodeID   int       `json:"nodeId"`
	Commands []Command `json:"commands"`
}

// Resolver turns an image source into a URL the renderer can load, failing
// if the image is unavailable.
type Resolver interface {
	ResolveImage(ctx context.Context, src string) (string, error)
}

// Sender delivers one batch to its canvas.
type Sender func(t Target, commands []Command) error

// Hub owns the channels of one application instance.
type Hub struct {
	post     func(func()) bool
	resolver Resolver
	send     Sender
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[Target]*channel
	closed   bool
}

type channel struct {
	target    Target
	pending   []Command
	scheduled bool
	worker    *loop.Loop
}

// NewHub creates a hub. post schedules work at the end of the current logic
// tick; resolver may be nil if no command needs one.
func NewHub(post func(func()) bool, resolver Resolver, send Sender, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		post:     post,
		resolver: resolver,
		send:     send,
		logger:   logger.Named("batch"),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[Target]*channel),
	}
}

// WithMetrics attaches a metrics recorder.
func (h *Hub) WithMetrics(m *monitoring.Metrics) *Hub {
	h.metrics = m
	return h
}

// Enqueue appends cmd to the target's batch and schedules a flush if none is
// pending for this tick.
func (h *Hub) Enqueue(t Target, cmd Command) error {
	if cmd.Op() == "" {
		return errs.New(errs.KindMalformedInput, "batch.Enqueue", "command without op")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errs.New(errs.KindStateConflict, "batch.Enqueue", "hub closed")
	}
	ch, ok := h.channels[t]
	if !ok {
		ch = &channel{target: t, worker: loop.New("canvas:"+t.String(), h.logger)}
		h.channels[t] = ch
	}
	ch.pending = append(ch.pending, cmd)
	schedule := !ch.scheduled
	ch.scheduled = true
	h.mu.Unlock()

	if schedule && !h.post(func() { h.flush(ch) }) {
		h.mu.Lock()
		ch.scheduled = false
		h.mu.Unlock()
		return errs.New(errs.KindStateConflict, "batch.Enqueue", "logic context stopped")
	}
	return nil
}

// Pending returns the number of commands waiting for the next tick.
func (h *Hub) Pending(t Target) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[t]; ok {
		return len(ch.pending)
	}
	return 0
}

// flush hands the accumulated batch to the channel worker.
func (h *Hub) flush(ch *channel) {
	h.mu.Lock()
	commands := ch.pending
	ch.pending = nil
	ch.scheduled = false
	closed := h.closed
	h.mu.Unlock()

	if closed || len(commands) == 0 {
		return
	}
	ch.worker.Post(func() { h.process(ch.target, commands) })
}

// process runs on the channel worker, one batch at a time.
func (h *Hub) process(t Target, commands []Command) {
	out := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		if !cmd.Async() {
			out = append(out, cmd)
			continue
		}
		resolved, err := h.resolve(cmd)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.logger.Warn("dropping canvas command",
				zap.String("target", t.String()),
				zap.String("op", cmd.Op()),
				zap.Error(err),
			)
			continue
		}
		out = append(out, resolved)
	}

	if len(out) == 0 || h.ctx.Err() != nil {
		return
	}
	h.metrics.RecordCanvasBatch(len(out))
	if err := h.send(t, out); err != nil {
		h.logger.Debug("canvas batch not delivered", zap.String("target", t.String()), zap.Error(err))
	}
}

func (h *Hub) resolve(cmd Command) (Command, error) {
	if len(cmd) < 2 {
		return nil, errs.New(errs.KindMalformedInput, "batch.resolve", "%s without image source", cmd.Op())
	}
	src, ok := cmd[1].(string)
	if !ok || src == "" {
		return nil, errs.New(errs.KindMalformedInput, "batch.resolve", "%s image source must be a string", cmd.Op())
	}
	if h.resolver == nil {
		return cmd, nil
	}
	u, err := h.resolver.ResolveImage(h.ctx, src)
	if err != nil {
		return nil, err
	}
	out := append(Command(nil), cmd...)
	out[1] = u
	return out, nil
}

// Drop discards every channel of a surface.
func (h *Hub) Drop(surfaceID int) {
	h.mu.Lock()
	var workers []*loop.Loop
	for t, ch := range h.channels {
		if t.SurfaceID == surfaceID {
			workers = append(workers, ch.worker)
			delete(h.channels, t)
		}
	}
	h.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// Close stops all workers. Batches not yet sent are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	channels := h.channels
	h.channels = make(map[Target]*channel)
	h.mu.Unlock()

	h.cancel()
	for _, ch := range channels {
		ch.worker.Stop()
	}
}
