package surface

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

var (
	ErrPoolClosed    = errs.New(errs.KindStateConflict, "surface.Pool", "surface pool is closed")
	ErrPoolExhausted = errs.New(errs.KindResourceExhausted, "surface.Pool", "surface pool exhausted")
)

// Factory creates a fresh surface.
type Factory func() (*Surface, error)

// PoolConfig bounds a pool.
type PoolConfig struct {
	// Ceiling caps surfaces alive at once, idle plus lent. Zero means no cap.
	Ceiling int
	// AutoGenerate creates surfaces on demand when none is idle.
	AutoGenerate bool
}

// Pool lends rendering surfaces to pages. A surface handed out by Idle
// belongs to its caller until Push.
type Pool struct {
	cfg     PoolConfig
	factory Factory
	prepare func(*Surface)
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	idle     []*Surface
	lent     map[int]*Surface
	leases   map[int]uint64
	creating int
	closed   bool
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig, factory Factory, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		lent:    make(map[int]*Surface),
		leases:  make(map[int]uint64),
	}
}

// WithMetrics adds metrics tracking to the pool
func (p *Pool) WithMetrics(metrics *monitoring.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// WithPrepare sets a hook applied to every new or recycled surface before
// it becomes idle, such as injecting app-wide styles.
func (p *Pool) WithPrepare(fn func(*Surface)) *Pool {
	p.prepare = fn
	return p
}

// Preload creates up to n idle surfaces, stopping at the ceiling.
func (p *Pool) Preload(n int) error {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		if p.full() {
			p.mu.Unlock()
			return nil
		}
		p.creating++
		p.mu.Unlock()

		s, err := p.create()

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			return err
		}
		if p.closed {
			p.mu.Unlock()
			p.discard(s, "pool_closed")
			return ErrPoolClosed
		}
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}
	return nil
}

// Idle lends a healthy surface. Unhealthy idle surfaces are discarded on the
// way. When none is idle a new one is created if allowed; otherwise
// ErrPoolExhausted is returned.
func (p *Pool) Idle() (*Surface, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	var unhealthy []*Surface
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		s := p.idle[last]
		p.idle[last] = nil
		p.idle = p.idle[:last]

		if !s.Healthy() {
			unhealthy = append(unhealthy, s)
			continue
		}
		p.lend(s)
		p.mu.Unlock()
		p.discardAll(unhealthy)
		return s, nil
	}

	if !p.cfg.AutoGenerate || p.full() {
		p.mu.Unlock()
		p.discardAll(unhealthy)
		p.metrics.RecordPoolExhausted()
		return nil, ErrPoolExhausted
	}
	p.creating++
	p.mu.Unlock()
	p.discardAll(unhealthy)

	s, err := p.create()

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		p.discard(s, "pool_closed")
		return nil, ErrPoolClosed
	}
	p.lend(s)
	p.mu.Unlock()
	return s, nil
}

// Push returns a lent surface. Healthy surfaces are reset and made idle;
// unhealthy ones are torn down.
func (p *Pool) Push(s *Surface) error {
	p.mu.Lock()
	if _, ok := p.lent[s.ID()]; !ok {
		p.mu.Unlock()
		return errs.New(errs.KindNotFound, "surface.Pool.Push", "surface %d was not lent by this pool", s.ID())
	}
	p.leases[s.ID()]++
	closed := p.closed
	if s.Healthy() && !closed {
		// stays accounted as lent until it is idle again
		p.mu.Unlock()
		s.Reset()
		if p.prepare != nil {
			p.prepare(s)
		}
		p.mu.Lock()
		closed = p.closed
	}
	delete(p.lent, s.ID())
	p.metrics.AddSurfacesLent(-1)
	if !closed && s.Healthy() {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		return nil
	}
	delete(p.leases, s.ID())
	p.mu.Unlock()

	reason := s.State().String()
	if closed {
		reason = "pool_closed"
	}
	p.discard(s, reason)
	return nil
}

// Lookup finds a surface owned by the pool, idle or lent.
func (p *Pool) Lookup(id int) (*Surface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.lent[id]; ok {
		return s, true
	}
	for _, s := range p.idle {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Lease returns a lent surface and the number of its current lease. The
// number changes every time the surface is lent or returned.
func (p *Pool) Lease(id int) (*Surface, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.lent[id]
	if !ok {
		return nil, 0, false
	}
	return s, p.leases[id], true
}

// All returns every surface owned by the pool, ordered by id.
func (p *Pool) All() []*Surface {
	p.mu.Lock()
	out := append([]*Surface(nil), p.idle...)
	for _, s := range p.lent {
		out = append(out, s)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Clean tears down every surface, calling onEach first for each one, and
// closes the pool.
func (p *Pool) Clean(onEach func(*Surface)) {
	p.mu.Lock()
	all := append([]*Surface(nil), p.idle...)
	for _, s := range p.lent {
		all = append(all, s)
	}
	p.metrics.AddSurfacesLent(-len(p.lent))
	p.idle = nil
	p.lent = make(map[int]*Surface)
	p.leases = make(map[int]uint64)
	p.closed = true
	p.mu.Unlock()

	for _, s := range all {
		if onEach != nil {
			onEach(s)
		}
		s.Close()
		p.metrics.RecordSurfaceDiscarded("clean")
	}
}

// Stats describes the pool.
type Stats struct {
	Idle         int  `json:"idle"`
	Lent         int  `json:"lent"`
	Ceiling      int  `json:"ceiling"`
	AutoGenerate bool `json:"auto_generate"`
	Closed       bool `json:"closed"`
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Idle:         len(p.idle),
		Lent:         len(p.lent),
		Ceiling:      p.cfg.Ceiling,
		AutoGenerate: p.cfg.AutoGenerate,
		Closed:       p.closed,
	}
}

func (p *Pool) full() bool {
	return p.cfg.Ceiling > 0 && len(p.idle)+len(p.lent)+p.creating >= p.cfg.Ceiling
}

func (p *Pool) create() (*Surface, error) {
	if p.factory == nil {
		return nil, errs.New(errs.KindInternal, "surface.Pool", "no surface factory")
	}
	s, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.metrics.RecordSurfaceCreated()
	p.logger.Debug("surface created", zap.Int("surface_id", s.ID()))
	if p.prepare != nil {
		p.prepare(s)
	}
	return s, nil
}

func (p *Pool) lend(s *Surface) {
	p.lent[s.ID()] = s
	p.leases[s.ID()]++
	p.metrics.AddSurfacesLent(1)
}

func (p *Pool) discardAll(list []*Surface) {
	for _, s := range list {
		p.discard(s, s.State().String())
	}
}

func (p *Pool) discard(s *Surface, reason string) {
	s.Close()
	p.metrics.RecordSurfaceDiscarded(reason)
	p.logger.Debug("surface discarded", zap.Int("surface_id", s.ID()), zap.String("reason", reason))
}
