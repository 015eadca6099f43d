package lifecycle

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
)

// AppState is the visibility of an instance.
type AppState uint8

const (
	Back AppState = iota
	Front
)

func (s AppState) String() string {
	if s == Front {
		return "front"
	}
	return "back"
}

// TaskState tells whether the logic context is being fed messages.
type TaskState uint8

const (
	Active TaskState = iota
	Suspend
)

func (s TaskState) String() string {
	if s == Suspend {
		return "suspend"
	}
	return "active"
}

// Config holds the lifecycle delays.
type Config struct {
	// SuspendDelay is how long an instance stays active in the background.
	SuspendDelay time.Duration
	// KillDelay is how long an instance may stay in the background at all.
	// Zero disables the kill timer.
	KillDelay time.Duration
}

// DefaultConfig returns the standard delays.
func DefaultConfig() Config {
	return Config{
		SuspendDelay: 5 * time.Second,
		KillDelay:    15 * time.Minute,
	}
}

// Hooks are invoked on the owning loop as transitions happen.
type Hooks struct {
	// Shown runs after entering front and after task state is active again.
	Shown func()
	// Hidden runs after entering back, before timers are armed.
	Hidden func()
	// TaskStateChanged runs while the outgoing task state is still in
	// effect when suspending, and after the new state is in effect when
	// resuming. Either way the notification itself is never captured.
	TaskStateChanged func(TaskState)
	// Expired runs when the kill timer fires.
	Expired func()
}

// Machine is the lifecycle state machine of one instance. All methods must
// be called from the owning loop; timer callbacks re-enter it through post.
type Machine struct {
	cfg     Config
	clock   clock.Clock
	post    func(func())
	hooks   Hooks
	logger  *zap.Logger
	metrics *monitoring.Metrics

	app    AppState
	task   TaskState
	killed bool

	// gen changes on every transition so stale timer callbacks are ignored
	gen          uint64
	suspendTimer *clock.Timer
	killTimer    *clock.Timer
}

// New creates a machine in the back/active state.
func New(cfg Config, clk clock.Clock, post func(func()), hooks Hooks, logger *zap.Logger) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:    cfg,
		clock:  clk,
		post:   post,
		hooks:  hooks,
		logger: logger,
	}
}

// WithMetrics adds metrics tracking to the machine
func (m *Machine) WithMetrics(metrics *monitoring.Metrics) *Machine {
	m.metrics = metrics
	return m
}

// AppState returns the current visibility.
func (m *Machine) AppState() AppState { return m.app }

// TaskState returns the current task state.
func (m *Machine) TaskState() TaskState { return m.task }

// Killed reports whether the machine reached its terminal state.
func (m *Machine) Killed() bool { return m.killed }

// Suspended reports whether inbound traffic must be captured.
func (m *Machine) Suspended() bool { return !m.killed && m.task == Suspend }

// Show moves the instance to front. It cancels both timers and resumes a
// suspended task. It returns false when there was nothing to do.
func (m *Machine) Show() bool {
	if m.killed || m.app == Front {
		return false
	}

	m.gen++
	m.stopTimers()
	m.app = Front
	m.metrics.RecordLifecycle("front")

	if m.task == Suspend {
		m.task = Active
		m.metrics.RecordLifecycle("active")
		m.logger.Debug("task resumed")
		if m.hooks.TaskStateChanged != nil {
			m.hooks.TaskStateChanged(Active)
		}
	}

	if m.hooks.Shown != nil {
		m.hooks.Shown()
	}
	return true
}

// Hide moves the instance to back and arms the suspend and kill timers.
func (m *Machine) Hide() bool {
	if m.killed || m.app == Back {
		return false
	}

	m.gen++
	m.stopTimers()
	m.app = Back
	m.metrics.RecordLifecycle("back")

	if m.hooks.Hidden != nil {
		m.hooks.Hidden()
	}

	g := m.gen
	if m.cfg.SuspendDelay >= 0 {
		m.suspendTimer = m.clock.AfterFunc(m.cfg.SuspendDelay, func() {
			m.post(func() { m.suspend(g) })
		})
	}
	if m.cfg.KillDelay > 0 {
		m.killTimer = m.clock.AfterFunc(m.cfg.KillDelay, func() {
			m.post(func() { m.expire(g) })
		})
	}
	return true
}

// Kill moves the machine to its terminal state and cancels timers. It
// returns false if already killed.
func (m *Machine) Kill() bool {
	if m.killed {
		return false
	}
	m.gen++
	m.stopTimers()
	m.killed = true
	m.metrics.RecordLifecycle("killed")
	return true
}

func (m *Machine) suspend(g uint64) {
	if m.killed || g != m.gen || m.app != Back || m.task == Suspend {
		return
	}
	if m.hooks.TaskStateChanged != nil {
		m.hooks.TaskStateChanged(Suspend)
	}
	m.task = Suspend
	m.metrics.RecordLifecycle("suspend")
	m.logger.Debug("task suspended")
}

func (m *Machine) expire(g uint64) {
	if m.killed || g != m.gen || m.app != Back {
		return
	}
	m.logger.Info("background time limit reached")
	if m.hooks.Expired != nil {
		m.hooks.Expired()
	}
}

func (m *Machine) stopTimers() {
	if m.suspendTimer != nil {
		m.suspendTimer.Stop()
		m.suspendTimer = nil
	}
	if m.killTimer != nil {
		m.killTimer.Stop()
		m.killTimer = nil
	}
}
