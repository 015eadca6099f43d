package app

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/paths"
)

// Manager orchestrates running instances. At most one instance runs per
// application and at most one is focused.
type Manager struct {
	cfg  Config
	deps Deps

	mu        sync.RWMutex
	apps      map[string]*Instance // Protected by mu
	launching map[string]struct{}  // Protected by mu
	focusedID string               // Protected by mu
	closed    bool                 // Protected by mu

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewManager creates a manager. Bundles and Storage must be set.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		apps:      make(map[string]*Instance),
		launching: make(map[string]struct{}),
		logger:    deps.Logger.Named("apps"),
		metrics:   deps.Metrics,
	}
}

// WithMetrics adds metrics tracking to the manager and its instances.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	m.deps.Metrics = metrics
	return m
}

// Launch starts appID and focuses it. A running application is shown
// instead of started twice.
func (m *Manager) Launch(ctx context.Context, appID string, opts LaunchOptions) (Info, error) {
	if err := paths.ValidateAppID(appID); err != nil {
		return Info{}, err
	}
	if opts.EnvVersion == "" {
		opts.EnvVersion = paths.EnvRelease
	}
	if !paths.ValidEnv(opts.EnvVersion) {
		return Info{}, errs.New(errs.KindMalformedInput, "app.Launch", "unknown env version %q", opts.EnvVersion)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Info{}, errs.New(errs.KindStateConflict, "app.Launch", "manager shut down")
	}
	if inst, ok := m.apps[appID]; ok {
		m.mu.Unlock()
		if err := m.focus(ctx, inst); err != nil {
			return Info{}, err
		}
		return m.info(ctx, inst)
	}
	if _, busy := m.launching[appID]; busy {
		m.mu.Unlock()
		return Info{}, errs.New(errs.KindStateConflict, "app.Launch", "app %s is already launching", appID)
	}
	m.launching[appID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.launching, appID)
		m.mu.Unlock()
	}()

	inst, err := m.start(ctx, appID, opts)
	if err != nil {
		m.metrics.RecordLaunch("failed")
		m.logger.Warn("launch failed", zap.String("app_id", appID), zap.Error(err))
		return Info{}, err
	}
	m.metrics.RecordLaunch("ok")
	m.logger.Info("app launched",
		zap.String("app_id", appID),
		zap.String("instance_id", inst.ID().String()),
		zap.String("env", opts.EnvVersion),
	)
	return m.info(ctx, inst)
}

func (m *Manager) start(ctx context.Context, appID string, opts LaunchOptions) (*Instance, error) {
	b, err := m.deps.Bundles.Load(appID, opts.EnvVersion)
	if err != nil {
		return nil, err
	}
	store, err := m.deps.Storage.Open(appID, opts.EnvVersion)
	if err != nil {
		return nil, err
	}

	// the previous foreground application goes to the background first
	prev := m.Focused()
	if prev != nil {
		if err := prev.Hide(ctx); err != nil {
			m.logger.Debug("hiding focused app failed", zap.String("app_id", prev.AppID()), zap.Error(err))
		}
	}

	inst, err := newInstance(m.cfg, m.deps, b, store, opts)
	if err != nil {
		m.restore(ctx, prev)
		return nil, err
	}
	inst.onKilled = m.remove

	m.mu.Lock()
	m.apps[appID] = inst
	m.focusedID = appID
	m.metrics.SetAppsRunning(len(m.apps))
	m.mu.Unlock()

	if err := inst.start(ctx); err != nil {
		killCtx := context.WithoutCancel(ctx)
		if kerr := inst.Kill(killCtx, "launch failed"); kerr != nil {
			m.logger.Warn("cleanup after failed launch", zap.Error(kerr))
		}
		m.restore(killCtx, prev)
		return nil, err
	}
	return inst, nil
}

// restore brings prev back to the foreground after a launch that never
// started, unless something else took focus meanwhile.
func (m *Manager) restore(ctx context.Context, prev *Instance) {
	if prev == nil {
		return
	}
	m.mu.Lock()
	if m.apps[prev.appID] != prev || (m.focusedID != "" && m.focusedID != prev.appID) {
		m.mu.Unlock()
		return
	}
	m.focusedID = prev.appID
	m.mu.Unlock()

	if err := prev.Show(context.WithoutCancel(ctx)); err != nil {
		m.logger.Debug("restoring focused app failed", zap.String("app_id", prev.AppID()), zap.Error(err))
	}
}

// remove runs on the instance loop as its last act. It must not call back
// into the instance.
func (m *Manager) remove(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apps[inst.appID] == inst {
		delete(m.apps, inst.appID)
	}
	if m.focusedID == inst.appID {
		m.focusedID = ""
	}
	m.metrics.SetAppsRunning(len(m.apps))
}

// focus hides the focused instance, if another, and shows inst.
func (m *Manager) focus(ctx context.Context, inst *Instance) error {
	if prev := m.Focused(); prev != nil && prev != inst {
		if err := prev.Hide(ctx); err != nil {
			m.logger.Debug("hiding focused app failed", zap.String("app_id", prev.AppID()), zap.Error(err))
		}
	}
	if err := inst.Show(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.apps[inst.appID] == inst {
		m.focusedID = inst.appID
	}
	m.mu.Unlock()
	return nil
}

// Show focuses a running application.
func (m *Manager) Show(ctx context.Context, appID string) error {
	inst, err := m.lookup(appID)
	if err != nil {
		return err
	}
	return m.focus(ctx, inst)
}

// Hide sends a running application to the background.
func (m *Manager) Hide(ctx context.Context, appID string) error {
	inst, err := m.lookup(appID)
	if err != nil {
		return err
	}
	if err := inst.Hide(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.focusedID == appID {
		m.focusedID = ""
	}
	m.mu.Unlock()
	return nil
}

// Kill terminates a running application.
func (m *Manager) Kill(ctx context.Context, appID string) error {
	inst, err := m.lookup(appID)
	if err != nil {
		return err
	}
	return inst.Kill(ctx, "killed by host")
}

// Relaunch kills appID, if running, and launches it again. Zero options
// reuse the ones the running instance was opened with.
func (m *Manager) Relaunch(ctx context.Context, appID string, opts LaunchOptions) (Info, error) {
	if inst, err := m.lookup(appID); err == nil {
		if opts == (LaunchOptions{}) {
			opts = inst.options
		}
		if err := inst.Kill(ctx, "relaunch"); err != nil {
			return Info{}, err
		}
		select {
		case <-inst.Done():
		case <-ctx.Done():
			return Info{}, errs.Wrap(errs.KindTransport, "app.Relaunch", ctx.Err())
		}
	}
	return m.Launch(ctx, appID, opts)
}

// Navigate runs a host-initiated navigation in a running application.
func (m *Manager) Navigate(ctx context.Context, appID string, req NavRequest) error {
	inst, err := m.lookup(appID)
	if err != nil {
		return err
	}
	return inst.Navigate(ctx, req)
}

// Publish broadcasts key to one running application.
func (m *Manager) Publish(ctx context.Context, appID string, key bridge.SubscribeKey, data any) error {
	inst, err := m.lookup(appID)
	if err != nil {
		return err
	}
	return inst.Publish(ctx, key, data)
}

// Broadcast publishes key to every running application, such as a theme or
// network change. Instances killed meanwhile are skipped.
func (m *Manager) Broadcast(ctx context.Context, key bridge.SubscribeKey, data any) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range m.instances() {
		inst := inst
		g.Go(func() error {
			err := inst.Publish(ctx, key, data)
			if errs.KindOf(err) == errs.KindStateConflict {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Get returns the instance running appID.
func (m *Manager) Get(appID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.apps[appID]
	return inst, ok
}

// Focused returns the foreground instance, if any.
func (m *Manager) Focused() *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.focusedID == "" {
		return nil
	}
	return m.apps[m.focusedID]
}

// Inspect snapshots one running application.
func (m *Manager) Inspect(ctx context.Context, appID string) (Info, error) {
	inst, err := m.lookup(appID)
	if err != nil {
		return Info{}, err
	}
	return m.info(ctx, inst)
}

// List snapshots every running application, ordered by app id.
func (m *Manager) List(ctx context.Context) []Info {
	var out []Info
	for _, inst := range m.instances() {
		info, err := m.info(ctx, inst)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Stats summarizes the registry.
type Stats struct {
	Running   int    `json:"running"`
	Launching int    `json:"launching"`
	Focused   string `json:"focused,omitempty"`
}

// Stats returns registry statistics
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Running: len(m.apps), Launching: len(m.launching), Focused: m.focusedID}
}

// Shutdown kills every running application and refuses new launches.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range m.instances() {
		inst := inst
		g.Go(func() error {
			if err := inst.Kill(ctx, "shutdown"); err != nil {
				return err
			}
			select {
			case <-inst.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	m.logger.Info("apps shut down", zap.Error(err))
	return err
}

func (m *Manager) info(ctx context.Context, inst *Instance) (Info, error) {
	info, err := inst.Info(ctx)
	if err != nil {
		return Info{}, err
	}
	m.mu.RLock()
	info.Focused = m.focusedID == inst.appID
	m.mu.RUnlock()
	return info, nil
}

func (m *Manager) lookup(appID string) (*Instance, error) {
	inst, ok := m.Get(appID)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "app", "app %s is not running", appID)
	}
	return inst, nil
}

func (m *Manager) instances() []*Instance {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.apps))
	for _, inst := range m.apps {
		out = append(out, inst)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].appID < out[j].appID })
	return out
}
