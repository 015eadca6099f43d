package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/batch"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/logic"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/navigation"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/loop"
)

// Instance is one running application. Everything that touches its
// containers, stack or lifecycle runs on its host loop.
type Instance struct {
	id         id.InstanceID
	appID      string
	env        string
	bundle     *bundle.Bundle
	options    LaunchOptions
	launchedAt time.Time

	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	metrics *monitoring.Metrics

	loop    *loop.Loop
	logic   *logic.Context
	bridge  *bridge.Bridge
	machine *lifecycle.Machine
	queue   *lifecycle.Queue
	pool    *surface.Pool
	nav     *navigation.Navigator
	canvas  *batch.Hub

	storage  storage.Backend
	resolver *assets.Resolver
	assets   *assets.AppResolver
	gate     Gate

	surfaceSeq id.Sequence
	renderers  map[int]*surface.Loopback

	keepScreenOn bool
	screenOn     bool

	ctx      context.Context
	cancel   context.CancelFunc
	onKilled func(*Instance)
}

func newInstance(cfg Config, deps Deps, b *bundle.Bundle, store storage.Backend, opts LaunchOptions) (*Instance, error) {
	iid := id.NewInstanceID()
	logger := deps.Logger.With(
		zap.String("app_id", b.App.ID),
		zap.String("instance_id", iid.String()),
	)

	i := &Instance{
		id:         iid,
		appID:      b.App.ID,
		env:        b.App.Env,
		bundle:     b,
		options:    opts,
		launchedAt: deps.Clock.Now(),
		cfg:        cfg,
		clock:      deps.Clock,
		logger:     logger,
		metrics:    deps.Metrics,
		loop:       loop.New("app-"+b.App.ID, logger),
		queue:      lifecycle.NewQueue(),
		storage:    store,
		gate:       deps.Gate,
		renderers:  make(map[int]*surface.Loopback),
	}
	i.ctx, i.cancel = context.WithCancel(context.Background())
	if deps.Assets != nil {
		i.resolver = deps.Assets
		i.assets = deps.Assets.ForApp(i.appID, i.env)
	}

	lc, err := logic.New(i.appID, cfg.Logic, deps.Clock, logic.Hooks{
		Invoke:  i.fromLogicInvoke,
		Publish: i.fromLogicPublish,
		Canvas:  i.enqueueCanvas,
		Storage: i.storageSync,
	}, logger)
	if err != nil {
		i.cancel()
		i.loop.Stop()
		return nil, err
	}
	i.logic = lc

	i.bridge = bridge.New(bridge.Options{
		Post:    func(fn func()) { i.loop.Post(fn) },
		Logic:   bridge.EndpointFunc(i.deliverToLogic),
		Surface: i.surfaceEndpoint,
		Logger:  logger.Named("bridge"),
		Metrics: deps.Metrics,
	}, i.handlers())

	i.machine = lifecycle.New(cfg.Lifecycle, deps.Clock, func(fn func()) { i.loop.Post(fn) }, lifecycle.Hooks{
		Shown:            i.onShown,
		Hidden:           i.onHidden,
		TaskStateChanged: i.onTaskState,
		Expired:          func() { i.kill("background time limit reached") },
	}, logger).WithMetrics(deps.Metrics)

	i.pool = surface.NewPool(cfg.Pool, i.newSurface, logger.Named("pool")).
		WithMetrics(deps.Metrics).
		WithPrepare(i.prepareSurface)

	navCfg := b.Manifest.Navigation()
	navCfg.FirstRenderTimeout = cfg.FirstRenderTimeout
	navCfg.LoadTimeout = cfg.NavigationTimeout
	i.nav = navigation.New(navCfg, deps.Clock, i.pool, i.publish, i.loop.Post, logger).
		WithMetrics(deps.Metrics)

	var resolver batch.Resolver = noImages{}
	if i.assets != nil {
		resolver = i.assets
	}
	i.canvas = batch.NewHub(i.logic.Post, resolver, i.sendCanvas, logger).WithMetrics(deps.Metrics)

	return i, nil
}

// start evaluates the service bundle, then announces the launch and opens
// the first page. On failure the caller kills the instance.
func (i *Instance) start(ctx context.Context) error {
	if _, err := i.logic.Evaluate(ctx, i.bundle.App.ServiceFile(), i.bundle.Service); err != nil {
		return err
	}

	if i.gate != nil && len(i.bundle.Manifest.Permissions) > 0 {
		if err := i.gate.Grant(i.appID, i.bundle.Manifest.Permissions...); err != nil {
			i.logger.Warn("manifest permissions rejected", zap.Error(err))
		}
	}

	return i.await(ctx, func(done func(error)) {
		if err := i.pool.Preload(i.cfg.Preload); err != nil {
			i.logger.Warn("surface preload failed", zap.Error(err))
		}
		i.publish(bridge.KeyOnLaunch, i.options.payload())
		i.machine.Show()
		i.nav.Launch(i.options.Path, done)
	})
}

// ID returns the instance id.
func (i *Instance) ID() id.InstanceID { return i.id }

// AppID returns the application id.
func (i *Instance) AppID() string { return i.appID }

// Done is closed once the instance has been killed.
func (i *Instance) Done() <-chan struct{} { return i.loop.Done() }

// Show brings the instance to the foreground.
func (i *Instance) Show(ctx context.Context) error {
	return i.do(ctx, func() { i.machine.Show() })
}

// Hide sends the instance to the background.
func (i *Instance) Hide(ctx context.Context) error {
	return i.do(ctx, func() { i.machine.Hide() })
}

// Kill tears the instance down. Killing a dead instance is a no-op.
func (i *Instance) Kill(ctx context.Context, reason string) error {
	err := i.loop.Do(ctx, func() { i.kill(reason) })
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

// Publish broadcasts key to the logic context.
func (i *Instance) Publish(ctx context.Context, key bridge.SubscribeKey, data any) error {
	var perr error
	if err := i.do(ctx, func() { perr = i.bridge.Publish(key, data, 0) }); err != nil {
		return err
	}
	return perr
}

// NavOp names a host-initiated navigation.
type NavOp string

const (
	NavNavigateTo   NavOp = "navigateTo"
	NavNavigateBack NavOp = "navigateBack"
	NavRedirectTo   NavOp = "redirectTo"
	NavReLaunch     NavOp = "reLaunch"
	NavSwitchTab    NavOp = "switchTab"
	NavGotoHome     NavOp = "gotoHome"
	NavSelectTab    NavOp = "selectTab"
)

// NavRequest is a navigation issued from outside the application, such as a
// tab bar tap or the home button.
type NavRequest struct {
	Op    NavOp  `json:"op"`
	URL   string `json:"url,omitempty"`
	Delta int    `json:"delta,omitempty"`
	Index int    `json:"index,omitempty"`
}

// Navigate runs req and waits for it to settle.
func (i *Instance) Navigate(ctx context.Context, req NavRequest) error {
	var start func(done func(error))
	switch req.Op {
	case NavNavigateTo:
		start = func(done func(error)) { i.nav.Push(req.URL, done) }
	case NavNavigateBack:
		start = func(done func(error)) { i.nav.Pop(req.Delta, done) }
	case NavRedirectTo:
		start = func(done func(error)) { i.nav.Redirect(req.URL, done) }
	case NavReLaunch:
		start = func(done func(error)) { i.nav.ReLaunch(req.URL, done) }
	case NavSwitchTab:
		start = func(done func(error)) { i.nav.SwitchTab(req.URL, done) }
	case NavGotoHome:
		start = i.nav.GotoHome
	case NavSelectTab:
		start = func(done func(error)) { i.nav.SelectTab(req.Index, done) }
	default:
		return errs.New(errs.KindMalformedInput, "app.Navigate", "unknown navigation %q", req.Op)
	}
	return i.await(ctx, start)
}

// Info is a snapshot of an instance.
type Info struct {
	ID           id.InstanceID       `json:"id"`
	AppID        string              `json:"app_id"`
	Name         string              `json:"name,omitempty"`
	Version      string              `json:"version,omitempty"`
	Env          string              `json:"env"`
	Digest       string              `json:"digest"`
	AppState     string              `json:"app_state"`
	TaskState    string              `json:"task_state"`
	Focused      bool                `json:"focused"`
	KeepScreenOn bool                `json:"keep_screen_on"`
	ScreenOn     bool                `json:"screen_on"`
	Queued       int                 `json:"queued"`
	Pending      int                 `json:"pending_callbacks"`
	Surfaces     surface.Stats       `json:"surfaces"`
	Navigation   navigation.Snapshot `json:"navigation"`
	LaunchedAt   time.Time           `json:"launched_at"`
}

// Info snapshots the instance.
func (i *Instance) Info(ctx context.Context) (Info, error) {
	var info Info
	err := i.do(ctx, func() {
		info = Info{
			ID:           i.id,
			AppID:        i.appID,
			Name:         i.bundle.Manifest.Name,
			Version:      i.bundle.Manifest.Version,
			Env:          i.env,
			Digest:       i.bundle.Digest,
			AppState:     i.machine.AppState().String(),
			TaskState:    i.machine.TaskState().String(),
			KeepScreenOn: i.keepScreenOn,
			ScreenOn:     i.screenOn,
			Queued:       i.queue.Len(),
			Pending:      i.bridge.Pending(),
			Surfaces:     i.pool.Stats(),
			Navigation:   i.nav.Snapshot(),
			LaunchedAt:   i.launchedAt,
		}
	})
	return info, err
}

// Queued returns the messages captured while suspended, oldest first.
func (i *Instance) Queued(ctx context.Context) ([]lifecycle.Entry, error) {
	var out []lifecycle.Entry
	err := i.do(ctx, func() { out = i.queue.Entries() })
	return out, err
}

// do runs fn on the host loop, mapping a stopped loop to a killed instance.
func (i *Instance) do(ctx context.Context, fn func()) error {
	err := i.loop.Do(ctx, fn)
	if errors.Is(err, loop.ErrStopped) {
		return errs.New(errs.KindStateConflict, "app", "instance %s was killed", i.appID)
	}
	if err != nil {
		return errs.Wrap(errs.KindTransport, "app", err)
	}
	return nil
}

// await starts an asynchronous operation on the host loop and waits for its
// completion.
func (i *Instance) await(ctx context.Context, start func(done func(error))) error {
	result := make(chan error, 1)
	if err := i.do(ctx, func() {
		start(func(err error) { result <- err })
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errs.Wrap(errs.KindTransport, "app", ctx.Err())
	case <-i.loop.Done():
		select {
		case err := <-result:
			return err
		default:
		}
		return errs.New(errs.KindStateConflict, "app", "instance %s was killed", i.appID)
	}
}

// publish broadcasts to the logic context from the host loop.
func (i *Instance) publish(key bridge.SubscribeKey, data any) {
	if err := i.bridge.Publish(key, data, 0); err != nil {
		i.logger.Debug("publish failed", zap.String("key", string(key)), zap.Error(err))
	}
}

func (i *Instance) onShown() {
	i.screenOn = i.keepScreenOn
	i.publish(bridge.KeyOnShow, i.options.payload())
	i.nav.ShowCurrent()
	if n := i.queue.Drain(i.replay); n > 0 {
		i.metrics.RecordReplayed(n)
		i.logger.Debug("replayed suspended messages", zap.Int("count", n))
	}
}

func (i *Instance) onHidden() {
	i.screenOn = false
	i.publish(bridge.KeyOnHide, nil)
	i.nav.HideCurrent()
}

func (i *Instance) onTaskState(s lifecycle.TaskState) {
	i.publish(bridge.KeyTaskStateChange, bridge.TaskStatePayload{State: s.String()})
}

// kill runs the teardown sequence on the host loop. Pages unload first and
// the logic context exits once it has seen their unload events. Command
// channels, routing, surfaces and the captured queue follow.
func (i *Instance) kill(reason string) {
	if !i.machine.Kill() {
		return
	}
	i.logger.Info("instance killed", zap.String("reason", reason))
	i.cancel()

	i.nav.Teardown()
	i.logic.ExitAfterPending()
	i.canvas.Close()
	i.bridge.Close()
	i.pool.Clean(func(s *surface.Surface) {
		delete(i.renderers, s.ID())
	})
	if n := i.queue.Discard(); n > 0 {
		i.metrics.RecordDiscarded(n)
		i.logger.Debug("discarded suspended messages", zap.Int("count", n))
	}
	if i.resolver != nil {
		i.resolver.Forget(i.appID)
	}

	if i.onKilled != nil {
		i.onKilled(i)
	}
	i.loop.Stop()
}

// styleScript renders a stylesheet injection for a renderer.
func styleScript(s bundle.Style) string {
	return "__apphost.appendStyle(" + strconv.Quote(s.Path) + ", " + strconv.Quote(s.CSS) + ");"
}

func titleScript(title string) string {
	return "__apphost.setTitle(" + strconv.Quote(title) + ");"
}

type noImages struct{}

func (noImages) ResolveImage(context.Context, string) (string, error) {
	return "", errs.New(errs.KindNotFound, "app", "image resolution unavailable")
}
