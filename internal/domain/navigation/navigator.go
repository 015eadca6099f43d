package navigation

import (
	"errors"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// TabItem is one entry of the tab bar.
type TabItem struct {
	Path string
	Text string
}

// Config describes the pages an application declares.
type Config struct {
	Pages              []string
	Tabs               []TabItem
	FirstRenderTimeout time.Duration
	LoadTimeout        time.Duration
}

// Surfaces lends rendering surfaces to pages.
type Surfaces interface {
	Idle() (*surface.Surface, error)
	Push(s *surface.Surface) error
	Lookup(id int) (*surface.Surface, bool)
}

// Emit broadcasts a page event to the application logic.
type Emit func(key bridge.SubscribeKey, data any)

// Navigator owns the page stack of one instance. All methods must run on
// the instance loop; completions are delivered there through post.
type Navigator struct {
	cfg      Config
	clock    clock.Clock
	surfaces Surfaces
	emit     Emit
	post     func(func()) bool
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	seq     id.Sequence
	pages   map[int]*Page
	stack   []int
	tabs    []int
	current int

	busy   string
	closed bool
}

// New creates a navigator with an empty stack.
func New(cfg Config, clk clock.Clock, surfaces Surfaces, emit Emit, post func(func()) bool, logger *zap.Logger) *Navigator {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FirstRenderTimeout <= 0 {
		cfg.FirstRenderTimeout = 100 * time.Millisecond
	}
	for i := range cfg.Pages {
		cfg.Pages[i] = Normalize(cfg.Pages[i])
	}
	for i := range cfg.Tabs {
		cfg.Tabs[i].Path = Normalize(cfg.Tabs[i].Path)
	}
	if emit == nil {
		emit = func(bridge.SubscribeKey, any) {}
	}
	return &Navigator{
		cfg:      cfg,
		clock:    clk,
		surfaces: surfaces,
		emit:     emit,
		post:     post,
		logger:   logger.Named("navigation"),
		pages:    make(map[int]*Page),
		tabs:     make([]int, len(cfg.Tabs)),
	}
}

// WithMetrics attaches a metrics recorder.
func (n *Navigator) WithMetrics(m *monitoring.Metrics) *Navigator {
	n.metrics = m
	return n
}

// begin takes the navigation lock. The returned function releases it and
// forwards the result to done.
func (n *Navigator) begin(op string, done func(error)) (func(error), error) {
	if n.closed {
		return nil, errs.New(errs.KindStateConflict, "navigation."+op, "navigator closed")
	}
	if n.busy != "" {
		return nil, errs.New(errs.KindStateConflict, "navigation."+op, "navigation %s in progress", n.busy)
	}
	n.busy = op
	start := n.clock.Now()
	return func(err error) {
		n.busy = ""
		status := "ok"
		if err != nil {
			status = errs.KindOf(err).String()
		}
		n.metrics.RecordNavigation(op, status, n.clock.Since(start))
		if done != nil {
			done(err)
		}
	}, nil
}

func fail(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

// Busy reports the operation holding the navigation lock, if any.
func (n *Navigator) Busy() string { return n.busy }

// Launch opens the first page. Tab routes select their tab; the empty route
// opens the first tab; registered routes open directly. Anything else falls
// back to the home route.
func (n *Navigator) Launch(raw string, done func(error)) {
	finish, err := n.begin("launch", done)
	if err != nil {
		fail(done, err)
		return
	}
	if len(n.stack) > 0 {
		finish(errs.New(errs.KindStateConflict, "navigation.Launch", "already launched"))
		return
	}

	r, err := ParseURL(raw)
	if err != nil {
		finish(err)
		return
	}
	r.Path = Normalize(r.Path)
	finish = n.thenPrebuild(finish)

	if i := n.tabIndex(r.Path); i >= 0 {
		n.openTab(i, r.Query, finish)
		return
	}
	if r.Path == "" && len(n.cfg.Tabs) > 0 {
		n.openTab(0, r.Query, finish)
		return
	}
	if r.Path != "" && n.registered(r.Path) {
		p := n.newPage(r, -1)
		p.gotoHome = n.needsGotoHome(r.Path)
		n.open(p, finish)
		return
	}

	if r.Path != "" {
		n.logger.Warn("launch route not found, opening home", zap.String("route", r.Path))
	}
	home := n.home()
	if home == "" {
		finish(errs.New(errs.KindNotFound, "navigation.Launch", "no pages declared"))
		return
	}
	if i := n.tabIndex(home); i >= 0 {
		n.openTab(i, r.Query, finish)
		return
	}
	n.open(n.newPage(Route{Path: home, Query: r.Query}, -1), finish)
}

// Push opens a registered non-tab page on top of the stack.
func (n *Navigator) Push(raw string, done func(error)) {
	finish, err := n.begin("navigateTo", done)
	if err != nil {
		fail(done, err)
		return
	}
	r, err := n.target(raw)
	if err != nil {
		finish(err)
		return
	}
	if n.tabIndex(r.Path) >= 0 {
		finish(errs.New(errs.KindStateConflict, "navigation.Push", "cannot navigate to tab bar page"))
		return
	}
	if !n.registered(r.Path) {
		finish(errs.New(errs.KindNotFound, "navigation.Push", "%s is not found", r.Path))
		return
	}

	p := n.newPage(r, -1)
	n.present(p, true, func(err error) {
		if err != nil {
			n.drop(p)
			finish(err)
			return
		}
		n.stack = append(n.stack, p.id)
		n.activate(p)
		finish(nil)
	})
}

// Redirect replaces the current page. From a tab page, all non-tab pages are
// unloaded and the new page becomes the only stack entry; tab pages stay
// alive but hidden.
func (n *Navigator) Redirect(raw string, done func(error)) {
	finish, err := n.begin("redirectTo", done)
	if err != nil {
		fail(done, err)
		return
	}
	r, err := n.target(raw)
	if err != nil {
		finish(err)
		return
	}
	if n.tabIndex(r.Path) >= 0 {
		finish(errs.New(errs.KindStateConflict, "navigation.Redirect", "cannot redirect to tab bar page"))
		return
	}
	if !n.registered(r.Path) {
		finish(errs.New(errs.KindNotFound, "navigation.Redirect", "%s is not found", r.Path))
		return
	}

	p := n.newPage(r, -1)
	old := n.currentPage()
	commit := func() {
		if old != nil && old.tab {
			n.hide(old)
			n.unloadNonTab()
			n.stack = []int{p.id}
		} else {
			if old != nil && len(n.stack) > 0 && n.stack[len(n.stack)-1] == old.id {
				n.stack = n.stack[:len(n.stack)-1]
			}
			n.stack = append(n.stack, p.id)
			if old != nil {
				n.hide(old)
				n.unload(old)
			}
			n.current = 0
		}
		n.activate(p)
		finish(nil)
	}

	n.present(p, true, func(err error) {
		if err == nil {
			commit()
			return
		}
		if old == nil || !exhausted(err) {
			n.drop(p)
			finish(err)
			return
		}
		// at the ceiling the outgoing page hands its surface over
		n.evict(old)
		n.present(p, true, func(err error) {
			if err != nil {
				n.drop(p)
				n.restoreTop()
				finish(err)
				return
			}
			commit()
		})
	})
}

// evict frees the surface of the outgoing page before its replacement is
// presented. Non-tab pages are unloaded; tab pages stay alive without a
// surface and get one again when selected.
func (n *Navigator) evict(old *Page) {
	n.hide(old)
	if old.tab {
		n.releaseSurface(old)
		old.state = PageCreated
		return
	}
	if len(n.stack) > 0 && n.stack[len(n.stack)-1] == old.id {
		n.stack = n.stack[:len(n.stack)-1]
	}
	n.unload(old)
	n.current = 0
}

// restoreTop shows the top of the stack again after a failed replacement.
func (n *Navigator) restoreTop() {
	if n.current != 0 || len(n.stack) == 0 {
		return
	}
	if p := n.pages[n.stack[len(n.stack)-1]]; p != nil && p.presented() {
		n.activate(p)
	}
}

// Pop unloads delta pages from the top of the stack, most recent first, and
// shows the page below them. The root page is never popped.
func (n *Navigator) Pop(delta int, done func(error)) {
	finish, err := n.begin("navigateBack", done)
	if err != nil {
		fail(done, err)
		return
	}
	if delta < 1 {
		delta = 1
	}
	depth := len(n.stack)
	if depth <= 1 {
		finish(nil)
		return
	}
	if delta > depth-1 {
		delta = depth - 1
	}

	top := n.currentPage()
	if top != nil {
		n.hide(top)
	}
	for i := 0; i < delta; i++ {
		pid := n.stack[len(n.stack)-1]
		n.stack = n.stack[:len(n.stack)-1]
		if p := n.pages[pid]; p != nil {
			n.unload(p)
		}
	}
	n.current = 0
	n.activate(n.pages[n.stack[len(n.stack)-1]])
	finish(nil)
}

// ReLaunch unloads every page and opens raw as the only one. The new page is
// presented before the old ones go away, unless the pool is at its ceiling.
func (n *Navigator) ReLaunch(raw string, done func(error)) {
	finish, err := n.begin("reLaunch", done)
	if err != nil {
		fail(done, err)
		return
	}
	r, err := n.target(raw)
	if err != nil {
		finish(err)
		return
	}
	n.relaunch(r, finish)
}

// GotoHome relaunches to the home route.
func (n *Navigator) GotoHome(done func(error)) {
	finish, err := n.begin("gotoHome", done)
	if err != nil {
		fail(done, err)
		return
	}
	home := n.home()
	if home == "" {
		finish(errs.New(errs.KindNotFound, "navigation.GotoHome", "no pages declared"))
		return
	}
	n.relaunch(Route{Path: home}, finish)
}

func (n *Navigator) relaunch(r Route, finish func(error)) {
	finish = n.thenPrebuild(finish)
	tab := n.tabIndex(r.Path)
	if tab < 0 && !n.registered(r.Path) {
		finish(errs.New(errs.KindNotFound, "navigation.ReLaunch", "%s is not found", r.Path))
		return
	}

	p := n.newPage(r, tab)
	if tab < 0 {
		p.gotoHome = n.needsGotoHome(r.Path)
	}
	commit := func() {
		if old := n.currentPage(); old != nil {
			n.hide(old)
		}
		n.current = 0
		n.unloadAllExcept(p.id)
		n.tabs = make([]int, len(n.cfg.Tabs))
		if tab >= 0 {
			n.tabs[tab] = p.id
		}
		n.stack = []int{p.id}
		n.activate(p)
		finish(nil)
	}

	n.present(p, true, func(err error) {
		if err == nil {
			commit()
			return
		}
		if !exhausted(err) || len(n.stack) == 0 {
			n.drop(p)
			finish(err)
			return
		}
		// at the ceiling the old pages go first, newest first, so that
		// their unloads still precede the surface returns
		if old := n.currentPage(); old != nil {
			n.hide(old)
		}
		n.current = 0
		n.unloadAllExcept(p.id)
		n.tabs = make([]int, len(n.cfg.Tabs))
		n.stack = nil
		n.present(p, true, func(err error) {
			if err != nil {
				n.drop(p)
				finish(err)
				return
			}
			commit()
		})
	})
}

// SwitchTab selects the tab whose route is raw.
func (n *Navigator) SwitchTab(raw string, done func(error)) {
	finish, err := n.begin("switchTab", done)
	if err != nil {
		fail(done, err)
		return
	}
	if len(n.cfg.Tabs) == 0 {
		finish(errs.New(errs.KindStateConflict, "navigation.SwitchTab", "tab bar undefined"))
		return
	}
	r, err := n.target(raw)
	if err != nil {
		finish(err)
		return
	}
	i := n.tabIndex(r.Path)
	if i < 0 {
		if n.registered(r.Path) {
			finish(errs.New(errs.KindStateConflict, "navigation.SwitchTab", "%s is not a tab bar page", r.Path))
		} else {
			finish(errs.New(errs.KindNotFound, "navigation.SwitchTab", "%s is not found", r.Path))
		}
		return
	}
	n.selectTab(i, false, finish)
}

// SelectTab selects the tab at index as if the user tapped it.
func (n *Navigator) SelectTab(index int, done func(error)) {
	finish, err := n.begin("tabTap", done)
	if err != nil {
		fail(done, err)
		return
	}
	if index < 0 || index >= len(n.cfg.Tabs) {
		finish(errs.New(errs.KindNotFound, "navigation.SelectTab", "tab %d is not found", index))
		return
	}
	n.selectTab(index, true, finish)
}

func (n *Navigator) selectTab(i int, fromTap bool, finish func(error)) {
	if pid := n.tabs[i]; pid != 0 {
		if p := n.pages[pid]; p != nil && p.presented() {
			n.emit(bridge.KeyPageOnTabItemTap, bridge.TabItemTapPayload{
				PageID:   p.id,
				Index:    i,
				PagePath: p.route.Path,
				Text:     p.tabText,
				FromTap:  fromTap,
			})
		}
		if pid == n.current {
			finish(nil)
			return
		}
	}
	n.openTab(i, nil, finish)
}

// openTab makes tab i the only stack entry, presenting it first if needed.
func (n *Navigator) openTab(i int, query map[string]string, finish func(error)) {
	commit := func(p *Page) {
		if old := n.currentPage(); old != nil && old != p {
			n.hide(old)
		}
		n.current = 0
		n.unloadNonTab()
		n.stack = []int{p.id}
		n.activate(p)
		finish(nil)
	}

	if pid := n.tabs[i]; pid != 0 {
		if p := n.pages[pid]; p != nil && p.presented() {
			commit(p)
			return
		}
	}

	p := n.pages[n.tabs[i]]
	if p == nil {
		p = n.newPage(Route{Path: n.cfg.Tabs[i].Path, Query: query}, i)
		n.tabs[i] = p.id
	}
	n.present(p, true, func(err error) {
		if err == nil {
			commit(p)
			return
		}
		if !exhausted(err) || !n.hasNonTab() {
			finish(err)
			return
		}
		// the pages a tab switch unloads anyway make room first
		if old := n.currentPage(); old != nil {
			n.hide(old)
		}
		n.current = 0
		n.unloadNonTab()
		n.pruneStack()
		n.present(p, true, func(err error) {
			if err != nil {
				n.restoreTop()
				finish(err)
				return
			}
			commit(p)
		})
	})
}

func (n *Navigator) hasNonTab() bool {
	for _, pid := range n.stack {
		if p := n.pages[pid]; p != nil && !p.tab {
			return true
		}
	}
	return false
}

// pruneStack drops stack entries whose pages are gone.
func (n *Navigator) pruneStack() {
	kept := n.stack[:0]
	for _, pid := range n.stack {
		if _, ok := n.pages[pid]; ok {
			kept = append(kept, pid)
		}
	}
	n.stack = kept
}

// thenPrebuild wraps finish so that a successful result also loads the tab
// pages that are not yet presented.
func (n *Navigator) thenPrebuild(finish func(error)) func(error) {
	return func(err error) {
		finish(err)
		if err == nil {
			n.prebuildTabs()
		}
	}
}

// prebuildTabs loads every tab page in the background so that switching tabs
// needs no fresh load. A tab that cannot get a surface now is loaded when
// selected.
func (n *Navigator) prebuildTabs() {
	for i := range n.cfg.Tabs {
		if n.closed {
			return
		}
		p := n.pages[n.tabs[i]]
		if p != nil && p.presented() {
			continue
		}
		if p == nil {
			p = n.newPage(Route{Path: n.cfg.Tabs[i].Path}, i)
			n.tabs[i] = p.id
		}
		n.present(p, true, func(err error) {
			if err != nil {
				n.logger.Debug("tab prebuild deferred", zap.Int("tab", p.tabIndex), zap.Error(err))
			}
		})
	}
}

// open presents p as the root of an empty stack.
func (n *Navigator) open(p *Page, finish func(error)) {
	n.present(p, true, func(err error) {
		if err != nil {
			n.drop(p)
			finish(err)
			return
		}
		n.stack = []int{p.id}
		n.activate(p)
		finish(nil)
	})
}

// HideCurrent hides the visible page when the application goes to the
// background.
func (n *Navigator) HideCurrent() {
	if p := n.currentPage(); p != nil && p.state == PageShown {
		n.hide(p)
	}
}

// ShowCurrent shows the top page when the application returns.
func (n *Navigator) ShowCurrent() {
	if p := n.currentPage(); p != nil && p.state == PageHidden {
		n.show(p)
	}
}

// Teardown unloads every page in reverse creation order and closes the
// navigator.
func (n *Navigator) Teardown() {
	if n.closed {
		return
	}
	n.unloadAllExcept(0)
	n.stack = nil
	n.tabs = make([]int, len(n.cfg.Tabs))
	n.current = 0
	n.busy = ""
	n.closed = true
}

// Current returns the visible page.
func (n *Navigator) Current() (PageInfo, bool) {
	p := n.currentPage()
	if p == nil {
		return PageInfo{}, false
	}
	return p.Info(), true
}

// Depth returns the stack depth.
func (n *Navigator) Depth() int { return len(n.stack) }

// Page returns the page with id pid.
func (n *Navigator) Page(pid int) (PageInfo, bool) {
	p, ok := n.pages[pid]
	if !ok {
		return PageInfo{}, false
	}
	return p.Info(), true
}

// PageForSurface returns the page displayed by surface sid.
func (n *Navigator) PageForSurface(sid int) (PageInfo, bool) {
	for _, p := range n.pages {
		if p.surfaceID == sid {
			return p.Info(), true
		}
	}
	return PageInfo{}, false
}

// Snapshot is a view of the navigator for diagnostics.
type Snapshot struct {
	Stack   []PageInfo `json:"stack"`
	Tabs    []PageInfo `json:"tabs,omitempty"`
	Current int        `json:"current"`
	Busy    string     `json:"busy,omitempty"`
}

// Snapshot returns the stack bottom first and the live tab pages.
func (n *Navigator) Snapshot() Snapshot {
	s := Snapshot{Current: n.current, Busy: n.busy}
	for _, pid := range n.stack {
		if p := n.pages[pid]; p != nil {
			s.Stack = append(s.Stack, p.Info())
		}
	}
	for _, pid := range n.tabs {
		if p := n.pages[pid]; pid != 0 && p != nil {
			s.Tabs = append(s.Tabs, p.Info())
		}
	}
	return s
}

func (n *Navigator) target(raw string) (Route, error) {
	base := ""
	if p := n.currentPage(); p != nil {
		base = p.route.Path
	}
	r, err := ParseURL(Resolve(base, raw))
	if err != nil {
		return Route{}, err
	}
	if r.Path == "" {
		return Route{}, errs.New(errs.KindMalformedInput, "navigation.target", "empty url")
	}
	r.Path = Normalize(r.Path)
	return r, nil
}

func (n *Navigator) newPage(r Route, tab int) *Page {
	p := &Page{id: n.seq.Next(), route: r, tab: tab >= 0, tabIndex: -1}
	if tab >= 0 {
		p.tabIndex = tab
		p.tabText = n.cfg.Tabs[tab].Text
	}
	n.pages[p.id] = p
	return p
}

// drop forgets a page that never made it onto the stack.
func (n *Navigator) drop(p *Page) {
	if p.announced {
		n.emit(bridge.KeyPageOnUnload, n.payload(p))
	}
	n.releaseSurface(p)
	p.state = PageUnloaded
	delete(n.pages, p.id)
}

// unload broadcasts PAGE_ON_UNLOAD and only then returns the surface.
func (n *Navigator) unload(p *Page) {
	if p.state == PageUnloaded {
		return
	}
	if p.announced {
		n.emit(bridge.KeyPageOnUnload, n.payload(p))
	}
	p.state = PageUnloaded
	n.releaseSurface(p)
	delete(n.pages, p.id)
	if p.tab && p.tabIndex >= 0 && p.tabIndex < len(n.tabs) && n.tabs[p.tabIndex] == p.id {
		n.tabs[p.tabIndex] = 0
	}
	if n.current == p.id {
		n.current = 0
	}
}

func (n *Navigator) unloadNonTab() {
	for i := len(n.stack) - 1; i >= 0; i-- {
		if p := n.pages[n.stack[i]]; p != nil && !p.tab {
			n.unload(p)
		}
	}
}

// unloadAllExcept unloads pages newest first.
func (n *Navigator) unloadAllExcept(keep int) {
	ids := make([]int, 0, len(n.pages))
	for pid := range n.pages {
		if pid != keep {
			ids = append(ids, pid)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for _, pid := range ids {
		n.unload(n.pages[pid])
	}
}

func (n *Navigator) activate(p *Page) {
	if prev := n.currentPage(); prev != nil && prev != p && prev.state == PageShown {
		n.hide(prev)
	}
	n.current = p.id
	n.show(p)
}

func (n *Navigator) show(p *Page) {
	p.state = PageShown
	n.emit(bridge.KeyPageOnShow, n.payload(p))
}

func (n *Navigator) hide(p *Page) {
	if p.state != PageShown {
		return
	}
	p.state = PageHidden
	n.emit(bridge.KeyPageOnHide, n.payload(p))
}

func (n *Navigator) currentPage() *Page {
	if n.current == 0 {
		return nil
	}
	return n.pages[n.current]
}

func exhausted(err error) bool {
	return errors.Is(err, surface.ErrPoolExhausted)
}

func (n *Navigator) inStack(pid int) bool {
	for _, s := range n.stack {
		if s == pid {
			return true
		}
	}
	return false
}

func (n *Navigator) payload(p *Page) bridge.PagePayload {
	return bridge.PagePayload{PageID: p.id, Route: p.route.Path, Query: p.route.Query}
}

func (n *Navigator) tabIndex(route string) int {
	for i, t := range n.cfg.Tabs {
		if t.Path == route {
			return i
		}
	}
	return -1
}

func (n *Navigator) registered(route string) bool {
	if n.tabIndex(route) >= 0 {
		return true
	}
	for _, p := range n.cfg.Pages {
		if p == route {
			return true
		}
	}
	return false
}

// home is the first tab, or the first declared page without a tab bar.
func (n *Navigator) home() string {
	if len(n.cfg.Tabs) > 0 {
		return n.cfg.Tabs[0].Path
	}
	if len(n.cfg.Pages) > 0 {
		return n.cfg.Pages[0]
	}
	return ""
}

// needsGotoHome reports whether a root page at route needs a home button.
func (n *Navigator) needsGotoHome(route string) bool {
	if len(n.cfg.Tabs) > 0 {
		return n.tabIndex(route) < 0
	}
	return len(n.cfg.Pages) > 0 && route != n.cfg.Pages[0]
}
