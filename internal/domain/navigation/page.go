package navigation

// PageState is where a page is in its life.
type PageState uint8

const (
	PageCreated PageState = iota
	PageAwaitingFirstRender
	PageReady
	PageShown
	PageHidden
	PageUnloaded
)

func (s PageState) String() string {
	switch s {
	case PageAwaitingFirstRender:
		return "awaiting-first-render"
	case PageReady:
		return "ready"
	case PageShown:
		return "shown"
	case PageHidden:
		return "hidden"
	case PageUnloaded:
		return "unloaded"
	}
	return "created"
}

// Page is one screen of an application. Its route never changes.
type Page struct {
	id       int
	route    Route
	tab      bool
	tabIndex int
	tabText  string

	surfaceID int
	state     PageState
	gotoHome  bool
	announced bool
}

func (p *Page) ID() int                  { return p.id }
func (p *Page) Route() string            { return p.route.Path }
func (p *Page) Query() map[string]string { return p.route.Query }
func (p *Page) URL() string              { return p.route.URL() }
func (p *Page) IsTabBarPage() bool       { return p.tab }
func (p *Page) TabIndex() int            { return p.tabIndex }
func (p *Page) SurfaceID() int           { return p.surfaceID }
func (p *Page) State() PageState         { return p.state }
func (p *Page) GotoHomeButton() bool     { return p.gotoHome }

// presented reports whether the page has, or is getting, a surface.
func (p *Page) presented() bool {
	return p.surfaceID != 0
}

// PageInfo is an immutable view of a page.
type PageInfo struct {
	ID             int               `json:"id"`
	Route          string            `json:"route"`
	Query          map[string]string `json:"query,omitempty"`
	TabBarPage     bool              `json:"tab_bar_page"`
	TabIndex       int               `json:"tab_index"`
	SurfaceID      int               `json:"surface_id,omitempty"`
	State          string            `json:"state"`
	GotoHomeButton bool              `json:"goto_home_button"`
}

// Info returns a copy of the page's state.
func (p *Page) Info() PageInfo {
	var q map[string]string
	if len(p.route.Query) > 0 {
		q = make(map[string]string, len(p.route.Query))
		for k, v := range p.route.Query {
			q[k] = v
		}
	}
	return PageInfo{
		ID:             p.id,
		Route:          p.route.Path,
		Query:          q,
		TabBarPage:     p.tab,
		TabIndex:       p.tabIndex,
		SurfaceID:      p.surfaceID,
		State:          p.state.String(),
		GotoHomeButton: p.gotoHome,
	}
}
