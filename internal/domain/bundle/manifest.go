package bundle

import (
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/navigation"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Manifest is an application's app.json (or its YAML/TOML equivalent).
type Manifest struct {
	AppID   string         `json:"appId" yaml:"appId" toml:"appId"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Pages   []PageConfig   `json:"pages" yaml:"pages" toml:"pages"`
	TabBar  *TabBar        `json:"tabBar,omitempty" yaml:"tabBar,omitempty" toml:"tabBar,omitempty"`
	Window  map[string]any `json:"window,omitempty" yaml:"window,omitempty" toml:"window,omitempty"`
	// Permissions lists the authorization scopes granted without prompting.
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty" toml:"permissions,omitempty"`
}

// PageConfig declares one page.
type PageConfig struct {
	Path  string         `json:"path" yaml:"path" toml:"path"`
	Style map[string]any `json:"style,omitempty" yaml:"style,omitempty" toml:"style,omitempty"`
}

// TabBar declares the tab bar.
type TabBar struct {
	Color         string       `json:"color,omitempty" yaml:"color,omitempty" toml:"color,omitempty"`
	SelectedColor string       `json:"selectedColor,omitempty" yaml:"selectedColor,omitempty" toml:"selectedColor,omitempty"`
	List          []TabBarItem `json:"list" yaml:"list" toml:"list"`
}

// TabBarItem is one tab.
type TabBarItem struct {
	Path             string `json:"path" yaml:"path" toml:"path"`
	Text             string `json:"text,omitempty" yaml:"text,omitempty" toml:"text,omitempty"`
	IconPath         string `json:"iconPath,omitempty" yaml:"iconPath,omitempty" toml:"iconPath,omitempty"`
	SelectedIconPath string `json:"selectedIconPath,omitempty" yaml:"selectedIconPath,omitempty" toml:"selectedIconPath,omitempty"`
}

// ParseManifest decodes data according to the extension of name.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		err = sonic.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, errs.New(errs.KindMalformedInput, "bundle.ParseManifest", "unsupported manifest format %q", filepath.Ext(name))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "bundle.ParseManifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the page declarations.
func (m *Manifest) Validate() error {
	if len(m.Pages) == 0 {
		return errs.New(errs.KindMalformedInput, "bundle.Validate", "pages is required")
	}
	seen := make(map[string]bool, len(m.Pages))
	for i, p := range m.Pages {
		if p.Path == "" {
			return errs.New(errs.KindMalformedInput, "bundle.Validate", "pages[%d].path is required", i)
		}
		route := navigation.Normalize(p.Path)
		if seen[route] {
			return errs.New(errs.KindMalformedInput, "bundle.Validate", "page %s declared twice", route)
		}
		seen[route] = true
	}
	if m.TabBar == nil {
		return nil
	}
	for i, item := range m.TabBar.List {
		if !seen[navigation.Normalize(item.Path)] {
			return errs.New(errs.KindMalformedInput, "bundle.Validate", "tabBar.list[%d] %s is not a declared page", i, item.Path)
		}
	}
	return nil
}

// Navigation returns the page set in the form the navigator takes.
func (m *Manifest) Navigation() navigation.Config {
	cfg := navigation.Config{Pages: make([]string, len(m.Pages))}
	for i, p := range m.Pages {
		cfg.Pages[i] = p.Path
	}
	if m.TabBar != nil {
		for _, item := range m.TabBar.List {
			cfg.Tabs = append(cfg.Tabs, navigation.TabItem{Path: item.Path, Text: item.Text})
		}
	}
	return cfg
}
