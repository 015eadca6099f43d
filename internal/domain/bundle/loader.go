package bundle

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/paths"
)

// Style is one CSS chunk shipped with a package.
type Style struct {
	Path string
	CSS  string
}

// Bundle is a loaded application package.
type Bundle struct {
	App      paths.App
	Manifest *Manifest
	Service  string
	Styles   []Style
	Digest   string
}

// Loader reads packages from a root directory.
type Loader struct {
	root   string
	logger *zap.Logger
}

// NewLoader creates a loader for packages under root.
func NewLoader(root string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{root: root, logger: logger.Named("bundle")}
}

// Root returns the packages directory.
func (l *Loader) Root() string { return l.root }

// Load reads the manifest, service bundle and style chunks of one app.
func (l *Loader) Load(appID, env string) (*Bundle, error) {
	if err := paths.ValidateAppID(appID); err != nil {
		return nil, err
	}
	if env == "" {
		env = paths.EnvRelease
	}
	if !paths.ValidEnv(env) {
		return nil, errs.New(errs.KindMalformedInput, "bundle.Load", "unknown env version %q", env)
	}

	app := paths.AppPath(l.root, appID, env)
	if _, err := os.Stat(app.Dir()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindNotFound, "bundle.Load", "app %s (%s) is not installed", appID, env)
		}
		return nil, errs.Wrap(errs.KindInternal, "bundle.Load", err)
	}

	manifest, err := l.manifest(app)
	if err != nil {
		return nil, err
	}
	if manifest.AppID != "" && manifest.AppID != appID {
		return nil, errs.New(errs.KindMalformedInput, "bundle.Load", "manifest declares app %s, expected %s", manifest.AppID, appID)
	}
	manifest.AppID = appID

	service, err := os.ReadFile(app.ServiceFile())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindNotFound, "bundle.Load", "%s is missing", paths.ServiceFile)
		}
		return nil, errs.Wrap(errs.KindInternal, "bundle.Load", err)
	}

	styles, err := l.styles(app)
	if err != nil {
		return nil, err
	}

	digest, err := Digest(app.Dir())
	if err != nil {
		return nil, err
	}

	l.logger.Debug("bundle loaded",
		zap.String("app_id", appID),
		zap.String("env", env),
		zap.Int("pages", len(manifest.Pages)),
		zap.Int("styles", len(styles)),
		zap.String("digest", digest),
	)
	return &Bundle{App: app, Manifest: manifest, Service: string(service), Styles: styles, Digest: digest}, nil
}

func (l *Loader) manifest(app paths.App) (*Manifest, error) {
	for _, candidate := range app.ConfigCandidates() {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "bundle.manifest", err)
		}
		return ParseManifest(candidate, data)
	}
	return nil, errs.New(errs.KindNotFound, "bundle.manifest", "app %s has no manifest", app.ID)
}

// styles finds every CSS chunk in the package, sorted by path.
func (l *Loader) styles(app paths.App) ([]Style, error) {
	matches, err := doublestar.Glob(os.DirFS(app.Dir()), "**/*.css")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "bundle.styles", err)
	}
	sort.Strings(matches)

	out := make([]Style, 0, len(matches))
	for _, rel := range matches {
		data, err := os.ReadFile(filepath.Join(app.Dir(), filepath.FromSlash(rel)))
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "bundle.styles", err)
		}
		out = append(out, Style{Path: rel, CSS: string(data)})
	}
	return out, nil
}

// Summary describes an installed application.
type Summary struct {
	AppID   string   `json:"app_id"`
	Name    string   `json:"name,omitempty"`
	Version string   `json:"version,omitempty"`
	Envs    []string `json:"envs"`
}

// List scans the packages directory. Packages whose manifest does not parse
// are logged and skipped.
func (l *Loader) List() ([]Summary, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("packages directory not found", zap.String("dir", l.root))
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "bundle.List", err)
	}

	var (
		out            []Summary
		loaded, failed int
	)
	for _, entry := range entries {
		if !entry.IsDir() || paths.ValidateAppID(entry.Name()) != nil {
			continue
		}
		s := Summary{AppID: entry.Name()}
		for _, env := range []string{paths.EnvRelease, paths.EnvTrial, paths.EnvDevelop} {
			app := paths.AppPath(l.root, entry.Name(), env)
			m, err := l.manifest(app)
			if errs.KindOf(err) == errs.KindNotFound {
				continue
			}
			if err != nil {
				l.logger.Warn("skipping package", zap.String("app_id", entry.Name()), zap.String("env", env), zap.Error(err))
				failed++
				continue
			}
			if s.Name == "" {
				s.Name, s.Version = m.Name, m.Version
			}
			s.Envs = append(s.Envs, env)
			loaded++
		}
		if len(s.Envs) > 0 {
			out = append(out, s)
		}
	}

	l.logger.Info("packages scanned", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return out, nil
}
