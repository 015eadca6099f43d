package assets

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/paths"
)

// Config configures a Resolver.
type Config struct {
	// Root is the packages directory.
	Root string
	// BaseURL is where the host serves package files, without trailing slash.
	BaseURL string
	// CacheSize bounds the image info cache.
	CacheSize int
	// Retries, RetryWaitMin and RetryWaitMax shape remote fetch retries.
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout bounds one remote fetch including retries.
	Timeout time.Duration
	// FetchRPS limits remote fetches per second; zero is unlimited.
	FetchRPS float64
	// MaxImageBytes caps how much of an image is read.
	MaxImageBytes int64
}

// DefaultConfig returns the standard settings for packages under root.
func DefaultConfig(root string) Config {
	return Config{
		Root:          root,
		BaseURL:       "/files",
		CacheSize:     512,
		Retries:       3,
		RetryWaitMin:  time.Second,
		RetryWaitMax:  30 * time.Second,
		Timeout:       30 * time.Second,
		MaxImageBytes: 10 << 20,
	}
}

// Asset is a package file ready to be served.
type Asset struct {
	Path string
	MIME string
	Size int64
}

// Resolver resolves sources for every installed app.
type Resolver struct {
	cfg     Config
	logger  *zap.Logger
	fetcher *fetcher
	cache   *lru.Cache[string, ImageInfo]
}

// NewResolver creates a resolver.
func NewResolver(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig(cfg.Root)
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = def.MaxImageBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	cache, err := lru.New[string, ImageInfo](cfg.CacheSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "assets.NewResolver", err)
	}

	logger = logger.Named("assets")
	return &Resolver{
		cfg:     cfg,
		logger:  logger,
		fetcher: newFetcher(cfg, logger),
		cache:   cache,
	}, nil
}

// Remote reports whether src is loaded from the network as is.
func Remote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func passthrough(src string) bool {
	return Remote(src) || strings.HasPrefix(strings.ToLower(src), "data:")
}

// SrcToRealURL turns src into a URL the renderer can load. Remote and data
// URLs are returned unchanged; package paths are served from BaseURL.
func (r *Resolver) SrcToRealURL(appID, env, src string) (string, error) {
	if src == "" {
		return "", errs.New(errs.KindMalformedInput, "assets.SrcToRealURL", "src is required")
	}
	if passthrough(src) {
		return src, nil
	}
	rel, err := r.relative(appID, env, src)
	if err != nil {
		return "", err
	}
	if env == "" {
		env = paths.EnvRelease
	}
	return r.cfg.BaseURL + "/" + url.PathEscape(appID) + "/" + env + "/" + escapePath(rel), nil
}

// Stat locates a package file and detects its content type.
func (r *Resolver) Stat(appID, env, src string) (Asset, error) {
	full, err := r.local(appID, env, src)
	if err != nil {
		return Asset{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Asset{}, errs.New(errs.KindNotFound, "assets.Stat", "%s not found", src)
		}
		return Asset{}, errs.Wrap(errs.KindInternal, "assets.Stat", err)
	}
	if info.IsDir() {
		return Asset{}, errs.New(errs.KindNotFound, "assets.Stat", "%s not found", src)
	}

	mtype, err := mimetype.DetectFile(full)
	if err != nil {
		return Asset{}, errs.Wrap(errs.KindInternal, "assets.Stat", err)
	}
	// text sniffing cannot tell scripts and styles apart
	switch strings.ToLower(filepath.Ext(full)) {
	case ".js":
		return Asset{Path: full, MIME: "text/javascript; charset=utf-8", Size: info.Size()}, nil
	case ".css":
		return Asset{Path: full, MIME: "text/css; charset=utf-8", Size: info.Size()}, nil
	}
	return Asset{Path: full, MIME: mtype.String(), Size: info.Size()}, nil
}

// ForApp binds the resolver to one app.
func (r *Resolver) ForApp(appID, env string) *AppResolver {
	return &AppResolver{r: r, appID: appID, env: env}
}

// CacheLen returns the number of cached image infos.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

// Forget drops cached image infos of appID.
func (r *Resolver) Forget(appID string) {
	prefix := appID + "/"
	for _, k := range r.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			r.cache.Remove(k)
		}
	}
}

func (r *Resolver) relative(appID, env, src string) (string, error) {
	full, err := r.local(appID, env, src)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(paths.AppPath(r.cfg.Root, appID, env).Dir(), full)
	if err != nil {
		return "", errs.Wrap(errs.KindMalformedInput, "assets.relative", err)
	}
	return filepath.ToSlash(rel), nil
}

func (r *Resolver) local(appID, env, src string) (string, error) {
	if err := paths.ValidateAppID(appID); err != nil {
		return "", err
	}
	if env != "" && !paths.ValidEnv(env) {
		return "", errs.New(errs.KindMalformedInput, "assets.local", "unknown env version %q", env)
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	return paths.AppPath(r.cfg.Root, appID, env).Resolve(src)
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
