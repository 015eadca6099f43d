package paths

import (
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Env versions an application can be launched in.
const (
	EnvRelease = "release"
	EnvTrial   = "trial"
	EnvDevelop = "develop"
)

// Package file names
const (
	ServiceFile = "app-service.js"
	ConfigBase  = "app"
)

// ConfigExtensions lists manifest formats in lookup order.
var ConfigExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// App resolves paths for one installed application version.
type App struct {
	Root string
	ID   string
	Env  string
}

// AppPath returns paths for an application under root.
func AppPath(root, appID, env string) App {
	if env == "" {
		env = EnvRelease
	}
	return App{Root: root, ID: appID, Env: env}
}

// Dir returns the package directory.
func (a App) Dir() string {
	return filepath.Join(a.Root, a.ID, a.Env)
}

// ConfigCandidates returns the manifest paths to try, in order.
func (a App) ConfigCandidates() []string {
	out := make([]string, len(ConfigExtensions))
	for i, ext := range ConfigExtensions {
		out[i] = filepath.Join(a.Dir(), ConfigBase+ext)
	}
	return out
}

// ServiceFile returns the service bundle path.
func (a App) ServiceFile() string {
	return filepath.Join(a.Dir(), ServiceFile)
}

// Resolve resolves a package-relative source path, refusing to leave the
// package directory.
func (a App) Resolve(src string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(src, "/"))
	full := filepath.Join(a.Dir(), clean)
	if !strings.HasPrefix(full, a.Dir()+string(filepath.Separator)) {
		return "", errs.New(errs.KindMalformedInput, "paths.Resolve", "%s escapes the package", src)
	}
	return full, nil
}

// StorageFile returns the persisted key/value file of an application.
func StorageFile(storageDir, appID, env string) string {
	if env == "" {
		env = EnvRelease
	}
	return filepath.Join(storageDir, appID, env+".json")
}

// ValidEnv reports whether env is a known env version.
func ValidEnv(env string) bool {
	switch env {
	case EnvRelease, EnvTrial, EnvDevelop:
		return true
	}
	return false
}

// ValidateAppID checks if an app ID is valid for path construction
func ValidateAppID(appID string) error {
	if appID == "" {
		return errs.New(errs.KindMalformedInput, "paths.ValidateAppID", "app ID cannot be empty")
	}
	if filepath.IsAbs(appID) {
		return errs.New(errs.KindMalformedInput, "paths.ValidateAppID", "app ID cannot be an absolute path")
	}
	if filepath.Clean(appID) != appID || strings.ContainsAny(appID, `/\`) || appID == ".." {
		return errs.New(errs.KindMalformedInput, "paths.ValidateAppID", "app ID contains invalid path components")
	}
	return nil
}
