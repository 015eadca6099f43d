package storage

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/paths"
)

// Manager hands out one provider per (app id, env version). Providers are
// shared between successive instances of the same app.
type Manager struct {
	dir    string
	limit  int64
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]*Provider
}

// NewManager creates a manager persisting under dir. An empty dir keeps all
// data in memory.
func NewManager(dir string, limit int64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:    dir,
		limit:  limit,
		logger: logger.Named("storage"),
		open:   make(map[string]*Provider),
	}
}

// Open returns the provider for appID in env.
func (m *Manager) Open(appID, env string) (Backend, error) {
	if err := paths.ValidateAppID(appID); err != nil {
		return nil, err
	}
	if env == "" {
		env = paths.EnvRelease
	}
	key := appID + "/" + env

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.open[key]; ok {
		return p, nil
	}

	var p *Provider
	if m.dir == "" {
		p = NewMemory(m.limit)
	} else {
		var err error
		p, err = Open(paths.StorageFile(m.dir, appID, env), m.limit, m.logger.With(zap.String("app_id", appID)))
		if err != nil {
			return nil, err
		}
	}
	m.open[key] = p
	return p, nil
}

// Scopes returns how many scopes are open.
func (m *Manager) Scopes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
