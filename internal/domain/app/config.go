package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/logic"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/surface"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
)

// Config holds the runtime settings shared by every instance.
type Config struct {
	Lifecycle lifecycle.Config
	Logic     logic.Config
	Pool      surface.PoolConfig

	// Preload is how many surfaces are created ahead of the first page.
	Preload int

	FirstRenderTimeout time.Duration
	NavigationTimeout  time.Duration

	// Headless backs every surface with an in-process loopback renderer
	// instead of waiting for a remote one to attach.
	Headless bool
}

// DefaultConfig returns the standard runtime settings.
func DefaultConfig() Config {
	return Config{
		Lifecycle:          lifecycle.DefaultConfig(),
		Logic:              logic.DefaultConfig(),
		Pool:               surface.PoolConfig{Ceiling: 5, AutoGenerate: true},
		Preload:            1,
		FirstRenderTimeout: 100 * time.Millisecond,
		NavigationTimeout:  10 * time.Second,
		Headless:           true,
	}
}

// Bundles loads application packages.
type Bundles interface {
	Load(appID, env string) (*bundle.Bundle, error)
}

// Storage opens the storage scope of an application.
type Storage interface {
	Open(appID, env string) (storage.Backend, error)
}

// Gate decides authorization requests.
type Gate interface {
	RequestAuthorization(ctx context.Context, appID, scope string) error
	Grant(appID string, scopes ...string) error
}

// Deps are the collaborators instances are built from. Bundles and Storage
// are required.
type Deps struct {
	Bundles Bundles
	Storage Storage
	Gate    Gate
	Assets  *assets.Resolver
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// LaunchOptions describe how an application is opened.
type LaunchOptions struct {
	Path         string               `json:"path,omitempty"`
	ReferrerInfo *bridge.ReferrerInfo `json:"referrerInfo,omitempty"`
	EnvVersion   string               `json:"envVersion,omitempty"`
}

func (o LaunchOptions) payload() bridge.LaunchPayload {
	return bridge.LaunchPayload{Path: o.Path, ReferrerInfo: o.ReferrerInfo}
}
