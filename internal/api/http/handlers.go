package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/assets"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/permissions"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Apps is the part of the instance manager the control API drives.
type Apps interface {
	Launch(ctx context.Context, appID string, opts app.LaunchOptions) (app.Info, error)
	Relaunch(ctx context.Context, appID string, opts app.LaunchOptions) (app.Info, error)
	Show(ctx context.Context, appID string) error
	Hide(ctx context.Context, appID string) error
	Kill(ctx context.Context, appID string) error
	Navigate(ctx context.Context, appID string, req app.NavRequest) error
	Publish(ctx context.Context, appID string, key bridge.SubscribeKey, data any) error
	Broadcast(ctx context.Context, key bridge.SubscribeKey, data any) error
	Inspect(ctx context.Context, appID string) (app.Info, error)
	List(ctx context.Context) []app.Info
	Get(appID string) (*app.Instance, bool)
	Stats() app.Stats
}

// Catalog lists installed packages.
type Catalog interface {
	List() ([]bundle.Summary, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	apps    Apps
	catalog Catalog
	gate    *permissions.Gate
	assets  *assets.Resolver
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new handler set. gate, resolver and metrics may
// be nil; their endpoints then answer 503 or report nothing.
func NewHandlers(apps Apps, catalog Catalog, gate *permissions.Gate, resolver *assets.Resolver, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		apps:    apps,
		catalog: catalog,
		gate:    gate,
		assets:  resolver,
		metrics: metrics,
		logger:  logger.Named("api"),
	}
}

// Register mounts the control API on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)

	api := r.Group("/api")
	api.GET("/packages", h.ListPackages)

	apps := api.Group("/apps")
	apps.GET("", h.ListApps)
	apps.GET("/:appId", h.InspectApp)
	apps.GET("/:appId/queue", h.PendingTasks)
	apps.POST("/:appId/launch", h.LaunchApp)
	apps.POST("/:appId/relaunch", h.RelaunchApp)
	apps.POST("/:appId/show", h.ShowApp)
	apps.POST("/:appId/hide", h.HideApp)
	apps.POST("/:appId/navigate", h.NavigateApp)
	apps.POST("/:appId/publish", h.PublishEvent)
	apps.DELETE("/:appId", h.KillApp)

	broadcast := api.Group("/broadcast")
	broadcast.POST("/theme", h.BroadcastTheme)
	broadcast.POST("/network", h.BroadcastNetwork)

	perms := api.Group("/permissions")
	perms.GET("/scopes", h.ListScopes)
	perms.GET("/:appId", h.ListPermissions)
	perms.GET("/:appId/audit", h.PermissionAudit)
	perms.POST("/:appId/grant", h.GrantPermissions)
	perms.POST("/:appId/revoke", h.RevokePermissions)
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "apphost",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	assetFetch := "disabled"
	if h.assets != nil {
		state := h.assets.BreakerState()
		assetFetch = state.String()
		if state == resilience.StateOpen {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"apps":        h.apps.Stats(),
		"asset_fetch": assetFetch,
	})
}

// Stats returns the metrics snapshot as JSON.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": h.metrics.Snapshot(),
		"apps":    h.apps.Stats(),
	})
}

// fail answers err with the status matching its kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	})
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindMalformedInput:
		return http.StatusBadRequest
	case errs.KindStateConflict:
		return http.StatusConflict
	case errs.KindResourceExhausted:
		return http.StatusServiceUnavailable
	case errs.KindTransport:
		return http.StatusGatewayTimeout
	case errs.KindDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return errs.Wrap(errs.KindMalformedInput, "api", err)
	}
	return nil
}
