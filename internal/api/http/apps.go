package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// ListPackages lists installed packages.
func (h *Handlers) ListPackages(c *gin.Context) {
	list, err := h.catalog.List()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": list})
}

// ListApps lists running applications.
func (h *Handlers) ListApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"apps":  h.apps.List(c.Request.Context()),
		"stats": h.apps.Stats(),
	})
}

// InspectApp snapshots one running application.
func (h *Handlers) InspectApp(c *gin.Context) {
	info, err := h.apps.Inspect(c.Request.Context(), c.Param("appId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// LaunchApp starts an application, or shows it if it is running.
func (h *Handlers) LaunchApp(c *gin.Context) {
	var opts app.LaunchOptions
	if err := bindOptional(c, &opts); err != nil {
		h.fail(c, err)
		return
	}
	info, err := h.apps.Launch(c.Request.Context(), c.Param("appId"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// RelaunchApp restarts an application. An empty body reuses the options of
// the running instance.
func (h *Handlers) RelaunchApp(c *gin.Context) {
	var opts app.LaunchOptions
	if err := bindOptional(c, &opts); err != nil {
		h.fail(c, err)
		return
	}
	info, err := h.apps.Relaunch(c.Request.Context(), c.Param("appId"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ShowApp brings an application to the foreground.
func (h *Handlers) ShowApp(c *gin.Context) {
	h.respond(c, h.apps.Show(c.Request.Context(), c.Param("appId")))
}

// HideApp sends an application to the background.
func (h *Handlers) HideApp(c *gin.Context) {
	h.respond(c, h.apps.Hide(c.Request.Context(), c.Param("appId")))
}

// KillApp terminates an application.
func (h *Handlers) KillApp(c *gin.Context) {
	h.respond(c, h.apps.Kill(c.Request.Context(), c.Param("appId")))
}

// NavigateApp runs a host navigation such as the capsule home button.
func (h *Handlers) NavigateApp(c *gin.Context) {
	var req app.NavRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindMalformedInput, "api.navigate", err))
		return
	}
	h.respond(c, h.apps.Navigate(c.Request.Context(), c.Param("appId"), req))
}

type publishRequest struct {
	Key  string `json:"key" binding:"required"`
	Data any    `json:"data"`
}

// PublishEvent publishes a broadcast to one application.
func (h *Handlers) PublishEvent(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindMalformedInput, "api.publish", err))
		return
	}
	h.respond(c, h.apps.Publish(c.Request.Context(), c.Param("appId"), bridge.SubscribeKey(req.Key), req.Data))
}

// BroadcastTheme tells every application the system theme changed.
func (h *Handlers) BroadcastTheme(c *gin.Context) {
	var req bridge.ThemePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindMalformedInput, "api.theme", err))
		return
	}
	if req.Theme != "light" && req.Theme != "dark" {
		h.fail(c, errs.New(errs.KindMalformedInput, "api.theme", "theme must be light or dark"))
		return
	}
	h.respond(c, h.apps.Broadcast(c.Request.Context(), bridge.KeyThemeChange, req))
}

// BroadcastNetwork tells every application the network changed.
func (h *Handlers) BroadcastNetwork(c *gin.Context) {
	var req bridge.NetworkStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindMalformedInput, "api.network", err))
		return
	}
	if req.NetworkType == "" {
		req.NetworkType = "none"
		if req.IsConnected {
			req.NetworkType = "unknown"
		}
	}
	h.respond(c, h.apps.Broadcast(c.Request.Context(), bridge.KeyNetworkStatusChange, req))
}

type queuedEntry struct {
	Kind  string    `json:"kind"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// PendingTasks lists what a suspended application has queued.
func (h *Handlers) PendingTasks(c *gin.Context) {
	inst, ok := h.apps.Get(c.Param("appId"))
	if !ok {
		h.fail(c, errs.New(errs.KindNotFound, "api.queue", "app %s is not running", c.Param("appId")))
		return
	}
	entries, err := inst.Queued(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]queuedEntry, 0, len(entries))
	for _, e := range entries {
		q := queuedEntry{Kind: e.Kind.String(), At: e.At}
		switch {
		case e.Invoke.Event != "":
			q.Event = e.Invoke.Event
		case e.Publish.Event != "":
			q.Event = e.Publish.Event
		default:
			q.Event = e.Frame.Event
		}
		out = append(out, q)
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (h *Handlers) respond(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "app_id": c.Param("appId")})
}
