package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/app"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/tracing"
)

// Apps finds running instances.
type Apps interface {
	Get(appID string) (*app.Instance, bool)
}

// Config tunes renderer sockets.
type Config struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	MaxFrameSize int64
}

// DefaultConfig returns the socket timeouts used in production.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 50 * time.Second,
		MaxFrameSize: 4 << 20,
	}
}

// Handler accepts renderer connections. Each connection drives one
// rendering surface of a running instance.
type Handler struct {
	apps     Apps
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logger   *zap.Logger
}

// NewHandler creates a renderer socket handler. metrics and tracer may be
// nil.
func NewHandler(apps Apps, cfg Config, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		apps: apps,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.Named("ws"),
	}
}

// Register mounts the renderer endpoint.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/apps/:appId", h.HandleRenderer)
}

// HandleRenderer attaches the connection to surface ?surface=N, or to the
// first surface still waiting for a renderer.
func (h *Handler) HandleRenderer(c *gin.Context) {
	appID := c.Param("appId")
	inst, ok := h.apps.Get(appID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app " + appID + " is not running"})
		return
	}
	want := 0
	if v := c.Query("surface"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "surface must be a non-negative integer"})
			return
		}
		want = n
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	rc := newConn(ws, h.cfg.WriteTimeout, h.metrics, h.logger)
	logger := h.logger.With(
		zap.String("conn_id", rc.id.String()),
		zap.String("app_id", appID),
	)

	ctx := c.Request.Context()
	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "renderer")
		span.SetTag("app_id", appID)
		defer func() {
			span.Finish()
			h.tracer.Submit(span)
		}()
	}

	sid, err := inst.AttachRenderer(ctx, want, rc)
	if err != nil {
		logger.Info("renderer refused", zap.Error(err))
		if span != nil {
			span.SetError(err)
		}
		rc.closeWith(websocket.ClosePolicyViolation, err.Error())
		return
	}
	if span != nil {
		span.SetTag("surface_id", strconv.Itoa(sid))
	}
	logger = logger.With(zap.Int("surface_id", sid))
	logger.Info("renderer connected")

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	defer inst.DetachRenderer(sid, rc)
	defer rc.Close()

	if err := rc.Send(bridge.Frame{Type: bridge.FrameAttached, SurfaceID: sid}); err != nil {
		logger.Debug("attach notice failed", zap.Error(err))
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go h.keepAlive(rc, inst.Done(), stop)

	h.read(rc, logger, func(f bridge.Frame) bool { return inst.Receive(sid, f) })
	logger.Info("renderer disconnected")
}

// read pumps frames into deliver until the socket or the instance closes.
func (h *Handler) read(rc *conn, logger *zap.Logger, deliver func(bridge.Frame) bool) {
	rc.ws.SetReadLimit(h.cfg.MaxFrameSize)
	_ = rc.ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	rc.ws.SetPongHandler(func(string) error {
		return rc.ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := rc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		f, err := bridge.DecodeFrame(data)
		if err != nil {
			h.metrics.RecordWSMessage("in", "malformed")
			logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		h.metrics.RecordWSMessage("in", string(f.Type))
		if !deliver(f) {
			rc.closeWith(websocket.CloseGoingAway, "app exited")
			return
		}
	}
}

// keepAlive pings the renderer and closes the socket when the instance dies.
func (h *Handler) keepAlive(rc *conn, instDone <-chan struct{}, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := rc.ping(); err != nil {
				_ = rc.Close()
				return
			}
		case <-instDone:
			rc.closeWith(websocket.CloseGoingAway, "app exited")
			return
		case <-stop:
			return
		}
	}
}
