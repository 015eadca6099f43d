package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/loop"
)

// conn is a renderer socket. It implements surface.Transport. Data frames
// are written by the connection's own writer loop, so a slow renderer never
// holds up the instance that sends to it. Control frames go out directly.
type conn struct {
	id           id.ConnectionID
	ws           *websocket.Conn
	writeTimeout time.Duration
	metrics      *monitoring.Metrics
	logger       *zap.Logger

	writer *loop.Loop
	once   sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &conn{
		id:           id.NewConnectionID(),
		ws:           ws,
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
	c.logger = logger.With(zap.String("conn_id", c.id.String()))
	c.writer = loop.New("ws:"+c.id.String(), c.logger)
	return c
}

// Send queues one frame as a text message. Frames leave in order; a failed
// write closes the socket.
func (c *conn) Send(f bridge.Frame) error {
	data, err := bridge.EncodeFrame(f)
	if err != nil {
		return err
	}
	if !c.writer.Post(func() { c.write(f.Type, data) }) {
		return websocket.ErrCloseSent
	}
	return nil
}

// write runs on the writer loop.
func (c *conn) write(kind bridge.FrameType, data []byte) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write failed", zap.String("type", string(kind)), zap.Error(err))
		_ = c.Close()
		return
	}
	c.metrics.RecordWSMessage("out", string(kind))
}

func (c *conn) ping() error {
	if c.writer.Stopped() {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// closeWith sends a close frame before closing.
func (c *conn) closeWith(code int, reason string) {
	if !c.writer.Stopped() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	}
	_ = c.Close()
}

// Close stops the writer and closes the socket; the read loop then ends.
// Frames still queued are dropped.
func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writer.Stop()
		err = c.ws.Close()
	})
	return err
}
