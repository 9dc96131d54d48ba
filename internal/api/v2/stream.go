package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamMaxMsgSize = 1024
	// streamBuffer is the per-client queue; a client that falls further
	// behind loses readings rather than stalling the event bus.
	streamBuffer = 64
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browsers always send Origin on upgrade; tools such as wscat may not.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// ReadingMessage is one reading pushed to stream clients.
type ReadingMessage struct {
	Type     string    `json:"type"`
	DeviceID uint      `json:"device_id"`
	Field    string    `json:"field"`
	OldValue *float64  `json:"old_value"`
	Value    float64   `json:"value"`
	At       time.Time `json:"at"`
}

// initStreamRoutes registers the live device stream.
func (c *Controller) initStreamRoutes() {
	c.Group.GET("/devices/:id/stream", c.StreamDevice)
}

// StreamDevice upgrades to a WebSocket and pushes every reading of one
// device until the client disconnects or the server shuts down.
func (c *Controller) StreamDevice(ctx echo.Context) error {
	device, err := c.loadDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}

	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.logErrorIfEnabled("failed to upgrade stream websocket", logger.Error(err))
		// Upgrade already wrote the HTTP error.
		return nil
	}
	defer func() { _ = conn.Close() }()

	clientID := uuid.NewString()
	log := c.logger.With(logger.String("client_id", clientID), logger.Uint64("device_id", uint64(device.ID)))

	events := make(chan alerting.FieldChanged, streamBuffer)
	subID := c.bus.Subscribe(func(ev alerting.FieldChanged) {
		if ev.DeviceID != device.ID {
			return
		}
		select {
		case events <- ev:
		default:
			log.Debug("stream client lagging, reading dropped")
		}
	})
	defer c.bus.Unsubscribe(subID)
	log.Info("device stream client connected", logger.String("remote_ip", ctx.RealIP()))
	defer log.Info("device stream client disconnected")

	// The read loop only services control frames and detects the close.
	closed := make(chan struct{})
	conn.SetReadLimit(streamMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// This goroutine is the only writer.
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			msg := ReadingMessage{
				Type:     "reading",
				DeviceID: ev.DeviceID,
				Field:    ev.Field,
				OldValue: ev.OldValue,
				Value:    ev.NewValue,
				At:       ev.At,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return nil
		}
	}
}
