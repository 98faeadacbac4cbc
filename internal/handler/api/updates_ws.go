package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/usecase"
	xlogger "DeskCast/pkg/logger"
)

// UpdateMessage is one frame on the updates feed.
type UpdateMessage struct {
	Type   string                 `json:"type"`
	Status *models.StatusResponse `json:"status,omitempty"`
	Reload *usecase.ReloadEvent   `json:"reload,omitempty"`
}

// UpdatesHub pushes dataset reloads to websocket clients.
type UpdatesHub struct {
	dataset      *usecase.Dataset
	upgrader     websocket.Upgrader
	logger       *xlogger.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
	clients      atomic.Int64
}

func NewUpdatesHub(dataset *usecase.Dataset, logger *xlogger.Logger) *UpdatesHub {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &UpdatesHub{
		dataset: dataset,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:       logger,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
	}
}

// Clients returns the number of connected clients.
func (h *UpdatesHub) Clients() int64 { return h.clients.Load() }

// Serve upgrades the request and streams a status frame followed by one
// frame per reload until the client goes away.
func (h *UpdatesHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	events, cancel := h.dataset.Subscribe()
	defer cancel()
	h.clients.Add(1)
	defer h.clients.Add(-1)

	ctx := c.Request().Context()
	if st, err := h.dataset.Status(ctx); err == nil {
		if err := h.write(conn, UpdateMessage{Type: "status", Status: &st}); err != nil {
			return nil
		}
	}

	// Drain client frames so close and pong control frames are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.write(conn, UpdateMessage{Type: "reload", Reload: &ev}); err != nil {
				h.logger.Debug("websocket write failed", xlogger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return nil
			}
		}
	}
}

func (h *UpdatesHub) write(conn *websocket.Conn, msg UpdateMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
