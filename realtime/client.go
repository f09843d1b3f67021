package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/upb/secretmanager/models"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client is one authenticated websocket connection
type Client struct {
	ID          string
	Identity    *models.Identity
	UserID      int64
	ConnectedAt time.Time

	conn         *websocket.Conn
	send         chan []byte
	hub          *Hub
	pingInterval time.Duration
	logger       *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, identity *models.Identity, userID int64, sendBuffer int, pingInterval time.Duration, logger *zap.Logger) *Client {
	return &Client{
		ID:           uuid.NewString(),
		Identity:     identity,
		UserID:       userID,
		ConnectedAt:  time.Now().UTC(),
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		hub:          hub,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// readPump keeps the read side alive so pongs and close frames are processed.
// Clients have nothing to say after authenticating, so other frames are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	pongWait := c.pingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("realtime read failed", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump drains the send channel and pings on an interval.
// It ends when the hub closes the channel or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
