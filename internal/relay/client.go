package relay

import (
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexus-im/chatsync/internal/protocol"
)

// Client is one websocket connection of an authenticated user. The read pump
// feeds the hub; the write pump drains send.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	userID   string
	username string
	send     chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, username string) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		userID:   userID,
		username: username,
		send:     make(chan []byte, hub.settings.SendBuffer),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	settings := c.hub.settings
	c.conn.SetReadLimit(settings.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
		return nil
	})

	for {
		messageType, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Infof("[c]%s read error = %s", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(b)
		if err != nil {
			glog.V(1).Infof("[c]%s bad frame = %s", c.id, err)
			continue
		}
		c.hub.receive(c, env)
	}
}

func (c *Client) writePump() {
	settings := c.hub.settings
	ticker := time.NewTicker(settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if !ok {
				// the hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
