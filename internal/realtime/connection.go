package realtime

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type connection struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	send   chan Message
	topics map[string]struct{}
}

// enqueue drops the message when the client's buffer is full rather than
// blocking a broadcast on one slow reader.
func (c *connection) enqueue(message Message) {
	select {
	case c.send <- message:
	default:
		c.hub.logger.Warn("realtime send buffer full, dropping message",
			zap.String("userId", c.userID),
			zap.String("event", message.Event),
		)
	}
}

func (c *connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var control controlMessage
		if err := json.Unmarshal(raw, &control); err != nil {
			continue
		}

		switch control.Action {
		case "subscribe":
			c.hub.subscribe(c, control.Topics)
		case "unsubscribe":
			c.hub.unsubscribe(c, control.Topics)
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
