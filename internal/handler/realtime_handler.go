package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/dekuworks/runner-alerts/internal/realtime"
)

// RegisterRealtimeRoutes mounts the websocket upgrade for realtime
// subscribers. Clients connect with ?userId= and an optional
// comma-separated ?topics= list; further subscriptions happen over
// control messages on the socket.
func RegisterRealtimeRoutes(router fiber.Router, hub *realtime.Hub) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if strings.TrimSpace(c.Query("userId")) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "userId is required")
		}
		return c.Next()
	})

	router.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		userID := strings.TrimSpace(conn.Query("userId"))
		topics := splitTopics(conn.Query("topics"))
		hub.Serve(userID, topics, conn)
	}))
}

func splitTopics(raw string) []string {
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		if topic := strings.TrimSpace(part); topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}
