// Package realtime coordinates websocket fanout to connected clients.
// Connections subscribe to topic streams; broadcasts address either a
// whole topic group or a single user's connections.
package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 64
)

// Message is the JSON payload pushed to realtime subscribers.
type Message struct {
	Topic string         `json:"topic,omitempty"`
	Event string         `json:"event"`
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Hub tracks live connections by user and by topic.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[*connection]struct{}
	byTopic map[string]map[*connection]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		byUser:  make(map[string]map[*connection]struct{}),
		byTopic: make(map[string]map[*connection]struct{}),
		logger:  logger,
	}
}

// Serve runs the read/write pumps for one upgraded websocket connection
// until the client disconnects. Initial topics may be empty; clients
// subscribe and unsubscribe with control messages.
func (h *Hub) Serve(userID string, topics []string, ws *websocket.Conn) {
	client := &connection{
		hub:    h,
		ws:     ws,
		userID: userID,
		send:   make(chan Message, sendBufferSize),
		topics: make(map[string]struct{}),
	}

	h.register(client)
	h.subscribe(client, topics)

	go client.writePump()
	client.readPump()
}

// BroadcastToUser delivers a message to every connection the user holds.
// It returns the number of connections reached; zero simply means the
// user is offline.
func (h *Hub) BroadcastToUser(userID string, message Message) int {
	if userID == "" {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.byUser[userID]
	for client := range targets {
		client.enqueue(message)
	}
	return len(targets)
}

// BroadcastToTopic delivers a message to every subscriber of a topic.
func (h *Hub) BroadcastToTopic(topic string, message Message) int {
	topic = normalizeTopic(topic)
	if topic == "" {
		return 0
	}

	message.Topic = topic

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.byTopic[topic]
	for client := range targets {
		client.enqueue(message)
	}
	return len(targets)
}

// ConnectedUsers returns the number of distinct users currently online.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byUser[client.userID] == nil {
		h.byUser[client.userID] = make(map[*connection]struct{})
	}
	h.byUser[client.userID][client] = struct{}{}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range client.topics {
		h.removeFromTopic(client, topic)
	}

	if conns, ok := h.byUser[client.userID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byUser, client.userID)
		}
	}

	close(client.send)
}

func (h *Hub) subscribe(client *connection, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		topic = normalizeTopic(topic)
		if topic == "" || domain.ValidateTopic(topic) != nil {
			continue
		}
		if h.byTopic[topic] == nil {
			h.byTopic[topic] = make(map[*connection]struct{})
		}
		h.byTopic[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
}

func (h *Hub) unsubscribe(client *connection, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		topic = normalizeTopic(topic)
		h.removeFromTopic(client, topic)
		delete(client.topics, topic)
	}
}

// removeFromTopic requires h.mu held.
func (h *Hub) removeFromTopic(client *connection, topic string) {
	if conns, ok := h.byTopic[topic]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byTopic, topic)
		}
	}
}

func normalizeTopic(topic string) string {
	return strings.TrimSpace(topic)
}
