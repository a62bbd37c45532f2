// Package realtime streams store events to websocket clients and across instances
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"dabubble/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// AllTopics subscribes a client to every event
const AllTopics = ""

// Hub keeps the websocket clients by topic. A topic is a channel id or a conversation id.
// Events without a topic go to every client.
type Hub struct {
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	topics map[string]map[*client]struct{}
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		topics: make(map[string]map[*client]struct{}),
	}
}

// Publish broadcasts the event to the clients of its topic
func (h *Hub) Publish(_ context.Context, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.Broadcast(e.ChannelID, payload)
	return nil
}

// Broadcast sends an encoded event. Clients whose buffer is full are dropped.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for t, clients := range h.topics {
		if topic != AllTopics && t != topic && t != AllTopics {
			continue
		}
		for c := range clients {
			select {
			case c.send <- payload:
			default:
				h.logger.Warnf("Dropping slow websocket client on topic %q", t)
				h.removeLocked(c)
			}
		}
	}
}

// Clients returns the number of clients subscribed to topic
func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.topics[c.topic]
	if !ok {
		clients = make(map[*client]struct{})
		h.topics[c.topic] = clients
	}
	clients[c] = struct{}{}
	h.logger.Debugf("Websocket client registered on topic %q (%d clients)", c.topic, len(clients))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
}

// ServeWS upgrades the request and subscribes the connection to the topic query parameter
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("Upgrading websocket connection: %v", err)
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		topic: r.URL.Query().Get("topic"),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}
