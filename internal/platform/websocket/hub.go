// Package websocket pushes live board updates to connected clients. Clients
// subscribe to topics and receive every event published to them.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a notification pushed to subscribers of Topic.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher defines the interface for publishing events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// SnapshotFunc builds the current state of a topic. New subscribers receive
// it before any further events.
type SnapshotFunc func(ctx context.Context) (Event, error)

// Client represents a single connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	hub    *Hub
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{} // topic -> set of clients
	all       map[*Client]struct{}
	snapshots map[string]SnapshotFunc
	onDrop    func(topic string)
	closed    bool
	log       zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
		snapshots: make(map[string]SnapshotFunc),
		log:       logger.With().Str("component", "websocket").Logger(),
	}
}

// SetSnapshot registers the snapshot builder for topic.
func (h *Hub) SetSnapshot(topic string, fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[topic] = fn
}

// OnDrop sets a callback run whenever a message is dropped because a
// client's buffer is full.
func (h *Hub) OnDrop(fn func(topic string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Register adds a client to the hub and subscribes it to its initial topics.
// Registering after Close closes the client's Send channel right away.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(client.Send)
		return
	}
	client.hub = h
	client.Topics = dedupe(client.Topics)
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Topics it already has are
// ignored. It returns the topics that were added.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return nil
	}
	have := make(map[string]bool, len(client.Topics))
	for _, t := range client.Topics {
		have[t] = true
	}
	var added []string
	for _, topic := range dedupe(topics) {
		if have[topic] {
			continue
		}
		h.addLocked(topic, client)
		added = append(added, topic)
	}
	client.Topics = append(client.Topics, added...)
	return added
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		removeSet[topic] = struct{}{}
		h.removeLocked(topic, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage handles an inbound ClientMessage. New subscriptions are
// followed by the topic snapshot when one is registered.
func (h *Hub) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.SendSnapshots(ctx, client, h.Subscribe(client, msg.Topics))
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		h.log.Debug().Str("client_id", client.ID).Str("action", msg.Action).Msg("unknown client action")
	}
}

// SendSnapshots sends the current snapshot of each topic to client.
func (h *Hub) SendSnapshots(ctx context.Context, client *Client, topics []string) {
	for _, topic := range topics {
		h.mu.RLock()
		fn := h.snapshots[topic]
		h.mu.RUnlock()
		if fn == nil {
			continue
		}
		evt, err := fn(ctx)
		if err != nil {
			h.log.Warn().Err(err).Str("topic", topic).Msg("build snapshot")
			continue
		}
		if evt.Topic == "" {
			evt.Topic = topic
		}
		data, err := json.Marshal(evt)
		if err != nil {
			h.log.Error().Err(err).Str("topic", topic).Msg("marshal snapshot")
			continue
		}

		h.mu.RLock()
		if _, ok := h.all[client]; ok {
			h.deliverLocked(client, topic, data)
		}
		h.mu.RUnlock()
	}
}

func (h *Hub) deliverLocked(client *Client, topic string, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.log.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping message")
		if h.onDrop != nil {
			h.onDrop(topic)
		}
	}
}

// Broadcast sends an event to all clients subscribed to the given topic.
// Slow clients miss the message rather than block the publisher.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		h.deliverLocked(client, topic, data)
	}
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// Close disconnects every client. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for client := range h.all {
		close(client.Send)
	}
	h.all = make(map[*Client]struct{})
	h.clients = make(map[string]map[*Client]struct{})
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func dedupe(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
